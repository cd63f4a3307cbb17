package imageprocessor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestPerceptualHashDeterministic(t *testing.T) {
	img := gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8U)
	defer img.Close()
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetUCharAt(y, x, uint8((x*4+y*2)%256))
		}
	}

	first, err := PerceptualHash(img)
	require.NoError(t, err)
	require.Len(t, first, HashHexLen)

	// Same pixels, same hash, every time.
	second, err := PerceptualHash(img)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	d, err := HammingDistance(first, second)
	require.NoError(t, err)
	assert.Equal(t, 0, d)
}

func TestPerceptualHashRejectsEmptyImage(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()
	_, err := PerceptualHash(empty)
	assert.Error(t, err)
}

func TestHammingDistance(t *testing.T) {
	d, err := HammingDistance("0000000000000000", "0000000000000000")
	require.NoError(t, err)
	assert.Equal(t, 0, d)

	d, err = HammingDistance("0000000000000000", "ffffffffffffffff")
	require.NoError(t, err)
	assert.Equal(t, 64, d)

	d, err = HammingDistance("0000000000000000", "0000000000000001")
	require.NoError(t, err)
	assert.Equal(t, 1, d)

	d, err = HammingDistance("00000000000000f0", "0000000000000000")
	require.NoError(t, err)
	assert.Equal(t, 4, d)
}

func TestHammingDistanceRejectsBadInput(t *testing.T) {
	_, err := HammingDistance("abcd", "0000000000000000")
	assert.Error(t, err)

	_, err = HammingDistance("000000000000000g", "0000000000000000")
	assert.Error(t, err)
}

func TestHashChunks(t *testing.T) {
	chunks := HashChunks("aaaabbbbccccdddd")
	assert.Equal(t, []string{"aaaa", "bbbb", "cccc", "dddd"}, chunks)
}

func TestCalculateMedian(t *testing.T) {
	assert.Equal(t, float32(2), calculateMedian([]float32{3, 1, 2}))
	assert.Equal(t, float32(2.5), calculateMedian([]float32{4, 1, 2, 3}))
	assert.Equal(t, float32(0), calculateMedian(nil))

	// Input must not be reordered.
	values := []float32{3, 1, 2}
	calculateMedian(values)
	assert.Equal(t, []float32{3, 1, 2}, values)
}
