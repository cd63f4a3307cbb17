package imageprocessor

import (
	"fmt"
	"image"
	"math/bits"
	"sort"
	"strconv"

	"gocv.io/x/gocv"
)

// HashHexLen is the length of a perceptual hash in hex characters (64 bits).
const HashHexLen = 16

// HashChunkLen is the sub-chunk width used by the candidate prefilter.
// 16 hex characters split into 4 chunks of 4.
const HashChunkLen = 4

// PerceptualHash computes a DCT-based 64-bit perceptual hash for the image
// and returns it as a 16-character hex string. The result depends only on
// the decoded pixels, never on run ordering.
func PerceptualHash(img gocv.Mat) (string, error) {
	if img.Empty() {
		return "", fmt.Errorf("cannot compute hash for empty image")
	}

	// Resize to 32x32 for DCT
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Point{X: 32, Y: 32}, 0, 0, gocv.InterpolationArea)

	gray := gocv.NewMat()
	defer gray.Close()
	if resized.Channels() != 1 {
		gocv.CvtColor(resized, &gray, gocv.ColorBGRToGray)
	} else {
		resized.CopyTo(&gray)
	}

	floatImg := gocv.NewMat()
	defer floatImg.Close()
	gray.ConvertTo(&floatImg, gocv.MatTypeCV32F)

	dct := gocv.NewMat()
	defer dct.Close()
	gocv.DCT(floatImg, &dct, 0)
	if dct.Empty() {
		return "", fmt.Errorf("DCT produced empty result")
	}

	// Low-frequency 8x8 corner carries the visual structure.
	lowFreq := dct.Region(image.Rect(0, 0, 8, 8))
	defer lowFreq.Close()

	values := make([]float32, 64)
	idx := 0
	for y := 0; y < lowFreq.Rows(); y++ {
		for x := 0; x < lowFreq.Cols(); x++ {
			values[idx] = lowFreq.GetFloatAt(y, x)
			idx++
		}
	}
	median := calculateMedian(values)

	var hash uint64
	for y := 0; y < lowFreq.Rows(); y++ {
		for x := 0; x < lowFreq.Cols(); x++ {
			hash <<= 1
			if lowFreq.GetFloatAt(y, x) >= median {
				hash |= 1
			}
		}
	}

	return fmt.Sprintf("%016x", hash), nil
}

// HammingDistance counts differing bits between two hex-encoded hashes.
func HammingDistance(a, b string) (int, error) {
	if len(a) != HashHexLen || len(b) != HashHexLen {
		return 0, fmt.Errorf("hash length mismatch: %d vs %d (want %d)", len(a), len(b), HashHexLen)
	}
	ua, err := strconv.ParseUint(a, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad hash %q: %v", a, err)
	}
	ub, err := strconv.ParseUint(b, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad hash %q: %v", b, err)
	}
	return bits.OnesCount64(ua ^ ub), nil
}

// HashChunks splits a hash into its fixed positional sub-chunks.
func HashChunks(h string) []string {
	chunks := make([]string, 0, len(h)/HashChunkLen)
	for i := 0; i+HashChunkLen <= len(h); i += HashChunkLen {
		chunks = append(chunks, h[i:i+HashChunkLen])
	}
	return chunks
}

// calculateMedian returns the median of a float32 slice without modifying
// the input.
func calculateMedian(values []float32) float32 {
	valuesCopy := make([]float32, len(values))
	copy(valuesCopy, values)

	sort.Slice(valuesCopy, func(i, j int) bool {
		return valuesCopy[i] < valuesCopy[j]
	})

	length := len(valuesCopy)
	if length == 0 {
		return 0
	}
	if length%2 == 0 {
		return (valuesCopy[length/2-1] + valuesCopy[length/2]) / 2
	}
	return valuesCopy[length/2]
}
