package matcher

import (
	"errors"
	"sync"
	"testing"

	"photodelta/imageprocessor"
	"photodelta/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// stubFeatureSource builds synthetic features on demand, so reset tests
// can re-extract after memoized Mats were closed.
type stubFeatureSource struct {
	mu    sync.Mutex
	build map[string]func() *imageprocessor.Features
	calls int
}

func (s *stubFeatureSource) Features(rec types.ImageRecord) (*imageprocessor.Features, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	b, ok := s.build[rec.Path]
	if !ok {
		return nil, errors.New("no features")
	}
	return b(), nil
}

func (s *stubFeatureSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// descRow is a 32-byte ORB-shaped descriptor with a high population count,
// far in Hamming distance from the zero descriptor and from other seeds.
func descRow(seed int) []byte {
	row := make([]byte, 32)
	for k := range row {
		row[k] = byte(seed*17 + k)
	}
	return row
}

// zeroRowWith is the zero descriptor with one nibble set, 4 bits from zero.
func zeroRowWith(pos int, v byte) []byte {
	row := make([]byte, 32)
	row[pos] = v
	return row
}

func buildFeatures(kps []gocv.KeyPoint, rows [][]byte) *imageprocessor.Features {
	desc := gocv.NewMatWithSize(len(rows), 32, gocv.MatTypeCV8U)
	for r, row := range rows {
		for c, v := range row {
			desc.SetUCharAt(r, c, v)
		}
	}
	return &imageprocessor.Features{Keypoints: kps, Descriptors: desc}
}

// Non-collinear correspondence positions; identity mapping between the
// two images, so every ratio-filtered match is a RANSAC inlier.
var matchedPositions = [][2]float64{{10, 10}, {100, 10}, {10, 100}, {100, 100}, {55, 30}}

// pairFeatures builds a source/target feature pair with exactly `matched`
// ratio-passing descriptor matches out of 12 keypoints per image. The
// remaining source descriptors are zero and see two equidistant target
// descriptors, so the ratio test rejects them.
func pairFeatures(matched int) (src, dst func() *imageprocessor.Features) {
	const n = 12

	src = func() *imageprocessor.Features {
		kps := make([]gocv.KeyPoint, 0, n)
		rows := make([][]byte, 0, n)
		for i := 0; i < n; i++ {
			if i < matched {
				kps = append(kps, gocv.KeyPoint{X: matchedPositions[i][0], Y: matchedPositions[i][1], Size: 7})
				rows = append(rows, descRow(i+1))
			} else {
				kps = append(kps, gocv.KeyPoint{X: float64(5 + i), Y: 200, Size: 7})
				rows = append(rows, make([]byte, 32))
			}
		}
		return buildFeatures(kps, rows)
	}

	dst = func() *imageprocessor.Features {
		kps := make([]gocv.KeyPoint, 0, n)
		rows := make([][]byte, 0, n)
		for i := 0; i < matched; i++ {
			kps = append(kps, gocv.KeyPoint{X: matchedPositions[i][0], Y: matchedPositions[i][1], Size: 7})
			rows = append(rows, descRow(i+1))
		}
		rows = append(rows, zeroRowWith(0, 0x0F), zeroRowWith(31, 0xF0))
		for len(rows) < n {
			rows = append(rows, descRow(20+len(rows)))
		}
		for i := matched; i < n; i++ {
			kps = append(kps, gocv.KeyPoint{X: float64(5 + i), Y: 220, Size: 7})
		}
		return buildFeatures(kps, rows)
	}
	return src, dst
}

func TestVerifyGoodMatchGateBoundary(t *testing.T) {
	const minMatches = 5
	srcRec := types.ImageRecord{Path: "/a/src.jpg"}
	dstRec := types.ImageRecord{Path: "/b/dst.jpg"}

	run := func(matched int) (int, int) {
		srcBuild, dstBuild := pairFeatures(matched)
		source := &stubFeatureSource{build: map[string]func() *imageprocessor.Features{
			srcRec.Path: srcBuild,
			dstRec.Path: dstBuild,
		}}
		v := NewVerifier(source, minMatches)
		defer v.Close()
		return v.Verify(srcRec, dstRec)
	}

	// Exactly at the gate: homography is estimated and every exact
	// correspondence is an inlier.
	good, inliers := run(minMatches)
	assert.Equal(t, minMatches, good)
	assert.Equal(t, minMatches, inliers)

	// One below the gate: no homography attempt, zero inliers reported.
	good, inliers = run(minMatches - 1)
	assert.Equal(t, minMatches-1, good)
	assert.Equal(t, 0, inliers)
}

func TestVerifierMemoizesFeatures(t *testing.T) {
	srcRec := types.ImageRecord{Path: "/a/src.jpg"}
	dstRec := types.ImageRecord{Path: "/b/dst.jpg"}
	srcBuild, dstBuild := pairFeatures(5)
	source := &stubFeatureSource{build: map[string]func() *imageprocessor.Features{
		srcRec.Path: srcBuild,
		dstRec.Path: dstBuild,
	}}

	v := NewVerifier(source, 5)
	defer v.Close()

	v.Verify(srcRec, dstRec)
	v.Verify(srcRec, dstRec)
	assert.Equal(t, 2, source.callCount(), "one extraction per image")

	v.Reset()
	v.Verify(srcRec, dstRec)
	assert.Equal(t, 4, source.callCount(), "reset forces re-extraction")
}

func TestVerifierMemoizesFailedExtraction(t *testing.T) {
	srcRec := types.ImageRecord{Path: "/a/src.jpg"}
	dstRec := types.ImageRecord{Path: "/b/missing.jpg"}
	srcBuild, _ := pairFeatures(5)
	source := &stubFeatureSource{build: map[string]func() *imageprocessor.Features{
		srcRec.Path: srcBuild,
	}}

	v := NewVerifier(source, 5)
	defer v.Close()

	good, inliers := v.Verify(srcRec, dstRec)
	assert.Equal(t, 0, good)
	assert.Equal(t, 0, inliers)

	v.Verify(srcRec, dstRec)
	require.Equal(t, 2, source.callCount(), "failure memoized, not retried")
}
