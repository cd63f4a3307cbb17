package imageprocessor

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Features holds the ORB keypoints and descriptors of one decoded image.
// Descriptors own C memory and must be released with Close.
type Features struct {
	Keypoints   []gocv.KeyPoint
	Descriptors gocv.Mat
}

// Close releases the descriptor matrix.
func (f *Features) Close() {
	f.Descriptors.Close()
}

// ExtractFeatures detects up to nfeatures ORB keypoints and computes their
// descriptors. Deterministic for a fixed decoded image and feature budget.
func ExtractFeatures(img gocv.Mat, nfeatures int) (*Features, error) {
	if img.Empty() {
		return nil, fmt.Errorf("cannot extract features from empty image")
	}

	// OpenCV ORB defaults apart from the feature budget.
	orb := gocv.NewORBWithParams(nfeatures, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)
	defer orb.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	keypoints, descriptors := orb.DetectAndCompute(img, mask)
	return &Features{Keypoints: keypoints, Descriptors: descriptors}, nil
}
