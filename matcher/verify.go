package matcher

import (
	"sync"

	"photodelta/imageprocessor"
	"photodelta/logging"
	"photodelta/types"

	"gocv.io/x/gocv"
)

// Descriptor matching and RANSAC constants. The ratio filter keeps only
// distinctive correspondences; the reprojection threshold is in pixels of
// the bounded decode.
const (
	loweRatio         = 0.75
	ransacReprojError = 5.0
	ransacMaxIters    = 2000
	ransacConfidence  = 0.995
	minKeypoints      = 10
)

// FeatureSource provides lazily-computed ORB features for a record.
type FeatureSource interface {
	Features(rec types.ImageRecord) (*imageprocessor.Features, error)
}

// Verifier confirms candidate pairs with descriptor matching and RANSAC
// homography estimation. Features are memoized per path for the run, so an
// image appearing in many candidate pairs is decoded once.
type Verifier struct {
	source     FeatureSource
	minMatches int

	mu   sync.Mutex
	memo map[string]*imageprocessor.Features
}

// NewVerifier wraps a feature source with a run-scoped feature memo.
func NewVerifier(source FeatureSource, minMatches int) *Verifier {
	return &Verifier{
		source:     source,
		minMatches: minMatches,
		memo:       make(map[string]*imageprocessor.Features),
	}
}

// Reset releases all memoized features. The engine resets after each
// directional pass so descriptor memory is bounded by one pass, not the
// whole run.
func (v *Verifier) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, f := range v.memo {
		if f != nil {
			f.Close()
		}
	}
	v.memo = make(map[string]*imageprocessor.Features)
}

// Close releases all memoized descriptor matrices.
func (v *Verifier) Close() {
	v.Reset()
}

// features returns the memoized features for a record. A failed extraction
// is memoized as nil so the decode is not retried per candidate pair.
func (v *Verifier) features(rec types.ImageRecord) *imageprocessor.Features {
	v.mu.Lock()
	if f, ok := v.memo[rec.Path]; ok {
		v.mu.Unlock()
		return f
	}
	v.mu.Unlock()

	f, err := v.source.Features(rec)
	if err != nil {
		logging.Debugf("feature extraction failed for %s: %v", rec.Path, err)
		f = nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if prev, ok := v.memo[rec.Path]; ok {
		// Another worker extracted concurrently; keep the first result.
		if f != nil && f != prev {
			f.Close()
		}
		return prev
	}
	v.memo[rec.Path] = f
	return f
}

// Verify matches descriptors between the pair and, when the good-match
// gate passes, estimates a RANSAC homography and counts inliers. An
// unextractable image or insufficient geometry is a rejection, not an
// error.
func (v *Verifier) Verify(src, dst types.ImageRecord) (goodMatches, inliers int) {
	srcFeat := v.features(src)
	dstFeat := v.features(dst)
	if srcFeat == nil || dstFeat == nil {
		return 0, 0
	}
	if len(srcFeat.Keypoints) < minKeypoints || len(dstFeat.Keypoints) < minKeypoints {
		return 0, 0
	}
	if srcFeat.Descriptors.Empty() || dstFeat.Descriptors.Empty() {
		return 0, 0
	}

	bf := gocv.NewBFMatcherWithParams(gocv.NormHamming, false)
	defer bf.Close()

	knn := bf.KnnMatch(srcFeat.Descriptors, dstFeat.Descriptors, 2)
	good := make([]gocv.DMatch, 0, len(knn))
	for _, pair := range knn {
		if len(pair) != 2 {
			continue
		}
		if pair[0].Distance < loweRatio*pair[1].Distance {
			good = append(good, pair[0])
		}
	}

	// RANSAC is pointless below the match floor.
	if len(good) < v.minMatches {
		return len(good), 0
	}

	srcPts := gocv.NewMatWithSize(len(good), 1, gocv.MatTypeCV64FC2)
	defer srcPts.Close()
	dstPts := gocv.NewMatWithSize(len(good), 1, gocv.MatTypeCV64FC2)
	defer dstPts.Close()
	for i, m := range good {
		kpA := srcFeat.Keypoints[m.QueryIdx]
		kpB := dstFeat.Keypoints[m.TrainIdx]
		srcPts.SetDoubleAt(i, 0, kpA.X)
		srcPts.SetDoubleAt(i, 1, kpA.Y)
		dstPts.SetDoubleAt(i, 0, kpB.X)
		dstPts.SetDoubleAt(i, 1, kpB.Y)
	}

	mask := gocv.NewMat()
	defer mask.Close()
	homography := gocv.FindHomography(srcPts, &dstPts, gocv.HomograpyMethodRANSAC,
		ransacReprojError, &mask, ransacMaxIters, ransacConfidence)
	defer homography.Close()

	if homography.Empty() || mask.Empty() {
		return len(good), 0
	}
	return len(good), gocv.CountNonZero(mask)
}
