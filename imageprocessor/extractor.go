package imageprocessor

import (
	"fmt"
	"time"

	"photodelta/logging"
	"photodelta/types"
)

// Extractor computes perceptual hashes and, on demand, ORB features for
// image records. It decodes each image at most once per operation; the
// fingerprint cache in front of it decides whether a decode happens at all.
type Extractor struct {
	decoder   *Decoder
	nfeatures int
}

// NewExtractor builds an extractor with the given decode bound, feature
// budget and per-image decode timeout.
func NewExtractor(maxSide, nfeatures int, timeout time.Duration) *Extractor {
	return &Extractor{
		decoder:   NewDecoder(maxSide, timeout),
		nfeatures: nfeatures,
	}
}

// Fingerprint decodes the record's image and computes its perceptual hash.
func (e *Extractor) Fingerprint(rec types.ImageRecord) (types.Fingerprint, error) {
	img, err := e.decoder.DecodeGray(rec.Path)
	if err != nil {
		logging.ImageProcessed(rec.Path, false, err.Error())
		return types.Fingerprint{}, err
	}
	defer img.Close()

	hash, err := PerceptualHash(img)
	if err != nil {
		logging.ImageProcessed(rec.Path, false, err.Error())
		return types.Fingerprint{}, fmt.Errorf("cannot compute perceptual hash for %s: %v", rec.Path, err)
	}

	logging.ImageProcessed(rec.Path, true, "")
	return types.Fingerprint{ImageID: rec.ID, PerceptualHash: hash}, nil
}

// Features decodes the record's image and extracts its ORB descriptors.
// Called lazily, only when geometric verification needs the record.
func (e *Extractor) Features(rec types.ImageRecord) (*Features, error) {
	img, err := e.decoder.DecodeGray(rec.Path)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	return ExtractFeatures(img, e.nfeatures)
}
