package types

import "time"

// ImageRecord identifies one image file discovered under a collection root.
// Records are created at scan time and live for the duration of a run.
type ImageRecord struct {
	ID        int
	Path      string
	Ext       string
	Size      int64
	ModTime   time.Time
	Signature string
}

// Fingerprint is the persisted visual fingerprint of an image at a given
// content signature. The perceptual hash is a 64-bit DCT hash encoded as a
// 16-character hex string. ORB descriptors are computed lazily per run and
// are never persisted alongside the hash.
type Fingerprint struct {
	ImageID        int    `json:"image_id"`
	PerceptualHash string `json:"perceptual_hash"`
}

// CandidatePair is a (source, target) pair that passed hash prefiltering.
// Transient, produced per directional pass.
type CandidatePair struct {
	SourceID     int
	TargetID     int
	HashDistance int
}

// MatchResult is the outcome of verifying one candidate pair.
type MatchResult struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	HashDistance int    `json:"hash_distance"`
	GoodMatches  int    `json:"good_matches"`
	Inliers      int    `json:"inliers"`
	Accepted     bool   `json:"-"`
}

// DirectionReport holds the outcome of one directional pass. Matches are
// ordered by source path, Delta lexically; every successfully fingerprinted
// source appears in exactly one of the two.
type DirectionReport struct {
	Matches   []MatchResult
	Delta     []string
	Scanned   int
	Matched   int
	Unmatched int
	Errored   int
}

// DirectionCounts is the per-direction section of the run summary.
type DirectionCounts struct {
	Scanned   int `json:"scanned"`
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
	Errored   int `json:"errored"`
}

// RunParams echoes the matching parameters a run was invoked with.
type RunParams struct {
	MaxSide         int `json:"max_side"`
	PhashMaxDist    int `json:"phash_max_dist"`
	MinSharedChunks int `json:"min_shared_chunks"`
	MaxCandidates   int `json:"max_candidates"`
	OrbNFeatures    int `json:"orb_nfeatures"`
	OrbMinMatches   int `json:"orb_min_matches"`
	OrbMinInliers   int `json:"orb_min_inliers"`
}

// RunSummary is written once per run next to the match and delta reports.
type RunSummary struct {
	RunID     string                     `json:"run_id"`
	Timestamp string                     `json:"timestamp"`
	SetA      string                     `json:"set_a"`
	SetB      string                     `json:"set_b"`
	Params    RunParams                  `json:"params"`
	Counts    map[string]DirectionCounts `json:"counts"`
	Outputs   map[string]string          `json:"outputs"`
}

// RunReport aggregates both directional passes and the summary. Assembled
// once at the end of a run and never mutated after write.
type RunReport struct {
	AToB    DirectionReport
	BToA    DirectionReport
	Summary RunSummary
}
