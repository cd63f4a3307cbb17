package matcher

import (
	"sort"

	"photodelta/imageprocessor"
	"photodelta/types"
)

// SelectorParams bounds candidate generation for one directional pass.
type SelectorParams struct {
	PhashMaxDist    int
	MinSharedChunks int
	MaxCandidates   int
}

// Index is a positional inverted index over the target set's hash chunks:
// one map per chunk position, chunk value -> target ids. Two images share a
// chunk only when the same hash segment matches at the same position.
type Index struct {
	positions []map[string][]int
	hashes    []string
}

// NewIndex builds the chunk index for one target fingerprint set.
// Fingerprint ImageIDs must be the dense scan-order ids of the set.
func NewIndex(fps []types.Fingerprint) *Index {
	nchunks := imageprocessor.HashHexLen / imageprocessor.HashChunkLen
	ix := &Index{
		positions: make([]map[string][]int, nchunks),
	}
	for i := range ix.positions {
		ix.positions[i] = make(map[string][]int)
	}

	byID := make(map[int]string, len(fps))
	maxID := -1
	for _, fp := range fps {
		byID[fp.ImageID] = fp.PerceptualHash
		if fp.ImageID > maxID {
			maxID = fp.ImageID
		}
	}
	ix.hashes = make([]string, maxID+1)
	for id, h := range byID {
		ix.hashes[id] = h
		for pos, chunk := range imageprocessor.HashChunks(h) {
			ix.positions[pos][chunk] = append(ix.positions[pos][chunk], id)
		}
	}
	return ix
}

// Candidates returns the bounded candidate pairs for one source
// fingerprint: gather targets sharing at least MinSharedChunks positional
// chunks, cap at MaxCandidates ranked by shared-chunk count (ties by target
// id), then keep only pairs within PhashMaxDist exact Hamming distance.
func (ix *Index) Candidates(src types.Fingerprint, p SelectorParams) []types.CandidatePair {
	shared := make(map[int]int)
	for pos, chunk := range imageprocessor.HashChunks(src.PerceptualHash) {
		for _, id := range ix.positions[pos][chunk] {
			shared[id]++
		}
	}

	gathered := make([]int, 0, len(shared))
	for id, n := range shared {
		if n >= p.MinSharedChunks {
			gathered = append(gathered, id)
		}
	}
	if len(gathered) == 0 {
		return nil
	}

	sort.Slice(gathered, func(i, j int) bool {
		a, b := gathered[i], gathered[j]
		if shared[a] != shared[b] {
			return shared[a] > shared[b]
		}
		return a < b
	})
	if len(gathered) > p.MaxCandidates {
		gathered = gathered[:p.MaxCandidates]
	}

	// Exact Hamming only on the capped set; this is the expensive half of
	// the two-stage filter.
	pairs := make([]types.CandidatePair, 0, len(gathered))
	for _, id := range gathered {
		dist, err := imageprocessor.HammingDistance(src.PerceptualHash, ix.hashes[id])
		if err != nil {
			continue
		}
		if dist <= p.PhashMaxDist {
			pairs = append(pairs, types.CandidatePair{
				SourceID:     src.ImageID,
				TargetID:     id,
				HashDistance: dist,
			})
		}
	}
	return pairs
}
