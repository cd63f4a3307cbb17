package matcher

import (
	"testing"

	"photodelta/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(id int, hash string) types.Fingerprint {
	return types.Fingerprint{ImageID: id, PerceptualHash: hash}
}

var selectorDefaults = SelectorParams{
	PhashMaxDist:    10,
	MinSharedChunks: 2,
	MaxCandidates:   30,
}

func TestCandidatesExactAndNearHashes(t *testing.T) {
	targets := []types.Fingerprint{
		fp(0, "aaaabbbbccccdddd"), // identical: 4 shared chunks, dist 0
		fp(1, "aaaabbbbccccddd5"), // 3 shared chunks, dist 2
		fp(2, "aaaabbbb00000000"), // 2 shared chunks, dist 20 -> Hamming reject
		fp(3, "aaaa000000000000"), // 1 shared chunk -> not gathered
	}
	ix := NewIndex(targets)

	pairs := ix.Candidates(fp(7, "aaaabbbbccccdddd"), selectorDefaults)
	require.Len(t, pairs, 2)

	assert.Equal(t, 0, pairs[0].TargetID)
	assert.Equal(t, 0, pairs[0].HashDistance)
	assert.Equal(t, 7, pairs[0].SourceID)

	assert.Equal(t, 1, pairs[1].TargetID)
	assert.Equal(t, 2, pairs[1].HashDistance)
}

func TestCandidatesChunksArePositional(t *testing.T) {
	// Same chunk values in rotated positions must not count as shared.
	targets := []types.Fingerprint{fp(0, "ddddaaaabbbbcccc")}
	ix := NewIndex(targets)

	pairs := ix.Candidates(fp(1, "aaaabbbbccccdddd"), selectorDefaults)
	assert.Empty(t, pairs)
}

func TestCandidatesCapRanksBySharedChunksThenID(t *testing.T) {
	targets := []types.Fingerprint{
		fp(0, "aaaabbbbcccc0000"), // 3 shared
		fp(1, "aaaabbbbccccdddd"), // 4 shared
		fp(2, "aaaabbbbccccdddd"), // 4 shared
		fp(3, "aaaabbbb0000dddd"), // 3 shared
	}
	ix := NewIndex(targets)

	params := selectorDefaults
	params.PhashMaxDist = 64
	params.MaxCandidates = 3

	pairs := ix.Candidates(fp(9, "aaaabbbbccccdddd"), params)
	require.Len(t, pairs, 3)

	// 4-shared targets first (id order), then the lowest-id 3-shared one.
	assert.Equal(t, 1, pairs[0].TargetID)
	assert.Equal(t, 2, pairs[1].TargetID)
	assert.Equal(t, 0, pairs[2].TargetID)
}

func TestCandidatesMinSharedChunks(t *testing.T) {
	targets := []types.Fingerprint{
		fp(0, "aaaabbbb00000000"), // shares 2 chunks
	}
	ix := NewIndex(targets)

	params := selectorDefaults
	params.PhashMaxDist = 64
	params.MinSharedChunks = 3

	assert.Empty(t, ix.Candidates(fp(1, "aaaabbbbccccdddd"), params))

	params.MinSharedChunks = 2
	assert.Len(t, ix.Candidates(fp(1, "aaaabbbbccccdddd"), params), 1)
}

func TestCandidatesEmptyTargetSet(t *testing.T) {
	ix := NewIndex(nil)
	assert.Empty(t, ix.Candidates(fp(0, "aaaabbbbccccdddd"), selectorDefaults))
}

func TestBetterMatchTotalOrder(t *testing.T) {
	base := types.MatchResult{Target: "b.jpg", HashDistance: 5, GoodMatches: 50, Inliers: 20}

	moreInliers := base
	moreInliers.Inliers = 21
	assert.True(t, betterMatch(moreInliers, base))
	assert.False(t, betterMatch(base, moreInliers))

	moreGood := base
	moreGood.GoodMatches = 51
	assert.True(t, betterMatch(moreGood, base))

	closerHash := base
	closerHash.HashDistance = 4
	assert.True(t, betterMatch(closerHash, base))

	// Full tie: lexically smaller target path wins.
	smallerPath := base
	smallerPath.Target = "a.jpg"
	assert.True(t, betterMatch(smallerPath, base))
	assert.False(t, betterMatch(base, smallerPath))
}
