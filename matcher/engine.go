package matcher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"photodelta/cache"
	"photodelta/config"
	"photodelta/logging"
	"photodelta/report"
	"photodelta/scanner"
	"photodelta/types"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// FingerprintSource computes a fingerprint for a record, typically the
// gocv extractor behind the persistent cache.
type FingerprintSource interface {
	Fingerprint(rec types.ImageRecord) (types.Fingerprint, error)
}

// PairVerifier scores one candidate pair. good counts ratio-filtered
// descriptor matches, inliers the RANSAC-consistent subset (zero when the
// good-match gate fails).
type PairVerifier interface {
	Verify(src, dst types.ImageRecord) (good, inliers int)
}

// Engine orchestrates a full run:
// scan A, scan B, pass A->B, pass B->A, aggregate, write.
// Each directional pass is independent; the two may accept different pairs
// for the same two images.
type Engine struct {
	cfg      config.Config
	source   FingerprintSource
	verifier PairVerifier
	writer   *report.Writer
}

// New assembles an engine from its collaborators.
func New(cfg config.Config, source FingerprintSource, verifier PairVerifier, writer *report.Writer) *Engine {
	return &Engine{cfg: cfg, source: source, verifier: verifier, writer: writer}
}

// Run executes the whole pipeline and writes the reports. A scan or pass
// failure aborts the run; fingerprints cached before the failure stay
// valid, so a retry resumes cheaply.
func (e *Engine) Run(ctx context.Context) (*types.RunReport, error) {
	recsA, err := scanner.Scan(e.cfg.SetA)
	if err != nil {
		return nil, fmt.Errorf("scan set A: %w", err)
	}
	recsB, err := scanner.Scan(e.cfg.SetB)
	if err != nil {
		return nil, fmt.Errorf("scan set B: %w", err)
	}
	if len(recsA) == 0 {
		return nil, fmt.Errorf("set A (%s) contains no supported images", e.cfg.SetA)
	}
	if len(recsB) == 0 {
		return nil, fmt.Errorf("set B (%s) contains no supported images", e.cfg.SetB)
	}
	logging.Infof("comparing %s (%d images) against %s (%d images)",
		e.cfg.SetA, len(recsA), e.cfg.SetB, len(recsB))

	storeA, err := cache.Open(e.cfg.CacheDir, "A")
	if err != nil {
		return nil, err
	}
	defer storeA.Close()
	storeB, err := cache.Open(e.cfg.CacheDir, "B")
	if err != nil {
		return nil, err
	}
	defer storeB.Close()

	pruneStale(storeA, recsA)
	pruneStale(storeB, recsB)

	fpsA, erroredA, err := e.ensureFingerprints(ctx, "Fingerprint A", recsA, storeA)
	if err != nil {
		return nil, err
	}
	fpsB, erroredB, err := e.ensureFingerprints(ctx, "Fingerprint B", recsB, storeB)
	if err != nil {
		return nil, err
	}
	logging.Debugf("fingerprints ready: A %d/%d, B %d/%d",
		len(fpsA), len(recsA), len(fpsB), len(recsB))

	aToB, err := e.pass(ctx, "Match A->B", recsA, fpsA, recsB, fpsB)
	e.resetVerifier()
	if err != nil {
		return nil, fmt.Errorf("pass A->B: %w", err)
	}
	aToB.Scanned = len(recsA)
	aToB.Errored = erroredA

	bToA, err := e.pass(ctx, "Match B->A", recsB, fpsB, recsA, fpsA)
	e.resetVerifier()
	if err != nil {
		return nil, fmt.Errorf("pass B->A: %w", err)
	}
	bToA.Scanned = len(recsB)
	bToA.Errored = erroredB

	rep := &types.RunReport{
		AToB: aToB,
		BToA: bToA,
		Summary: types.RunSummary{
			RunID:     uuid.NewString(),
			Timestamp: time.Now().Format(time.RFC3339),
			SetA:      e.cfg.SetA,
			SetB:      e.cfg.SetB,
			Params: types.RunParams{
				MaxSide:         e.cfg.MaxSide,
				PhashMaxDist:    e.cfg.PhashMaxDist,
				MinSharedChunks: e.cfg.MinSharedChunks,
				MaxCandidates:   e.cfg.MaxCandidates,
				OrbNFeatures:    e.cfg.OrbNFeatures,
				OrbMinMatches:   e.cfg.OrbMinMatches,
				OrbMinInliers:   e.cfg.OrbMinInliers,
			},
			Counts: map[string]types.DirectionCounts{
				"a_to_b": directionCounts(aToB),
				"b_to_a": directionCounts(bToA),
			},
			Outputs: e.writer.Paths(),
		},
	}

	if err := e.writer.Write(rep); err != nil {
		return nil, fmt.Errorf("write reports: %w", err)
	}
	return rep, nil
}

// resetVerifier drops per-pass verifier state, such as the feature memo,
// when the verifier holds any.
func (e *Engine) resetVerifier() {
	if r, ok := e.verifier.(interface{ Reset() }); ok {
		r.Reset()
	}
}

func directionCounts(d types.DirectionReport) types.DirectionCounts {
	return types.DirectionCounts{
		Scanned:   d.Scanned,
		Matched:   d.Matched,
		Unmatched: d.Unmatched,
		Errored:   d.Errored,
	}
}

func pruneStale(store *cache.Store, recs []types.ImageRecord) {
	live := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		live[r.Path] = struct{}{}
	}
	if err := store.Prune(live); err != nil {
		logging.Warnf("cache prune: %v", err)
	}
}

// ensureFingerprints resolves every record through the cache, computing
// misses on the worker pool. Decode failures mark the record errored and
// exclude it from matching and from both delta sets.
func (e *Engine) ensureFingerprints(ctx context.Context, label string, recs []types.ImageRecord, store *cache.Store) ([]types.Fingerprint, int, error) {
	tracker := newProgressTracker(label, len(recs), e.cfg.Progress)
	defer tracker.stop()

	results := make([]*types.Fingerprint, len(recs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for i, rec := range recs {
		i, rec := i, rec
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fp, hit, err := store.GetOrCompute(rec, e.source.Fingerprint)
			if err != nil {
				logging.Errorf("fingerprint %s: %v", rec.Path, err)
				tracker.step(true)
				return nil
			}
			if hit {
				logging.Debugf("cache hit for %s", rec.Path)
			}
			results[i] = &fp
			tracker.step(false)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	fps := make([]types.Fingerprint, 0, len(recs))
	errored := 0
	for _, fp := range results {
		if fp == nil {
			errored++
			continue
		}
		fps = append(fps, *fp)
	}
	return fps, errored, nil
}

// pass runs one direction: candidate selection against the target index,
// geometric verification of each candidate, then best-accepted selection
// per source. Sources with no accepted candidate form the delta set.
func (e *Engine) pass(ctx context.Context, label string, srcRecs []types.ImageRecord, srcFps []types.Fingerprint, dstRecs []types.ImageRecord, dstFps []types.Fingerprint) (types.DirectionReport, error) {
	ix := NewIndex(dstFps)
	params := SelectorParams{
		PhashMaxDist:    e.cfg.PhashMaxDist,
		MinSharedChunks: e.cfg.MinSharedChunks,
		MaxCandidates:   e.cfg.MaxCandidates,
	}

	tracker := newProgressTracker(label, len(srcFps), e.cfg.Progress)
	defer tracker.stop()

	best := make([]*types.MatchResult, len(srcFps))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for i, fp := range srcFps {
		i, fp := i, fp
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			src := srcRecs[fp.ImageID]
			for _, cand := range ix.Candidates(fp, params) {
				dst := dstRecs[cand.TargetID]
				good, inliers := e.verifier.Verify(src, dst)
				if inliers < e.cfg.OrbMinInliers {
					continue
				}
				result := types.MatchResult{
					Source:       src.Path,
					Target:       dst.Path,
					HashDistance: cand.HashDistance,
					GoodMatches:  good,
					Inliers:      inliers,
					Accepted:     true,
				}
				if best[i] == nil || betterMatch(result, *best[i]) {
					best[i] = &result
				}
			}
			tracker.step(false)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return types.DirectionReport{}, err
	}

	var rep types.DirectionReport
	for i, fp := range srcFps {
		if best[i] != nil {
			rep.Matches = append(rep.Matches, *best[i])
		} else {
			rep.Delta = append(rep.Delta, srcRecs[fp.ImageID].Path)
		}
	}

	// Completion order must not leak into the output.
	sort.Slice(rep.Matches, func(i, j int) bool { return rep.Matches[i].Source < rep.Matches[j].Source })
	sort.Strings(rep.Delta)
	rep.Matched = len(rep.Matches)
	rep.Unmatched = len(rep.Delta)
	return rep, nil
}

// betterMatch is the deterministic total order over accepted candidates:
// inliers desc, good matches desc, hash distance asc, target path asc.
func betterMatch(a, b types.MatchResult) bool {
	if a.Inliers != b.Inliers {
		return a.Inliers > b.Inliers
	}
	if a.GoodMatches != b.GoodMatches {
		return a.GoodMatches > b.GoodMatches
	}
	if a.HashDistance != b.HashDistance {
		return a.HashDistance < b.HashDistance
	}
	return a.Target < b.Target
}
