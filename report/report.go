// Package report serializes run results to the output directory. Every
// artifact is written to a temp file and atomically renamed, so a crashed
// run leaves either no report or a complete one.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"photodelta/types"

	"github.com/jedib0t/go-pretty/v6/table"
)

const (
	matchesFile = "matches.json"
	aMinusBFile = "a_minus_b.json"
	bMinusAFile = "b_minus_a.json"
	summaryFile = "summary.json"
)

// Writer writes the four report artifacts under OutDir.
type Writer struct {
	OutDir string
}

// NewWriter validates that the output directory can be created and returns
// a writer for it. An unwritable output directory is a run-level failure.
func NewWriter(outDir string) (*Writer, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create output directory %s: %v", outDir, err)
	}
	probe := filepath.Join(outDir, ".write_probe")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return nil, fmt.Errorf("output directory %s is not writable: %v", outDir, err)
	}
	os.Remove(probe)
	return &Writer{OutDir: outDir}, nil
}

// Paths returns the artifact locations keyed by artifact name.
func (w *Writer) Paths() map[string]string {
	return map[string]string{
		"matches":   filepath.Join(w.OutDir, matchesFile),
		"a_minus_b": filepath.Join(w.OutDir, aMinusBFile),
		"b_minus_a": filepath.Join(w.OutDir, bMinusAFile),
		"summary":   filepath.Join(w.OutDir, summaryFile),
	}
}

// matchesDocument is the shape of matches.json: accepted results only, one
// ordered sequence per direction.
type matchesDocument struct {
	AToB []types.MatchResult `json:"A_to_B"`
	BToA []types.MatchResult `json:"B_to_A"`
}

// Write serializes all four artifacts.
func (w *Writer) Write(rep *types.RunReport) error {
	matches := matchesDocument{
		AToB: acceptedOnly(rep.AToB.Matches),
		BToA: acceptedOnly(rep.BToA.Matches),
	}
	if err := w.writeJSON(matchesFile, matches); err != nil {
		return err
	}
	if err := w.writeJSON(aMinusBFile, emptyAsList(rep.AToB.Delta)); err != nil {
		return err
	}
	if err := w.writeJSON(bMinusAFile, emptyAsList(rep.BToA.Delta)); err != nil {
		return err
	}
	return w.writeJSON(summaryFile, rep.Summary)
}

func acceptedOnly(results []types.MatchResult) []types.MatchResult {
	out := make([]types.MatchResult, 0, len(results))
	for _, r := range results {
		if r.Accepted {
			out = append(out, r)
		}
	}
	return out
}

func emptyAsList(paths []string) []string {
	if paths == nil {
		return []string{}
	}
	return paths
}

// writeJSON publishes one artifact with write-then-rename semantics.
func (w *Writer) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %v", name, err)
	}
	data = append(data, '\n')

	final := filepath.Join(w.OutDir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %v", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish %s: %v", final, err)
	}
	return nil
}

// PrintSummary renders the per-direction counts and artifact paths to the
// console.
func PrintSummary(out io.Writer, rep *types.RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Direction", "Scanned", "Matched", "Unmatched", "Errored"})
	t.AppendRow(table.Row{"A -> B", rep.AToB.Scanned, rep.AToB.Matched, rep.AToB.Unmatched, rep.AToB.Errored})
	t.AppendRow(table.Row{"B -> A", rep.BToA.Scanned, rep.BToA.Matched, rep.BToA.Unmatched, rep.BToA.Errored})
	t.Render()

	fmt.Fprintf(out, "A \\ B: %d  -> %s\n", rep.AToB.Unmatched, rep.Summary.Outputs["a_minus_b"])
	fmt.Fprintf(out, "B \\ A: %d  -> %s\n", rep.BToA.Unmatched, rep.Summary.Outputs["b_minus_a"])
	fmt.Fprintf(out, "Matches: %s\n", rep.Summary.Outputs["matches"])
	fmt.Fprintf(out, "Summary: %s\n", rep.Summary.Outputs["summary"])
}
