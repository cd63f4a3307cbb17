package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"photodelta/config"
	"photodelta/imageprocessor"
	"photodelta/logging"
	"photodelta/matcher"
	"photodelta/report"

	"github.com/spf13/cobra"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	flags := config.Default()

	cmd := &cobra.Command{
		Use:           "photodelta",
		Short:         "Bidirectional visual delta between two photo collections",
		Long: `photodelta fingerprints every image in two collection roots, prefilters
candidate pairs by perceptual-hash proximity, confirms true visual matches
with ORB descriptor matching and RANSAC homography estimation, and reports
the best accepted match per image in each direction plus the images present
in one collection with no counterpart in the other.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, configPath, flags)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.SetA, "set-a", "", "Root of collection A (required)")
	f.StringVar(&flags.SetB, "set-b", "", "Root of collection B (required)")
	f.StringVar(&flags.OutDir, "out-dir", flags.OutDir, "Output directory for reports")
	f.StringVar(&flags.CacheDir, "cache-dir", flags.CacheDir, "Directory for the fingerprint cache")
	f.IntVar(&flags.MaxSide, "max-side", flags.MaxSide, "Decode bound in pixels")
	f.IntVar(&flags.PhashMaxDist, "phash-max-dist", flags.PhashMaxDist, "Max accepted pHash Hamming distance")
	f.IntVar(&flags.MinSharedChunks, "min-shared-chunks", flags.MinSharedChunks, "Min shared hash chunks to become a candidate")
	f.IntVar(&flags.MaxCandidates, "max-candidates", flags.MaxCandidates, "Candidate cap per source image")
	f.IntVar(&flags.OrbNFeatures, "orb-nfeatures", flags.OrbNFeatures, "Max ORB keypoints per image")
	f.IntVar(&flags.OrbMinMatches, "orb-min-matches", flags.OrbMinMatches, "Min good descriptor matches before RANSAC")
	f.IntVar(&flags.OrbMinInliers, "orb-min-inliers", flags.OrbMinInliers, "Min RANSAC inliers to accept a pair")
	f.IntVar(&flags.Workers, "workers", flags.Workers, "Worker pool size")
	f.IntVar(&flags.DecodeTimeoutSeconds, "decode-timeout", flags.DecodeTimeoutSeconds, "Per-image decode timeout in seconds")
	f.BoolVar(&flags.Progress, "progress", flags.Progress, "Show progress on the console")
	f.BoolVar(&flags.Debug, "debug", flags.Debug, "Enable debug logging")
	f.StringVar(&flags.LogFile, "logfile", flags.LogFile, "Debug log file path")
	f.StringVar(&configPath, "config", "", "Optional TOML config file")

	return cmd
}

// resolveConfig layers the configuration: defaults, then the TOML file,
// then any flag the user actually set.
func resolveConfig(cmd *cobra.Command, configPath string, flags config.Config) (config.Config, error) {
	cfg := flags
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
		overlayChangedFlags(cmd, &cfg, flags)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func overlayChangedFlags(cmd *cobra.Command, cfg *config.Config, flags config.Config) {
	set := map[string]func(){
		"set-a":             func() { cfg.SetA = flags.SetA },
		"set-b":             func() { cfg.SetB = flags.SetB },
		"out-dir":           func() { cfg.OutDir = flags.OutDir },
		"cache-dir":         func() { cfg.CacheDir = flags.CacheDir },
		"max-side":          func() { cfg.MaxSide = flags.MaxSide },
		"phash-max-dist":    func() { cfg.PhashMaxDist = flags.PhashMaxDist },
		"min-shared-chunks": func() { cfg.MinSharedChunks = flags.MinSharedChunks },
		"max-candidates":    func() { cfg.MaxCandidates = flags.MaxCandidates },
		"orb-nfeatures":     func() { cfg.OrbNFeatures = flags.OrbNFeatures },
		"orb-min-matches":   func() { cfg.OrbMinMatches = flags.OrbMinMatches },
		"orb-min-inliers":   func() { cfg.OrbMinInliers = flags.OrbMinInliers },
		"workers":           func() { cfg.Workers = flags.Workers },
		"decode-timeout":    func() { cfg.DecodeTimeoutSeconds = flags.DecodeTimeoutSeconds },
		"progress":          func() { cfg.Progress = flags.Progress },
		"debug":             func() { cfg.Debug = flags.Debug },
		"logfile":           func() { cfg.LogFile = flags.LogFile },
	}
	for name, apply := range set {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
}

func run(cfg config.Config) error {
	if cfg.Debug {
		if err := logging.Setup(cfg.LogFile); err != nil {
			fmt.Printf("Warning: failed to set up logging: %v\n", err)
		} else {
			defer logging.Close()
			fmt.Printf("Debug mode enabled. Logging to: %s\n", cfg.LogFile)
		}
	}

	writer, err := report.NewWriter(cfg.OutDir)
	if err != nil {
		return err
	}

	extractor := imageprocessor.NewExtractor(cfg.MaxSide, cfg.OrbNFeatures, cfg.DecodeTimeout())
	verifier := matcher.NewVerifier(extractor, cfg.OrbMinMatches)
	defer verifier.Close()

	engine := matcher.New(cfg, extractor, verifier, writer)

	// SIGINT/SIGTERM abort the whole run; there is no finer-grained
	// cancellation.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startTime := time.Now()
	rep, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Println()
	report.PrintSummary(os.Stdout, rep)
	fmt.Printf("Total execution time: %v\n", time.Since(startTime).Round(time.Millisecond))
	return nil
}
