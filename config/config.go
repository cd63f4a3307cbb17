package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the immutable run configuration. It is resolved once at startup
// (defaults, then optional TOML file, then CLI flags) and passed by value to
// every component.
type Config struct {
	SetA     string `toml:"set_a"`
	SetB     string `toml:"set_b"`
	OutDir   string `toml:"out_dir"`
	CacheDir string `toml:"cache_dir"`

	MaxSide         int `toml:"max_side"`
	PhashMaxDist    int `toml:"phash_max_dist"`
	MinSharedChunks int `toml:"min_shared_chunks"`
	MaxCandidates   int `toml:"max_candidates"`
	OrbNFeatures    int `toml:"orb_nfeatures"`
	OrbMinMatches   int `toml:"orb_min_matches"`
	OrbMinInliers   int `toml:"orb_min_inliers"`

	Workers              int  `toml:"workers"`
	DecodeTimeoutSeconds int  `toml:"decode_timeout_seconds"`
	Progress             bool `toml:"progress"`

	Debug   bool   `toml:"debug"`
	LogFile string `toml:"log_file"`
}

const (
	defaultOutDir          = "set_delta_out"
	defaultCacheDir        = ".photodelta_index"
	defaultMaxSide         = 900
	defaultPhashMaxDist    = 10
	defaultMinSharedChunks = 2
	defaultMaxCandidates   = 30
	defaultOrbNFeatures    = 1500
	defaultOrbMinMatches   = 40
	defaultOrbMinInliers   = 18
	defaultDecodeTimeout   = 30
	defaultLogFile         = "photodelta.log"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		OutDir:               defaultOutDir,
		CacheDir:             defaultCacheDir,
		MaxSide:              defaultMaxSide,
		PhashMaxDist:         defaultPhashMaxDist,
		MinSharedChunks:      defaultMinSharedChunks,
		MaxCandidates:        defaultMaxCandidates,
		OrbNFeatures:         defaultOrbNFeatures,
		OrbMinMatches:        defaultOrbMinMatches,
		OrbMinInliers:        defaultOrbMinInliers,
		Workers:              DefaultWorkers(),
		DecodeTimeoutSeconds: defaultDecodeTimeout,
		Progress:             true,
		LogFile:              defaultLogFile,
	}
}

// Load reads a TOML config file over the defaults. Unknown keys are
// rejected so typos fail loudly.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// DecodeTimeout returns the per-image decode bound as a duration.
func (c Config) DecodeTimeout() time.Duration {
	if c.DecodeTimeoutSeconds <= 0 {
		return defaultDecodeTimeout * time.Second
	}
	return time.Duration(c.DecodeTimeoutSeconds) * time.Second
}

// Validate checks the resolved configuration before any work starts.
// Missing or unreadable collection roots are run-level failures.
func (c Config) Validate() error {
	if c.SetA == "" || c.SetB == "" {
		return errors.New("both --set-a and --set-b are required")
	}
	for _, root := range []string{c.SetA, c.SetB} {
		info, err := os.Stat(root)
		if err != nil {
			return fmt.Errorf("collection root %s: %w", root, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("collection root %s is not a directory", root)
		}
	}
	if c.OutDir == "" {
		return errors.New("out-dir must not be empty")
	}
	if c.CacheDir == "" {
		return errors.New("cache-dir must not be empty")
	}
	if c.MaxSide < 64 {
		return fmt.Errorf("max-side %d too small (minimum 64)", c.MaxSide)
	}
	if c.PhashMaxDist < 0 || c.PhashMaxDist > 64 {
		return fmt.Errorf("phash-max-dist %d out of range [0,64]", c.PhashMaxDist)
	}
	if c.MinSharedChunks < 1 || c.MinSharedChunks > 4 {
		return fmt.Errorf("min-shared-chunks %d out of range [1,4]", c.MinSharedChunks)
	}
	if c.MaxCandidates < 1 {
		return fmt.Errorf("max-candidates %d must be positive", c.MaxCandidates)
	}
	if c.OrbNFeatures < 10 {
		return fmt.Errorf("orb-nfeatures %d too small", c.OrbNFeatures)
	}
	if c.OrbMinMatches < 1 {
		return fmt.Errorf("orb-min-matches %d must be positive", c.OrbMinMatches)
	}
	if c.OrbMinInliers < 1 {
		return fmt.Errorf("orb-min-inliers %d must be positive", c.OrbMinInliers)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers %d must be positive", c.Workers)
	}
	return nil
}

// DefaultWorkers sizes the worker pool at three quarters of the available
// CPUs. Image decoding goes through CGo; saturating every core makes the
// OpenCV side slower, not faster.
func DefaultWorkers() int {
	workers := (runtime.NumCPU() * 3) / 4
	if workers < 1 {
		workers = 1
	}
	return workers
}
