package sim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/gridsync/gridsync/sim/trace"
)

// DefaultMaxIterations bounds the convergence loop when no budget is configured.
const DefaultMaxIterations = 100

// KernelConfig groups the global tunables consumed by the kernel.
type KernelConfig struct {
	Threads           int    `yaml:"threads" toml:"threads"`                           // worker pool size (0 = GOMAXPROCS)
	MinItemsPerThread int    `yaml:"min_items_per_thread" toml:"min_items_per_thread"` // smallest chunk a worker is given
	MaxIterations     int    `yaml:"max_iterations" toml:"max_iterations"`             // sync passes allowed per instant
	MaxInitPasses     int    `yaml:"max_init_passes" toml:"max_init_passes"`           // 0 = population size + 1
	StopOnFailure     bool   `yaml:"stop_on_failure" toml:"stop_on_failure"`           // abort on PhaseInvalid / NonConvergence
	StartTime         int64  `yaml:"start_time" toml:"start_time"`                     // first instant visited
	StopTime          int64  `yaml:"stop_time" toml:"stop_time"`                       // last instant visited (0 = never stop)
	TraceLevel        string `yaml:"trace_level" toml:"trace_level"`                   // "none", "passes" or "objects"
	Seed              int64  `yaml:"seed" toml:"seed"`                                 // master seed for per-object RNG streams
}

// DefaultKernelConfig returns the tunables used when nothing is configured.
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		Threads:           runtime.GOMAXPROCS(0),
		MinItemsPerThread: 64,
		MaxIterations:     DefaultMaxIterations,
		StopOnFailure:     true,
		TraceLevel:        "none",
		Seed:              42,
	}
}

// Validate reports the first invalid field.
func (c KernelConfig) Validate() error {
	if c.Threads < 0 {
		return fmt.Errorf("threads must be >= 0, got %d", c.Threads)
	}
	if c.MinItemsPerThread < 1 {
		return fmt.Errorf("min_items_per_thread must be >= 1, got %d", c.MinItemsPerThread)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1, got %d", c.MaxIterations)
	}
	if c.MaxInitPasses < 0 {
		return fmt.Errorf("max_init_passes must be >= 0, got %d", c.MaxInitPasses)
	}
	if c.StartTime < 0 {
		return fmt.Errorf("start_time must be >= 0, got %d", c.StartTime)
	}
	if c.StopTime != 0 && c.StopTime < c.StartTime {
		return fmt.Errorf("stop_time %d is before start_time %d", c.StopTime, c.StartTime)
	}
	if !trace.IsValidTraceLevel(c.TraceLevel) {
		return fmt.Errorf("unknown trace_level %q; valid: none, passes, objects", c.TraceLevel)
	}
	return nil
}

// stopTime returns the last instant the run may visit.
func (c KernelConfig) stopTime() Timestamp {
	if c.StopTime == 0 {
		return TSNever - 1
	}
	return Timestamp(c.StopTime)
}

// LoadKernelConfig reads tunables from a YAML (.yaml, .yml) or TOML (.toml) file
// on top of DefaultKernelConfig. Unknown keys are rejected.
func LoadKernelConfig(path string) (KernelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KernelConfig{}, fmt.Errorf("reading kernel config: %w", err)
	}
	cfg := DefaultKernelConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return KernelConfig{}, fmt.Errorf("parsing kernel config %s: %w", path, err)
		}
	case ".toml":
		decoder := toml.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return KernelConfig{}, fmt.Errorf("parsing kernel config %s: %w", path, err)
		}
	default:
		return KernelConfig{}, fmt.Errorf("kernel config %s: unsupported extension (want .yaml, .yml or .toml)", path)
	}
	if err := cfg.Validate(); err != nil {
		return KernelConfig{}, fmt.Errorf("kernel config %s: %w", path, err)
	}
	return cfg, nil
}
