// Package profiling records CPU and heap profiles of a pipeline run.
package profiling

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/cvalentine99/nfa-intent/internal/logging"
)

// ErrRunning is returned by Start on a profiler that was not stopped.
var ErrRunning = errors.New("profiling: profiler already running")

// Config holds profiler configuration
type Config struct {
	// OutputDir receives the .pprof files
	OutputDir string
	// Name prefixes every file, usually the pipeline name
	Name string

	// CPUProfileRate in samples per second
	CPUProfileRate int
	// MemProfileRate is the average bytes allocated per heap sample
	MemProfileRate int
}

// DefaultConfig returns default profiler configuration
func DefaultConfig(outputDir, name string) *Config {
	return &Config{
		OutputDir:      outputDir,
		Name:           name,
		CPUProfileRate: 100,
		MemProfileRate: 512 * 1024, // 512KB
	}
}

// Profiler writes <name>-cpu-<ts>.pprof over a run and a heap profile
// when the run stops.
type Profiler struct {
	config  *Config
	cpuFile *os.File
	started time.Time
	stamp   string
	mu      sync.Mutex
}

// New creates the output directory and a stopped profiler.
func New(cfg *Config) (*Profiler, error) {
	if cfg == nil || cfg.OutputDir == "" {
		return nil, errors.New("profiling: output directory is required")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("profiling: failed to create output directory: %w", err)
	}
	return &Profiler{config: cfg}, nil
}

// Start begins CPU profiling.
func (p *Profiler) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cpuFile != nil {
		return ErrRunning
	}

	p.started = time.Now()
	p.stamp = p.started.Format("20060102-150405")
	runtime.MemProfileRate = p.config.MemProfileRate

	f, err := os.Create(p.path("cpu"))
	if err != nil {
		return fmt.Errorf("profiling: failed to create CPU profile file: %w", err)
	}
	runtime.SetCPUProfileRate(p.config.CPUProfileRate)
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return fmt.Errorf("profiling: failed to start CPU profile: %w", err)
	}
	p.cpuFile = f
	return nil
}

// Stop ends CPU profiling, writes the heap profile and returns the
// files written. Stopping a stopped profiler is a no-op.
func (p *Profiler) Stop() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cpuFile == nil {
		return nil, nil
	}

	pprof.StopCPUProfile()
	cpuPath := p.cpuFile.Name()
	err := p.cpuFile.Close()
	p.cpuFile = nil
	if err != nil {
		return nil, fmt.Errorf("profiling: close CPU profile: %w", err)
	}

	heapPath := p.path("heap")
	if err := writeHeapProfile(heapPath); err != nil {
		return []string{cpuPath}, err
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	logging.Default().Debug("profiles written",
		logging.PathKey, p.config.OutputDir,
		"duration", time.Since(p.started),
		"heap_inuse", FormatBytes(m.HeapInuse),
		"num_gc", m.NumGC,
	)
	return []string{cpuPath, heapPath}, nil
}

func (p *Profiler) path(kind string) string {
	return filepath.Join(p.config.OutputDir,
		fmt.Sprintf("%s-%s-%s.pprof", p.config.Name, kind, p.stamp))
}

// writeHeapProfile writes memory profile to file
func writeHeapProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("profiling: failed to create memory profile file: %w", err)
	}
	defer f.Close()

	runtime.GC() // Get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("profiling: failed to write memory profile: %w", err)
	}
	return nil
}

// FormatBytes formats bytes as human-readable string
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
