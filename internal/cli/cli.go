// Package cli holds the flag handling shared by the pipeline commands.
package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-gota/gota/dataframe"

	"github.com/cvalentine99/nfa-intent/internal/config"
	"github.com/cvalentine99/nfa-intent/internal/dataset"
	"github.com/cvalentine99/nfa-intent/internal/jsonio"
	"github.com/cvalentine99/nfa-intent/internal/logging"
	"github.com/cvalentine99/nfa-intent/internal/profiling"
)

// exit is replaced in tests.
var exit = os.Exit

// Options are the flags common to the pipeline commands.
type Options struct {
	DataDir         string
	Input           string
	ConfigPath      string
	MetricsTextfile string
	ProfileDir      string

	cleanups []func()
}

// Register binds the common flags on fs and sets a usage message that
// documents the path environment variables.
func (o *Options) Register(fs *flag.FlagSet) {
	fs.StringVar(&o.DataDir, "data", "", "data root searched for the first CSV (default $NFA_DATA_DIR or ./data)")
	fs.StringVar(&o.Input, "input", "", "explicit input: CSV, Zeek JSON file or folder, pcap, or a folder of benign/ and malicious/ captures")
	fs.StringVar(&o.ConfigPath, "config", "", "YAML configuration file")
	fs.StringVar(&o.MetricsTextfile, "metrics-textfile", "", "write run metrics in Prometheus text format to this file")
	fs.StringVar(&o.ProfileDir, "profile-dir", "", "write CPU and heap profiles of the run to this directory")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
		fmt.Fprint(fs.Output(), config.PathEnvVarsDoc)
	}
}

// OnExit registers fn to run on Close or Fatal. Functions run in reverse
// order of registration.
func (o *Options) OnExit(fn func()) {
	o.cleanups = append(o.cleanups, fn)
}

// Close runs the registered exit functions once.
func (o *Options) Close() {
	for i := len(o.cleanups) - 1; i >= 0; i-- {
		o.cleanups[i]()
	}
	o.cleanups = nil
}

// Fatal logs err, runs the registered exit functions and exits non-zero.
func (o *Options) Fatal(msg string, err error) {
	logging.Error(msg, logging.Err(err))
	o.Close()
	exit(1)
}

// Config loads the configuration file, if any, applies the flag
// overrides, initializes the default logger from it and creates the
// staging and output directories.
func (o *Options) Config() (*config.Config, error) {
	cfg := config.Default()
	if o.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(o.ConfigPath); err != nil {
			return nil, err
		}
	}
	if o.DataDir != "" {
		cfg.Paths.Data = o.DataDir
	}

	logging.Init(&logging.Config{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Output: os.Stderr,
		Format: cfg.Logging.Format,
	})
	if err := cfg.PathConfig().EnsureDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InputPath returns the absolute path of -input, or of the first CSV
// under the data root when -input is unset.
func (o *Options) InputPath(cfg *config.Config) (string, error) {
	path := o.Input
	if path == "" {
		var err error
		if path, err = dataset.FindFirstCSV(cfg.Paths.Data); err != nil {
			return "", err
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cli: resolve %s: %w", path, err)
	}
	return abs, nil
}

// Load resolves the input and loads it into a frame.
func (o *Options) Load(cfg *config.Config) (dataframe.DataFrame, string, error) {
	path, err := o.InputPath(cfg)
	if err != nil {
		return dataframe.DataFrame{}, "", err
	}
	logging.DatasetLogger().Info("loading dataset", logging.PathKey, path)
	df, err := dataset.Load(path)
	if err != nil {
		return dataframe.DataFrame{}, "", err
	}
	return df, path, nil
}

// textfileWriter is implemented by metrics.RunMetrics.
type textfileWriter interface {
	WriteTextfile(path string) error
}

// WriteMetrics writes m to -metrics-textfile when it is set.
func (o *Options) WriteMetrics(m textfileWriter) error {
	if o.MetricsTextfile == "" {
		return nil
	}
	return m.WriteTextfile(o.MetricsTextfile)
}

// StartProfile starts a profiler under -profile-dir when it is set. It
// is stopped by Close or Fatal, which log the files written.
func (o *Options) StartProfile(name string) error {
	if o.ProfileDir == "" {
		return nil
	}
	p, err := profiling.New(profiling.DefaultConfig(o.ProfileDir, name))
	if err != nil {
		return err
	}
	if err := p.Start(); err != nil {
		return err
	}
	o.OnExit(func() {
		files, err := p.Stop()
		if err != nil {
			logging.Warn("failed to write profiles", logging.Err(err))
		}
		for _, f := range files {
			logging.Info("profile written", logging.PathKey, f)
		}
	})
	return nil
}

// PrintJSON writes v to w the way reports are written to disk.
func PrintJSON(w io.Writer, v any) error {
	data, err := jsonio.Marshal(v)
	if err != nil {
		return fmt.Errorf("cli: encode: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// Fatal logs err and exits non-zero. Commands with Options use
// Options.Fatal so profiles are flushed first.
func Fatal(msg string, err error) {
	logging.Error(msg, logging.Err(err))
	exit(1)
}
