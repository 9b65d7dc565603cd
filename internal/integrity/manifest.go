package integrity

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cvalentine99/nfa-intent/internal/jsonio"
	"github.com/cvalentine99/nfa-intent/internal/models"
)

// Run tracks one pipeline execution until its manifest is written.
type Run struct {
	ID       string
	Pipeline string
	Model    string
	Seed     int64
	Started  time.Time

	// InputPath is the dataset file, if the run was fed from one
	InputPath   string
	Rows        map[string]int
	Checkpoints []string
	Extra       map[string]models.Scores

	hasher *Hasher
	now    func() time.Time
}

// NewRun starts a run record with a fresh random identifier.
func NewRun(pipeline, model string, seed int64) *Run {
	return &Run{
		ID:       uuid.NewString(),
		Pipeline: pipeline,
		Model:    model,
		Seed:     seed,
		Started:  time.Now().UTC(),
		Rows:     make(map[string]int),
		Extra:    make(map[string]models.Scores),
		hasher:   NewHasher(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// inputPatterns select the files of a directory input that are hashed:
// Zeek logs and the class folders of labelled captures.
var inputPatterns = []string{"*.json", "benign/*", "malicious/*"}

// Finish fingerprints the report (and input, when known) and writes
// <dir>/<run-id>.json. Paths are recorded absolute. It returns the
// manifest path.
func (r *Run) Finish(dir, reportPath string) (string, error) {
	reportPath, err := filepath.Abs(reportPath)
	if err != nil {
		return "", fmt.Errorf("integrity: resolve report path: %w", err)
	}
	if r.InputPath != "" {
		if r.InputPath, err = filepath.Abs(r.InputPath); err != nil {
			return "", fmt.Errorf("integrity: resolve input path: %w", err)
		}
	}

	m := models.Manifest{
		RunID:       r.ID,
		Pipeline:    r.Pipeline,
		Model:       r.Model,
		Seed:        r.Seed,
		StartedAt:   r.Started,
		FinishedAt:  r.now(),
		InputPath:   r.InputPath,
		ReportPath:  reportPath,
		Rows:        r.Rows,
		Checkpoints: r.Checkpoints,
	}
	if len(r.Extra) > 0 {
		m.Extra = r.Extra
	}

	digest, err := r.hasher.HashFileHex(reportPath)
	if err != nil {
		return "", fmt.Errorf("integrity: fingerprint report: %w", err)
	}
	m.ReportBLAKE3 = digest

	if r.InputPath != "" {
		digest, err := r.inputDigest()
		if err != nil {
			return "", fmt.Errorf("integrity: fingerprint input: %w", err)
		}
		m.InputBLAKE3 = digest
	}

	path := filepath.Join(dir, r.ID+".json")
	if err := jsonio.WriteFile(path, m); err != nil {
		return "", err
	}
	return path, nil
}

// inputDigest hashes a dataset file, or the Zeek logs and captures of
// a folder.
func (r *Run) inputDigest() (string, error) {
	info, err := os.Stat(r.InputPath)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return r.hasher.HashDirHex(r.InputPath, inputPatterns...)
	}
	return r.hasher.HashFileHex(r.InputPath)
}
