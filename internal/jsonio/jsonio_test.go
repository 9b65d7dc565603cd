package jsonio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvalentine99/nfa-intent/internal/models"
)

func TestWriteFileCreatesParentsAndSortsKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "report.json")

	report := models.BaselineReport{
		CatCols:      []string{"proto"},
		FeatureNames: []string{"proto", "bytes"},
		NumCols:      []string{"bytes"},
		Val:          models.Scores{"recall": 0.5, "AP": 0.75, "precision": 1, "F1": 0.6},
		Test:         models.Scores{"F1": 1, "AP": 1, "precision": 1, "recall": 1},
	}
	require.NoError(t, WriteFile(path, report))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	order := []string{`"cat_cols"`, `"feature_names"`, `"num_cols"`, `"test"`, `"val"`}
	last := -1
	for _, key := range order {
		idx := strings.Index(text, key)
		require.GreaterOrEqual(t, idx, 0, key)
		assert.Greater(t, idx, last, "key %s out of order", key)
		last = idx
	}

	val := text[strings.Index(text, `"val"`):]
	assert.Less(t, strings.Index(val, `"AP"`), strings.Index(val, `"F1"`))
	assert.Less(t, strings.Index(val, `"F1"`), strings.Index(val, `"precision"`))
	assert.Less(t, strings.Index(val, `"precision"`), strings.Index(val, `"recall"`))
	assert.Contains(t, text, "\n  \"cat_cols\"")
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llm.json")
	want := models.IntentReport{
		Val:  models.Scores{"AP": 0.8125, "F1": 0.5},
		Test: models.Scores{"AP": 0.25, "F1": 0},
	}
	require.NoError(t, WriteFile(path, want))

	var got models.IntentReport
	require.NoError(t, ReadFile(path, &got))
	assert.Equal(t, want, got)

	// rewriting the decoded value is byte-identical
	first, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, WriteFile(path, got))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestReadFileMissing(t *testing.T) {
	var v map[string]any
	assert.Error(t, ReadFile(filepath.Join(t.TempDir(), "missing.json"), &v))
}
