package features

import (
	"encoding/hex"
	"math"
	"slices"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"gonum.org/v1/gonum/stat"

	"github.com/cvalentine99/nfa-intent/internal/dataset"
)

// Columns appended by AddPayloadFeatures.
const (
	PayloadLenColumn     = "payload_len"
	PayloadEntropyColumn = "payload_entropy"
)

// ByteEntropy returns the Shannon entropy of data in bits per byte.
// Empty input has entropy 0; a uniform byte distribution approaches 8.
func ByteEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	// Count byte frequencies
	var freq [256]int
	for _, b := range data {
		freq[b]++
	}

	total := float64(len(data))
	p := make([]float64, 0, len(freq))
	for _, count := range freq {
		if count > 0 {
			p = append(p, float64(count)/total)
		}
	}
	// stat.Entropy is in nats
	return stat.Entropy(p) / math.Ln2
}

// AddPayloadFeatures returns a copy of df with payload_len and
// payload_entropy columns computed from the hex-encoded payloadCol.
// Cells that are missing or not valid hex count as empty payloads, and
// both columns are zero when payloadCol does not exist.
func AddPayloadFeatures(df dataframe.DataFrame, payloadCol string) dataframe.DataFrame {
	n := df.Nrow()
	lens := make([]int, n)
	ents := make([]float64, n)

	if slices.Contains(df.Names(), payloadCol) {
		for i, cell := range dataset.Column(df, payloadCol) {
			payload, err := hex.DecodeString(cell)
			if err != nil {
				continue
			}
			lens[i] = len(payload)
			ents[i] = ByteEntropy(payload)
		}
	}

	return df.
		Mutate(series.New(lens, series.Int, PayloadLenColumn)).
		Mutate(series.New(ents, series.Float, PayloadEntropyColumn))
}
