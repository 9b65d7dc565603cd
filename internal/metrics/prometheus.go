// Package metrics exports per-run pipeline telemetry in the Prometheus
// text format so a node_exporter textfile collector can pick it up.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RunMetrics holds the gauges one pipeline run fills in.
type RunMetrics struct {
	registry *prometheus.Registry
	pipeline string

	stageSeconds *prometheus.GaugeVec
	rows         *prometheus.GaugeVec
	scores       *prometheus.GaugeVec
	lastSuccess  prometheus.Gauge
}

// NewRunMetrics creates a private registry for one pipeline run.
func NewRunMetrics(pipeline string) *RunMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	constLabels := prometheus.Labels{"pipeline": pipeline}

	return &RunMetrics{
		registry: reg,
		pipeline: pipeline,
		stageSeconds: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "nfa",
			Subsystem:   "pipeline",
			Name:        "stage_duration_seconds",
			Help:        "Wall time spent in each pipeline stage.",
			ConstLabels: constLabels,
		}, []string{"stage"}),
		rows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "nfa",
			Subsystem:   "pipeline",
			Name:        "rows",
			Help:        "Rows in each data partition.",
			ConstLabels: constLabels,
		}, []string{"split"}),
		scores: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "nfa",
			Subsystem:   "pipeline",
			Name:        "score",
			Help:        "Evaluation metric per split.",
			ConstLabels: constLabels,
		}, []string{"split", "metric"}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "nfa",
			Subsystem:   "pipeline",
			Name:        "last_success_timestamp_seconds",
			Help:        "Unix time the pipeline last wrote its report.",
			ConstLabels: constLabels,
		}),
	}
}

// ObserveStage records how long a stage took.
func (m *RunMetrics) ObserveStage(stage string, d time.Duration) {
	m.stageSeconds.WithLabelValues(stage).Set(d.Seconds())
}

// SetRows records the size of a partition.
func (m *RunMetrics) SetRows(split string, n int) {
	m.rows.WithLabelValues(split).Set(float64(n))
}

// SetScores records every metric of one split.
func (m *RunMetrics) SetScores(split string, scores map[string]float64) {
	for name, v := range scores {
		m.scores.WithLabelValues(split, name).Set(v)
	}
}

// MarkSuccess stamps the completion time.
func (m *RunMetrics) MarkSuccess(t time.Time) {
	m.lastSuccess.Set(float64(t.Unix()))
}

// WriteTextfile writes the registry to path in the text exposition format.
func (m *RunMetrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("metrics: create parent of %s: %w", path, err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("metrics: write textfile: %w", err)
	}
	return nil
}
