// Package models defines the data structures shared across nfa-intent:
// evaluation reports, run manifests and decoded packets.
package models

import (
	"net"
	"time"
)

// Split names used in reports and logs.
const (
	SplitTrain = "train"
	SplitVal   = "val"
	SplitTest  = "test"
)

// Metric names as they appear in reports.
const (
	MetricAP        = "AP"
	MetricF1        = "F1"
	MetricPrecision = "precision"
	MetricRecall    = "recall"
	MetricROCAUC    = "ROC_AUC"
)

// Scores maps a metric name to its value for one split.
// Encoded as a JSON object with sorted keys.
type Scores map[string]float64

// BaselineReport is written to out/baseline_lgbm_report.json.
// Fields are declared in lexicographic key order so the encoded
// object has sorted keys.
type BaselineReport struct {
	CatCols      []string `json:"cat_cols"`
	FeatureNames []string `json:"feature_names"`
	NumCols      []string `json:"num_cols"`
	Test         Scores   `json:"test"`
	Val          Scores   `json:"val"`
}

// IntentReport is written to out/llm_intent_report.json.
type IntentReport struct {
	Test Scores `json:"test"`
	Val  Scores `json:"val"`
}

// Manifest records one pipeline run for auditing.
type Manifest struct {
	Checkpoints  []string          `json:"checkpoints,omitempty"`
	FinishedAt   time.Time         `json:"finished_at"`
	InputBLAKE3  string            `json:"input_blake3,omitempty"`
	InputPath    string            `json:"input_path,omitempty"`
	Model        string            `json:"model"`
	Pipeline     string            `json:"pipeline"`
	ReportBLAKE3 string            `json:"report_blake3"`
	ReportPath   string            `json:"report_path"`
	Rows         map[string]int    `json:"rows"`
	RunID        string            `json:"run_id"`
	Seed         int64             `json:"seed"`
	StartedAt    time.Time         `json:"started_at"`
	Extra        map[string]Scores `json:"supplementary_scores,omitempty"`
}

// Packet is a decoded packet as read from an offline capture.
type Packet struct {
	Timestamp time.Time `json:"timestamp"`
	Length    int       `json:"length"`

	// Layer 3
	SrcIP    net.IP `json:"src_ip,omitempty"`
	DstIP    net.IP `json:"dst_ip,omitempty"`
	Protocol string `json:"protocol"` // "TCP", "UDP", "ICMP", etc.
	IPProto  uint8  `json:"ip_proto,omitempty"`
	TTL      uint8  `json:"ttl,omitempty"`
	IPv6     bool   `json:"ipv6,omitempty"`

	// Layer 4
	SrcPort  uint16 `json:"src_port,omitempty"`
	DstPort  uint16 `json:"dst_port,omitempty"`
	TCPFlags uint8  `json:"tcp_flags,omitempty"`
	Window   uint16 `json:"window,omitempty"`

	// Application
	DNSQuery string `json:"dns_query,omitempty"`
	DNSQType string `json:"dns_qtype,omitempty"`

	Payload []byte `json:"-"`
}
