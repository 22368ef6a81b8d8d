package entity

import (
	"time"
)

// Priority of an analysis request
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority (empty counts as normal)
func (p Priority) Valid() bool {
	switch p {
	case "", PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ThreatLevel is the discrete outcome of score fusion
type ThreatLevel string

const (
	ThreatLevelLow      ThreatLevel = "low"
	ThreatLevelMedium   ThreatLevel = "medium"
	ThreatLevelHigh     ThreatLevel = "high"
	ThreatLevelCritical ThreatLevel = "critical"
)

// Layer names as reported in Verdict.AnalysisLayers
const (
	LayerThreatIntelligence = "ThreatIntelligence"
	LayerSandbox            = "Sandbox"
	LayerNetworkGraph       = "NetworkGraph"
	LayerAdvancedML         = "AdvancedML"
)

// AnalysisRequest is an immutable request to analyze one URL
type AnalysisRequest struct {
	URL               string             `json:"url"`
	Priority          Priority           `json:"priority,omitempty"`
	PriorLayerResults map[string]float64 `json:"previous_layer_results,omitempty"`
}

// ModelResult is the output of the auxiliary scoring model
type ModelResult struct {
	ThreatProbability float64            `json:"threat_probability"`
	Confidence        float64            `json:"confidence"`
	Features          map[string]float64 `json:"features"`
	ModelVersion      string             `json:"model_version"`
	Fallback          bool               `json:"fallback,omitempty"`
}

// VerdictDetails holds per-layer detail of a verdict
type VerdictDetails struct {
	ThreatIntelligence *AggregatedThreatIntel `json:"threatIntelligence,omitempty"`
	Sandbox            *SandboxResult         `json:"sandbox,omitempty"`
	Network            *NetworkAnalysisResult `json:"network,omitempty"`
	MLAnalysis         *ModelResult           `json:"mlAnalysis,omitempty"`
	LayerScores        map[string]float64     `json:"layerScores,omitempty"`
	FinalScore         float64                `json:"finalScore"`
	EarlyExit          bool                   `json:"earlyExit,omitempty"`
	TimedOut           bool                   `json:"timedOut,omitempty"`
}

// Verdict is the terminal artifact of an analysis
type Verdict struct {
	URL            string         `json:"url"`
	IsMalicious    bool           `json:"isMalicious"`
	ThreatLevel    ThreatLevel    `json:"threatLevel"`
	Confidence     float64        `json:"confidence"`
	AnalysisLayers []string       `json:"analysisLayers"`
	Details        VerdictDetails `json:"details"`
	ScanTime       float64        `json:"scanTime"`
	Timestamp      time.Time      `json:"timestamp"`
}

// BatchStatus is the processing state of a batch
type BatchStatus string

const (
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
)

// BatchJob tracks an asynchronous batch analysis
type BatchJob struct {
	ID          string      `json:"batch_id"`
	Status      BatchStatus `json:"status"`
	URLCount    int         `json:"url_count"`
	Completed   int         `json:"completed"`
	Failed      int         `json:"failed"`
	Verdicts    []Verdict   `json:"verdicts,omitempty"`
	SubmittedAt time.Time   `json:"submitted_at"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
}
