package entity

import (
	"time"
)

// Reputation is the categorical label derived from an aggregated threat score
type Reputation string

const (
	ReputationClean        Reputation = "clean"
	ReputationQuestionable Reputation = "questionable"
	ReputationSuspicious   Reputation = "suspicious"
	ReputationMalicious    Reputation = "malicious"
)

// AbsenceReason explains why a threat source produced no result
type AbsenceReason string

const (
	AbsenceNone         AbsenceReason = ""
	AbsenceUnconfigured AbsenceReason = "unconfigured"
	AbsenceTimeout      AbsenceReason = "timeout"
	AbsenceError        AbsenceReason = "error"
	AbsenceCircuitOpen  AbsenceReason = "circuit_open"
)

// ThreatSourceResult is the verdict of a single threat source for a URL
type ThreatSourceResult struct {
	SourceID    string  `json:"source"`
	IsMalicious bool    `json:"is_malicious"`
	Confidence  float64 `json:"confidence"`
	Category    string  `json:"category"`
}

// SourceOutcome carries either a result or the reason a source is absent
type SourceOutcome struct {
	SourceID string              `json:"source"`
	Result   *ThreatSourceResult `json:"result,omitempty"`
	Reason   AbsenceReason       `json:"absence_reason,omitempty"`
	Error    string              `json:"error,omitempty"`
	Duration time.Duration       `json:"duration_ns"`
}

// Available reports whether the source returned a usable result
func (o SourceOutcome) Available() bool {
	return o.Result != nil
}

// AggregatedThreatIntel is the combined threat intelligence for a URL
type AggregatedThreatIntel struct {
	URL         string               `json:"url"`
	ThreatScore float64              `json:"threat_score"`
	IsMalicious bool                 `json:"is_malicious"`
	Sources     []ThreatSourceResult `json:"sources"`
	Outcomes    []SourceOutcome      `json:"outcomes,omitempty"`
	Categories  []string             `json:"categories"`
	Reputation  Reputation           `json:"reputation"`
	SourceCount int                  `json:"source_count"`
	ComputedAt  time.Time            `json:"computed_at"`
}

// ThreatReport is a user-submitted report about a URL
type ThreatReport struct {
	URL        string    `json:"url"`
	ThreatType string    `json:"threat_type"`
	Comment    string    `json:"comment,omitempty"`
	ReportedAt time.Time `json:"reported_at"`
}

// DomainReputation summarizes intelligence about a bare domain
type DomainReputation struct {
	Domain      string     `json:"domain"`
	Reputation  Reputation `json:"reputation"`
	ThreatScore float64    `json:"threat_score"`
	Categories  []string   `json:"categories"`
	Sources     int        `json:"sources_checked"`
	CheckedAt   time.Time  `json:"checked_at"`
}

// ReputationFromScore maps a threat score onto a reputation label
func ReputationFromScore(score float64) Reputation {
	switch {
	case score >= 0.7:
		return ReputationMalicious
	case score >= 0.4:
		return ReputationSuspicious
	case score >= 0.2:
		return ReputationQuestionable
	default:
		return ReputationClean
	}
}

// Clamp01 bounds a score to [0,1]
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
