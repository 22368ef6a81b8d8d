package entity

import "strings"

// SandboxState tracks a sandbox session through its lifecycle
type SandboxState string

const (
	SandboxIdle      SandboxState = "idle"
	SandboxAdmitted  SandboxState = "admitted"
	SandboxExecuting SandboxState = "executing"
	SandboxCompleted SandboxState = "completed"
	SandboxTimedOut  SandboxState = "timed_out"
	SandboxErrored   SandboxState = "errored"
)

// FormField describes one input inside a detected form
type FormField struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Placeholder string `json:"placeholder"`
	Required    bool   `json:"required"`
}

// FormDescriptor describes a form found on the analyzed page
type FormDescriptor struct {
	Action string      `json:"action"`
	Method string      `json:"method"`
	Fields []FormField `json:"fields"`
}

var sensitiveFieldNames = []string{"password", "ssn", "social", "credit", "card", "cvv", "pin"}

// CollectsSensitiveData reports whether any field asks for credentials,
// identity numbers or payment data
func (f FormDescriptor) CollectsSensitiveData() bool {
	for _, field := range f.Fields {
		if field.Type == "password" {
			return true
		}
		name := strings.ToLower(field.Name)
		if name == "" {
			continue
		}
		for _, s := range sensitiveFieldNames {
			if strings.Contains(name, s) {
				return true
			}
		}
	}
	return false
}

// JSBehavior holds script behavior flags observed on the page
type JSBehavior struct {
	Obfuscated          bool     `json:"obfuscated"`
	Keylogger           bool     `json:"keylogger"`
	SuspiciousFunctions []string `json:"suspicious_functions"`
	ExternalScripts     []string `json:"external_scripts"`
}

// NetworkRequest is an outbound request made by the page
type NetworkRequest struct {
	URL          string `json:"url"`
	Method       string `json:"method"`
	ResourceType string `json:"resource_type"`
}

// SandboxReport is the behavior report of one sandbox session
type SandboxReport struct {
	AnalysisID       string           `json:"analysis_id"`
	URL              string           `json:"url"`
	PageTitle        string           `json:"page_title"`
	FinalURL         string           `json:"final_url"`
	RedirectChain    []string         `json:"redirects"`
	Forms            []FormDescriptor `json:"forms"`
	JSBehavior       JSBehavior       `json:"javascript"`
	NetworkRequests  []NetworkRequest `json:"network_requests"`
	Screenshots      []string         `json:"screenshots,omitempty"`
	RiskIndicators   []string         `json:"risk_indicators"`
	ExecutionSeconds float64          `json:"execution_time"`
	Errors           []string         `json:"errors"`
	State            SandboxState     `json:"state"`
}

// SandboxResult pairs a report with the risk score derived from it
type SandboxResult struct {
	Report    *SandboxReport `json:"report"`
	RiskScore float64        `json:"risk_score"`
}
