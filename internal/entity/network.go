package entity

import "time"

// IPReputation is the IP reputation sub-analysis of a domain
type IPReputation struct {
	IPs         []string           `json:"ips"`
	Scores      map[string]float64 `json:"scores"`
	Score       float64            `json:"score"`
	IsMalicious bool               `json:"is_malicious"`
	Available   bool               `json:"available"`
	Error       string             `json:"error,omitempty"`
}

// DomainCluster is the typosquatting and keyword sub-analysis of a domain
type DomainCluster struct {
	Variations       []string `json:"variations"`
	KeywordHits      []string `json:"keyword_hits"`
	TyposquatPattern bool     `json:"typosquat_pattern"`
	Score            float64  `json:"score"`
	Available        bool     `json:"available"`
}

// DNSAnalysis is the DNS record sub-analysis of a domain
type DNSAnalysis struct {
	MXRecords []string `json:"mx_records"`
	NSRecords []string `json:"ns_records"`
	Score     float64  `json:"score"`
	Available bool     `json:"available"`
	Error     string   `json:"error,omitempty"`
}

// WhoisAnalysis is the registration sub-analysis of a domain
type WhoisAnalysis struct {
	Registrar    string    `json:"registrar"`
	CreationDate time.Time `json:"creation_date"`
	AgeDays      int       `json:"age_days"`
	Score        float64   `json:"score"`
	Available    bool      `json:"available"`
	Error        string    `json:"error,omitempty"`
}

// InfrastructureAnalysis is the hosting-pattern sub-analysis of a domain
type InfrastructureAnalysis struct {
	HostingPatterns []string `json:"hosting_patterns"`
	Score           float64  `json:"score"`
	Available       bool     `json:"available"`
}

// NetworkAnalysisResult combines the five network sub-analyses
type NetworkAnalysisResult struct {
	Domain                 string                 `json:"domain"`
	IPReputation           IPReputation           `json:"ip_reputation"`
	DomainCluster          DomainCluster          `json:"domain_cluster"`
	DNSAnalysis            DNSAnalysis            `json:"dns_analysis"`
	WhoisAnalysis          WhoisAnalysis          `json:"whois_analysis"`
	InfrastructureAnalysis InfrastructureAnalysis `json:"infrastructure_analysis"`
	ClusterRiskScore       float64                `json:"cluster_risk_score"`
	CampaignDetected       bool                   `json:"campaign_detected"`
}

// NetworkRisk is the score the network layer contributes to fusion
func (r *NetworkAnalysisResult) NetworkRisk() float64 {
	risk := 0.0
	if r.CampaignDetected {
		risk += 0.5
	}
	risk += r.ClusterRiskScore * 0.3
	if r.IPReputation.IsMalicious {
		risk += 0.4
	}
	return Clamp01(risk)
}
