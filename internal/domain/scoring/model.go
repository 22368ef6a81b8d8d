package scoring

import (
	"context"
	"math"
	"net/netip"
	"net/url"
	"sort"
	"strings"

	"github.com/dscybers/phishshield/internal/entity"
)

// HeuristicModelVersion identifies the built-in auxiliary model
const HeuristicModelVersion = "1.0-heuristic"

// ModelInput is everything the auxiliary model may look at. Sandbox and
// Network are nil when their layer was disabled.
type ModelInput struct {
	URL     string
	Sandbox *entity.SandboxReport
	Network *entity.NetworkAnalysisResult
	Prior   map[string]float64
}

// Model produces a threat probability from the combined layer outputs
type Model interface {
	Predict(ctx context.Context, in ModelInput) (*entity.ModelResult, error)
}

// FallbackResult is used when the model cannot produce a prediction
func FallbackResult() *entity.ModelResult {
	return &entity.ModelResult{
		ThreatProbability: 0,
		Confidence:        0.5,
		Features:          map[string]float64{},
		ModelVersion:      "fallback",
		Fallback:          true,
	}
}

// defaultFeatureWeight applies to features missing from featureWeights
const defaultFeatureWeight = 0.05

var featureWeights = map[string]float64{
	"url_length":            0.1,
	"domain_entropy":        0.15,
	"suspicious_tld":        0.2,
	"ip_address_host":       0.25,
	"suspicious_keywords":   0.3,
	"domain_age":            0.15,
	"ssl_certificate":       0.2,
	"redirect_count":        0.1,
	"lexical_confidence":    0.25,
	"reputation_confidence": 0.3,
	"subdomain_count":       0.1,
	"path_complexity":       0.05,
}

var (
	suspiciousTLDs = map[string]bool{
		"tk": true, "ml": true, "ga": true, "cf": true, "gq": true,
		"xyz": true, "top": true, "zip": true, "click": true,
	}
	urlKeywords = []string{"login", "verify", "secure", "account", "update", "banking", "confirm", "signin", "password"}
)

// HeuristicModel is a weighted-feature model with a logistic output. It
// stands in until a trained model is plugged in behind Model.
type HeuristicModel struct{}

// NewHeuristicModel creates the built-in auxiliary model
func NewHeuristicModel() *HeuristicModel {
	return &HeuristicModel{}
}

// Predict implements Model
func (m *HeuristicModel) Predict(ctx context.Context, in ModelInput) (*entity.ModelResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	features := ExtractFeatures(in)
	prob := Logistic(WeightedScore(features))

	return &entity.ModelResult{
		ThreatProbability: prob,
		Confidence:        Confidence(features, prob),
		Features:          features,
		ModelVersion:      HeuristicModelVersion,
	}, nil
}

// ExtractFeatures builds the feature vector, every value scaled to [0,1]
func ExtractFeatures(in ModelInput) map[string]float64 {
	f := make(map[string]float64)

	u, err := url.Parse(in.URL)
	if err == nil {
		host := strings.ToLower(u.Hostname())
		lowerURL := strings.ToLower(in.URL)

		f["url_length"] = ratio(float64(len(in.URL)), 100)
		f["has_https"] = boolFeature(u.Scheme == "https")

		_, ipErr := netip.ParseAddr(host)
		f["has_ip"] = boolFeature(ipErr == nil)

		labels := strings.Split(host, ".")
		if ipErr == nil {
			f["subdomain_count"] = 0
		} else {
			f["subdomain_count"] = ratio(float64(max(len(labels)-2, 0)), 3)
			f["suspicious_tld"] = boolFeature(suspiciousTLDs[labels[len(labels)-1]])
		}

		hits := 0
		for _, kw := range urlKeywords {
			if strings.Contains(lowerURL, kw) {
				hits++
			}
		}
		f["suspicious_keywords"] = ratio(float64(hits), 3)

		segments := 0
		for _, s := range strings.Split(u.Path, "/") {
			if s != "" {
				segments++
			}
		}
		f["path_complexity"] = ratio(float64(segments+len(u.Query())), 6)
	}

	if s := in.Sandbox; s != nil {
		f["form_count"] = ratio(float64(len(s.Forms)), 3)
		f["redirect_count"] = ratio(float64(len(s.RedirectChain)), 5)
		f["js_obfuscated"] = boolFeature(s.JSBehavior.Obfuscated)
		f["keylogger_detected"] = boolFeature(s.JSBehavior.Keylogger)
		f["risk_indicator_count"] = ratio(float64(len(s.RiskIndicators)), 5)
	}

	if n := in.Network; n != nil {
		f["campaign_detected"] = boolFeature(n.CampaignDetected)
		f["cluster_risk"] = entity.Clamp01(n.ClusterRiskScore)
		f["ip_malicious"] = boolFeature(n.IPReputation.IsMalicious)
	}

	if v, ok := in.Prior["lexical"]; ok {
		f["lexical_confidence"] = entity.Clamp01(v)
	}
	if v, ok := in.Prior["reputation"]; ok {
		f["reputation_confidence"] = entity.Clamp01(v)
	}

	return f
}

// WeightedScore is the weight-normalized mean of the features
func WeightedScore(features map[string]float64) float64 {
	// Fixed order keeps the float sum reproducible
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)

	score, total := 0.0, 0.0
	for _, name := range names {
		w, ok := featureWeights[name]
		if !ok {
			w = defaultFeatureWeight
		}
		score += features[name] * w
		total += w
	}
	if total == 0 {
		return 0
	}
	return score / total
}

// Logistic spreads a [0,1] score around 0.5
func Logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-5*(x-0.5)))
}

// Confidence rises when features agree with each other and when the
// probability is extreme
func Confidence(features map[string]float64, prob float64) float64 {
	confidence := 0.7

	high, low := 0, 0
	for _, v := range features {
		switch {
		case v > 0.7:
			high++
		case v < 0.3:
			low++
		}
	}

	n := float64(len(features))
	if n > 0 {
		if float64(high)/n > 0.6 || float64(low)/n > 0.6 {
			confidence += 0.2
		}
		if math.Abs(float64(high-low)) > n*0.4 {
			confidence -= 0.1
		}
	}

	if prob > 0.9 || prob < 0.1 {
		confidence += 0.1
	}
	return math.Max(0.3, math.Min(1, confidence))
}

func ratio(v, limit float64) float64 {
	return entity.Clamp01(v / limit)
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
