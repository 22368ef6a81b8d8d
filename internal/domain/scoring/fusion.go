package scoring

import (
	"fmt"
	"math"

	"github.com/dscybers/phishshield/internal/entity"
)

// weightTolerance is how far the fusion weights may drift from summing to 1
const weightTolerance = 1e-6

// Threat level boundaries on the fused score
const (
	CriticalThreshold = 0.8
	HighThreshold     = 0.6
	MediumThreshold   = 0.4
)

// FusionWeights defines how much each layer contributes to the final score
type FusionWeights struct {
	ThreatIntel float64
	Sandbox     float64
	Network     float64
	AuxModel    float64
}

// DefaultFusionWeights returns the production weighting
func DefaultFusionWeights() FusionWeights {
	return FusionWeights{
		ThreatIntel: 0.35,
		Sandbox:     0.25,
		Network:     0.20,
		AuxModel:    0.20,
	}
}

// Validate rejects negative weights and weights that do not sum to 1
func (w FusionWeights) Validate() error {
	for name, v := range map[string]float64{
		"threat_intel": w.ThreatIntel,
		"sandbox":      w.Sandbox,
		"network":      w.Network,
		"aux_model":    w.AuxModel,
	} {
		if v < 0 {
			return fmt.Errorf("fusion weight %s must not be negative, got %.3f", name, v)
		}
	}
	sum := w.ThreatIntel + w.Sandbox + w.Network + w.AuxModel
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("fusion weights must sum to 1.0, got %.6f", sum)
	}
	return nil
}

// LayerScores holds one score per layer; a layer that did not run scores 0
type LayerScores struct {
	ThreatIntel float64
	Sandbox     float64
	Network     float64
	AuxModel    float64
}

// Map returns the scores keyed by layer name
func (s LayerScores) Map() map[string]float64 {
	return map[string]float64{
		entity.LayerThreatIntelligence: s.ThreatIntel,
		entity.LayerSandbox:            s.Sandbox,
		entity.LayerNetworkGraph:       s.Network,
		entity.LayerAdvancedML:         s.AuxModel,
	}
}

// Fuse combines layer scores into a final score in [0,1]
func (w FusionWeights) Fuse(s LayerScores) float64 {
	score := w.ThreatIntel*entity.Clamp01(s.ThreatIntel) +
		w.Sandbox*entity.Clamp01(s.Sandbox) +
		w.Network*entity.Clamp01(s.Network) +
		w.AuxModel*entity.Clamp01(s.AuxModel)
	return entity.Clamp01(score)
}

// Level maps a fused score onto a threat level
func Level(score float64) entity.ThreatLevel {
	switch {
	case score >= CriticalThreshold:
		return entity.ThreatLevelCritical
	case score >= HighThreshold:
		return entity.ThreatLevelHigh
	case score >= MediumThreshold:
		return entity.ThreatLevelMedium
	default:
		return entity.ThreatLevelLow
	}
}

// IsMaliciousLevel reports whether a level counts as malicious
func IsMaliciousLevel(level entity.ThreatLevel) bool {
	return level == entity.ThreatLevelHigh || level == entity.ThreatLevelCritical
}
