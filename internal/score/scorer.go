package score

import (
	"fmt"
	"math"

	"github.com/ppiankov/authrules/internal/model"
)

// Input is everything the rule confidence depends on
type Input struct {
	Coverage   model.Coverage     // Pattern-matched tokens of the rule's chunks
	Auth       model.AuthDecision // Decision the rule's state came from
	Unresolved int                // Unresolved exception chunks in the rule's span
	HasRange   bool               // Procedure codes include an unexpanded range
}

// Scorer calculates rule confidence and generates signals
type Scorer struct {
	cfg model.ScoringConfig
}

// NewScorer creates a new scorer
func NewScorer(cfg model.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Calculate returns the confidence score in [0,1] and its transparent breakdown
func (s *Scorer) Calculate(in Input) (float64, []model.Signal) {
	var signals []model.Signal

	// 1. Pattern coverage (0 - pattern_weight)
	coverageScore, coverageSignal := s.calculateCoverage(in.Coverage)
	signals = append(signals, coverageSignal)

	// 2. Authorization cue (bonus)
	cueScore, cueSignal := s.calculateCue(in.Auth)
	signals = append(signals, cueSignal)

	// 3. Unresolved exceptions (penalty)
	unresolvedPenalty := 0.0
	if in.Unresolved > 0 {
		unresolvedPenalty = s.cfg.UnresolvedPenalty
		signals = append(signals, model.Signal{
			Type:        model.SignalUnresolved,
			Severity:    model.SeverityWarning,
			Description: fmt.Sprintf("%d exception chunk(s) could not be resolved", in.Unresolved),
			Data: map[string]interface{}{
				"unresolved": in.Unresolved,
				"penalty":    unresolvedPenalty,
			},
		})
	}

	// 4. Code range (penalty)
	rangePenalty := 0.0
	if in.HasRange {
		rangePenalty = s.cfg.RangePenalty
		signals = append(signals, model.Signal{
			Type:        model.SignalCodeRange,
			Severity:    model.SeverityWarning,
			Description: "Procedure codes include an unexpanded range",
			Data: map[string]interface{}{
				"penalty": rangePenalty,
			},
		})
	}

	total := coverageScore + cueScore - unresolvedPenalty - rangePenalty
	total = math.Max(0, math.Min(1, total))

	return round(total), signals
}

// calculateCoverage scores the matched-token ratio
func (s *Scorer) calculateCoverage(cov model.Coverage) (float64, model.Signal) {
	ratio := cov.Ratio()
	score := ratio * s.cfg.PatternWeight

	severity := model.SeverityInfo
	if ratio < 0.3 {
		severity = model.SeverityCritical
	} else if ratio < 0.6 {
		severity = model.SeverityWarning
	}

	return score, model.Signal{
		Type:        model.SignalPatternCoverage,
		Severity:    severity,
		Description: fmt.Sprintf("Pattern-matched token ratio: %.2f", ratio),
		Data: map[string]interface{}{
			"matched": cov.Matched,
			"total":   cov.Total,
			"ratio":   round(ratio),
			"score":   round(score),
			"formula": "matched_tokens / total_tokens * pattern_weight",
		},
	}
}

// calculateCue awards the bonus for an unambiguous authorization cue
func (s *Scorer) calculateCue(auth model.AuthDecision) (float64, model.Signal) {
	switch {
	case auth.Unambiguous:
		return s.cfg.CueBonus, model.Signal{
			Type:        model.SignalAuthorizationCue,
			Severity:    model.SeverityInfo,
			Description: fmt.Sprintf("Unambiguous authorization cue: %q", auth.Cue),
			Data: map[string]interface{}{
				"cue":   auth.Cue,
				"state": auth.State,
				"bonus": s.cfg.CueBonus,
			},
		}
	case auth.Overridden:
		return 0, model.Signal{
			Type:        model.SignalConditionalDowngrade,
			Severity:    model.SeverityWarning,
			Description: fmt.Sprintf("Cue %q downgraded to CONDITIONAL by connector %q", auth.Cue, auth.Connector),
			Data: map[string]interface{}{
				"cue":       auth.Cue,
				"connector": auth.Connector,
				"bonus":     0,
			},
		}
	default:
		return 0, model.Signal{
			Type:        model.SignalDefaultState,
			Severity:    model.SeverityWarning,
			Description: "No authorization cue, defaulted to CONDITIONAL",
			Data: map[string]interface{}{
				"state": auth.State,
				"bonus": 0,
			},
		}
	}
}

// round keeps scores stable for byte-identical output
func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
