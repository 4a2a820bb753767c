package scoring

import (
	"github.com/paytech/fraud-detection/internal/models"
)

// Hybrid scoring weights: the model carries more signal than the rule
// table, but rules keep the floor deterministic
const (
	modelWeight = 0.6
	ruleWeight  = 0.4
)

// Mode selects the terminal-status banding
type Mode int

const (
	// PreTransaction scoring happens before commitment and can approve,
	// review, or decline
	PreTransaction Mode = iota
	// PostTransaction re-scoring happens after settlement and can
	// additionally hold or block
	PostTransaction
)

// Combine fuses the rule and model scores into a decision. When method
// is RULE_BASED (model timed out or is disabled) the combined score is
// the rule score alone. currentStatus is only consulted in
// post-transaction mode, where sub-HOLD bands keep the existing status.
func Combine(rule models.RuleResult, modelScore float64, method string, mode Mode, currentStatus string) models.Decision {
	score := modelWeight*modelScore + ruleWeight*rule.Score
	if method == models.MethodRule {
		score = rule.Score
	}
	score = clampUnit(score)

	d := models.Decision{
		FraudScore:      score,
		MLScore:         modelScore,
		RuleScore:       rule.Score,
		DetectionMethod: method,
		TriggeredRules:  rule.TriggeredRules,
		Flags:           rule.Flags,
	}

	switch {
	case score >= 0.9:
		d.RiskLevel = models.RiskLevelCritical
		d.FraudStatus = models.FraudStatusFraud
		d.Recommendation = models.RecommendDecline
	case score >= 0.7:
		d.RiskLevel = models.RiskLevelHigh
		d.FraudStatus = models.FraudStatusFraud
		d.Recommendation = models.RecommendDecline
	case score >= 0.4:
		d.RiskLevel = models.RiskLevelMedium
		d.FraudStatus = models.FraudStatusSuspicious
		d.Recommendation = models.RecommendReview
	default:
		d.RiskLevel = models.RiskLevelLow
		d.FraudStatus = models.FraudStatusSafe
		d.Recommendation = models.RecommendApprove
	}

	if mode == PreTransaction {
		switch {
		case score >= 0.7:
			d.Status = models.StatusDeclined
		case score >= 0.4:
			d.Status = models.StatusReview
		default:
			d.Status = models.StatusApproved
		}
	} else {
		switch {
		case score >= 0.9:
			d.Status = models.StatusBlocked
			d.LockAccount = true
		case score >= 0.7:
			d.Status = models.StatusHold
		default:
			d.Status = currentStatus
		}
	}

	d.Reason = primaryReason(rule, modelScore)
	return d
}

// ErrorDecision is the fallback when the pipeline fails anywhere: a
// neutral score routed to human review
func ErrorDecision() models.Decision {
	return models.Decision{
		FraudScore:      NeutralScore,
		MLScore:         NeutralScore,
		RiskLevel:       models.RiskLevelMedium,
		FraudStatus:     models.FraudStatusUnknown,
		Recommendation:  models.RecommendReview,
		Status:          models.StatusReview,
		DetectionMethod: models.MethodError,
		Reason:          "Fraud check could not be completed",
	}
}

// SeverityFor maps a fraud score to alert severity and action
func SeverityFor(score float64) (string, string) {
	switch {
	case score >= 0.9:
		return models.SeverityCritical, models.ActionBlock
	case score >= 0.7:
		return models.SeverityHigh, models.ActionReview
	case score >= 0.5:
		return models.SeverityMedium, models.ActionReview
	default:
		return models.SeverityLow, models.ActionAllowWithWarning
	}
}

func primaryReason(rule models.RuleResult, modelScore float64) string {
	if len(rule.Reasons) > 0 {
		return rule.Reasons[0]
	}
	if modelScore >= 0.7 {
		return "ML model detected suspicious patterns"
	}
	return "Transaction appears normal"
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
