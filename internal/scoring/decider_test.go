package scoring

import (
	"math"
	"testing"

	"github.com/paytech/fraud-detection/internal/models"
)

func TestCombineHybridWeighting(t *testing.T) {
	rule := models.RuleResult{Score: 0.85, Reasons: []string{"Too many transactions in short time period"}}

	d := Combine(rule, 0.5, models.MethodHybrid, PreTransaction, models.StatusPending)

	// 0.6*0.5 + 0.4*0.85 = 0.64
	if math.Abs(d.FraudScore-0.64) > 1e-9 {
		t.Errorf("expected fraud score 0.64, got %f", d.FraudScore)
	}
	if d.RiskLevel != models.RiskLevelMedium {
		t.Errorf("expected MEDIUM, got %s", d.RiskLevel)
	}
	if d.Status != models.StatusReview {
		t.Errorf("expected REVIEW, got %s", d.Status)
	}
	if d.Reason != "Too many transactions in short time period" {
		t.Errorf("unexpected reason %q", d.Reason)
	}
}

func TestCombineRuleOnlyFallback(t *testing.T) {
	rule := models.RuleResult{Score: 0.75}

	d := Combine(rule, NeutralScore, models.MethodRule, PreTransaction, models.StatusPending)

	if d.FraudScore != 0.75 {
		t.Errorf("rule-only score must ignore the model, got %f", d.FraudScore)
	}
	if d.DetectionMethod != models.MethodRule {
		t.Errorf("expected RULE_BASED, got %s", d.DetectionMethod)
	}
	if d.Status != models.StatusDeclined {
		t.Errorf("expected DECLINED, got %s", d.Status)
	}
}

func TestCombineBands(t *testing.T) {
	tests := []struct {
		modelScore     float64
		ruleScore      float64
		riskLevel      string
		fraudStatus    string
		recommendation string
		preStatus      string
	}{
		{1.0, 1.0, models.RiskLevelCritical, models.FraudStatusFraud, models.RecommendDecline, models.StatusDeclined},
		{0.8, 0.7, models.RiskLevelHigh, models.FraudStatusFraud, models.RecommendDecline, models.StatusDeclined},
		{0.5, 0.4, models.RiskLevelMedium, models.FraudStatusSuspicious, models.RecommendReview, models.StatusReview},
		{0.1, 0.0, models.RiskLevelLow, models.FraudStatusSafe, models.RecommendApprove, models.StatusApproved},
	}

	for _, tt := range tests {
		rule := models.RuleResult{Score: tt.ruleScore}
		d := Combine(rule, tt.modelScore, models.MethodHybrid, PreTransaction, models.StatusPending)

		if d.RiskLevel != tt.riskLevel {
			t.Errorf("model %.2f rule %.2f: risk %s, want %s", tt.modelScore, tt.ruleScore, d.RiskLevel, tt.riskLevel)
		}
		if d.FraudStatus != tt.fraudStatus {
			t.Errorf("model %.2f rule %.2f: fraud status %s, want %s", tt.modelScore, tt.ruleScore, d.FraudStatus, tt.fraudStatus)
		}
		if d.Recommendation != tt.recommendation {
			t.Errorf("model %.2f rule %.2f: recommendation %s, want %s", tt.modelScore, tt.ruleScore, d.Recommendation, tt.recommendation)
		}
		if d.Status != tt.preStatus {
			t.Errorf("model %.2f rule %.2f: status %s, want %s", tt.modelScore, tt.ruleScore, d.Status, tt.preStatus)
		}
	}
}

func TestCombinePreTransactionNeverBlocks(t *testing.T) {
	rule := models.RuleResult{Score: 1}

	d := Combine(rule, 1, models.MethodHybrid, PreTransaction, models.StatusPending)

	if d.Status == models.StatusBlocked {
		t.Error("pre-transaction scoring must not block")
	}
	if d.LockAccount {
		t.Error("pre-transaction scoring must not lock the account")
	}
	if d.Status != models.StatusDeclined {
		t.Errorf("expected DECLINED, got %s", d.Status)
	}
}

func TestCombinePostTransactionBanding(t *testing.T) {
	critical := Combine(models.RuleResult{Score: 1}, 1, models.MethodHybrid, PostTransaction, models.StatusApproved)
	if critical.Status != models.StatusBlocked {
		t.Errorf("critical post score: expected BLOCKED, got %s", critical.Status)
	}
	if !critical.LockAccount {
		t.Error("critical post score must lock the account")
	}

	high := Combine(models.RuleResult{Score: 0.7}, 0.8, models.MethodHybrid, PostTransaction, models.StatusApproved)
	if high.Status != models.StatusHold {
		t.Errorf("high post score: expected HOLD, got %s", high.Status)
	}
	if high.LockAccount {
		t.Error("high post score must not lock the account")
	}

	low := Combine(models.RuleResult{Score: 0.1}, 0.2, models.MethodHybrid, PostTransaction, models.StatusApproved)
	if low.Status != models.StatusApproved {
		t.Errorf("low post score must keep the settled status, got %s", low.Status)
	}
}

func TestCombineScoreMonotonicity(t *testing.T) {
	prev := -1.0
	for _, ms := range []float64{0, 0.2, 0.4, 0.6, 0.8, 1.0} {
		d := Combine(models.RuleResult{Score: 0.5}, ms, models.MethodHybrid, PreTransaction, models.StatusPending)
		if d.FraudScore < prev {
			t.Fatalf("score decreased: model %.2f gave %f after %f", ms, d.FraudScore, prev)
		}
		prev = d.FraudScore
	}
}

func TestCombineReasonPriority(t *testing.T) {
	withRules := models.RuleResult{
		Score:   0.5,
		Reasons: []string{"first reason", "second reason"},
	}
	d := Combine(withRules, 0.9, models.MethodHybrid, PreTransaction, models.StatusPending)
	if d.Reason != "first reason" {
		t.Errorf("expected first rule reason, got %q", d.Reason)
	}

	noRules := models.RuleResult{}
	d = Combine(noRules, 0.75, models.MethodHybrid, PreTransaction, models.StatusPending)
	if d.Reason != "ML model detected suspicious patterns" {
		t.Errorf("expected ML reason, got %q", d.Reason)
	}

	d = Combine(noRules, 0.1, models.MethodHybrid, PreTransaction, models.StatusPending)
	if d.Reason != "Transaction appears normal" {
		t.Errorf("expected normal reason, got %q", d.Reason)
	}
}

func TestErrorDecision(t *testing.T) {
	d := ErrorDecision()

	if d.FraudScore != 0.5 {
		t.Errorf("expected neutral score, got %f", d.FraudScore)
	}
	if d.RiskLevel != models.RiskLevelMedium {
		t.Errorf("expected MEDIUM, got %s", d.RiskLevel)
	}
	if d.FraudStatus != models.FraudStatusUnknown {
		t.Errorf("expected UNKNOWN, got %s", d.FraudStatus)
	}
	if d.Status != models.StatusReview {
		t.Errorf("expected REVIEW, got %s", d.Status)
	}
	if d.DetectionMethod != models.MethodError {
		t.Errorf("expected ERROR, got %s", d.DetectionMethod)
	}
	if d.LockAccount {
		t.Error("error decision must never lock accounts")
	}
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		score    float64
		severity string
		action   string
	}{
		{0.95, models.SeverityCritical, models.ActionBlock},
		{0.9, models.SeverityCritical, models.ActionBlock},
		{0.75, models.SeverityHigh, models.ActionReview},
		{0.55, models.SeverityMedium, models.ActionReview},
		{0.45, models.SeverityLow, models.ActionAllowWithWarning},
	}

	for _, tt := range tests {
		severity, action := SeverityFor(tt.score)
		if severity != tt.severity || action != tt.action {
			t.Errorf("score %.2f: got (%s, %s), want (%s, %s)", tt.score, severity, action, tt.severity, tt.action)
		}
	}
}
