package fraud

import (
	"context"
	"testing"

	"github.com/paytech/fraud-detection/internal/models"
)

type fakePublisher struct {
	events []*models.AlertEvent
	err    error
}

func (p *fakePublisher) PublishAlert(event *models.AlertEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func newTestFeedback() (*FeedbackApplier, *fakeUserStore, *fakeTransactionStore, *fakeBehaviorStore, *fakeAlertStore, *fakePublisher) {
	users := &fakeUserStore{users: map[string]*models.User{"USR-DETTEST1": cleanUser()}}
	txStore := &fakeTransactionStore{byID: map[string]*models.Transaction{}}
	behaviors := &fakeBehaviorStore{profile: cleanBehavior()}
	alerts := &fakeAlertStore{inserted: true}
	publisher := &fakePublisher{}

	f := NewFeedbackApplier(users, txStore, behaviors, alerts, publisher)
	return f, users, txStore, behaviors, alerts, publisher
}

func safeDecision() models.Decision {
	return models.Decision{
		FraudScore:      0.1,
		RiskLevel:       models.RiskLevelLow,
		FraudStatus:     models.FraudStatusSafe,
		Recommendation:  models.RecommendApprove,
		Status:          models.StatusApproved,
		DetectionMethod: models.MethodHybrid,
		Reason:          "Transaction appears normal",
	}
}

func fraudDecision() models.Decision {
	return models.Decision{
		FraudScore:      0.95,
		RiskLevel:       models.RiskLevelCritical,
		FraudStatus:     models.FraudStatusFraud,
		Recommendation:  models.RecommendDecline,
		Status:          models.StatusDeclined,
		DetectionMethod: models.MethodHybrid,
		Reason:          "Transaction amount exceeds maximum limit",
		TriggeredRules:  []string{"AMOUNT_LIMIT_EXCEEDED"},
	}
}

func TestApplyPersistsDecisionFields(t *testing.T) {
	f, _, txStore, _, _, _ := newTestFeedback()

	tx := cleanTransaction()
	decision := fraudDecision()
	decision.Flags.UnusualLocation = true

	if err := f.Apply(context.Background(), tx, decision); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if len(txStore.updated) != 1 {
		t.Fatalf("expected one persisted update, got %d", len(txStore.updated))
	}
	saved := txStore.updated[0]
	if saved.FraudScore != 0.95 || saved.FraudStatus != models.FraudStatusFraud || saved.Status != models.StatusDeclined {
		t.Errorf("decision fields not persisted: %+v", saved)
	}
	if !saved.UnusualLocation {
		t.Error("behavior flags must be persisted")
	}
	if len(saved.TriggeredRules) != 1 || saved.TriggeredRules[0] != "AMOUNT_LIMIT_EXCEEDED" {
		t.Errorf("triggered rules not persisted: %v", saved.TriggeredRules)
	}
}

func TestApplyRaisesAlertAboveThreshold(t *testing.T) {
	f, _, _, _, alerts, publisher := newTestFeedback()

	decision := fraudDecision()
	decision.Features = []float64{0.1, 0.2}

	if err := f.Apply(context.Background(), cleanTransaction(), decision); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if len(alerts.upserts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts.upserts))
	}
	alert := alerts.upserts[0]
	if alert.Severity != models.SeverityCritical || alert.Action != models.ActionBlock {
		t.Errorf("expected CRITICAL/BLOCK, got %s/%s", alert.Severity, alert.Action)
	}
	if alert.TransactionID != "TXN-DETTEST1" {
		t.Errorf("alert keyed on wrong transaction %q", alert.TransactionID)
	}

	if len(publisher.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(publisher.events))
	}
	if publisher.events[0].AlertID != alert.ID.String() {
		t.Error("event must reference the persisted alert")
	}
}

func TestApplyNoAlertBelowThreshold(t *testing.T) {
	f, _, _, _, alerts, publisher := newTestFeedback()

	if err := f.Apply(context.Background(), cleanTransaction(), safeDecision()); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if len(alerts.upserts) != 0 {
		t.Errorf("no alert expected below threshold, got %d", len(alerts.upserts))
	}
	if len(publisher.events) != 0 {
		t.Errorf("no event expected below threshold, got %d", len(publisher.events))
	}
}

func TestApplySkipsPublishOnRefreshedAlert(t *testing.T) {
	f, _, _, _, alerts, publisher := newTestFeedback()
	alerts.inserted = false // upsert refreshed an existing row

	if err := f.Apply(context.Background(), cleanTransaction(), fraudDecision()); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if len(alerts.upserts) != 1 {
		t.Fatalf("alert row must still be refreshed, got %d upserts", len(alerts.upserts))
	}
	if len(publisher.events) != 0 {
		t.Errorf("refreshed alerts must not be re-published, got %d events", len(publisher.events))
	}
}

func TestApplyTrustAdjustments(t *testing.T) {
	tests := []struct {
		name          string
		score         float64
		wantDelta     float64
		wantIncrement int
	}{
		{"fraud band", 0.75, -20, 1},
		{"suspicious band", 0.5, -5, 0},
		{"clean", 0.2, 0.5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, users, _, _, _, _ := newTestFeedback()

			decision := safeDecision()
			decision.FraudScore = tt.score

			if err := f.Apply(context.Background(), cleanTransaction(), decision); err != nil {
				t.Fatalf("apply failed: %v", err)
			}

			if len(users.trustDeltas) != 1 || users.trustDeltas[0] != tt.wantDelta {
				t.Errorf("expected delta %f, got %v", tt.wantDelta, users.trustDeltas)
			}
			if users.fraudIncrements[0] != tt.wantIncrement {
				t.Errorf("expected fraud increment %d, got %d", tt.wantIncrement, users.fraudIncrements[0])
			}
		})
	}
}

func TestApplyIdempotentReapply(t *testing.T) {
	f, users, txStore, behaviors, _, _ := newTestFeedback()

	decision := fraudDecision()

	// The stored transaction already carries this exact decision
	persisted := cleanTransaction()
	persisted.FraudScore = decision.FraudScore
	persisted.FraudStatus = decision.FraudStatus
	persisted.Status = decision.Status
	txStore.byID[persisted.TransactionID] = persisted

	if err := f.Apply(context.Background(), cleanTransaction(), decision); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if len(users.trustDeltas) != 0 {
		t.Errorf("re-applying the same decision must not adjust trust again, got %v", users.trustDeltas)
	}
	if behaviors.failedIncrements != 0 {
		t.Errorf("re-applying must not record another failed attempt, got %d", behaviors.failedIncrements)
	}
}

func TestApplyLocksAccount(t *testing.T) {
	f, users, _, _, _, _ := newTestFeedback()

	decision := fraudDecision()
	decision.Status = models.StatusBlocked
	decision.LockAccount = true

	if err := f.Apply(context.Background(), cleanTransaction(), decision); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if !users.locked["USR-DETTEST1"] {
		t.Error("critical decision must lock the account")
	}
}

func TestApplyRecordsFailedAttemptOnDecline(t *testing.T) {
	f, _, _, behaviors, _, _ := newTestFeedback()

	if err := f.Apply(context.Background(), cleanTransaction(), fraudDecision()); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if behaviors.failedIncrements != 1 {
		t.Errorf("declined transaction must record a failed attempt, got %d", behaviors.failedIncrements)
	}

	f2, _, _, behaviors2, _, _ := newTestFeedback()
	if err := f2.Apply(context.Background(), cleanTransaction(), safeDecision()); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if behaviors2.failedIncrements != 0 {
		t.Errorf("approved transaction must not record a failed attempt, got %d", behaviors2.failedIncrements)
	}
}

func TestDeclineSkipsSideEffects(t *testing.T) {
	f, users, txStore, behaviors, alerts, publisher := newTestFeedback()

	// A locked-account decline carries a critical score, but it was
	// decided without scoring and must leave everything except the
	// transaction record alone
	decision := models.Decision{
		FraudScore:      1,
		RiskLevel:       models.RiskLevelCritical,
		FraudStatus:     models.FraudStatusFraud,
		Recommendation:  models.RecommendDecline,
		Status:          models.StatusDeclined,
		DetectionMethod: models.MethodRule,
		Reason:          "Account is locked",
	}

	tx := cleanTransaction()
	if err := f.Decline(context.Background(), tx, decision); err != nil {
		t.Fatalf("decline failed: %v", err)
	}

	if len(txStore.updated) != 1 || txStore.updated[0].Status != models.StatusDeclined {
		t.Fatalf("decline must persist the declined transaction, got %+v", txStore.updated)
	}
	if len(alerts.upserts) != 0 {
		t.Errorf("decline must not raise an alert, got %d", len(alerts.upserts))
	}
	if len(publisher.events) != 0 {
		t.Errorf("decline must not publish an event, got %d", len(publisher.events))
	}
	if len(users.trustDeltas) != 0 {
		t.Errorf("decline must not touch the trust score, got %v", users.trustDeltas)
	}
	if len(users.locked) != 0 {
		t.Errorf("decline must not change the account lock, got %v", users.locked)
	}
	if behaviors.failedIncrements != 0 {
		t.Errorf("decline must not record a failed attempt, got %d", behaviors.failedIncrements)
	}
}

func TestApplyWithoutPublisher(t *testing.T) {
	users := &fakeUserStore{users: map[string]*models.User{"USR-DETTEST1": cleanUser()}}
	txStore := &fakeTransactionStore{byID: map[string]*models.Transaction{}}
	behaviors := &fakeBehaviorStore{}
	alerts := &fakeAlertStore{inserted: true}

	f := NewFeedbackApplier(users, txStore, behaviors, alerts, nil)

	if err := f.Apply(context.Background(), cleanTransaction(), fraudDecision()); err != nil {
		t.Fatalf("apply without publisher must not fail: %v", err)
	}
	if len(alerts.upserts) != 1 {
		t.Errorf("alert must still be persisted without a publisher, got %d", len(alerts.upserts))
	}
}
