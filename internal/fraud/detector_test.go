package fraud

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/paytech/fraud-detection/configs"
	"github.com/paytech/fraud-detection/internal/models"
	"github.com/paytech/fraud-detection/internal/repositories"
	"github.com/paytech/fraud-detection/internal/scoring"
)

// In-memory store fakes shared by the detector and feedback tests.

type fakeUserStore struct {
	users           map[string]*models.User
	trustDeltas     []float64
	fraudIncrements []int
	locked          map[string]bool
	adjustErr       error
}

func (s *fakeUserStore) GetByUserID(_ context.Context, userID string) (*models.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	return u, nil
}

func (s *fakeUserStore) AdjustTrustScore(_ context.Context, _ string, delta float64, fraudIncrement int) (float64, error) {
	if s.adjustErr != nil {
		return 0, s.adjustErr
	}
	s.trustDeltas = append(s.trustDeltas, delta)
	s.fraudIncrements = append(s.fraudIncrements, fraudIncrement)
	return 50, nil
}

func (s *fakeUserStore) SetAccountLock(_ context.Context, userID string, locked bool) error {
	if s.locked == nil {
		s.locked = make(map[string]bool)
	}
	s.locked[userID] = locked
	return nil
}

type fakeTransactionStore struct {
	byID       map[string]*models.Transaction
	recent     []*models.Transaction
	recentErr  error
	devices    []string
	devicesErr error
	fraudCount int
	updated    []*models.Transaction
}

func (s *fakeTransactionStore) GetByTransactionID(_ context.Context, transactionID string) (*models.Transaction, error) {
	tx, ok := s.byID[transactionID]
	if !ok {
		return nil, repositories.ErrTransactionNotFound
	}
	return tx, nil
}

func (s *fakeTransactionStore) GetRecentByUser(_ context.Context, _ string, _ time.Time) ([]*models.Transaction, error) {
	return s.recent, s.recentErr
}

func (s *fakeTransactionStore) GetDistinctDevicesByUser(_ context.Context, _ string) ([]string, error) {
	return s.devices, s.devicesErr
}

func (s *fakeTransactionStore) CountFraudulentByUser(_ context.Context, _ string) (int, error) {
	return s.fraudCount, nil
}

func (s *fakeTransactionStore) UpdateFraudFields(_ context.Context, tx *models.Transaction) error {
	clone := *tx
	s.updated = append(s.updated, &clone)
	return nil
}

type fakeBehaviorStore struct {
	profile          *models.UserBehavior
	getErr           error
	failedIncrements int
}

func (s *fakeBehaviorStore) GetByUserID(_ context.Context, _ string) (*models.UserBehavior, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.profile == nil {
		return nil, repositories.ErrBehaviorNotFound
	}
	return s.profile, nil
}

func (s *fakeBehaviorStore) IncrementFailedAttempts(_ context.Context, _ string) error {
	s.failedIncrements++
	return nil
}

type fakeAlertStore struct {
	upserts   []*models.FraudAlert
	inserted  bool
	upsertErr error
	count     int
}

func (s *fakeAlertStore) Upsert(_ context.Context, alert *models.FraudAlert) (bool, error) {
	if s.upsertErr != nil {
		return false, s.upsertErr
	}
	s.upserts = append(s.upserts, alert)
	return s.inserted, nil
}

func (s *fakeAlertStore) CountByUserID(_ context.Context, _ string) (int, error) {
	return s.count, nil
}

type fakeCache struct {
	entries map[string][]byte
	sets    int
}

func (c *fakeCache) Get(_ context.Context, key string, dest interface{}) error {
	raw, ok := c.entries[key]
	if !ok {
		return errors.New("cache miss")
	}
	return json.Unmarshal(raw, dest)
}

func (c *fakeCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if c.entries == nil {
		c.entries = make(map[string][]byte)
	}
	c.entries[key] = raw
	c.sets++
	return nil
}

// fakeModel returns a fixed score, optionally after a delay
type fakeModel struct {
	score float64
	err   error
	delay time.Duration
	block chan struct{} // when set, Score blocks until closed
}

func (m *fakeModel) Score(_ context.Context, _ []float64) (float64, error) {
	if m.block != nil {
		<-m.block
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return m.score, m.err
}

func (m *fakeModel) Version() string { return "fake-v1" }

func cleanTransaction() *models.Transaction {
	return &models.Transaction{
		TransactionID:   "TXN-DETTEST1",
		UserID:          "USR-DETTEST1",
		Amount:          120,
		TransactionTime: time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
		Country:         "US",
		DeviceID:        "device-1",
		Status:          models.StatusPending,
		FraudStatus:     models.FraudStatusUnknown,
	}
}

func cleanUser() *models.User {
	return &models.User{
		UserID:           "USR-DETTEST1",
		TrustScore:       85,
		RegistrationDate: time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC),
	}
}

func cleanBehavior() *models.UserBehavior {
	return &models.UserBehavior{
		UserID:                  "USR-DETTEST1",
		AvgTransactionAmount:    100,
		StdDevTransactionAmount: 25,
		FrequentCountries:       []string{"US"},
		KnownDevices:            []string{"device-1"},
		VelocityPattern:         0.3,
	}
}

func newTestDetector(txStore *fakeTransactionStore, model scoring.ModelScorer, timeout time.Duration) (*Detector, *fakeUserStore, *fakeBehaviorStore, *fakeAlertStore, *fakeCache) {
	users := &fakeUserStore{users: map[string]*models.User{"USR-DETTEST1": cleanUser()}}
	behaviors := &fakeBehaviorStore{profile: cleanBehavior()}
	alerts := &fakeAlertStore{}
	cache := &fakeCache{}

	engine := scoring.NewRuleEngine(configs.FraudConfig{
		MaxTransactionAmount:   10000,
		MaxTransactionsPerHour: 10,
		MaxTransactionsPerDay:  50,
	})

	d := NewDetector(users, txStore, behaviors, alerts, cache, engine, model, timeout)
	return d, users, behaviors, alerts, cache
}

func TestCheckHybridScoring(t *testing.T) {
	txStore := &fakeTransactionStore{devices: []string{"device-1"}}
	d, _, _, _, _ := newTestDetector(txStore, &fakeModel{score: 0.9}, time.Second)

	decision := d.Check(context.Background(), cleanTransaction(), cleanUser(), cleanBehavior(), scoring.PreTransaction)

	// No rules fire, so the score is the weighted model share alone
	if decision.DetectionMethod != models.MethodHybrid {
		t.Errorf("expected HYBRID, got %s", decision.DetectionMethod)
	}
	if decision.FraudScore != 0.54 {
		t.Errorf("expected 0.6*0.9 = 0.54, got %f", decision.FraudScore)
	}
	if len(decision.Features) != scoring.FeatureCount {
		t.Errorf("decision must carry the feature vector, got %d values", len(decision.Features))
	}
}

func TestCheckModelTimeoutFallsBackToRules(t *testing.T) {
	txStore := &fakeTransactionStore{devices: []string{"device-1"}}
	d, _, _, _, _ := newTestDetector(txStore, &fakeModel{score: 1, delay: 500 * time.Millisecond}, 10*time.Millisecond)

	tx := cleanTransaction()
	tx.Amount = 20000 // HIGH_AMOUNT + ROUND_AMOUNT + AMOUNT_LIMIT_EXCEEDED

	decision := d.Check(context.Background(), tx, cleanUser(), cleanBehavior(), scoring.PreTransaction)

	if decision.DetectionMethod != models.MethodRule {
		t.Fatalf("expected RULE_BASED after timeout, got %s", decision.DetectionMethod)
	}
	// Rule weights 0.30 + 0.05 + 0.40, no model contribution
	if decision.FraudScore != 0.75 {
		t.Errorf("expected rule-only score 0.75, got %f", decision.FraudScore)
	}
	if decision.Status != models.StatusDeclined {
		t.Errorf("expected DECLINED, got %s", decision.Status)
	}
}

func TestCheckModelErrorUsesNeutralScore(t *testing.T) {
	txStore := &fakeTransactionStore{devices: []string{"device-1"}}
	d, _, _, _, _ := newTestDetector(txStore, &fakeModel{err: errors.New("model unavailable")}, time.Second)

	decision := d.Check(context.Background(), cleanTransaction(), cleanUser(), cleanBehavior(), scoring.PreTransaction)

	if decision.DetectionMethod != models.MethodHybrid {
		t.Errorf("model errors keep the hybrid method, got %s", decision.DetectionMethod)
	}
	// fakeModel returns a zero score alongside the error
	if decision.FraudScore != 0 {
		t.Errorf("expected score 0, got %f", decision.FraudScore)
	}
}

func TestCheckEnrichmentFailureYieldsErrorDecision(t *testing.T) {
	txStore := &fakeTransactionStore{devicesErr: errors.New("connection refused")}
	d, _, _, _, _ := newTestDetector(txStore, &fakeModel{score: 0.9}, time.Second)

	decision := d.Check(context.Background(), cleanTransaction(), cleanUser(), cleanBehavior(), scoring.PreTransaction)

	if decision.DetectionMethod != models.MethodError {
		t.Fatalf("expected ERROR decision, got %s", decision.DetectionMethod)
	}
	if decision.FraudScore != 0.5 || decision.Status != models.StatusReview {
		t.Errorf("error decision must route to review with a neutral score, got %f %s",
			decision.FraudScore, decision.Status)
	}
}

func TestCheckCancelledContextYieldsErrorDecision(t *testing.T) {
	txStore := &fakeTransactionStore{devices: []string{"device-1"}}
	blocked := &fakeModel{block: make(chan struct{})}
	defer close(blocked.block)
	d, _, _, _, _ := newTestDetector(txStore, blocked, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	decision := d.Check(ctx, cleanTransaction(), cleanUser(), cleanBehavior(), scoring.PreTransaction)

	if decision.DetectionMethod != models.MethodError {
		t.Errorf("expected ERROR decision on cancellation, got %s", decision.DetectionMethod)
	}
}

func TestLoadBehavior(t *testing.T) {
	txStore := &fakeTransactionStore{}
	d, _, behaviors, _, cache := newTestDetector(txStore, &fakeModel{}, time.Second)

	got := d.LoadBehavior(context.Background(), "USR-DETTEST1")
	if got == nil || got.AvgTransactionAmount != 100 {
		t.Fatalf("expected stored profile, got %+v", got)
	}

	behaviors.profile = nil
	if got := d.LoadBehavior(context.Background(), "USR-DETTEST1"); got != nil {
		t.Errorf("missing profile must yield nil, got %+v", got)
	}

	// A cached profile short-circuits the store
	seeded := cleanBehavior()
	seeded.AvgTransactionAmount = 777
	if err := cache.Set(context.Background(), "behavior:USR-DETTEST1", seeded, time.Minute); err != nil {
		t.Fatalf("cache seed failed: %v", err)
	}
	got = d.LoadBehavior(context.Background(), "USR-DETTEST1")
	if got == nil || got.AvgTransactionAmount != 777 {
		t.Errorf("expected cached profile, got %+v", got)
	}
}

func TestEnrich(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	txStore := &fakeTransactionStore{
		recent: []*models.Transaction{
			{TransactionID: "TXN-R1", TransactionTime: now.Add(-10 * time.Minute)},
			{TransactionID: "TXN-R2", TransactionTime: now.Add(-40 * time.Minute)},
			{TransactionID: "TXN-R3", TransactionTime: now.Add(-5 * time.Hour)},
			{TransactionID: "TXN-DETTEST1", TransactionTime: now}, // self, skipped
		},
	}
	d, _, _, _, _ := newTestDetector(txStore, &fakeModel{}, time.Second)

	tx := cleanTransaction()
	b := cleanBehavior()

	if err := d.Enrich(context.Background(), tx, b); err != nil {
		t.Fatalf("enrich failed: %v", err)
	}

	if tx.TransactionsInLastDay != 3 {
		t.Errorf("expected 3 transactions in last day, got %d", tx.TransactionsInLastDay)
	}
	if tx.TransactionsInLastHour != 2 {
		t.Errorf("expected 2 transactions in last hour, got %d", tx.TransactionsInLastHour)
	}
	if tx.TimeSinceLastTransaction != 600 {
		t.Errorf("expected 600s since last transaction, got %f", tx.TimeSinceLastTransaction)
	}
	if tx.AvgTransactionAmount != 100 {
		t.Errorf("expected profile average 100, got %f", tx.AvgTransactionAmount)
	}
	if tx.VelocityScore != 0.3 {
		t.Errorf("expected velocity 0.3 from profile, got %f", tx.VelocityScore)
	}
}

func TestEnrichRecountsCarriedOverWindows(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	txStore := &fakeTransactionStore{
		recent: []*models.Transaction{
			{TransactionID: "TXN-R1", TransactionTime: now.Add(-20 * time.Minute)},
			{TransactionID: "TXN-R2", TransactionTime: now.Add(-30 * time.Minute)},
			{TransactionID: "TXN-R3", TransactionTime: now.Add(-50 * time.Minute)},
		},
	}
	d, _, _, _, _ := newTestDetector(txStore, &fakeModel{}, time.Second)

	// A re-verified transaction arrives with the counts persisted by
	// its first scoring pass
	tx := cleanTransaction()
	tx.TransactionsInLastHour = 3
	tx.TransactionsInLastDay = 3
	tx.TimeSinceLastTransaction = 42

	if err := d.Enrich(context.Background(), tx, cleanBehavior()); err != nil {
		t.Fatalf("enrich failed: %v", err)
	}

	if tx.TransactionsInLastHour != 3 || tx.TransactionsInLastDay != 3 {
		t.Errorf("re-enrichment must recount, not accumulate: got %d/%d, want 3/3",
			tx.TransactionsInLastHour, tx.TransactionsInLastDay)
	}
	if tx.TimeSinceLastTransaction != 1200 {
		t.Errorf("time since last transaction must be recomputed, got %f", tx.TimeSinceLastTransaction)
	}
}

func TestEnrichWithoutProfile(t *testing.T) {
	txStore := &fakeTransactionStore{}
	d, _, _, _, _ := newTestDetector(txStore, &fakeModel{}, time.Second)

	tx := cleanTransaction()
	if err := d.Enrich(context.Background(), tx, nil); err != nil {
		t.Fatalf("enrich failed: %v", err)
	}

	if tx.AvgTransactionAmount != tx.Amount {
		t.Errorf("without a profile the average falls back to the amount, got %f", tx.AvgTransactionAmount)
	}
}

func TestGetUserFraudStatistics(t *testing.T) {
	txStore := &fakeTransactionStore{fraudCount: 2}
	d, users, _, alerts, cache := newTestDetector(txStore, &fakeModel{}, time.Second)
	alerts.count = 5
	users.users["USR-DETTEST1"].AccountLocked = true

	stats, err := d.GetUserFraudStatistics(context.Background(), "USR-DETTEST1")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}

	if stats.TrustScore != 85 || stats.TotalFraudAlerts != 5 || stats.FraudulentTransactions != 2 || !stats.AccountLocked {
		t.Errorf("unexpected stats %+v", stats)
	}
	if cache.sets != 1 {
		t.Errorf("stats must be cached once, got %d sets", cache.sets)
	}

	// Second call is served from the cache even after the store changes
	alerts.count = 99
	again, err := d.GetUserFraudStatistics(context.Background(), "USR-DETTEST1")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if again.TotalFraudAlerts != 5 {
		t.Errorf("expected cached alert count 5, got %d", again.TotalFraudAlerts)
	}

	if _, err := d.GetUserFraudStatistics(context.Background(), "USR-NOSUCH"); !errors.Is(err, repositories.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}
