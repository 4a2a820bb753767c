package behavior

import (
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/paytech/fraud-detection/internal/models"
)

func acceptedTx(id string, amount float64, at time.Time) *models.Transaction {
	return &models.Transaction{
		TransactionID:   id,
		UserID:          "USR-AGGTEST1",
		Amount:          amount,
		TransactionTime: at,
		Status:          models.StatusApproved,
	}
}

func TestNewInitialBehavior(t *testing.T) {
	b := NewInitialBehavior("USR-AGGTEST1")

	if b.UserID != "USR-AGGTEST1" {
		t.Errorf("unexpected user id %q", b.UserID)
	}
	if b.ConsistencyScore != 0.5 || b.DiversityScore != 0.5 || b.VelocityPattern != 0.5 {
		t.Errorf("initial scores must be neutral, got %f %f %f",
			b.ConsistencyScore, b.DiversityScore, b.VelocityPattern)
	}
	if b.DataPointsCount != 0 {
		t.Errorf("initial profile must have no data points, got %d", b.DataPointsCount)
	}
}

func TestAggregateEmptyHistoryReturnsExisting(t *testing.T) {
	existing := NewInitialBehavior("USR-AGGTEST1")

	got := Aggregate(existing, "USR-AGGTEST1", nil, time.Now())

	if got != existing {
		t.Error("empty history must return the existing profile unchanged")
	}
}

func TestAggregateAmountStats(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	accepted := []*models.Transaction{
		acceptedTx("TXN-A1", 100, now.Add(-1*time.Hour)),
		acceptedTx("TXN-A2", 200, now.Add(-2*time.Hour)),
		acceptedTx("TXN-A3", 300, now.Add(-3*time.Hour)),
	}

	b := Aggregate(nil, "USR-AGGTEST1", accepted, now)

	if b.AvgTransactionAmount != 200 {
		t.Errorf("expected mean 200, got %f", b.AvgTransactionAmount)
	}
	if b.MinTransactionAmount != 100 || b.MaxTransactionAmount != 300 {
		t.Errorf("expected min 100 max 300, got %f and %f",
			b.MinTransactionAmount, b.MaxTransactionAmount)
	}
	// Sample standard deviation of {100, 200, 300}
	if math.Abs(b.StdDevTransactionAmount-100) > 1e-9 {
		t.Errorf("expected stddev 100, got %f", b.StdDevTransactionAmount)
	}
	if b.DataPointsCount != 3 {
		t.Errorf("expected 3 data points, got %d", b.DataPointsCount)
	}
}

func TestAggregatePreservesCounters(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := &models.UserBehavior{
		UserID:               "USR-AGGTEST1",
		FailedAttempts:       7,
		Chargebacks:          2,
		DisputedTransactions: 1,
		CreatedAt:            created,
		AvgTransactionAmount: 9999, // must be recomputed
	}
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	accepted := []*models.Transaction{acceptedTx("TXN-B1", 50, now.Add(-time.Hour))}

	b := Aggregate(existing, "USR-AGGTEST1", accepted, now)

	if b.FailedAttempts != 7 || b.Chargebacks != 2 || b.DisputedTransactions != 1 {
		t.Errorf("counters must carry over, got %d %d %d",
			b.FailedAttempts, b.Chargebacks, b.DisputedTransactions)
	}
	if !b.CreatedAt.Equal(created) {
		t.Errorf("created-at must carry over, got %v", b.CreatedAt)
	}
	if b.AvgTransactionAmount != 50 {
		t.Errorf("average must be recomputed from history, got %f", b.AvgTransactionAmount)
	}
}

func TestAggregateDeterministic(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	build := func() []*models.Transaction {
		var txs []*models.Transaction
		for i := 0; i < 25; i++ {
			tx := acceptedTx(fmt.Sprintf("TXN-D%02d", i), float64(50+i*13), now.Add(-time.Duration(i)*6*time.Hour))
			tx.City = []string{"Mumbai", "Delhi", "Pune"}[i%3]
			tx.Country = []string{"IN", "US"}[i%2]
			tx.MerchantName = fmt.Sprintf("merchant-%d", i%7)
			tx.MerchantCategory = []string{"GROCERY", "FUEL", "DINING"}[i%3]
			tx.DeviceID = fmt.Sprintf("device-%d", i%4)
			tx.IPAddress = fmt.Sprintf("10.0.0.%d", i%5)
			txs = append(txs, tx)
		}
		return txs
	}

	a := Aggregate(nil, "USR-AGGTEST1", build(), now)
	b := Aggregate(nil, "USR-AGGTEST1", build(), now)

	if !reflect.DeepEqual(a, b) {
		t.Errorf("same history must produce identical profiles:\n%+v\n%+v", a, b)
	}
}

func TestAggregateTieBreakOrdering(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	// Every hour and city appears exactly once, so ordering falls back
	// to the natural order of the key
	accepted := []*models.Transaction{
		acceptedTx("TXN-T1", 10, time.Date(2026, 3, 30, 22, 0, 0, 0, time.UTC)),
		acceptedTx("TXN-T2", 10, time.Date(2026, 3, 30, 9, 0, 0, 0, time.UTC)),
		acceptedTx("TXN-T3", 10, time.Date(2026, 3, 30, 15, 0, 0, 0, time.UTC)),
		acceptedTx("TXN-T4", 10, time.Date(2026, 3, 30, 4, 0, 0, 0, time.UTC)),
	}
	accepted[0].City = "Pune"
	accepted[1].City = "Delhi"
	accepted[2].City = "Mumbai"
	accepted[3].City = "Agra"

	b := Aggregate(nil, "USR-AGGTEST1", accepted, now)

	if want := []int{4, 9, 15}; !reflect.DeepEqual(b.PreferredHours, want) {
		t.Errorf("preferred hours: got %v, want %v", b.PreferredHours, want)
	}
	if len(b.FrequentCities) != 4 || b.FrequentCities[0] != "Agra" || b.FrequentCities[3] != "Pune" {
		t.Errorf("frequent cities must tie-break alphabetically, got %v", b.FrequentCities)
	}

	// A clear frequency winner sorts first regardless of key order
	accepted[0].City = "Zurich"
	accepted[1].City = "Zurich"
	accepted[2].City = "Zurich"
	b = Aggregate(nil, "USR-AGGTEST1", accepted, now)
	if b.FrequentCities[0] != "Zurich" {
		t.Errorf("most frequent city must sort first, got %v", b.FrequentCities)
	}
}

func TestAggregateWindowCounts(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	accepted := []*models.Transaction{
		acceptedTx("TXN-W1", 10, now.Add(-2*time.Hour)),      // day, week, month
		acceptedTx("TXN-W2", 10, now.Add(-3*24*time.Hour)),   // week, month
		acceptedTx("TXN-W3", 10, now.Add(-20*24*time.Hour)),  // month
		acceptedTx("TXN-W4", 10, now.Add(-45*24*time.Hour)),  // outside all windows
	}

	b := Aggregate(nil, "USR-AGGTEST1", accepted, now)

	if b.TransactionsPerDay != 1 {
		t.Errorf("expected 1 transaction in last day, got %d", b.TransactionsPerDay)
	}
	if b.TransactionsPerWeek != 2 {
		t.Errorf("expected 2 transactions in last week, got %d", b.TransactionsPerWeek)
	}
	if b.TransactionsPerMonth != 3 {
		t.Errorf("expected 3 transactions in last month, got %d", b.TransactionsPerMonth)
	}
}

func TestConsistencyScore(t *testing.T) {
	if got := consistencyScore(100, 20, 5); got != 0.5 {
		t.Errorf("below 10 points must stay neutral, got %f", got)
	}
	if got := consistencyScore(0, 20, 50); got != 0.5 {
		t.Errorf("non-positive mean must stay neutral, got %f", got)
	}
	if got := consistencyScore(100, 20, 50); math.Abs(got-0.8) > 1e-9 {
		t.Errorf("expected 0.8 for 20%% spread, got %f", got)
	}
	if got := consistencyScore(100, 500, 50); got != 0 {
		t.Errorf("spread beyond the mean must floor at 0, got %f", got)
	}
}

func TestDiversityScore(t *testing.T) {
	if got := diversityScore(0, 0); got != 0 {
		t.Errorf("no diversity must score 0, got %f", got)
	}
	if got := diversityScore(10, 5); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("expected 0.5 at half saturation, got %f", got)
	}
	if got := diversityScore(100, 100); got != 1 {
		t.Errorf("diversity must saturate at 1, got %f", got)
	}
}

func TestVelocityPattern(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	single := []*models.Transaction{acceptedTx("TXN-V1", 10, now)}
	if got := velocityPattern(single); got != 0.5 {
		t.Errorf("fewer than two transactions must stay neutral, got %f", got)
	}

	// Gaps of exactly one day between consecutive transactions
	daily := []*models.Transaction{
		acceptedTx("TXN-V2", 10, now),
		acceptedTx("TXN-V3", 10, now.Add(-24*time.Hour)),
		acceptedTx("TXN-V4", 10, now.Add(-48*time.Hour)),
	}
	if got := velocityPattern(daily); math.Abs(got-86400.0/secondsPerWeek) > 1e-9 {
		t.Errorf("expected one-day mean gap normalized by a week, got %f", got)
	}

	// Unsorted input must give the same answer
	shuffled := []*models.Transaction{daily[1], daily[2], daily[0]}
	if a, b := velocityPattern(daily), velocityPattern(shuffled); a != b {
		t.Errorf("velocity must not depend on input order: %f vs %f", a, b)
	}

	sparse := []*models.Transaction{
		acceptedTx("TXN-V5", 10, now),
		acceptedTx("TXN-V6", 10, now.Add(-30*24*time.Hour)),
	}
	if got := velocityPattern(sparse); got != 1 {
		t.Errorf("mean gap beyond a week must clamp to 1, got %f", got)
	}
}
