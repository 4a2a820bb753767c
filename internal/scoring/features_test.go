package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/paytech/fraud-detection/internal/models"
)

func TestExtractFeaturesWidth(t *testing.T) {
	tx := &models.Transaction{TransactionTime: time.Now()}

	f := ExtractFeatures(tx, nil)

	if len(f) != FeatureCount {
		t.Fatalf("expected %d features, got %d", FeatureCount, len(f))
	}
}

func TestExtractFeaturesValues(t *testing.T) {
	lat, lon := 12.97, 77.59
	tx := &models.Transaction{
		Amount:                   1000,
		Type:                     models.TypeQRCode,
		TransactionTime:          time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC), // Wednesday
		Latitude:                 &lat,
		Longitude:                &lon,
		DeviceType:               "MOBILE",
		MerchantCategory:         "GROCERY",
		TransactionsInLastHour:   5,
		TransactionsInLastDay:    25,
		VelocityScore:            0.3,
		TimeSinceLastTransaction: 43200,
		UnusualTime:              true,
	}
	b := &models.UserBehavior{
		AvgTransactionAmount: 500,
		ConsistencyScore:     0.8,
		FailedAttempts:       5,
		Chargebacks:          1,
	}

	f := ExtractFeatures(tx, b)

	checks := []struct {
		idx  int
		want float64
	}{
		{0, math.Log1p(1000) / math.Log(100000)},
		{1, 2},              // amount / avg
		{2, 12.0 / 24},      // hour
		{3, 3.0 / 7},        // Wednesday
		{4, 1},              // unusual time
		{5, 0.5},            // 5/10
		{6, 0.5},            // 25/50
		{7, 0.3},            // velocity score
		{8, 0},              // not unusual location
		{9, (12.97 + 180) / 360},
		{10, (77.59 + 180) / 360},
		{11, 0},             // not unusual device
		{12, 1},             // mobile
		{13, 1},             // QR
		{14, 0},             // not UPI
		{15, 0.8},           // consistency
		{16, 0.5},           // 5/10 failed attempts
		{17, 0.2},           // 1/5 chargebacks
		{18, 0.5},           // 43200/86400
		{19, 1},             // merchant category present
	}

	for _, c := range checks {
		if math.Abs(f[c.idx]-c.want) > 1e-9 {
			t.Errorf("feature %d: got %f, want %f", c.idx, f[c.idx], c.want)
		}
	}
}

func TestExtractFeaturesNoProfileDefaults(t *testing.T) {
	tx := &models.Transaction{
		Amount:          250,
		TransactionTime: time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC),
	}

	f := ExtractFeatures(tx, nil)

	if f[1] != 1 {
		t.Errorf("amount ratio without profile should be 1, got %f", f[1])
	}
	if f[15] != 0.5 {
		t.Errorf("consistency without profile should be neutral 0.5, got %f", f[15])
	}
	if f[16] != 0 || f[17] != 0 {
		t.Errorf("counter features without profile should be 0, got %f and %f", f[16], f[17])
	}
	if f[18] != 1 {
		t.Errorf("recency with no previous transaction should be 1, got %f", f[18])
	}
	if f[9] != 0 || f[10] != 0 {
		t.Errorf("missing coordinates should map to 0, got %f and %f", f[9], f[10])
	}
}

func TestExtractFeaturesVelocitySaturation(t *testing.T) {
	tx := &models.Transaction{
		TransactionTime:          time.Now(),
		TransactionsInLastHour:   100,
		TransactionsInLastDay:    500,
		TimeSinceLastTransaction: 7 * 86400,
	}

	f := ExtractFeatures(tx, nil)

	if f[5] != 1 || f[6] != 1 {
		t.Errorf("velocity features must saturate at 1, got %f and %f", f[5], f[6])
	}
	if f[18] != 1 {
		t.Errorf("recency must saturate at 1, got %f", f[18])
	}
}
