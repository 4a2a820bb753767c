package scoring

import (
	"math"

	"github.com/paytech/fraud-detection/internal/models"
)

// FeatureCount is the fixed width of the model input vector
const FeatureCount = 20

// ExtractFeatures builds the model feature vector from an enriched
// transaction and the user's behavior profile (nil for new users).
// All features are in [0,1] except the amount ratio, which is left raw.
func ExtractFeatures(tx *models.Transaction, b *models.UserBehavior) []float64 {
	f := make([]float64, FeatureCount)

	// Amount features
	f[0] = math.Min(math.Log1p(tx.Amount)/math.Log(100000), 1)
	f[1] = 1
	if b != nil && b.AvgTransactionAmount > 0 {
		f[1] = tx.Amount / b.AvgTransactionAmount
	}

	// Temporal features
	f[2] = float64(tx.TransactionTime.Hour()) / 24
	f[3] = float64(tx.TransactionTime.Weekday()) / 7
	f[4] = boolFeature(tx.UnusualTime)

	// Velocity features
	f[5] = math.Min(float64(tx.TransactionsInLastHour)/10, 1)
	f[6] = math.Min(float64(tx.TransactionsInLastDay)/50, 1)
	f[7] = tx.VelocityScore

	// Location features
	f[8] = boolFeature(tx.UnusualLocation)
	if tx.Latitude != nil {
		f[9] = (*tx.Latitude + 180) / 360
	}
	if tx.Longitude != nil {
		f[10] = (*tx.Longitude + 180) / 360
	}

	// Device and channel features
	f[11] = boolFeature(tx.UnusualDevice)
	f[12] = boolFeature(tx.DeviceType == "MOBILE")
	f[13] = boolFeature(tx.Type == models.TypeQRCode)
	f[14] = boolFeature(tx.Type == models.TypeUPI)

	// Behavioral features
	f[15] = 0.5
	f[16] = 0
	f[17] = 0
	if b != nil {
		f[15] = b.ConsistencyScore
		f[16] = math.Min(float64(b.FailedAttempts)/10, 1)
		f[17] = math.Min(float64(b.Chargebacks)/5, 1)
	}

	// Recency: 1 when there is no previous transaction
	f[18] = 1
	if tx.TimeSinceLastTransaction > 0 {
		f[18] = math.Min(tx.TimeSinceLastTransaction/86400, 1)
	}

	f[19] = boolFeature(tx.MerchantCategory != "")

	return f
}

func boolFeature(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
