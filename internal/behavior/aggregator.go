package behavior

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/paytech/fraud-detection/internal/models"
)

// Bounded sizes for the frequency-ordered profile lists
const (
	topHours      = 3
	topDays       = 3
	topCities     = 5
	topMerchants  = 10
	topCategories = 5
)

const secondsPerWeek = 604800

// NewInitialBehavior returns the neutral profile created on first
// reference: all scores 0.5, empty sets.
func NewInitialBehavior(userID string) *models.UserBehavior {
	now := time.Now()
	return &models.UserBehavior{
		UserID:           userID,
		ConsistencyScore: 0.5,
		DiversityScore:   0.5,
		VelocityPattern:  0.5,
		LastUpdated:      now,
		CreatedAt:        now,
	}
}

// Aggregate recomputes a behavior profile from the user's accepted
// transactions. With no accepted history the existing profile is
// returned unchanged. Counters carried on the profile (failed attempts,
// chargebacks, disputes) are preserved; everything else is rewritten.
// The output is deterministic: frequency ties break on the natural
// order of the key.
func Aggregate(existing *models.UserBehavior, userID string, accepted []*models.Transaction, now time.Time) *models.UserBehavior {
	if len(accepted) == 0 {
		return existing
	}

	b := &models.UserBehavior{UserID: userID}
	if existing != nil {
		b.FailedAttempts = existing.FailedAttempts
		b.Chargebacks = existing.Chargebacks
		b.DisputedTransactions = existing.DisputedTransactions
		b.CreatedAt = existing.CreatedAt
	}

	amounts := make([]float64, len(accepted))
	for i, tx := range accepted {
		amounts[i] = tx.Amount
	}

	b.AvgTransactionAmount = stat.Mean(amounts, nil)
	b.MaxTransactionAmount = amounts[0]
	b.MinTransactionAmount = amounts[0]
	for _, a := range amounts[1:] {
		if a > b.MaxTransactionAmount {
			b.MaxTransactionAmount = a
		}
		if a < b.MinTransactionAmount {
			b.MinTransactionAmount = a
		}
	}
	if len(amounts) > 1 {
		b.StdDevTransactionAmount = stat.StdDev(amounts, nil)
	}

	b.TransactionsPerDay = countSince(accepted, now.Add(-24*time.Hour))
	b.TransactionsPerWeek = countSince(accepted, now.Add(-7*24*time.Hour))
	b.TransactionsPerMonth = countSince(accepted, now.Add(-30*24*time.Hour))

	hourCounts := make(map[int]int)
	dayCounts := make(map[int]int)
	cityCounts := make(map[string]int)
	merchantCounts := make(map[string]int)
	categoryCounts := make(map[string]int)
	countries := make(map[string]struct{})
	devices := make(map[string]struct{})
	ips := make(map[string]struct{})

	for _, tx := range accepted {
		hourCounts[tx.TransactionTime.Hour()]++
		dayCounts[int(tx.TransactionTime.Weekday())]++
		if tx.City != "" {
			cityCounts[tx.City]++
		}
		if tx.MerchantName != "" {
			merchantCounts[tx.MerchantName]++
		}
		if tx.MerchantCategory != "" {
			categoryCounts[tx.MerchantCategory]++
		}
		if tx.Country != "" {
			countries[tx.Country] = struct{}{}
		}
		if tx.DeviceID != "" {
			devices[tx.DeviceID] = struct{}{}
		}
		if tx.IPAddress != "" {
			ips[tx.IPAddress] = struct{}{}
		}
	}

	b.PreferredHours = topIntKeys(hourCounts, topHours)
	b.PreferredDays = topIntKeys(dayCounts, topDays)
	b.FrequentCities = topStringKeys(cityCounts, topCities)
	b.FrequentMerchants = topStringKeys(merchantCounts, topMerchants)
	b.FrequentCategories = topStringKeys(categoryCounts, topCategories)
	b.FrequentCountries = sortedKeys(countries)
	b.KnownDevices = sortedKeys(devices)
	b.KnownIPs = sortedKeys(ips)

	b.ConsistencyScore = consistencyScore(b.AvgTransactionAmount, b.StdDevTransactionAmount, len(accepted))
	b.DiversityScore = diversityScore(len(merchantCounts), len(categoryCounts))
	b.VelocityPattern = velocityPattern(accepted)
	b.DataPointsCount = len(accepted)
	b.LastUpdated = now

	return b
}

// consistencyScore rewards a low spread relative to the mean; with
// fewer than 10 data points it stays neutral
func consistencyScore(mean, stdDev float64, size int) float64 {
	if size < 10 || mean <= 0 {
		return 0.5
	}
	return math.Max(0, 1-math.Min(stdDev/mean, 1))
}

// diversityScore grows with the breadth of merchants and categories
func diversityScore(uniqueMerchants, uniqueCategories int) float64 {
	m := math.Min(float64(uniqueMerchants)/20, 1)
	c := math.Min(float64(uniqueCategories)/10, 1)
	return (m + c) / 2
}

// velocityPattern normalizes the mean inter-arrival gap by one week
func velocityPattern(accepted []*models.Transaction) float64 {
	if len(accepted) < 2 {
		return 0.5
	}

	ordered := make([]*models.Transaction, len(accepted))
	copy(ordered, accepted)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].TransactionTime.After(ordered[j].TransactionTime)
	})

	var total float64
	for i := 0; i < len(ordered)-1; i++ {
		gap := ordered[i].TransactionTime.Sub(ordered[i+1].TransactionTime).Seconds()
		total += math.Abs(gap)
	}

	mean := total / float64(len(ordered)-1)
	return math.Min(mean/secondsPerWeek, 1)
}

func countSince(transactions []*models.Transaction, since time.Time) int {
	count := 0
	for _, tx := range transactions {
		if !tx.TransactionTime.Before(since) {
			count++
		}
	}
	return count
}

func topIntKeys(counts map[int]int, k int) []int {
	keys := make([]int, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > k {
		keys = keys[:k]
	}
	return keys
}

func topStringKeys(counts map[string]int, k int) []string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > k {
		keys = keys[:k]
	}
	return keys
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
