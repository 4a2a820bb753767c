package scoring

import (
	"math"
	"time"

	"github.com/paytech/fraud-detection/configs"
	"github.com/paytech/fraud-detection/internal/models"
)

// Rule IDs, in evaluation-table order
const (
	RuleHighAmount             = "HIGH_AMOUNT"
	RuleHighVelocity           = "HIGH_VELOCITY"
	RuleUnusualTime            = "UNUSUAL_TIME"
	RuleUnusualLocation        = "UNUSUAL_LOCATION"
	RuleNewDevice              = "NEW_DEVICE"
	RuleLowTrustScore          = "LOW_TRUST_SCORE"
	RuleNewAccount             = "NEW_ACCOUNT"
	RuleMultipleFailedAttempts = "MULTIPLE_FAILED_ATTEMPTS"
	RuleRoundAmount            = "ROUND_AMOUNT"
	RuleAmountLimitExceeded    = "AMOUNT_LIMIT_EXCEEDED"
)

// RuleInput is the read-only context a single evaluation runs against.
// User and Behavior may be nil for first-time users.
type RuleInput struct {
	Tx             *models.Transaction
	User           *models.User
	Behavior       *models.UserBehavior
	KnownDevices   []string
	CountsLastHour int
	CountsLastDay  int
}

// RuleEngine evaluates the fixed fraud rule table. It is a pure function
// of its input and safe for concurrent use across requests.
type RuleEngine struct {
	cfg   configs.FraudConfig
	rules []fraudRule
}

type fraudRule struct {
	ID       string
	Name     string
	Weight   float64
	Reason   string
	Evaluate func(in *RuleInput) bool
}

// NewRuleEngine creates a rule engine with the given thresholds
func NewRuleEngine(cfg configs.FraudConfig) *RuleEngine {
	e := &RuleEngine{cfg: cfg}
	e.initializeRules()
	return e
}

func (e *RuleEngine) initializeRules() {
	e.rules = []fraudRule{
		{
			ID:     RuleHighAmount,
			Name:   "High Amount",
			Weight: 0.30,
			Reason: "Transaction amount significantly higher than user's average",
			Evaluate: func(in *RuleInput) bool {
				b := in.Behavior
				if b == nil || b.AvgTransactionAmount <= 0 {
					return in.Tx.Amount > 5000
				}
				stdDev := b.StdDevTransactionAmount
				if stdDev <= 0 {
					stdDev = b.AvgTransactionAmount * 0.5
				}
				return in.Tx.Amount > b.AvgTransactionAmount+3*stdDev
			},
		},
		{
			ID:     RuleHighVelocity,
			Name:   "High Velocity",
			Weight: 0.25,
			Reason: "Too many transactions in short time period",
			Evaluate: func(in *RuleInput) bool {
				return in.CountsLastHour > e.cfg.MaxTransactionsPerHour ||
					in.CountsLastDay > e.cfg.MaxTransactionsPerDay
			},
		},
		{
			ID:     RuleUnusualTime,
			Name:   "Unusual Time",
			Weight: 0.15,
			Reason: "Transaction at unusual hour for this user",
			Evaluate: func(in *RuleInput) bool {
				hour := in.Tx.TransactionTime.Hour()
				return hour >= 2 && hour < 6
			},
		},
		{
			ID:     RuleUnusualLocation,
			Name:   "Unusual Location",
			Weight: 0.20,
			Reason: "Transaction from new or unusual location",
			Evaluate: func(in *RuleInput) bool {
				if in.Tx.Country == "" {
					return false
				}
				if in.Behavior == nil {
					return true
				}
				return !containsString(in.Behavior.FrequentCountries, in.Tx.Country)
			},
		},
		{
			ID:     RuleNewDevice,
			Name:   "New Device",
			Weight: 0.15,
			Reason: "Transaction from unrecognized device",
			Evaluate: func(in *RuleInput) bool {
				if in.Tx.DeviceID == "" {
					return false
				}
				return !containsString(in.KnownDevices, in.Tx.DeviceID)
			},
		},
		{
			ID:     RuleLowTrustScore,
			Name:   "Low Trust Score",
			Weight: 0.20,
			Reason: "User has low trust score",
			Evaluate: func(in *RuleInput) bool {
				return in.User != nil && in.User.TrustScore < 50
			},
		},
		{
			ID:     RuleNewAccount,
			Name:   "New Account",
			Weight: 0.10,
			Reason: "Transaction from new account",
			Evaluate: func(in *RuleInput) bool {
				if in.User == nil {
					return false
				}
				return in.Tx.TransactionTime.Sub(in.User.RegistrationDate) < 7*24*time.Hour
			},
		},
		{
			ID:     RuleMultipleFailedAttempts,
			Name:   "Multiple Failed Attempts",
			Weight: 0.15,
			Reason: "Multiple failed transaction attempts recently",
			Evaluate: func(in *RuleInput) bool {
				return in.Behavior != nil && in.Behavior.FailedAttempts > 3
			},
		},
		{
			ID:     RuleRoundAmount,
			Name:   "Round Amount",
			Weight: 0.05,
			Reason: "Suspiciously round transaction amount",
			Evaluate: func(in *RuleInput) bool {
				amount := in.Tx.Amount
				return amount >= 500 && (math.Mod(amount, 1000) == 0 || math.Mod(amount, 500) == 0)
			},
		},
		{
			ID:     RuleAmountLimitExceeded,
			Name:   "Amount Limit Exceeded",
			Weight: 0.40,
			Reason: "Transaction amount exceeds maximum limit",
			Evaluate: func(in *RuleInput) bool {
				return in.Tx.Amount > e.cfg.MaxTransactionAmount
			},
		},
	}
}

// Evaluate runs the full rule table against the input. Triggered rules
// appear in table order; the accumulated score is clamped to 1.
func (e *RuleEngine) Evaluate(in *RuleInput) models.RuleResult {
	result := models.RuleResult{}

	for _, rule := range e.rules {
		if !rule.Evaluate(in) {
			continue
		}

		result.Score += rule.Weight
		result.TriggeredRules = append(result.TriggeredRules, rule.ID)
		result.Reasons = append(result.Reasons, rule.Reason)

		switch rule.ID {
		case RuleHighAmount:
			result.Flags.UnusualAmount = true
		case RuleHighVelocity:
			result.Flags.HighVelocity = true
		case RuleUnusualTime:
			result.Flags.UnusualTime = true
		case RuleUnusualLocation:
			result.Flags.UnusualLocation = true
		case RuleNewDevice:
			result.Flags.UnusualDevice = true
			result.Flags.NewDevice = true
		}
	}

	if result.Score > 1 {
		result.Score = 1
	}
	result.IsFraud = result.Score >= 0.7
	result.Flags.DeviationFromNormal = BehaviorDeviation(in.Tx, in.Behavior)

	return result
}

// BehaviorDeviation returns how many standard deviations the transaction
// amount lies from the user's average; 0 when the profile is missing or
// has zero spread.
func BehaviorDeviation(tx *models.Transaction, b *models.UserBehavior) float64 {
	if b == nil || b.StdDevTransactionAmount <= 0 {
		return 0
	}
	return math.Abs(tx.Amount-b.AvgTransactionAmount) / b.StdDevTransactionAmount
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
