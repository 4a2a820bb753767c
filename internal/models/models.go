package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User represents a registered payment user
type User struct {
	ID                uuid.UUID  `json:"id"`
	UserID            string     `json:"user_id"` // business identifier, USR-XXXXXXXX
	Email             string     `json:"email"`
	PhoneNumber       string     `json:"phone_number"`
	Name              string     `json:"name"`
	PasswordHash      string     `json:"-"`
	Role              string     `json:"role"`
	TrustScore        float64    `json:"trust_score"` // 0-100
	AccountLocked     bool       `json:"account_locked"`
	Enabled           bool       `json:"enabled"`
	TotalTransactions int64      `json:"total_transactions"`
	FraudCount        int        `json:"fraud_count"`
	RegistrationDate  time.Time  `json:"registration_date"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
}

// UserRole enum values
const (
	RoleUser    = "user"
	RoleAnalyst = "analyst"
	RoleAdmin   = "admin"
)

// Transaction represents a payment transaction
type Transaction struct {
	ID            uuid.UUID `json:"id"`
	TransactionID string    `json:"transaction_id"` // business identifier, TXN-XXXXXXXX
	UserID        string    `json:"user_id"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Type          string    `json:"type"` // QR_CODE, UPI, CARD, WALLET

	TransactionTime time.Time `json:"transaction_time"`

	MerchantID       string `json:"merchant_id"`
	MerchantName     string `json:"merchant_name"`
	MerchantCategory string `json:"merchant_category"`

	IPAddress string   `json:"ip_address"`
	Country   string   `json:"country"`
	City      string   `json:"city"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	DeviceID          string `json:"device_id"`
	DeviceType        string `json:"device_type"`
	DeviceFingerprint string `json:"device_fingerprint"`
	UserAgent         string `json:"user_agent"`

	QRCodeID   string `json:"qr_code_id,omitempty"`
	QRCodeData string `json:"qr_code_data,omitempty"`

	Status      string `json:"status"`       // pending -> terminal
	FraudStatus string `json:"fraud_status"` // UNKNOWN, SAFE, SUSPICIOUS, FRAUD
	FraudScore  float64 `json:"fraud_score"` // 0-1
	FraudReason string `json:"fraud_reason"`

	TriggeredRules []string `json:"triggered_rules"`

	// Enrichment fields, populated before scoring
	TimeSinceLastTransaction float64 `json:"time_since_last_transaction"` // seconds
	TransactionsInLastHour   int     `json:"transactions_in_last_hour"`
	TransactionsInLastDay    int     `json:"transactions_in_last_day"`
	AvgTransactionAmount     float64 `json:"avg_transaction_amount"`
	UnusualAmount            bool    `json:"unusual_amount"`
	UnusualTime              bool    `json:"unusual_time"`
	UnusualLocation          bool    `json:"unusual_location"`
	UnusualDevice            bool    `json:"unusual_device"`
	VelocityScore            float64 `json:"velocity_score"`

	Metadata  JSONB     `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransactionType enum values
const (
	TypeQRCode = "QR_CODE"
	TypeUPI    = "UPI"
	TypeCard   = "CARD"
	TypeWallet = "WALLET"
)

// TransactionStatus enum values
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusReview   = "REVIEW"
	StatusHold     = "HOLD"
	StatusDeclined = "DECLINED"
	StatusBlocked  = "BLOCKED"
)

// FraudStatus enum values
const (
	FraudStatusUnknown    = "UNKNOWN"
	FraudStatusSafe       = "SAFE"
	FraudStatusSuspicious = "SUSPICIOUS"
	FraudStatusFraud      = "FRAUD"
)

// UserBehavior is the derived behavioral profile, one row per user.
// List fields are bounded and ordered by frequency; they are JSON-encoded
// only at the store boundary.
type UserBehavior struct {
	UserID string `json:"user_id"`

	AvgTransactionAmount    float64 `json:"avg_transaction_amount"`
	MaxTransactionAmount    float64 `json:"max_transaction_amount"`
	MinTransactionAmount    float64 `json:"min_transaction_amount"`
	StdDevTransactionAmount float64 `json:"std_dev_transaction_amount"`

	TransactionsPerDay   int `json:"transactions_per_day"`
	TransactionsPerWeek  int `json:"transactions_per_week"`
	TransactionsPerMonth int `json:"transactions_per_month"`

	PreferredHours     []int    `json:"preferred_hours"`     // top 3
	PreferredDays      []int    `json:"preferred_days"`      // top 3, 0=Sunday
	FrequentCities     []string `json:"frequent_cities"`     // top 5
	FrequentCountries  []string `json:"frequent_countries"`  // all distinct
	KnownDevices       []string `json:"known_devices"`       // all distinct
	KnownIPs           []string `json:"known_ips"`           // all distinct
	FrequentMerchants  []string `json:"frequent_merchants"`  // top 10
	FrequentCategories []string `json:"frequent_categories"` // top 5

	ConsistencyScore float64 `json:"consistency_score"` // 0-1
	DiversityScore   float64 `json:"diversity_score"`   // 0-1
	VelocityPattern  float64 `json:"velocity_pattern"`  // 0-1

	FailedAttempts       int `json:"failed_attempts"`
	Chargebacks          int `json:"chargebacks"`
	DisputedTransactions int `json:"disputed_transactions"`
	DataPointsCount      int `json:"data_points_count"`

	LastUpdated time.Time `json:"last_updated"`
	CreatedAt   time.Time `json:"created_at"`
}

// FraudAlert is a persisted scoring outcome awaiting human review
type FraudAlert struct {
	ID             uuid.UUID  `json:"id"`
	TransactionID  string     `json:"transaction_id"`
	UserID         string     `json:"user_id"`
	AlertType      string     `json:"alert_type"` // RULE_BASED, ML_BASED, HYBRID, ERROR
	Severity       string     `json:"severity"`   // LOW, MEDIUM, HIGH, CRITICAL
	FraudScore     float64    `json:"fraud_score"`
	Reason         string     `json:"reason"`
	RulesFired     []string   `json:"rules_fired"`
	MLFeatures     []float64  `json:"ml_features,omitempty"`
	Action         string     `json:"action"` // BLOCK, REVIEW, ALLOW_WITH_WARNING
	Reviewed       bool       `json:"reviewed"`
	ReviewedBy     string     `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes    string     `json:"review_notes,omitempty"`
	ConfirmedFraud bool       `json:"confirmed_fraud"`
	DetectedAt     time.Time  `json:"detected_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// AlertSeverity enum values
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// AlertAction enum values
const (
	ActionBlock            = "BLOCK"
	ActionReview           = "REVIEW"
	ActionAllowWithWarning = "ALLOW_WITH_WARNING"
)

// DetectionMethod enum values (also used as alert types)
const (
	MethodRule   = "RULE_BASED"
	MethodML     = "ML_BASED"
	MethodHybrid = "HYBRID"
	MethodError  = "ERROR"
)

// RiskLevel enum values
const (
	RiskLevelLow      = "LOW"
	RiskLevelMedium   = "MEDIUM"
	RiskLevelHigh     = "HIGH"
	RiskLevelCritical = "CRITICAL"
)

// Recommendation enum values
const (
	RecommendApprove = "APPROVE"
	RecommendReview  = "REVIEW"
	RecommendDecline = "DECLINE"
)

// BehaviorFlags mirror rule firings for the response payload
type BehaviorFlags struct {
	UnusualAmount       bool    `json:"unusual_amount"`
	UnusualTime         bool    `json:"unusual_time"`
	UnusualLocation     bool    `json:"unusual_location"`
	UnusualDevice       bool    `json:"unusual_device"`
	HighVelocity        bool    `json:"high_velocity"`
	NewDevice           bool    `json:"new_device"`
	DeviationFromNormal float64 `json:"deviation_from_normal"`
}

// RuleResult is the output of the rule engine
type RuleResult struct {
	Score          float64       `json:"score"` // 0-1
	TriggeredRules []string      `json:"triggered_rules"`
	Reasons        []string      `json:"reasons"`
	Flags          BehaviorFlags `json:"flags"`
	IsFraud        bool          `json:"is_fraud"` // rule-only verdict, score >= 0.7
}

// Decision is the combined output of the scoring pipeline
type Decision struct {
	FraudScore      float64       `json:"fraud_score"`
	MLScore         float64       `json:"ml_score"`
	RuleScore       float64       `json:"rule_score"`
	RiskLevel       string        `json:"risk_level"`
	FraudStatus     string        `json:"fraud_status"`
	Recommendation  string        `json:"recommendation"`
	Status          string        `json:"status"` // terminal transaction status
	DetectionMethod string        `json:"detection_method"`
	Reason          string        `json:"reason"`
	TriggeredRules  []string      `json:"triggered_rules"`
	Flags           BehaviorFlags `json:"flags"`
	Features        []float64     `json:"-"`
	LockAccount     bool          `json:"-"`
}

// BehaviorEvent is published to the Redis stream after each scored
// transaction to schedule asynchronous profile aggregation
type BehaviorEvent struct {
	UserID        string    `json:"user_id"`
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
	RetryCount    int       `json:"retry_count"`
}

// AlertEvent is the Kafka payload emitted for every fraud alert
type AlertEvent struct {
	AlertID       string    `json:"alert_id"`
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	AlertType     string    `json:"alert_type"`
	Severity      string    `json:"severity"`
	FraudScore    float64   `json:"fraud_score"`
	Action        string    `json:"action"`
	DetectedAt    time.Time `json:"detected_at"`
}

// AuditLog represents an audit trail entry
type AuditLog struct {
	ID         uuid.UUID `json:"id"`
	EventType  string    `json:"event_type"`
	EntityID   string    `json:"entity_id"`
	EntityType string    `json:"entity_type"`
	UserID     string    `json:"user_id,omitempty"`
	Action     string    `json:"action"`
	Payload    JSONB     `json:"payload"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	RequestID  string    `json:"request_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditEventType enum values
const (
	AuditEventTransaction   = "transaction"
	AuditEventFraudDecision = "fraud_decision"
	AuditEventAccountLock   = "account_lock"
	AuditEventAlertReview   = "alert_review"
	AuditEventUserLogin     = "user_login"
)

// UserFraudStats is the per-user fraud statistics summary
type UserFraudStats struct {
	UserID                 string  `json:"user_id"`
	TrustScore             float64 `json:"trust_score"`
	TotalFraudAlerts       int     `json:"total_fraud_alerts"`
	FraudulentTransactions int     `json:"fraudulent_transactions"`
	AccountLocked          bool    `json:"account_locked"`
}

// FraudSummary represents aggregated daily fraud statistics
type FraudSummary struct {
	Date              string      `json:"date"`
	TotalTransactions int         `json:"total_transactions"`
	TotalAmount       float64     `json:"total_amount"`
	DeclinedCount     int         `json:"declined_count"`
	BlockedCount      int         `json:"blocked_count"`
	ReviewCount       int         `json:"review_count"`
	AvgFraudScore     float64     `json:"avg_fraud_score"`
	SuspiciousCount   int         `json:"suspicious_count"`
	FraudCount        int         `json:"fraud_count"`
	TopRulesTriggered []RuleCount `json:"top_rules_triggered"`
}

// RuleCount represents a rule and its trigger count
type RuleCount struct {
	RuleID string `json:"rule_id"`
	Count  int    `json:"count"`
}

// JSONB is a helper type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() ([]byte, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Pagination represents pagination parameters
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}

// PaginatedResponse wraps paginated results
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}
