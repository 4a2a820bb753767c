package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/paytech/fraud-detection/internal/fraud"
	"github.com/paytech/fraud-detection/internal/models"
	"github.com/paytech/fraud-detection/internal/queue"
	"github.com/paytech/fraud-detection/internal/repositories"
	"github.com/paytech/fraud-detection/internal/scoring"
)

var ErrUserNotFound = errors.New("user not found")

// TransactionRequest represents an incoming payment transaction
type TransactionRequest struct {
	UserID           string                 `json:"user_id" binding:"required"`
	Amount           float64                `json:"amount" binding:"required,gt=0"`
	Currency         string                 `json:"currency" binding:"required,len=3"`
	Type             string                 `json:"type" binding:"required,oneof=QR_CODE UPI CARD WALLET"`
	MerchantID       string                 `json:"merchant_id"`
	MerchantName     string                 `json:"merchant_name"`
	MerchantCategory string                 `json:"merchant_category"`
	IPAddress        string                 `json:"ip_address"`
	Country          string                 `json:"country"`
	City             string                 `json:"city"`
	Latitude         *float64               `json:"latitude,omitempty"`
	Longitude        *float64               `json:"longitude,omitempty"`
	DeviceID         string                 `json:"device_id"`
	DeviceType       string                 `json:"device_type"`
	DeviceFingerprint string                `json:"device_fingerprint"`
	UserAgent        string                 `json:"user_agent"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// QRTransactionRequest represents a QR code payment
type QRTransactionRequest struct {
	TransactionRequest
	QRCodeID   string `json:"qr_code_id" binding:"required"`
	QRCodeData string `json:"qr_code_data"`
}

// TransactionResponse is returned after a transaction is scored
type TransactionResponse struct {
	TransactionID  string   `json:"transaction_id"`
	Status         string   `json:"status"`
	FraudScore     float64  `json:"fraud_score"`
	RiskLevel      string   `json:"risk_level"`
	Recommendation string   `json:"recommendation"`
	Reason         string   `json:"reason,omitempty"`
	TriggeredRules []string `json:"triggered_rules,omitempty"`
	Message        string   `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

// TransactionService is the transaction pipeline: persist, enrich,
// score, apply feedback and schedule behavior aggregation
type TransactionService struct {
	txRepo       *repositories.TransactionRepository
	userRepo     *repositories.UserRepository
	auditRepo    *repositories.AuditRepository
	detector     *fraud.Detector
	feedback     *fraud.FeedbackApplier
	streamClient *queue.RedisStreamClient
}

// NewTransactionService creates a new transaction service
func NewTransactionService(
	txRepo *repositories.TransactionRepository,
	userRepo *repositories.UserRepository,
	auditRepo *repositories.AuditRepository,
	detector *fraud.Detector,
	feedback *fraud.FeedbackApplier,
	streamClient *queue.RedisStreamClient,
) *TransactionService {
	return &TransactionService{
		txRepo:       txRepo,
		userRepo:     userRepo,
		auditRepo:    auditRepo,
		detector:     detector,
		feedback:     feedback,
		streamClient: streamClient,
	}
}

// NewTransactionID generates a business transaction identifier
func NewTransactionID() string {
	return "TXN-" + strings.ToUpper(uuid.New().String()[:8])
}

// ProcessTransaction runs a transaction through the full fraud pipeline
func (s *TransactionService) ProcessTransaction(ctx context.Context, req *TransactionRequest, requestID string) (*TransactionResponse, error) {
	tx := s.buildTransaction(req)
	return s.process(ctx, tx, requestID)
}

// ProcessQRTransaction runs a QR payment through the fraud pipeline
func (s *TransactionService) ProcessQRTransaction(ctx context.Context, req *QRTransactionRequest, requestID string) (*TransactionResponse, error) {
	tx := s.buildTransaction(&req.TransactionRequest)
	tx.Type = models.TypeQRCode
	tx.QRCodeID = req.QRCodeID
	tx.QRCodeData = req.QRCodeData
	return s.process(ctx, tx, requestID)
}

// VerifyQRTransaction re-scores the most recent transaction for a QR
// code after the payment settled. Post-transaction banding applies:
// scores below the hold threshold keep the settled status, critical
// scores block the transaction and lock the account.
func (s *TransactionService) VerifyQRTransaction(ctx context.Context, userID, qrCodeID, requestID string) (*TransactionResponse, error) {
	tx, err := s.txRepo.GetLatestByQRCode(ctx, userID, qrCodeID)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByUserID(ctx, tx.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	behavior := s.detector.LoadBehavior(ctx, tx.UserID)
	if err := s.detector.Enrich(ctx, tx, behavior); err != nil {
		log.Error().Err(err).Str("transaction_id", tx.TransactionID).Msg("Enrichment failed during verification")
	}

	decision := s.detector.Check(ctx, tx, user, behavior, scoring.PostTransaction)
	if err := s.feedback.Apply(ctx, tx, decision); err != nil {
		log.Error().Err(err).Str("transaction_id", tx.TransactionID).Msg("Feedback failed during verification")
	}

	s.audit(ctx, tx, decision, requestID, "verify")

	return s.buildResponse(tx, decision), nil
}

// GetTransaction retrieves a transaction by business id
func (s *TransactionService) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return s.txRepo.GetByTransactionID(ctx, transactionID)
}

// GetUserTransactions retrieves a user's transactions, newest first
func (s *TransactionService) GetUserTransactions(ctx context.Context, userID string, page, pageSize int) ([]*models.Transaction, int, error) {
	return s.txRepo.GetByUserID(ctx, userID, page, pageSize)
}

func (s *TransactionService) buildTransaction(req *TransactionRequest) *models.Transaction {
	return &models.Transaction{
		TransactionID:     NewTransactionID(),
		UserID:            req.UserID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Type:              req.Type,
		TransactionTime:   time.Now(),
		MerchantID:        req.MerchantID,
		MerchantName:      req.MerchantName,
		MerchantCategory:  req.MerchantCategory,
		IPAddress:         req.IPAddress,
		Country:           req.Country,
		City:              req.City,
		Latitude:          req.Latitude,
		Longitude:         req.Longitude,
		DeviceID:          req.DeviceID,
		DeviceType:        req.DeviceType,
		DeviceFingerprint: req.DeviceFingerprint,
		UserAgent:         req.UserAgent,
		Status:            models.StatusPending,
		FraudStatus:       models.FraudStatusUnknown,
		Metadata:          models.JSONB(req.Metadata),
	}
}

func (s *TransactionService) process(ctx context.Context, tx *models.Transaction, requestID string) (*TransactionResponse, error) {
	startTime := time.Now()

	user, err := s.userRepo.GetByUserID(ctx, tx.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := s.txRepo.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	// Locked accounts never reach the scoring pipeline: the decline is
	// persisted, but no alert is raised and trust stays untouched
	if user.AccountLocked || !user.Enabled {
		decision := lockedAccountDecision()
		if err := s.feedback.Decline(ctx, tx, decision); err != nil {
			log.Error().Err(err).Str("transaction_id", tx.TransactionID).Msg("Failed to persist locked-account decline")
		}
		s.audit(ctx, tx, decision, requestID, "declined_locked")

		log.Warn().
			Str("transaction_id", tx.TransactionID).
			Str("user_id", tx.UserID).
			Msg("Transaction declined for locked account")

		return s.buildResponse(tx, decision), nil
	}

	behavior := s.detector.LoadBehavior(ctx, tx.UserID)

	decision := scoring.ErrorDecision()
	if err := s.detector.Enrich(ctx, tx, behavior); err != nil {
		log.Error().Err(err).Str("transaction_id", tx.TransactionID).Msg("Enrichment failed")
	} else {
		decision = s.detector.Check(ctx, tx, user, behavior, scoring.PreTransaction)
	}

	if err := s.feedback.Apply(ctx, tx, decision); err != nil {
		log.Error().Err(err).Str("transaction_id", tx.TransactionID).Msg("Failed to apply fraud feedback")
	}

	if err := s.userRepo.IncrementTotalTransactions(ctx, tx.UserID); err != nil {
		log.Warn().Err(err).Str("user_id", tx.UserID).Msg("Failed to increment transaction count")
	}

	s.scheduleBehaviorUpdate(ctx, tx)
	s.audit(ctx, tx, decision, requestID, "score")

	log.Info().
		Str("transaction_id", tx.TransactionID).
		Str("user_id", tx.UserID).
		Float64("amount", tx.Amount).
		Str("status", tx.Status).
		Dur("processing_time", time.Since(startTime)).
		Msg("Transaction processed")

	return s.buildResponse(tx, decision), nil
}

// scheduleBehaviorUpdate publishes the event that drives asynchronous
// profile aggregation. A publish failure is not fatal; the next
// transaction for this user schedules another aggregation.
func (s *TransactionService) scheduleBehaviorUpdate(ctx context.Context, tx *models.Transaction) {
	if s.streamClient == nil {
		return
	}

	event := &models.BehaviorEvent{
		UserID:        tx.UserID,
		TransactionID: tx.TransactionID,
		Timestamp:     time.Now(),
	}

	if _, err := s.streamClient.Publish(ctx, event); err != nil {
		log.Error().Err(err).
			Str("transaction_id", tx.TransactionID).
			Msg("Failed to publish behavior event")
	}
}

func (s *TransactionService) audit(ctx context.Context, tx *models.Transaction, decision models.Decision, requestID, action string) {
	if s.auditRepo == nil {
		return
	}

	entry := &models.AuditLog{
		EventType:  models.AuditEventFraudDecision,
		EntityID:   tx.TransactionID,
		EntityType: "transaction",
		UserID:     tx.UserID,
		Action:     action,
		RequestID:  requestID,
		Payload: models.JSONB{
			"amount":           tx.Amount,
			"currency":         tx.Currency,
			"fraud_score":      decision.FraudScore,
			"risk_level":       decision.RiskLevel,
			"status":           decision.Status,
			"detection_method": decision.DetectionMethod,
		},
	}

	if err := s.auditRepo.Create(ctx, entry); err != nil {
		log.Error().Err(err).
			Str("transaction_id", tx.TransactionID).
			Msg("Failed to create audit log")
	}
}

func (s *TransactionService) buildResponse(tx *models.Transaction, decision models.Decision) *TransactionResponse {
	return &TransactionResponse{
		TransactionID:  tx.TransactionID,
		Status:         tx.Status,
		FraudScore:     decision.FraudScore,
		RiskLevel:      decision.RiskLevel,
		Recommendation: decision.Recommendation,
		Reason:         decision.Reason,
		TriggeredRules: decision.TriggeredRules,
		Message:        StatusMessage(tx.Status),
		CreatedAt:      tx.CreatedAt,
	}
}

// lockedAccountDecision is the terminal decline applied without scoring
func lockedAccountDecision() models.Decision {
	return models.Decision{
		FraudScore:      1,
		RiskLevel:       models.RiskLevelCritical,
		FraudStatus:     models.FraudStatusFraud,
		Recommendation:  models.RecommendDecline,
		Status:          models.StatusDeclined,
		DetectionMethod: models.MethodRule,
		Reason:          "Account is locked",
	}
}

// StatusMessage maps a terminal status to the user-facing message
func StatusMessage(status string) string {
	switch status {
	case models.StatusApproved:
		return "Transaction completed successfully"
	case models.StatusReview:
		return "Transaction is under review"
	case models.StatusHold:
		return "Transaction is on hold pending verification"
	case models.StatusDeclined:
		return "Transaction declined due to fraud risk"
	case models.StatusBlocked:
		return "Transaction blocked and account locked"
	default:
		return "Transaction is being processed"
	}
}
