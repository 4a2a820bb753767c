package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/paytech/fraud-detection/internal/models"
	"github.com/paytech/fraud-detection/internal/repositories"
)

// AlertService handles the analyst review workflow
type AlertService struct {
	alertRepo *repositories.AlertRepository
	auditRepo *repositories.AuditRepository
}

// NewAlertService creates a new alert service
func NewAlertService(alertRepo *repositories.AlertRepository, auditRepo *repositories.AuditRepository) *AlertService {
	return &AlertService{
		alertRepo: alertRepo,
		auditRepo: auditRepo,
	}
}

// ReviewRequest is the analyst's verdict on an alert
type ReviewRequest struct {
	Notes          string `json:"notes"`
	ConfirmedFraud bool   `json:"confirmed_fraud"`
}

// GetAlert retrieves an alert by id
func (s *AlertService) GetAlert(ctx context.Context, id uuid.UUID) (*models.FraudAlert, error) {
	return s.alertRepo.GetByID(ctx, id)
}

// GetUserAlerts retrieves alerts for a user, newest first
func (s *AlertService) GetUserAlerts(ctx context.Context, userID string, page, pageSize int) ([]*models.FraudAlert, int, error) {
	return s.alertRepo.GetByUserID(ctx, userID, page, pageSize)
}

// ReviewAlert records an analyst's verdict on an alert
func (s *AlertService) ReviewAlert(ctx context.Context, id uuid.UUID, reviewer string, req *ReviewRequest, requestID string) (*models.FraudAlert, error) {
	if err := s.alertRepo.MarkReviewed(ctx, id, reviewer, req.Notes, req.ConfirmedFraud); err != nil {
		return nil, fmt.Errorf("failed to mark alert reviewed: %w", err)
	}

	alert, err := s.alertRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.auditRepo != nil {
		entry := &models.AuditLog{
			EventType:  models.AuditEventAlertReview,
			EntityID:   alert.ID.String(),
			EntityType: "fraud_alert",
			UserID:     reviewer,
			Action:     "review",
			RequestID:  requestID,
			Payload: models.JSONB{
				"transaction_id":  alert.TransactionID,
				"confirmed_fraud": req.ConfirmedFraud,
				"severity":        alert.Severity,
			},
		}
		if err := s.auditRepo.Create(ctx, entry); err != nil {
			log.Error().Err(err).Str("alert_id", id.String()).Msg("Failed to create audit log")
		}
	}

	log.Info().
		Str("alert_id", id.String()).
		Str("reviewer", reviewer).
		Bool("confirmed_fraud", req.ConfirmedFraud).
		Msg("Fraud alert reviewed")

	return alert, nil
}
