package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paytech/fraud-detection/internal/models"
	"github.com/paytech/fraud-detection/internal/queue"
	"github.com/paytech/fraud-detection/internal/repositories"
)

// AnalyticsService provides fraud analytics and reporting
type AnalyticsService struct {
	txRepo      *repositories.TransactionRepository
	alertRepo   *repositories.AlertRepository
	db          *repositories.Database
	cacheClient *queue.CacheClient
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(
	txRepo *repositories.TransactionRepository,
	alertRepo *repositories.AlertRepository,
	db *repositories.Database,
	cacheClient *queue.CacheClient,
) *AnalyticsService {
	return &AnalyticsService{
		txRepo:      txRepo,
		alertRepo:   alertRepo,
		db:          db,
		cacheClient: cacheClient,
	}
}

// GetFraudSummary returns the fraud summary for a specific date
func (s *AnalyticsService) GetFraudSummary(ctx context.Context, date time.Time) (*models.FraudSummary, error) {
	cacheKey := fmt.Sprintf("fraud_summary:%s", date.Format("2006-01-02"))
	var cached models.FraudSummary
	if s.cacheClient != nil {
		if err := s.cacheClient.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	summary, err := s.computeDailySummary(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to compute fraud summary: %w", err)
	}

	// Recent dates change as transactions land; historical ones don't
	if s.cacheClient != nil {
		cacheDuration := 5 * time.Minute
		if time.Since(date) > 24*time.Hour {
			cacheDuration = 1 * time.Hour
		}
		if err := s.cacheClient.Set(ctx, cacheKey, summary, cacheDuration); err != nil {
			log.Warn().Err(err).Msg("Failed to cache fraud summary")
		}
	}

	return summary, nil
}

// GetFraudSummaryRange returns fraud summaries for a date range
func (s *AnalyticsService) GetFraudSummaryRange(ctx context.Context, startDate, endDate time.Time) ([]*models.FraudSummary, error) {
	var summaries []*models.FraudSummary

	for d := startDate; !d.After(endDate); d = d.AddDate(0, 0, 1) {
		summary, err := s.GetFraudSummary(ctx, d)
		if err != nil {
			log.Warn().Err(err).Time("date", d).Msg("Failed to get summary for date")
			continue
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}

func (s *AnalyticsService) computeDailySummary(ctx context.Context, date time.Time) (*models.FraudSummary, error) {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(amount), 0),
			COUNT(CASE WHEN status = 'DECLINED' THEN 1 END),
			COUNT(CASE WHEN status = 'BLOCKED' THEN 1 END),
			COUNT(CASE WHEN status IN ('REVIEW', 'HOLD') THEN 1 END),
			COALESCE(AVG(fraud_score), 0),
			COUNT(CASE WHEN fraud_status = 'SUSPICIOUS' THEN 1 END),
			COUNT(CASE WHEN fraud_status = 'FRAUD' THEN 1 END)
		FROM transactions
		WHERE transaction_time >= $1 AND transaction_time < $2
	`

	summary := &models.FraudSummary{Date: startOfDay.Format("2006-01-02")}
	err := s.db.Pool.QueryRow(ctx, query, startOfDay, endOfDay).Scan(
		&summary.TotalTransactions,
		&summary.TotalAmount,
		&summary.DeclinedCount,
		&summary.BlockedCount,
		&summary.ReviewCount,
		&summary.AvgFraudScore,
		&summary.SuspiciousCount,
		&summary.FraudCount,
	)
	if err != nil {
		return nil, err
	}

	topRules, err := s.topRulesBetween(ctx, startOfDay, endOfDay, 5)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to compute top triggered rules")
	} else {
		summary.TopRulesTriggered = topRules
	}

	return summary, nil
}

// GetFlaggedTransactions returns transactions held back by the fraud
// pipeline, newest first
func (s *AnalyticsService) GetFlaggedTransactions(ctx context.Context, page, pageSize int) (*FlaggedTransactionsResponse, error) {
	transactions, total, err := s.txRepo.GetFlagged(ctx, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to get flagged transactions: %w", err)
	}

	return &FlaggedTransactionsResponse{
		Transactions: transactions,
		Pagination: models.Pagination{
			Page:     page,
			PageSize: pageSize,
			Total:    total,
		},
	}, nil
}

// GetSystemMetrics returns current system metrics
func (s *AnalyticsService) GetSystemMetrics(ctx context.Context, streamClient *queue.RedisStreamClient) (*SystemMetrics, error) {
	metrics := &SystemMetrics{
		Timestamp: time.Now(),
	}

	dbStats := s.db.Stats()
	metrics.DBConnectionsActive = int(dbStats.AcquiredConns())
	metrics.DBConnectionsIdle = int(dbStats.IdleConns())

	if streamClient != nil {
		info, err := streamClient.GetStreamInfo(ctx)
		if err == nil {
			metrics.QueueDepth = int(info.PendingCount)
		}
	}

	tps, err := s.calculateTPS(ctx)
	if err == nil {
		metrics.TransactionsPerSec = tps
	}

	declineRate, err := s.calculateDeclineRate(ctx)
	if err == nil {
		metrics.DeclineRate = declineRate
	}

	return metrics, nil
}

// calculateTPS calculates transactions per second over the last minute
func (s *AnalyticsService) calculateTPS(ctx context.Context) (float64, error) {
	query := `
		SELECT COUNT(*)
		FROM transactions
		WHERE created_at >= NOW() - INTERVAL '1 minute'
	`

	var count int
	err := s.db.Pool.QueryRow(ctx, query).Scan(&count)
	if err != nil {
		return 0, err
	}

	return float64(count) / 60.0, nil
}

// calculateDeclineRate calculates the share of declined or blocked
// transactions over the last hour
func (s *AnalyticsService) calculateDeclineRate(ctx context.Context) (float64, error) {
	query := `
		SELECT
			COUNT(CASE WHEN status IN ('DECLINED', 'BLOCKED') THEN 1 END)::float /
			NULLIF(COUNT(*), 0)
		FROM transactions
		WHERE created_at >= NOW() - INTERVAL '1 hour'
	`

	var rate *float64
	err := s.db.Pool.QueryRow(ctx, query).Scan(&rate)
	if err != nil {
		return 0, err
	}

	if rate == nil {
		return 0, nil
	}

	return *rate, nil
}

// GetRiskDistribution returns the distribution of fraud statuses over
// the last N days
func (s *AnalyticsService) GetRiskDistribution(ctx context.Context, days int) (*RiskDistribution, error) {
	query := `
		SELECT
			fraud_status,
			COUNT(*) as count
		FROM transactions
		WHERE created_at >= NOW() - ($1::text || ' days')::interval
		GROUP BY fraud_status
		ORDER BY
			CASE fraud_status
				WHEN 'FRAUD' THEN 1
				WHEN 'SUSPICIOUS' THEN 2
				WHEN 'SAFE' THEN 3
				WHEN 'UNKNOWN' THEN 4
			END
	`

	rows, err := s.db.Pool.Query(ctx, query, fmt.Sprintf("%d", days))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	distribution := &RiskDistribution{
		Period: fmt.Sprintf("%d days", days),
		Levels: make(map[string]int),
	}

	var total int
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		distribution.Levels[status] = count
		total += count
	}
	distribution.Total = total

	return distribution, nil
}

// GetTopTriggeredRules returns the most frequently triggered rules
// over the given time window. The count is the number of DISTINCT
// transactions where this rule fired, so it can be safely compared
// against the total transaction count.
func (s *AnalyticsService) GetTopTriggeredRules(ctx context.Context, days, limit int) ([]models.RuleCount, error) {
	end := time.Now()
	return s.topRulesBetween(ctx, end.AddDate(0, 0, -days), end, limit)
}

func (s *AnalyticsService) topRulesBetween(ctx context.Context, start, end time.Time, limit int) ([]models.RuleCount, error) {
	query := `
		SELECT
			rule_id,
			COUNT(DISTINCT transaction_id) AS count
		FROM (
			SELECT
				transaction_id,
				unnest(triggered_rules) AS rule_id
			FROM transactions
			WHERE transaction_time >= $1 AND transaction_time < $2
		) t
		GROUP BY rule_id
		ORDER BY count DESC
		LIMIT $3
	`

	rows, err := s.db.Pool.Query(ctx, query, start, end, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.RuleCount
	for rows.Next() {
		var rc models.RuleCount
		if err := rows.Scan(&rc.RuleID, &rc.Count); err != nil {
			return nil, err
		}
		rules = append(rules, rc)
	}

	return rules, nil
}

// GetHourlyTransactionVolume returns transaction volume by hour
func (s *AnalyticsService) GetHourlyTransactionVolume(ctx context.Context, date time.Time) ([]HourlyVolume, error) {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	query := `
		SELECT
			EXTRACT(HOUR FROM transaction_time) as hour,
			COUNT(*) as count,
			COALESCE(SUM(amount), 0) as total_amount
		FROM transactions
		WHERE transaction_time >= $1 AND transaction_time < $2
		GROUP BY EXTRACT(HOUR FROM transaction_time)
		ORDER BY hour
	`

	rows, err := s.db.Pool.Query(ctx, query, startOfDay, endOfDay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var volumes []HourlyVolume
	for rows.Next() {
		var hv HourlyVolume
		if err := rows.Scan(&hv.Hour, &hv.Count, &hv.TotalAmount); err != nil {
			return nil, err
		}
		volumes = append(volumes, hv)
	}

	return volumes, nil
}

// GetUnreviewedAlerts returns alerts awaiting analyst review, highest
// score first
func (s *AnalyticsService) GetUnreviewedAlerts(ctx context.Context, page, pageSize int) ([]*models.FraudAlert, int, error) {
	return s.alertRepo.GetUnreviewed(ctx, page, pageSize)
}

// Response types

// FlaggedTransactionsResponse is the response for flagged transactions
type FlaggedTransactionsResponse struct {
	Transactions []*models.Transaction `json:"transactions"`
	Pagination   models.Pagination     `json:"pagination"`
}

// RiskDistribution represents the fraud status distribution
type RiskDistribution struct {
	Period string         `json:"period"`
	Levels map[string]int `json:"levels"`
	Total  int            `json:"total"`
}

// HourlyVolume represents transaction volume for an hour
type HourlyVolume struct {
	Hour        int     `json:"hour"`
	Count       int     `json:"count"`
	TotalAmount float64 `json:"total_amount"`
}

// SystemMetrics is a point-in-time operational snapshot
type SystemMetrics struct {
	Timestamp           time.Time `json:"timestamp"`
	TransactionsPerSec  float64   `json:"transactions_per_sec"`
	DeclineRate         float64   `json:"decline_rate"`
	QueueDepth          int       `json:"queue_depth"`
	DBConnectionsActive int       `json:"db_connections_active"`
	DBConnectionsIdle   int       `json:"db_connections_idle"`
}
