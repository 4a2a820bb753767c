package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/paytech/fraud-detection/configs"
	"github.com/paytech/fraud-detection/internal/models"
	"github.com/paytech/fraud-detection/internal/queue"
)

// This worker does not score transactions; the API scores synchronously
// and the Redis worker maintains behavior profiles. It consumes the
// alert topic to keep live fraud metrics and daily counters that feed
// the analyst dashboard.

// RealTimeMetrics tracks live alert metrics
type RealTimeMetrics struct {
	mu                   sync.RWMutex
	TotalAlerts          int64
	CriticalAlerts       int64
	HighAlerts           int64
	SeverityDistribution map[string]int64
	ActionDistribution   map[string]int64
	MethodDistribution   map[string]int64
	LastAlertTime        time.Time
	AlertsPerSecond      float64
	windowStart          time.Time
	windowCount          int64
}

func NewRealTimeMetrics() *RealTimeMetrics {
	return &RealTimeMetrics{
		SeverityDistribution: make(map[string]int64),
		ActionDistribution:   make(map[string]int64),
		MethodDistribution:   make(map[string]int64),
		windowStart:          time.Now(),
	}
}

func (m *RealTimeMetrics) RecordAlert(event *models.AlertEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalAlerts++
	m.LastAlertTime = time.Now()
	m.windowCount++

	elapsed := time.Since(m.windowStart).Seconds()
	if elapsed > 0 {
		m.AlertsPerSecond = float64(m.windowCount) / elapsed
	}

	// Reset window every minute
	if elapsed > 60 {
		m.windowStart = time.Now()
		m.windowCount = 0
	}

	m.SeverityDistribution[event.Severity]++
	m.ActionDistribution[event.Action]++
	m.MethodDistribution[event.AlertType]++

	switch event.Severity {
	case models.SeverityCritical:
		m.CriticalAlerts++
	case models.SeverityHigh:
		m.HighAlerts++
	}
}

func (m *RealTimeMetrics) GetSnapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"total_alerts":          m.TotalAlerts,
		"critical_alerts":       m.CriticalAlerts,
		"high_alerts":           m.HighAlerts,
		"alerts_per_second":     m.AlertsPerSecond,
		"severity_distribution": m.SeverityDistribution,
		"action_distribution":   m.ActionDistribution,
		"method_distribution":   m.MethodDistribution,
		"last_alert_time":       m.LastAlertTime,
	}
}

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := configs.Load()

	setupLogging(cfg.Server.Environment)

	log.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("topic", cfg.Kafka.AlertTopic).
		Str("group_id", cfg.Kafka.ConsumerGroup).
		Msg("Starting fraud analytics worker")

	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer cacheClient.Close()

	metrics := NewRealTimeMetrics()

	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V3_0_0_0

	// Retry connecting to Kafka
	var consumerGroup sarama.ConsumerGroup
	for i := 0; i < 30; i++ {
		consumerGroup, err = sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, config)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer group after retries")
	}
	defer consumerGroup.Close()

	handler := &AlertAnalyticsHandler{
		metrics:     metrics,
		cacheClient: cacheClient,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received, stopping analytics worker...")
		cancel()
	}()

	// Log metrics every 30 seconds
	go handler.startMetricsReporter(ctx)

	topics := []string{cfg.Kafka.AlertTopic}
	for {
		if err := consumerGroup.Consume(ctx, topics, handler); err != nil {
			log.Error().Err(err).Msg("Error from consumer")
		}

		if ctx.Err() != nil {
			log.Info().Msg("Context cancelled, shutting down analytics worker")
			return
		}
	}
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// AlertAnalyticsHandler processes alert events
type AlertAnalyticsHandler struct {
	metrics     *RealTimeMetrics
	cacheClient *queue.CacheClient
}

func (h *AlertAnalyticsHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Analytics session started")
	return nil
}

func (h *AlertAnalyticsHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Analytics session ended")
	return nil
}

func (h *AlertAnalyticsHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.processMessage(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *AlertAnalyticsHandler) processMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	var event models.AlertEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		log.Error().Err(err).Msg("Failed to parse alert event")
		return
	}

	h.metrics.RecordAlert(&event)
	h.updateDailyCounters(ctx, &event)

	logger := log.Info()
	if event.Severity == models.SeverityCritical {
		logger = log.Warn()
	}
	logger.
		Str("alert_id", event.AlertID).
		Str("transaction_id", event.TransactionID).
		Str("user_id", event.UserID).
		Str("severity", event.Severity).
		Str("action", event.Action).
		Float64("fraud_score", event.FraudScore).
		Msg("Fraud alert consumed")
}

// updateDailyCounters maintains per-day severity counters the dashboard
// reads via HGETALL
func (h *AlertAnalyticsHandler) updateDailyCounters(ctx context.Context, event *models.AlertEvent) {
	key := "alerts:daily:" + event.DetectedAt.Format("2006-01-02")

	if _, err := h.cacheClient.HIncrBy(ctx, key, "total", 1); err != nil {
		log.Warn().Err(err).Msg("Failed to update daily alert counter")
		return
	}
	if _, err := h.cacheClient.HIncrBy(ctx, key, event.Severity, 1); err != nil {
		log.Warn().Err(err).Msg("Failed to update severity counter")
	}
	if _, err := h.cacheClient.HIncrBy(ctx, key, "user:"+event.UserID, 1); err != nil {
		log.Warn().Err(err).Msg("Failed to update user alert counter")
	}
}

func (h *AlertAnalyticsHandler) startMetricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snapshot := h.metrics.GetSnapshot()
			log.Info().
				Int64("total", snapshot["total_alerts"].(int64)).
				Int64("critical", snapshot["critical_alerts"].(int64)).
				Int64("high", snapshot["high_alerts"].(int64)).
				Float64("alerts_per_sec", snapshot["alerts_per_second"].(float64)).
				Msg("Alert analytics metrics")

			if err := h.cacheClient.Set(ctx, "alerts:metrics:snapshot", snapshot, 5*time.Minute); err != nil {
				log.Warn().Err(err).Msg("Failed to cache metrics snapshot")
			}

		case <-ctx.Done():
			return
		}
	}
}
