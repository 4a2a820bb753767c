package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/paytech/fraud-detection/configs"
	"github.com/paytech/fraud-detection/internal/analytics"
	"github.com/paytech/fraud-detection/internal/auth"
	"github.com/paytech/fraud-detection/internal/fraud"
	"github.com/paytech/fraud-detection/internal/models"
	"github.com/paytech/fraud-detection/internal/queue"
	"github.com/paytech/fraud-detection/internal/repositories"
	"github.com/paytech/fraud-detection/internal/scoring"
	"github.com/paytech/fraud-detection/internal/services"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := configs.Load()

	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting Fraud Detection API Server")

	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	streamClient, err := queue.NewRedisStreamClient(cfg.Redis, cfg.Worker.DeadLetterStream)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Stream")
	}
	defer streamClient.Close()

	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Cache")
	}
	defer cacheClient.Close()

	// The alert producer is optional; scoring works without a broker
	alertProducer, err := queue.NewAlertProducer(cfg.Kafka)
	if err != nil {
		log.Warn().Err(err).Msg("Kafka unavailable, alert events disabled")
		alertProducer = nil
	} else {
		defer alertProducer.Close()
	}

	userRepo := repositories.NewUserRepository(db)
	txRepo := repositories.NewTransactionRepository(db)
	behaviorRepo := repositories.NewBehaviorRepository(db)
	alertRepo := repositories.NewAlertRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	jwtManager := auth.NewJWTManager(cfg.JWT)
	authService := services.NewAuthService(userRepo, jwtManager, cfg.JWT)

	ruleEngine := scoring.NewRuleEngine(cfg.Fraud)
	modelScorer := scoring.NewNeuralScorer(cfg.Model)

	detector := fraud.NewDetector(
		userRepo, txRepo, behaviorRepo, alertRepo, cacheClient,
		ruleEngine, modelScorer, cfg.Model.ScoreTimeout,
	)

	var publisher fraud.AlertPublisher
	if alertProducer != nil {
		publisher = alertProducer
	}
	feedback := fraud.NewFeedbackApplier(userRepo, txRepo, behaviorRepo, alertRepo, publisher)

	txService := services.NewTransactionService(txRepo, userRepo, auditRepo, detector, feedback, streamClient)
	alertService := services.NewAlertService(alertRepo, auditRepo)
	analyticsService := analytics.NewAnalyticsService(txRepo, alertRepo, db, cacheClient)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	// Rate limiting: 100 requests per minute per IP
	rateLimiter := NewRateLimiter(100, time.Minute)
	router.Use(rateLimitMiddleware(rateLimiter))

	setupRoutes(router, jwtManager, authService, txService, alertService, analyticsService, detector, modelScorer, streamClient)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
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

func setupRoutes(
	router *gin.Engine,
	jwtManager *auth.JWTManager,
	authService *services.AuthService,
	txService *services.TransactionService,
	alertService *services.AlertService,
	analyticsService *analytics.AnalyticsService,
	detector *fraud.Detector,
	modelScorer *scoring.NeuralScorer,
	streamClient *queue.RedisStreamClient,
) {
	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// API v1 routes
	v1 := router.Group("/api/v1")

	// Auth routes (public)
	authRoutes := v1.Group("/auth")
	{
		authRoutes.POST("/register", registerHandler(authService))
		authRoutes.POST("/login", loginHandler(authService))
		authRoutes.POST("/refresh", refreshTokenHandler(authService))
	}

	// Protected routes
	protected := v1.Group("")
	protected.Use(auth.AuthMiddleware(jwtManager))

	// Transaction routes
	txRoutes := protected.Group("/transactions")
	{
		txRoutes.POST("/process", processTransactionHandler(txService))
		txRoutes.POST("/qr/process", processQRTransactionHandler(txService))
		txRoutes.POST("/qr/verify", verifyQRTransactionHandler(txService))
		txRoutes.GET("/flagged", getFlaggedTransactionsHandler(analyticsService))
		txRoutes.GET("/:id", getTransactionHandler(txService))
		txRoutes.GET("/user/:user_id", getUserTransactionsHandler(txService))
	}

	// Fraud routes
	fraudRoutes := protected.Group("/fraud")
	{
		fraudRoutes.GET("/stats/:user_id", getUserFraudStatsHandler(detector))
		fraudRoutes.GET("/alerts/user/:user_id", getUserAlertsHandler(alertService))
	}

	// Alert review routes (analysts only)
	alertRoutes := protected.Group("/alerts")
	alertRoutes.Use(auth.RoleMiddleware(models.RoleAdmin, models.RoleAnalyst))
	{
		alertRoutes.GET("/unreviewed", getUnreviewedAlertsHandler(analyticsService))
		alertRoutes.GET("/:id", getAlertHandler(alertService))
		alertRoutes.POST("/:id/review", reviewAlertHandler(alertService))
	}

	// Analytics routes
	analyticsRoutes := protected.Group("/analytics")
	{
		analyticsRoutes.GET("/summary", getFraudSummaryHandler(analyticsService))
		analyticsRoutes.GET("/distribution", getRiskDistributionHandler(analyticsService))
		analyticsRoutes.GET("/rules/top", getTopRulesHandler(analyticsService))
		analyticsRoutes.GET("/volume/hourly", getHourlyVolumeHandler(analyticsService))
	}

	// Metrics routes (admin only)
	metricsRoutes := protected.Group("/metrics")
	metricsRoutes.Use(auth.RoleMiddleware(models.RoleAdmin, models.RoleAnalyst))
	{
		metricsRoutes.GET("/system", getSystemMetricsHandler(analyticsService, streamClient))
	}

	// Model administration (admin only)
	modelRoutes := protected.Group("/model")
	modelRoutes.Use(auth.RoleMiddleware(models.RoleAdmin))
	{
		modelRoutes.POST("/train", trainModelHandler(modelScorer))
	}
}

// Middleware

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = fmt.Sprintf("%d", time.Now().UnixNano())
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Str("request_id", c.GetString("request_id")).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimiter implements a simple in-memory rate limiter using token bucket algorithm
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
}

type visitor struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
	// Clean up old visitors periodically
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	now := time.Now()

	if !exists {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastSeen: now}
		return true
	}

	// Refill tokens based on time elapsed
	elapsed := now.Sub(v.lastSeen)
	refill := int(elapsed / (rl.window / time.Duration(rl.rate)))
	v.tokens += refill
	if v.tokens > rl.rate {
		v.tokens = rl.rate
	}
	v.lastSeen = now

	if v.tokens > 0 {
		v.tokens--
		return true
	}

	return false
}

func rateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.Allow(ip) {
			c.Header("Retry-After", "60")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": 60,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
