package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/paytech/fraud-detection/internal/analytics"
	"github.com/paytech/fraud-detection/internal/auth"
	"github.com/paytech/fraud-detection/internal/fraud"
	"github.com/paytech/fraud-detection/internal/queue"
	"github.com/paytech/fraud-detection/internal/repositories"
	"github.com/paytech/fraud-detection/internal/scoring"
	"github.com/paytech/fraud-detection/internal/services"
)

// Auth handlers

func registerHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := authService.Register(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, services.ErrWeakPassword) || errors.Is(err, repositories.ErrUserAlreadyExists) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func loginHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := authService.Login(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, services.ErrInvalidCredentials) {
				status = http.StatusUnauthorized
			} else if errors.Is(err, services.ErrAccountLocked) {
				status = http.StatusForbidden
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func refreshTokenHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.RefreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := authService.RefreshToken(c.Request.Context(), req.RefreshToken)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

// Transaction handlers

func processTransactionHandler(txService *services.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.TransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		requestID := c.GetString("request_id")
		resp, err := txService.ProcessTransaction(c.Request.Context(), &req, requestID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, services.ErrUserNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func processQRTransactionHandler(txService *services.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.QRTransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		requestID := c.GetString("request_id")
		resp, err := txService.ProcessQRTransaction(c.Request.Context(), &req, requestID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, services.ErrUserNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func verifyQRTransactionHandler(txService *services.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UserID   string `json:"user_id" binding:"required"`
			QRCodeID string `json:"qr_code_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		requestID := c.GetString("request_id")
		resp, err := txService.VerifyQRTransaction(c.Request.Context(), req.UserID, req.QRCodeID, requestID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrTransactionNotFound) || errors.Is(err, services.ErrUserNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func getTransactionHandler(txService *services.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		txID := c.Param("id")

		tx, err := txService.GetTransaction(c.Request.Context(), txID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, tx)
	}
}

func getUserTransactionsHandler(txService *services.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 20)

		transactions, total, err := txService.GetUserTransactions(c.Request.Context(), userID, page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"transactions": transactions,
			"pagination": gin.H{
				"page":      page,
				"page_size": pageSize,
				"total":     total,
			},
		})
	}
}

func getFlaggedTransactionsHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 20)

		resp, err := analyticsService.GetFlaggedTransactions(c.Request.Context(), page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

// Fraud handlers

func getUserFraudStatsHandler(detector *fraud.Detector) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")

		stats, err := detector.GetUserFraudStatistics(c.Request.Context(), userID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrUserNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, stats)
	}
}

func getUserAlertsHandler(alertService *services.AlertService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 20)

		alerts, total, err := alertService.GetUserAlerts(c.Request.Context(), userID, page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"alerts": alerts,
			"pagination": gin.H{
				"page":      page,
				"page_size": pageSize,
				"total":     total,
			},
		})
	}
}

// Alert review handlers

func getUnreviewedAlertsHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 20)

		alerts, total, err := analyticsService.GetUnreviewedAlerts(c.Request.Context(), page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"alerts": alerts,
			"pagination": gin.H{
				"page":      page,
				"page_size": pageSize,
				"total":     total,
			},
		})
	}
}

func getAlertHandler(alertService *services.AlertService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
			return
		}

		alert, err := alertService.GetAlert(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, alert)
	}
}

func reviewAlertHandler(alertService *services.AlertService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
			return
		}

		var req services.ReviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		reviewer, _ := auth.GetUserIDFromContext(c)
		requestID := c.GetString("request_id")

		alert, err := alertService.ReviewAlert(c.Request.Context(), id, reviewer, &req, requestID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrAlertNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, alert)
	}
}

// Analytics handlers

func getFraudSummaryHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		date, ok := parseDateParam(c)
		if !ok {
			return
		}

		summary, err := analyticsService.GetFraudSummary(c.Request.Context(), date)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, summary)
	}
}

func getRiskDistributionHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := getIntParam(c, "days", 7)

		distribution, err := analyticsService.GetRiskDistribution(c.Request.Context(), days)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, distribution)
	}
}

func getTopRulesHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := getIntParam(c, "days", 7)
		limit := getIntParam(c, "limit", 10)

		rules, err := analyticsService.GetTopTriggeredRules(c.Request.Context(), days, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"rules": rules})
	}
}

func getHourlyVolumeHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		date, ok := parseDateParam(c)
		if !ok {
			return
		}

		volumes, err := analyticsService.GetHourlyTransactionVolume(c.Request.Context(), date)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"volumes": volumes})
	}
}

func getSystemMetricsHandler(analyticsService *analytics.AnalyticsService, streamClient *queue.RedisStreamClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics, err := analyticsService.GetSystemMetrics(c.Request.Context(), streamClient)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, metrics)
	}
}

// Model handlers

func trainModelHandler(modelScorer *scoring.NeuralScorer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Features [][]float64 `json:"features" binding:"required,min=1"`
			Labels   []int       `json:"labels" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if len(req.Features) != len(req.Labels) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "features and labels must have the same length"})
			return
		}

		if err := modelScorer.Train(req.Features, req.Labels); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "model trained",
			"version": modelScorer.Version(),
			"samples": len(req.Features),
		})
	}
}

// Helper functions

func getIntParam(c *gin.Context, key string, defaultValue int) int {
	if val := c.Query(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil && result > 0 {
			return result
		}
	}
	return defaultValue
}

func parseDateParam(c *gin.Context) (time.Time, bool) {
	dateStr := c.Query("date")
	if dateStr == "" {
		return time.Now(), true
	}

	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date format, use YYYY-MM-DD"})
		return time.Time{}, false
	}

	return date, true
}
