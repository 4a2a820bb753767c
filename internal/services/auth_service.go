package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/paytech/fraud-detection/configs"
	"github.com/paytech/fraud-detection/internal/auth"
	"github.com/paytech/fraud-detection/internal/models"
	"github.com/paytech/fraud-detection/internal/repositories"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password does not meet requirements")
	ErrAccountLocked      = errors.New("account is locked")
)

// New users start with full trust
const initialTrustScore = 100

// AuthService handles registration and authentication
type AuthService struct {
	userRepo   *repositories.UserRepository
	jwtManager *auth.JWTManager
	jwtCfg     configs.JWTConfig
}

// NewAuthService creates a new auth service
func NewAuthService(userRepo *repositories.UserRepository, jwtManager *auth.JWTManager, jwtCfg configs.JWTConfig) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		jwtManager: jwtManager,
		jwtCfg:     jwtCfg,
	}
}

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Email       string `json:"email" binding:"required,email"`
	PhoneNumber string `json:"phone_number" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Password    string `json:"password" binding:"required,min=8"`
	Role        string `json:"role"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest carries the refresh token
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// AuthResponse represents an authentication response
type AuthResponse struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	User         UserResponse `json:"user"`
}

// UserResponse represents a user in responses
type UserResponse struct {
	UserID        string  `json:"user_id"`
	Email         string  `json:"email"`
	PhoneNumber   string  `json:"phone_number"`
	Name          string  `json:"name"`
	Role          string  `json:"role"`
	TrustScore    float64 `json:"trust_score"`
	AccountLocked bool    `json:"account_locked"`
	CreatedAt     string  `json:"created_at"`
}

// NewUserID generates a business user identifier
func NewUserID() string {
	return "USR-" + strings.ToUpper(uuid.New().String()[:8])
}

// Register registers a new user with full initial trust
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	if !auth.ValidatePasswordStrength(req.Password) {
		return nil, ErrWeakPassword
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	role := req.Role
	if role == "" {
		role = models.RoleUser
	}

	user := &models.User{
		UserID:           NewUserID(),
		Email:            req.Email,
		PhoneNumber:      req.PhoneNumber,
		Name:             req.Name,
		PasswordHash:     hashedPassword,
		Role:             role,
		TrustScore:       initialTrustScore,
		Enabled:          true,
		RegistrationDate: time.Now(),
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrUserAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Info().
		Str("user_id", user.UserID).
		Str("role", user.Role).
		Msg("User registered")

	return s.issueTokens(user)
}

// Login authenticates a user
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	user, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !auth.CheckPassword(req.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	if user.AccountLocked || !user.Enabled {
		return nil, ErrAccountLocked
	}

	return s.issueTokens(user)
}

// RefreshToken exchanges a valid refresh token for a new token pair
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	claims, err := s.jwtManager.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByUserID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("user not found: %w", err)
	}

	if user.AccountLocked || !user.Enabled {
		return nil, ErrAccountLocked
	}

	return s.issueTokens(user)
}

// GetUser retrieves a user by business id
func (s *AuthService) GetUser(ctx context.Context, userID string) (*UserResponse, error) {
	user, err := s.userRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := toUserResponse(user)
	return &resp, nil
}

func (s *AuthService) issueTokens(user *models.User) (*AuthResponse, error) {
	token, err := s.jwtManager.GenerateToken(user.UserID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.UserID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &AuthResponse{
		Token:        token,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtCfg.Expiration.Seconds()),
		User:         toUserResponse(user),
	}, nil
}

func toUserResponse(user *models.User) UserResponse {
	return UserResponse{
		UserID:        user.UserID,
		Email:         user.Email,
		PhoneNumber:   user.PhoneNumber,
		Name:          user.Name,
		Role:          user.Role,
		TrustScore:    user.TrustScore,
		AccountLocked: user.AccountLocked,
		CreatedAt:     user.CreatedAt.Format(time.RFC3339),
	}
}
