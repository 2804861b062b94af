package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/fabrixhq/fieldops/internal/auth"
	"github.com/fabrixhq/fieldops/internal/models"
	pkgauth "github.com/fabrixhq/fieldops/pkg/auth"
	pkglogger "github.com/fabrixhq/fieldops/pkg/logger"
)

// UserRepository defines the user store operations the auth flow needs.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	BindDevice(ctx context.Context, userID, deviceID, macHash string, now time.Time) (*models.User, error)
	ReleaseDevice(ctx context.Context, userID, deviceID string, now time.Time) error
}

// AuthPolicy carries the login policy knobs from configuration.
type AuthPolicy struct {
	SuperUserUsername     string
	ReleaseDeviceOnLogout bool
}

// AuthService handles authentication and device-binding business logic
type AuthService struct {
	repo        UserRepository
	tm          *auth.TokenManager
	timingDelay *auth.TimingDelay
	policy      AuthPolicy
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(repo UserRepository, tm *auth.TokenManager, timingDelay *auth.TimingDelay, policy AuthPolicy, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AuthService {
	return &AuthService{
		repo:        repo,
		tm:          tm,
		timingDelay: timingDelay,
		policy:      policy,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// LoginInput carries the normalized login request.
type LoginInput struct {
	Username   string
	Password   string
	RememberMe bool
	DeviceID   string
	MACAddress string
	IPAddress  string
}

// UserView is the sanitized user representation returned to clients.
type UserView struct {
	ID                string     `json:"id"`
	Username          string     `json:"username"`
	Role              string     `json:"role"`
	UserType          string     `json:"user_type"`
	FullName          string     `json:"full_name"`
	Phone             string     `json:"phone"`
	AllowedModules    []string   `json:"allowed_modules"`
	SubscriptionStart *time.Time `json:"subscription_start"`
	SubscriptionEnd   *time.Time `json:"subscription_end"`
}

// AuthResponse represents the response from login and refresh
type AuthResponse struct {
	User         *UserView `json:"user"`
	AccessToken  string    `json:"access_token"`
	RefreshToken *string   `json:"refresh_token"`
}

// NewUserView sanitizes a user record for client responses.
func NewUserView(u *models.User) *UserView {
	modules := u.AllowedModules
	if modules == nil {
		modules = []string{}
	}
	return &UserView{
		ID:                u.ID,
		Username:          u.Username,
		Role:              u.Role,
		UserType:          u.EffectiveUserType(),
		FullName:          u.FullName,
		Phone:             u.Phone,
		AllowedModules:    modules,
		SubscriptionStart: u.SubscriptionStart,
		SubscriptionEnd:   u.SubscriptionEnd,
	}
}

// Login authenticates credentials, enforces the single-active-device policy,
// and issues tokens. A refresh token is issued only when remember_me is set.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResponse, error) {
	username := strings.TrimSpace(input.Username)
	deviceID := strings.TrimSpace(input.DeviceID)

	fail := func(reason string, userID string, err error) (*AuthResponse, error) {
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        userID,
			DeviceID:      deviceID,
			IPAddress:     input.IPAddress,
			FailureReason: reason,
			Success:       false,
		})
		s.timingDelay.Wait(false)
		return nil, err
	}

	if username == "" {
		return fail("invalid_credentials", "", models.ErrInvalidCredentials)
	}

	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fail("invalid_credentials", "", models.ErrInvalidCredentials)
		}
		s.logger.Error("failed to get user by username", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !user.IsActive {
		return fail("invalid_credentials", user.ID, models.ErrInvalidCredentials)
	}
	if user.IsLocked {
		return fail("account_locked", user.ID, models.ErrAccountLocked)
	}
	if !user.SubscriptionAllows(time.Now()) {
		return fail("subscription_inactive", user.ID, models.ErrSubscriptionInactive)
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, input.Password); err != nil {
		return fail("invalid_credentials", user.ID, models.ErrInvalidCredentials)
	}

	if !user.IsSuperUser(s.policy.SuperUserUsername) {
		if deviceID == "" {
			return fail("device_id_required", user.ID, models.ErrDeviceIDRequired)
		}

		bound, err := s.repo.BindDevice(ctx, user.ID, deviceID, pkgauth.HashMAC(input.MACAddress), time.Now())
		if err != nil {
			if errors.Is(err, models.ErrDeviceConflict) {
				return fail("device_conflict", user.ID, models.ErrDeviceConflict)
			}
			s.logger.Error("failed to bind device", slog.String("user_id", user.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		user = bound
	}

	accessToken, err := s.tm.GenerateAccessToken(user)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	var refreshToken *string
	if input.RememberMe {
		token, err := s.tm.GenerateRefreshToken(user.ID)
		if err != nil {
			s.logger.Error("failed to generate refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		refreshToken = &token
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		DeviceID:  deviceID,
		IPAddress: input.IPAddress,
		Success:   true,
	})

	return &AuthResponse{
		User:         NewUserView(user),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// Refresh exchanges a valid refresh token for a fresh token pair, re-running
// the account-state and subscription checks against current data.
func (s *AuthService) Refresh(ctx context.Context, refreshTokenString string) (*AuthResponse, error) {
	refreshTokenString = strings.TrimSpace(refreshTokenString)
	if refreshTokenString == "" {
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateRefreshToken(refreshTokenString)
	if err != nil {
		s.logger.Info("refresh token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	user, err := s.repo.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for token refresh", slog.String("user_id", claims.Subject), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !user.IsActive || user.IsDeleted {
		return nil, models.ErrUnauthorized
	}
	if user.IsLocked {
		return nil, models.ErrAccountLocked
	}
	if !user.SubscriptionAllows(time.Now()) {
		return nil, models.ErrSubscriptionInactive
	}

	accessToken, err := s.tm.GenerateAccessToken(user)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	newRefresh, err := s.tm.GenerateRefreshToken(user.ID)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("token refreshed", slog.String("user_id", user.ID))

	return &AuthResponse{
		User:         NewUserView(user),
		AccessToken:  accessToken,
		RefreshToken: &newRefresh,
	}, nil
}

// Logout releases the caller's device binding when the release policy is
// enabled, the caller is not a super-user, and the supplied device matches
// the current binding. Every other combination is a no-op; logout never
// fails.
func (s *AuthService) Logout(ctx context.Context, user *models.User, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)

	if s.policy.ReleaseDeviceOnLogout && user.Role != models.RoleSuperAdmin && deviceID != "" {
		if err := s.repo.ReleaseDevice(ctx, user.ID, deviceID, time.Now()); err != nil {
			// Release is best-effort: the binding stays and the next login
			// with the same device still succeeds.
			s.logger.Warn("failed to release device binding",
				slog.String("user_id", user.ID),
				slog.Any("error", err))
		}
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "logout",
		UserID:    user.ID,
		DeviceID:  deviceID,
		Success:   true,
	})

	return nil
}
