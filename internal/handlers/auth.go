package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fabrixhq/fieldops/internal/models"
	"github.com/fabrixhq/fieldops/internal/services"
	pkghttp "github.com/fabrixhq/fieldops/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, input services.LoginInput) (*services.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	Logout(ctx context.Context, user *models.User, deviceID string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Username   string `json:"username" validate:"required"`
	Password   string `json:"password" validate:"required"`
	RememberMe *bool  `json:"remember_me"`
	DeviceID   string `json:"device_id"`
	MACAddress string `json:"mac_address"`
}

// RefreshRequest represents the request body for token refresh
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest represents the request body for logout
type LogoutRequest struct {
	DeviceID string `json:"device_id"`
}

// Login handles user login with device binding
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	// Clients that omit remember_me get a refresh token.
	rememberMe := true
	if req.RememberMe != nil {
		rememberMe = *req.RememberMe
	}

	authResp, err := h.service.Login(r.Context(), services.LoginInput{
		Username:   req.Username,
		Password:   req.Password,
		RememberMe: rememberMe,
		DeviceID:   req.DeviceID,
		MACAddress: req.MACAddress,
		IPAddress:  pkghttp.ClientIP(r),
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidCredentials):
			pkghttp.WriteUnauthorized(w, "Invalid credentials")
		case errors.Is(err, models.ErrAccountLocked):
			pkghttp.WriteForbidden(w, "Account locked")
		case errors.Is(err, models.ErrSubscriptionInactive):
			pkghttp.WriteForbidden(w, "Subscription inactive/expired")
		case errors.Is(err, models.ErrDeviceIDRequired):
			pkghttp.WriteBadRequest(w, "device_id required for this account")
		case errors.Is(err, models.ErrDeviceConflict):
			pkghttp.WriteConflict(w, "This account is already active on another device. Ask SUPER_ADMIN to unlink the device.")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}

// Refresh exchanges a refresh token for a new token pair
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	authResp, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Invalid token")
		case errors.Is(err, models.ErrAccountLocked):
			pkghttp.WriteForbidden(w, "Account locked")
		case errors.Is(err, models.ErrSubscriptionInactive):
			pkghttp.WriteForbidden(w, "Subscription inactive/expired")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}

// Me returns the authenticated user's sanitized profile
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request, user *models.User) {
	pkghttp.WriteJSON(w, http.StatusOK, services.NewUserView(user))
}

// Logout releases the caller's device binding where policy allows
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request, user *models.User) {
	var req LogoutRequest

	// Logout tolerates an empty or malformed body.
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.service.Logout(r.Context(), user, req.DeviceID); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
