package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/fabrixhq/fieldops/internal/models"
	pkghttp "github.com/fabrixhq/fieldops/pkg/http"
)

// UserSource resolves a user id to a live user record.
type UserSource interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// UserHandler is an http.HandlerFunc that additionally receives the
// authenticated user. The guard resolves the user fresh on every request, so
// a disabled or deleted account is rejected on its next call even while its
// token is still formally valid.
type UserHandler func(w http.ResponseWriter, r *http.Request, user *models.User)

// Guard authenticates bearer tokens and hands the resolved user to handlers
// as an explicit parameter.
type Guard struct {
	tm    *TokenManager
	users UserSource
}

// NewGuard creates a new Guard
func NewGuard(tm *TokenManager, users UserSource) *Guard {
	return &Guard{tm: tm, users: users}
}

// Require wraps a UserHandler with token validation and user resolution.
func (g *Guard) Require(next UserHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			pkghttp.WriteUnauthorized(w, "Missing authorization header")
			return
		}

		claims, err := g.tm.ValidateAccessToken(tokenString)
		if err != nil {
			pkghttp.WriteUnauthorized(w, "Invalid token")
			return
		}

		user, err := g.users.GetByID(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				pkghttp.WriteForbidden(w, "User disabled")
				return
			}
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}

		if user.IsDeleted || !user.IsActive {
			pkghttp.WriteForbidden(w, "User disabled")
			return
		}

		next(w, r, user)
	}
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
