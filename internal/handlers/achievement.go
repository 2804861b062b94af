package handlers

import (
	"context"
	"net/http"

	"github.com/fabrixhq/fieldops/internal/models"
	"github.com/fabrixhq/fieldops/internal/services"
	pkghttp "github.com/fabrixhq/fieldops/pkg/http"
)

// AchievementServiceInterface defines the interface for achievement aggregation
type AchievementServiceInterface interface {
	Get(ctx context.Context, user *models.User, userIDOverride string) (*services.Achievement, error)
}

// AchievementHandler handles achievement HTTP requests
type AchievementHandler struct {
	service AchievementServiceInterface
}

// NewAchievementHandler creates a new AchievementHandler
func NewAchievementHandler(service AchievementServiceInterface) *AchievementHandler {
	return &AchievementHandler{service: service}
}

// Get handles GET /mobile/achievement
func (h *AchievementHandler) Get(w http.ResponseWriter, r *http.Request, user *models.User) {
	achievement, err := h.service.Get(r.Context(), user, r.URL.Query().Get("user_id"))
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, achievement)
}
