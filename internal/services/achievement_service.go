package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/fabrixhq/fieldops/internal/models"
)

// AchievementRepository defines the read-only counters the aggregator needs.
type AchievementRepository interface {
	CountAssigned(ctx context.Context, userID string) (int64, error)
	CountCompletedBy(ctx context.Context, userID string) (int64, error)
	CountCompletedBySince(ctx context.Context, userID string, since time.Time) (int64, error)
	CountActive(ctx context.Context, userID string) (int64, error)
	ListCompletedBy(ctx context.Context, userID string, limit int) ([]*models.WorkOrder, error)
}

// AchievementService derives per-user statistics from the work-order
// collection. It holds no state of its own.
type AchievementService struct {
	repo   AchievementRepository
	logger *slog.Logger
}

// NewAchievementService creates a new AchievementService
func NewAchievementService(repo AchievementRepository, logger *slog.Logger) *AchievementService {
	return &AchievementService{
		repo:   repo,
		logger: logger,
	}
}

// AchievementTotals holds the headline counters.
type AchievementTotals struct {
	Assigned     int64 `json:"assigned"`
	Completed    int64 `json:"completed"`
	Active       int64 `json:"active"`
	Completed7D  int64 `json:"completed_7d"`
	Completed30D int64 `json:"completed_30d"`
}

// Badge marks a milestone the user has reached.
type Badge struct {
	Code     string `json:"code"`
	Label    string `json:"label"`
	Achieved bool   `json:"achieved"`
}

// TimelineItem is one completed work order on the achievement timeline.
type TimelineItem struct {
	WorkOrderID  string     `json:"workorder_id"`
	WONo         string     `json:"wo_no"`
	CustomerName string     `json:"customer_name"`
	CompletedAt  *time.Time `json:"completed_at"`
}

// Achievement is the full aggregator response.
type Achievement struct {
	UserID   string            `json:"user_id"`
	Totals   AchievementTotals `json:"totals"`
	Badges   []Badge           `json:"badges"`
	Timeline []TimelineItem    `json:"timeline"`
}

// Get assembles the achievement view for the effective target user. Admins
// may query on behalf of another user; non-admins are always self-scoped.
func (s *AchievementService) Get(ctx context.Context, user *models.User, userIDOverride string) (*Achievement, error) {
	targetUserID := user.ID
	if override := strings.TrimSpace(userIDOverride); override != "" && user.IsAdmin() {
		targetUserID = override
	}

	now := time.Now().UTC()

	assigned, err := s.repo.CountAssigned(ctx, targetUserID)
	if err != nil {
		return nil, s.countError("assigned", targetUserID, err)
	}
	completed, err := s.repo.CountCompletedBy(ctx, targetUserID)
	if err != nil {
		return nil, s.countError("completed", targetUserID, err)
	}
	active, err := s.repo.CountActive(ctx, targetUserID)
	if err != nil {
		return nil, s.countError("active", targetUserID, err)
	}
	completed7d, err := s.repo.CountCompletedBySince(ctx, targetUserID, now.AddDate(0, 0, -7))
	if err != nil {
		return nil, s.countError("completed_7d", targetUserID, err)
	}
	completed30d, err := s.repo.CountCompletedBySince(ctx, targetUserID, now.AddDate(0, 0, -30))
	if err != nil {
		return nil, s.countError("completed_30d", targetUserID, err)
	}

	recent, err := s.repo.ListCompletedBy(ctx, targetUserID, timelineLimit)
	if err != nil {
		s.logger.Error("failed to list completed work orders", slog.String("user_id", targetUserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	timeline := make([]TimelineItem, 0, len(recent))
	for _, wo := range recent {
		timeline = append(timeline, TimelineItem{
			WorkOrderID:  wo.ID,
			WONo:         wo.WONo,
			CustomerName: wo.CustomerName,
			CompletedAt:  wo.CompletedAt,
		})
	}

	return &Achievement{
		UserID: targetUserID,
		Totals: AchievementTotals{
			Assigned:     assigned,
			Completed:    completed,
			Active:       active,
			Completed7D:  completed7d,
			Completed30D: completed30d,
		},
		Badges: []Badge{
			{Code: "first_completion", Label: "First Completion", Achieved: completed >= 1},
			{Code: "ten_completions", Label: "Ten Completions", Achieved: completed >= 10},
			{Code: "five_in_week", Label: "Five in a Week", Achieved: completed7d >= 5},
		},
		Timeline: timeline,
	}, nil
}

func (s *AchievementService) countError(counter, userID string, err error) error {
	s.logger.Error("failed to count work orders",
		slog.String("counter", counter),
		slog.String("user_id", userID),
		slog.Any("error", err))
	return models.ErrInternalServer
}
