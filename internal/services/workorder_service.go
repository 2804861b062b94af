package services

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"os"
	"strings"
	"time"

	"github.com/fabrixhq/fieldops/internal/models"
	"github.com/fabrixhq/fieldops/internal/storage"
	pkglogger "github.com/fabrixhq/fieldops/pkg/logger"
	"github.com/segmentio/ksuid"
)

// MaxSubmitImages caps the image attachments on a single work update.
const MaxSubmitImages = 3

// timelineLimit caps the achievement timeline length.
const timelineLimit = 60

// WorkOrderRepository defines the work-order store operations the lifecycle
// engine needs. The transition writes are conditional: applied=false means
// the row no longer satisfied the filter and the failure must be classified
// from a fresh read.
type WorkOrderRepository interface {
	GetByID(ctx context.Context, id string) (*models.WorkOrder, error)
	List(ctx context.Context, teamUserID string, statuses []models.Status) ([]*models.WorkOrder, error)
	Accept(ctx context.Context, id, actorID string, entry models.HistoryEntry, now time.Time) (bool, error)
	StartWork(ctx context.Context, id, actorID string, entry models.HistoryEntry, now time.Time) (bool, error)
	AppendSubmission(ctx context.Context, id string, update models.WorkUpdate, entry models.HistoryEntry, target models.Status, actorID string, now time.Time) (bool, error)
}

// AttachmentStore defines the evidence file operations used during submit and
// serving.
type AttachmentStore interface {
	Save(file multipart.File, header *multipart.FileHeader, kind storage.Kind, workOrderID, updateID string) (*models.Attachment, error)
	DiscardUpdate(workOrderID, updateID string)
	Open(workOrderID, updateID, filename string) (*os.File, error)
}

// WorkOrderService enforces the status lifecycle and team authorization
type WorkOrderService struct {
	repo        WorkOrderRepository
	attachments AttachmentStore
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewWorkOrderService creates a new WorkOrderService
func NewWorkOrderService(repo WorkOrderRepository, attachments AttachmentStore, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *WorkOrderService {
	return &WorkOrderService{
		repo:        repo,
		attachments: attachments,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// WorkOrderSummary is the public list representation of a work order.
type WorkOrderSummary struct {
	ID           string           `json:"id"`
	WONo         string           `json:"wo_no"`
	CustomerName string           `json:"customer_name"`
	Phone        string           `json:"phone"`
	Address      string           `json:"address"`
	Status       models.Status    `json:"status"`
	Schedule     *models.Schedule `json:"schedule"`
	Location     *models.Location `json:"location"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// NewWorkOrderSummary builds the list representation from a work order.
func NewWorkOrderSummary(wo *models.WorkOrder) *WorkOrderSummary {
	return &WorkOrderSummary{
		ID:           wo.ID,
		WONo:         wo.WONo,
		CustomerName: wo.CustomerName,
		Phone:        wo.Phone,
		Address:      wo.Address,
		Status:       wo.Status,
		Schedule:     wo.Schedule,
		Location:     wo.Location,
		UpdatedAt:    wo.UpdatedAt,
	}
}

// classifyTransitionFailure re-reads the work order after a conditional write
// matched no row, deciding which precondition broke.
func (s *WorkOrderService) classifyTransitionFailure(ctx context.Context, id string) error {
	wo, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return models.ErrInternalServer
	}
	if wo.Status.IsTerminal() {
		return models.ErrAlreadyCompleted
	}
	return models.ErrInvalidState
}

// Accept transitions DRAFT/ASSIGNED to ACCEPTED. Team membership is required
// even for administrative roles; this operation is deliberately stricter than
// StartWork and Submit.
func (s *WorkOrderService) Accept(ctx context.Context, user *models.User, workOrderID string) error {
	wo, err := s.repo.GetByID(ctx, workOrderID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to get work order", slog.String("workorder_id", workOrderID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !wo.IsAssignee(user.ID) {
		return models.ErrForbidden
	}

	if wo.Status.IsTerminal() {
		return models.ErrAlreadyCompleted
	}
	if !wo.Status.CanAccept() {
		return models.ErrInvalidState
	}

	now := time.Now().UTC()
	entry := models.HistoryEntry{
		At:     now,
		By:     user.ID,
		Action: models.ActionAccept,
		Status: models.StatusAccepted,
	}

	applied, err := s.repo.Accept(ctx, workOrderID, user.ID, entry, now)
	if err != nil {
		s.logger.Error("failed to accept work order", slog.String("workorder_id", workOrderID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !applied {
		return s.classifyTransitionFailure(ctx, workOrderID)
	}

	s.auditLogger.LogWorkOrderAction("workorder_accepted", workOrderID, user.ID, nil)
	return nil
}

// StartWork transitions ACCEPTED to IN_PROGRESS. Calling it on an order that
// is already IN_PROGRESS succeeds without appending history.
func (s *WorkOrderService) StartWork(ctx context.Context, user *models.User, workOrderID string) (models.Status, error) {
	wo, err := s.repo.GetByID(ctx, workOrderID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", models.ErrNotFound
		}
		s.logger.Error("failed to get work order", slog.String("workorder_id", workOrderID), slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	if !wo.CanBeAccessedBy(user) {
		return "", models.ErrForbidden
	}

	if wo.Status.IsTerminal() {
		return "", models.ErrAlreadyCompleted
	}
	if !wo.Status.CanStartWork() {
		return "", models.ErrInvalidState
	}

	if wo.Status.Normalize() == models.StatusInProgress {
		return models.StatusInProgress, nil
	}

	now := time.Now().UTC()
	entry := models.HistoryEntry{
		At:     now,
		By:     user.ID,
		Action: models.ActionMobileStartWork,
		Status: models.StatusInProgress,
	}

	applied, err := s.repo.StartWork(ctx, workOrderID, user.ID, entry, now)
	if err != nil {
		s.logger.Error("failed to start work", slog.String("workorder_id", workOrderID), slog.Any("error", err))
		return "", models.ErrInternalServer
	}
	if !applied {
		// A racing StartWork may have won; that still counts as started.
		current, err := s.repo.GetByID(ctx, workOrderID)
		if err == nil && current.Status.Normalize() == models.StatusInProgress {
			return models.StatusInProgress, nil
		}
		return "", s.classifyTransitionFailure(ctx, workOrderID)
	}

	s.auditLogger.LogWorkOrderAction("workorder_started", workOrderID, user.ID, nil)
	return models.StatusInProgress, nil
}

// SubmitInput carries the evidence submission payload.
type SubmitInput struct {
	Note         string
	TargetStatus models.Status
	Images       []*multipart.FileHeader
	Voice        *multipart.FileHeader
}

// Submit appends a WorkUpdate with its evidence files and moves the order to
// the caller-chosen target status. Files are written first; if the metadata
// commit fails or any file fails validation, everything written for the
// update is rolled back.
func (s *WorkOrderService) Submit(ctx context.Context, user *models.User, workOrderID string, input SubmitInput) (*models.WorkUpdate, models.Status, error) {
	target := input.TargetStatus.Normalize()
	if target == "" {
		target = models.StatusInProgress
	}
	if target != models.StatusInProgress && target != models.StatusCompleted {
		return nil, "", models.ErrValidation
	}

	note := strings.TrimSpace(input.Note)
	if len(input.Images) > MaxSubmitImages {
		return nil, "", models.ErrValidation
	}
	if note == "" && len(input.Images) == 0 && input.Voice == nil {
		return nil, "", models.ErrValidation
	}

	wo, err := s.repo.GetByID(ctx, workOrderID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, "", models.ErrNotFound
		}
		s.logger.Error("failed to get work order", slog.String("workorder_id", workOrderID), slog.Any("error", err))
		return nil, "", models.ErrInternalServer
	}

	if !wo.CanBeAccessedBy(user) {
		return nil, "", models.ErrForbidden
	}
	if wo.Status.IsTerminal() {
		return nil, "", models.ErrAlreadyCompleted
	}

	updateID := ksuid.New().String()
	now := time.Now().UTC()

	images, voice, err := s.saveEvidence(workOrderID, updateID, input)
	if err != nil {
		s.attachments.DiscardUpdate(workOrderID, updateID)
		return nil, "", err
	}

	update := models.WorkUpdate{
		ID:      updateID,
		At:      now,
		By:      user.ID,
		Message: note,
		Images:  images,
		Voice:   voice,
		Source:  models.WorkUpdateSourceMobile,
		Status:  target,
	}

	entry := models.HistoryEntry{
		At:     now,
		By:     user.ID,
		Action: models.ActionMobileSubmit,
		Status: target,
	}

	applied, err := s.repo.AppendSubmission(ctx, workOrderID, update, entry, target, user.ID, now)
	if err != nil {
		s.attachments.DiscardUpdate(workOrderID, updateID)
		s.logger.Error("failed to append submission", slog.String("workorder_id", workOrderID), slog.Any("error", err))
		return nil, "", models.ErrInternalServer
	}
	if !applied {
		s.attachments.DiscardUpdate(workOrderID, updateID)
		return nil, "", s.classifyTransitionFailure(ctx, workOrderID)
	}

	s.auditLogger.LogWorkOrderAction("workorder_submitted", workOrderID, user.ID, map[string]string{
		"update_id": updateID,
		"status":    string(target),
	})

	return &update, target, nil
}

// saveEvidence persists the submit attachments, image files first, then the
// voice note.
func (s *WorkOrderService) saveEvidence(workOrderID, updateID string, input SubmitInput) ([]models.Attachment, *models.Attachment, error) {
	images := make([]models.Attachment, 0, len(input.Images))

	for _, header := range input.Images {
		if header == nil || strings.TrimSpace(header.Filename) == "" {
			continue
		}
		att, err := s.saveOne(header, storage.KindImage, workOrderID, updateID)
		if err != nil {
			return nil, nil, err
		}
		images = append(images, *att)
	}

	var voice *models.Attachment
	if input.Voice != nil && strings.TrimSpace(input.Voice.Filename) != "" {
		att, err := s.saveOne(input.Voice, storage.KindVoice, workOrderID, updateID)
		if err != nil {
			return nil, nil, err
		}
		voice = att
	}

	return images, voice, nil
}

func (s *WorkOrderService) saveOne(header *multipart.FileHeader, kind storage.Kind, workOrderID, updateID string) (*models.Attachment, error) {
	file, err := header.Open()
	if err != nil {
		s.logger.Error("failed to open uploaded file", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	defer file.Close()

	att, err := s.attachments.Save(file, header, kind, workOrderID, updateID)
	if err != nil {
		if errors.Is(err, models.ErrInvalidFileType) {
			return nil, err
		}
		s.logger.Error("failed to save attachment", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return att, nil
}

// ListMine returns the effective target user's work orders. Admins may list
// on behalf of another user; non-admins are always self-scoped. The status
// filter accepts a comma-separated set.
func (s *WorkOrderService) ListMine(ctx context.Context, user *models.User, statusFilter, userIDOverride string) ([]*WorkOrderSummary, error) {
	targetUserID := user.ID
	override := strings.TrimSpace(userIDOverride)
	if override != "" && user.IsAdmin() {
		targetUserID = override
	}

	var statuses []models.Status
	for _, raw := range strings.Split(statusFilter, ",") {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			statuses = append(statuses, models.Status(trimmed))
		}
	}

	orders, err := s.repo.List(ctx, targetUserID, statuses)
	if err != nil {
		s.logger.Error("failed to list work orders", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	summaries := make([]*WorkOrderSummary, 0, len(orders))
	for _, wo := range orders {
		summaries = append(summaries, NewWorkOrderSummary(wo))
	}
	return summaries, nil
}

// OpenAttachment authorizes and opens a stored evidence file. The file must
// be recorded on the identified update of a live, accessible work order.
func (s *WorkOrderService) OpenAttachment(ctx context.Context, user *models.User, workOrderID, updateID, filename string) (*os.File, error) {
	wo, err := s.repo.GetByID(ctx, workOrderID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get work order", slog.String("workorder_id", workOrderID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !wo.CanBeAccessedBy(user) {
		return nil, models.ErrForbidden
	}

	if !wo.HasAttachment(updateID, filename) {
		return nil, models.ErrNotFound
	}

	return s.attachments.Open(workOrderID, updateID, filename)
}
