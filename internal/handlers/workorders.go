package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/fabrixhq/fieldops/internal/models"
	"github.com/fabrixhq/fieldops/internal/services"
	pkghttp "github.com/fabrixhq/fieldops/pkg/http"
	"github.com/go-chi/chi/v5"
)

// WorkOrderServiceInterface defines the interface for work-order lifecycle logic
type WorkOrderServiceInterface interface {
	Accept(ctx context.Context, user *models.User, workOrderID string) error
	StartWork(ctx context.Context, user *models.User, workOrderID string) (models.Status, error)
	Submit(ctx context.Context, user *models.User, workOrderID string, input services.SubmitInput) (*models.WorkUpdate, models.Status, error)
	ListMine(ctx context.Context, user *models.User, statusFilter, userIDOverride string) ([]*services.WorkOrderSummary, error)
	OpenAttachment(ctx context.Context, user *models.User, workOrderID, updateID, filename string) (*os.File, error)
}

// WorkOrderHandler handles work-order lifecycle HTTP requests
type WorkOrderHandler struct {
	service        WorkOrderServiceInterface
	maxUploadBytes int64
}

// NewWorkOrderHandler creates a new WorkOrderHandler
func NewWorkOrderHandler(service WorkOrderServiceInterface, maxUploadBytes int64) *WorkOrderHandler {
	return &WorkOrderHandler{
		service:        service,
		maxUploadBytes: maxUploadBytes,
	}
}

// writeTransitionError maps lifecycle failures to HTTP responses. The status
// codes are part of the mobile client contract.
func writeTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Not found")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Forbidden")
	case errors.Is(err, models.ErrAlreadyCompleted):
		pkghttp.WriteConflict(w, "Work order already completed")
	case errors.Is(err, models.ErrInvalidState):
		pkghttp.WriteConflict(w, "Invalid state")
	case errors.Is(err, models.ErrValidation):
		pkghttp.WriteBadRequest(w, "Invalid submission")
	case errors.Is(err, models.ErrInvalidFileType):
		pkghttp.WriteBadRequest(w, "Unsupported file type")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// Accept handles POST /workorders/{id}/accept
func (h *WorkOrderHandler) Accept(w http.ResponseWriter, r *http.Request, user *models.User) {
	workOrderID := chi.URLParam(r, "id")

	if err := h.service.Accept(r.Context(), user, workOrderID); err != nil {
		writeTransitionError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// StartWork handles POST /mobile/workorders/{id}/in-progress
func (h *WorkOrderHandler) StartWork(w http.ResponseWriter, r *http.Request, user *models.User) {
	workOrderID := chi.URLParam(r, "id")

	status, err := h.service.StartWork(r.Context(), user, workOrderID)
	if err != nil {
		writeTransitionError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"id":     workOrderID,
		"status": status,
	})
}

// Submit handles POST /mobile/workorders/{id}/submit (multipart)
func (h *WorkOrderHandler) Submit(w http.ResponseWriter, r *http.Request, user *models.User) {
	workOrderID := chi.URLParam(r, "id")

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			pkghttp.WritePayloadTooLarge(w, "Upload too large")
			return
		}
		pkghttp.WriteBadRequest(w, "Invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	var voice *multipart.FileHeader
	if headers := r.MultipartForm.File["voice"]; len(headers) > 0 {
		voice = headers[0]
	}

	update, status, err := h.service.Submit(r.Context(), user, workOrderID, services.SubmitInput{
		Note:         r.FormValue("note"),
		TargetStatus: models.Status(r.FormValue("status")),
		Images:       r.MultipartForm.File["images"],
		Voice:        voice,
	})
	if err != nil {
		writeTransitionError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"update": update,
		"status": status,
	})
}

// ListMine handles GET /mobile/my-workorders
func (h *WorkOrderHandler) ListMine(w http.ResponseWriter, r *http.Request, user *models.User) {
	summaries, err := h.service.ListMine(r.Context(), user,
		r.URL.Query().Get("status"),
		r.URL.Query().Get("user_id"))
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"items": summaries,
		"count": len(summaries),
	})
}

// ServeUpload handles GET /mobile/uploads/workorders/{wo}/{update}/{filename}
func (h *WorkOrderHandler) ServeUpload(w http.ResponseWriter, r *http.Request, user *models.User) {
	workOrderID := chi.URLParam(r, "wo")
	updateID := chi.URLParam(r, "update")
	filename := chi.URLParam(r, "filename")

	file, err := h.service.OpenAttachment(r.Context(), user, workOrderID, updateID, filename)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Not found")
		case errors.Is(err, models.ErrForbidden):
			pkghttp.WriteForbidden(w, "Forbidden")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	http.ServeContent(w, r, stat.Name(), stat.ModTime(), file)
}
