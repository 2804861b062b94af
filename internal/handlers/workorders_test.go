package handlers_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fabrixhq/fieldops/internal/handlers"
	"github.com/fabrixhq/fieldops/internal/models"
	"github.com/fabrixhq/fieldops/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaxUpload = 35 << 20

func TestAccept_Success(t *testing.T) {
	user := handlers.NewTestMobileUser("tech1")

	var gotWorkOrderID string
	mockService := &handlers.MockWorkOrderService{
		AcceptFunc: func(ctx context.Context, u *models.User, workOrderID string) error {
			gotWorkOrderID = workOrderID
			return nil
		},
	}

	handler := handlers.NewWorkOrderHandler(mockService, testMaxUpload)
	req := httptest.NewRequest("POST", "/workorders/wo1/accept", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "wo1"})

	w := httptest.NewRecorder()
	handler.Accept(w, req, user)

	var resp map[string]bool
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp["ok"])
	assert.Equal(t, "wo1", gotWorkOrderID)
}

func TestAccept_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", models.ErrNotFound, 404, "not_found"},
		{"forbidden", models.ErrForbidden, 403, "forbidden"},
		{"already completed", models.ErrAlreadyCompleted, 409, "conflict"},
		{"invalid state", models.ErrInvalidState, 409, "conflict"},
		{"store failure", models.ErrInternalServer, 500, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &handlers.MockWorkOrderService{
				AcceptFunc: func(ctx context.Context, u *models.User, workOrderID string) error {
					return tt.err
				},
			}

			handler := handlers.NewWorkOrderHandler(mockService, testMaxUpload)
			req := httptest.NewRequest("POST", "/workorders/wo1/accept", nil)
			req = handlers.WithChiRouteContext(req, map[string]string{"id": "wo1"})

			w := httptest.NewRecorder()
			handler.Accept(w, req, handlers.NewTestMobileUser("tech1"))

			handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

func TestStartWork_Success(t *testing.T) {
	user := handlers.NewTestMobileUser("tech1")

	mockService := &handlers.MockWorkOrderService{
		StartWorkFunc: func(ctx context.Context, u *models.User, workOrderID string) (models.Status, error) {
			return models.StatusInProgress, nil
		},
	}

	handler := handlers.NewWorkOrderHandler(mockService, testMaxUpload)
	req := httptest.NewRequest("POST", "/mobile/workorders/wo1/in-progress", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "wo1"})

	w := httptest.NewRecorder()
	handler.StartWork(w, req, user)

	var resp map[string]any
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, "wo1", resp["id"])
	assert.Equal(t, "IN_PROGRESS", resp["status"])
}

func TestSubmit_Success(t *testing.T) {
	user := handlers.NewTestMobileUser("tech1")

	var gotInput services.SubmitInput
	mockService := &handlers.MockWorkOrderService{
		SubmitFunc: func(ctx context.Context, u *models.User, workOrderID string, input services.SubmitInput) (*models.WorkUpdate, models.Status, error) {
			gotInput = input
			return &models.WorkUpdate{ID: "upd1", Message: input.Note}, models.StatusCompleted, nil
		},
	}

	handler := handlers.NewWorkOrderHandler(mockService, testMaxUpload)
	req := handlers.NewMultipartRequest(t, "POST", "/mobile/workorders/wo1/submit",
		map[string]string{"note": "done", "status": "COMPLETED"},
		map[string][]string{
			"images": {"before.jpg", "after.jpg"},
			"voice":  {"note.m4a"},
		})
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "wo1"})

	w := httptest.NewRecorder()
	handler.Submit(w, req, user)

	var resp map[string]any
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, "COMPLETED", resp["status"])

	assert.Equal(t, "done", gotInput.Note)
	assert.Equal(t, models.Status("COMPLETED"), gotInput.TargetStatus)
	assert.Len(t, gotInput.Images, 2)
	require.NotNil(t, gotInput.Voice)
	assert.Equal(t, "note.m4a", gotInput.Voice.Filename)
}

func TestSubmit_NotMultipart(t *testing.T) {
	handler := handlers.NewWorkOrderHandler(&handlers.MockWorkOrderService{}, testMaxUpload)
	req := handlers.NewTestRequest(t, "POST", "/mobile/workorders/wo1/submit", map[string]string{"note": "done"})
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "wo1"})

	w := httptest.NewRecorder()
	handler.Submit(w, req, handlers.NewTestMobileUser("tech1"))

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestSubmit_ValidationFailure(t *testing.T) {
	mockService := &handlers.MockWorkOrderService{
		SubmitFunc: func(ctx context.Context, u *models.User, workOrderID string, input services.SubmitInput) (*models.WorkUpdate, models.Status, error) {
			return nil, "", models.ErrValidation
		},
	}

	handler := handlers.NewWorkOrderHandler(mockService, testMaxUpload)
	req := handlers.NewMultipartRequest(t, "POST", "/mobile/workorders/wo1/submit",
		map[string]string{"status": "IN_PROGRESS"}, nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "wo1"})

	w := httptest.NewRecorder()
	handler.Submit(w, req, handlers.NewTestMobileUser("tech1"))

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestSubmit_InvalidFileType(t *testing.T) {
	mockService := &handlers.MockWorkOrderService{
		SubmitFunc: func(ctx context.Context, u *models.User, workOrderID string, input services.SubmitInput) (*models.WorkUpdate, models.Status, error) {
			return nil, "", models.ErrInvalidFileType
		},
	}

	handler := handlers.NewWorkOrderHandler(mockService, testMaxUpload)
	req := handlers.NewMultipartRequest(t, "POST", "/mobile/workorders/wo1/submit",
		nil, map[string][]string{"images": {"notes.txt"}})
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "wo1"})

	w := httptest.NewRecorder()
	handler.Submit(w, req, handlers.NewTestMobileUser("tech1"))

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestListMine_PassesFilters(t *testing.T) {
	user := handlers.NewTestMobileUser("tech1")

	var gotStatus, gotOverride string
	mockService := &handlers.MockWorkOrderService{
		ListMineFunc: func(ctx context.Context, u *models.User, statusFilter, userIDOverride string) ([]*services.WorkOrderSummary, error) {
			gotStatus = statusFilter
			gotOverride = userIDOverride
			return []*services.WorkOrderSummary{
				{ID: "wo1", WONo: "WO-100", Status: models.StatusAccepted},
			}, nil
		},
	}

	handler := handlers.NewWorkOrderHandler(mockService, testMaxUpload)
	req := httptest.NewRequest("GET", "/mobile/my-workorders?status=ACCEPTED,IN_PROGRESS&user_id=tech2", nil)

	w := httptest.NewRecorder()
	handler.ListMine(w, req, user)

	var resp struct {
		Items []*services.WorkOrderSummary `json:"items"`
		Count int                          `json:"count"`
	}
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "ACCEPTED,IN_PROGRESS", gotStatus)
	assert.Equal(t, "tech2", gotOverride)
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "WO-100", resp.Items[0].WONo)
}

func TestServeUpload_StreamsFile(t *testing.T) {
	user := handlers.NewTestMobileUser("tech1")

	dir := t.TempDir()
	path := filepath.Join(dir, "after.jpg")
	require.NoError(t, os.WriteFile(path, []byte("image bytes"), 0o644))

	mockService := &handlers.MockWorkOrderService{
		OpenAttachmentFunc: func(ctx context.Context, u *models.User, workOrderID, updateID, filename string) (*os.File, error) {
			assert.Equal(t, "wo1", workOrderID)
			assert.Equal(t, "upd1", updateID)
			assert.Equal(t, "after.jpg", filename)
			return os.Open(path)
		},
	}

	handler := handlers.NewWorkOrderHandler(mockService, testMaxUpload)
	req := httptest.NewRequest("GET", "/mobile/uploads/workorders/wo1/upd1/after.jpg", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{
		"wo":       "wo1",
		"update":   "upd1",
		"filename": "after.jpg",
	})

	w := httptest.NewRecorder()
	handler.ServeUpload(w, req, user)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "image bytes", w.Body.String())
}

func TestServeUpload_NotFound(t *testing.T) {
	handler := handlers.NewWorkOrderHandler(&handlers.MockWorkOrderService{}, testMaxUpload)
	req := httptest.NewRequest("GET", "/mobile/uploads/workorders/wo1/upd1/missing.jpg", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{
		"wo":       "wo1",
		"update":   "upd1",
		"filename": "missing.jpg",
	})

	w := httptest.NewRecorder()
	handler.ServeUpload(w, req, handlers.NewTestMobileUser("tech1"))

	handlers.AssertErrorResponse(t, w, 404, "not_found")
}
