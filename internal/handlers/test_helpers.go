package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/fabrixhq/fieldops/internal/models"
	"github.com/fabrixhq/fieldops/internal/services"
	pkghttp "github.com/fabrixhq/fieldops/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// NewMultipartRequest builds a multipart request with form values and files
func NewMultipartRequest(t *testing.T, method, url string, values map[string]string, files map[string][]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for key, value := range values {
		if err := w.WriteField(key, value); err != nil {
			t.Fatalf("failed to write form field: %v", err)
		}
	}
	for field, names := range files {
		for _, name := range names {
			part, err := w.CreateFormFile(field, name)
			if err != nil {
				t.Fatalf("failed to create form file: %v", err)
			}
			if _, err := io.WriteString(part, "test file content"); err != nil {
				t.Fatalf("failed to write file content: %v", err)
			}
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// NewTestMobileUser returns an active mobile user for handler tests
func NewTestMobileUser(id string) *models.User {
	return &models.User{
		ID:       id,
		Username: id,
		Role:     models.RoleMobileUser,
		IsActive: true,
	}
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc   func(ctx context.Context, input services.LoginInput) (*services.AuthResponse, error)
	RefreshFunc func(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	LogoutFunc  func(ctx context.Context, user *models.User, deviceID string) error
}

func (m *MockAuthService) Login(ctx context.Context, input services.LoginInput) (*services.AuthResponse, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, input)
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
	if m.RefreshFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.RefreshFunc(ctx, refreshToken)
}

func (m *MockAuthService) Logout(ctx context.Context, user *models.User, deviceID string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, user, deviceID)
}

// MockWorkOrderService implements WorkOrderServiceInterface for testing
type MockWorkOrderService struct {
	AcceptFunc         func(ctx context.Context, user *models.User, workOrderID string) error
	StartWorkFunc      func(ctx context.Context, user *models.User, workOrderID string) (models.Status, error)
	SubmitFunc         func(ctx context.Context, user *models.User, workOrderID string, input services.SubmitInput) (*models.WorkUpdate, models.Status, error)
	ListMineFunc       func(ctx context.Context, user *models.User, statusFilter, userIDOverride string) ([]*services.WorkOrderSummary, error)
	OpenAttachmentFunc func(ctx context.Context, user *models.User, workOrderID, updateID, filename string) (*os.File, error)
}

func (m *MockWorkOrderService) Accept(ctx context.Context, user *models.User, workOrderID string) error {
	if m.AcceptFunc == nil {
		return models.ErrNotFound
	}
	return m.AcceptFunc(ctx, user, workOrderID)
}

func (m *MockWorkOrderService) StartWork(ctx context.Context, user *models.User, workOrderID string) (models.Status, error) {
	if m.StartWorkFunc == nil {
		return "", models.ErrNotFound
	}
	return m.StartWorkFunc(ctx, user, workOrderID)
}

func (m *MockWorkOrderService) Submit(ctx context.Context, user *models.User, workOrderID string, input services.SubmitInput) (*models.WorkUpdate, models.Status, error) {
	if m.SubmitFunc == nil {
		return nil, "", models.ErrNotFound
	}
	return m.SubmitFunc(ctx, user, workOrderID, input)
}

func (m *MockWorkOrderService) ListMine(ctx context.Context, user *models.User, statusFilter, userIDOverride string) ([]*services.WorkOrderSummary, error) {
	if m.ListMineFunc == nil {
		return []*services.WorkOrderSummary{}, nil
	}
	return m.ListMineFunc(ctx, user, statusFilter, userIDOverride)
}

func (m *MockWorkOrderService) OpenAttachment(ctx context.Context, user *models.User, workOrderID, updateID, filename string) (*os.File, error) {
	if m.OpenAttachmentFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.OpenAttachmentFunc(ctx, user, workOrderID, updateID, filename)
}

// MockAchievementService implements AchievementServiceInterface for testing
type MockAchievementService struct {
	GetFunc func(ctx context.Context, user *models.User, userIDOverride string) (*services.Achievement, error)
}

func (m *MockAchievementService) Get(ctx context.Context, user *models.User, userIDOverride string) (*services.Achievement, error) {
	if m.GetFunc == nil {
		return &services.Achievement{}, nil
	}
	return m.GetFunc(ctx, user, userIDOverride)
}
