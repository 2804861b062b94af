package services

import (
	"context"
	"mime/multipart"
	"os"
	"time"

	"github.com/fabrixhq/fieldops/internal/models"
	"github.com/fabrixhq/fieldops/internal/storage"
	pkgauth "github.com/fabrixhq/fieldops/pkg/auth"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc       func(ctx context.Context, id string) (*models.User, error)
	GetByUsernameFunc func(ctx context.Context, username string) (*models.User, error)
	BindDeviceFunc    func(ctx context.Context, userID, deviceID, macHash string, now time.Time) (*models.User, error)
	ReleaseDeviceFunc func(ctx context.Context, userID, deviceID string, now time.Time) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) BindDevice(ctx context.Context, userID, deviceID, macHash string, now time.Time) (*models.User, error) {
	if m.BindDeviceFunc != nil {
		return m.BindDeviceFunc(ctx, userID, deviceID, macHash, now)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) ReleaseDevice(ctx context.Context, userID, deviceID string, now time.Time) error {
	if m.ReleaseDeviceFunc != nil {
		return m.ReleaseDeviceFunc(ctx, userID, deviceID, now)
	}
	return nil
}

// MockWorkOrderRepository implements WorkOrderRepository for testing
type MockWorkOrderRepository struct {
	GetByIDFunc          func(ctx context.Context, id string) (*models.WorkOrder, error)
	ListFunc             func(ctx context.Context, teamUserID string, statuses []models.Status) ([]*models.WorkOrder, error)
	AcceptFunc           func(ctx context.Context, id, actorID string, entry models.HistoryEntry, now time.Time) (bool, error)
	StartWorkFunc        func(ctx context.Context, id, actorID string, entry models.HistoryEntry, now time.Time) (bool, error)
	AppendSubmissionFunc func(ctx context.Context, id string, update models.WorkUpdate, entry models.HistoryEntry, target models.Status, actorID string, now time.Time) (bool, error)
}

func (m *MockWorkOrderRepository) GetByID(ctx context.Context, id string) (*models.WorkOrder, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockWorkOrderRepository) List(ctx context.Context, teamUserID string, statuses []models.Status) ([]*models.WorkOrder, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, teamUserID, statuses)
	}
	return []*models.WorkOrder{}, nil
}

func (m *MockWorkOrderRepository) Accept(ctx context.Context, id, actorID string, entry models.HistoryEntry, now time.Time) (bool, error) {
	if m.AcceptFunc != nil {
		return m.AcceptFunc(ctx, id, actorID, entry, now)
	}
	return false, models.ErrInternalServer
}

func (m *MockWorkOrderRepository) StartWork(ctx context.Context, id, actorID string, entry models.HistoryEntry, now time.Time) (bool, error) {
	if m.StartWorkFunc != nil {
		return m.StartWorkFunc(ctx, id, actorID, entry, now)
	}
	return false, models.ErrInternalServer
}

func (m *MockWorkOrderRepository) AppendSubmission(ctx context.Context, id string, update models.WorkUpdate, entry models.HistoryEntry, target models.Status, actorID string, now time.Time) (bool, error) {
	if m.AppendSubmissionFunc != nil {
		return m.AppendSubmissionFunc(ctx, id, update, entry, target, actorID, now)
	}
	return false, models.ErrInternalServer
}

// MockAchievementRepository implements AchievementRepository for testing
type MockAchievementRepository struct {
	CountAssignedFunc         func(ctx context.Context, userID string) (int64, error)
	CountCompletedByFunc      func(ctx context.Context, userID string) (int64, error)
	CountCompletedBySinceFunc func(ctx context.Context, userID string, since time.Time) (int64, error)
	CountActiveFunc           func(ctx context.Context, userID string) (int64, error)
	ListCompletedByFunc       func(ctx context.Context, userID string, limit int) ([]*models.WorkOrder, error)
}

func (m *MockAchievementRepository) CountAssigned(ctx context.Context, userID string) (int64, error) {
	if m.CountAssignedFunc != nil {
		return m.CountAssignedFunc(ctx, userID)
	}
	return 0, nil
}

func (m *MockAchievementRepository) CountCompletedBy(ctx context.Context, userID string) (int64, error) {
	if m.CountCompletedByFunc != nil {
		return m.CountCompletedByFunc(ctx, userID)
	}
	return 0, nil
}

func (m *MockAchievementRepository) CountCompletedBySince(ctx context.Context, userID string, since time.Time) (int64, error) {
	if m.CountCompletedBySinceFunc != nil {
		return m.CountCompletedBySinceFunc(ctx, userID, since)
	}
	return 0, nil
}

func (m *MockAchievementRepository) CountActive(ctx context.Context, userID string) (int64, error) {
	if m.CountActiveFunc != nil {
		return m.CountActiveFunc(ctx, userID)
	}
	return 0, nil
}

func (m *MockAchievementRepository) ListCompletedBy(ctx context.Context, userID string, limit int) ([]*models.WorkOrder, error) {
	if m.ListCompletedByFunc != nil {
		return m.ListCompletedByFunc(ctx, userID, limit)
	}
	return []*models.WorkOrder{}, nil
}

// MockAttachmentStore implements AttachmentStore for testing
type MockAttachmentStore struct {
	SaveFunc          func(file multipart.File, header *multipart.FileHeader, kind storage.Kind, workOrderID, updateID string) (*models.Attachment, error)
	DiscardUpdateFunc func(workOrderID, updateID string)
	OpenFunc          func(workOrderID, updateID, filename string) (*os.File, error)

	Discarded [][2]string
}

func (m *MockAttachmentStore) Save(file multipart.File, header *multipart.FileHeader, kind storage.Kind, workOrderID, updateID string) (*models.Attachment, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(file, header, kind, workOrderID, updateID)
	}
	return &models.Attachment{
		Name: header.Filename,
		URL:  "/mobile/uploads/workorders/" + workOrderID + "/" + updateID + "/" + header.Filename,
		MIME: header.Header.Get("Content-Type"),
		Size: header.Size,
	}, nil
}

func (m *MockAttachmentStore) DiscardUpdate(workOrderID, updateID string) {
	m.Discarded = append(m.Discarded, [2]string{workOrderID, updateID})
	if m.DiscardUpdateFunc != nil {
		m.DiscardUpdateFunc(workOrderID, updateID)
	}
}

func (m *MockAttachmentStore) Open(workOrderID, updateID, filename string) (*os.File, error) {
	if m.OpenFunc != nil {
		return m.OpenFunc(workOrderID, updateID, filename)
	}
	return nil, models.ErrNotFound
}

// NewTestUser creates a mobile user with a known password hash for id/username
func NewTestUser(id, username, password string) *models.User {
	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		panic(err)
	}
	now := time.Now()
	return &models.User{
		ID:           id,
		Username:     username,
		PasswordHash: hash,
		Role:         models.RoleMobileUser,
		UserType:     "mobile",
		FullName:     "Test User",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewTestWorkOrder creates a work order in the given status assigned to the
// given team members.
func NewTestWorkOrder(id string, status models.Status, teamIDs ...string) *models.WorkOrder {
	now := time.Now()
	return &models.WorkOrder{
		ID:              id,
		WONo:            "WO-" + id,
		CustomerName:    "Test Customer",
		Phone:           "0812345678",
		Address:         "1 Test Street",
		Status:          status,
		AssignedTeamIDs: teamIDs,
		WorkUpdates:     []models.WorkUpdate{},
		History:         []models.HistoryEntry{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
