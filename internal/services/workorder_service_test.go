package services

import (
	"bytes"
	"context"
	"log/slog"
	"mime/multipart"
	"testing"
	"time"

	"github.com/fabrixhq/fieldops/internal/models"
	"github.com/fabrixhq/fieldops/internal/storage"
	pkglogger "github.com/fabrixhq/fieldops/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkOrderService(repo WorkOrderRepository, store AttachmentStore) *WorkOrderService {
	logger := slog.Default()
	return NewWorkOrderService(repo, store, logger, pkglogger.NewAuditLogger(logger))
}

// uploadHeaders parses a real multipart form so the returned FileHeaders can
// be opened by the code under test.
func uploadHeaders(t *testing.T, field string, names ...string) []*multipart.FileHeader {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, name := range names {
		part, err := w.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write([]byte("test file content"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	reader := multipart.NewReader(&buf, w.Boundary())
	form, err := reader.ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })

	return form.File[field]
}

// ============================================================================
// Accept Tests
// ============================================================================

func TestWorkOrderService_Accept_Success(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")
	wo := NewTestWorkOrder("wo1", models.StatusAssigned, "tech1")

	var recorded models.HistoryEntry
	mockRepo := &MockWorkOrderRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.WorkOrder, error) {
			return wo, nil
		},
		AcceptFunc: func(ctx context.Context, id, actorID string, entry models.HistoryEntry, now time.Time) (bool, error) {
			recorded = entry
			return true, nil
		},
	}

	svc := newTestWorkOrderService(mockRepo, &MockAttachmentStore{})

	err := svc.Accept(context.Background(), user, "wo1")
	require.NoError(t, err)
	assert.Equal(t, models.ActionAccept, recorded.Action)
	assert.Equal(t, models.StatusAccepted, recorded.Status)
	assert.Equal(t, "tech1", recorded.By)
}

func TestWorkOrderService_Accept_FromDraft(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")
	wo := NewTestWorkOrder("wo1", models.StatusDraft, "tech1")

	mockRepo := &MockWorkOrderRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.WorkOrder, error) {
			return wo, nil
		},
		AcceptFunc: func(ctx context.Context, id, actorID string, entry models.HistoryEntry, now time.Time) (bool, error) {
			return true, nil
		},
	}

	svc := newTestWorkOrderService(mockRepo, &MockAttachmentStore{})

	assert.NoError(t, svc.Accept(context.Background(), user, "wo1"))
}

func TestWorkOrderService_Accept_AdminMustStillBeAssigned(t *testing.T) {
	admin := NewTestUser("admin1", "admin1", "Password123!")
	admin.Role = models.RoleAdmin
	wo := NewTestWorkOrder("wo1", models.StatusAssigned, "tech1")

	mockRepo := &MockWorkOrderRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.WorkOrder, error) {
			return wo, nil
		},
	}

	svc := newTestWorkOrderService(mockRepo, &MockAttachmentStore{})

	err := svc.Accept(context.Background(), admin, "wo1")
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestWorkOrderService_Accept_NotFound(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")
	svc := newTestWorkOrderService(&MockWorkOrderRepository{}, &MockAttachmentStore{})

	err := svc.Accept(context.Background(), user, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestWorkOrderService_Accept_AlreadyCompleted(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")
	wo := NewTestWorkOrder("wo1", models.StatusCompleted, "tech1")

	mockRepo := &MockWorkOrderRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.WorkOrder, error) {
			return wo, nil
		},
	}

	svc := newTestWorkOrderService(mockRepo, &MockAttachmentStore{})

	err := svc.Accept(context.Background(), user, "wo1")
	assert.ErrorIs(t, err, models.ErrAlreadyCompleted)
}

func TestWorkOrderService_Accept_WrongState(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")
	wo := NewTestWorkOrder("wo1", models.StatusInProgress, "tech1")

	mockRepo := &MockWorkOrderRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.WorkOrder, error) {
			return wo, nil
		},
	}

	svc := newTestWorkOrderService(mockRepo, &MockAttachmentStore{})

	err := svc.Accept(context.Background(), user, "wo1")
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestWorkOrderService_Accept_LostRaceClassifiedFromFreshRead(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")
	assigned := NewTestWorkOrder("wo1", models.StatusAssigned, "tech1")
	completed := NewTestWorkOrder("wo1", models.StatusCompleted, "tech1")

	calls := 0
	mockRepo := &MockWorkOrderRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.WorkOrder, error) {
			calls++
			if calls == 1 {
				return assigned, nil
			}
			return completed, nil
		},
		AcceptFunc: func(ctx context.Context, id, actorID string, entry models.HistoryEntry, now time.Time) (bool, error) {
			return false, nil
		},
	}

	svc := newTestWorkOrderService(mockRepo, &MockAttachmentStore{})

	err := svc.Accept(context.Background(), user, "wo1")
	assert.ErrorIs(t, err, models.ErrAlreadyCompleted)
	assert.Equal(t, 2, calls)
}

// ============================================================================
// StartWork Tests
// ============================================================================

func TestWorkOrderService_StartWork_Success(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")
	wo := NewTestWorkOrder("wo1", models.StatusAccepted, "tech1")

	var recorded models.HistoryEntry
	mockRepo := &MockWorkOrderRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.WorkOrder, error) {
			return wo, nil
		},
		StartWorkFunc: func(ctx context.Context, id, actorID string, entry models.HistoryEntry, now time.Time) (bool, error) {
			recorded = entry
			return true, nil
		},
	}

	svc := newTestWorkOrderService(mockRepo, &MockAttachmentStore{})

	status, err := svc.StartWork(context.Background(), user, "wo1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, status)
	assert.Equal(t, models.ActionMobileStartWork, recorded.Action)
}

func TestWorkOrderService_StartWork_AlreadyInProgressIsIdempotent(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")
	wo := NewTestWorkOrder("wo1", models.StatusInProgress, "tech1")

	writeCalled := false
	mockRepo := &MockWorkOrderRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.WorkOrder, error) {
			return wo, nil
		},
		StartWorkFunc: func(ctx context.Context, id, actorID string, entry models.HistoryEntry, now time.Time) (bool, error) {
			writeCalled = true
			return true, nil
		},
	}

	svc := newTestWorkOrderService(mockRepo, &MockAttachmentStore{})

	status, err := svc.StartWork(context.Background(), user, "wo1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, status)
	assert.False(t, writeCalled)
}

func TestWorkOrderService_StartWork_AdminBypassesTeamCheck(t *testing.T) {
	admin := NewTestUser("admin1", "admin1", "Password123!")
	admin.Role = models.RoleAdmin
	wo := NewTestWorkOrder("wo1", models.StatusAccepted, "tech1")

	mockRepo := &MockWorkOrderRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.WorkOrder, error) {
			return wo, nil
		},
		StartWorkFunc: func(ctx context.Context, id, actorID string, entry models.HistoryEntry, now time.Time) (bool, error) {
			return true, nil
		},
	}

	svc := newTestWorkOrderService(mockRepo, &MockAttachmentStore{})

	_, err := svc.StartWork(context.Background(), admin, "wo1")
	assert.NoError(t, err)
}

func TestWorkOrderService_StartWork_FromAssignedRejected(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")
	wo := NewTestWorkOrder("wo1", models.StatusAssigned, "tech1")

	mockRepo := &MockWorkOrderRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.WorkOrder, error) {
			return wo, nil
		},
	}

	svc := newTestWorkOrderService(mockRepo, &MockAttachmentStore{})

	_, err := svc.StartWork(context.Background(), user, "wo1")
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestWorkOrderService_StartWork_LostRaceToAnotherStarter(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")
	accepted := NewTestWorkOrder("wo1", models.StatusAccepted, "tech1")
	started := NewTestWorkOrder("wo1", models.StatusInProgress, "tech1")

	calls := 0
	mockRepo := &MockWorkOrderRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.WorkOrder, error) {
			calls++
			if calls == 1 {
				return accepted, nil
			}
			return started, nil
		},
		StartWorkFunc: func(ctx context.Context, id, actorID string, entry models.HistoryEntry, now time.Time) (bool, error) {
			return false, nil
		},
	}

	svc := newTestWorkOrderService(mockRepo, &MockAttachmentStore{})

	status, err := svc.StartWork(context.Background(), user, "wo1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, status)
}

// ============================================================================
// Submit Tests
// ============================================================================

func TestWorkOrderService_Submit_NoteOnly(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")
	wo := NewTestWorkOrder("wo1", models.StatusInProgress, "tech1")

	var appended models.WorkUpdate
	var target models.Status
	mockRepo := &MockWorkOrderRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.WorkOrder, error) {
			return wo, nil
		},
		AppendSubmissionFunc: func(ctx context.Context, id string, update models.WorkUpdate, entry models.HistoryEntry, tgt models.Status, actorID string, now time.Time) (bool, error) {
			appended = update
			target = tgt
			return true, nil
		},
	}

	svc := newTestWorkOrderService(mockRepo, &MockAttachmentStore{})

	update, status, err := svc.Submit(context.Background(), user, "wo1", SubmitInput{
		Note:         "  done  ",
		TargetStatus: models.StatusCompleted,
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, status)
	assert.Equal(t, models.StatusCompleted, target)
	assert.Equal(t, "done", appended.Message)
	assert.Equal(t, models.WorkUpdateSourceMobile, appended.Source)
	assert.NotEmpty(t, update.ID)
	assert.Equal(t, "tech1", update.By)
}

func TestWorkOrderService_Submit_WithEvidence(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")
	wo := NewTestWorkOrder("wo1", models.StatusInProgress, "tech1")

	mockRepo := &MockWorkOrderRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.WorkOrder, error) {
			return wo, nil
		},
		AppendSubmissionFunc: func(ctx context.Context, id string, update models.WorkUpdate, entry models.HistoryEntry, tgt models.Status, actorID string, now time.Time) (bool, error) {
			return true, nil
		},
	}

	var savedKinds []storage.Kind
	store := &MockAttachmentStore{
		SaveFunc: func(file multipart.File, header *multipart.FileHeader, kind storage.Kind, workOrderID, updateID string) (*models.Attachment, error) {
			savedKinds = append(savedKinds, kind)
			return &models.Attachment{Name: header.Filename}, nil
		},
	}

	svc := newTestWorkOrderService(mockRepo, store)

	images := uploadHeaders(t, "images", "before.jpg", "after.jpg")
	voice := uploadHeaders(t, "voice", "note.m4a")

	update, _, err := svc.Submit(context.Background(), user, "wo1", SubmitInput{
		TargetStatus: models.StatusInProgress,
		Images:       images,
		Voice:        voice[0],
	})

	require.NoError(t, err)
	assert.Len(t, update.Images, 2)
	require.NotNil(t, update.Voice)
	assert.Equal(t, "note.m4a", update.Voice.Name)
	assert.Equal(t, []storage.Kind{storage.KindImage, storage.KindImage, storage.KindVoice}, savedKinds)
}

func TestWorkOrderService_Submit_DefaultsToInProgress(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")
	wo := NewTestWorkOrder("wo1", models.StatusInProgress, "tech1")

	mockRepo := &MockWorkOrderRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.WorkOrder, error) {
			return wo, nil
		},
		AppendSubmissionFunc: func(ctx context.Context, id string, update models.WorkUpdate, entry models.HistoryEntry, tgt models.Status, actorID string, now time.Time) (bool, error) {
			return true, nil
		},
	}

	svc := newTestWorkOrderService(mockRepo, &MockAttachmentStore{})

	_, status, err := svc.Submit(context.Background(), user, "wo1", SubmitInput{Note: "progress"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, status)
}

func TestWorkOrderService_Submit_RejectsBadTargetStatus(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")
	svc := newTestWorkOrderService(&MockWorkOrderRepository{}, &MockAttachmentStore{})

	_, _, err := svc.Submit(context.Background(), user, "wo1", SubmitInput{
		Note:         "x",
		TargetStatus: models.StatusAccepted,
	})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestWorkOrderService_Submit_RejectsEmptyPayload(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")
	svc := newTestWorkOrderService(&MockWorkOrderRepository{}, &MockAttachmentStore{})

	_, _, err := svc.Submit(context.Background(), user, "wo1", SubmitInput{
		Note:         "   ",
		TargetStatus: models.StatusInProgress,
	})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestWorkOrderService_Submit_RejectsTooManyImages(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")
	svc := newTestWorkOrderService(&MockWorkOrderRepository{}, &MockAttachmentStore{})

	images := uploadHeaders(t, "images", "a.jpg", "b.jpg", "c.jpg", "d.jpg")

	_, _, err := svc.Submit(context.Background(), user, "wo1", SubmitInput{
		TargetStatus: models.StatusInProgress,
		Images:       images,
	})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestWorkOrderService_Submit_CompletedOrderRejected(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")
	wo := NewTestWorkOrder("wo1", models.StatusCompleted, "tech1")

	mockRepo := &MockWorkOrderRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.WorkOrder, error) {
			return wo, nil
		},
	}

	svc := newTestWorkOrderService(mockRepo, &MockAttachmentStore{})

	_, _, err := svc.Submit(context.Background(), user, "wo1", SubmitInput{Note: "late"})
	assert.ErrorIs(t, err, models.ErrAlreadyCompleted)
}

func TestWorkOrderService_Submit_InvalidFileRollsBack(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")
	wo := NewTestWorkOrder("wo1", models.StatusInProgress, "tech1")

	mockRepo := &MockWorkOrderRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.WorkOrder, error) {
			return wo, nil
		},
	}

	store := &MockAttachmentStore{
		SaveFunc: func(file multipart.File, header *multipart.FileHeader, kind storage.Kind, workOrderID, updateID string) (*models.Attachment, error) {
			return nil, models.ErrInvalidFileType
		},
	}

	svc := newTestWorkOrderService(mockRepo, store)

	images := uploadHeaders(t, "images", "notes.txt")

	_, _, err := svc.Submit(context.Background(), user, "wo1", SubmitInput{
		TargetStatus: models.StatusInProgress,
		Images:       images,
	})
	assert.ErrorIs(t, err, models.ErrInvalidFileType)
	require.Len(t, store.Discarded, 1)
	assert.Equal(t, "wo1", store.Discarded[0][0])
}

func TestWorkOrderService_Submit_FailedWriteRollsBackFiles(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")
	inProgress := NewTestWorkOrder("wo1", models.StatusInProgress, "tech1")
	completed := NewTestWorkOrder("wo1", models.StatusCompleted, "tech1")

	calls := 0
	mockRepo := &MockWorkOrderRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.WorkOrder, error) {
			calls++
			if calls == 1 {
				return inProgress, nil
			}
			return completed, nil
		},
		AppendSubmissionFunc: func(ctx context.Context, id string, update models.WorkUpdate, entry models.HistoryEntry, tgt models.Status, actorID string, now time.Time) (bool, error) {
			return false, nil
		},
	}

	store := &MockAttachmentStore{}
	svc := newTestWorkOrderService(mockRepo, store)

	images := uploadHeaders(t, "images", "after.jpg")

	_, _, err := svc.Submit(context.Background(), user, "wo1", SubmitInput{
		TargetStatus: models.StatusCompleted,
		Images:       images,
	})
	assert.ErrorIs(t, err, models.ErrAlreadyCompleted)
	assert.Len(t, store.Discarded, 1)
}

// ============================================================================
// ListMine Tests
// ============================================================================

func TestWorkOrderService_ListMine_SelfScoped(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")

	var gotTeamUserID string
	var gotStatuses []models.Status
	mockRepo := &MockWorkOrderRepository{
		ListFunc: func(ctx context.Context, teamUserID string, statuses []models.Status) ([]*models.WorkOrder, error) {
			gotTeamUserID = teamUserID
			gotStatuses = statuses
			return []*models.WorkOrder{
				NewTestWorkOrder("wo1", models.StatusAccepted, "tech1"),
				NewTestWorkOrder("wo2", models.StatusInProgress, "tech1"),
			}, nil
		},
	}

	svc := newTestWorkOrderService(mockRepo, &MockAttachmentStore{})

	summaries, err := svc.ListMine(context.Background(), user, "ACCEPTED, IN_PROGRESS", "")
	require.NoError(t, err)
	assert.Equal(t, "tech1", gotTeamUserID)
	assert.Equal(t, []models.Status{"ACCEPTED", "IN_PROGRESS"}, gotStatuses)
	require.Len(t, summaries, 2)
	assert.Equal(t, "wo1", summaries[0].ID)
	assert.Equal(t, "WO-wo1", summaries[0].WONo)
}

func TestWorkOrderService_ListMine_NonAdminOverrideIgnored(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")

	var gotTeamUserID string
	mockRepo := &MockWorkOrderRepository{
		ListFunc: func(ctx context.Context, teamUserID string, statuses []models.Status) ([]*models.WorkOrder, error) {
			gotTeamUserID = teamUserID
			return nil, nil
		},
	}

	svc := newTestWorkOrderService(mockRepo, &MockAttachmentStore{})

	_, err := svc.ListMine(context.Background(), user, "", "tech2")
	require.NoError(t, err)
	assert.Equal(t, "tech1", gotTeamUserID)
}

func TestWorkOrderService_ListMine_AdminOverride(t *testing.T) {
	admin := NewTestUser("admin1", "admin1", "Password123!")
	admin.Role = models.RoleAdmin

	var gotTeamUserID string
	mockRepo := &MockWorkOrderRepository{
		ListFunc: func(ctx context.Context, teamUserID string, statuses []models.Status) ([]*models.WorkOrder, error) {
			gotTeamUserID = teamUserID
			return nil, nil
		},
	}

	svc := newTestWorkOrderService(mockRepo, &MockAttachmentStore{})

	_, err := svc.ListMine(context.Background(), admin, "", "tech2")
	require.NoError(t, err)
	assert.Equal(t, "tech2", gotTeamUserID)
}

// ============================================================================
// OpenAttachment Tests
// ============================================================================

func TestWorkOrderService_OpenAttachment_UnknownFileRejected(t *testing.T) {
	user := NewTestUser("tech1", "tech1", "Password123!")
	wo := NewTestWorkOrder("wo1", models.StatusInProgress, "tech1")
	wo.WorkUpdates = []models.WorkUpdate{{
		ID:     "upd1",
		Images: []models.Attachment{{Name: "after.jpg"}},
	}}

	mockRepo := &MockWorkOrderRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.WorkOrder, error) {
			return wo, nil
		},
	}

	svc := newTestWorkOrderService(mockRepo, &MockAttachmentStore{})

	_, err := svc.OpenAttachment(context.Background(), user, "wo1", "upd1", "other.jpg")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestWorkOrderService_OpenAttachment_ForbiddenForOutsiders(t *testing.T) {
	outsider := NewTestUser("tech9", "tech9", "Password123!")
	wo := NewTestWorkOrder("wo1", models.StatusInProgress, "tech1")

	mockRepo := &MockWorkOrderRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.WorkOrder, error) {
			return wo, nil
		},
	}

	svc := newTestWorkOrderService(mockRepo, &MockAttachmentStore{})

	_, err := svc.OpenAttachment(context.Background(), outsider, "wo1", "upd1", "after.jpg")
	assert.ErrorIs(t, err, models.ErrForbidden)
}
