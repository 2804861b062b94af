package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fabrixhq/fieldops/internal/database"
	"github.com/fabrixhq/fieldops/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const workOrderColumns = `
	id, wo_no, customer_name, phone, address, status, assigned_team_ids,
	schedule, location, work_updates, history,
	accepted_by, accepted_at, in_progress_by, in_progress_at,
	completed_by, completed_at,
	is_deleted, created_at, updated_at
`

// ListLimit caps every work-order listing query.
const ListLimit = 500

type WorkOrderRepository struct {
	pool *pgxpool.Pool
}

func NewWorkOrderRepository(db *database.DB) *WorkOrderRepository {
	return &WorkOrderRepository{pool: db.Pool}
}

func scanWorkOrderRow(scanner rowScanner) (*models.WorkOrder, error) {
	var wo models.WorkOrder
	var schedule, location, workUpdates, history []byte
	var acceptedBy, inProgressBy, completedBy *string

	err := scanner.Scan(
		&wo.ID, &wo.WONo, &wo.CustomerName, &wo.Phone, &wo.Address,
		&wo.Status, &wo.AssignedTeamIDs,
		&schedule, &location, &workUpdates, &history,
		&acceptedBy, &wo.AcceptedAt, &inProgressBy, &wo.InProgressAt,
		&completedBy, &wo.CompletedAt,
		&wo.IsDeleted, &wo.CreatedAt, &wo.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if acceptedBy != nil {
		wo.AcceptedBy = *acceptedBy
	}
	if inProgressBy != nil {
		wo.InProgressBy = *inProgressBy
	}
	if completedBy != nil {
		wo.CompletedBy = *completedBy
	}

	if len(schedule) > 0 {
		if err := json.Unmarshal(schedule, &wo.Schedule); err != nil {
			return nil, fmt.Errorf("failed to decode schedule: %w", err)
		}
	}
	if len(location) > 0 {
		if err := json.Unmarshal(location, &wo.Location); err != nil {
			return nil, fmt.Errorf("failed to decode location: %w", err)
		}
	}
	if len(workUpdates) > 0 {
		if err := json.Unmarshal(workUpdates, &wo.WorkUpdates); err != nil {
			return nil, fmt.Errorf("failed to decode work updates: %w", err)
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &wo.History); err != nil {
			return nil, fmt.Errorf("failed to decode history: %w", err)
		}
	}

	return &wo, nil
}

func scanWorkOrderRows(rows pgx.Rows) ([]*models.WorkOrder, error) {
	defer rows.Close()

	orders := make([]*models.WorkOrder, 0)

	for rows.Next() {
		wo, err := scanWorkOrderRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work order: %w", err)
		}
		orders = append(orders, wo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return orders, nil
}

// GetByID returns a non-deleted work order by id.
func (r *WorkOrderRepository) GetByID(ctx context.Context, id string) (*models.WorkOrder, error) {
	query := `SELECT ` + workOrderColumns + ` FROM workorders WHERE id = $1 AND is_deleted = FALSE`

	return scanWorkOrderRow(r.pool.QueryRow(ctx, query, id))
}

// List returns work orders, most recently updated first, capped at
// ListLimit. An empty teamUserID skips team scoping (admin listing without a
// user override); empty statuses means all statuses.
func (r *WorkOrderRepository) List(ctx context.Context, teamUserID string, statuses []models.Status) ([]*models.WorkOrder, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + workOrderColumns + ` FROM workorders WHERE is_deleted = FALSE`)

	args := []interface{}{}
	if teamUserID != "" {
		args = append(args, teamUserID)
		fmt.Fprintf(&sb, " AND $%d = ANY(assigned_team_ids)", len(args))
	}
	if len(statuses) > 0 {
		normalized := make([]string, 0, len(statuses))
		for _, s := range statuses {
			normalized = append(normalized, string(s.Normalize()))
		}
		args = append(args, normalized)
		fmt.Fprintf(&sb, " AND upper(btrim(status)) = ANY($%d)", len(args))
	}
	fmt.Fprintf(&sb, " ORDER BY updated_at DESC LIMIT %d", ListLimit)

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query work orders: %w", err)
	}

	return scanWorkOrderRows(rows)
}

func appendJSON(v interface{}) ([]byte, error) {
	// Wrapped in a single-element array so jsonb concatenation always appends
	// one element, regardless of the value's own shape.
	return json.Marshal([]interface{}{v})
}

// Accept moves DRAFT/ASSIGNED to ACCEPTED in a single conditional update.
// The status filter makes concurrent accepts race-safe: only one write can
// match, the rest see applied=false and re-read to classify the failure.
func (r *WorkOrderRepository) Accept(ctx context.Context, id, actorID string, entry models.HistoryEntry, now time.Time) (bool, error) {
	hist, err := appendJSON(entry)
	if err != nil {
		return false, fmt.Errorf("failed to encode history entry: %w", err)
	}

	query := `
		UPDATE workorders SET
			status = $2,
			accepted_by = $3,
			accepted_at = $4,
			history = history || $5::jsonb,
			updated_at = $4
		WHERE id = $1 AND is_deleted = FALSE
			AND upper(btrim(status)) IN ($6, $7)
	`

	result, err := r.pool.Exec(ctx, query, id,
		string(models.StatusAccepted), actorID, now, hist,
		string(models.StatusDraft), string(models.StatusAssigned))
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return result.RowsAffected() > 0, nil
}

// StartWork moves ACCEPTED to IN_PROGRESS in a single conditional update.
// The already-IN_PROGRESS no-op is handled by the caller; this write only
// matches the ACCEPTED state.
func (r *WorkOrderRepository) StartWork(ctx context.Context, id, actorID string, entry models.HistoryEntry, now time.Time) (bool, error) {
	hist, err := appendJSON(entry)
	if err != nil {
		return false, fmt.Errorf("failed to encode history entry: %w", err)
	}

	query := `
		UPDATE workorders SET
			status = $2,
			in_progress_by = $3,
			in_progress_at = $4,
			history = history || $5::jsonb,
			updated_at = $4
		WHERE id = $1 AND is_deleted = FALSE
			AND upper(btrim(status)) = $6
	`

	result, err := r.pool.Exec(ctx, query, id,
		string(models.StatusInProgress), actorID, now, hist,
		string(models.StatusAccepted))
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return result.RowsAffected() > 0, nil
}

// AppendSubmission appends the evidence entry and its history record, moves
// the status, and stamps the completion audit fields when the target is
// terminal. The filter excludes COMPLETED rows so a racing submit cannot
// mutate an order another submit just closed.
func (r *WorkOrderRepository) AppendSubmission(ctx context.Context, id string, update models.WorkUpdate, entry models.HistoryEntry, target models.Status, actorID string, now time.Time) (bool, error) {
	upd, err := appendJSON(update)
	if err != nil {
		return false, fmt.Errorf("failed to encode work update: %w", err)
	}
	hist, err := appendJSON(entry)
	if err != nil {
		return false, fmt.Errorf("failed to encode history entry: %w", err)
	}

	var query string
	args := []interface{}{id, string(target.Normalize()), upd, hist, now, string(models.StatusCompleted)}

	if target.IsTerminal() {
		query = `
			UPDATE workorders SET
				status = $2,
				work_updates = work_updates || $3::jsonb,
				history = history || $4::jsonb,
				completed_by = $7,
				completed_at = $5,
				updated_at = $5
			WHERE id = $1 AND is_deleted = FALSE
				AND upper(btrim(status)) <> $6
		`
		args = append(args, actorID)
	} else {
		query = `
			UPDATE workorders SET
				status = $2,
				work_updates = work_updates || $3::jsonb,
				history = history || $4::jsonb,
				updated_at = $5
			WHERE id = $1 AND is_deleted = FALSE
				AND upper(btrim(status)) <> $6
		`
	}

	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return result.RowsAffected() > 0, nil
}

// Achievement aggregates

func (r *WorkOrderRepository) CountAssigned(ctx context.Context, userID string) (int64, error) {
	return r.count(ctx,
		`SELECT COUNT(*) FROM workorders WHERE is_deleted = FALSE AND $1 = ANY(assigned_team_ids)`,
		userID)
}

func (r *WorkOrderRepository) CountCompletedBy(ctx context.Context, userID string) (int64, error) {
	return r.count(ctx,
		`SELECT COUNT(*) FROM workorders WHERE is_deleted = FALSE AND completed_by = $1`,
		userID)
}

func (r *WorkOrderRepository) CountCompletedBySince(ctx context.Context, userID string, since time.Time) (int64, error) {
	return r.count(ctx,
		`SELECT COUNT(*) FROM workorders WHERE is_deleted = FALSE AND completed_by = $1 AND completed_at >= $2`,
		userID, since)
}

// CountActive counts assigned orders still in flight (ASSIGNED, ACCEPTED,
// IN_PROGRESS).
func (r *WorkOrderRepository) CountActive(ctx context.Context, userID string) (int64, error) {
	return r.count(ctx,
		`SELECT COUNT(*) FROM workorders
		 WHERE is_deleted = FALSE AND $1 = ANY(assigned_team_ids)
		 AND upper(btrim(status)) = ANY($2)`,
		userID,
		[]string{
			string(models.StatusAssigned),
			string(models.StatusAccepted),
			string(models.StatusInProgress),
		})
}

func (r *WorkOrderRepository) count(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return n, nil
}

// ListCompletedBy returns the user's most recent completions, newest first.
func (r *WorkOrderRepository) ListCompletedBy(ctx context.Context, userID string, limit int) ([]*models.WorkOrder, error) {
	query := `SELECT ` + workOrderColumns + `
		FROM workorders
		WHERE is_deleted = FALSE AND completed_by = $1
		ORDER BY completed_at DESC NULLS LAST
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed work orders: %w", err)
	}

	return scanWorkOrderRows(rows)
}
