package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/fabrixhq/fieldops/internal/database"
	"github.com/fabrixhq/fieldops/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `
	id, username, password_hash, role, user_type, full_name, phone,
	allowed_modules, subscription_start, subscription_end,
	is_active, is_locked, is_deleted,
	active_device_id, active_device_mac_hash, active_device_last_login,
	created_at, updated_at
`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow handles nullable fields and populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var deviceID, macHash *string
	var subStart, subEnd, lastLogin *time.Time

	err := scanner.Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.UserType,
		&user.FullName, &user.Phone, &user.AllowedModules, &subStart, &subEnd,
		&user.IsActive, &user.IsLocked, &user.IsDeleted,
		&deviceID, &macHash, &lastLogin,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if deviceID != nil {
		user.ActiveDeviceID = *deviceID
	}
	if macHash != nil {
		user.ActiveDeviceMACHash = *macHash
	}
	user.SubscriptionStart = subStart
	user.SubscriptionEnd = subEnd
	user.ActiveDeviceLastLogin = lastLogin

	return &user, nil
}

// Create inserts a new user. An empty id gets a generated one.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	query := `
		INSERT INTO users (
			id, username, password_hash, role, user_type, full_name, phone,
			allowed_modules, subscription_start, subscription_end,
			is_active, is_locked, is_deleted, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE, $13, $13)
		RETURNING ` + userColumns

	now := time.Now().UTC()
	return scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Username, user.PasswordHash, user.Role, user.UserType,
		user.FullName, user.Phone, user.AllowedModules,
		user.SubscriptionStart, user.SubscriptionEnd,
		user.IsActive, user.IsLocked, now,
	))
}

// GetByID returns a non-deleted user by id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND is_deleted = FALSE`

	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

// GetByUsername returns a non-deleted user by exact username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1 AND is_deleted = FALSE`

	return scanUserRow(r.pool.QueryRow(ctx, query, username))
}

// BindDevice binds the device to the account and stamps the last-login time.
// The filter carries the expected binding state, so two racing logins with
// different devices cannot both commit: the loser's filter no longer matches
// and ErrDeviceConflict is returned.
func (r *UserRepository) BindDevice(ctx context.Context, userID, deviceID, macHash string, now time.Time) (*models.User, error) {
	query := `
		UPDATE users SET
			active_device_id = $2,
			active_device_mac_hash = CASE WHEN $3 <> '' THEN $3 ELSE active_device_mac_hash END,
			active_device_last_login = $4,
			updated_at = $4
		WHERE id = $1 AND is_deleted = FALSE
			AND (active_device_id IS NULL OR active_device_id = '' OR active_device_id = $2)
		RETURNING ` + userColumns

	user, err := scanUserRow(r.pool.QueryRow(ctx, query, userID, deviceID, macHash, now))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrDeviceConflict
		}
		return nil, err
	}

	return user, nil
}

// ReleaseDevice clears the binding only when the supplied device is the one
// currently bound. A mismatch is a silent no-op.
func (r *UserRepository) ReleaseDevice(ctx context.Context, userID, deviceID string, now time.Time) error {
	query := `
		UPDATE users SET
			active_device_id = NULL,
			active_device_mac_hash = NULL,
			updated_at = $3
		WHERE id = $1 AND active_device_id = $2
	`

	_, err := r.pool.Exec(ctx, query, userID, deviceID, now)
	return database.MapPostgresError(err)
}
