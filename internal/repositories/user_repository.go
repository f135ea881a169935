package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"dm-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository is the slice of the user store the realtime core consumes.
type UserRepository interface {
	GetByID(ctx context.Context, userID int64) (models.User, error)
	UpdateLastSeen(ctx context.Context, userID int64, at time.Time) error
}

// UserRepo is a sqlx-backed UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, userID int64) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, r.db.Rebind(`SELECT id, username, full_name, last_seen, created_at FROM users WHERE id=?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// UpdateLastSeen stamps the user's last_seen column.
func (r *UserRepo) UpdateLastSeen(ctx context.Context, userID int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users SET last_seen=? WHERE id=?`), at.UTC(), userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}
