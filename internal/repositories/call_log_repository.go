package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"dm-service/internal/models"
)

var ErrCallLogNotFound = errors.New("call log not found")

// CallLogRepository persists call history.
type CallLogRepository interface {
	Create(ctx context.Context, callerID, receiverID int64, status string) (models.CallLog, error)
	Update(ctx context.Context, callID, userID int64, status string, endTime *time.Time) (models.CallLog, error)
	ListForUser(ctx context.Context, userID int64) ([]models.CallLog, error)
}

// CallLogRepo is a sqlx-backed CallLogRepository.
type CallLogRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewCallLogRepo constructs CallLogRepo.
func NewCallLogRepo(db *sqlx.DB) *CallLogRepo {
	return &CallLogRepo{db: db, now: time.Now}
}

// Create records a new call started now.
func (r *CallLogRepo) Create(ctx context.Context, callerID, receiverID int64, status string) (models.CallLog, error) {
	now := r.now().UTC()
	call := models.CallLog{
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     status,
		StartTime:  now,
		CreatedAt:  now,
	}
	query := r.db.Rebind(`INSERT INTO call_logs (caller_id, receiver_id, status, start_time, created_at)
        VALUES (?, ?, ?, ?, ?) RETURNING id`)
	err := r.db.QueryRowxContext(ctx, query, callerID, receiverID, status, now, now).Scan(&call.ID)
	return call, err
}

// Update changes status and optionally end time; only the caller or receiver may update.
func (r *CallLogRepo) Update(ctx context.Context, callID, userID int64, status string, endTime *time.Time) (models.CallLog, error) {
	var (
		res sql.Result
		err error
	)
	if endTime != nil {
		res, err = r.db.ExecContext(ctx, r.db.Rebind(`UPDATE call_logs SET status=?, end_time=?
        WHERE id=? AND (caller_id=? OR receiver_id=?)`), status, endTime.UTC(), callID, userID, userID)
	} else {
		res, err = r.db.ExecContext(ctx, r.db.Rebind(`UPDATE call_logs SET status=?
        WHERE id=? AND (caller_id=? OR receiver_id=?)`), status, callID, userID, userID)
	}
	if err != nil {
		return models.CallLog{}, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return models.CallLog{}, err
	}
	if count == 0 {
		return models.CallLog{}, ErrCallLogNotFound
	}

	var call models.CallLog
	err = r.db.GetContext(ctx, &call, r.db.Rebind(`SELECT id, caller_id, receiver_id, status, start_time, end_time, created_at
        FROM call_logs WHERE id=?`), callID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CallLog{}, ErrCallLogNotFound
	}
	return call, err
}

// ListForUser returns calls the user placed or received, newest first.
func (r *CallLogRepo) ListForUser(ctx context.Context, userID int64) ([]models.CallLog, error) {
	calls := []models.CallLog{}
	err := r.db.SelectContext(ctx, &calls, r.db.Rebind(`SELECT id, caller_id, receiver_id, status, start_time, end_time, created_at
        FROM call_logs WHERE caller_id=? OR receiver_id=?
        ORDER BY created_at DESC, id DESC`), userID, userID)
	return calls, err
}
