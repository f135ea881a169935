package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"dm-service/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	FindOrCreate(ctx context.Context, userA, userB int64) (models.Conversation, error)
	FindByPair(ctx context.Context, userA, userB int64) (models.Conversation, error)
	ListContacts(ctx context.Context, userID int64) ([]models.ContactSummary, error)
	ListPeerIDs(ctx context.Context, userID int64) ([]int64, error)
}

// CanonicalPair orders two user ids so (a,b) and (b,a) map to the same row.
func CanonicalPair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db, now: time.Now}
}

// FindOrCreate returns the conversation for the pair, inserting it first if needed.
// The UNIQUE(user1_id, user2_id) constraint makes concurrent first calls converge on one row.
func (r *ConversationRepo) FindOrCreate(ctx context.Context, userA, userB int64) (models.Conversation, error) {
	if userA == userB {
		return models.Conversation{}, errors.New("cannot create conversation with self")
	}
	user1, user2 := CanonicalPair(userA, userB)

	query := r.db.Rebind(`INSERT INTO conversations (user1_id, user2_id, created_at) VALUES (?, ?, ?)
        ON CONFLICT (user1_id, user2_id) DO NOTHING`)
	if _, err := r.db.ExecContext(ctx, query, user1, user2, r.now().UTC()); err != nil {
		return models.Conversation{}, err
	}
	return r.FindByPair(ctx, user1, user2)
}

// FindByPair looks up the conversation for the pair in either order.
func (r *ConversationRepo) FindByPair(ctx context.Context, userA, userB int64) (models.Conversation, error) {
	user1, user2 := CanonicalPair(userA, userB)

	var conv models.Conversation
	query := r.db.Rebind(`SELECT id, user1_id, user2_id, created_at FROM conversations WHERE user1_id=? AND user2_id=?`)
	err := r.db.GetContext(ctx, &conv, query, user1, user2)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// ListContacts returns one summary per conversation of userID, newest first.
func (r *ConversationRepo) ListContacts(ctx context.Context, userID int64) ([]models.ContactSummary, error) {
	query := r.db.Rebind(`SELECT c.id AS conversation_id,
            CASE WHEN c.user1_id = ? THEN c.user2_id ELSE c.user1_id END AS contact_id,
            COALESCE(u.username, '') AS username,
            COALESCE(u.full_name, '') AS full_name,
            u.last_seen AS last_seen,
            (SELECT COUNT(*) FROM messages m
                WHERE m.conversation_id = c.id AND m.sender_id <> ? AND m.read = FALSE) AS unread_count
        FROM conversations c
        LEFT JOIN users u ON u.id = CASE WHEN c.user1_id = ? THEN c.user2_id ELSE c.user1_id END
        WHERE c.user1_id = ? OR c.user2_id = ?
        ORDER BY c.created_at DESC, c.id DESC`)

	contacts := []models.ContactSummary{}
	err := r.db.SelectContext(ctx, &contacts, query, userID, userID, userID, userID, userID)
	return contacts, err
}

// ListPeerIDs returns every user that shares a conversation with userID.
func (r *ConversationRepo) ListPeerIDs(ctx context.Context, userID int64) ([]int64, error) {
	query := r.db.Rebind(`SELECT CASE WHEN user1_id = ? THEN user2_id ELSE user1_id END
        FROM conversations WHERE user1_id = ? OR user2_id = ?`)

	var ids []int64
	err := r.db.SelectContext(ctx, &ids, query, userID, userID, userID)
	return ids, err
}
