package repositories

import (
	"context"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"dm-service/internal/models"
)

// MessageRepository defines interactions for direct messages.
type MessageRepository interface {
	Create(ctx context.Context, msg models.Message) (models.Message, error)
	MarkDelivered(ctx context.Context, messageID int64) error
	MarkReadFrom(ctx context.Context, conversationID, senderID int64) ([]int64, error)
	ListForConversation(ctx context.Context, conversationID int64) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db, now: time.Now}
}

// Create stores msg with delivered and read cleared and returns it with id and timestamp set.
func (r *MessageRepo) Create(ctx context.Context, msg models.Message) (models.Message, error) {
	msg.CreatedAt = r.now().UTC()
	msg.Delivered = false
	msg.Read = false
	if msg.Type == "" {
		msg.Type = models.MessageTypeText
	}

	query := r.db.Rebind(`INSERT INTO messages (conversation_id, sender_id, type, content, created_at, delivered, read)
        VALUES (?, ?, ?, ?, ?, FALSE, FALSE) RETURNING id`)
	err := r.db.QueryRowxContext(ctx, query, msg.ConversationID, msg.SenderID, msg.Type, msg.Content, msg.CreatedAt).Scan(&msg.ID)
	return msg, err
}

// MarkDelivered sets the delivered flag; it never clears it.
func (r *MessageRepo) MarkDelivered(ctx context.Context, messageID int64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE messages SET delivered = TRUE WHERE id=? AND delivered = FALSE`), messageID)
	return err
}

// MarkReadFrom flips read on every unread message senderID sent in the conversation
// and returns the affected ids in ascending order.
func (r *MessageRepo) MarkReadFrom(ctx context.Context, conversationID, senderID int64) ([]int64, error) {
	query := r.db.Rebind(`UPDATE messages SET read = TRUE
        WHERE conversation_id=? AND sender_id=? AND read = FALSE
        RETURNING id`)

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, conversationID, senderID); err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ListForConversation returns the conversation history oldest first.
func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID int64) ([]models.Message, error) {
	query := r.db.Rebind(`SELECT id, conversation_id, sender_id, type, content, created_at, delivered, read
        FROM messages
        WHERE conversation_id=?
        ORDER BY created_at ASC, id ASC`)

	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, query, conversationID)
	return msgs, err
}
