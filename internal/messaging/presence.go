package messaging

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dm-service/internal/config"
	"dm-service/internal/models"
	"dm-service/internal/observability"
	"dm-service/internal/repositories"
)

// PresenceOptions tunes the publisher.
type PresenceOptions struct {
	// Scope "all" sends user_status to every live connection, which grows with the
	// total number of online users; "contacts" limits it to users sharing a conversation.
	Scope        string
	StoreTimeout time.Duration
}

// Presence publishes online/offline status and read receipts.
type Presence struct {
	sessions Sessions
	resolver *Resolver
	messages repositories.MessageRepository
	users    repositories.UserRepository
	opts     PresenceOptions
	log      *zap.Logger
	now      func() time.Time
}

// NewPresence constructs a Presence publisher.
func NewPresence(sessions Sessions, resolver *Resolver, messages repositories.MessageRepository, users repositories.UserRepository, opts PresenceOptions, log *zap.Logger) *Presence {
	if opts.Scope == "" {
		opts.Scope = config.PresenceScopeAll
	}
	return &Presence{
		sessions: sessions,
		resolver: resolver,
		messages: messages,
		users:    users,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// Online announces that userID just connected. The subject itself is not notified.
func (p *Presence) Online(ctx context.Context, userID int64) int {
	return p.fanout(ctx, models.StatusEvent{
		Type:   models.EventUserStatus,
		UserID: userID,
		Status: models.StatusOnline,
	})
}

// Offline stamps last_seen and announces that userID went away.
// A failed last_seen write is logged and does not stop the broadcast.
func (p *Presence) Offline(ctx context.Context, userID int64) int {
	now := p.now().UTC()

	storeCtx, cancel := context.WithTimeout(ctx, p.opts.StoreTimeout)
	err := p.users.UpdateLastSeen(storeCtx, userID, now)
	cancel()
	if err != nil {
		p.log.Warn("update last_seen failed", zap.Int64("user_id", userID), zap.Error(err))
	}

	return p.fanout(ctx, models.StatusEvent{
		Type:     models.EventUserStatus,
		UserID:   userID,
		Status:   models.StatusOffline,
		LastSeen: &now,
	})
}

func (p *Presence) fanout(ctx context.Context, event models.StatusEvent) int {
	var sent int
	switch p.opts.Scope {
	case config.PresenceScopeContacts:
		storeCtx, cancel := context.WithTimeout(ctx, p.opts.StoreTimeout)
		peers, err := p.resolver.Peers(storeCtx, event.UserID)
		cancel()
		if err != nil {
			p.log.Warn("presence peers lookup failed", zap.Int64("user_id", event.UserID), zap.Error(err))
			return 0
		}
		sent = p.sessions.SendToMany(peers, event)
	default:
		sent = p.sessions.Broadcast(event, event.UserID)
	}

	observability.AddPresenceFanout(event.Status, sent)
	p.log.Debug("presence published",
		zap.Int64("user_id", event.UserID),
		zap.String("status", event.Status),
		zap.Int("recipients", sent))
	return sent
}

// MarkRead flips every unread message contactID sent to readerID and tells contactID
// which ones were read. It returns the number of messages updated.
func (p *Presence) MarkRead(ctx context.Context, readerID, contactID int64) (int, error) {
	storeCtx, cancel := context.WithTimeout(ctx, p.opts.StoreTimeout)
	defer cancel()

	conv, found, err := p.resolver.Find(storeCtx, readerID, contactID)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}

	ids, err := p.messages.MarkReadFrom(storeCtx, conv.ID, contactID)
	if err != nil {
		return 0, storeUnavailable("mark read", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	p.sessions.SendTo(contactID, models.ReadEvent{
		Type:           models.EventMessagesRead,
		ConversationID: conv.ID,
		ReaderID:       readerID,
		MessageIDs:     ids,
	})
	observability.AddReadReceipts(len(ids))
	_ = observability.PublishEvent(ctx, observability.RoutingKeyMessagesRead, observability.EventEnvelope{
		EventType: "chat_events",
		EventName: "messages_read",
		Payload: map[string]interface{}{
			"conversation_id": conv.ID,
			"reader_id":       readerID,
			"sender_id":       contactID,
			"count":           len(ids),
		},
	}, nil)
	return len(ids), nil
}
