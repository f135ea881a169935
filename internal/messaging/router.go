package messaging

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"dm-service/internal/models"
	"dm-service/internal/observability"
	"dm-service/internal/repositories"
)

// Router persists direct messages and pushes them to the live connections of both parties.
type Router struct {
	resolver     *Resolver
	messages     repositories.MessageRepository
	sessions     Sessions
	storeTimeout time.Duration
	order        *keyedMutex[int64]
	log          *zap.Logger
}

// NewRouter constructs a Router.
func NewRouter(resolver *Resolver, messages repositories.MessageRepository, sessions Sessions, storeTimeout time.Duration, log *zap.Logger) *Router {
	return &Router{
		resolver:     resolver,
		messages:     messages,
		sessions:     sessions,
		storeTimeout: storeTimeout,
		order:        newKeyedMutex[int64](),
		log:          log,
	}
}

// Route stores a message from sender to receiver and pushes new_message to the receiver
// and message_sent to the sender. An offline receiver is not an error: the message stays
// undelivered and shows up in the next history fetch.
func (r *Router) Route(ctx context.Context, senderID, receiverID int64, content, msgType string) (models.Message, error) {
	started := time.Now()
	ctx, span := otel.Tracer("dm-service/messaging").Start(ctx, "messaging.route")
	defer span.End()
	span.SetAttributes(attribute.Int64("chat.sender_id", senderID), attribute.Int64("chat.receiver_id", receiverID))

	if msgType == "" {
		msgType = models.MessageTypeText
	}
	if err := validateRoute(senderID, receiverID, content, msgType); err != nil {
		observability.ObserveRoute("invalid", started)
		span.SetStatus(codes.Error, err.Error())
		return models.Message{}, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	conv, err := r.resolver.FindOrCreate(storeCtx, senderID, receiverID)
	if err != nil {
		return models.Message{}, r.fail(span, started, err)
	}

	// Persist and push under the conversation lock so both sides see one order.
	unlock := r.order.Lock(conv.ID)
	defer unlock()

	msg, err := r.messages.Create(storeCtx, models.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Type:           msgType,
		Content:        content,
	})
	if err != nil {
		return models.Message{}, r.fail(span, started, storeUnavailable("create message", err))
	}

	if r.sessions.SendTo(receiverID, models.NewMessageEvent(models.EventNewMessage, msg, receiverID)) {
		msg.Delivered = true
		if err := r.messages.MarkDelivered(storeCtx, msg.ID); err != nil {
			r.log.Warn("mark delivered failed", zap.Int64("message_id", msg.ID), zap.Error(err))
		}
	}
	r.sessions.SendTo(senderID, models.NewMessageEvent(models.EventMessageSent, msg, receiverID))

	outcome := "queued"
	if msg.Delivered {
		outcome = "delivered"
	}
	observability.ObserveRoute(outcome, started)
	span.SetAttributes(attribute.Int64("chat.message_id", msg.ID), attribute.Bool("chat.delivered", msg.Delivered))

	_ = observability.PublishEvent(ctx, observability.RoutingKeyMessageSent, observability.EventEnvelope{
		EventType: "chat_events",
		EventName: "message_sent",
		Payload: map[string]interface{}{
			"message_id":      msg.ID,
			"conversation_id": msg.ConversationID,
			"sender_id":       senderID,
			"receiver_id":     receiverID,
			"type":            msg.Type,
			"delivered":       msg.Delivered,
		},
	}, observability.BuildHeaders("", traceID(span)))

	r.log.Debug("message routed",
		zap.Int64("message_id", msg.ID),
		zap.Int64("conversation_id", msg.ConversationID),
		zap.Bool("delivered", msg.Delivered))
	return msg, nil
}

func (r *Router) fail(span trace.Span, started time.Time, err error) error {
	observability.ObserveRoute("store_error", started)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.log.Warn("route failed", zap.Error(err))
	return err
}

func validateRoute(senderID, receiverID int64, content, msgType string) error {
	if err := validPair(senderID, receiverID); err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return invalidf("content is required")
	}
	if !models.ValidMessageType(msgType) {
		return invalidf("unknown message type %q", msgType)
	}
	return nil
}
