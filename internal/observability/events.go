package observability

import "context"

// Publisher is the event bus used for ws lifecycle and domain events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// Routing keys for published events.
const (
	RoutingKeyWS           = "ws_events.direct"
	RoutingKeyMessageSent  = "chat_events.message_sent"
	RoutingKeyMessagesRead = "chat_events.messages_read"
)

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

var defaultPublisher Publisher

func SetPublisher(publisher Publisher) {
	defaultPublisher = publisher
}

// PublishEvent is best-effort; a nil publisher drops the event.
func PublishEvent(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.Publish(ctx, routingKey, message, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
