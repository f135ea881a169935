package messaging

import (
	"encoding/json"

	"go.uber.org/zap"

	"dm-service/internal/models"
	"dm-service/internal/observability"
)

// Relay forwards call-signaling payloads between peers without reading them.
type Relay struct {
	sessions Sessions
	log      *zap.Logger
}

// NewRelay constructs a Relay.
func NewRelay(sessions Sessions, log *zap.Logger) *Relay {
	return &Relay{sessions: sessions, log: log}
}

// Relay pushes payload to receiverID tagged with kind. It reports whether the receiver
// was online; signaling has no offline queue.
func (r *Relay) Relay(kind string, senderID, receiverID int64, payload json.RawMessage) (bool, error) {
	if !models.IsSignalKind(kind) {
		return false, invalidf("unknown signaling kind %q", kind)
	}
	if receiverID <= 0 {
		return false, invalidf("receiver_id is required")
	}

	delivered := r.sessions.SendTo(receiverID, models.SignalEvent{
		Type:       kind,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Payload:    payload,
	})

	outcome := "offline"
	if delivered {
		outcome = "delivered"
	}
	observability.IncSignal(kind, outcome)
	r.log.Debug("signal relayed",
		zap.String("kind", kind),
		zap.Int64("sender_id", senderID),
		zap.Int64("receiver_id", receiverID),
		zap.Bool("delivered", delivered))
	return delivered, nil
}
