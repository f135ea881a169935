package ws

import (
	"context"
	"time"

	"dm-service/internal/observability"
)

type ConnInfo struct {
	ConnID      string
	UserID      int64
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// publish emits a ws lifecycle event (ws_connect, ws_disconnect, ws_error) for this connection.
func (i ConnInfo) publish(ctx context.Context, event, reason string) {
	var durationMS int64
	if !i.ConnectedAt.IsZero() && event != "ws_connect" {
		durationMS = time.Since(i.ConnectedAt).Milliseconds()
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     i.ConnID,
			"duration_ms": durationMS,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   i.UserID,
			"device_id": i.DeviceID,
			"ip":        i.IP,
		},
	}
	_ = observability.PublishEvent(ctx, observability.RoutingKeyWS, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, observability.BuildHeaders(i.RequestID, i.TraceID))
	observability.IncWSEvent(event)
}
