package ws

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dm-service/internal/messaging"
)

func newConnID() string {
	return uuid.NewString()
}

func encode(event any) ([]byte, error) {
	return json.Marshal(event)
}

// errorCode maps a messaging error onto the code sent in an error event.
func errorCode(err error) string {
	switch {
	case errors.Is(err, messaging.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, messaging.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, CloseSuperseded)
}
