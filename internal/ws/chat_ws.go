package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"dm-service/internal/auth"
	"dm-service/internal/config"
	"dm-service/internal/models"
	"dm-service/internal/observability"
)

const maxFrameSize = 64 << 10

// Inbound actions.
const (
	ActionAuthenticate = "authenticate"
	ActionSendMessage  = "send_message"
	ActionMarkRead     = "mark_read"
	ActionPing         = "ping"
)

// Socket is the full duplex surface the connection loop needs; *websocket.Conn satisfies it.
type Socket interface {
	Conn
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
}

type MessageRouter interface {
	Route(ctx context.Context, senderID, receiverID int64, content, msgType string) (models.Message, error)
}

type PresencePublisher interface {
	Online(ctx context.Context, userID int64) int
	Offline(ctx context.Context, userID int64) int
	MarkRead(ctx context.Context, readerID, contactID int64) (int, error)
}

type SignalRelay interface {
	Relay(kind string, senderID, receiverID int64, payload json.RawMessage) (bool, error)
}

type inboundFrame struct {
	Action     string          `json:"action"`
	Token      string          `json:"token"`
	ReceiverID int64           `json:"receiver_id"`
	ContactID  int64           `json:"contact_id"`
	Content    string          `json:"content"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

// ConnHandler runs the per-connection protocol:
// connecting -> authenticated -> active -> closed.
type ConnHandler struct {
	hub       *Hub
	validator auth.TokenValidator
	router    MessageRouter
	presence  PresencePublisher
	relay     SignalRelay
	cfg       config.WSConfig
	upgrader  websocket.Upgrader
	log       *zap.Logger
}

// NewConnHandler constructs a ConnHandler.
func NewConnHandler(hub *Hub, validator auth.TokenValidator, router MessageRouter, presence PresencePublisher, relay SignalRelay, cfg config.WSConfig, log *zap.Logger) *ConnHandler {
	return &ConnHandler{
		hub:       hub,
		validator: validator,
		router:    router,
		presence:  presence,
		relay:     relay,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Handle upgrades the request and serves the connection until it closes.
func (h *ConnHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("dm-service/ws").Start(c.Request.Context(), "ws.handshake")

	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		span.End()
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	span.SetAttributes(attribute.String("ws.conn_id", info.ConnID))
	span.End()

	h.Serve(ctx, conn, info, token)
}

// Serve authenticates sock and then reads frames until the transport closes.
// An empty token means the first frame must be an authenticate action.
func (h *ConnHandler) Serve(ctx context.Context, sock Socket, info ConnInfo, token string) {
	sock.SetReadLimit(maxFrameSize)

	userID, err := h.authenticate(ctx, sock, token)
	if err != nil {
		h.log.Info("websocket authentication failed", zap.String("conn_id", info.ConnID), zap.Error(err))
		info.publish(ctx, "ws_auth_failed", err.Error())
		_ = sock.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseAuthFailed, "authentication failed"),
			time.Now().Add(h.cfg.WriteWait))
		_ = sock.Close()
		return
	}
	info.UserID = userID

	client := NewClient(sock, info, ClientOptions{
		SendBuffer: h.cfg.SendBuffer,
		WriteWait:  h.cfg.WriteWait,
		PingPeriod: h.cfg.PingPeriod(),
	}, h.log)
	client.Start()

	h.onConnect(ctx, client)
	reason := h.readLoop(ctx, sock, client)
	h.onDisconnect(context.WithoutCancel(ctx), client, reason)
}

func (h *ConnHandler) authenticate(ctx context.Context, sock Socket, token string) (int64, error) {
	if token == "" {
		_ = sock.SetReadDeadline(time.Now().Add(h.cfg.AuthTimeout))
		_, data, err := sock.ReadMessage()
		if err != nil {
			return 0, err
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Action != ActionAuthenticate {
			return 0, auth.ErrInvalidToken
		}
		token = frame.Token
	}
	if token == "" {
		return 0, auth.ErrInvalidToken
	}
	return h.validator.ValidateToken(ctx, token)
}

func (h *ConnHandler) onConnect(ctx context.Context, client *Client) {
	h.hub.Register(client)
	observability.IncWSActive()
	client.Info.publish(ctx, "ws_connect", "")
	client.Send(models.AckEvent{Type: models.EventAuthOK, UserID: client.UserID})
	h.presence.Online(ctx, client.UserID)
	h.log.Info("websocket connected", zap.Int64("user_id", client.UserID), zap.String("conn_id", client.Info.ConnID))
}

// onDisconnect runs exactly once per authenticated connection.
func (h *ConnHandler) onDisconnect(ctx context.Context, client *Client, reason string) {
	offline := h.hub.Release(client)
	client.Close(websocket.CloseNormalClosure, "")
	observability.DecWSActive()
	client.Info.publish(ctx, "ws_disconnect", reason)

	if !offline {
		h.log.Info("websocket replaced", zap.Int64("user_id", client.UserID), zap.String("conn_id", client.Info.ConnID))
		return
	}
	h.presence.Offline(ctx, client.UserID)
	h.log.Info("websocket disconnected",
		zap.Int64("user_id", client.UserID),
		zap.String("conn_id", client.Info.ConnID),
		zap.String("reason", reason))
}

func (h *ConnHandler) readLoop(ctx context.Context, sock Socket, client *Client) string {
	extend := func() error { return sock.SetReadDeadline(time.Now().Add(h.cfg.PongWait)) }
	_ = extend()
	sock.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) && !client.Superseded() {
				client.Info.publish(ctx, "ws_error", err.Error())
			}
			return err.Error()
		}
		_ = extend()
		h.dispatch(ctx, client, data)
	}
}

func (h *ConnHandler) dispatch(ctx context.Context, client *Client, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		sendError(client, "invalid_request", "malformed frame")
		return
	}

	switch {
	case frame.Action == ActionSendMessage:
		if _, err := h.router.Route(ctx, client.UserID, frame.ReceiverID, frame.Content, frame.Type); err != nil {
			sendError(client, errorCode(err), err.Error())
		}
	case frame.Action == ActionMarkRead:
		if _, err := h.presence.MarkRead(ctx, client.UserID, frame.ContactID); err != nil {
			sendError(client, errorCode(err), err.Error())
		}
	case models.IsSignalKind(frame.Action):
		payload := frame.Payload
		if len(payload) == 0 {
			payload = json.RawMessage(data)
		}
		if _, err := h.relay.Relay(frame.Action, client.UserID, frame.ReceiverID, payload); err != nil {
			sendError(client, errorCode(err), err.Error())
		}
	case frame.Action == ActionPing:
		client.Send(models.AckEvent{Type: models.EventPong})
	case frame.Action == ActionAuthenticate:
		sendError(client, "invalid_request", "already authenticated")
	default:
		sendError(client, "unknown_action", "unknown action "+frame.Action)
	}
}

func sendError(client *Client, code, message string) {
	client.Send(models.ErrorEvent{Type: models.EventError, Code: code, Message: message})
}
