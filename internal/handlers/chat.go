package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dm-service/internal/messaging"
	"dm-service/internal/middleware"
	"dm-service/internal/models"
	"dm-service/internal/repositories"
	"dm-service/internal/telemetry"
)

// MessageRouter persists and pushes a direct message.
type MessageRouter interface {
	Route(ctx context.Context, senderID, receiverID int64, content, msgType string) (models.Message, error)
}

// ReadMarker flips read flags and notifies the contact.
type ReadMarker interface {
	MarkRead(ctx context.Context, readerID, contactID int64) (int, error)
}

// ConversationFinder looks up a conversation without creating it.
type ConversationFinder interface {
	Find(ctx context.Context, userA, userB int64) (models.Conversation, bool, error)
}

// OnlineChecker reports whether a user has a live connection.
type OnlineChecker interface {
	IsOnline(userID int64) bool
}

// ChatHandler serves the REST side of direct messaging.
type ChatHandler struct {
	convs    repositories.ConversationRepository
	messages repositories.MessageRepository
	finder   ConversationFinder
	router   MessageRouter
	reads    ReadMarker
	online   OnlineChecker
	audit    *telemetry.AuditEmitter
	timeout  time.Duration
	log      *zap.Logger
}

// NewChatHandler builds a ChatHandler. storeTimeout bounds the direct repository reads.
func NewChatHandler(convs repositories.ConversationRepository, messages repositories.MessageRepository, finder ConversationFinder, router MessageRouter, reads ReadMarker, online OnlineChecker, audit *telemetry.AuditEmitter, storeTimeout time.Duration, log *zap.Logger) *ChatHandler {
	return &ChatHandler{
		convs:    convs,
		messages: messages,
		finder:   finder,
		router:   router,
		reads:    reads,
		online:   online,
		audit:    audit,
		timeout:  storeTimeout,
		log:      log,
	}
}

// ListContacts returns the caller's conversations with online flag and unread count.
func (h *ChatHandler) ListContacts(c *gin.Context) {
	userID := c.GetInt64(middleware.UserIDKey)
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	contacts, err := h.convs.ListContacts(ctx, userID)
	if err != nil {
		h.log.Error("list contacts failed", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to load contacts"})
		return
	}
	if contacts == nil {
		contacts = []models.ContactSummary{}
	}
	for i := range contacts {
		contacts[i].Online = h.online.IsOnline(contacts[i].ContactID)
	}

	c.JSON(http.StatusOK, gin.H{"contacts": contacts})
}

// GetMessages returns the conversation with contact_id in ascending time order.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	contactID, ok := parseContactID(c)
	if !ok {
		return
	}
	userID := c.GetInt64(middleware.UserIDKey)
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	conv, found, err := h.finder.Find(ctx, userID, contactID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusOK, gin.H{"messages": []models.Message{}})
		return
	}

	msgs, err := h.messages.ListForConversation(ctx, conv.ID)
	if err != nil {
		h.log.Error("list messages failed", zap.Int64("conversation_id", conv.ID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"conversation_id": conv.ID, "messages": msgs})
}

// PostMessage routes a message to contact_id.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	contactID, ok := parseContactID(c)
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
		Type    string `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.router.Route(c.Request.Context(), c.GetInt64(middleware.UserIDKey), contactID, req.Content, req.Type)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.emitAudit(c, "INFO", "Direct message sent")
	c.JSON(http.StatusCreated, msg)
}

// MarkRead marks every message from contact_id as read.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	contactID, ok := parseContactID(c)
	if !ok {
		return
	}

	n, err := h.reads.MarkRead(c.Request.Context(), c.GetInt64(middleware.UserIDKey), contactID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if n > 0 {
		h.emitAudit(c, "INFO", "Messages marked read")
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (h *ChatHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, messaging.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, messaging.ErrStoreUnavailable):
		h.log.Error("store unavailable", zap.Error(err))
		h.emitAudit(c, "ERROR", "store unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	default:
		h.log.Error("request failed", zap.Error(err))
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *ChatHandler) emitAudit(c *gin.Context, level, text string) {
	emitAudit(h.audit, c, level, text)
}

func parseContactID(c *gin.Context) (int64, bool) {
	contactID, err := strconv.ParseInt(c.Param("contact_id"), 10, 64)
	if err != nil || contactID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contact id"})
		return 0, false
	}
	return contactID, true
}
