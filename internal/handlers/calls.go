package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dm-service/internal/middleware"
	"dm-service/internal/models"
	"dm-service/internal/repositories"
	"dm-service/internal/telemetry"
)

// CallHandler records call history. Call media is relayed over the websocket.
type CallHandler struct {
	calls   repositories.CallLogRepository
	audit   *telemetry.AuditEmitter
	timeout time.Duration
	log     *zap.Logger
}

// NewCallHandler builds a CallHandler.
func NewCallHandler(calls repositories.CallLogRepository, audit *telemetry.AuditEmitter, storeTimeout time.Duration, log *zap.Logger) *CallHandler {
	return &CallHandler{calls: calls, audit: audit, timeout: storeTimeout, log: log}
}

// CreateCall logs a call from the caller to receiver_id.
func (h *CallHandler) CreateCall(c *gin.Context) {
	var req struct {
		ReceiverID int64  `json:"receiver_id" binding:"required"`
		Status     string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Status == "" {
		req.Status = models.CallStatusMissed
	}

	userID := c.GetInt64(middleware.UserIDKey)
	if req.ReceiverID <= 0 || req.ReceiverID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid receiver"})
		return
	}
	if !models.ValidCallStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	call, err := h.calls.Create(ctx, userID, req.ReceiverID, req.Status)
	if err != nil {
		h.log.Error("create call log failed", zap.Error(err))
		emitAudit(h.audit, c, "ERROR", "call log create failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to store call"})
		return
	}
	emitAudit(h.audit, c, "INFO", "Call logged: "+call.Status)
	c.JSON(http.StatusCreated, call)
}

// UpdateCall sets the status and, optionally, the end time of a call.
func (h *CallHandler) UpdateCall(c *gin.Context) {
	callID, err := strconv.ParseInt(c.Param("call_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid call id"})
		return
	}

	var req struct {
		Status  string     `json:"status" binding:"required"`
		EndTime *time.Time `json:"end_time"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !models.ValidCallStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	call, err := h.calls.Update(ctx, callID, c.GetInt64(middleware.UserIDKey), req.Status, req.EndTime)
	if err != nil {
		if errors.Is(err, repositories.ErrCallLogNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		h.log.Error("update call log failed", zap.Int64("call_id", callID), zap.Error(err))
		emitAudit(h.audit, c, "ERROR", "call log update failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to update call"})
		return
	}
	emitAudit(h.audit, c, "INFO", "Call updated: "+call.Status)
	c.JSON(http.StatusOK, call)
}

// ListCalls returns every call the user took part in, newest first.
func (h *CallHandler) ListCalls(c *gin.Context) {
	userID := c.GetInt64(middleware.UserIDKey)
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	calls, err := h.calls.ListForUser(ctx, userID)
	if err != nil {
		h.log.Error("list call logs failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to load calls"})
		return
	}

	type callResponse struct {
		models.CallLog
		Direction   string `json:"direction"`
		OtherUserID int64  `json:"other_user_id"`
	}

	resp := make([]callResponse, 0, len(calls))
	for _, call := range calls {
		item := callResponse{CallLog: call, Direction: "outgoing", OtherUserID: call.ReceiverID}
		if call.CallerID != userID {
			item.Direction = "incoming"
			item.OtherUserID = call.CallerID
		}
		resp = append(resp, item)
	}
	c.JSON(http.StatusOK, gin.H{"calls": resp})
}
