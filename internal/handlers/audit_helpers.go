package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dm-service/internal/middleware"
	"dm-service/internal/telemetry"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

// userIDFromContext prefers the authenticated id and falls back to X-User-ID. Zero means unknown.
func userIDFromContext(c *gin.Context) int64 {
	if userID := c.GetInt64(middleware.UserIDKey); userID != 0 {
		return userID
	}

	if header := c.GetHeader("X-User-ID"); header != "" {
		if parsed, err := strconv.ParseInt(header, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}

// emitAudit is a no-op without an emitter so handlers can run unaudited in tests.
func emitAudit(audit *telemetry.AuditEmitter, c *gin.Context, level, text string) {
	if audit == nil {
		return
	}
	audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
