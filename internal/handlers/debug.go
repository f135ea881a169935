package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dm-service/internal/telemetry"
)

// RegisterDebugRoutes adds /debug/audit-test, which pushes one audit envelope through the
// publisher so the audit pipeline can be checked end to end. Only mounted when debug is on.
func RegisterDebugRoutes(router *gin.Engine, audit *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if audit == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitAudit(audit, c, "INFO", "audit pipeline check")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "request_id": requestIDFromContext(c)})
	})
}
