package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"casino-ewallet/internal/core/domain"
	"casino-ewallet/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditDenied records rejected attempts at state-changing operator endpoints.
// Successful operations are audited by the services themselves.
func AuditDenied(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status != http.StatusUnauthorized && status != http.StatusForbidden {
			return
		}
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			return
		}

		resourceType, resourceID := resourceFromPath(c)
		if resourceType == "" {
			return
		}

		var actorID *uuid.UUID
		if id, ok := UserID(c); ok {
			actorID = &id
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": status,
			"role":   c.GetString(CtxRole),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			ActorID:      actorID,
			Action:       domain.AuditActionAccessDenied,
			ResourceType: resourceType,
			ResourceID:   resourceID,
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now(),
		})
	}
}

func resourceFromPath(c *gin.Context) (string, string) {
	path := c.Request.URL.Path
	switch {
	case strings.HasPrefix(path, "/api/v1/ops/transactions"),
		strings.HasPrefix(path, "/api/v1/deposits"):
		return "transaction", c.Param("id")
	case strings.HasPrefix(path, "/api/v1/webhooks"):
		return "webhook", ""
	}
	return "", ""
}
