package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"growth-tracker/backend/internal/logger"
)

// SubjectKey is the gin context key holding the authenticated trigger subject.
const SubjectKey = "trigger_subject"

// RequireTrigger rejects requests that do not carry a valid trigger credential in
// "Authorization: Bearer <token|secret>" or the X-Trigger-Secret header.
// When auth is not enabled every request is allowed; config refuses that in production.
func RequireTrigger(auth *TriggerAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.Enabled() {
			c.Next()
			return
		}
		credential := bearer(c.GetHeader("Authorization"))
		if credential == "" {
			credential = strings.TrimSpace(c.GetHeader("X-Trigger-Secret"))
		}
		subject, err := auth.Authenticate(credential)
		if err != nil {
			logger.FromContext(c.Request.Context()).Warn("trigger auth rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "kind": "unauthorized"})
			return
		}
		c.Set(SubjectKey, subject)
		c.Next()
	}
}

func bearer(header string) string {
	parts := strings.Fields(header)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}
