package middleware

import (
	"net/http"
	"strings"

	"haggle/utils"

	"github.com/gin-gonic/gin"
)

// ParticipantAuthMiddleware resolves the acting participant from the bearer
// token and stores it in the context. The negotiation engine re-validates
// participancy per session on top of this.
func ParticipantAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Insufficient authorization",
			})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		participantID, err := utils.ExtractParticipantID(tokenString)
		if err != nil || participantID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Insufficient authorization",
			})
			return
		}

		c.Set("participantID", participantID)
		c.Next()
	}
}

// ParticipantID returns the authenticated participant from the context.
func ParticipantID(c *gin.Context) string {
	if v, ok := c.Get("participantID"); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
