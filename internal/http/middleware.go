package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tablepos/internal/auth"
	"tablepos/internal/domain"
)

const actorKey = "actor"

// authRequired проверяет bearer-токен и кладёт актёра в контекст запроса.
// EventSource не умеет заголовки, поэтому для потока станций принимается access_token.
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if token == "" {
			token = c.Query("access_token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrNoActor.Error()})
			return
		}
		actor, err := auth.ParseToken(s.jwtSecret, token)
		if err != nil {
			zap.L().Debug("rejected token", zap.String("path", c.FullPath()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidToken.Error()})
			return
		}
		c.Set(actorKey, actor)
		c.Request = c.Request.WithContext(auth.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

func currentActor(c *gin.Context) (domain.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return domain.Actor{}, false
	}
	a, ok := v.(domain.Actor)
	return a, ok
}
