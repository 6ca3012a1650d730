package auth

import (
	"net/http"
	"strings"

	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	SessionUserKey = "user_id"
	contextUserKey = "dialtone.user"
)

// Middleware resolves the caller's identity before any handler runs. A bearer
// header wins over ?token=, which wins over the cookie session.
func Middleware(a core.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := resolve(c, a)
		if err != nil {
			log.Debug().Err(err).Str("module", "auth").Str("path", c.FullPath()).Msg("rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		c.Set(contextUserKey, user)
		c.Next()
	}
}

// UserFrom returns the identity stored by Middleware.
func UserFrom(c *gin.Context) (domain.UserID, bool) {
	v, ok := c.Get(contextUserKey)
	if !ok {
		return "", false
	}
	user, ok := v.(domain.UserID)
	return user, ok
}

func resolve(c *gin.Context, a core.Authenticator) (domain.UserID, error) {
	if h := c.GetHeader("Authorization"); h != "" {
		token, found := strings.CutPrefix(h, "Bearer ")
		if !found {
			return "", ErrUnauthenticated
		}
		return a.Authenticate(strings.TrimSpace(token))
	}
	if token := c.Query("token"); token != "" {
		return a.Authenticate(token)
	}
	if raw, ok := sessions.Default(c).Get(SessionUserKey).(string); ok {
		return domain.ParseUserID(raw)
	}
	return "", ErrUnauthenticated
}
