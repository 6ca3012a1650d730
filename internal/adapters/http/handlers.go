package http

import (
	"errors"
	stdhttp "net/http"

	"github.com/dkeye/Dialtone/internal/adapters/auth"
	"github.com/dkeye/Dialtone/internal/adapters/notify"
	"github.com/dkeye/Dialtone/internal/app"
	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type SessionRequest struct {
	Token string `json:"token"`
	// Honored only when insecure login is enabled.
	UserID string `json:"userId"`
}

type SessionResponse struct {
	UserID domain.UserID `json:"userId"`
}

type PushTokenRequest struct {
	Token    string `json:"token" binding:"required"`
	Platform string `json:"platform" binding:"required"`
}

type handlers struct {
	relay         *app.Relay
	auth          core.Authenticator
	tokens        notify.TokenStore
	insecureLogin bool
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, gin.H{"status": "ok", "online": len(h.relay.Registry.Online())})
}

// createSession trades a bearer token for a cookie session, so browsers can
// open the signaling socket without custom headers.
func (h *handlers) createSession(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	var (
		user domain.UserID
		err  error
	)
	switch {
	case req.Token != "":
		user, err = h.auth.Authenticate(req.Token)
	case h.insecureLogin && req.UserID != "":
		user, err = domain.ParseUserID(req.UserID)
	default:
		err = auth.ErrUnauthenticated
	}
	if err != nil {
		log.Debug().Err(err).Str("module", "adapters.http").Msg("session refused")
		c.JSON(stdhttp.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	s := sessions.Default(c)
	s.Set(auth.SessionUserKey, string(user))
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
		c.JSON(stdhttp.StatusInternalServerError, gin.H{"error": "session"})
		return
	}
	c.JSON(stdhttp.StatusOK, SessionResponse{UserID: user})
}

func (h *handlers) deleteSession(c *gin.Context) {
	s := sessions.Default(c)
	s.Clear()
	s.Options(sessions.Options{Path: "/", MaxAge: -1})
	_ = s.Save()
	c.Status(stdhttp.StatusNoContent)
}

func (h *handlers) presence(c *gin.Context) {
	user, err := domain.ParseUserID(c.Param("userId"))
	if err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(stdhttp.StatusOK, h.relay.StatusOf(c.Request.Context(), user))
}

func (h *handlers) registerPushToken(c *gin.Context) {
	if h.tokens == nil {
		c.JSON(stdhttp.StatusNotImplemented, gin.H{"error": "push notifications disabled"})
		return
	}
	var req PushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "missing token or platform"})
		return
	}
	platform, err := notify.ParsePlatform(req.Platform)
	if err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, _ := auth.UserFrom(c)
	err = h.tokens.Add(c.Request.Context(), user, notify.Token{Token: req.Token, Platform: platform})
	switch {
	case errors.Is(err, notify.ErrInvalidToken):
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		log.Error().Err(err).Str("module", "adapters.http").Str("user", string(user)).Msg("store push token")
		c.JSON(stdhttp.StatusInternalServerError, gin.H{"error": "store"})
		return
	}
	log.Info().Str("module", "adapters.http").Str("user", string(user)).Str("platform", string(platform)).Msg("push token registered")
	c.Status(stdhttp.StatusNoContent)
}
