package http

import (
	"context"

	"github.com/dkeye/Dialtone/internal/adapters/auth"
	"github.com/dkeye/Dialtone/internal/adapters/notify"
	"github.com/dkeye/Dialtone/internal/adapters/signal"
	"github.com/dkeye/Dialtone/internal/app"
	"github.com/dkeye/Dialtone/internal/config"
	"github.com/dkeye/Dialtone/internal/core"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const sessionName = "DialtoneSessions"

type Deps struct {
	Relay      *app.Relay
	Controller *signal.SignalWSController
	Auth       core.Authenticator
	// Nil disables the push token endpoint.
	Tokens   notify.TokenStore
	Gatherer prometheus.Gatherer
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))

	h := &handlers{relay: d.Relay, auth: d.Auth, tokens: d.Tokens, insecureLogin: cfg.AllowInsecureLogin}

	r.GET("/healthz", h.health)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.POST("/session", h.createSession)
	api.DELETE("/session", h.deleteSession)

	authed := api.Group("", auth.Middleware(d.Auth))
	authed.GET("/presence/:userId", h.presence)
	authed.POST("/push/tokens", h.registerPushToken)
	authed.GET("/ws/signal", func(c *gin.Context) {
		user, _ := auth.UserFrom(c)
		log.Info().Str("module", "adapters.http").Str("user", string(user)).Msg("ws signal endpoint hit")
		d.Controller.HandleSignal(ctx, c, user)
	})

	log.Info().Str("module", "adapters.http").Bool("push_tokens", d.Tokens != nil).Msg("router setup")
	return r
}
