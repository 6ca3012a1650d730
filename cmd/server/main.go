package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dialtone/internal/adapters/auth"
	router "github.com/dkeye/Dialtone/internal/adapters/http"
	"github.com/dkeye/Dialtone/internal/adapters/notify"
	"github.com/dkeye/Dialtone/internal/adapters/presence"
	sig "github.com/dkeye/Dialtone/internal/adapters/signal"
	"github.com/dkeye/Dialtone/internal/app"
	"github.com/dkeye/Dialtone/internal/config"
	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("LOG_FORMAT") != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	regOpts := []app.RegistryOption{app.WithRegistryMetrics(m)}
	var tokens notify.TokenStore = notify.NewMemoryTokenStore()
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable")
		}
		regOpts = append(regOpts, app.WithPresenceStore(presence.NewRedisStore(rdb, cfg.Presence.StoreTTL)))
		tokens = notify.NewRedisTokenStore(rdb, cfg.Push.TokenTTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis connected")
	}

	notifier, err := notify.New(ctx, notify.Options{
		Provider: cfg.Push.Provider,
		FCM: notify.FCMConfig{
			CredentialsFile: cfg.Push.FCM.CredentialsFile,
			ProjectID:       cfg.Push.FCM.ProjectID,
		},
		APNs: notify.APNsConfig{
			KeyPath:      cfg.Push.APNs.KeyPath,
			KeyID:        cfg.Push.APNs.KeyID,
			TeamID:       cfg.Push.APNs.TeamID,
			CertPath:     cfg.Push.APNs.CertPath,
			CertPassword: cfg.Push.APNs.CertPassword,
			BundleID:     cfg.Push.APNs.BundleID,
			Production:   cfg.Push.APNs.Production,
		},
	}, tokens)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init push notifier")
	}

	reg := app.NewRegistry(regOpts...)
	var contacts core.ContactLookup = app.NewStaticDirectory(cfg.Presence.Contacts)
	if cfg.Presence.Fanout == "everyone" {
		contacts = app.EveryoneDirectory{Registry: reg}
	}
	fanout := &app.PresenceFanout{Registry: reg, Contacts: contacts}
	reg.OnPresence(fanout.Publish)

	relay := &app.Relay{
		Registry:      reg,
		Routes:        app.NewRouteTable(),
		Notifier:      notifier,
		Policy:        app.SimplePolicy{},
		Metrics:       m,
		NotifyTimeout: cfg.NotifyTimeout,
	}
	go relay.RunPruner(ctx, cfg.RouteSweep, cfg.RouteIdleTTL)

	ctl := sig.NewSignalWSController(relay, sig.NewRateLimiter(cfg.RateLimit.Count, cfg.RateLimit.Interval), m, sig.Options{
		SendBuffer: cfg.SendBuffer,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	})

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Relay:      relay,
		Controller: ctl,
		Auth:       auth.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, 0),
		Tokens:     tokens,
		Gatherer:   promReg,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Dialtone relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
