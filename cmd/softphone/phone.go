package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dkeye/Dialtone/internal/adapters/auth"
	"github.com/dkeye/Dialtone/internal/adapters/media"
	"github.com/dkeye/Dialtone/internal/adapters/rtc"
	sig "github.com/dkeye/Dialtone/internal/adapters/signal"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/dkeye/Dialtone/internal/endpoint"
	"github.com/dkeye/Dialtone/internal/metrics"
	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// relayLink is the receiving side of the relay connection.
type relayLink interface {
	Listen(ctx context.Context, fn func(*protocol.Message)) error
	Close()
}

type phone struct {
	self     domain.UserID
	client   relayLink
	input    io.Reader
	machine  *endpoint.Machine
	playback *media.Playback
	speaker  *media.CountingSink
	earpiece *media.CountingSink
	metrics  *http.Server
}

func setDebug() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

func dialPhone(ctx context.Context) (*phone, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	self, err := domain.ParseUserID(flagAs)
	if err != nil {
		return nil, fmt.Errorf("--as: %w", err)
	}

	token := flagToken
	if token == "" {
		token = cfg.Endpoint.Token
	}
	if token == "" && cfg.JWTSecret != "" {
		token, err = auth.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, 0).Issue(self)
		if err != nil {
			return nil, err
		}
	}
	url := flagRelay
	if url == "" {
		url = cfg.Endpoint.RelayURL
	}

	factory, err := rtc.NewFactory(rtc.FactoryOptions{
		ICEServers:          cfg.Endpoint.ICEServers,
		DisconnectedTimeout: cfg.Endpoint.ICEDisconnected,
		FailedTimeout:       cfg.Endpoint.ICEFailed,
		LogLevel:            zerolog.WarnLevel,
	})
	if err != nil {
		return nil, err
	}

	client, err := sig.Dial(ctx, url, token, sig.Options{ReadLimit: cfg.ReadLimit})
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	earpiece, speaker := &media.CountingSink{Name: "earpiece"}, &media.CountingSink{Name: "speaker"}
	playback := media.NewPlayback(earpiece, speaker)
	source := &media.SyntheticSource{Devices: endpoint.Constraints{Audio: true, Video: !flagNoVideo}}

	reg := prometheus.NewRegistry()
	m := endpoint.New(self, client, source, factory,
		endpoint.WithEstablishTimeout(cfg.Endpoint.EstablishTimeout),
		endpoint.WithDropGrace(cfg.Endpoint.DropGrace),
		endpoint.WithPlayback(playback),
		endpoint.WithMetrics(metrics.New(reg)),
	)
	p := &phone{
		self:     self,
		client:   client,
		input:    os.Stdin,
		machine:  m,
		playback: playback,
		speaker:  speaker,
		earpiece: earpiece,
	}
	if flagMetrics != "" {
		p.metrics = serveMetrics(flagMetrics, reg)
	}
	return p, nil
}

func serveMetrics(addr string, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Str("module", "softphone").Str("addr", addr).Msg("metrics server")
		}
	}()
	return srv
}

type runOptions struct {
	autoAnswer bool
	exitOnEnd  bool
	// start runs once the phone is subscribed and listening.
	start func(ctx context.Context) error
}

// run pumps relay messages into the machine and keyboard commands into the
// call until ctx ends, the relay goes away, or (with exitOnEnd) the call ends.
func (p *phone) run(ctx context.Context, opts runOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, unsubscribe := p.machine.Subscribe()
	defer unsubscribe()

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- p.client.Listen(ctx, p.handle)
	}()
	go p.keyboard(ctx, p.input)

	last := p.machine.Snapshot().Phase
	if opts.start != nil {
		if err := opts.start(ctx); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			_ = p.machine.EndCall()
			return nil
		case err := <-listenErr:
			p.machine.SignalingClosed()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay connection lost: %w", err)
		case s := <-events:
			if s.Phase == last {
				continue
			}
			last = s.Phase
			p.report(s)
			if s.Phase == domain.PhaseIncoming && opts.autoAnswer {
				if err := p.machine.AcceptCall(ctx); err != nil {
					log.Warn().Err(err).Str("module", "softphone").Msg("auto answer")
				}
			}
			if s.Phase == domain.PhaseEnded && opts.exitOnEnd {
				return s.Err
			}
		}
	}
}

func (p *phone) handle(msg *protocol.Message) {
	if msg.Type == protocol.KindPresence {
		log.Info().Str("module", "softphone").Str("user", string(msg.UserID)).Bool("online", msg.Online != nil && *msg.Online).Msg("presence")
		return
	}
	p.machine.HandleMessage(msg)
}

func (p *phone) report(s endpoint.CallSession) {
	ev := log.Info().Str("module", "softphone").Str("phase", string(s.Phase)).Str("room_id", string(s.RoomID)).
		Str("peer", string(s.Peer())).Str("call_type", string(s.CallType))
	switch s.Phase {
	case domain.PhaseIncoming:
		ev.Msg("incoming call: press a to accept, r to reject")
	case domain.PhaseConnected:
		ev.Int("remote_tracks", len(s.RemoteMedia)).Msg("connected")
	case domain.PhaseEnded:
		ev.Str("reason", string(s.EndReason)).Err(s.Err).
			Int64("audio_packets", p.earpiece.Packets(endpoint.KindAudio)+p.speaker.Packets(endpoint.KindAudio)).
			Msg("call ended")
	default:
		ev.Msg("call state")
	}
}

func (p *phone) keyboard(ctx context.Context, in io.Reader) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		var err error
		switch strings.TrimSpace(sc.Text()) {
		case "a":
			err = p.machine.AcceptCall(ctx)
		case "r":
			err = p.machine.RejectCall()
		case "h":
			err = p.machine.EndCall()
		case "m":
			p.machine.ToggleMute()
		case "v":
			p.machine.ToggleVideo()
		case "s":
			p.machine.ToggleSpeaker()
		case "":
			continue
		default:
			fmt.Fprintln(os.Stderr, "keys: a accept, r reject, h hang up, m mute, v video, s speaker")
			continue
		}
		if err != nil && !errors.Is(err, endpoint.ErrNoCall) {
			log.Warn().Err(err).Str("module", "softphone").Msg("command failed")
		}
		s := p.machine.Snapshot()
		log.Info().Str("module", "softphone").Bool("muted", s.Muted).Bool("video", s.VideoEnabled).Bool("speaker", s.SpeakerOn).Msg("controls")
	}
}

func (p *phone) close() {
	p.playback.Stop()
	p.client.Close()
	if p.metrics != nil {
		_ = p.metrics.Close()
	}
}
