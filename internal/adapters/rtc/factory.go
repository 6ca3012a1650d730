package rtc

import (
	"fmt"
	"time"

	"github.com/dkeye/Dialtone/internal/endpoint"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type FactoryOptions struct {
	ICEServers []string
	// Disconnected/failed ICE timeouts; zero keeps pion's defaults.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	LogLevel            zerolog.Level
}

// Factory builds PeerConnections sharing one pion API.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewFactory(opts FactoryOptions) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = NewLoggerFactory(opts.LogLevel)
	if opts.DisconnectedTimeout > 0 && opts.FailedTimeout > 0 {
		se.SetICETimeouts(opts.DisconnectedTimeout, opts.FailedTimeout, 2*time.Second)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)
	return &Factory{api: api, config: Configuration(opts.ICEServers)}, nil
}

// Configuration falls back to a public STUN server when none is given.
func Configuration(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

func (f *Factory) NewTransport() (endpoint.Transport, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}
	return newWebRTCConnection(pc), nil
}
