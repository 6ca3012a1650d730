package media

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Dialtone/internal/endpoint"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrOutputUnsupported = errors.New("audio output selection not supported")

type Output string

const (
	OutputEarpiece Output = "earpiece"
	OutputSpeaker  Output = "speaker"
)

// RTPReader is a remote track whose packets can be pulled.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Sink renders packets of one remote track.
type Sink interface {
	WritePacket(kind string, pkt *rtp.Packet) error
}

// Playback pumps every attached remote track into the sink of the selected
// output. Video always goes to the earpiece sink, which stands for the screen.
type Playback struct {
	outputs map[Output]Sink
	current atomic.Value // Output

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPlayback needs at least an earpiece sink; a missing speaker sink makes
// SetSpeaker(true) fail with ErrOutputUnsupported.
func NewPlayback(earpiece, speaker Sink) *Playback {
	p := &Playback{outputs: map[Output]Sink{OutputEarpiece: earpiece}}
	if speaker != nil {
		p.outputs[OutputSpeaker] = speaker
	}
	p.current.Store(OutputEarpiece)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

func (p *Playback) Output() Output {
	return p.current.Load().(Output)
}

func (p *Playback) SetSpeaker(on bool) error {
	out := OutputEarpiece
	if on {
		out = OutputSpeaker
	}
	if _, ok := p.outputs[out]; !ok {
		return ErrOutputUnsupported
	}
	p.current.Store(out)
	log.Debug().Str("module", "media.playback").Str("output", string(out)).Msg("output selected")
	return nil
}

func (p *Playback) Attach(t endpoint.RemoteTrack) {
	src, ok := t.(RTPReader)
	if !ok {
		log.Debug().Str("module", "media.playback").Str("track_id", t.ID()).Msg("track has no RTP source, not rendered")
		return
	}
	p.mu.Lock()
	ctx := p.ctx
	p.wg.Add(1)
	p.mu.Unlock()

	logger := log.With().Str("module", "media.playback").Str("track_id", t.ID()).Str("kind", t.Kind()).Logger()
	go func() {
		defer p.wg.Done()
		p.loop(ctx, t.Kind(), src, &logger)
	}()
}

// loop reads RTP packets from the remote track until it ends or playback stops.
func (p *Playback) loop(ctx context.Context, kind string, src RTPReader, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("playback stopped")
			return
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("remote track ended")
			return
		}
		if ctx.Err() != nil {
			return
		}
		sink := p.sinkFor(kind)
		if err := sink.WritePacket(kind, pkt); err != nil {
			logger.Error().Err(err).Msg("sink write error, stopping track")
			return
		}
	}
}

func (p *Playback) sinkFor(kind string) Sink {
	if kind == endpoint.KindVideo {
		return p.outputs[OutputEarpiece]
	}
	return p.outputs[p.Output()]
}

// Stop detaches every track. Attach after Stop starts a fresh pump; the
// output selection resets to the earpiece.
func (p *Playback) Stop() {
	p.mu.Lock()
	p.cancel()
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()
	p.current.Store(OutputEarpiece)
}

// Wait blocks until every pump started so far has returned.
func (p *Playback) Wait() {
	p.wg.Wait()
}

// CountingSink discards packets and keeps per-kind counters.
type CountingSink struct {
	Name    string
	packets sync.Map // kind -> *atomic.Int64
}

func (s *CountingSink) WritePacket(kind string, _ *rtp.Packet) error {
	v, _ := s.packets.LoadOrStore(kind, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
	return nil
}

func (s *CountingSink) Packets(kind string) int64 {
	v, ok := s.packets.Load(kind)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}
