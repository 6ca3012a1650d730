package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Dialtone/internal/endpoint"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const (
	frameDuration      = 20 * time.Millisecond
	videoFrameDuration = 33 * time.Millisecond
)

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// vp8Keyframe is a 16x16 VP8 key frame header without partition data.
var vp8Keyframe = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x10, 0x00, 0x10, 0x00}

// SyntheticSource stands in for capture hardware. Devices lists what is
// "plugged in"; Deny simulates a refused permission prompt. Audio tracks
// carry Opus silence and video tracks a VP8 key frame stub at ~30fps, both
// paused while the track is disabled.
type SyntheticSource struct {
	Devices endpoint.Constraints
	Deny    bool
}

func (s *SyntheticSource) Acquire(ctx context.Context, c endpoint.Constraints) (endpoint.LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Deny {
		return nil, endpoint.ErrPermissionDenied
	}
	if (c.Audio && !s.Devices.Audio) || (c.Video && !s.Devices.Video) {
		return nil, endpoint.ErrMediaUnavailable
	}
	if !c.Audio && !c.Video {
		return nil, errors.New("no media requested")
	}

	stream := "dialtone-" + uuid.NewString()
	var tracks []*Track
	if c.Audio {
		local, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio-"+uuid.NewString(), stream,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", endpoint.ErrMediaUnavailable, err)
		}
		tracks = append(tracks, newTrack(endpoint.KindAudio, local))
	}
	if c.Video {
		local, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video-"+uuid.NewString(), stream,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", endpoint.ErrMediaUnavailable, err)
		}
		tracks = append(tracks, newTrack(endpoint.KindVideo, local))
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	lm := &LocalMedia{tracks: tracks, cancel: cancel}
	for _, t := range tracks {
		lm.wg.Add(1)
		go func() {
			defer lm.wg.Done()
			capture(pumpCtx, t)
		}()
	}
	log.Info().Str("module", "media").Str("stream", stream).Bool("audio", c.Audio).Bool("video", c.Video).Msg("media acquired")
	return lm, nil
}

func sampleFor(kind string) pionmedia.Sample {
	if kind == endpoint.KindVideo {
		return pionmedia.Sample{Data: vp8Keyframe, Duration: videoFrameDuration}
	}
	return pionmedia.Sample{Data: opusSilence, Duration: frameDuration}
}

// capture writes one frame per tick while the track is live. Writes before
// the track is bound to a connection are no-ops in pion.
func capture(ctx context.Context, t *Track) {
	sample := sampleFor(t.kind)
	ticker := time.NewTicker(sample.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		switch t.State() {
		case TrackStateEnded:
			return
		case TrackStateMuted:
			continue
		}
		if err := t.local.WriteSample(sample); err != nil {
			log.Debug().Err(err).Str("module", "media").Str("track_id", t.ID()).Msg("write sample")
			continue
		}
		t.frames.Add(1)
	}
}

// LocalMedia owns the captured tracks until Release.
type LocalMedia struct {
	tracks []*Track
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func (m *LocalMedia) Tracks() []endpoint.LocalTrack {
	out := make([]endpoint.LocalTrack, len(m.tracks))
	for i, t := range m.tracks {
		out[i] = t
	}
	return out
}

// Release stops capture; it is idempotent.
func (m *LocalMedia) Release() {
	m.once.Do(func() {
		for _, t := range m.tracks {
			t.markEnded()
		}
		m.cancel()
		m.wg.Wait()
		log.Debug().Str("module", "media").Int("tracks", len(m.tracks)).Msg("media released")
	})
}
