package media

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/dkeye/Dialtone/internal/endpoint"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticSource_Acquire(t *testing.T) {
	ctx := context.Background()
	src := &SyntheticSource{Devices: endpoint.Constraints{Audio: true, Video: true}}

	lm, err := src.Acquire(ctx, endpoint.Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	tracks := lm.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, endpoint.KindAudio, tracks[0].Kind())
	assert.Equal(t, endpoint.KindVideo, tracks[1].Kind())
	assert.True(t, tracks[0].Enabled())

	lm.Release()
	lm.Release()
	assert.False(t, tracks[0].Enabled(), "released tracks are ended")
	tracks[0].SetEnabled(true)
	assert.False(t, tracks[0].Enabled(), "an ended track cannot be re-enabled")
}

func TestSyntheticSource_Failures(t *testing.T) {
	ctx := context.Background()

	_, err := (&SyntheticSource{Devices: endpoint.Constraints{Audio: true}}).
		Acquire(ctx, endpoint.Constraints{Audio: true, Video: true})
	assert.ErrorIs(t, err, endpoint.ErrMediaUnavailable)

	_, err = (&SyntheticSource{Devices: endpoint.Constraints{Audio: true}, Deny: true}).
		Acquire(ctx, endpoint.Constraints{Audio: true})
	assert.ErrorIs(t, err, endpoint.ErrPermissionDenied)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = (&SyntheticSource{Devices: endpoint.Constraints{Audio: true}}).
		Acquire(cancelled, endpoint.Constraints{Audio: true})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSyntheticSource_VideoFramesFollowEnabled(t *testing.T) {
	lm, err := (&SyntheticSource{Devices: endpoint.Constraints{Audio: true, Video: true}}).
		Acquire(context.Background(), endpoint.Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	defer lm.Release()

	video := lm.Tracks()[1].(*Track)
	require.Equal(t, endpoint.KindVideo, video.Kind())
	assert.Eventually(t, func() bool { return video.Frames() > 0 }, time.Second, 10*time.Millisecond)

	video.SetEnabled(false)
	time.Sleep(100 * time.Millisecond)
	paused := video.Frames()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, paused, video.Frames(), "disabled video writes no frames")

	video.SetEnabled(true)
	assert.Eventually(t, func() bool { return video.Frames() > paused }, time.Second, 10*time.Millisecond)
}

func TestTrack_MuteState(t *testing.T) {
	lm, err := (&SyntheticSource{Devices: endpoint.Constraints{Audio: true}}).
		Acquire(context.Background(), endpoint.Constraints{Audio: true})
	require.NoError(t, err)
	defer lm.Release()

	tr := lm.Tracks()[0].(*Track)
	tr.SetEnabled(false)
	assert.Equal(t, TrackStateMuted, tr.State())
	tr.SetEnabled(true)
	assert.Equal(t, TrackStateLive, tr.State())
	assert.NotNil(t, tr.TrackLocal())
}

type fakeRemote struct {
	id, kind string
	pkts     chan *rtp.Packet
}

func newFakeRemote(kind string) *fakeRemote {
	return &fakeRemote{id: kind + "-1", kind: kind, pkts: make(chan *rtp.Packet, 16)}
}

func (f *fakeRemote) ID() string   { return f.id }
func (f *fakeRemote) Kind() string { return f.kind }

func (f *fakeRemote) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-f.pkts
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

func (f *fakeRemote) push(n int) {
	for i := 0; i < n; i++ {
		f.pkts <- &rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(i)}}
	}
}

type plainRemote struct{}

func (plainRemote) ID() string   { return "plain" }
func (plainRemote) Kind() string { return endpoint.KindAudio }

type failingSink struct{}

func (failingSink) WritePacket(string, *rtp.Packet) error { return errors.New("device gone") }

func TestPlayback_RoutesToSelectedOutput(t *testing.T) {
	ear, spk := &CountingSink{Name: "ear"}, &CountingSink{Name: "spk"}
	p := NewPlayback(ear, spk)
	audio, video := newFakeRemote(endpoint.KindAudio), newFakeRemote(endpoint.KindVideo)
	p.Attach(audio)
	p.Attach(video)

	audio.push(3)
	video.push(2)
	assert.Eventually(t, func() bool {
		return ear.Packets(endpoint.KindAudio) == 3 && ear.Packets(endpoint.KindVideo) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.SetSpeaker(true))
	assert.Equal(t, OutputSpeaker, p.Output())
	audio.push(4)
	video.push(1)
	assert.Eventually(t, func() bool {
		return spk.Packets(endpoint.KindAudio) == 4 && ear.Packets(endpoint.KindVideo) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, spk.Packets(endpoint.KindVideo))

	close(audio.pkts)
	close(video.pkts)
	p.Wait()
}

func TestPlayback_SpeakerUnsupported(t *testing.T) {
	p := NewPlayback(&CountingSink{}, nil)
	assert.ErrorIs(t, p.SetSpeaker(true), ErrOutputUnsupported)
	assert.Equal(t, OutputEarpiece, p.Output())
	require.NoError(t, p.SetSpeaker(false))
}

func TestPlayback_StopThenAttach(t *testing.T) {
	ear := &CountingSink{}
	p := NewPlayback(ear, &CountingSink{})
	require.NoError(t, p.SetSpeaker(true))

	first := newFakeRemote(endpoint.KindAudio)
	p.Attach(first)
	p.Stop()
	assert.Equal(t, OutputEarpiece, p.Output())
	first.push(1)
	close(first.pkts)
	p.Wait()
	assert.Zero(t, ear.Packets(endpoint.KindAudio), "packets after Stop are not rendered")

	second := newFakeRemote(endpoint.KindAudio)
	p.Attach(second)
	second.push(2)
	assert.Eventually(t, func() bool { return ear.Packets(endpoint.KindAudio) == 2 }, time.Second, 5*time.Millisecond)
	close(second.pkts)
	p.Wait()

	p.Attach(plainRemote{})
	p.Wait()
}

func TestPlayback_SinkErrorStopsTrack(t *testing.T) {
	p := NewPlayback(failingSink{}, nil)
	r := newFakeRemote(endpoint.KindAudio)
	p.Attach(r)
	r.push(1)
	p.Wait()
}
