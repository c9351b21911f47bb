package callkit

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"testing"

	"github.com/bazaarlane/callkit/shared"
	"github.com/bazaarlane/callkit/tools"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	trackID string
	closes  int32
}

func (s *fakeSink) TrackID() string { return s.trackID }

func (s *fakeSink) Close() error {
	atomic.AddInt32(&s.closes, 1)
	return nil
}

type fakeRemoteTrack struct {
	id   string
	kind string
}

func (f *fakeRemoteTrack) ID() string                    { return f.id }
func (f *fakeRemoteTrack) Codec() tools.TrackCodec       { return tools.TrackCodec{} }
func (f *fakeRemoteTrack) ReadRTP() (*rtp.Packet, error) { return nil, io.EOF }
func (f *fakeRemoteTrack) Kind() string                  { return f.kind }

func fakeOpener(sinks *[]*fakeSink) SinkOpener {
	return func(_ context.Context, _ shared.LoggerAdapter, track RemoteTrack) (Sink, error) {
		s := &fakeSink{trackID: track.ID()}
		*sinks = append(*sinks, s)
		return s, nil
	}
}

func TestSinkRegistryAttachRelease(t *testing.T) {
	var opened []*fakeSink
	reg := NewSinkRegistry(shared.NewNopLogger(), fakeOpener(&opened))

	handle, err := reg.Attach(context.Background(), &fakeRemoteTrack{id: "track-a", kind: "audio"})
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())

	reg.Release(handle)
	assert.Equal(t, 0, reg.Len())
	require.Len(t, opened, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&opened[0].closes))

	// unknown handles are no-ops
	reg.Release(handle)
	assert.Equal(t, int32(1), atomic.LoadInt32(&opened[0].closes))
}

func TestSinkRegistryReleaseTrack(t *testing.T) {
	var opened []*fakeSink
	reg := NewSinkRegistry(shared.NewNopLogger(), fakeOpener(&opened))
	ctx := context.Background()

	_, err := reg.Attach(ctx, &fakeRemoteTrack{id: "track-a", kind: "audio"})
	require.NoError(t, err)
	_, err = reg.Attach(ctx, &fakeRemoteTrack{id: "track-a", kind: "audio"})
	require.NoError(t, err)
	_, err = reg.Attach(ctx, &fakeRemoteTrack{id: "track-b", kind: "audio"})
	require.NoError(t, err)

	reg.ReleaseTrack("track-a")
	assert.Equal(t, 1, reg.Len())
	closed := 0
	for _, s := range opened {
		if atomic.LoadInt32(&s.closes) > 0 {
			assert.Equal(t, "track-a", s.trackID)
			closed++
		}
	}
	assert.Equal(t, 2, closed)
}

func TestSinkRegistryReleaseAll(t *testing.T) {
	var opened []*fakeSink
	reg := NewSinkRegistry(shared.NewNopLogger(), fakeOpener(&opened))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := reg.Attach(ctx, &fakeRemoteTrack{id: fmt.Sprintf("track-%d", i), kind: "audio"})
		require.NoError(t, err)
	}

	reg.ReleaseAll()
	assert.Equal(t, 0, reg.Len())
	for _, s := range opened {
		assert.Equal(t, int32(1), atomic.LoadInt32(&s.closes))
	}

	// second pass closes nothing twice
	reg.ReleaseAll()
	for _, s := range opened {
		assert.Equal(t, int32(1), atomic.LoadInt32(&s.closes))
	}
}

func TestSinkRegistryAttachFailure(t *testing.T) {
	reg := NewSinkRegistry(shared.NewNopLogger(), func(context.Context, shared.LoggerAdapter, RemoteTrack) (Sink, error) {
		return nil, fmt.Errorf("no output device")
	})

	_, err := reg.Attach(context.Background(), &fakeRemoteTrack{id: "track-a", kind: "audio"})
	assert.Error(t, err)
	assert.Equal(t, 0, reg.Len())
}

func TestSpeakerSinkSkipsNonAudioTracks(t *testing.T) {
	sink, err := SpeakerSinkOpener(context.Background(), shared.NewNopLogger(), &fakeRemoteTrack{id: "cam-1", kind: "video"})
	require.NoError(t, err)
	assert.Equal(t, "cam-1", sink.TrackID())
	// closes immediately, nothing was playing
	assert.NoError(t, sink.Close())
}
