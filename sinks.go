package callkit

import (
	"context"
	"sync"

	"github.com/bazaarlane/callkit/shared"
	"github.com/bazaarlane/callkit/tools"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sink is one playback output bound to a remote track.
type Sink interface {
	TrackID() string
	Close() error
}

// SinkOpener builds a sink for a newly subscribed remote track. The sink
// must stop playing when ctx is cancelled or Close is called.
type SinkOpener func(ctx context.Context, logger shared.LoggerAdapter, track RemoteTrack) (Sink, error)

// SinkRegistry owns every sink it creates: it, not ad hoc queries, is the
// authority on which sinks exist, so bulk release on teardown cannot miss
// one. Each attach yields one handle; tracks may subscribe and unsubscribe
// repeatedly within a call without the participant disconnecting.
type SinkRegistry struct {
	logger shared.LoggerAdapter
	opener SinkOpener

	mu    sync.Mutex
	sinks map[uuid.UUID]Sink
}

func NewSinkRegistry(logger shared.LoggerAdapter, opener SinkOpener) *SinkRegistry {
	if opener == nil {
		opener = SpeakerSinkOpener
	}
	return &SinkRegistry{
		logger: logger,
		opener: opener,
		sinks:  make(map[uuid.UUID]Sink),
	}
}

func (r *SinkRegistry) Attach(ctx context.Context, track RemoteTrack) (uuid.UUID, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sink, err := r.opener(ctx, r.logger, track)
	if err != nil {
		return uuid.Nil, err
	}
	handle := uuid.New()
	r.mu.Lock()
	r.sinks[handle] = sink
	r.mu.Unlock()
	r.logger.Debug("sink attached",
		zap.String("handle", handle.String()),
		zap.String("track", track.ID()),
	)
	return handle, nil
}

// Release closes one sink by handle. Unknown handles are no-ops.
func (r *SinkRegistry) Release(handle uuid.UUID) {
	r.mu.Lock()
	sink, ok := r.sinks[handle]
	delete(r.sinks, handle)
	r.mu.Unlock()
	if ok {
		r.closeSink(sink)
	}
}

// ReleaseTrack closes every sink bound to the given track.
func (r *SinkRegistry) ReleaseTrack(trackID string) {
	r.mu.Lock()
	var victims []Sink
	for handle, sink := range r.sinks {
		if sink.TrackID() == trackID {
			victims = append(victims, sink)
			delete(r.sinks, handle)
		}
	}
	r.mu.Unlock()
	for _, sink := range victims {
		r.closeSink(sink)
	}
}

// ReleaseAll closes every sink the registry created. Idempotent.
func (r *SinkRegistry) ReleaseAll() {
	r.mu.Lock()
	sinks := r.sinks
	r.sinks = make(map[uuid.UUID]Sink)
	r.mu.Unlock()
	for _, sink := range sinks {
		r.closeSink(sink)
	}
}

func (r *SinkRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks)
}

func (r *SinkRegistry) closeSink(sink Sink) {
	if err := sink.Close(); err != nil {
		r.logger.Error("closing sink", err, zap.String("track", sink.TrackID()))
	}
}

// SpeakerSinkOpener plays audio tracks on the default output device.
// Non-audio tracks get a no-op sink; rendering video is the embedding
// application's concern.
func SpeakerSinkOpener(ctx context.Context, logger shared.LoggerAdapter, track RemoteTrack) (Sink, error) {
	sctx, cancel := context.WithCancel(ctx)
	s := &speakerSink{
		trackID: track.ID(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if track.Kind() != "audio" {
		close(s.done)
		return s, nil
	}
	go func() {
		defer close(s.done)
		tools.PlayRemoteAudio(sctx, logger, track, 100, 2)
	}()
	return s, nil
}

type speakerSink struct {
	trackID   string
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (s *speakerSink) TrackID() string {
	return s.trackID
}

func (s *speakerSink) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}
