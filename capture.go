package callkit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bazaarlane/callkit/shared"
	"github.com/bazaarlane/callkit/tools"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
)

// LocalTrack is an exclusively-owned local capture track. It must never
// outlive its controller: every terminal transition closes it.
type LocalTrack interface {
	EncodedReader(mimeType string) (tools.FrameReader, error)
	FrameDuration() time.Duration
	Close() error
}

// CaptureSource acquires local media. Acquisition errors are classified
// into the permission/device taxonomy so the controller can surface the
// right user-visible reason.
type CaptureSource interface {
	Acquire(ctx context.Context) (LocalTrack, error)
}

// MicrophoneSource captures Opus-encoded audio from the default microphone.
type MicrophoneSource struct {
	logger shared.LoggerAdapter
}

var _ CaptureSource = (*MicrophoneSource)(nil)

func NewMicrophoneSource(logger shared.LoggerAdapter) (*MicrophoneSource, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	return &MicrophoneSource{logger: logger}, nil
}

func (m *MicrophoneSource) Acquire(_ context.Context) (LocalTrack, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("creating opus params: %w", err)
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(48000)
			c.ChannelCount = prop.Int(1)
			c.SampleSize = prop.Int(16)
		},
		Codec: mediadevices.NewCodecSelector(
			mediadevices.WithAudioEncoders(&opusParams),
		),
	})
	if err != nil {
		return nil, classifyCaptureError(err)
	}
	audioTracks := stream.GetAudioTracks()
	if len(audioTracks) == 0 {
		return nil, fmt.Errorf("%w: stream has no audio track", shared.ErrDeviceUnavailable)
	}
	m.logger.Info("microphone stream obtained")
	return &micTrack{
		track:    audioTracks[0],
		frameDur: time.Duration(opusParams.Latency),
	}, nil
}

// classifyCaptureError maps driver failures onto the session error
// taxonomy. Driver error strings are the only signal available here.
func classifyCaptureError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied") || strings.Contains(msg, "not allowed"):
		return fmt.Errorf("%w: %v", shared.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", shared.ErrDeviceUnavailable, err)
	}
}

type micTrack struct {
	track    mediadevices.Track
	frameDur time.Duration
}

func (t *micTrack) EncodedReader(mimeType string) (tools.FrameReader, error) {
	reader, err := t.track.NewEncodedReader(mimeType)
	if err != nil {
		return nil, fmt.Errorf("creating encoded reader: %w", err)
	}
	return &encodedFrameReader{reader: reader}, nil
}

func (t *micTrack) FrameDuration() time.Duration {
	return t.frameDur
}

func (t *micTrack) Close() error {
	return t.track.Close()
}

type encodedFrameReader struct {
	reader mediadevices.EncodedReadCloser
}

func (r *encodedFrameReader) Read() (data []byte, samples int, release func(), err error) {
	buf, release, err := r.reader.Read()
	if err != nil {
		return nil, 0, release, err
	}
	return buf.Data, int(buf.Samples), release, nil
}
