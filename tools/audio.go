package tools

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/bazaarlane/callkit/shared"
	"github.com/ebitengine/oto/v3"
	"github.com/hraban/opus"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
)

// TrackCodec is the minimal codec description a playback sink needs.
type TrackCodec struct {
	MimeType  string
	ClockRate int
	Channels  int
}

// RemoteAudio is a readable remote audio track. The media transport's
// remote tracks satisfy it.
type RemoteAudio interface {
	ID() string
	Codec() TrackCodec
	ReadRTP() (*rtp.Packet, error)
}

// FrameReader yields encoded audio frames from a local capture device.
// release must be called after each frame is consumed.
type FrameReader interface {
	Read() (data []byte, samples int, release func(), err error)
}

// AudioBuffer is a fixed-capacity byte ring between the decoder goroutine
// and the audio player. Writes past capacity drop the oldest data.
type AudioBuffer struct {
	buffer []byte
	mu     sync.Mutex
	cond   *sync.Cond
	size   int
	cap    int
	closed bool
}

func NewAudioBuffer(fixedCap int) *AudioBuffer {
	ab := &AudioBuffer{
		buffer: make([]byte, 0, fixedCap),
		cap:    fixedCap,
	}
	ab.cond = sync.NewCond(&ab.mu)
	return ab
}

func (ab *AudioBuffer) Write(data []byte) (dropped int) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	if ab.closed {
		return len(data)
	}
	if ab.size+len(data) > ab.cap {
		drop := ab.size + len(data) - ab.cap
		ab.buffer = ab.buffer[drop:]
		ab.size -= drop
		dropped = drop
	}
	ab.buffer = append(ab.buffer, data...)
	ab.size += len(data)
	ab.cond.Signal()
	return dropped
}

func (ab *AudioBuffer) Read(p []byte) (n int, err error) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	for ab.size == 0 {
		if ab.closed {
			return 0, io.EOF
		}
		ab.cond.Wait()
	}
	n = copy(p, ab.buffer)
	ab.buffer = ab.buffer[n:]
	ab.size -= n
	return n, nil
}

// Close unblocks any pending Read. Further writes are discarded.
func (ab *AudioBuffer) Close() {
	ab.mu.Lock()
	ab.closed = true
	ab.cond.Broadcast()
	ab.mu.Unlock()
}

// StreamLocalAudio pumps encoded frames from the capture device into the
// room's local track until the context is cancelled or the device closes.
func StreamLocalAudio(ctx context.Context, logger shared.LoggerAdapter, track *webrtc.TrackLocalStaticSample, frames FrameReader, frameDuration time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		data, samples, release, err := frames.Read()
		if err != nil {
			if err == io.EOF {
				return
			}
			logger.Error("reading from capture device", err)
			if release != nil {
				release()
			}
			continue
		}
		if samples == 0 {
			release()
			continue
		}
		err = track.WriteSample(media.Sample{
			Data:     data,
			Duration: frameDuration,
		})
		release()
		if err != nil {
			logger.Error("writing sample to local track", err)
		}
	}
}

// PlayRemoteAudio decodes a remote Opus track and plays it on the default
// output device. It blocks until the context is cancelled or the track
// stops delivering packets.
func PlayRemoteAudio(ctx context.Context, logger shared.LoggerAdapter, track RemoteAudio, otoBufferMs, ringBufferSeconds int) {
	var (
		codec      = track.Codec()
		sampleRate = codec.ClockRate
		channels   = codec.Channels
	)
	logger.Info("playing remote audio",
		zap.String("track", track.ID()),
		zap.String("codec", codec.MimeType),
		zap.Int("sampleRate", sampleRate),
		zap.Int("channels", channels),
	)
	decoder, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		logger.Error("creating Opus decoder", err)
		return
	}

	otoCtx, ready, err := oto.NewContext(
		&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   time.Duration(otoBufferMs) * time.Millisecond,
		},
	)
	if err != nil {
		logger.Error("creating audio output context", err)
		return
	}
	audioBuffer := NewAudioBuffer(ringBufferSeconds * sampleRate * channels * 2)
	defer audioBuffer.Close()
	pcm := make([]int16, FrameSamples(time.Duration(otoBufferMs)*time.Millisecond, sampleRate, channels))

	<-ready
	player := otoCtx.NewPlayer(audioBuffer)
	player.Play()
	defer func() { _ = player.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, err := track.ReadRTP()
		if err != nil {
			if err != io.EOF {
				logger.Error("reading RTP packet", err)
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := decoder.Decode(pkt.Payload, pcm)
		if err != nil {
			logger.Error("decoding Opus", err)
			continue
		}
		dropped := audioBuffer.Write(PCMBytes(pcm[:n*channels]))
		if dropped > 0 {
			logger.Warn("audio buffer dropped data", zap.Int("droppedBytes", dropped))
		}
	}
}
