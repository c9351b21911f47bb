package callkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/bazaarlane/callkit/shared"
	"github.com/bazaarlane/callkit/tools"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// WebRTCTransport is the default Transport: each room is one pion peer
// connection whose SDP offer/answer is exchanged with the media service
// over HTTP. The webrtc API object is built lazily, once.
type WebRTCTransport struct {
	logger   shared.LoggerAdapter
	mediaURL *url.URL

	initOnce sync.Once
	initErr  error
	api      *webrtc.API
}

var _ Transport = (*WebRTCTransport)(nil)

func NewWebRTCTransport(logger shared.LoggerAdapter, mediaURL string) (*WebRTCTransport, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if mediaURL == "" {
		return nil, errors.New("no media base URL provided")
	}
	u, err := url.Parse(mediaURL)
	if err != nil {
		return nil, fmt.Errorf("parsing media URL: %w", err)
	}
	return &WebRTCTransport{logger: logger, mediaURL: u}, nil
}

func (t *WebRTCTransport) init() error {
	t.initOnce.Do(func() {
		engine := &webrtc.MediaEngine{}
		if err := engine.RegisterDefaultCodecs(); err != nil {
			t.initErr = fmt.Errorf("registering codecs: %w", err)
			return
		}
		t.api = webrtc.NewAPI(webrtc.WithMediaEngine(engine))
	})
	return t.initErr
}

func (t *WebRTCTransport) Connect(ctx context.Context, token, room string) (Room, error) {
	if err := t.init(); err != nil {
		return nil, err
	}
	pc, err := t.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &webrtcRoom{
		logger: t.logger.With(zap.String("room", room)),
		pc:     pc,
		ctx:    rctx,
		cancel: cancel,
	}
	pc.OnConnectionStateChange(r.onConnectionStateChange)
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		r.onTrack(&remoteTrack{t: track})
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		cancel()
		return nil, fmt.Errorf("creating offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		cancel()
		return nil, fmt.Errorf("setting local description: %w", err)
	}
	answer, err := t.exchangeSDP(ctx, token, room, offer.SDP)
	if err != nil {
		_ = pc.Close()
		cancel()
		return nil, fmt.Errorf("exchanging SDP: %w", err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		_ = pc.Close()
		cancel()
		return nil, fmt.Errorf("setting remote description: %w", err)
	}
	return r, nil
}

// exchangeSDP posts the local offer to the media service and returns the
// answer SDP.
func (t *WebRTCTransport) exchangeSDP(ctx context.Context, token, room, offer string) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(t.mediaURL.JoinPath("/rooms", room, "sdp").String())
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.SetContentType("application/sdp")
	req.SetBodyString(offer)

	errC := make(chan error)
	go func() {
		defer close(errC)
		errC <- fasthttp.Do(req, resp)
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errC:
		if err != nil {
			return "", fmt.Errorf("performing HTTP request: %w", err)
		}
	}
	if resp.StatusCode() != fasthttp.StatusCreated && resp.StatusCode() != fasthttp.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), string(resp.Body()))
	}
	return string(resp.Body()), nil
}

type webrtcRoom struct {
	logger shared.LoggerAdapter
	pc     *webrtc.PeerConnection

	mu           sync.Mutex
	state        webrtc.PeerConnectionState
	remoteCount  int
	local        LocalTrack
	sample       *webrtc.TrackLocalStaticSample
	remoteTracks []string
	onJoin       func(identity string)
	onLeave      func(identity string)
	onTrackSub   func(track RemoteTrack)
	onTrackUnsub func(trackID string)

	ctx    context.Context
	cancel context.CancelFunc
}

var _ Room = (*webrtcRoom)(nil)

func (r *webrtcRoom) OnParticipantConnected(fn func(identity string)) {
	r.mu.Lock()
	r.onJoin = fn
	r.mu.Unlock()
}

func (r *webrtcRoom) OnParticipantDisconnected(fn func(identity string)) {
	r.mu.Lock()
	r.onLeave = fn
	r.mu.Unlock()
}

func (r *webrtcRoom) OnTrackSubscribed(fn func(track RemoteTrack)) {
	r.mu.Lock()
	r.onTrackSub = fn
	r.mu.Unlock()
}

func (r *webrtcRoom) OnTrackUnsubscribed(fn func(trackID string)) {
	r.mu.Lock()
	r.onTrackUnsub = fn
	r.mu.Unlock()
}

// PublishAudio adds the local capture track to the peer connection and
// starts streaming once the connection is established.
func (r *webrtcRoom) PublishAudio(local LocalTrack) error {
	sample, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		"audio",
		"mic",
	)
	if err != nil {
		return fmt.Errorf("creating local audio track: %w", err)
	}
	if _, err := r.pc.AddTrack(sample); err != nil {
		return fmt.Errorf("adding audio track to peer connection: %w", err)
	}
	r.mu.Lock()
	r.local = local
	r.sample = sample
	connected := r.state == webrtc.PeerConnectionStateConnected
	r.mu.Unlock()
	if connected {
		r.startLocalStream()
	}
	return nil
}

func (r *webrtcRoom) startLocalStream() {
	r.mu.Lock()
	local, sample := r.local, r.sample
	r.mu.Unlock()
	if local == nil || sample == nil {
		return
	}
	frames, err := local.EncodedReader(webrtc.MimeTypeOpus)
	if err != nil {
		r.logger.Error("creating capture reader", err)
		return
	}
	go tools.StreamLocalAudio(r.ctx, r.logger, sample, frames, local.FrameDuration())
}

func (r *webrtcRoom) RemoteCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remoteCount
}

func (r *webrtcRoom) Disconnect() error {
	r.cancel()
	if err := r.pc.Close(); err != nil {
		return fmt.Errorf("closing peer connection: %w", err)
	}
	return nil
}

func (r *webrtcRoom) onConnectionStateChange(state webrtc.PeerConnectionState) {
	r.mu.Lock()
	prev := r.state
	r.state = state
	r.logger.Trace(
		"peer connection state changed",
		zap.String("prev", prev.String()),
		zap.String("new", state.String()),
	)
	var joined, left func(identity string)
	var unsub func(trackID string)
	var tracks []string
	switch state {
	case webrtc.PeerConnectionStateConnected:
		if r.remoteCount == 0 {
			r.remoteCount = 1
			joined = r.onJoin
		}
	case webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:
		if r.remoteCount > 0 {
			r.remoteCount = 0
			left = r.onLeave
			unsub = r.onTrackUnsub
			tracks = r.remoteTracks
			r.remoteTracks = nil
		}
		r.cancel()
	}
	r.mu.Unlock()

	if joined != nil {
		r.startLocalStream()
		joined("peer")
	}
	if left != nil {
		if unsub != nil {
			for _, id := range tracks {
				unsub(id)
			}
		}
		left("peer")
	}
}

func (r *webrtcRoom) onTrack(track RemoteTrack) {
	r.mu.Lock()
	r.remoteTracks = append(r.remoteTracks, track.ID())
	fn := r.onTrackSub
	r.mu.Unlock()
	r.logger.Info(
		"remote track subscribed",
		zap.String("kind", track.Kind()),
		zap.String("codec", track.Codec().MimeType),
	)
	if fn != nil {
		fn(track)
	}
}

type remoteTrack struct {
	t *webrtc.TrackRemote
}

var _ RemoteTrack = (*remoteTrack)(nil)

func (r *remoteTrack) ID() string {
	return r.t.ID()
}

func (r *remoteTrack) Kind() string {
	return r.t.Kind().String()
}

func (r *remoteTrack) Codec() tools.TrackCodec {
	c := r.t.Codec()
	return tools.TrackCodec{
		MimeType:  c.MimeType,
		ClockRate: int(c.ClockRate),
		Channels:  int(c.Channels),
	}
}

func (r *remoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.t.ReadRTP()
	return pkt, err
}
