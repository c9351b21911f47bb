package callkit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bazaarlane/callkit/shared"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

type StateChangeHandler func(from, to State)

type DurationHandler func(elapsed time.Duration)

type ClosedHandler func(sum Summary)

// Notice is a user-visible message about the call, paired with the error
// that produced it when there is one.
type Notice struct {
	Err     error
	Message string
}

type NoticeHandler func(n Notice)

// Controller owns the local state machine for one call attempt: local media
// acquisition, the media room, the ring timeout, status reconciliation and
// teardown of every resource on any terminal transition. One controller
// serves exactly one session.
type Controller struct {
	logger shared.LoggerAdapter
	cfg    Config
	desc   Descriptor
	role   Role

	signaling Signaling
	transport Transport
	capture   CaptureSource
	sinks     *SinkRegistry

	mu          sync.Mutex
	machine     *fsm.FSM
	started     bool
	degraded    bool
	startedAt   time.Time
	local       LocalTrack
	room        Room
	ringTimer   *time.Timer
	lingerTimer *time.Timer

	onState    StateChangeHandler
	onNotice   NoticeHandler
	onDuration DurationHandler
	onClosed   ClosedHandler
	closedOnce sync.Once

	transitions chan [2]State

	ctx    context.Context
	cancel context.CancelCauseFunc
}

func NewController(logger shared.LoggerAdapter, cfg Config, desc Descriptor, role Role, signaling Signaling, transport Transport, capture CaptureSource) (*Controller, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if signaling == nil {
		return nil, shared.ErrNoSignaling
	}
	if transport == nil {
		return nil, shared.ErrNoTransport
	}
	if capture == nil {
		return nil, shared.ErrNoCapture
	}
	if desc.Room == "" {
		return nil, shared.ErrInvalidSessionContext
	}
	cfg = cfg.withDefaults()
	c := &Controller{
		logger: logger.With(
			zap.String("room", desc.Room),
			zap.String("role", role.String()),
		),
		cfg:       cfg,
		desc:      desc,
		role:      role,
		signaling: signaling,
		transport: transport,
		capture:   capture,
		// a session makes a handful of transitions at most, the buffer
		// keeps fsm callbacks from ever blocking under the lock
		transitions: make(chan [2]State, 16),
	}
	c.sinks = NewSinkRegistry(c.logger, nil)
	c.machine = fsm.NewFSM(
		StateIdle.String(),
		fsm.Events{
			{Name: "connect", Src: []string{"idle"}, Dst: "connecting"},
			{Name: "ring", Src: []string{"connecting"}, Dst: "ringing"},
			{Name: "answer", Src: []string{"connecting", "ringing"}, Dst: "active"},
			{Name: "end", Src: []string{"idle", "connecting", "ringing", "active"}, Dst: "ending"},
			{Name: "terminated", Src: []string{"idle", "connecting", "ringing", "active", "ending"}, Dst: "terminated"},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				c.transitions <- [2]State{parseState(e.Src), parseState(e.Dst)}
			},
		},
	)
	go c.dispatchTransitions()
	return c, nil
}

func parseState(name string) State {
	for s, n := range stateNames {
		if n == name {
			return s
		}
	}
	return StateIdle
}

// dispatchTransitions delivers state-change notifications in order and off
// the controller lock, so observers are free to call back into the
// controller.
func (c *Controller) dispatchTransitions() {
	for tr := range c.transitions {
		c.mu.Lock()
		handler := c.onState
		c.mu.Unlock()
		if handler != nil {
			handler(tr[0], tr[1])
		}
	}
}

func (c *Controller) Descriptor() Descriptor {
	return c.desc
}

func (c *Controller) Role() Role {
	return c.role
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return parseState(c.machine.Current())
}

// Degraded reports whether the session runs without a media room after a
// transport connect failure.
func (c *Controller) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// StartedAt is the instant both parties were first detected in the room,
// or zero while ringing.
func (c *Controller) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

func (c *Controller) OnStateChange(handler StateChangeHandler) error {
	return c.register(handler == nil, c.onState != nil, func() { c.onState = handler })
}

func (c *Controller) OnNotice(handler NoticeHandler) error {
	return c.register(handler == nil, c.onNotice != nil, func() { c.onNotice = handler })
}

func (c *Controller) OnDuration(handler DurationHandler) error {
	return c.register(handler == nil, c.onDuration != nil, func() { c.onDuration = handler })
}

func (c *Controller) OnClosed(handler ClosedHandler) error {
	return c.register(handler == nil, c.onClosed != nil, func() { c.onClosed = handler })
}

// UseSinkOpener swaps the sink implementation. Must be called before Start.
func (c *Controller) UseSinkOpener(opener SinkOpener) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return shared.ErrSessionAlreadyActive
	}
	c.sinks = NewSinkRegistry(c.logger, opener)
	return nil
}

func (c *Controller) register(nilHandler, alreadySet bool, set func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return shared.ErrSessionAlreadyActive
	}
	if nilHandler {
		return errors.New("handler is required")
	}
	if alreadySet {
		return shared.ErrHandlerAlreadySet
	}
	set()
	return nil
}

func (c *Controller) selfEmail() string {
	if c.role == RoleInitiator {
		return c.desc.InitiatorEmail
	}
	return c.desc.CounterpartyEmail
}

// Start acquires local media, joins the media room and arms the ring
// timeout. Media acquisition failures are terminal: the notice lingers for
// the configured delay, then the session auto-closes. Transport failures
// degrade instead: the call keeps running on push and poll status alone.
// A session terminated while Start is still in flight releases whatever
// Start had acquired and returns ErrSessionTerminated.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return shared.ErrSessionAlreadyActive
	}
	if c.machine.Current() == StateTerminated.String() {
		c.mu.Unlock()
		return shared.ErrSessionTerminated
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancelCause(ctx)
	cctx := c.ctx
	_ = c.machine.Event(cctx, "connect")
	c.mu.Unlock()

	local, err := c.capture.Acquire(cctx)
	if err != nil {
		c.failMedia(err)
		return err
	}
	c.mu.Lock()
	if c.machine.Current() == StateTerminated.String() {
		// a terminal status event beat the acquisition; the track was never
		// installed, so teardown could not have closed it
		c.mu.Unlock()
		if err := local.Close(); err != nil {
			c.logger.Error("closing local track", err)
		}
		return shared.ErrSessionTerminated
	}
	c.local = local
	c.mu.Unlock()

	if room, err := c.joinRoom(cctx, local); err != nil {
		c.logger.Error("joining media room", err)
		c.setDegraded(err)
	} else if err := c.attachRoom(room); err != nil {
		return err
	}

	c.mu.Lock()
	if c.machine.Current() == StateTerminated.String() {
		c.mu.Unlock()
		return shared.ErrSessionTerminated
	}
	if c.machine.Current() == StateConnecting.String() && c.role == RoleInitiator {
		_ = c.machine.Event(cctx, "ring")
		c.ringTimer = time.AfterFunc(c.cfg.RingTimeout, c.onRingTimeout)
	}
	c.mu.Unlock()

	go c.pollStatus(cctx)
	return nil
}

func (c *Controller) joinRoom(ctx context.Context, local LocalTrack) (Room, error) {
	token, err := c.signaling.Join(ctx, c.desc.Room, c.selfEmail())
	if err != nil {
		return nil, fmt.Errorf("requesting media access token: %w", err)
	}
	room, err := c.transport.Connect(ctx, token, c.desc.Room)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrTransportConnectFailed, err)
	}
	room.OnParticipantConnected(c.onParticipantConnected)
	room.OnParticipantDisconnected(c.onParticipantDisconnected)
	room.OnTrackSubscribed(c.onTrackSubscribed)
	room.OnTrackUnsubscribed(c.onTrackUnsubscribed)
	if err := room.PublishAudio(local); err != nil {
		c.logger.Error("publishing local audio", err)
	}
	return room, nil
}

// attachRoom installs the joined room. A session that terminated while the
// transport was connecting gets the room disconnected instead of installed.
func (c *Controller) attachRoom(room Room) error {
	c.mu.Lock()
	if c.machine.Current() == StateTerminated.String() {
		c.mu.Unlock()
		if err := room.Disconnect(); err != nil {
			c.logger.Error("disconnecting from media room", err)
		}
		return shared.ErrSessionTerminated
	}
	c.room = room
	joined := room.RemoteCount() > 0
	c.mu.Unlock()
	if joined {
		// both sides joined near-simultaneously, skip ringing
		c.onParticipantConnected(c.desc.Room)
	}
	return nil
}

func (c *Controller) setDegraded(err error) {
	c.mu.Lock()
	c.degraded = true
	c.mu.Unlock()
	c.notice(Notice{
		Err:     err,
		Message: "Connected with limited functionality: audio and video may be unavailable.",
	})
}

// failMedia handles a terminal local media error: surface the reason, hold
// the notice up briefly, then tear down. No room join is attempted.
func (c *Controller) failMedia(err error) {
	msg := "Could not start the call: media device error."
	switch {
	case errors.Is(err, shared.ErrPermissionDenied):
		msg = "Microphone access was denied. The call will close shortly."
	case errors.Is(err, shared.ErrDeviceUnavailable):
		msg = "No usable microphone was found. The call will close shortly."
	}
	c.notice(Notice{Err: err, Message: msg})
	c.mu.Lock()
	c.lingerTimer = time.AfterFunc(c.cfg.NoticeLinger, func() {
		c.teardown(ReasonMediaError, nil)
	})
	c.mu.Unlock()
}

func (c *Controller) notice(n Notice) {
	c.mu.Lock()
	handler := c.onNotice
	c.mu.Unlock()
	if handler != nil {
		handler(n)
	}
}

func (c *Controller) onParticipantConnected(identity string) {
	c.mu.Lock()
	cur := c.machine.Current()
	if cur == StateTerminated.String() || cur == StateActive.String() {
		c.mu.Unlock()
		return
	}
	if c.ringTimer != nil {
		c.ringTimer.Stop()
		c.ringTimer = nil
	}
	if c.startedAt.IsZero() {
		c.startedAt = time.Now()
	}
	_ = c.machine.Event(c.ctx, "answer")
	ctx := c.ctx
	c.mu.Unlock()
	c.logger.Info("counterparty joined", zap.String("identity", identity))
	go c.durationLoop(ctx)
}

// onParticipantDisconnected ends the session immediately when the call had
// been established. Once a two-party call is active, a disconnect means the
// other side left; there is no grace period.
func (c *Controller) onParticipantDisconnected(identity string) {
	c.mu.Lock()
	wasActive := c.machine.Current() == StateActive.String()
	c.mu.Unlock()
	if !wasActive {
		c.logger.Debug("participant disconnected before call was established", zap.String("identity", identity))
		return
	}
	c.logger.Info("counterparty left", zap.String("identity", identity))
	c.teardown(ReasonRemoteEnded, nil)
}

func (c *Controller) onTrackSubscribed(track RemoteTrack) {
	c.mu.Lock()
	terminated := c.machine.Current() == StateTerminated.String()
	ctx := c.ctx
	c.mu.Unlock()
	if terminated {
		return
	}
	if _, err := c.sinks.Attach(ctx, track); err != nil {
		c.logger.Error("attaching sink", err, zap.String("track", track.ID()))
	}
}

func (c *Controller) onTrackUnsubscribed(trackID string) {
	c.sinks.ReleaseTrack(trackID)
}

func (c *Controller) onRingTimeout() {
	c.mu.Lock()
	ringing := c.machine.Current() == StateRinging.String()
	c.mu.Unlock()
	if !ringing {
		return
	}
	c.logger.Info("ring timeout elapsed, call missed")
	c.teardown(ReasonMissed, func(ctx context.Context) error {
		return c.signaling.Missed(ctx, c.desc.Room, c.selfEmail())
	})
}

func (c *Controller) durationLoop(ctx context.Context) {
	if ctx == nil {
		return
	}
	ticker := time.NewTicker(c.cfg.DurationTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			handler := c.onDuration
			startedAt := c.startedAt
			c.mu.Unlock()
			if handler != nil && !startedAt.IsZero() {
				handler(time.Since(startedAt))
			}
		}
	}
}

// pollStatus reconciles against the signaling service's authoritative view
// while the session is open, guarding against push-channel delivery failure.
func (c *Controller) pollStatus(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.StatusPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := c.signaling.Status(ctx, c.desc.Room)
			if err != nil {
				c.logger.Debug("status poll failed", zap.Error(err))
				continue
			}
			if ev, terminal := status.Event(c.desc.Room); terminal {
				c.HandleStatus(ev)
			}
		}
	}
}

// HandleStatus feeds one external status observation into the state
// machine. Push events and poll results both arrive here; a terminal event
// for this session's room forces teardown regardless of local transport
// state, and duplicates are no-ops.
func (c *Controller) HandleStatus(ev StatusEvent) {
	if !ev.AppliesTo(c.desc.Room) {
		c.logger.Debug("ignoring status event for different room",
			zap.String("event_room", ev.Room),
			zap.String("type", string(ev.Type)),
		)
		return
	}
	if !ev.Terminal() {
		c.logger.Debug("non-terminal status event", zap.String("type", string(ev.Type)))
		return
	}
	c.teardown(reasonForEvent(ev.Type), nil)
}

// Hangup terminates the session from any state, notifying the signaling
// service best-effort.
func (c *Controller) Hangup() {
	c.teardown(ReasonLocalHangup, func(ctx context.Context) error {
		return c.signaling.End(ctx, c.desc.Room, c.selfEmail(), "hangup")
	})
}

// Decline terminates an unanswered incoming session. Receiver only.
func (c *Controller) Decline() error {
	if c.role != RoleReceiver {
		return fmt.Errorf("decline is a receiver operation")
	}
	c.teardown(ReasonLocalDecline, func(ctx context.Context) error {
		return c.signaling.Decline(ctx, c.desc.Room, c.selfEmail(), "declined")
	})
	return nil
}

// teardown is the single terminal path. It is idempotent: every caller
// funnels here, the first one wins, and the closed callback fires exactly
// once. Local resource release is unconditional and never waits on the
// remote notification.
func (c *Controller) teardown(reason TerminateReason, notify func(context.Context) error) {
	c.mu.Lock()
	if c.machine.Current() == StateTerminated.String() {
		c.mu.Unlock()
		return
	}
	if notify != nil {
		go c.notifyRemote(notify)
	}
	_ = c.machine.Event(context.Background(), "end")
	_ = c.machine.Event(context.Background(), "terminated")
	local, room := c.local, c.room
	c.local, c.room = nil, nil
	if c.ringTimer != nil {
		c.ringTimer.Stop()
		c.ringTimer = nil
	}
	if c.lingerTimer != nil {
		c.lingerTimer.Stop()
		c.lingerTimer = nil
	}
	startedAt := c.startedAt
	if c.cancel != nil {
		c.cancel(fmt.Errorf("session terminated: %s", reason))
	}
	c.mu.Unlock()

	if local != nil {
		if err := local.Close(); err != nil {
			c.logger.Error("closing local track", err)
		}
	}
	if room != nil {
		if err := room.Disconnect(); err != nil {
			c.logger.Error("disconnecting from media room", err)
		}
	}
	c.sinks.ReleaseAll()

	var duration time.Duration
	if !startedAt.IsZero() {
		duration = time.Since(startedAt)
	}
	c.logger.Info("session terminated",
		zap.String("reason", string(reason)),
		zap.Duration("duration", duration),
	)
	c.closedOnce.Do(func() {
		close(c.transitions)
		c.mu.Lock()
		handler := c.onClosed
		c.mu.Unlock()
		if handler != nil {
			handler(Summary{
				Descriptor: c.desc,
				Reason:     reason,
				StartedAt:  startedAt,
				Duration:   duration,
			})
		}
	})
}

// notifyRemote delivers a termination notification on its own deadline so a
// slow or unreachable signaling service can never block local cleanup.
func (c *Controller) notifyRemote(notify func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := notify(ctx); err != nil {
		c.logger.Warn("termination notify failed", zap.Error(err))
	}
}
