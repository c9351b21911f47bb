package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pkg "github.com/bazaarlane/callkit"
	"github.com/bazaarlane/callkit/shared"
	"go.uber.org/zap"
)

// CallAgent runs one voice call end to end from a terminal: it places the
// session, wires microphone, media room and push channel, and prints
// call-state prompts to the user.
type CallAgent struct {
	logger  shared.LoggerAdapter
	printer *shared.Printer
	ctrl    *pkg.Controller

	mu   sync.Mutex
	done chan struct{}
}

func (a *CallAgent) Spawn(
	ctx context.Context,
	logger shared.LoggerAdapter,
	cfg pkg.Config,
	apiKey string,
	req pkg.CallRequest,
	printer *shared.Printer,
) error {
	if logger == nil {
		return shared.ErrNoLogger
	}
	if printer == nil {
		return errors.New("no printer provided")
	}
	a.logger = logger
	a.printer = printer
	a.done = make(chan struct{})
	a.logger.Info("spawning call agent")
	a.println("📞 Placing call...", 0)

	signaling, err := pkg.NewSignalingClient(a.logger, apiKey, cfg.SignalingURL)
	if err != nil {
		a.logger.Error("creating signaling client", err)
		return err
	}
	transport, err := pkg.NewWebRTCTransport(a.logger, cfg.MediaURL)
	if err != nil {
		a.logger.Error("creating media transport", err)
		return err
	}
	a.println("🎤 Accessing microphone...", 0)
	capture, err := pkg.NewMicrophoneSource(a.logger)
	if err != nil {
		a.logger.Error("creating microphone source", err)
		return err
	}

	initiator, err := pkg.NewInitiator(a.logger, cfg, signaling, transport, capture)
	if err != nil {
		a.logger.Error("creating initiator", err)
		return err
	}
	ctrl, err := initiator.Place(ctx, req)
	if err != nil {
		a.logger.Error("placing call", err)
		a.println("❌ Could not place the call: "+err.Error(), 0)
		return err
	}
	a.mu.Lock()
	a.ctrl = ctrl
	a.mu.Unlock()
	a.println(fmt.Sprintf("✅ Session created for %s (%s)", req.CounterpartyEmail, req.ShopName), 0)

	if err := a.registerHandlers(ctrl); err != nil {
		a.logger.Error("registering call handlers", err)
		return err
	}

	// push channel feeds the controller's status handler; the controller's
	// own poll loop covers delivery failures
	push, err := pkg.NewPushChannel(a.logger, cfg.PushURL, req.CallerEmail)
	if err != nil {
		a.logger.Error("creating push channel", err)
		return err
	}
	go func() {
		if err := push.Run(ctx, ctrl.HandleStatus); err != nil {
			a.logger.Warn("push channel stopped", zap.Error(err))
		}
	}()

	if err := ctrl.Start(ctx); err != nil {
		a.logger.Error("starting call session", err)
		return err
	}
	a.println("🔔 Ringing...", 0)
	return nil
}

func (a *CallAgent) registerHandlers(ctrl *pkg.Controller) error {
	if err := ctrl.OnStateChange(func(from, to pkg.State) {
		a.logger.Info("call state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		if to == pkg.StateActive {
			a.println("🟢 Call connected.", 0)
		}
	}); err != nil {
		return err
	}
	if err := ctrl.OnNotice(func(n pkg.Notice) {
		a.println("⚠️  "+n.Message, 0)
	}); err != nil {
		return err
	}
	if err := ctrl.OnDuration(func(elapsed time.Duration) {
		a.println(fmt.Sprintf("\r⏱  %02d:%02d", int(elapsed.Minutes()), int(elapsed.Seconds())%60), 1)
	}); err != nil {
		return err
	}
	return ctrl.OnClosed(func(sum pkg.Summary) {
		switch sum.Reason {
		case pkg.ReasonMissed:
			a.println("🔕 No answer.", 0)
		case pkg.ReasonRemoteDeclined:
			a.println("🚫 Call declined.", 0)
		default:
			a.println(fmt.Sprintf("👋 Call ended (%s).", sum.Duration.Round(time.Second)), 0)
		}
		close(a.done)
	})
}

func (a *CallAgent) println(s string, ind int) {
	if err := a.printer.Writeln(s, ind); err != nil {
		a.logger.Error("printing message", err)
	}
}

// Done is closed once the session has fully terminated.
func (a *CallAgent) Done() <-chan struct{} {
	return a.done
}

// Close hangs the call up. Safe to call at any point after Spawn.
func (a *CallAgent) Close() error {
	a.mu.Lock()
	ctrl := a.ctrl
	a.mu.Unlock()
	if ctrl != nil {
		ctrl.Hangup()
	}
	return nil
}
