package callkit

import (
	"context"
	"fmt"
	"net/url"

	"github.com/bazaarlane/callkit/shared"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// PushChannel subscribes to the signaling service's websocket push feed
// and delivers call status events to a handler. Delivery carries no
// ordering or uniqueness guarantee; consumers treat every event as
// possibly duplicated, and a polling loop covers lost messages.
type PushChannel struct {
	logger shared.LoggerAdapter
	url    string
	dialer *websocket.Dialer
}

func NewPushChannel(logger shared.LoggerAdapter, pushURL, participantEmail string) (*PushChannel, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	u, err := url.Parse(pushURL)
	if err != nil {
		return nil, fmt.Errorf("parsing push URL: %w", err)
	}
	q := u.Query()
	q.Set("participant", participantEmail)
	u.RawQuery = q.Encode()
	return &PushChannel{
		logger: logger,
		url:    u.String(),
		dialer: websocket.DefaultDialer,
	}, nil
}

// Run connects and reads events until the context is cancelled or the
// connection drops. Malformed messages are logged and skipped.
func (p *PushChannel) Run(ctx context.Context, handler func(StatusEvent)) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	conn, _, err := p.dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dialing push channel: %v", shared.ErrSignalingUnreachable, err)
	}
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	p.logger.Info("push channel connected")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading push message: %w", err)
		}
		var ev StatusEvent
		if err := ev.UnmarshalJSON(data); err != nil {
			p.logger.Warn("discarding malformed push event",
				zap.Error(err),
				zap.ByteString("data", data),
			)
			continue
		}
		p.logger.Debug("push event received",
			zap.String("type", string(ev.Type)),
			zap.String("room", ev.Room),
		)
		handler(ev)
	}
}
