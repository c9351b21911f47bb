package callkit

import (
	"context"

	"github.com/bazaarlane/callkit/shared"
	"go.uber.org/zap"
)

// CallRequest is what the call button collects before a session exists.
type CallRequest struct {
	CallerEmail       string
	CounterpartyEmail string
	ShopID            int64
	ShopName          string
	ProductID         int64
	ProductName       string
}

// Initiator validates a call request and creates the session. Validation
// failures never reach the signaling service, and no state is retained on
// failure.
type Initiator struct {
	logger    shared.LoggerAdapter
	cfg       Config
	signaling Signaling
	transport Transport
	capture   CaptureSource
}

func NewInitiator(logger shared.LoggerAdapter, cfg Config, signaling Signaling, transport Transport, capture CaptureSource) (*Initiator, error) {
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
	return &Initiator{
		logger:    logger,
		cfg:       cfg,
		signaling: signaling,
		transport: transport,
		capture:   capture,
	}, nil
}

// Place creates a session for req and returns the controller for it, in
// the initiator role. The caller starts the controller when its UI is up.
func (i *Initiator) Place(ctx context.Context, req CallRequest) (*Controller, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	desc, err := i.signaling.Create(ctx, CreateRequest{
		InitiatorEmail:    req.CallerEmail,
		CounterpartyEmail: req.CounterpartyEmail,
		ShopID:            req.ShopID,
		ShopName:          req.ShopName,
		ProductID:         req.ProductID,
		ProductName:       req.ProductName,
	})
	if err != nil {
		i.logger.Error("creating call session", err)
		return nil, err
	}
	i.logger.Info("call session created",
		zap.String("room", desc.Room),
		zap.String("counterparty", desc.CounterpartyEmail),
	)
	return NewController(i.logger, i.cfg, desc, RoleInitiator, i.signaling, i.transport, i.capture)
}

// Accept builds the receiver-side controller for a session created by the
// remote party.
func (i *Initiator) Accept(desc Descriptor) (*Controller, error) {
	return NewController(i.logger, i.cfg, desc, RoleReceiver, i.signaling, i.transport, i.capture)
}

func validateRequest(req CallRequest) error {
	if req.CallerEmail == "" || req.CounterpartyEmail == "" {
		return shared.ErrInvalidSessionContext
	}
	if req.CallerEmail == req.CounterpartyEmail {
		return shared.ErrSelfCallRejected
	}
	if req.ShopID == 0 || req.ShopName == "" {
		return shared.ErrInvalidSessionContext
	}
	return nil
}
