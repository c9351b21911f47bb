package callkit

import (
	"context"
	"testing"

	"github.com/bazaarlane/callkit/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInitiator(t *testing.T) (*Initiator, *fakeSignaling) {
	t.Helper()
	sig := &fakeSignaling{}
	init, err := NewInitiator(shared.NewNopLogger(), testConfig(), sig, &fakeTransport{room: &fakeRoom{}}, &fakeCapture{track: &fakeTrack{}})
	require.NoError(t, err)
	return init, sig
}

func validCallRequest() CallRequest {
	return CallRequest{
		CallerEmail:       "buyer@example.com",
		CounterpartyEmail: "vendor@example.com",
		ShopID:            7,
		ShopName:          "Corner Shop",
		ProductID:         99,
		ProductName:       "Kettle",
	}
}

func TestInitiatorPlace(t *testing.T) {
	init, sig := newTestInitiator(t)

	ctrl, err := init.Place(context.Background(), validCallRequest())
	require.NoError(t, err)
	require.NotNil(t, ctrl)
	assert.Equal(t, RoleInitiator, ctrl.Role())
	assert.Equal(t, "room-1", ctrl.Descriptor().Room)
	assert.Equal(t, "buyer@example.com", ctrl.Descriptor().InitiatorEmail)
	assert.Equal(t, StateIdle, ctrl.State())

	sig.mu.Lock()
	assert.Equal(t, 1, sig.createCalls)
	sig.mu.Unlock()
}

func TestInitiatorSelfCallRejected(t *testing.T) {
	init, sig := newTestInitiator(t)

	req := validCallRequest()
	req.CounterpartyEmail = req.CallerEmail
	ctrl, err := init.Place(context.Background(), req)
	assert.ErrorIs(t, err, shared.ErrSelfCallRejected)
	assert.Nil(t, ctrl)

	// validation failures never reach the signaling service
	sig.mu.Lock()
	assert.Zero(t, sig.createCalls)
	sig.mu.Unlock()
}

func TestInitiatorValidation(t *testing.T) {
	init, sig := newTestInitiator(t)

	for name, mutate := range map[string]func(*CallRequest){
		"missing caller":       func(r *CallRequest) { r.CallerEmail = "" },
		"missing counterparty": func(r *CallRequest) { r.CounterpartyEmail = "" },
		"missing shop id":      func(r *CallRequest) { r.ShopID = 0 },
		"missing shop name":    func(r *CallRequest) { r.ShopName = "" },
	} {
		t.Run(name, func(t *testing.T) {
			req := validCallRequest()
			mutate(&req)
			_, err := init.Place(context.Background(), req)
			assert.ErrorIs(t, err, shared.ErrInvalidSessionContext)
		})
	}
	sig.mu.Lock()
	assert.Zero(t, sig.createCalls)
	sig.mu.Unlock()
}

func TestInitiatorAccept(t *testing.T) {
	init, _ := newTestInitiator(t)

	ctrl, err := init.Accept(testDescriptor())
	require.NoError(t, err)
	assert.Equal(t, RoleReceiver, ctrl.Role())
}

func TestNewInitiatorGuards(t *testing.T) {
	sig := &fakeSignaling{}
	tr := &fakeTransport{}
	mic := &fakeCapture{}

	_, err := NewInitiator(nil, testConfig(), sig, tr, mic)
	assert.ErrorIs(t, err, shared.ErrNoLogger)
	_, err = NewInitiator(shared.NewNopLogger(), testConfig(), nil, tr, mic)
	assert.ErrorIs(t, err, shared.ErrNoSignaling)
	_, err = NewInitiator(shared.NewNopLogger(), testConfig(), sig, nil, mic)
	assert.ErrorIs(t, err, shared.ErrNoTransport)
	_, err = NewInitiator(shared.NewNopLogger(), testConfig(), sig, tr, nil)
	assert.ErrorIs(t, err, shared.ErrNoCapture)
}
