package callkit

import (
	"context"
	"fmt"
	"net/url"

	"github.com/bazaarlane/callkit/shared"
	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Signaling is the contract of the external service brokering call
// creation, join, decline, end and status. SignalingClient is the HTTP
// implementation; tests substitute fakes.
type Signaling interface {
	Create(ctx context.Context, req CreateRequest) (Descriptor, error)
	Join(ctx context.Context, room, email string) (token string, err error)
	Decline(ctx context.Context, room, email, reason string) error
	End(ctx context.Context, room, email, reason string) error
	Missed(ctx context.Context, room, email string) error
	Status(ctx context.Context, room string) (SessionStatus, error)
}

// CreateRequest asks the signaling service to mint a new call session.
type CreateRequest struct {
	InitiatorEmail    string `json:"initiator_email"`
	CounterpartyEmail string `json:"counterparty_email"`
	ShopID            int64  `json:"shop_id"`
	ShopName          string `json:"shop_name"`
	ProductID         int64  `json:"product_id,omitempty"`
	ProductName       string `json:"product_name,omitempty"`
}

type SignalingClient struct {
	logger  shared.LoggerAdapter
	baseURL *url.URL
	apiKey  string
}

var _ Signaling = (*SignalingClient)(nil)

func NewSignalingClient(logger shared.LoggerAdapter, apiKey, baseURL string) (*SignalingClient, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if baseURL == "" {
		return nil, fmt.Errorf("no signaling base URL provided")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	return &SignalingClient{
		logger:  logger,
		baseURL: u,
		apiKey:  apiKey,
	}, nil
}

func (c *SignalingClient) Create(ctx context.Context, req CreateRequest) (Descriptor, error) {
	var desc Descriptor
	body, err := sonic.Marshal(req)
	if err != nil {
		return desc, fmt.Errorf("marshaling create request: %w", err)
	}
	respBody, err := c.do(ctx, fasthttp.MethodPost, c.baseURL.JoinPath("/calls").String(), body, fasthttp.StatusCreated)
	if err != nil {
		return desc, err
	}
	if err := sonic.Unmarshal(respBody, &desc); err != nil {
		return desc, fmt.Errorf("unmarshaling session descriptor: %w", err)
	}
	if desc.Room == "" {
		return desc, fmt.Errorf("signaling returned a session without a room identifier")
	}
	return desc, nil
}

func (c *SignalingClient) Join(ctx context.Context, room, email string) (string, error) {
	body, err := sonic.Marshal(map[string]string{"email": email})
	if err != nil {
		return "", fmt.Errorf("marshaling join request: %w", err)
	}
	respBody, err := c.do(ctx, fasthttp.MethodPost, c.callURL(room, "join"), body, fasthttp.StatusOK)
	if err != nil {
		return "", err
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := sonic.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("unmarshaling join response: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("signaling returned an empty media access token")
	}
	return resp.Token, nil
}

func (c *SignalingClient) Decline(ctx context.Context, room, email, reason string) error {
	return c.notify(ctx, room, "decline", email, reason)
}

func (c *SignalingClient) End(ctx context.Context, room, email, reason string) error {
	return c.notify(ctx, room, "end", email, reason)
}

func (c *SignalingClient) Missed(ctx context.Context, room, email string) error {
	return c.notify(ctx, room, "missed", email, "")
}

func (c *SignalingClient) Status(ctx context.Context, room string) (SessionStatus, error) {
	respBody, err := c.do(ctx, fasthttp.MethodGet, c.callURL(room, "status"), nil, fasthttp.StatusOK)
	if err != nil {
		return "", err
	}
	var resp struct {
		Status SessionStatus `json:"status"`
	}
	if err := sonic.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("unmarshaling status response: %w", err)
	}
	return resp.Status, nil
}

// notify posts a termination-side acknowledgement. Callers treat these as
// fire-and-forget; the error is for logging only.
func (c *SignalingClient) notify(ctx context.Context, room, op, email, reason string) error {
	payload := map[string]string{"email": email}
	if reason != "" {
		payload["reason"] = reason
	}
	body, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", op, err)
	}
	_, err = c.do(ctx, fasthttp.MethodPost, c.callURL(room, op), body, fasthttp.StatusOK)
	return err
}

func (c *SignalingClient) callURL(room, op string) string {
	return c.baseURL.JoinPath("/calls", room, op).String()
}

func (c *SignalingClient) do(ctx context.Context, method, uri string, body []byte, wantStatus int) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	errC := make(chan error)
	go func() {
		defer close(errC)
		errC <- fasthttp.Do(req, resp)
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errC:
		if err != nil {
			c.logger.Debug("signaling request failed", zap.String("uri", uri), zap.Error(err))
			return nil, fmt.Errorf("%w: %s %s: %v", shared.ErrSignalingUnreachable, method, uri, err)
		}
	}
	if resp.StatusCode() != wantStatus {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), string(resp.Body()))
	}
	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, nil
}
