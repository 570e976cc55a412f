// Package facilitator is a client for the remote service that verifies and
// settles x402 payment tokens.
package facilitator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	x402sdk "github.com/coinbase/x402/go"
	x402http "github.com/coinbase/x402/go/http"

	"github.com/alecgard/paygate/internal/x402"
)

// DefaultURL is the public x402 facilitator.
const DefaultURL = x402http.DefaultFacilitatorURL

// CallError means a facilitator call produced no verdict: the service was
// unreachable, answered with an error status, or sent a malformed body.
type CallError struct {
	Op  string
	Err error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("facilitator %s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Client calls a facilitator over HTTP. It owns its http.Client so that
// facilitator traffic never shares a transport with proxied MCP streams.
type Client struct {
	baseURL string
	http    *http.Client
	auth    x402http.AuthProvider
	remote  *x402http.HTTPFacilitatorClient
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the dedicated HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithAuthProvider sets the provider of per-endpoint auth headers.
func WithAuthProvider(p x402http.AuthProvider) Option {
	return func(c *Client) { c.auth = p }
}

// New creates a facilitator client. A fresh transport is created for it
// unless WithHTTPClient is given.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.remote = x402http.NewHTTPFacilitatorClient(&x402http.FacilitatorConfig{
		URL:          c.baseURL,
		HTTPClient:   c.http,
		AuthProvider: c.auth,
	})
	return c
}

// BaseURL returns the facilitator base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Verify asks the facilitator whether the payload satisfies the requirement.
// A returned error means the call itself failed; a rejection is reported
// through VerifyResponse.IsValid.
func (c *Client) Verify(ctx context.Context, payload *x402.PaymentPayload, req x402.PaymentRequirement) (*x402.VerifyResponse, error) {
	payloadJSON, reqJSON, err := encode(payload, req)
	if err != nil {
		return nil, &CallError{Op: "verify", Err: err}
	}

	resp := &x402.VerifyResponse{}
	v, err := c.remote.Verify(ctx, payloadJSON, reqJSON)
	var ve *x402sdk.VerifyError
	switch {
	case errors.As(err, &ve) && ve.InvalidReason != x402sdk.ErrInvalidResponse:
		resp.InvalidReason = ve.InvalidReason
		resp.Payer = ve.Payer
	case err != nil:
		return nil, &CallError{Op: "verify", Err: err}
	default:
		resp.IsValid = v.IsValid
		resp.InvalidReason = v.InvalidReason
		resp.Payer = v.Payer
	}

	if resp.Payer == "" {
		resp.Payer = payload.Payer()
	}
	if !resp.IsValid && resp.InvalidReason == "" {
		resp.InvalidReason = "unknown reason"
	}
	return resp, nil
}

// Settle asks the facilitator to execute the transfer. As with Verify, a
// returned error means the call failed, while Success=false is a rejection.
func (c *Client) Settle(ctx context.Context, payload *x402.PaymentPayload, req x402.PaymentRequirement) (*x402.SettleResponse, error) {
	payloadJSON, reqJSON, err := encode(payload, req)
	if err != nil {
		return nil, &CallError{Op: "settle", Err: err}
	}

	resp := &x402.SettleResponse{}
	s, err := c.remote.Settle(ctx, payloadJSON, reqJSON)
	var se *x402sdk.SettleError
	switch {
	case errors.As(err, &se):
		resp.ErrorReason = se.ErrorReason
		resp.Transaction = se.Transaction
		resp.Network = string(se.Network)
		resp.Payer = se.Payer
	case err != nil:
		return nil, &CallError{Op: "settle", Err: err}
	default:
		resp.Success = s.Success
		resp.ErrorReason = s.ErrorReason
		resp.Transaction = s.Transaction
		resp.Network = string(s.Network)
		resp.Payer = s.Payer
	}

	if resp.Network == "" {
		resp.Network = payload.Network
	}
	if resp.Payer == "" {
		resp.Payer = payload.Payer()
	}
	if !resp.Success && resp.ErrorReason == "" {
		resp.ErrorReason = "unknown reason"
	}
	return resp, nil
}

// encode renders both halves of a verify or settle request in their v1 wire
// form. The SDK reads the protocol version from the payload.
func encode(payload *x402.PaymentPayload, req x402.PaymentRequirement) ([]byte, []byte, error) {
	p, err := payload.V1()
	if err != nil {
		return nil, nil, err
	}
	r, err := req.V1()
	if err != nil {
		return nil, nil, err
	}
	payloadJSON, err := json.Marshal(p)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding payload: %w", err)
	}
	reqJSON, err := json.Marshal(r)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding requirements: %w", err)
	}
	return payloadJSON, reqJSON, nil
}
