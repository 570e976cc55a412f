// Package paymentclient pays for x402-priced MCP tool calls on the caller's
// behalf. A Client wraps a tool-call primitive: when a call comes back asking
// for payment it confirms, signs one token and retries exactly once.
package paymentclient

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/alecgard/paygate/internal/x402"
)

// Caller is the tool-call primitive being wrapped, normally an
// *mcp.ClientSession.
type Caller interface {
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)

func (f CallerFunc) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	return f(ctx, params)
}

// Signer turns one payment requirement into a payment token.
type Signer interface {
	Sign(ctx context.Context, req x402.PaymentRequirement) (string, error)
}

// ConfirmFunc decides whether to pay for a call, given every offer the
// server made. An error aborts the call and is returned to the caller as is.
type ConfirmFunc func(ctx context.Context, accepts []x402.PaymentRequirement) (bool, error)

// Client pays for tool calls on a single preferred network.
type Client struct {
	caller  Caller
	signer  Signer
	network string
	confirm ConfirmFunc
}

// New wraps caller. Payments are made on network with tokens from signer.
func New(caller Caller, signer Signer, network string) *Client {
	return &Client{caller: caller, signer: signer, network: network}
}

// SetConfirm sets the hook consulted before every payment. Without one,
// every payment is approved.
func (c *Client) SetConfirm(fn ConfirmFunc) {
	c.confirm = fn
}

// Network returns the network payments are made on.
func (c *Client) Network() string {
	return c.network
}

// CallTool calls the tool, paying once if the server asks for payment. The
// underlying primitive is called at most twice and at most one token is
// signed. Payment failures come back as error results tagged with an
// x402/error block; only transport errors and confirmation hook errors are
// returned as errors.
func (c *Client) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	res, err := c.caller.CallTool(ctx, params)
	if err != nil {
		return nil, err
	}
	required, ok := paymentRequired(res)
	if !ok {
		return res, nil
	}
	slog.Info("payment required", "tool", params.Name, "offers", len(required.Accepts))

	if c.confirm != nil {
		approved, err := c.confirm(ctx, required.Accepts)
		if err != nil {
			return nil, err
		}
		if !approved {
			slog.Info("payment declined", "tool", params.Name)
			return errorResult(x402.Errorf(x402.KindPaymentDeclined, "Payment declined")), nil
		}
	}

	offer, ok := x402.Match(required.Accepts, c.network)
	if !ok {
		return errorResult(x402.Errorf(x402.KindUnsupportedNetwork, "Payment network %s not supported", c.network)), nil
	}

	token, err := c.signer.Sign(ctx, offer)
	if err != nil {
		var xe *x402.Error
		if errors.As(err, &xe) {
			return errorResult(xe), nil
		}
		slog.Warn("creating payment failed", "tool", params.Name, "network", c.network, "error", err)
		return errorResult(x402.Wrap(x402.KindPaymentCreation, err, "Payment creation failed: %s", err)), nil
	}

	paid := *params
	paid.Meta = maps.Clone(params.Meta)
	if paid.Meta == nil {
		paid.Meta = mcp.Meta{}
	}
	paid.Meta[x402.MetaPayment] = token

	slog.Info("retrying with payment", "tool", params.Name, "network", c.network, "amount", offer.MaxAmountRequired)
	res, err = c.caller.CallTool(ctx, &paid)
	if err != nil {
		return nil, err
	}
	if again, ok := paymentRequired(res); ok {
		// No offers in the result, so an outer client will not pay again.
		slog.Warn("paid call still requires payment", "tool", params.Name, "kind", again.Kind, "error", again.Error)
		msg := again.Error
		if msg == "" {
			msg = "Payment required"
		}
		return errorResult(x402.Errorf(x402.KindPaymentRequired, "%s", msg)), nil
	}
	return res, nil
}

// paymentRequired extracts the x402/error block of an error result when the
// block carries offers.
func paymentRequired(res *mcp.CallToolResult) (*x402.PaymentRequired, bool) {
	if res == nil || !res.IsError || res.Meta == nil {
		return nil, false
	}
	raw, ok := res.Meta[x402.MetaError]
	if !ok || raw == nil {
		return nil, false
	}
	var pr x402.PaymentRequired
	switch v := raw.(type) {
	case *x402.PaymentRequired:
		pr = *v
	case x402.PaymentRequired:
		pr = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		if err := json.Unmarshal(data, &pr); err != nil {
			return nil, false
		}
	}
	if len(pr.Accepts) == 0 {
		return nil, false
	}
	return &pr, true
}

func errorResult(e *x402.Error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: e.Message}},
		Meta: mcp.Meta{
			x402.MetaError: x402.PaymentRequired{
				X402Version: x402.Version,
				Error:       e.Message,
				Kind:        e.Kind,
			},
		},
	}
}
