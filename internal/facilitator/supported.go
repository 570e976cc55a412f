package facilitator

import (
	"context"
)

// SupportedKind is one (version, scheme, network) the facilitator handles.
type SupportedKind struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// SupportedResponse is the body of GET /supported.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// Supported lists the payment kinds the facilitator accepts.
func (c *Client) Supported(ctx context.Context) (*SupportedResponse, error) {
	remote, err := c.remote.GetSupported(ctx)
	if err != nil {
		return nil, &CallError{Op: "supported", Err: err}
	}
	out := &SupportedResponse{Kinds: make([]SupportedKind, 0, len(remote.Kinds))}
	for _, k := range remote.Kinds {
		out.Kinds = append(out.Kinds, SupportedKind{
			X402Version: k.X402Version,
			Scheme:      k.Scheme,
			Network:     k.Network,
			Extra:       k.Extra,
		})
	}
	return out, nil
}

// NetworkExtras returns, per network, the extra fields the facilitator
// advertises for x402 v1 exact payments. Solana facilitators publish their
// fee payer this way.
func (r *SupportedResponse) NetworkExtras() map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, k := range r.Kinds {
		if k.X402Version != 1 || k.Scheme != "exact" || len(k.Extra) == 0 {
			continue
		}
		out[k.Network] = k.Extra
	}
	return out
}
