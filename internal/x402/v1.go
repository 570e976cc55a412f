package x402

import (
	"encoding/json"
	"fmt"

	x402types "github.com/coinbase/x402/go/types"
)

// V1 converts r to the x402 SDK's v1 requirements shape.
func (r PaymentRequirement) V1() (x402types.PaymentRequirementsV1, error) {
	out := x402types.PaymentRequirementsV1{
		Scheme:            r.Scheme,
		Network:           r.Network,
		MaxAmountRequired: r.MaxAmountRequired,
		Resource:          r.Resource,
		Description:       r.Description,
		MimeType:          r.MimeType,
		PayTo:             r.PayTo,
		MaxTimeoutSeconds: r.MaxTimeoutSeconds,
		Asset:             r.Asset,
	}
	if len(r.Extra) > 0 {
		raw, err := json.Marshal(r.Extra)
		if err != nil {
			return out, fmt.Errorf("encoding extra: %w", err)
		}
		extra := json.RawMessage(raw)
		out.Extra = &extra
	}
	return out, nil
}

// V1 converts p to the x402 SDK's v1 payload shape.
func (p *PaymentPayload) V1() (x402types.PaymentPayloadV1, error) {
	out := x402types.PaymentPayloadV1{
		X402Version: p.X402Version,
		Scheme:      p.Scheme,
		Network:     p.Network,
	}
	if len(p.Payload) > 0 {
		if err := json.Unmarshal(p.Payload, &out.Payload); err != nil {
			return out, fmt.Errorf("decoding scheme payload: %w", err)
		}
	}
	return out, nil
}

// PayloadFromV1 converts a payload produced by the x402 SDK.
func PayloadFromV1(v x402types.PaymentPayloadV1) (*PaymentPayload, error) {
	raw, err := json.Marshal(v.Payload)
	if err != nil {
		return nil, fmt.Errorf("encoding scheme payload: %w", err)
	}
	return &PaymentPayload{
		X402Version: v.X402Version,
		Scheme:      v.Scheme,
		Network:     v.Network,
		Payload:     raw,
	}, nil
}
