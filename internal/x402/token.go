package x402

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EncodeToken serialises a payload into the base64 token carried in
// _meta["x402/payment"].
func EncodeToken(p *PaymentPayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodeRawToken base64-encodes an already serialised payload, as returned by
// custodial signing services.
func EncodeRawToken(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeToken parses a payment token. Standard and URL-safe base64, padded or
// not, are accepted. The payload is checked for the fields every scheme
// needs; signature validity is left to the facilitator.
func DecodeToken(token string) (*PaymentPayload, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("empty token")
	}

	data, err := decodeBase64(token)
	if err != nil {
		return nil, fmt.Errorf("not base64: %w", err)
	}

	var p PaymentPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("not a payment payload: %w", err)
	}

	if p.X402Version != Version {
		return nil, fmt.Errorf("unsupported x402Version %d", p.X402Version)
	}
	if p.Scheme == "" {
		return nil, errors.New("missing scheme")
	}
	if p.Scheme != SchemeExact {
		return nil, fmt.Errorf("unsupported scheme %q", p.Scheme)
	}
	if p.Network == "" {
		return nil, errors.New("missing network")
	}
	trimmed := bytes.TrimSpace(p.Payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("missing payload object")
	}
	return &p, nil
}

// Payer returns the paying address when the payload names one. EVM payloads
// carry it in the authorization; SVM payloads only inside the transaction, so
// "" is returned for them.
func (p *PaymentPayload) Payer() string {
	var evm EVMPayload
	if err := json.Unmarshal(p.Payload, &evm); err != nil {
		return ""
	}
	return evm.Authorization.From
}

func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var firstErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
