// Package x402 holds the wire types of the x402 v1 payment protocol as carried
// over MCP, and the pure functions that build and decode them.
package x402

import "encoding/json"

const (
	// Version is the protocol version this proxy speaks.
	Version = 1

	SchemeExact = "exact"

	// DefaultMaxTimeoutSeconds bounds how old a token may be relative to the
	// requirement it answers.
	DefaultMaxTimeoutSeconds = 300

	MimeTypeJSON = "application/json"
)

// MCP _meta keys.
const (
	MetaPayment    = "x402/payment"
	MetaError      = "x402/error"
	MetaSettlement = "x402/settlement"
)

// PaymentRequirement is one offer a client may pay to unlock a priced tool call.
type PaymentRequirement struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	PayTo             string         `json:"payTo"`
	Asset             string         `json:"asset"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Resource          string         `json:"resource"`
	MimeType          string         `json:"mimeType"`
	Description       string         `json:"description"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// ExtraString returns a string field from Extra, or def when absent.
func (r PaymentRequirement) ExtraString(key, def string) string {
	if v, ok := r.Extra[key].(string); ok && v != "" {
		return v
	}
	return def
}

// PaymentPayload is the decoded form of a payment token.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// EVMAuthorization is the EIP-3009 authorization inside an EVM exact payload.
type EVMAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// EVMPayload is the scheme payload for EVM exact payments.
type EVMPayload struct {
	Signature     string           `json:"signature"`
	Authorization EVMAuthorization `json:"authorization"`
}

// SVMPayload is the scheme payload for Solana exact payments.
type SVMPayload struct {
	Transaction string `json:"transaction"`
}

// PaymentRequired is the body of the x402/error meta block.
type PaymentRequired struct {
	X402Version int                  `json:"x402Version"`
	Error       string               `json:"error,omitempty"`
	Kind        ErrorKind            `json:"kind,omitempty"`
	Accepts     []PaymentRequirement `json:"accepts,omitempty"`
}

// VerifyResponse is the facilitator's answer to a verify call.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's answer to a settle call.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

// SettlementReceipt is attached to a paid tool result under x402/settlement.
type SettlementReceipt struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer"`
}

// Receipt converts a successful settlement into the receipt returned to callers.
func (s *SettleResponse) Receipt() SettlementReceipt {
	return SettlementReceipt{
		Success:     s.Success,
		Transaction: s.Transaction,
		Network:     s.Network,
		Payer:       s.Payer,
	}
}
