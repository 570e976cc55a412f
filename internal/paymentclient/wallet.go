package paymentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/alecgard/paygate/internal/x402"
)

const (
	// DefaultWalletURL is the custodial wallet service.
	DefaultWalletURL = "https://walletapi.fluxapay.xyz"
	// DefaultAuthorizeURL is where a user authorizes an agent for their wallet.
	DefaultAuthorizeURL = "https://agentwallet.fluxapay.xyz/add-agent"

	statusNeedApproval = "need_approval"
	codeAgentNotFound  = "agent_not_found"

	defaultValidityWindow = 60
	maxWalletResponseSize = 1 << 20
)

var agentIDPattern = regexp.MustCompile(`(?i)ID:\s*([a-f0-9-]+)`)

// WalletSigner delegates signing to a custodial wallet service that holds
// the keys and may hold a payment for the user's approval.
type WalletSigner struct {
	baseURL      string
	authorizeURL string
	jwt          string
	agentName    string
	http         *http.Client
}

// NewWalletSigner creates a signer authenticated with an agent JWT.
func NewWalletSigner(baseURL, jwt, agentName string) *WalletSigner {
	if baseURL == "" {
		baseURL = DefaultWalletURL
	}
	return &WalletSigner{
		baseURL:      strings.TrimRight(baseURL, "/"),
		authorizeURL: DefaultAuthorizeURL,
		jwt:          jwt,
		agentName:    agentName,
		http:         &http.Client{Timeout: 30 * time.Second},
	}
}

type walletPaymentRequest struct {
	Scheme                string `json:"scheme"`
	Network               string `json:"network"`
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
	AssetAddress          string `json:"assetAddress"`
	PayTo                 string `json:"payTo"`
	Host                  string `json:"host"`
	Resource              string `json:"resource"`
	Description           string `json:"description"`
	TokenName             string `json:"tokenName"`
	TokenVersion          string `json:"tokenVersion"`
	ValidityWindowSeconds int    `json:"validityWindowSeconds"`
}

type walletPaymentResponse struct {
	Status      string          `json:"status"`
	ApprovalURL string          `json:"approvalUrl"`
	XPayment    json.RawMessage `json:"xPayment"`
}

type walletError struct {
	Code                string `json:"code"`
	Message             string `json:"message"`
	PaymentModelContext *struct {
		Instructions string `json:"instructions"`
	} `json:"payment_model_context"`
}

// Sign asks the wallet service for a token. A payment held for approval
// returns an approval_required error naming the approval URL.
func (s *WalletSigner) Sign(ctx context.Context, req x402.PaymentRequirement) (string, error) {
	window := req.MaxTimeoutSeconds
	if window <= 0 {
		window = defaultValidityWindow
	}
	body, err := json.Marshal(walletPaymentRequest{
		Scheme:                req.Scheme,
		Network:               req.Network,
		Amount:                req.MaxAmountRequired,
		Currency:              "USDC",
		AssetAddress:          req.Asset,
		PayTo:                 req.PayTo,
		Host:                  resourceHost(req.Resource),
		Resource:              req.Resource,
		Description:           req.Description,
		TokenName:             req.ExtraString("name", "USDC"),
		TokenVersion:          req.ExtraString("version", "2"),
		ValidityWindowSeconds: window,
	})
	if err != nil {
		return "", fmt.Errorf("encoding wallet request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/payment/x402V1Payment", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building wallet request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.jwt)

	resp, err := s.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("wallet service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxWalletResponseSize))
	if err != nil {
		return "", fmt.Errorf("reading wallet response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", s.failure(resp.StatusCode, raw)
	}

	var out walletPaymentResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decoding wallet response: %w", err)
	}
	if out.Status == statusNeedApproval {
		return "", x402.Errorf(x402.KindApprovalRequired,
			"Payment requires approval. Please visit: %s\nThen retry this operation.", out.ApprovalURL)
	}
	if len(out.XPayment) > 0 && string(out.XPayment) != "null" {
		return x402.EncodeRawToken(compact(out.XPayment)), nil
	}
	return x402.EncodeRawToken(compact(raw)), nil
}

// failure turns a non-2xx wallet response into an actionable error.
func (s *WalletSigner) failure(status int, raw []byte) error {
	var we walletError
	if err := json.Unmarshal(raw, &we); err != nil {
		return fmt.Errorf("wallet service: status %d", status)
	}
	message := we.Message
	if message == "" {
		message = fmt.Sprintf("status %d", status)
	}
	if we.PaymentModelContext == nil {
		return fmt.Errorf("wallet service: %s", message)
	}

	instructions := we.PaymentModelContext.Instructions
	if we.Code == codeAgentNotFound {
		if m := agentIDPattern.FindStringSubmatch(instructions); m != nil {
			link := s.authorizeURL + "?agentId=" + m[1] + "&name=" + strings.ReplaceAll(url.QueryEscape(s.agentName), "+", "%20")
			return x402.Errorf(x402.KindPaymentCreation,
				"Payment failed: %s\n\nYour agent needs to be authorized in FluxA wallet.\n\nPlease open this link to authorize:\n%s\n\nAfter authorization, please retry this request.",
				message, link)
		}
	}
	return x402.Errorf(x402.KindPaymentCreation, "Payment failed: %s\n\n%s", message, instructions)
}

// resourceHost is the host the wallet shows the user: the URL hostname, or
// for bare mcp:// locators the first segment.
func resourceHost(resource string) string {
	if u, err := url.Parse(resource); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	rest := strings.TrimPrefix(resource, "mcp://")
	host, _, _ := strings.Cut(rest, "/")
	return host
}

func compact(raw []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
