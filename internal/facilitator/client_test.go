package facilitator

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	x402http "github.com/coinbase/x402/go/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alecgard/paygate/internal/x402"
)

// --- Helpers ---

func testPayload() *x402.PaymentPayload {
	return &x402.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base",
		Payload:     json.RawMessage(`{"signature":"0xabc","authorization":{"from":"0xPayer","to":"0xPayTo","value":"1000"}}`),
	}
}

func testRequirement() x402.PaymentRequirement {
	return x402.PaymentRequirement{
		Scheme:            "exact",
		Network:           "base",
		MaxAmountRequired: "1000",
		PayTo:             "0xPayTo",
		Asset:             "0xAsset",
		MaxTimeoutSeconds: 300,
		Resource:          "https://proxy.example.com/mcp/t1",
		Extra:             map[string]any{"name": "USD Coin", "version": "2"},
	}
}

// wireRequest is the body a facilitator receives on /verify and /settle.
type wireRequest struct {
	X402Version         int                     `json:"x402Version"`
	PaymentPayload      x402.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirement `json:"paymentRequirements"`
}

type staticAuth map[string]string

func (a staticAuth) GetAuthHeaders(context.Context) (x402http.AuthHeaders, error) {
	return x402http.AuthHeaders{Verify: a, Settle: a, Supported: a}, nil
}

func jwtClaims(t *testing.T, header string) map[string]any {
	t.Helper()
	token := strings.TrimPrefix(header, "Bearer ")
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims map[string]any
	require.NoError(t, json.Unmarshal(raw, &claims))
	return claims
}

// --- Tests ---

func TestVerifyValid(t *testing.T) {
	var got wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verify", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"isValid":true,"payer":"0xFacilitatorPayer"}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", 5*time.Second, WithAuthProvider(staticAuth{"Authorization": "Bearer test"}))
	resp, err := c.Verify(context.Background(), testPayload(), testRequirement())
	require.NoError(t, err)

	assert.True(t, resp.IsValid)
	assert.Equal(t, "0xFacilitatorPayer", resp.Payer)
	assert.Equal(t, 1, got.X402Version)
	assert.Equal(t, "base", got.PaymentPayload.Network)
	assert.Equal(t, "1000", got.PaymentRequirements.MaxAmountRequired)
	assert.Equal(t, 300, got.PaymentRequirements.MaxTimeoutSeconds)
	assert.Equal(t, "USD Coin", got.PaymentRequirements.Extra["name"])
	assert.Equal(t, "0xPayer", got.PaymentPayload.Payer())
}

func TestVerifyRejectionIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"isValid":false,"invalidReason":"expired"}`))
	}))
	defer srv.Close()

	resp, err := New(srv.URL, time.Second).Verify(context.Background(), testPayload(), testRequirement())
	require.NoError(t, err)
	assert.False(t, resp.IsValid)
	assert.Equal(t, "expired", resp.InvalidReason)
	assert.Equal(t, "0xPayer", resp.Payer)
}

func TestVerifyRejectionWithOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"isValid":false}`))
	}))
	defer srv.Close()

	resp, err := New(srv.URL, time.Second).Verify(context.Background(), testPayload(), testRequirement())
	require.NoError(t, err)
	assert.False(t, resp.IsValid)
	assert.Equal(t, "unknown reason", resp.InvalidReason)
}

func TestVerifyServerErrorIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Verify(context.Background(), testPayload(), testRequirement())
	require.Error(t, err)

	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "verify", ce.Op)
}

func TestVerifyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, time.Second).Verify(context.Background(), testPayload(), testRequirement())
	var ce *CallError
	assert.True(t, errors.As(err, &ce))
}

func TestSettle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/settle", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"transaction":"0xtx"}`))
	}))
	defer srv.Close()

	resp, err := New(srv.URL, time.Second).Settle(context.Background(), testPayload(), testRequirement())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "0xtx", resp.Transaction)
	assert.Equal(t, "base", resp.Network)
	assert.Equal(t, "0xPayer", resp.Payer)

	receipt := resp.Receipt()
	assert.Equal(t, x402.SettlementReceipt{Success: true, Transaction: "0xtx", Network: "base", Payer: "0xPayer"}, receipt)
}

func TestSettleRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"errorReason":"insufficient_funds"}`))
	}))
	defer srv.Close()

	resp, err := New(srv.URL, time.Second).Settle(context.Background(), testPayload(), testRequirement())
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "insufficient_funds", resp.ErrorReason)
}

func TestSettleRejectionWithErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"errorReason":"invalid_transaction_state","transaction":"0xfailed","network":"base"}`))
	}))
	defer srv.Close()

	resp, err := New(srv.URL, time.Second).Settle(context.Background(), testPayload(), testRequirement())
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "invalid_transaction_state", resp.ErrorReason)
	assert.Equal(t, "0xfailed", resp.Transaction)
	assert.Equal(t, "0xPayer", resp.Payer)
}

func TestSettleServerErrorIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Settle(context.Background(), testPayload(), testRequirement())
	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "settle", ce.Op)
}

func TestDedicatedTransport(t *testing.T) {
	c := New("", time.Second)
	assert.Equal(t, DefaultURL, c.BaseURL())
	assert.NotSame(t, http.DefaultTransport, c.http.Transport)
	assert.NotSame(t, http.DefaultClient, c.http)
}

func TestRequestsUseConfiguredHTTPClient(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"isValid":true}`))
	}))
	defer srv.Close()

	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return http.DefaultTransport.RoundTrip(r)
	})}
	_, err := New(srv.URL, time.Second, WithHTTPClient(hc)).Verify(context.Background(), testPayload(), testRequirement())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestSupportedNetworkExtras(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/supported", r.URL.Path)
		_, _ = w.Write([]byte(`{"kinds":[
			{"x402Version":1,"scheme":"exact","network":"base"},
			{"x402Version":1,"scheme":"exact","network":"solana","extra":{"feePayer":"FeePayer111"}},
			{"x402Version":2,"scheme":"exact","network":"solana:5eyk","extra":{"feePayer":"Other"}}
		]}`))
	}))
	defer srv.Close()

	resp, err := New(srv.URL, time.Second).Supported(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Kinds, 3)

	extras := resp.NetworkExtras()
	require.Len(t, extras, 1)
	assert.Equal(t, "FeePayer111", extras["solana"]["feePayer"])
}

func TestSupportedErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Supported(context.Background())
	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "supported", ce.Op)
}

func TestCDPAuthSignsEachEndpoint(t *testing.T) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	secret := base64.StdEncoding.EncodeToString(key)

	var uris []any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := jwtClaims(t, r.Header.Get("Authorization"))
		assert.Equal(t, "key-id", claims["sub"])
		uris = append(uris, claims["uris"].([]any)...)
		assert.NotEmpty(t, r.Header.Get("Correlation-Context"))
		switch r.URL.Path {
		case "/x402/verify":
			_, _ = w.Write([]byte(`{"isValid":true}`))
		case "/x402/supported":
			_, _ = w.Write([]byte(`{"kinds":[]}`))
		}
	}))
	defer srv.Close()

	base := srv.URL + "/x402"
	auth, err := NewCDPAuth("key-id", secret, base)
	require.NoError(t, err)
	c := New(base, time.Second, WithAuthProvider(auth))

	_, err = c.Verify(context.Background(), testPayload(), testRequirement())
	require.NoError(t, err)
	_, err = c.Supported(context.Background())
	require.NoError(t, err)

	u, _ := url.Parse(srv.URL)
	assert.Equal(t, []any{"POST " + u.Host + "/x402/verify", "GET " + u.Host + "/x402/supported"}, uris)
}

func TestCDPAuthRejectsBadURL(t *testing.T) {
	_, err := NewCDPAuth("id", "secret", "not a url")
	assert.Error(t, err)
}
