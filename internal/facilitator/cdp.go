package facilitator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	cdpjwt "github.com/coinbase/cdp-sdk/go/auth"
	x402http "github.com/coinbase/x402/go/http"
)

// CDPAuth signs each facilitator request with a short-lived CDP API key JWT.
type CDPAuth struct {
	keyID     string
	keySecret string
	host      string
	basePath  string
}

// NewCDPAuth creates an auth provider for the facilitator at baseURL.
func NewCDPAuth(keyID, keySecret, baseURL string) (*CDPAuth, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid facilitator url %q", baseURL)
	}
	return &CDPAuth{
		keyID:     keyID,
		keySecret: keySecret,
		host:      u.Host,
		basePath:  strings.TrimRight(u.Path, "/"),
	}, nil
}

// GetAuthHeaders returns the Authorization and Correlation-Context headers
// for each facilitator endpoint. Every JWT is bound to one method and path.
func (a *CDPAuth) GetAuthHeaders(_ context.Context) (x402http.AuthHeaders, error) {
	verify, err := a.header(http.MethodPost, "/verify")
	if err != nil {
		return x402http.AuthHeaders{}, err
	}
	settle, err := a.header(http.MethodPost, "/settle")
	if err != nil {
		return x402http.AuthHeaders{}, err
	}
	supported, err := a.header(http.MethodGet, "/supported")
	if err != nil {
		return x402http.AuthHeaders{}, err
	}
	return x402http.AuthHeaders{
		Verify:    verify,
		Settle:    settle,
		Supported: supported,
	}, nil
}

func (a *CDPAuth) header(method, endpoint string) (map[string]string, error) {
	jwt, err := cdpjwt.GenerateJWT(cdpjwt.JwtOptions{
		KeyID:         a.keyID,
		KeySecret:     a.keySecret,
		RequestMethod: method,
		RequestHost:   a.host,
		RequestPath:   a.basePath + endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("generating cdp jwt: %w", err)
	}
	return map[string]string{
		"Authorization":       "Bearer " + jwt,
		"Correlation-Context": correlationHeader(),
	}, nil
}

func correlationHeader() string {
	data := map[string]string{
		"sdk_language": "go",
		"source":       "paygate",
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, url.QueryEscape(data[k])))
	}
	return strings.Join(parts, ",")
}
