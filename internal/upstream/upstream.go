// Package upstream manages MCP client sessions to tenants' tool servers.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ClientName and ClientVersion identify the proxy to upstream servers.
const (
	ClientName    = "paygate-proxy"
	ClientVersion = "1.0.0"
)

// Dialer opens sessions over streamable HTTP. The HTTP client is shared by
// every session it opens and is never the facilitator's client.
type Dialer struct {
	client *mcp.Client
	http   *http.Client
}

// NewDialer creates a dialer. A nil httpClient gets a fresh client with its
// own transport.
func NewDialer(httpClient *http.Client) *Dialer {
	return NewClientDialer(httpClient, &mcp.Implementation{Name: ClientName, Version: ClientVersion})
}

// NewClientDialer is NewDialer with a caller-chosen client identity.
func NewClientDialer(httpClient *http.Client, impl *mcp.Implementation) *Dialer {
	if httpClient == nil {
		httpClient = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	return &Dialer{
		client: mcp.NewClient(impl, nil),
		http:   httpClient,
	}
}

// Dial connects and completes the MCP initialize handshake.
func (d *Dialer) Dial(ctx context.Context, endpoint string) (*Session, error) {
	transport := &mcp.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: d.http,
	}
	cs, err := d.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to upstream %s: %w", endpoint, err)
	}
	return &Session{cs: cs, endpoint: endpoint}, nil
}

// Session is one live upstream connection. It is safe for concurrent use.
type Session struct {
	cs       *mcp.ClientSession
	endpoint string
}

// Endpoint returns the upstream URL the session was dialed with.
func (s *Session) Endpoint() string { return s.endpoint }

// ListTools returns every tool the upstream advertises, following cursors.
func (s *Session) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	var (
		tools  []*mcp.Tool
		cursor string
	)
	for {
		res, err := s.cs.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, fmt.Errorf("listing upstream tools: %w", err)
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			return tools, nil
		}
		cursor = res.NextCursor
	}
}

// CallTool forwards a tool call with the caller's raw arguments. A tool-level
// failure comes back as a result with IsError set, not as an error.
func (s *Session) CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}
	res, err := s.cs.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("calling upstream tool %s: %w", name, err)
	}
	return res, nil
}

// Call forwards params as given, _meta included.
func (s *Session) Call(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	res, err := s.cs.CallTool(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("calling tool %s: %w", params.Name, err)
	}
	return res, nil
}

// Close ends the session.
func (s *Session) Close() error {
	return s.cs.Close()
}

// IsTransport reports whether err means the connection itself is unusable,
// as opposed to the upstream rejecting one request.
func IsTransport(err error) bool {
	switch Classify(err) {
	case "connection_refused", "network", "dns", "closed":
		return true
	}
	return false
}

// Classify categorizes an upstream error for metrics and logs.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return "closed"
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Op == "dial" {
			return "connection_refused"
		}
		return "network"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return "network"
	}
	return "other"
}
