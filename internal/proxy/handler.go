// Package proxy serves one tenant's MCP endpoint: it answers the JSON-RPC
// methods an MCP client sends and runs priced tool calls through the x402
// payment pipeline before forwarding them upstream.
package proxy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/alecgard/paygate/internal/metering"
	"github.com/alecgard/paygate/internal/network"
	"github.com/alecgard/paygate/internal/tenant"
	"github.com/alecgard/paygate/internal/upstream"
	"github.com/alecgard/paygate/internal/x402"
)

// ProtocolVersion is the MCP protocol version announced on initialize.
const ProtocolVersion = "2024-11-05"

// DefaultServerName is announced when the tenant has no server name.
const DefaultServerName = "paygate-proxy"

// DefaultMaxRequestSize bounds inbound JSON-RPC bodies.
const DefaultMaxRequestSize = 1 << 20

// Upstream is the tenant's upstream tool server.
type Upstream interface {
	ListTools(ctx context.Context) ([]*mcp.Tool, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error)
}

// Facilitator verifies and settles payment tokens.
type Facilitator interface {
	Verify(ctx context.Context, p *x402.PaymentPayload, req x402.PaymentRequirement) (*x402.VerifyResponse, error)
	Settle(ctx context.Context, p *x402.PaymentPayload, req x402.PaymentRequirement) (*x402.SettleResponse, error)
}

// MeteringRecorder is the interface for recording usage events.
type MeteringRecorder interface {
	Record(ev metering.Event)
}

// MetricsRecorder is an optional interface for recording proxy-level metrics.
type MetricsRecorder interface {
	IncToolCall(tenantID, tool, outcome string)
	IncPayment(network, stage, result string)
	ObserveFacilitatorDuration(stage string, seconds float64)
	ObserveUpstreamDuration(tenantID, tool string, seconds float64)
	IncUpstreamError(errorType, tenantID string)
}

// Handler answers MCP requests for one tenant. The tenant configuration is
// read from the request context on every call, so a reloaded configuration
// takes effect without rebuilding the handler.
type Handler struct {
	upstream    Upstream
	facilitator Facilitator
	networks    *network.Registry
	resource    string

	collector        MeteringRecorder
	metrics          MetricsRecorder
	tracer           trace.Tracer
	networkExtra     map[string]map[string]any
	maxTimeout       int
	maxRequestSize   int64
	upstreamTimeout  time.Duration
	onTransportError func(error)

	toolsMu       sync.Mutex
	upstreamTools []*mcp.Tool

	schemas schemaCache
}

// NewHandler creates a handler. resource is the canonical URL of the tenant's
// endpoint and is placed in every payment requirement.
func NewHandler(up Upstream, fac Facilitator, networks *network.Registry, resource string) *Handler {
	return &Handler{
		upstream:       up,
		facilitator:    fac,
		networks:       networks,
		resource:       resource,
		tracer:         otel.Tracer("github.com/alecgard/paygate/internal/proxy"),
		maxTimeout:     x402.DefaultMaxTimeoutSeconds,
		maxRequestSize: DefaultMaxRequestSize,
	}
}

// SetCollector sets the usage event recorder.
func (h *Handler) SetCollector(c MeteringRecorder) {
	h.collector = c
}

// SetMetrics sets the optional metrics recorder.
func (h *Handler) SetMetrics(m MetricsRecorder) {
	h.metrics = m
}

// SetTracer replaces the global tracer.
func (h *Handler) SetTracer(t trace.Tracer) {
	h.tracer = t
}

// SetNetworkExtra sets per-network fields merged into requirement extras,
// as advertised by the facilitator.
func (h *Handler) SetNetworkExtra(extra map[string]map[string]any) {
	h.networkExtra = extra
}

func (h *Handler) SetMaxTimeoutSeconds(s int) {
	if s > 0 {
		h.maxTimeout = s
	}
}

func (h *Handler) SetMaxRequestSize(n int64) {
	if n > 0 {
		h.maxRequestSize = n
	}
}

// SetUpstreamTimeout bounds each upstream tool call.
func (h *Handler) SetUpstreamTimeout(d time.Duration) {
	h.upstreamTimeout = d
}

// SetTransportErrorHook registers fn to be called when the upstream session
// fails at the transport level.
func (h *Handler) SetTransportErrorHook(fn func(error)) {
	h.onTransportError = fn
}

// ServeHTTP handles one JSON-RPC message.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxRequestSize+1))
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, nil, codeParseError, "failed to read request body")
		return
	}
	if int64(len(body)) > h.maxRequestSize {
		writeRPCError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request body too large")
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPCError(w, http.StatusBadRequest, nil, codeParseError, "Parse error")
		return
	}

	cfg := tenant.FromContext(r.Context())
	if cfg == nil {
		writeRPCError(w, http.StatusInternalServerError, req.ID, codeServerError, "tenant configuration not loaded")
		return
	}

	if req.isNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		writeResult(w, req.ID, h.initialize(cfg))
	case "ping":
		writeResult(w, req.ID, struct{}{})
	case "tools/list":
		writeResult(w, req.ID, h.listTools(r.Context(), cfg))
	case "tools/call":
		var params callParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				writeRPCError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid tools/call params")
				return
			}
		}
		writeResult(w, req.ID, h.callTool(r.Context(), cfg, params))
	default:
		slog.Warn("unsupported method", "tenant_id", cfg.ID, "method", req.Method)
		writeRPCError(w, http.StatusInternalServerError, nil, codeServerError, "Unsupported method: "+req.Method)
	}
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      serverInfo     `json:"serverInfo"`
	Instructions    string         `json:"instructions,omitempty"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (h *Handler) initialize(cfg *tenant.Config) initializeResult {
	name := cfg.ServerName
	if name == "" {
		name = DefaultServerName
	}
	return initializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{"tools": map[string]any{}},
		ServerInfo:      serverInfo{Name: name, Version: "1.0.0"},
		Instructions:    cfg.Description,
	}
}

type listedTool struct {
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	InputSchema json.RawMessage       `json:"inputSchema"`
	Annotations *x402.ToolAnnotations `json:"annotations,omitempty"`
}

type listResult struct {
	Tools []listedTool `json:"tools"`
}

var emptySchema = json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`)

func (h *Handler) listTools(ctx context.Context, cfg *tenant.Config) listResult {
	upTools := h.cachedUpstreamTools(ctx, cfg.ID)

	enabled := cfg.EnabledTools()
	out := listResult{Tools: make([]listedTool, 0, len(enabled))}
	for _, t := range enabled {
		lt := listedTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: resolveSchema(t, upTools),
		}
		if t.Priced() {
			ann := x402.Annotate(t.Price, cfg.Recipient, h.networks)
			lt.Annotations = &ann
		}
		out.Tools = append(out.Tools, lt)
	}
	return out
}

// cachedUpstreamTools fetches the upstream tool list once. A failed fetch is
// not cached; the listing falls back to stored or empty schemas.
func (h *Handler) cachedUpstreamTools(ctx context.Context, tenantID string) []*mcp.Tool {
	h.toolsMu.Lock()
	defer h.toolsMu.Unlock()

	if h.upstreamTools != nil {
		return h.upstreamTools
	}
	tools, err := h.upstream.ListTools(ctx)
	if err != nil {
		slog.Warn("listing upstream tools", "tenant_id", tenantID, "error", err)
		h.transportFailed(err)
		return nil
	}
	if tools == nil {
		tools = []*mcp.Tool{}
	}
	h.upstreamTools = tools
	return tools
}

func resolveSchema(t tenant.Tool, upTools []*mcp.Tool) json.RawMessage {
	if len(t.InputSchema) > 0 {
		return t.InputSchema
	}
	for _, ut := range upTools {
		if ut.Name != t.Name || ut.InputSchema == nil {
			continue
		}
		data, err := json.Marshal(ut.InputSchema)
		if err == nil && string(data) != "null" {
			return data
		}
	}
	return emptySchema
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Meta      map[string]any  `json:"_meta,omitempty"`
}

func (h *Handler) callTool(ctx context.Context, cfg *tenant.Config, params callParams) *mcp.CallToolResult {
	out := h.run(ctx, cfg, params)
	label := params.Name
	if _, ok := cfg.Tool(label); !ok {
		label = unknownLabel
	}
	h.record(cfg.ID, label, out)
	return out.toolResult()
}

func (h *Handler) transportFailed(err error) {
	if h.onTransportError != nil && upstream.IsTransport(err) {
		h.onTransportError(err)
	}
}
