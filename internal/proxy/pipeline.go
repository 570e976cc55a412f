package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alecgard/paygate/internal/metering"
	"github.com/alecgard/paygate/internal/tenant"
	"github.com/alecgard/paygate/internal/upstream"
	"github.com/alecgard/paygate/internal/x402"
)

// outcome is the terminal state of one tool call. Exactly one of result and
// err is set; receipt is set whenever settlement succeeded.
type outcome struct {
	result  *mcp.CallToolResult
	err     *x402.Error
	accepts []x402.PaymentRequirement
	receipt *x402.SettlementReceipt

	paid    bool
	network string
	amount  string
	latency time.Duration
}

func (o *outcome) kind() string {
	if o.err != nil {
		return string(o.err.Kind)
	}
	if o.result != nil && o.result.IsError {
		return "tool_error"
	}
	return metering.OutcomeOK
}

// toolResult converts the outcome into the MCP result returned to the caller.
func (o *outcome) toolResult() *mcp.CallToolResult {
	res := o.result
	if o.err != nil {
		res = &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: o.err.Message}},
			Meta: mcp.Meta{
				x402.MetaError: x402.PaymentRequired{
					X402Version: x402.Version,
					Error:       o.err.Message,
					Kind:        o.err.Kind,
					Accepts:     o.accepts,
				},
			},
		}
	}
	if res == nil {
		res = &mcp.CallToolResult{}
	}
	if res.Content == nil {
		res.Content = []mcp.Content{}
	}
	if o.receipt != nil {
		if res.Meta == nil {
			res.Meta = mcp.Meta{}
		}
		res.Meta[x402.MetaSettlement] = *o.receipt
	}
	return res
}

// run takes one tool call through lookup, argument validation and, for
// priced tools, decode, match, verify, settle and forward. Each checkpoint
// returns early; settlement always precedes the forward.
func (h *Handler) run(ctx context.Context, cfg *tenant.Config, p callParams) *outcome {
	tool, ok := cfg.Tool(p.Name)
	if !ok {
		return &outcome{err: x402.Errorf(x402.KindToolNotFound, "Tool not found: %s", p.Name)}
	}

	if err := h.validateArguments(tool, p.Arguments); err != nil {
		return &outcome{err: err}
	}

	if !tool.Priced() {
		return h.forward(ctx, cfg.ID, tool.Name, p.Arguments, &outcome{}, x402.KindUpstream)
	}

	accepts := x402.Accepts(x402.Offer{
		Price:             tool.Price,
		Recipient:         cfg.Recipient,
		Resource:          h.resource,
		Description:       tool.Description,
		MaxTimeoutSeconds: h.maxTimeout,
		NetworkExtra:      h.networkExtra,
	}, h.networks)

	raw, present := paymentToken(p.Meta)
	if !present {
		return &outcome{
			err:     x402.Errorf(x402.KindPaymentRequired, "Payment required"),
			accepts: accepts,
		}
	}

	payload, err := h.decode(ctx, raw)
	if err != nil {
		return &outcome{err: err, accepts: accepts}
	}

	req, ok := x402.Match(accepts, payload.Network)
	if !ok {
		h.incPayment(unknownLabel, "match", "unsupported")
		return &outcome{
			err:     x402.Errorf(x402.KindUnsupportedNetwork, "Unsupported payment network: %s", payload.Network),
			accepts: accepts,
		}
	}

	if err := h.verify(ctx, payload, req); err != nil {
		return &outcome{err: err, accepts: accepts, network: req.Network}
	}

	receipt, err := h.settle(ctx, payload, req)
	if err != nil {
		return &outcome{err: err, accepts: accepts, network: req.Network}
	}

	paid := &outcome{
		receipt: receipt,
		paid:    true,
		network: req.Network,
		amount:  req.MaxAmountRequired,
	}
	return h.forward(ctx, cfg.ID, tool.Name, p.Arguments, paid, x402.KindUpstreamAfterSettlement)
}

// paymentToken extracts the token from _meta. Clients send either the base64
// string or the decoded payload object.
func paymentToken(meta map[string]any) (string, bool) {
	v, ok := meta[x402.MetaPayment]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, t != ""
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return "", true
		}
		return x402.EncodeRawToken(data), true
	}
}

func (h *Handler) decode(ctx context.Context, raw string) (*x402.PaymentPayload, *x402.Error) {
	_, span := h.tracer.Start(ctx, "x402.decode")
	defer span.End()

	payload, err := x402.DecodeToken(raw)
	if err != nil {
		h.incPayment("", "decode", "error")
		endSpan(span, err)
		return nil, x402.Wrap(x402.KindPaymentDecode, err, "Invalid payment token: %s", err)
	}
	span.SetAttributes(attribute.String("x402.network", payload.Network))
	return payload, nil
}

func (h *Handler) verify(ctx context.Context, p *x402.PaymentPayload, req x402.PaymentRequirement) *x402.Error {
	ctx, span := h.tracer.Start(ctx, "x402.verify", trace.WithAttributes(
		attribute.String("x402.network", req.Network),
		attribute.String("x402.amount", req.MaxAmountRequired),
	))
	defer span.End()

	start := time.Now()
	resp, err := h.facilitator.Verify(ctx, p, req)
	h.observeFacilitator("verify", start)

	if err != nil {
		h.incPayment(req.Network, "verify", "error")
		endSpan(span, err)
		slog.Error("facilitator verify failed", "network", req.Network, "error", err)
		return x402.Wrap(x402.KindTransport, err, "Payment processing error: %s", err)
	}
	if !resp.IsValid {
		h.incPayment(req.Network, "verify", "rejected")
		xe := x402.Errorf(x402.KindVerificationFailed, "Payment verification failed: %s", reason(resp.InvalidReason))
		endSpan(span, xe)
		return xe
	}
	h.incPayment(req.Network, "verify", "ok")
	return nil
}

func (h *Handler) settle(ctx context.Context, p *x402.PaymentPayload, req x402.PaymentRequirement) (*x402.SettlementReceipt, *x402.Error) {
	ctx, span := h.tracer.Start(ctx, "x402.settle", trace.WithAttributes(
		attribute.String("x402.network", req.Network),
		attribute.String("x402.amount", req.MaxAmountRequired),
	))
	defer span.End()

	start := time.Now()
	resp, err := h.facilitator.Settle(ctx, p, req)
	h.observeFacilitator("settle", start)

	if err != nil {
		h.incPayment(req.Network, "settle", "error")
		endSpan(span, err)
		slog.Error("facilitator settle failed", "network", req.Network, "error", err)
		return nil, x402.Wrap(x402.KindTransport, err, "Payment settlement error: %s", err)
	}
	if !resp.Success {
		h.incPayment(req.Network, "settle", "rejected")
		xe := x402.Errorf(x402.KindSettlementFailed, "Payment settlement failed: %s", reason(resp.ErrorReason))
		endSpan(span, xe)
		return nil, xe
	}
	h.incPayment(req.Network, "settle", "ok")

	receipt := resp.Receipt()
	if receipt.Network == "" {
		receipt.Network = req.Network
	}
	if receipt.Payer == "" {
		receipt.Payer = p.Payer()
	}
	span.SetAttributes(attribute.String("x402.transaction", receipt.Transaction))
	return &receipt, nil
}

// forward calls the upstream tool and completes o. failKind tags an upstream
// failure; after settlement it marks that the payment is already final.
func (h *Handler) forward(ctx context.Context, tenantID, name string, args json.RawMessage, o *outcome, failKind x402.ErrorKind) *outcome {
	ctx, span := h.tracer.Start(ctx, "upstream.call_tool", trace.WithAttributes(
		attribute.String("mcp.tool", name),
		attribute.String("tenant.id", tenantID),
	))
	defer span.End()

	if h.upstreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.upstreamTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := h.upstream.CallTool(ctx, name, args)
	o.latency = time.Since(start)
	if h.metrics != nil {
		h.metrics.ObserveUpstreamDuration(tenantID, name, o.latency.Seconds())
	}

	if err != nil {
		errType := upstream.Classify(err)
		if h.metrics != nil {
			h.metrics.IncUpstreamError(errType, tenantID)
		}
		endSpan(span, err)
		slog.Error("upstream call failed", "tenant_id", tenantID, "tool", name, "error_type", errType, "error", err)
		h.transportFailed(err)
		o.err = x402.Wrap(failKind, err, "Upstream error: %s", err)
		return o
	}
	o.result = res
	return o
}

// unknownLabel stands in for caller-supplied tool and network names that are
// not configured, keeping metric label sets bounded.
const unknownLabel = "unknown"

func (h *Handler) record(tenantID, tool string, o *outcome) {
	kind := o.kind()
	if h.metrics != nil {
		h.metrics.IncToolCall(tenantID, tool, kind)
	}
	if h.collector == nil {
		return
	}
	h.collector.Record(metering.Event{
		TenantID:  tenantID,
		Tool:      tool,
		Timestamp: time.Now().UTC(),
		Outcome:   kind,
		Paid:      o.paid,
		Network:   o.network,
		Amount:    o.amount,
		LatencyMs: o.latency.Milliseconds(),
	})
}

func (h *Handler) incPayment(network, stage, result string) {
	if h.metrics != nil {
		h.metrics.IncPayment(network, stage, result)
	}
}

func (h *Handler) observeFacilitator(stage string, start time.Time) {
	if h.metrics != nil {
		h.metrics.ObserveFacilitatorDuration(stage, time.Since(start).Seconds())
	}
}

func endSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func reason(r string) string {
	if r == "" {
		return "unknown reason"
	}
	return r
}
