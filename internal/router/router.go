// Package router dispatches /mcp/{tenantID} requests to a per-tenant proxy
// handler, loading the tenant configuration and reusing one upstream session
// per tenant.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/alecgard/paygate/internal/network"
	"github.com/alecgard/paygate/internal/proxy"
	"github.com/alecgard/paygate/internal/tenant"
	"github.com/alecgard/paygate/internal/upstream"
)

// TenantLoader resolves a tenant configuration, normally through tenant.Cache.
type TenantLoader interface {
	Get(ctx context.Context, id string) (*tenant.Config, error)
}

// Conn is an open upstream session.
type Conn interface {
	proxy.Upstream
	Close() error
}

// Connector opens an upstream session to endpoint.
type Connector func(ctx context.Context, endpoint string) (Conn, error)

// DialerConnector adapts an upstream.Dialer.
func DialerConnector(d *upstream.Dialer) Connector {
	return func(ctx context.Context, endpoint string) (Conn, error) {
		s, err := d.Dial(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// MetricsRecorder is an optional interface for recording router metrics.
type MetricsRecorder interface {
	IncTenantLoad(result string)
	IncUpstreamConnect(result string)
	SetUpstreamSessions(n int)
}

// entry is a tenant's cached session and the handler bound to it.
type entry struct {
	endpoint string
	conn     Conn
	handler  *proxy.Handler
}

// Router serves every tenant's MCP endpoint.
type Router struct {
	tenants     TenantLoader
	connect     Connector
	facilitator proxy.Facilitator
	networks    *network.Registry
	publicURL   string

	configure func(h *proxy.Handler)
	metrics   MetricsRecorder

	entries  sync.Map // tenant ID -> *entry
	sessions atomic.Int64
}

// New creates a Router. publicURL is the externally visible base URL used to
// build each tenant's resource identifier.
func New(tenants TenantLoader, connect Connector, fac proxy.Facilitator, networks *network.Registry, publicURL string) *Router {
	return &Router{
		tenants:     tenants,
		connect:     connect,
		facilitator: fac,
		networks:    networks,
		publicURL:   strings.TrimRight(publicURL, "/"),
	}
}

// SetHandlerOptions registers fn to be applied to every new tenant handler,
// e.g. to attach metrics and the metering collector.
func (rt *Router) SetHandlerOptions(fn func(h *proxy.Handler)) {
	rt.configure = fn
}

// SetMetrics sets the optional metrics recorder.
func (rt *Router) SetMetrics(m MetricsRecorder) {
	rt.metrics = m
}

// Resource returns the canonical URL of a tenant's endpoint.
func (rt *Router) Resource(tenantID string) string {
	return rt.publicURL + "/mcp/" + tenantID
}

// ServeHTTP routes one request. The tenant ID comes from the chi URL param.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenantID")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Config ID required")
		return
	}

	cfg, err := rt.tenants.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			rt.incTenantLoad("not_found")
			writeError(w, http.StatusNotFound, "Configuration not found: "+id)
			return
		}
		rt.incTenantLoad("error")
		slog.Error("loading tenant", "tenant_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load configuration")
		return
	}
	rt.incTenantLoad("ok")

	e, err := rt.entry(r.Context(), cfg)
	if err != nil {
		slog.Error("connecting to upstream", "tenant_id", id, "upstream", cfg.UpstreamURL, "error", err)
		writeError(w, http.StatusBadGateway, "Failed to connect to upstream")
		return
	}

	req := r.Clone(tenant.NewContext(r.Context(), cfg))
	req.URL.Path = strings.TrimPrefix(req.URL.Path, "/mcp/"+id)
	if req.URL.Path == "" {
		req.URL.Path = "/"
	}
	req.URL.RawPath = ""
	e.handler.ServeHTTP(w, req)
}

// entry returns the tenant's cached session and handler, connecting on first
// use or when the configured upstream changed. Concurrent first requests may
// both connect; the loser closes its session and uses the winner's.
func (rt *Router) entry(ctx context.Context, cfg *tenant.Config) (*entry, error) {
	if v, ok := rt.entries.Load(cfg.ID); ok {
		e := v.(*entry)
		if e.endpoint == cfg.UpstreamURL {
			return e, nil
		}
		slog.Info("upstream changed, reconnecting", "tenant_id", cfg.ID, "upstream", cfg.UpstreamURL)
		rt.invalidate(cfg.ID, e)
	}

	// The session outlives the request that opened it.
	conn, err := rt.connect(context.WithoutCancel(ctx), cfg.UpstreamURL)
	if err != nil {
		rt.incConnect("error")
		return nil, err
	}
	rt.incConnect("ok")

	e := &entry{endpoint: cfg.UpstreamURL, conn: conn}
	e.handler = rt.newHandler(cfg.ID, e)

	actual, loaded := rt.entries.LoadOrStore(cfg.ID, e)
	if loaded {
		_ = conn.Close()
		return actual.(*entry), nil
	}
	rt.setSessions(rt.sessions.Add(1))
	slog.Info("upstream session opened", "tenant_id", cfg.ID, "upstream", cfg.UpstreamURL)
	return e, nil
}

func (rt *Router) newHandler(tenantID string, e *entry) *proxy.Handler {
	h := proxy.NewHandler(e.conn, rt.facilitator, rt.networks, rt.Resource(tenantID))
	if rt.configure != nil {
		rt.configure(h)
	}
	h.SetTransportErrorHook(func(err error) {
		slog.Warn("upstream session broken, dropping", "tenant_id", tenantID, "error", err)
		rt.invalidate(tenantID, e)
	})
	return h
}

// invalidate drops e if it is still the tenant's current entry.
func (rt *Router) invalidate(tenantID string, e *entry) {
	if rt.entries.CompareAndDelete(tenantID, e) {
		_ = e.conn.Close()
		rt.setSessions(rt.sessions.Add(-1))
	}
}

// Sessions returns the number of open upstream sessions.
func (rt *Router) Sessions() int {
	return int(rt.sessions.Load())
}

// Close ends every upstream session.
func (rt *Router) Close() error {
	var errs []error
	rt.entries.Range(func(key, v any) bool {
		e := v.(*entry)
		if rt.entries.CompareAndDelete(key, e) {
			if err := e.conn.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing session for %v: %w", key, err))
			}
			rt.setSessions(rt.sessions.Add(-1))
		}
		return true
	})
	return errors.Join(errs...)
}

func (rt *Router) incTenantLoad(result string) {
	if rt.metrics != nil {
		rt.metrics.IncTenantLoad(result)
	}
}

func (rt *Router) incConnect(result string) {
	if rt.metrics != nil {
		rt.metrics.IncUpstreamConnect(result)
	}
}

func (rt *Router) setSessions(n int64) {
	if rt.metrics != nil {
		rt.metrics.SetUpstreamSessions(int(n))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
