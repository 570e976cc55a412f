package api

import (
	"net/http"

	"github.com/alecgard/paygate/internal/network"
	"github.com/alecgard/paygate/internal/x402"
)

type manifest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     string   `json:"version"`
	MCPEndpoint string   `json:"mcp_endpoint"`
	X402Version int      `json:"x402_version"`
	Networks    []string `json:"networks"`
	Health      string   `json:"health"`
}

// wellKnownHandler serves /.well-known/paygate.json, describing where tenant
// endpoints live and which networks payments are accepted on.
func wellKnownHandler(version string, networks *network.Registry) http.HandlerFunc {
	m := manifest{
		Name:        "paygate",
		Description: "x402 payment-gated MCP proxy",
		Version:     version,
		MCPEndpoint: "/mcp/{tenantID}",
		X402Version: x402.Version,
		Networks:    []string{},
		Health:      "/health",
	}
	if networks != nil {
		m.Networks = networks.IDs()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m)
	}
}
