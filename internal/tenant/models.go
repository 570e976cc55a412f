// Package tenant holds per-tenant proxy configuration: the upstream tool
// server, the recipient wallet and the priced tool list.
package tenant

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/alecgard/paygate/internal/network"
	"github.com/alecgard/paygate/internal/x402"
)

var (
	ErrNotFound           = errors.New("tenant not found")
	ErrUpstreamURLInvalid = errors.New("upstream url must be an absolute http or https url")
	ErrRecipientRequired  = errors.New("recipient wallet is required")
	ErrToolNameRequired   = errors.New("tool name is required")
	ErrDuplicateTool      = errors.New("duplicate tool name")
	ErrPriceTooSmall      = errors.New("price is below the smallest unit of an offered network")
	ErrSchemaInvalid      = errors.New("input schema must be a JSON object")
)

// Tool is the proxy's view of one upstream tool.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       x402.Price      `json:"price"`
	Enabled     bool            `json:"enabled"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Priced reports whether calls to the tool require payment.
func (t Tool) Priced() bool {
	return !t.Price.IsZero()
}

// Config is one tenant's proxy configuration. A loaded Config is treated as
// immutable; the cache hands the same pointer to concurrent readers.
type Config struct {
	ID          string `json:"id"`
	UpstreamURL string `json:"upstream_url"`
	Recipient   string `json:"recipient"`
	ServerName  string `json:"server_name"`
	Description string `json:"description"`
	Tools       []Tool `json:"tools"`
}

// Tool returns the enabled tool with the given name.
func (c *Config) Tool(name string) (Tool, bool) {
	for _, t := range c.Tools {
		if t.Name == name && t.Enabled {
			return t, true
		}
	}
	return Tool{}, false
}

// EnabledTools returns the enabled tools in configuration order.
func (c *Config) EnabledTools() []Tool {
	out := make([]Tool, 0, len(c.Tools))
	for _, t := range c.Tools {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks the config against the networks it will be offered on.
// A priced tool whose amount floors to zero on any offered network is
// rejected here, since the requirement builder will not.
func (c *Config) Validate(reg *network.Registry) error {
	u, err := url.Parse(c.UpstreamURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrUpstreamURLInvalid
	}
	if strings.TrimSpace(c.Recipient) == "" {
		return ErrRecipientRequired
	}

	seen := make(map[string]bool, len(c.Tools))
	for _, t := range c.Tools {
		if strings.TrimSpace(t.Name) == "" {
			return ErrToolNameRequired
		}
		if seen[t.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
		}
		seen[t.Name] = true

		if len(t.InputSchema) > 0 {
			var obj map[string]any
			if err := json.Unmarshal(t.InputSchema, &obj); err != nil {
				return fmt.Errorf("%w: tool %s", ErrSchemaInvalid, t.Name)
			}
		}
		if !t.Priced() {
			continue
		}
		for _, n := range reg.Networks() {
			if floor := n.MinUnit(); t.Price.Below(floor) {
				return fmt.Errorf("%w: tool %s on %s (minimum %s)", ErrPriceTooSmall, t.Name, n.ID, floor.FloatString(n.Asset.Decimals))
			}
		}
	}
	return nil
}
