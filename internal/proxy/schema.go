package proxy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/alecgard/paygate/internal/tenant"
	"github.com/alecgard/paygate/internal/x402"
)

// schemaCache holds compiled input schemas keyed by their JSON text, so a
// reloaded tenant configuration with a changed schema compiles afresh.
type schemaCache struct {
	m sync.Map // string -> *gojsonschema.Schema
}

func (c *schemaCache) get(raw json.RawMessage) (*gojsonschema.Schema, error) {
	key := string(raw)
	if s, ok := c.m.Load(key); ok {
		return s.(*gojsonschema.Schema), nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, err
	}
	c.m.Store(key, s)
	return s, nil
}

// validateArguments checks args against the tool's stored input schema.
// Tools without a stored schema accept any arguments; the upstream server
// remains the authority for them.
func (h *Handler) validateArguments(tool tenant.Tool, args json.RawMessage) *x402.Error {
	if len(tool.InputSchema) == 0 {
		return nil
	}
	schema, err := h.schemas.get(tool.InputSchema)
	if err != nil {
		slog.Warn("skipping argument validation, schema does not compile", "tool", tool.Name, "error", err)
		return nil
	}

	doc := args
	if len(doc) == 0 || string(doc) == "null" {
		doc = json.RawMessage("{}")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return x402.Wrap(x402.KindInvalidArguments, err, "Invalid arguments: %s", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return x402.Errorf(x402.KindInvalidArguments, "Invalid arguments: %s", strings.Join(msgs, "; "))
}
