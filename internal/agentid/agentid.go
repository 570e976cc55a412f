// Package agentid registers an agent with the identity service and obtains
// the JWT the custodial wallet accepts.
package agentid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultURL is the public agent identity service.
const DefaultURL = "https://agentid.fluxapay.xyz"

// Registration is the outcome of a successful registration.
type Registration struct {
	JWT     string `json:"jwt"`
	AgentID string `json:"agent_id"`
}

// Client talks to the identity service.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client. An empty baseURL uses DefaultURL.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type registerRequest struct {
	Email      string `json:"email"`
	AgentName  string `json:"agent_name"`
	ClientInfo string `json:"client_info"`
}

// Register registers the agent and returns its JWT and ID. A rejected
// registration reports the service's message.
func (c *Client) Register(ctx context.Context, email, agentName, clientInfo string) (*Registration, error) {
	if email == "" {
		return nil, errors.New("agent email is required")
	}
	body, err := json.Marshal(registerRequest{Email: email, AgentName: agentName, ClientInfo: clientInfo})
	if err != nil {
		return nil, fmt.Errorf("encoding registration: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/register", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registering agent: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading registration response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var failure struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &failure)
		if failure.Message == "" {
			failure.Message = "Registration failed"
		}
		return nil, errors.New(failure.Message)
	}

	var reg Registration
	if err := json.Unmarshal(raw, &reg); err != nil {
		return nil, fmt.Errorf("decoding registration response: %w", err)
	}
	if reg.JWT == "" {
		return nil, errors.New("registration response carried no jwt")
	}
	return &reg, nil
}
