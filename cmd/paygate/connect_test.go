package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/alecgard/paygate/internal/network"
	"github.com/alecgard/paygate/internal/paymentclient"
)

// --- Fakes ---

type recordingCaller struct {
	got *mcp.CallToolParams
}

func (c *recordingCaller) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	c.got = params
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "forwarded " + params.Name}}}, nil
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func noRegister(t *testing.T) registerFunc {
	return func(context.Context, connectEnv) (string, error) {
		t.Fatal("registration should not run")
		return "", nil
	}
}

// Hardhat's first development account.
const testEVMKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// --- Tests ---

func TestConnectEnvDefaults(t *testing.T) {
	env := connectEnvFrom(envMap(nil))

	if env.Signer != "custodial" || env.Network != "base" {
		t.Errorf("unexpected signer/network %s/%s", env.Signer, env.Network)
	}
	if env.WalletURL != paymentclient.DefaultWalletURL {
		t.Errorf("unexpected wallet url %s", env.WalletURL)
	}
	if env.AgentName != "Claude Code - My Agent" || env.ClientInfo != "FluxA Connect MCP Client" {
		t.Errorf("unexpected agent identity %q %q", env.AgentName, env.ClientInfo)
	}
}

func TestConnectEnvSolanaDefaultNetwork(t *testing.T) {
	env := connectEnvFrom(envMap(map[string]string{"PAYGATE_SIGNER": "svm", "EVM_NETWORK": "base-sepolia"}))
	if env.Network != "solana" {
		t.Errorf("expected solana, got %s", env.Network)
	}
}

func TestNewSignerCustodial(t *testing.T) {
	env := connectEnvFrom(envMap(map[string]string{"AGENT_EMAIL": "dev@example.com"}))
	var registered bool
	register := func(_ context.Context, e connectEnv) (string, error) {
		registered = true
		if e.AgentEmail != "dev@example.com" {
			t.Errorf("unexpected email %s", e.AgentEmail)
		}
		return "jwt", nil
	}

	s, err := newSigner(context.Background(), env, network.Default(), register)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*paymentclient.WalletSigner); !ok {
		t.Errorf("expected wallet signer, got %T", s)
	}
	if !registered {
		t.Error("expected the agent to be registered")
	}
}

func TestNewSignerCustodialRegistrationFails(t *testing.T) {
	env := connectEnvFrom(envMap(map[string]string{"AGENT_EMAIL": "dev@example.com"}))
	register := func(context.Context, connectEnv) (string, error) {
		return "", errors.New("Registration failed")
	}
	if _, err := newSigner(context.Background(), env, network.Default(), register); err == nil {
		t.Fatal("expected registration error")
	}
}

func TestNewSignerLocalKeys(t *testing.T) {
	svmKey := solana.NewWallet().PrivateKey.String()

	tests := []struct {
		name     string
		env      map[string]string
		wantType string
	}{
		{"evm", map[string]string{"PAYGATE_SIGNER": "evm", "EVM_PRIVATE_KEY": testEVMKey}, "*paymentclient.EVMSigner"},
		{"evm legacy key var", map[string]string{"PAYGATE_SIGNER": "evm", "PRIVATE_KEY": testEVMKey}, "*paymentclient.EVMSigner"},
		{"svm", map[string]string{"PAYGATE_SIGNER": "svm", "SVM_PRIVATE_KEY": svmKey, "SOLANA_NETWORK": "solana-devnet"}, "*paymentclient.SVMSigner"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := newSigner(context.Background(), connectEnvFrom(envMap(tt.env)), network.Default(), noRegister(t))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var got string
			switch s.(type) {
			case *paymentclient.EVMSigner:
				got = "*paymentclient.EVMSigner"
			case *paymentclient.SVMSigner:
				got = "*paymentclient.SVMSigner"
			}
			if got != tt.wantType {
				t.Errorf("expected %s, got %T", tt.wantType, s)
			}
		})
	}
}

func TestNewSignerConfigurationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"custodial without email", map[string]string{}, "AGENT_EMAIL"},
		{"unknown network", map[string]string{"EVM_NETWORK": "fantom", "AGENT_EMAIL": "a@b.c"}, "fantom"},
		{"evm without key", map[string]string{"PAYGATE_SIGNER": "evm"}, "EVM_PRIVATE_KEY"},
		{"evm on solana", map[string]string{"PAYGATE_SIGNER": "evm", "EVM_NETWORK": "solana", "EVM_PRIVATE_KEY": testEVMKey}, "not an EVM network"},
		{"svm without key", map[string]string{"PAYGATE_SIGNER": "svm"}, "SVM_PRIVATE_KEY"},
		{"svm on base", map[string]string{"PAYGATE_SIGNER": "svm", "SOLANA_NETWORK": "base"}, "not a solana network"},
		{"unknown signer", map[string]string{"PAYGATE_SIGNER": "ledger"}, "unknown PAYGATE_SIGNER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newSigner(context.Background(), connectEnvFrom(envMap(tt.env)), network.Default(), noRegister(t))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfirmFor(t *testing.T) {
	if _, err := confirmFor(connectEnv{Network: "base"}); err != nil {
		t.Errorf("empty limit should auto-approve: %v", err)
	}
	if _, err := confirmFor(connectEnv{Network: "base", AutoApproveMax: "10000"}); err != nil {
		t.Errorf("numeric limit should be accepted: %v", err)
	}
	for _, bad := range []string{"ten", "-1", "0.5"} {
		if _, err := confirmFor(connectEnv{Network: "base", AutoApproveMax: bad}); err == nil {
			t.Errorf("expected error for limit %q", bad)
		}
	}
}

func TestBridgeForwardsCalls(t *testing.T) {
	ctx := context.Background()
	caller := &recordingCaller{}
	server := newBridge([]*mcp.Tool{
		{Name: "weather", Description: "Paid forecast", InputSchema: map[string]any{"type": "object"}},
		{Name: "ping"},
	}, caller)

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	defer ss.Close()

	cs, err := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "0"}, nil).Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer cs.Close()

	list, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(list.Tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(list.Tools))
	}

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Meta:      mcp.Meta{"x402/payment": "tok"},
		Name:      "weather",
		Arguments: map[string]any{"city": "Lisbon"},
	})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if text, ok := res.Content[0].(*mcp.TextContent); !ok || text.Text != "forwarded weather" {
		t.Errorf("unexpected result %+v", res.Content)
	}
	if caller.got == nil {
		t.Fatal("call was not forwarded")
	}
	if caller.got.Meta["x402/payment"] != "tok" {
		t.Errorf("expected _meta to be forwarded, got %v", caller.got.Meta)
	}
	raw, _ := json.Marshal(caller.got.Arguments)
	if string(raw) != `{"city":"Lisbon"}` {
		t.Errorf("unexpected arguments %s", raw)
	}
}
