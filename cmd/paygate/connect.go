package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/alecgard/paygate/internal/agentid"
	"github.com/alecgard/paygate/internal/network"
	"github.com/alecgard/paygate/internal/paymentclient"
	"github.com/alecgard/paygate/internal/upstream"
)

var connectURL string

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Serve a paygate endpoint to a local MCP client over stdio, paying for tool calls",
	Long: "connect opens a session to a paygate endpoint, re-exposes its tools on stdin/stdout and " +
		"answers payment requests with the configured signer. Settings come from the environment.",
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().StringVar(&connectURL, "url", "", "paygate endpoint, e.g. https://pay.example.com/mcp/<tenant>")
	_ = connectCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(connectCmd)
}

// connectEnv is the connect command's environment.
type connectEnv struct {
	Signer         string
	Network        string
	WalletURL      string
	AgentIDURL     string
	AgentEmail     string
	AgentName      string
	ClientInfo     string
	EVMPrivateKey  string
	SVMPrivateKey  string
	SolanaRPCURL   string
	AutoApproveMax string
}

func connectEnvFrom(getenv func(string) string) connectEnv {
	or := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}
	env := connectEnv{
		Signer:         or("PAYGATE_SIGNER", "custodial"),
		WalletURL:      or("FLUXA_WALLET_SERVICE_URL", paymentclient.DefaultWalletURL),
		AgentIDURL:     or("AGENT_ID_URL", agentid.DefaultURL),
		AgentEmail:     getenv("AGENT_EMAIL"),
		AgentName:      or("AGENT_NAME", "Claude Code - My Agent"),
		ClientInfo:     or("CLIENT_INFO", "FluxA Connect MCP Client"),
		EVMPrivateKey:  or("EVM_PRIVATE_KEY", getenv("PRIVATE_KEY")),
		SVMPrivateKey:  getenv("SVM_PRIVATE_KEY"),
		SolanaRPCURL:   getenv("SOLANA_RPC_URL"),
		AutoApproveMax: getenv("PAYGATE_AUTO_APPROVE_MAX"),
	}
	if env.Signer == "svm" {
		env.Network = or("SOLANA_NETWORK", "solana")
	} else {
		env.Network = or("EVM_NETWORK", "base")
	}
	return env
}

// registerFunc obtains an agent JWT for the custodial signer.
type registerFunc func(ctx context.Context, env connectEnv) (string, error)

func registerAgent(ctx context.Context, env connectEnv) (string, error) {
	reg, err := agentid.New(env.AgentIDURL).Register(ctx, env.AgentEmail, env.AgentName, env.ClientInfo)
	if err != nil {
		return "", fmt.Errorf("agent registration: %w", err)
	}
	slog.Info("agent registered", "agent_id", reg.AgentID)
	return reg.JWT, nil
}

// newSigner builds the signer env selects. Every failure here is a
// configuration error and ends the process.
func newSigner(ctx context.Context, env connectEnv, reg *network.Registry, register registerFunc) (paymentclient.Signer, error) {
	n, err := reg.Get(env.Network)
	if err != nil {
		return nil, err
	}

	switch env.Signer {
	case "custodial":
		if env.AgentEmail == "" {
			return nil, errors.New("AGENT_EMAIL is required for the custodial signer")
		}
		jwt, err := register(ctx, env)
		if err != nil {
			return nil, err
		}
		return paymentclient.NewWalletSigner(env.WalletURL, jwt, env.AgentName), nil

	case "evm":
		if n.Kind != network.KindEVM {
			return nil, fmt.Errorf("network %s is not an EVM network", n.ID)
		}
		if env.EVMPrivateKey == "" {
			return nil, errors.New("EVM_PRIVATE_KEY is required for the evm signer")
		}
		s, err := paymentclient.NewEVMSigner(env.EVMPrivateKey, reg)
		if err != nil {
			return nil, err
		}
		slog.Info("using local evm signer", "address", s.Address(), "network", n.ID)
		return s, nil

	case "svm":
		if n.Kind != network.KindSVM {
			return nil, fmt.Errorf("network %s is not a solana network", n.ID)
		}
		if env.SVMPrivateKey == "" {
			return nil, errors.New("SVM_PRIVATE_KEY is required for the svm signer")
		}
		var source paymentclient.BlockhashSource
		if env.SolanaRPCURL != "" {
			source = rpc.New(env.SolanaRPCURL)
		}
		s, err := paymentclient.NewSVMSigner(env.SVMPrivateKey, reg, source)
		if err != nil {
			return nil, err
		}
		slog.Info("using local solana signer", "address", s.Address(), "network", n.ID)
		return s, nil

	default:
		return nil, fmt.Errorf("unknown PAYGATE_SIGNER %q (want custodial, evm or svm)", env.Signer)
	}
}

func confirmFor(env connectEnv) (paymentclient.ConfirmFunc, error) {
	if env.AutoApproveMax == "" {
		return paymentclient.AutoApprove(env.Network), nil
	}
	limit, ok := new(big.Int).SetString(env.AutoApproveMax, 10)
	if !ok || limit.Sign() < 0 {
		return nil, fmt.Errorf("PAYGATE_AUTO_APPROVE_MAX %q is not a non-negative integer", env.AutoApproveMax)
	}
	return paymentclient.ApproveUpTo(env.Network, limit), nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	// stdout carries the MCP stream.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env := connectEnvFrom(os.Getenv)
	reg := network.Default()

	signer, err := newSigner(ctx, env, reg, registerAgent)
	if err != nil {
		return err
	}
	confirm, err := confirmFor(env)
	if err != nil {
		return err
	}

	dialer := upstream.NewClientDialer(nil, &mcp.Implementation{Name: "paygate-connect", Version: version})
	sess, err := dialer.Dial(ctx, connectURL)
	if err != nil {
		return err
	}
	defer sess.Close()

	tools, err := sess.ListTools(ctx)
	if err != nil {
		return err
	}
	slog.Info("connected", "url", connectURL, "tools", len(tools), "network", env.Network, "signer", env.Signer)

	client := paymentclient.New(paymentclient.CallerFunc(sess.Call), signer, env.Network)
	client.SetConfirm(confirm)

	server := newBridge(tools, client)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}

// newBridge serves tools locally, forwarding each call through caller with
// its arguments and _meta untouched.
func newBridge(tools []*mcp.Tool, caller paymentclient.Caller) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "paygate-connect", Version: version}, nil)
	for _, t := range tools {
		tool := *t
		// Paid and failed calls carry no structured content.
		tool.OutputSchema = nil
		if tool.InputSchema == nil {
			tool.InputSchema = map[string]any{"type": "object"}
		}
		server.AddTool(&tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.Params.Arguments
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			return caller.CallTool(ctx, &mcp.CallToolParams{
				Meta:      req.Params.Meta,
				Name:      req.Params.Name,
				Arguments: args,
			})
		})
	}
	return server
}
