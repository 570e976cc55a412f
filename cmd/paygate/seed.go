package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alecgard/paygate/internal/tenant"
	"github.com/alecgard/paygate/internal/x402"
)

var (
	seedUpstream  string
	seedRecipient string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a demo tenant with one free and one priced tool",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedUpstream, "upstream", "http://localhost:8000/mcp", "upstream MCP server of the demo tenant")
	seedCmd.Flags().StringVar(&seedRecipient, "recipient", "0x209693Bc6afc0C5328bA36FaF03C514EF312287C", "wallet that receives demo payments")
	rootCmd.AddCommand(seedCmd)
}

const demoTenantID = "demo"

func demoTenant(upstreamURL, recipient string) *tenant.Config {
	return &tenant.Config{
		ID:          demoTenantID,
		UpstreamURL: upstreamURL,
		Recipient:   recipient,
		ServerName:  "paygate-demo",
		Description: "Demo tenant with a free ping and a paid weather lookup.",
		Tools: []tenant.Tool{
			{
				Name:        "ping",
				Description: "A free health check tool",
				Enabled:     true,
			},
			{
				Name:        "get_weather",
				Description: "Get current weather for a city.",
				Price:       x402.MustParsePrice("0.001"),
				Enabled:     true,
				InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
			},
		},
	}
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	networks, err := cfg.Networks()
	if err != nil {
		return err
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// Check if seed has already run.
	if _, err := st.tenants.Get(ctx, demoTenantID); err == nil {
		slog.Info("demo tenant already exists, skipping seed")
		return nil
	} else if !errors.Is(err, tenant.ErrNotFound) {
		return fmt.Errorf("checking existing tenant: %w", err)
	}

	demo := demoTenant(seedUpstream, seedRecipient)
	if err := demo.Validate(networks); err != nil {
		return fmt.Errorf("demo tenant: %w", err)
	}
	if err := st.tenants.Create(ctx, demo); err != nil {
		return fmt.Errorf("creating demo tenant: %w", err)
	}
	slog.Info("created demo tenant", "tenant_id", demo.ID, "tools", len(demo.Tools))

	endpoint := cfg.BaseURL() + "/mcp/" + demo.ID
	fmt.Printf("\n=== Demo Data Seeded ===\n")
	fmt.Printf("Tenant:    %s\n", demo.ID)
	fmt.Printf("Upstream:  %s\n", demo.UpstreamURL)
	fmt.Printf("Endpoint:  %s\n", endpoint)
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  curl -X POST -H 'Content-Type: application/json' -d '{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"tools/list\"}' %s\n", endpoint)
	fmt.Printf("  AGENT_EMAIL=you@example.com paygate connect --url %s\n", endpoint)

	return nil
}
