package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alecgard/paygate/internal/facilitator"
	"github.com/alecgard/paygate/internal/network"
	"github.com/alecgard/paygate/internal/x402"
)

var networksCheck bool

var networksCmd = &cobra.Command{
	Use:   "networks",
	Short: "List the payment networks offered to clients",
	RunE:  runNetworks,
}

func init() {
	networksCmd.Flags().BoolVar(&networksCheck, "check", false, "ask the facilitator which networks it settles")
	rootCmd.AddCommand(networksCmd)
}

func runNetworks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := cfg.Networks()
	if err != nil {
		return err
	}

	var supported map[string]bool
	if networksCheck {
		fac, err := newFacilitator(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		resp, err := fac.Supported(ctx)
		if err != nil {
			return fmt.Errorf("checking facilitator %s: %w", fac.BaseURL(), err)
		}
		supported = settledNetworks(resp)
	}
	return printNetworks(os.Stdout, reg, supported)
}

// settledNetworks returns the networks the facilitator settles exact v1
// payments on.
func settledNetworks(resp *facilitator.SupportedResponse) map[string]bool {
	out := make(map[string]bool)
	for _, k := range resp.Kinds {
		if k.X402Version == x402.Version && k.Scheme == x402.SchemeExact {
			out[k.Network] = true
		}
	}
	return out
}

// printNetworks writes one row per network. A nil supported map omits the
// facilitator column.
func printNetworks(out io.Writer, reg *network.Registry, supported map[string]bool) error {
	ok := color.New(color.FgGreen).SprintFunc()
	missing := color.New(color.FgRed).SprintFunc()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := "NETWORK\tKIND\tCHAIN ID\tASSET\tDECIMALS\tTESTNET"
	if supported != nil {
		header += "\tFACILITATOR"
	}
	fmt.Fprintln(w, header)

	for _, n := range reg.Networks() {
		chain := "-"
		if n.ChainID != nil {
			chain = n.ChainID.String()
		}
		row := fmt.Sprintf("%s\t%s\t%s\t%s %s\t%d\t%t",
			n.ID, n.Kind, chain, n.Asset.Symbol, n.Asset.Address, n.Asset.Decimals, n.Testnet)
		if supported != nil {
			if supported[n.ID] {
				row += "\t" + ok("supported")
			} else {
				row += "\t" + missing("not supported")
			}
		}
		fmt.Fprintln(w, row)
	}
	return w.Flush()
}
