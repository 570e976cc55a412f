package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "paygate",
	Short: "paygate: x402 payment gateway for MCP tool servers",
	Long: "paygate sits in front of MCP tool servers and charges per tool call with x402 payments, " +
		"verifying and settling each payment through a facilitator before forwarding the call upstream.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults and environment)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
