package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const banner = `
╔══════════════════════════════════════╗
║     CoW Trader (Gnosis) v0.3         ║
║                                      ║
╚══════════════════════════════════════╝
`

var rootCmd = &cobra.Command{
	Use:   "cowtrader",
	Short: "Agent-driven CoW Protocol trading bot for a Gnosis Safe",
	Long: `cowtrader watches CoW Protocol settlements on Gnosis chain, keeps a ledger
of trades between the monitored tokens, and once per cooldown asks a language
model whether to swap the Safe's sell token. Approved trades are quoted,
submitted to the CoW order book and presigned through the Safe's trading module.

Running without a subcommand starts the bot and its REST API.`,
	SilenceUsage: true,
	RunE:         runBot,
}

func init() {
	rootCmd.AddCommand(runCmd, backfillCmd, metricsCmd, archiveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
