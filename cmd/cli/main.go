package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentguard/internal/cli/commands"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentguard-cli",
	Short: "AgentGuard CLI - operator tool for the agent safety monitor",
	Long: `agentguard-cli talks to a running AgentGuard daemon. It shows subject
status and metrics, active alerts and alert history, and tests rules.

Set AGENTGUARD_API_URL to point at the daemon (default http://localhost:8080).`,
	SilenceUsage: true,
}

func init() {
	// Add commands
	rootCmd.AddCommand(commands.NewLoginCommand())
	rootCmd.AddCommand(commands.NewSubjectCommand())
	rootCmd.AddCommand(commands.NewAlertCommand())
	rootCmd.AddCommand(commands.NewRuleCommand())
	rootCmd.AddCommand(commands.NewReportCommand())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
