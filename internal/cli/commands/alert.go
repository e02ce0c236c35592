package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/agentguard/internal/api/client"
	"github.com/agentguard/internal/models"
	"github.com/spf13/cobra"
)

func NewAlertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "alert",
		Short:   "Alert commands",
		Aliases: []string{"alerts", "a"},
	}

	// Add subcommands
	cmd.AddCommand(newAlertActiveCommand())
	cmd.AddCommand(newAlertHistoryCommand())

	return cmd
}

func newAlertActiveCommand() *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:     "active",
		Short:   "List active alerts",
		Aliases: []string{"ls", "list"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			alerts, err := c.ListActiveAlerts(cmd.Context(), subject)
			if err != nil {
				return fmt.Errorf("failed to list alerts: %w", err)
			}

			if len(alerts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No active alerts")
				return nil
			}
			return printAlerts(cmd.OutOrStdout(), alerts)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Only show alerts for this subject")
	return cmd
}

func newAlertHistoryCommand() *cobra.Command {
	var query client.HistoryQuery

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show emitted alert events",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			events, err := c.ListAlertHistory(cmd.Context(), query)
			if err != nil {
				return fmt.Errorf("failed to list alert history: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "TIME\tKIND\tLEVEL\tSUBJECT\tRULE\tOBSERVED\tTHRESHOLD\tCOUNT")

			for _, e := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s %s\t%d\n",
					e.EmittedAt.Format(time.RFC3339),
					e.Kind,
					e.Level,
					e.Subject,
					e.RuleName,
					e.Observed.String(),
					e.Operator,
					e.Threshold.String(),
					e.OccurrenceCount,
				)
			}

			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&query.Subject, "subject", "", "Filter by subject")
	cmd.Flags().StringVar(&query.Rule, "rule", "", "Filter by rule name")
	cmd.Flags().StringVar(&query.Level, "level", "", "Filter by alert level (info/warning/critical)")
	cmd.Flags().StringVar(&query.Since, "since", "", "Only events after this RFC3339 time or duration ago (e.g. 24h)")
	cmd.Flags().IntVar(&query.Limit, "limit", 0, "Limit the number of records")

	return cmd
}

func printAlerts(out io.Writer, alerts []models.Alert) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tSUBJECT\tRULE\tMETRIC\tOBSERVED\tTHRESHOLD\tCOUNT\tFIRST SEEN\tLAST SEEN")

	for _, a := range alerts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s %s\t%d\t%s\t%s\n",
			a.Level,
			a.Subject,
			a.RuleName,
			a.Metric,
			a.Observed.String(),
			a.Operator,
			a.Threshold.String(),
			a.OccurrenceCount,
			a.FirstSeen.Format(time.RFC3339),
			a.LastSeen.Format(time.RFC3339),
		)
	}

	return w.Flush()
}
