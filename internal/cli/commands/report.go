package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/agentguard/internal/api/client"
	"github.com/spf13/cobra"
)

func NewReportCommand() *cobra.Command {
	var (
		from   string
		to     string
		output string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize alert history",
		RunE: func(cmd *cobra.Command, args []string) error {
			end := time.Now().UTC()
			start := end.Add(-24 * time.Hour)
			if from != "" {
				t, err := time.Parse(time.RFC3339, from)
				if err != nil {
					return fmt.Errorf("invalid from time: %w", err)
				}
				start = t
			}
			if to != "" {
				t, err := time.Parse(time.RFC3339, to)
				if err != nil {
					return fmt.Errorf("invalid to time: %w", err)
				}
				end = t
			}

			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			data, err := c.GetReport(cmd.Context(), start, end)
			if err != nil {
				return fmt.Errorf("failed to generate report: %w", err)
			}

			if output != "" {
				body, err := json.MarshalIndent(data, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(output, body, 0644); err != nil {
					return fmt.Errorf("failed to write report: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Report exported to %s\n", output)
				return nil
			}

			out := cmd.OutOrStdout()
			s := data.AlertSummary
			fmt.Fprintf(out, "Alert summary %s to %s\n", data.StartTime.Format(time.RFC3339), data.EndTime.Format(time.RFC3339))
			fmt.Fprintf(out, "Events: %d (%d fired, %d re-notified)\n", s.TotalEvents, s.FiredEvents, s.RenotifyEvents)
			fmt.Fprintf(out, "Critical: %d  Warning: %d  Info: %d\n\n", s.CriticalAlerts, s.WarningAlerts, s.InfoAlerts)

			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "RULE\tLEVEL\tEVENTS\tSUBJECTS")
			for _, r := range s.TopRules {
				fmt.Fprintf(w, "%s\t%s\t%d\t%v\n", r.RuleName, r.Level, r.AlertCount, r.TopSubjects)
			}
			w.Flush()

			fmt.Fprintln(out)
			w = tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "SUBJECT\tEVENTS\tCRITICAL\tLAST EVENT")
			for _, sub := range data.TopSubjects {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", sub.Subject, sub.AlertCount, sub.CriticalCount, formatTime(sub.LastEvent))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Start time (RFC3339 format, default 24h ago)")
	cmd.Flags().StringVar(&to, "to", "", "End time (RFC3339 format, default now)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the report as JSON to this file")

	return cmd
}
