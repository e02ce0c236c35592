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

func NewSubjectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subject",
		Short:   "Monitored subject commands",
		Aliases: []string{"subjects", "s"},
	}

	// Add subcommands
	cmd.AddCommand(newSubjectListCommand())
	cmd.AddCommand(newSubjectShowCommand())
	cmd.AddCommand(newSubjectPollCommand())

	return cmd
}

func newSubjectListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List monitored subjects",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			subjects, err := c.ListSubjects(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list subjects: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "SUBJECT\tPROVIDER\tLAST POLL\tFAILURES\tACTIVE ALERTS\tNEXT POLL")

			for _, s := range subjects {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					s.Subject,
					s.Provider,
					formatTime(s.LastPoll),
					s.ConsecutiveFailures,
					len(s.ActiveAlerts),
					formatTime(s.NextPoll),
				)
			}

			return w.Flush()
		},
	}

	return cmd
}

func newSubjectShowCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "show [subject]",
		Short: "Show the latest metrics and alerts for a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			if watch {
				ticker := time.NewTicker(2 * time.Second)
				defer ticker.Stop()

				for {
					if err := displaySubject(cmd, c, args[0]); err != nil {
						return err
					}
					select {
					case <-cmd.Context().Done():
						return nil
					case <-ticker.C:
					}
					fmt.Fprint(cmd.OutOrStdout(), "\033[H\033[2J") // Clear screen
				}
			}

			return displaySubject(cmd, c, args[0])
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Refresh every two seconds")
	return cmd
}

func newSubjectPollCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll [subject]",
		Short: "Run one poll cycle for a subject now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			result, err := c.PollSubject(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to poll subject: %w", err)
			}

			out := cmd.OutOrStdout()
			if result.Error != "" {
				fmt.Fprintf(out, "Poll failed: %s (next attempt in %s)\n", result.Error, result.Wait)
				return nil
			}
			printMetrics(out, result.Metrics)
			fmt.Fprintf(out, "\n%d alert event(s) emitted, %d alert(s) resolved\n", len(result.Events), len(result.Resolved))
			for _, e := range result.Events {
				fmt.Fprintf(out, "  [%s] %s %s\n", e.Kind, e.Level, e.Message)
			}
			return nil
		},
	}

	return cmd
}

func displaySubject(cmd *cobra.Command, c *client.Client, subject string) error {
	status, err := c.GetSubject(cmd.Context(), subject)
	if err != nil {
		return fmt.Errorf("failed to get subject: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Subject:      %s\n", status.Subject)
	fmt.Fprintf(out, "Provider:     %s\n", status.Provider)
	fmt.Fprintf(out, "Last poll:    %s\n", formatTime(status.LastPoll))
	fmt.Fprintf(out, "Last success: %s\n", formatTime(status.LastSuccess))
	fmt.Fprintf(out, "Next poll:    %s\n", formatTime(status.NextPoll))
	if status.LastError != "" {
		fmt.Fprintf(out, "Last error:   %s (%d consecutive failures)\n", status.LastError, status.ConsecutiveFailures)
	}
	fmt.Fprintln(out)

	printMetrics(out, status.Metrics)
	if len(status.ActiveAlerts) > 0 {
		fmt.Fprintln(out)
		printAlerts(out, status.ActiveAlerts)
	}
	return nil
}

func printMetrics(out io.Writer, metrics []models.Metric) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "METRIC\tVALUE\tUNIT\tTIMESTAMP")
	for _, m := range metrics {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Name, m.Value.String(), m.Unit, formatTime(m.Timestamp))
	}
	w.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
