package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/agentguard/internal/api/client"
	"github.com/agentguard/internal/models"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func NewRuleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rule",
		Short:   "Alert rule commands",
		Aliases: []string{"rules", "r"},
	}

	cmd.AddCommand(newRuleListCommand())
	cmd.AddCommand(newRuleTestCommand())

	return cmd
}

func newRuleListCommand() *cobra.Command {
	var enabled, disabled bool

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List loaded rules",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			var filter *bool
			switch {
			case enabled && disabled:
				return fmt.Errorf("--enabled and --disabled are mutually exclusive")
			case enabled:
				filter = &enabled
			case disabled:
				f := false
				filter = &f
			}

			rules, err := c.ListRules(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}
			return printRules(cmd.OutOrStdout(), rules)
		},
	}

	cmd.Flags().BoolVar(&enabled, "enabled", false, "Only enabled rules")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Only disabled rules")
	return cmd
}

func newRuleTestCommand() *cobra.Command {
	var (
		file    string
		subject string
		metrics []string
	)

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Test a rule (JSON on stdin or --file) against metrics or a subject's latest metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("failed to open rule file: %w", err)
				}
				defer f.Close()
				in = f
			}

			var rule models.AlertRule
			if err := json.NewDecoder(in).Decode(&rule); err != nil {
				return fmt.Errorf("invalid rule JSON: %w", err)
			}

			parsed, err := parseMetricFlags(metrics)
			if err != nil {
				return err
			}

			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			resp, err := c.TestRule(cmd.Context(), &client.TestRuleRequest{
				Rule:    rule,
				Subject: subject,
				Metrics: parsed,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\nTest Results for Rule: %s\n", rule.Name)
			fmt.Fprintf(out, "Metrics evaluated: %d\n", len(resp.Metrics))
			if !resp.Triggered {
				fmt.Fprintln(out, "Rule not triggered.")
				return nil
			}

			fmt.Fprintln(out, "Alert Details:")
			fmt.Fprintln(out, strings.Repeat("-", 80))
			for _, a := range resp.Alerts {
				fmt.Fprintf(out, "Subject: %s\n", a.Subject)
				fmt.Fprintf(out, "Level:   %s\n", a.Level)
				fmt.Fprintf(out, "Message: %s\n", a.Message)
				fmt.Fprintln(out, strings.Repeat("-", 80))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the rule JSON from a file")
	cmd.Flags().StringVar(&subject, "subject", "", "Subject whose latest metrics are used when no --metric is given")
	cmd.Flags().StringArrayVarP(&metrics, "metric", "m", nil, "Metric to test against as name=value (repeatable)")
	return cmd
}

func parseMetricFlags(raw []string) ([]models.Metric, error) {
	metrics := make([]models.Metric, 0, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid metric %q, expected name=value", kv)
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for metric %s: %w", name, err)
		}
		metrics = append(metrics, models.Metric{Name: name, Value: d, Unit: models.UnitNone})
	}
	return metrics, nil
}

func printRules(out io.Writer, rules []models.AlertRule) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tSUBJECT\tCONDITION\tLEVEL\tENABLED")
	for _, rule := range rules {
		subject := rule.Subject
		if subject == "" {
			subject = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s %s %s\t%s\t%v\n",
			rule.Name, subject, rule.Metric, rule.Operator, rule.Threshold.String(), rule.Level, rule.IsEnabled)
	}
	return w.Flush()
}
