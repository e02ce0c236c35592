package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/agentguard/internal/alert"
	"github.com/agentguard/internal/api"
	"github.com/agentguard/internal/auth"
	"github.com/agentguard/internal/config"
	"github.com/agentguard/internal/database"
	"github.com/agentguard/internal/datasource"
	"github.com/agentguard/internal/extract"
	"github.com/agentguard/internal/logging"
	"github.com/agentguard/internal/models"
	"github.com/agentguard/internal/monitor"
	"github.com/agentguard/internal/notify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	exitError       = 1
	exitAlertsFired = 2
	exitPollsFailed = 3
)

var configPath string

// exitCode carries a non-zero status out of a command without printing usage.
type exitCode int

func (e exitCode) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

func main() {
	root := &cobra.Command{
		Use:   "agentguard",
		Short: "AgentGuard - safety monitor for autonomous trading agents",
		Long: `AgentGuard polls an external data provider for every configured subject,
extracts metrics from the structured response, evaluates threshold rules and
delivers deduplicated alerts to the configured sinks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the config file (default ./config.yaml or ./configs/config.yaml)")

	root.AddCommand(newRunCommand())
	root.AddCommand(newCheckCommand())
	root.AddCommand(newRulesCommand())
	root.AddCommand(newHashPasswordCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()

	var code exitCode
	switch {
	case err == nil:
	case errors.As(err, &code):
		os.Exit(int(code))
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitError)
	}
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the monitor and the API server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}
}

// app holds everything built from the configuration.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	db          *gorm.DB
	ruleManager *alert.RuleManager
	manager     *alert.AlertManager
	monitor     *monitor.Monitor
}

func buildApp() (_ *app, err error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err != nil {
			database.Close(db)
		}
	}()

	rules, err := alert.LoadRules(cfg)
	if err != nil {
		return nil, err
	}
	ruleManager := alert.NewRuleManager(rules, db)
	if err := ruleManager.SyncCatalog(); err != nil {
		logger.Warn("Failed to sync rule catalog", zap.Error(err))
	}

	schema, err := extract.NewSchema(cfg.Extract)
	if err != nil {
		return nil, err
	}

	provider, err := datasource.New(cfg.Provider)
	if err != nil {
		return nil, err
	}

	manager := alert.NewAlertManager(logger.Named("alert"), cfg.Alert.DispatchTimeout)
	notify.RegisterNotifiers(manager, cfg.Alert, db, logger.Named("notify"))

	mon, err := monitor.NewMonitor(monitor.Options{
		Subjects:  cfg.Subjects,
		Provider:  provider,
		Extractor: extract.NewExtractor(schema),
		Rules:     rules,
		Evaluator: ruleManager.Evaluator(),
		Sink:      manager,
		Config:    cfg.Monitor,
		Logger:    logger.Named("monitor"),
	})
	if err != nil {
		return nil, &config.ConfigError{Field: "subjects", Err: err}
	}

	logger.Info("AgentGuard configured",
		zap.String("provider", provider.Name()),
		zap.Strings("subjects", cfg.Subjects),
		zap.Int("rules", rules.Len()),
		zap.Duration("poll_interval", cfg.Monitor.PollInterval),
		zap.Duration("silence_period", cfg.Monitor.SilencePeriod))

	return &app{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		ruleManager: ruleManager,
		manager:     manager,
		monitor:     mon,
	}, nil
}

func (a *app) close() {
	if err := a.manager.Close(); err != nil {
		a.logger.Warn("Failed to close notifiers", zap.Error(err))
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("Failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func runDaemon(ctx context.Context) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.monitor.Start(ctx); err != nil {
		return err
	}
	defer a.monitor.Stop()

	if !a.cfg.Server.Enabled {
		<-ctx.Done()
		a.logger.Info("Shutting down")
		return nil
	}

	server, err := api.NewServer(a.monitor, a.ruleManager, a.db, auth.NewAuthenticator(a.cfg.Auth), a.logger.Named("api"))
	if err != nil {
		return err
	}
	if err := server.Start(ctx, a.cfg.Server.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	a.logger.Info("Shutting down")
	return nil
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Poll every subject once and exit",
		Long: `check runs a single poll cycle for every subject, delivers any alerts to the
configured sinks and prints the results. It exits 2 when an alert fired, 3 when
a subject could not be polled, and 0 otherwise.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			results := a.monitor.PollAll(cmd.Context())

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "SUBJECT\tMETRICS\tALERTS\tSTATUS")
			fired, failed := false, false
			for _, r := range results {
				status := "ok"
				if r.Err != nil {
					status = r.Err.Error()
				}
				if len(r.Metrics) == 0 && r.Err != nil {
					failed = true
				}
				if len(r.Events) > 0 {
					fired = true
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", r.Subject, len(r.Metrics), len(r.Events), status)
			}
			w.Flush()

			for _, r := range results {
				for _, e := range r.Events {
					fmt.Fprintf(out, "[%s] %s\n", e.Level, e.Message)
				}
			}

			switch {
			case fired:
				return exitCode(exitAlertsFired)
			case failed:
				return exitCode(exitPollsFailed)
			}
			return nil
		},
	}
}

func newRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the configured rule set",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configured rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			rules, err := alert.LoadRules(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rule(s) valid\n", rules.Len())
			return nil
		},
	})

	var output string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the effective rule set as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			rules, err := alert.LoadRules(cfg)
			if err != nil {
				return err
			}
			if err := alert.WriteRulesFile(output, rules.Rules()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d rule(s) to %s\n", rules.Len(), output)
			return nil
		},
	}
	export.Flags().StringVarP(&output, "output", "o", "rules.yaml", "Output file")
	cmd.AddCommand(export)

	return cmd
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print the bcrypt hash for an auth.users entry",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = strings.TrimSpace(line)
			}
			if password == "" {
				return fmt.Errorf("password must not be empty")
			}

			hash, err := models.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
