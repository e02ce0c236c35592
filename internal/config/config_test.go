package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
provider:
  name: hypecli
  type: command
  command: ["hypecli", "account", "{subject}"]
subjects: ["0xabc", "0xdef"]
monitor:
  poll_interval: 30
  timeout: 2.5
  silence_period: 10m
  backoff_base: 1
  backoff_cap: 60
extract:
  fields:
    - metric: account_value
      path: marginSummary.accountValue
      unit: usd
      required: true
    - metric: total_notional
      path: positions[].value
      aggregate: sum
  ratios:
    - metric: leverage
      numerator: total_notional
      denominator: account_value
rules:
  - name: max-leverage
    metric: leverage
    operator: ">"
    threshold: "10.0"
    level: CRITICAL
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"0xabc", "0xdef"}, cfg.Subjects)
	assert.Equal(t, "hypecli", cfg.Provider.Name)
	assert.Equal(t, []string{"hypecli", "account", "{subject}"}, cfg.Provider.Command)

	// Bare numbers are seconds.
	assert.Equal(t, 30*time.Second, cfg.Monitor.PollInterval)
	assert.Equal(t, 2500*time.Millisecond, cfg.Monitor.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.Monitor.SilencePeriod)
	assert.Equal(t, time.Second, cfg.Monitor.BackoffBase)
	assert.Equal(t, time.Minute, cfg.Monitor.BackoffCap)

	// Defaults.
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 10, cfg.Monitor.MaxConcurrent)
	assert.Equal(t, time.Duration(0), cfg.Monitor.RenotifyInterval)
	assert.True(t, cfg.Alert.Store.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Alert.DispatchTimeout)

	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, "10.0", cfg.Rules[0].Threshold)
	assert.True(t, cfg.Rules[0].IsEnabled())
	require.Len(t, cfg.Extract.Ratios, 1)
	assert.Equal(t, "sum", cfg.Extract.Fields[1].Aggregate)
}

func TestLoadConfigEnvironmentOverride(t *testing.T) {
	t.Setenv("AGENTGUARD_MONITOR_POLL_INTERVAL", "45")
	t.Setenv("AGENTGUARD_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Monitor.PollInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		old  string
		new  string
	}{
		{name: "no subjects", old: `subjects: ["0xabc", "0xdef"]`, new: `subjects: []`},
		{name: "duplicate subjects", old: `subjects: ["0xabc", "0xdef"]`, new: `subjects: [a, a]`},
		{name: "zero poll interval", old: "poll_interval: 30", new: "poll_interval: 0"},
		{name: "cap below base", old: "backoff_cap: 60", new: "backoff_cap: 0.5"},
		{name: "bad duration", old: "timeout: 2.5", new: "timeout: soon"},
		{name: "unknown provider type", old: "type: command", new: "type: ftp"},
		{name: "ratio of unknown field", old: "denominator: account_value", new: "denominator: missing"},
		{
			name: "bad min level",
			old:  "rules:",
			new:  "alert:\n  slack:\n    webhook_url: http://hooks.example.com/x\n    min_level: LOUD\nrules:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := strings.Replace(validYAML, tt.old, tt.new, 1)
			require.NotEqual(t, validYAML, body)

			cfg, err := LoadConfig(writeConfig(t, body))
			assert.Nil(t, cfg)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, cfgErr.Error(), "config")
		})
	}
}

func TestRuleConfigIsEnabled(t *testing.T) {
	disabled := false
	assert.True(t, (&RuleConfig{}).IsEnabled())
	assert.False(t, (&RuleConfig{Enabled: &disabled}).IsEnabled())
}
