package alert

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentguard/internal/config"
	"github.com/agentguard/internal/database"
	"github.com/agentguard/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleFromConfigKeepsExactThreshold(t *testing.T) {
	r, err := RuleFromConfig(config.RuleConfig{
		Name:      "max-leverage",
		Metric:    "leverage",
		Operator:  ">",
		Threshold: "10.000000000000000001",
		Level:     "critical",
	})
	require.NoError(t, err)
	assert.Equal(t, "10.000000000000000001", r.Threshold.String())
	assert.Equal(t, models.AlertLevelCritical, r.Level)
	assert.True(t, r.IsEnabled)
}

func TestRuleFromConfigRejectsInvalid(t *testing.T) {
	base := config.RuleConfig{Name: "r", Metric: "m", Operator: ">", Threshold: "1", Level: "INFO"}

	tests := []struct {
		name   string
		mutate func(*config.RuleConfig)
	}{
		{"bad operator", func(rc *config.RuleConfig) { rc.Operator = "==" }},
		{"bad level", func(rc *config.RuleConfig) { rc.Level = "PANIC" }},
		{"bad threshold", func(rc *config.RuleConfig) { rc.Threshold = "ten" }},
		{"no metric", func(rc *config.RuleConfig) { rc.Metric = " " }},
		{"no name", func(rc *config.RuleConfig) { rc.Name = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := base
			tt.mutate(&rc)
			_, err := RuleFromConfig(rc)
			assert.Error(t, err)
		})
	}
}

func TestNewRuleSetRejectsDuplicates(t *testing.T) {
	r := rule("dup", "m", models.OperatorGT, "1", models.AlertLevelInfo)
	_, err := NewRuleSet([]models.AlertRule{r, r})
	assert.ErrorContains(t, err, "duplicate rule name")
}

func TestRulesFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, WriteRulesFile(path, DefaultRules()))

	rules, err := ReadRulesFile(path)
	require.NoError(t, err)
	require.Len(t, rules, len(DefaultRules()))
	for i, r := range rules {
		want := DefaultRules()[i]
		assert.Equal(t, want.Name, r.Name)
		assert.True(t, want.Threshold.Equal(r.Threshold))
		assert.Equal(t, want.Operator, r.Operator)
		assert.Equal(t, want.Level, r.Level)
	}
}

func TestLoadRulesMergesInlineAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - name: low-account-value
    metric: account_value
    operator: "<"
    threshold: "100.50"
    level: WARNING
    enabled: false
`), 0644))

	set, err := LoadRules(&config.Config{
		Rules: []config.RuleConfig{
			{Name: "max-leverage", Metric: "leverage", Operator: ">", Threshold: "10", Level: "CRITICAL"},
		},
		RulesFile: path,
	})
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())

	r, ok := set.Get("low-account-value")
	require.True(t, ok)
	assert.False(t, r.IsEnabled)
	assert.Equal(t, "100.5", r.Threshold.String())
}

func TestLoadRulesDefaultsAndErrors(t *testing.T) {
	set, err := LoadRules(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, len(DefaultRules()), set.Len())

	_, err = LoadRules(&config.Config{RulesFile: filepath.Join(t.TempDir(), "missing.yaml")})
	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "rules_file", cfgErr.Field)
}

func TestRuleManagerSyncCatalog(t *testing.T) {
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "rules.db")})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	first, err := NewRuleSet(DefaultRules())
	require.NoError(t, err)
	require.NoError(t, NewRuleManager(first, db).SyncCatalog())

	var count int64
	require.NoError(t, db.Model(&models.AlertRule{}).Count(&count).Error)
	assert.Equal(t, int64(len(DefaultRules())), count)

	// Reload with a single changed rule; the others must be disabled.
	changed := rule("max-leverage", "leverage", models.OperatorGT, "20", models.AlertLevelCritical)
	second, err := NewRuleSet([]models.AlertRule{changed})
	require.NoError(t, err)
	require.NoError(t, NewRuleManager(second, db).SyncCatalog())

	var stored []models.AlertRule
	require.NoError(t, db.Order("name").Find(&stored).Error)
	require.Len(t, stored, len(DefaultRules()))
	for _, r := range stored {
		if r.Name == "max-leverage" {
			assert.True(t, r.IsEnabled)
			assert.True(t, r.Threshold.Equal(decimal.NewFromInt(20)))
			continue
		}
		assert.False(t, r.IsEnabled, r.Name)
	}
}

func TestRuleManagerListAndTest(t *testing.T) {
	set, err := NewRuleSet(DefaultRules())
	require.NoError(t, err)
	rm := NewRuleManager(set, nil)

	enabled := true
	assert.Len(t, rm.ListRules(&enabled), len(DefaultRules()))
	disabled := false
	assert.Empty(t, rm.ListRules(&disabled))

	_, ok := rm.GetRule("max-leverage")
	assert.True(t, ok)

	candidate := rule("probe", "leverage", models.OperatorGT, "3", models.AlertLevelWarning)
	candidate.IsEnabled = false
	alerts, err := rm.TestRule(candidate, "s", []models.Metric{metric("leverage", "4")})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	_, err = rm.TestRule(models.AlertRule{Name: "bad"}, "s", nil)
	assert.Error(t, err)
}
