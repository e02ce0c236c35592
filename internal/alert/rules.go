package alert

import (
	"fmt"
	"os"
	"strings"

	"github.com/agentguard/internal/config"
	"github.com/agentguard/internal/models"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RuleSet is the immutable set of rules for a run. It is shared read-only by
// every subject poller.
type RuleSet struct {
	rules []models.AlertRule
	index map[string]int
}

func NewRuleSet(rules []models.AlertRule) (*RuleSet, error) {
	set := &RuleSet{
		rules: make([]models.AlertRule, 0, len(rules)),
		index: make(map[string]int, len(rules)),
	}
	for _, rule := range rules {
		if err := ValidateRule(&rule); err != nil {
			return nil, err
		}
		if _, dup := set.index[rule.Name]; dup {
			return nil, fmt.Errorf("duplicate rule name %q", rule.Name)
		}
		set.index[rule.Name] = len(set.rules)
		set.rules = append(set.rules, rule)
	}
	return set, nil
}

// Rules returns a copy of the rules in load order.
func (s *RuleSet) Rules() []models.AlertRule {
	out := make([]models.AlertRule, len(s.rules))
	copy(out, s.rules)
	return out
}

func (s *RuleSet) Get(name string) (models.AlertRule, bool) {
	i, ok := s.index[name]
	if !ok {
		return models.AlertRule{}, false
	}
	return s.rules[i], true
}

func (s *RuleSet) Len() int {
	return len(s.rules)
}

func ValidateRule(rule *models.AlertRule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("rule name is required")
	}
	if strings.TrimSpace(rule.Metric) == "" {
		return fmt.Errorf("rule %s: metric is required", rule.Name)
	}
	if !rule.Operator.Valid() {
		return fmt.Errorf("rule %s: unknown operator %q", rule.Name, rule.Operator)
	}
	if !rule.Level.Valid() {
		return fmt.Errorf("rule %s: unknown level %q", rule.Name, rule.Level)
	}
	return nil
}

// RuleFromConfig converts and validates one configured rule.
func RuleFromConfig(rc config.RuleConfig) (models.AlertRule, error) {
	threshold, err := decimal.NewFromString(strings.TrimSpace(rc.Threshold))
	if err != nil {
		return models.AlertRule{}, fmt.Errorf("rule %s: invalid threshold %q", rc.Name, rc.Threshold)
	}
	rule := models.AlertRule{
		Name:        strings.TrimSpace(rc.Name),
		Description: rc.Description,
		Subject:     rc.Subject,
		Metric:      strings.TrimSpace(rc.Metric),
		Operator:    models.Operator(strings.TrimSpace(rc.Operator)),
		Threshold:   threshold,
		Level:       models.AlertLevel(strings.ToUpper(strings.TrimSpace(rc.Level))),
		IsEnabled:   rc.IsEnabled(),
	}
	if err := ValidateRule(&rule); err != nil {
		return models.AlertRule{}, err
	}
	return rule, nil
}

func RuleToConfig(rule models.AlertRule) config.RuleConfig {
	enabled := rule.IsEnabled
	return config.RuleConfig{
		Name:        rule.Name,
		Description: rule.Description,
		Subject:     rule.Subject,
		Metric:      rule.Metric,
		Operator:    string(rule.Operator),
		Threshold:   rule.Threshold.String(),
		Level:       string(rule.Level),
		Enabled:     &enabled,
	}
}

type rulesFile struct {
	Rules []config.RuleConfig `yaml:"rules"`
}

// ReadRulesFile parses a YAML (or JSON) document with a top-level "rules" list.
func ReadRulesFile(filename string) ([]models.AlertRule, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var doc rulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	rules := make([]models.AlertRule, 0, len(doc.Rules))
	for _, rc := range doc.Rules {
		rule, err := RuleFromConfig(rc)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func WriteRulesFile(filename string, rules []models.AlertRule) error {
	doc := rulesFile{Rules: make([]config.RuleConfig, 0, len(rules))}
	for _, rule := range rules {
		doc.Rules = append(doc.Rules, RuleToConfig(rule))
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// LoadRules builds the run's rule set from inline rules and the rules file.
// With neither configured the default rules are used. Any problem is a
// ConfigError.
func LoadRules(cfg *config.Config) (*RuleSet, error) {
	var rules []models.AlertRule
	for _, rc := range cfg.Rules {
		rule, err := RuleFromConfig(rc)
		if err != nil {
			return nil, &config.ConfigError{Field: "rules", Err: err}
		}
		rules = append(rules, rule)
	}

	if cfg.RulesFile != "" {
		fromFile, err := ReadRulesFile(cfg.RulesFile)
		if err != nil {
			return nil, &config.ConfigError{Field: "rules_file", Err: err}
		}
		rules = append(rules, fromFile...)
	}

	if len(rules) == 0 {
		rules = DefaultRules()
	}

	set, err := NewRuleSet(rules)
	if err != nil {
		return nil, &config.ConfigError{Field: "rules", Err: err}
	}
	return set, nil
}

// DefaultRules is the trip-wire set used when nothing is configured.
func DefaultRules() []models.AlertRule {
	return []models.AlertRule{
		{
			Name:        "max-leverage",
			Description: "Agent leverage above 10x",
			Metric:      "leverage",
			Operator:    models.OperatorGT,
			Threshold:   decimal.NewFromInt(10),
			Level:       models.AlertLevelCritical,
			IsEnabled:   true,
		},
		{
			Name:        "elevated-leverage",
			Description: "Agent leverage at or above 5x",
			Metric:      "leverage",
			Operator:    models.OperatorGTE,
			Threshold:   decimal.NewFromInt(5),
			Level:       models.AlertLevelWarning,
			IsEnabled:   true,
		},
		{
			Name:        "low-account-value",
			Description: "Account value below 100 USD",
			Metric:      "account_value",
			Operator:    models.OperatorLT,
			Threshold:   decimal.NewFromInt(100),
			Level:       models.AlertLevelWarning,
			IsEnabled:   true,
		},
		{
			Name:        "too-many-positions",
			Description: "More than 20 open positions",
			Metric:      "open_positions",
			Operator:    models.OperatorGT,
			Threshold:   decimal.NewFromInt(20),
			Level:       models.AlertLevelInfo,
			IsEnabled:   true,
		},
	}
}

// RuleManager serves the loaded rule set and mirrors it into the database so
// the alert history can be joined against rule descriptions.
type RuleManager struct {
	rules     *RuleSet
	evaluator *RuleEvaluator
	db        *gorm.DB
}

func NewRuleManager(rules *RuleSet, db *gorm.DB) *RuleManager {
	return &RuleManager{
		rules:     rules,
		evaluator: NewRuleEvaluator(),
		db:        db,
	}
}

func (rm *RuleManager) RuleSet() *RuleSet {
	return rm.rules
}

func (rm *RuleManager) Evaluator() *RuleEvaluator {
	return rm.evaluator
}

func (rm *RuleManager) ListRules(enabled *bool) []models.AlertRule {
	all := rm.rules.Rules()
	if enabled == nil {
		return all
	}
	filtered := make([]models.AlertRule, 0, len(all))
	for _, rule := range all {
		if rule.IsEnabled == *enabled {
			filtered = append(filtered, rule)
		}
	}
	return filtered
}

func (rm *RuleManager) GetRule(name string) (models.AlertRule, bool) {
	return rm.rules.Get(name)
}

// SyncCatalog upserts the loaded rules into alert_rules and disables stored
// rules that are no longer loaded.
func (rm *RuleManager) SyncCatalog() error {
	if rm.db == nil {
		return nil
	}
	rules := rm.rules.Rules()
	names := make([]string, 0, len(rules))

	return rm.db.Transaction(func(tx *gorm.DB) error {
		for i := range rules {
			names = append(names, rules[i].Name)
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"description", "subject", "metric", "operator", "threshold", "level", "is_enabled", "updated_at"}),
			}).Create(&rules[i]).Error
			if err != nil {
				return fmt.Errorf("failed to sync rule %s: %w", rules[i].Name, err)
			}
		}

		query := tx.Model(&models.AlertRule{})
		if len(names) > 0 {
			query = query.Where("name NOT IN ?", names)
		} else {
			query = query.Where("1 = 1")
		}
		if err := query.Update("is_enabled", false).Error; err != nil {
			return fmt.Errorf("failed to disable stale rules: %w", err)
		}
		return nil
	})
}

// TestRule evaluates a single rule against caller-supplied metrics without
// touching any alert state.
func (rm *RuleManager) TestRule(rule models.AlertRule, subject string, metrics []models.Metric) ([]models.Alert, error) {
	if err := ValidateRule(&rule); err != nil {
		return nil, err
	}
	rule.IsEnabled = true
	return rm.evaluator.Evaluate(subject, metrics, []models.AlertRule{rule}), nil
}
