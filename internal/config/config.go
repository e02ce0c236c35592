package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/agentguard/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const envPrefix = "AGENTGUARD"

type Config struct {
	Server    ServerConfig   `mapstructure:"server"`
	Database  DatabaseConfig `mapstructure:"database"`
	Log       LogConfig      `mapstructure:"log"`
	Auth      AuthConfig     `mapstructure:"auth"`
	Monitor   MonitorConfig  `mapstructure:"monitor"`
	Provider  ProviderConfig `mapstructure:"provider"`
	Subjects  []string       `mapstructure:"subjects" validate:"required,min=1,unique,dive,required"`
	Extract   ExtractConfig  `mapstructure:"extract"`
	Rules     []RuleConfig   `mapstructure:"rules" validate:"dive"`
	RulesFile string         `mapstructure:"rules_file"`
	Alert     AlertConfig    `mapstructure:"alert"`
}

type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port" validate:"min=1,max=65535"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	Path   string `mapstructure:"path" validate:"required_if=Driver sqlite"`
	DSN    string `mapstructure:"dsn" validate:"required_if=Driver postgres"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=console json"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

type AuthConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	JWTSecret string        `mapstructure:"jwt_secret" validate:"required_if=Enabled true"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
	Users     []models.User `mapstructure:"users" validate:"dive"`
}

// MonitorConfig holds the poll loop timings. Plain numbers are seconds.
type MonitorConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"gt=0"`
	SilencePeriod    time.Duration `mapstructure:"silence_period" validate:"gt=0"`
	RenotifyInterval time.Duration `mapstructure:"renotify_interval" validate:"gte=0"`
	BackoffBase      time.Duration `mapstructure:"backoff_base" validate:"gt=0"`
	BackoffCap       time.Duration `mapstructure:"backoff_cap" validate:"gtefield=BackoffBase"`
	MaxConcurrent    int           `mapstructure:"max_concurrent" validate:"min=1"`
}

type ProviderConfig struct {
	Name      string            `mapstructure:"name" validate:"required"`
	Type      string            `mapstructure:"type" validate:"oneof=command http docker"`
	Command   []string          `mapstructure:"command" validate:"required_unless=Type http"`
	Env       []string          `mapstructure:"env"`
	Dir       string            `mapstructure:"dir"`
	URL       string            `mapstructure:"url" validate:"required_if=Type http"`
	Headers   map[string]string `mapstructure:"headers"`
	Container string            `mapstructure:"container" validate:"required_if=Type docker"`
}

type ExtractConfig struct {
	Fields []FieldConfig `mapstructure:"fields" validate:"required,min=1,dive"`
	Ratios []RatioConfig `mapstructure:"ratios" validate:"dive"`
}

type FieldConfig struct {
	Metric    string `mapstructure:"metric" validate:"required"`
	Path      string `mapstructure:"path" validate:"required"`
	Unit      string `mapstructure:"unit"`
	Required  bool   `mapstructure:"required"`
	Aggregate string `mapstructure:"aggregate" validate:"omitempty,oneof=sum max min avg count"`
}

type RatioConfig struct {
	Metric      string `mapstructure:"metric" validate:"required"`
	Numerator   string `mapstructure:"numerator" validate:"required"`
	Denominator string `mapstructure:"denominator" validate:"required"`
	Unit        string `mapstructure:"unit"`
	Required    bool   `mapstructure:"required"`
}

// RuleConfig is the on-disk form of a rule. Threshold stays a string so it
// reaches the rule engine without a float conversion.
type RuleConfig struct {
	Name        string `mapstructure:"name" yaml:"name" validate:"required"`
	Description string `mapstructure:"description" yaml:"description,omitempty"`
	Subject     string `mapstructure:"subject" yaml:"subject,omitempty"`
	Metric      string `mapstructure:"metric" yaml:"metric" validate:"required"`
	Operator    string `mapstructure:"operator" yaml:"operator" validate:"required"`
	Threshold   string `mapstructure:"threshold" yaml:"threshold" validate:"required"`
	Level       string `mapstructure:"level" yaml:"level" validate:"required"`
	Enabled     *bool  `mapstructure:"enabled" yaml:"enabled,omitempty"`
}

// IsEnabled returns whether the rule is enabled (defaults to true if not set).
func (r *RuleConfig) IsEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

type AlertConfig struct {
	// DispatchTimeout bounds one delivery to one notifier.
	DispatchTimeout time.Duration     `mapstructure:"dispatch_timeout" validate:"gt=0"`
	Log             LogSinkConfig     `mapstructure:"log"`
	Store           StoreSinkConfig   `mapstructure:"store"`
	Slack           SlackSinkConfig   `mapstructure:"slack"`
	Email           EmailSinkConfig   `mapstructure:"email"`
	Webhook         WebhookSinkConfig `mapstructure:"webhook"`
	Kafka           KafkaSinkConfig   `mapstructure:"kafka"`
	Redis           RedisSinkConfig   `mapstructure:"redis"`
}

type LogSinkConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	MinLevel string `mapstructure:"min_level"`
}

type StoreSinkConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type SlackSinkConfig struct {
	Token      string `mapstructure:"token"`
	Channel    string `mapstructure:"channel" validate:"required_with=Token"`
	WebhookURL string `mapstructure:"webhook_url" validate:"omitempty,url"`
	Username   string `mapstructure:"username"`
	MinLevel   string `mapstructure:"min_level"`
}

type EmailSinkConfig struct {
	SMTPHost    string   `mapstructure:"smtp_host"`
	SMTPPort    int      `mapstructure:"smtp_port"`
	From        string   `mapstructure:"from" validate:"required_with=SMTPHost"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	ToReceivers []string `mapstructure:"to_receivers" validate:"required_with=SMTPHost"`
	MinLevel    string   `mapstructure:"min_level"`
}

type WebhookSinkConfig struct {
	URL      string            `mapstructure:"url" validate:"omitempty,url"`
	Headers  map[string]string `mapstructure:"headers"`
	Timeout  time.Duration     `mapstructure:"timeout"`
	MinLevel string            `mapstructure:"min_level"`
}

type KafkaSinkConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic" validate:"required_with=Brokers"`
	MinLevel string   `mapstructure:"min_level"`
}

type RedisSinkConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream" validate:"required_with=Addr"`
	MaxLen   int64  `mapstructure:"max_len"`
	MinLevel string `mapstructure:"min_level"`
}

// ConfigError is returned for any problem loading or validating configuration.
// It is only ever fatal at startup.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/agentguard.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("monitor.poll_interval", "10s")
	v.SetDefault("monitor.timeout", "5s")
	v.SetDefault("monitor.silence_period", "5m")
	v.SetDefault("monitor.renotify_interval", 0)
	v.SetDefault("monitor.backoff_base", "5s")
	v.SetDefault("monitor.backoff_cap", "5m")
	v.SetDefault("monitor.max_concurrent", 10)
	v.SetDefault("provider.name", "provider")
	v.SetDefault("provider.type", "command")
	v.SetDefault("alert.dispatch_timeout", "10s")
	v.SetDefault("alert.log.enabled", true)
	v.SetDefault("alert.store.enabled", true)
	v.SetDefault("alert.webhook.timeout", "10s")
	v.SetDefault("alert.kafka.topic", "agentguard.alerts")
	v.SetDefault("alert.redis.stream", "agentguard:alerts")
}

// LoadConfig reads configuration from path, or from config.yaml in the working
// directory (or ./configs) when path is empty. A missing default file is not an
// error; a missing explicit file is. Values from a .env file and AGENTGUARD_*
// environment variables override the file.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &ConfigError{Field: ".env", Err: err}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, &ConfigError{Err: fmt.Errorf("read config: %w", err)}
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsDurationHook(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("decode config: %w", err)}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and cross-field references.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ConfigError{
				Field: fe.Namespace(),
				Err:   fmt.Errorf("failed on %q constraint (value %v)", fe.Tag(), fe.Value()),
			}
		}
		return &ConfigError{Err: err}
	}

	seen := make(map[string]bool)
	for _, f := range c.Extract.Fields {
		if seen[f.Metric] {
			return &ConfigError{Field: "extract.fields", Err: fmt.Errorf("duplicate metric %q", f.Metric)}
		}
		seen[f.Metric] = true
	}
	for _, r := range c.Extract.Ratios {
		if seen[r.Metric] {
			return &ConfigError{Field: "extract.ratios", Err: fmt.Errorf("duplicate metric %q", r.Metric)}
		}
		if !seen[r.Numerator] || !seen[r.Denominator] {
			return &ConfigError{
				Field: "extract.ratios",
				Err:   fmt.Errorf("ratio %q references unknown field metric", r.Metric),
			}
		}
		seen[r.Metric] = true
	}

	for _, level := range []string{
		c.Alert.Log.MinLevel, c.Alert.Slack.MinLevel, c.Alert.Email.MinLevel,
		c.Alert.Webhook.MinLevel, c.Alert.Kafka.MinLevel, c.Alert.Redis.MinLevel,
	} {
		if level != "" && !models.AlertLevel(strings.ToUpper(level)).Valid() {
			return &ConfigError{Field: "alert.min_level", Err: fmt.Errorf("unknown level %q", level)}
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsDurationHook decodes bare numbers (and numeric strings) into durations
// as seconds, and everything else through time.ParseDuration.
func secondsDurationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType {
			return data, nil
		}
		switch v := data.(type) {
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		case string:
			if v == "" {
				return time.Duration(0), nil
			}
			if secs, err := strconv.ParseFloat(v, 64); err == nil {
				return time.Duration(secs * float64(time.Second)), nil
			}
			return time.ParseDuration(v)
		}
		return data, nil
	}
}
