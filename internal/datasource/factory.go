package datasource

import (
	"fmt"

	"github.com/agentguard/internal/config"
)

// New builds the provider described by cfg.
func New(cfg config.ProviderConfig) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Type {
	case "command", "":
		p, err = NewCommandProvider(cfg.Name, cfg.Command, cfg.Env, cfg.Dir)
	case "http":
		p, err = NewHTTPProvider(cfg.Name, cfg.URL, cfg.Headers)
	case "docker":
		p, err = NewDockerExecProvider(cfg.Name, cfg.Container, cfg.Command, cfg.Env)
	default:
		err = fmt.Errorf("unknown provider type %q", cfg.Type)
	}
	if err != nil {
		return nil, &config.ConfigError{Field: "provider", Err: err}
	}
	return p, nil
}
