package config

import (
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const envPrefix = "AUTHCLIENT_"

// Config holds everything the auth client needs: first-party API endpoints,
// the third-party provider, session persistence, browser automation and the
// HTTP transport.
type Config struct {
	AppName  string         `yaml:"app_name" env:"APP_NAME"`
	API      APIConfig      `yaml:"api" envPrefix:"API_"`
	Provider ProviderConfig `yaml:"provider" envPrefix:"PROVIDER_"`
	OAuth    OAuthConfig    `yaml:"oauth" envPrefix:"OAUTH_"`
	Session  SessionConfig  `yaml:"session" envPrefix:"SESSION_"`
	Browser  BrowserConfig  `yaml:"browser" envPrefix:"BROWSER_"`
	HTTP     HTTPConfig     `yaml:"http" envPrefix:"HTTP_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Pretty bool   `yaml:"pretty" env:"PRETTY"`
}

// Default returns a Config with every tunable set. URLs are left empty and
// must come from a file or the environment.
func Default() Config {
	return Config{
		AppName:  "Auth Client",
		Provider: defaultProvider(),
		Session:  defaultSession(),
		Browser:  defaultBrowser(),
		HTTP:     defaultHTTP(),
		Log:      LogConfig{Level: "info", Pretty: true},
	}
}

// Load builds a Config from defaults, then the optional YAML file at path,
// then AUTHCLIENT_* environment variables. Later sources win.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "[config.Load] read %s", path)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "[config.Load] parse %s", path)
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv overlays AUTHCLIENT_* environment variables onto target. Fields
// whose variable is unset keep their current value.
func ParseEnv(target *Config) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: envPrefix}); err != nil {
		return errors.Wrap(err, "[config.ParseEnv]")
	}
	return nil
}

// Validate reports the first missing endpoint required for the
// first-party flows.
func (c Config) Validate() error {
	required := map[string]string{
		"api.sign_in_url":        c.API.SignInURL,
		"api.token_exchange_url": c.API.TokenExchangeURL,
		"api.session_url":        c.API.SessionURL,
		"api.logout_url":         c.API.LogoutURL,
	}
	for _, name := range []string{"api.sign_in_url", "api.token_exchange_url", "api.session_url", "api.logout_url"} {
		if strings.TrimSpace(required[name]) == "" {
			return errors.Errorf("[Config.Validate] %s is required", name)
		}
	}
	return nil
}
