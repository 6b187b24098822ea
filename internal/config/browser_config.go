package config

import "time"

type BrowserConfig struct {
	LoadTimeout         time.Duration `yaml:"load_timeout" env:"LOAD_TIMEOUT"`
	FlowTimeout         time.Duration `yaml:"flow_timeout" env:"FLOW_TIMEOUT"`
	MaxInjectionRetries int           `yaml:"max_injection_retries" env:"MAX_INJECTION_RETRIES"`
	InjectionBackoff    time.Duration `yaml:"injection_backoff" env:"INJECTION_BACKOFF"`
	SettleDelay         time.Duration `yaml:"settle_delay" env:"SETTLE_DELAY"`
	RedirectDelay       time.Duration `yaml:"redirect_delay" env:"REDIRECT_DELAY"`
	RedirectScheme      string        `yaml:"redirect_scheme" env:"REDIRECT_SCHEME"`
	AppHost             string        `yaml:"app_host" env:"APP_HOST"`
	PostLoginPaths      []string      `yaml:"post_login_paths" env:"POST_LOGIN_PATHS" envSeparator:","`
	TokenParams         []string      `yaml:"token_params" env:"TOKEN_PARAMS" envSeparator:","`
}

func defaultBrowser() BrowserConfig {
	return BrowserConfig{
		LoadTimeout:         15 * time.Second,
		FlowTimeout:         2 * time.Minute,
		MaxInjectionRetries: 5,
		InjectionBackoff:    time.Second,
		SettleDelay:         500 * time.Millisecond,
		RedirectDelay:       500 * time.Millisecond,
		RedirectScheme:      "app",
		PostLoginPaths:      []string{"/dashboard", "/inbox", "/home"},
		TokenParams:         []string{"token", "access_token", "jwt", "auth_token"},
	}
}
