package browser

import (
	"time"

	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/token"
)

// Config drives one Driver.
type Config struct {
	Mode     Mode
	LoginURL string
	// ProviderDomain matches the host and any of its subdomains.
	ProviderDomain string
	// AppHost and PostLoginPaths identify the app's own landing pages.
	AppHost        string
	PostLoginPaths []string
	AccessGrantURL string
	RedirectScheme string
	TokenParams    []string

	LoadTimeout      time.Duration
	FlowTimeout      time.Duration
	MaxInjections    int
	InjectionBackoff time.Duration
	SettleDelay      time.Duration
	RedirectDelay    time.Duration
}

// NewConfig builds a driver Config from the application configuration.
func NewConfig(mode Mode, b config.BrowserConfig, p config.ProviderConfig) Config {
	loginURL := p.LoginPageURL
	if loginURL == "" {
		loginURL = p.LoginURL
	}
	return Config{
		Mode:             mode,
		LoginURL:         loginURL,
		ProviderDomain:   p.Domain,
		AppHost:          b.AppHost,
		PostLoginPaths:   b.PostLoginPaths,
		AccessGrantURL:   p.AccessGrantEndpoint(true),
		RedirectScheme:   b.RedirectScheme,
		TokenParams:      b.TokenParams,
		LoadTimeout:      b.LoadTimeout,
		FlowTimeout:      b.FlowTimeout,
		MaxInjections:    b.MaxInjectionRetries,
		InjectionBackoff: b.InjectionBackoff,
		SettleDelay:      b.SettleDelay,
		RedirectDelay:    b.RedirectDelay,
	}
}

func (c *Config) applyDefaults() {
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 15 * time.Second
	}
	if c.FlowTimeout <= 0 {
		c.FlowTimeout = 2 * time.Minute
	}
	if c.MaxInjections <= 0 {
		c.MaxInjections = 5
	}
	if c.InjectionBackoff <= 0 {
		c.InjectionBackoff = time.Second
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.RedirectDelay < 0 {
		c.RedirectDelay = 0
	}
	if c.RedirectScheme == "" {
		c.RedirectScheme = "app"
	}
	if len(c.TokenParams) == 0 {
		c.TokenParams = token.DefaultQueryParams
	}
}
