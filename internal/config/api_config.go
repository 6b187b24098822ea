package config

import (
	"net/url"
	"strings"
	"time"
)

// APIConfig lists the first-party endpoints.
type APIConfig struct {
	SignInURL        string `yaml:"sign_in_url" env:"SIGN_IN_URL"`
	TokenExchangeURL string `yaml:"token_exchange_url" env:"TOKEN_EXCHANGE_URL"`
	SessionURL       string `yaml:"session_url" env:"SESSION_URL"`
	LogoutURL        string `yaml:"logout_url" env:"LOGOUT_URL"`
	OAuthVerifyURL   string `yaml:"oauth_verify_url" env:"OAUTH_VERIFY_URL"`
	TeamMemberURL    string `yaml:"team_member_url" env:"TEAM_MEMBER_URL"`
}

// ProviderConfig describes the third-party identity provider whose login can
// only be completed with its cookies and anti-forgery token.
type ProviderConfig struct {
	Name             string   `yaml:"name" env:"NAME"`
	Domain           string   `yaml:"domain" env:"DOMAIN"`
	LoginPageURL     string   `yaml:"login_page_url" env:"LOGIN_PAGE_URL"`
	LoginURL         string   `yaml:"login_url" env:"LOGIN_URL"`
	AccessGrantURL   string   `yaml:"access_grant_url" env:"ACCESS_GRANT_URL"`
	SessionVerifyURL string   `yaml:"session_verify_url" env:"SESSION_VERIFY_URL"`
	ProjectID        string   `yaml:"project_id" env:"PROJECT_ID"`
	FailurePhrases   []string `yaml:"failure_phrases" env:"FAILURE_PHRASES" envSeparator:","`
}

// ProjectIDPlaceholder is replaced by the project id in AccessGrantURL.
const ProjectIDPlaceholder = "{projectId}"

// AccessGrantEndpoint returns AccessGrantURL with the project id filled in.
// With withQuery set the project id is also added as a projectId query
// parameter, for requests that cannot carry a body.
func (p ProviderConfig) AccessGrantEndpoint(withQuery bool) string {
	if p.AccessGrantURL == "" {
		return ""
	}
	target := strings.ReplaceAll(p.AccessGrantURL, ProjectIDPlaceholder, url.PathEscape(p.ProjectID))
	if !withQuery || p.ProjectID == "" {
		return target
	}
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	if q.Get("projectId") == "" {
		q.Set("projectId", p.ProjectID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func defaultProvider() ProviderConfig {
	return ProviderConfig{
		Name: "provider",
		FailurePhrases: []string{
			"invalid email or password",
			"invalid credentials",
			"incorrect password",
			"these credentials do not match",
			"account has been locked",
			"too many login attempts",
		},
	}
}

// OAuthConfig enables local verification of native OAuth ID tokens. Leaving
// Issuer empty skips local verification.
type OAuthConfig struct {
	Issuer   string `yaml:"issuer" env:"ISSUER"`
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`
}

type HTTPConfig struct {
	StepTimeout time.Duration `yaml:"step_timeout" env:"STEP_TIMEOUT"`
	FlowTimeout time.Duration `yaml:"flow_timeout" env:"FLOW_TIMEOUT"`
	UserAgent   string        `yaml:"user_agent" env:"USER_AGENT"`
	MaxBodySize int64         `yaml:"max_body_size" env:"MAX_BODY_SIZE"`
}

func defaultHTTP() HTTPConfig {
	return HTTPConfig{
		StepTimeout: 20 * time.Second,
		FlowTimeout: 2 * time.Minute,
		UserAgent:   "go-auth-client/1.0",
		MaxBodySize: 2 << 20,
	}
}
