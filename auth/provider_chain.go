package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/transport"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Step names used in logs.
const (
	stepLoginPage     = "login_page"
	stepLoginPost     = "login_post"
	stepGrantPost     = "access_grant_post"
	stepGrantGet      = "access_grant_get"
	stepSessionVerify = "session_verify"
	stepExchange      = "token_exchange"
)

// providerChain runs the provider fallback steps for one attempt. Failures
// inside a step are logged and swallowed; only an explicit credential
// rejection stops the chain early.
type providerChain struct {
	s      *Service
	log    zerolog.Logger
	params []string
	// responded is set once any provider endpoint answered over HTTP.
	responded bool
}

// LoginWithProvider signs in with provider email and password using the
// provider's browser-style login, falling back through the access-grant
// and session-verify endpoints until a token is found.
func (s *Service) LoginWithProvider(ctx context.Context, creds Credentials) (*sessions.Session, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	session, err := s.loginWithProvider(ctx, creds)
	return session, finish(err)
}

func (s *Service) loginWithProvider(ctx context.Context, creds Credentials) (*sessions.Session, error) {
	if err := creds.validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.flowTimeout)
	defer cancel()

	if err := s.client.ResetCookies(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "unable to start login", err)
	}
	c := &providerChain{
		s:      s,
		log:    log.With().Str("attempt", uuid.NewString()).Str("provider", s.provider.Name).Logger(),
		params: s.browser.TokenParams,
	}
	c.log.Info().Msg("provider login started")

	csrf := c.fetchLoginPage(ctx)

	cand, found, err := c.postCredentials(ctx, creds, csrf)
	if err != nil {
		return nil, err
	}
	if !found && ctx.Err() == nil {
		cand, found = c.accessGrant(ctx, http.MethodPost, stepGrantPost)
	}
	if !found && ctx.Err() == nil {
		cand, found = c.accessGrant(ctx, http.MethodGet, stepGrantGet)
	}
	if !found && ctx.Err() == nil {
		cand, found = c.verifySession(ctx)
	}

	if !found {
		if err := ctx.Err(); err != nil {
			return nil, flowError(err)
		}
		if !c.responded {
			return nil, apperrors.ErrProviderUnavailable
		}
		c.log.Warn().Msg("provider login exhausted every step without a token")
		return nil, apperrors.ErrTokenNotFound
	}

	c.log.Info().Str("step", stepExchange).Str("token", cand.Redacted()).Msg("provider token acquired")
	session, err := s.exchange(ctx, cand, nil)
	if err != nil && ctx.Err() != nil {
		return nil, flowError(ctx.Err())
	}
	return session, err
}

func flowError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(ErrFlowTimeout.Kind, ErrFlowTimeout.Message, err)
	}
	return apperrors.Normalize(err)
}

func (c *providerChain) do(ctx context.Context, step string, req transport.Request) (*transport.Response, bool) {
	if req.URL == "" {
		return nil, false
	}
	resp, err := c.s.client.Do(ctx, req)
	if err != nil {
		c.log.Debug().Err(err).Str("step", step).Msg("provider step failed, continuing")
		return nil, false
	}
	c.responded = true
	c.log.Debug().Str("step", step).Int("status", resp.Status).Msg("provider step response")
	return resp, true
}

// fetchLoginPage primes the cookie jar and extracts an anti-forgery token.
func (c *providerChain) fetchLoginPage(ctx context.Context) antiForgery {
	resp, ok := c.do(ctx, stepLoginPage, transport.Request{Method: http.MethodGet, URL: c.s.provider.LoginPageURL})
	if !ok {
		return antiForgery{}
	}
	csrf, found := extractAntiForgery(resp.Body)
	c.log.Debug().Str("step", stepLoginPage).Int("cookies", len(c.s.client.Cookies(c.s.provider.LoginURL))).Msg("login page loaded")
	if !found {
		c.log.Debug().Str("step", stepLoginPage).Msg("no anti-forgery token on login page")
	}
	return csrf
}

// postCredentials submits the login form. It returns an error only when the
// provider explicitly rejected the credentials.
func (c *providerChain) postCredentials(ctx context.Context, creds Credentials, csrf antiForgery) (token.Candidate, bool, error) {
	form := url.Values{
		"email":    {strings.TrimSpace(creds.Email)},
		"password": {creds.Password},
	}
	header := http.Header{}
	if csrf.Value != "" {
		form.Set(csrf.Field, csrf.Value)
		header.Set("X-CSRF-TOKEN", csrf.Value)
	}
	resp, ok := c.do(ctx, stepLoginPost, transport.Request{
		Method: http.MethodPost,
		URL:    c.s.provider.LoginURL,
		Form:   form,
		Header: header,
	})
	if !ok {
		return token.Candidate{}, false, nil
	}

	if token.IsJSON(resp.Body) {
		msg, failed := token.JSONError(resp.Body)
		if !failed && rejectedStatus(resp.Status) {
			msg, _ = token.FirstString(resp.Body, token.ErrorMessagePaths...)
			failed = true
		}
		if failed {
			c.log.Info().Str("step", stepLoginPost).Int("status", resp.Status).Msg("provider rejected credentials")
			return token.Candidate{}, false, apperrors.New(apperrors.KindInvalidCredentials, serverMessage(msg, apperrors.ErrInvalidCredentials))
		}
	}
	if cand, ok := token.FromJSON(resp.Body); ok {
		return cand, true, nil
	}
	if resp.IsRedirect() {
		cand, ok := token.FromLocation(resp.Header, resp.URL, c.params)
		return cand, ok, nil
	}
	if !token.IsJSON(resp.Body) {
		page := strings.ToLower(string(resp.Body))
		for _, phrase := range c.s.provider.FailurePhrases {
			if phrase != "" && strings.Contains(page, strings.ToLower(phrase)) {
				c.log.Info().Str("step", stepLoginPost).Msg("provider login page reported a failure")
				return token.Candidate{}, false, apperrors.ErrInvalidCredentials
			}
		}
	}
	return token.Candidate{}, false, nil
}

// accessGrant asks the project-scoped access-grant endpoint for a token
// using the cookies gathered so far.
func (c *providerChain) accessGrant(ctx context.Context, method, step string) (token.Candidate, bool) {
	req := transport.Request{Method: method, URL: c.s.provider.AccessGrantEndpoint(method == http.MethodGet)}
	if method != http.MethodGet && c.s.provider.ProjectID != "" {
		req.JSON = map[string]string{"projectId": c.s.provider.ProjectID}
	}
	resp, ok := c.do(ctx, step, req)
	if !ok {
		return token.Candidate{}, false
	}
	if cand, ok := token.FromJSON(resp.Body); ok {
		return cand, true
	}
	if cand, ok := token.FromRedirectBody(resp.Body, c.params); ok {
		return cand, true
	}
	return token.FromLocation(resp.Header, resp.URL, c.params)
}

// verifySession is the last resort: the provider's own session endpoint.
func (c *providerChain) verifySession(ctx context.Context) (token.Candidate, bool) {
	resp, ok := c.do(ctx, stepSessionVerify, transport.Request{Method: http.MethodGet, URL: c.s.provider.SessionVerifyURL})
	if !ok {
		return token.Candidate{}, false
	}
	if cand, ok := token.FromJSON(resp.Body); ok {
		return cand, true
	}
	return token.FromLocation(resp.Header, resp.URL, c.params)
}
