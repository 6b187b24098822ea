// Package auth turns credentials or identity tokens into a persisted
// session. Every session write goes through sessions.Store.
package auth

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/go-auth-client/internal/clock"
	"github.com/jrsteele09/go-auth-client/internal/config"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/transport"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Credentials live for one handshake call and are never persisted or logged.
type Credentials struct {
	Email    string
	Password string
}

func (c Credentials) validate() error {
	if strings.TrimSpace(c.Email) == "" || c.Password == "" {
		return ErrMissingCredentials
	}
	return nil
}

// TeamMemberGrant identifies the team member whose delegated access is
// requested.
type TeamMemberGrant struct {
	Email    string
	Password string
	Code     string
}

// Service is the handshake orchestrator. Only one login attempt runs at a
// time; a concurrent attempt is rejected with ErrLoginInProgress.
type Service struct {
	store       *sessions.Store
	client      *transport.Client
	api         config.APIConfig
	provider    config.ProviderConfig
	browser     config.BrowserConfig
	flowTimeout time.Duration

	push       PushRegistrar
	cache      ContentCache
	idVerifier IDTokenVerifier
	clock      clock.Clock
	nowTime    func() time.Time

	inFlight atomic.Bool
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// WithClock sets the clock used by browser-driven logins.
func WithClock(c clock.Clock) ServiceOption {
	return func(s *Service) {
		s.clock = c
	}
}

func WithPushRegistrar(p PushRegistrar) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.push = p
		}
	}
}

func WithContentCache(c ContentCache) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithIDTokenVerifier enables local ID token verification for OAuth logins.
func WithIDTokenVerifier(v IDTokenVerifier) ServiceOption {
	return func(s *Service) {
		s.idVerifier = v
	}
}

// NewService creates the orchestrator.
func NewService(cfg config.Config, store *sessions.Store, client *transport.Client, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("[NewService] store is required")
	}
	if client == nil {
		return nil, errors.New("[NewService] client is required")
	}
	s := &Service{
		store:       store,
		client:      client,
		api:         cfg.API,
		provider:    cfg.Provider,
		browser:     cfg.Browser,
		flowTimeout: cfg.HTTP.FlowTimeout,
		push:        noopPush{},
		cache:       noopCache{},
		clock:       clock.Real(),
		nowTime:     time.Now,
	}
	if s.flowTimeout <= 0 {
		s.flowTimeout = 2 * time.Minute
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

func (s *Service) acquire() error {
	if !s.inFlight.CompareAndSwap(false, true) {
		return apperrors.ErrLoginInProgress
	}
	return nil
}

func (s *Service) release() {
	s.inFlight.Store(false)
}

// Login signs in with first-party email and password.
func (s *Service) Login(ctx context.Context, creds Credentials) (*sessions.Session, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	session, err := s.login(ctx, creds)
	return session, finish(err)
}

func (s *Service) login(ctx context.Context, creds Credentials) (*sessions.Session, error) {
	if err := creds.validate(); err != nil {
		return nil, err
	}
	resp, err := s.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    s.api.SignInURL,
		JSON:   map[string]string{"email": strings.TrimSpace(creds.Email), "password": creds.Password},
	})
	if err != nil {
		return nil, apperrors.Normalize(err)
	}
	log.Debug().Str("endpoint", "sign_in").Int("status", resp.Status).Msg("sign-in response")
	if err := checkResponse(resp, apperrors.ErrInvalidCredentials); err != nil {
		return nil, err
	}
	return s.createFromBody(ctx, resp.Body, "", nil)
}

// LoginWithOAuthToken signs in with a native OAuth result. The ID token is
// taken from the "id_token" extra and, when a verifier is configured,
// checked locally before the server verifies it.
func (s *Service) LoginWithOAuthToken(ctx context.Context, providerName string, tok *oauth2.Token) (*sessions.Session, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	session, err := s.loginWithOAuthToken(ctx, providerName, tok)
	return session, finish(err)
}

func (s *Service) loginWithOAuthToken(ctx context.Context, providerName string, tok *oauth2.Token) (*sessions.Session, error) {
	if tok == nil {
		return nil, ErrMissingToken
	}
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" && tok.AccessToken == "" {
		return nil, ErrMissingToken
	}
	if s.idVerifier != nil && idToken != "" {
		if _, err := s.idVerifier.Verify(ctx, idToken); err != nil {
			log.Warn().Err(err).Str("provider", providerName).Msg("identity token failed local verification")
			return nil, apperrors.Wrap(ErrIdentityRejected.Kind, ErrIdentityRejected.Message, err)
		}
	}

	resp, err := s.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    s.api.OAuthVerifyURL,
		JSON: map[string]string{
			"provider":    providerName,
			"idToken":     idToken,
			"accessToken": tok.AccessToken,
		},
	})
	if err != nil {
		return nil, apperrors.Normalize(err)
	}
	log.Debug().Str("endpoint", "oauth_verify").Int("status", resp.Status).Msg("oauth verify response")
	if err := checkResponse(resp, ErrIdentityRejected); err != nil {
		return nil, err
	}
	return s.createFromBody(ctx, resp.Body, "", nil)
}

// LoginWithProviderToken exchanges a provider token obtained out of band,
// such as one captured by the browser driver.
func (s *Service) LoginWithProviderToken(ctx context.Context, value string, fields map[string]string) (*sessions.Session, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	value = strings.TrimSpace(value)
	if value == "" || value == sessions.CookieSessionMarker {
		return nil, finish(ErrMissingToken)
	}
	session, err := s.exchange(ctx, token.Candidate{Value: value, Source: token.SourceBareString}, fields)
	return session, finish(err)
}

// exchange converts a provider token into an application session.
func (s *Service) exchange(ctx context.Context, c token.Candidate, fields map[string]string) (*sessions.Session, error) {
	payload := map[string]string{"token": c.Value}
	if s.provider.Name != "" {
		payload["provider"] = s.provider.Name
	}
	for k, v := range fields {
		if _, exists := payload[k]; !exists {
			payload[k] = v
		}
	}
	resp, err := s.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    s.api.TokenExchangeURL,
		JSON:   payload,
		Bearer: c.Value,
	})
	if err != nil {
		return nil, apperrors.Normalize(err)
	}
	log.Debug().Str("endpoint", "token_exchange").Str("token", c.Redacted()).Int("status", resp.Status).Msg("token exchange response")
	if err := checkResponse(resp, apperrors.ErrInvalidCredentials); err != nil {
		return nil, err
	}
	return s.createFromBody(ctx, resp.Body, c.Value, fields)
}

// createFromBody normalizes a login response and starts a new session. A
// token-only session is hydrated with a best-effort session check.
func (s *Service) createFromBody(ctx context.Context, body []byte, fallbackToken string, fields map[string]string) (*sessions.Session, error) {
	n, ok := s.normalizeBody(body, fallbackToken)
	if !ok {
		return nil, apperrors.ErrTokenNotFound
	}
	if n.SettingID == nil {
		n.SettingID = utils.NonEmpty(utils.FirstNonEmpty(fields["settingId"], fields["setting_id"]))
	}
	if err := s.store.CreateSession(n); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "unable to save session", err)
	}
	if err := s.store.MarkSessionVerified(); err != nil {
		log.Warn().Err(err).Msg("failed to mark session verified")
	}
	if n.User == nil {
		if _, err := s.checkSession(ctx); err != nil {
			log.Warn().Err(err).Msg("session hydration failed, keeping token-only session")
		}
	}
	log.Info().Bool("hasToken", n.Token != nil).Bool("hasUser", n.User != nil).Msg("session created")

	session, err := s.store.RestoreSession()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "unable to read session", err)
	}
	if session == nil {
		return nil, apperrors.ErrSessionExpired
	}
	return session, nil
}

// CheckSession asks the server for the authoritative session and merges it
// locally. A 401 or 403 destroys the local session.
func (s *Service) CheckSession(ctx context.Context) (*sessions.Session, error) {
	session, err := s.checkSession(ctx)
	return session, finish(err)
}

func (s *Service) checkSession(ctx context.Context) (*sessions.Session, error) {
	current, err := s.store.RestoreSession()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "unable to read session", err)
	}
	bearer := ""
	if current != nil {
		bearer = current.BearerToken()
	}

	resp, err := s.client.Do(ctx, transport.Request{Method: http.MethodGet, URL: s.api.SessionURL, Bearer: bearer})
	if err != nil {
		return nil, apperrors.Normalize(err)
	}
	log.Debug().Str("endpoint", "session").Int("status", resp.Status).Msg("session check response")

	if resp.IsUnauthorized() {
		log.Info().Int("status", resp.Status).Msg("server rejected session, destroying local session")
		s.store.DestroySession()
		return nil, apperrors.ErrSessionExpired
	}
	if !resp.IsSuccess() {
		return nil, apperrors.Wrap(apperrors.KindProviderUnavailable, apperrors.ErrProviderUnavailable.Message,
			errors.Errorf("unexpected status %d", resp.Status))
	}
	if msg, failed := token.JSONError(resp.Body); failed {
		log.Info().Msg("server reported no session, destroying local session")
		s.store.DestroySession()
		return nil, apperrors.New(apperrors.KindSessionExpired, serverMessage(msg, apperrors.ErrSessionExpired))
	}

	n, ok := s.normalizeBody(resp.Body, "")
	switch {
	case !ok && current == nil:
		return nil, apperrors.ErrSessionExpired
	case !ok:
		// nothing to merge, the local session stands
	case current == nil:
		if n.Token == nil {
			n.Token = utils.Ptr(sessions.CookieSessionMarker)
		}
		if err := s.store.CreateSession(n); err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, "unable to save session", err)
		}
	default:
		update := sessions.SessionUpdate{
			Token:          n.Token,
			User:           n.User,
			SettingID:      n.SettingID,
			TokenExpiresAt: n.TokenExpiresAt,
		}
		if update.Token == nil && current.Token == nil {
			update.Token = utils.Ptr(sessions.CookieSessionMarker)
		}
		if err := s.store.UpdateSession(update); err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, "unable to save session", err)
		}
	}

	if err := s.store.MarkSessionVerified(); err != nil {
		log.Warn().Err(err).Msg("failed to mark session verified")
	}
	session, err := s.store.RestoreSession()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "unable to read session", err)
	}
	return session, nil
}

// EnsureSession restores the local session, drops it if it expired locally
// and re-verifies it with the server at most once per verify interval. A
// server that cannot be reached leaves the local session in place.
func (s *Service) EnsureSession(ctx context.Context) (*sessions.Session, error) {
	current, err := s.store.RestoreSession()
	if err != nil {
		return nil, finish(apperrors.Wrap(apperrors.KindInternal, "unable to read session", err))
	}
	if current == nil {
		return nil, apperrors.ErrSessionExpired
	}
	if current.Token != nil && !s.store.IsValid() {
		return nil, apperrors.ErrSessionExpired
	}
	if !s.store.ShouldVerifyWithServer() {
		return current, nil
	}

	verified, err := s.checkSession(ctx)
	switch {
	case err == nil:
		return verified, nil
	case errors.Is(err, apperrors.ErrSessionExpired):
		return nil, finish(err)
	default:
		log.Warn().Err(err).Msg("session verification unavailable, using local session")
		return current, nil
	}
}

// LoginAsTeamMember obtains delegated access for a team member. The primary
// session is kept; the overlay is stored next to it.
func (s *Service) LoginAsTeamMember(ctx context.Context, grant TeamMemberGrant) (*sessions.TeamMemberOverlay, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	overlay, err := s.loginAsTeamMember(ctx, grant)
	return overlay, finish(err)
}

func (s *Service) loginAsTeamMember(ctx context.Context, grant TeamMemberGrant) (*sessions.TeamMemberOverlay, error) {
	if strings.TrimSpace(grant.Email) == "" || (grant.Password == "" && grant.Code == "") {
		return nil, ErrMissingCredentials
	}
	current, err := s.store.RestoreSession()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "unable to read session", err)
	}
	if current == nil {
		return nil, apperrors.ErrSessionExpired
	}

	body := map[string]string{"email": strings.TrimSpace(grant.Email)}
	if grant.Password != "" {
		body["password"] = grant.Password
	}
	if grant.Code != "" {
		body["code"] = grant.Code
	}
	resp, err := s.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    s.api.TeamMemberURL,
		JSON:   body,
		Bearer: current.BearerToken(),
	})
	if err != nil {
		return nil, apperrors.Normalize(err)
	}
	log.Debug().Str("endpoint", "team_member").Int("status", resp.Status).Msg("team member response")
	if err := checkResponse(resp, apperrors.ErrInvalidCredentials); err != nil {
		return nil, err
	}

	overlay := parseTeamMember(resp.Body)
	overlay.LoggedIn = true
	if overlay.Email == "" {
		overlay.Email = strings.TrimSpace(grant.Email)
	}
	if err := s.store.SaveTeamMember(overlay); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "unable to save team member", err)
	}
	return &overlay, nil
}

// ExitTeamMember drops delegated access and keeps the primary session.
func (s *Service) ExitTeamMember() error {
	if err := s.store.ClearTeamMember(); err != nil {
		return finish(apperrors.Wrap(apperrors.KindInternal, "unable to clear team member", err))
	}
	return nil
}

// Logout unregisters push, signs out remotely and then always clears local
// state. A failed remote call is reported as ErrLogoutPartialFailure.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.push.Unregister(ctx); err != nil {
		log.Warn().Err(err).Msg("push unregister failed")
	}

	var remoteErr error
	if s.api.LogoutURL != "" {
		resp, err := s.client.Do(ctx, transport.Request{
			Method: http.MethodPost,
			URL:    s.api.LogoutURL,
			Bearer: s.store.AuthorizationToken(),
		})
		switch {
		case err != nil:
			remoteErr = err
		case !resp.IsSuccess() && !resp.IsUnauthorized():
			remoteErr = errors.Errorf("logout status %d", resp.Status)
		}
	}

	s.store.DestroySession()
	if err := s.cache.Clear(ctx); err != nil {
		log.Warn().Err(err).Msg("content cache clear failed")
	}
	if err := s.client.ResetCookies(); err != nil {
		log.Warn().Err(err).Msg("cookie reset failed")
	}

	if remoteErr != nil {
		log.Warn().Err(remoteErr).Msg("remote logout failed, local session cleared")
		return apperrors.Wrap(apperrors.KindLogoutPartialFailure, apperrors.ErrLogoutPartialFailure.Message, remoteErr)
	}
	log.Info().Msg("logged out")
	return nil
}
