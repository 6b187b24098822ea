package auth

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-client/browser"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/rs/zerolog/log"
)

// Callbacks is the UI surface of a browser-driven login. Exactly one of
// OnSuccess and OnError fires per attempt. OnClose fires when the user
// dismisses the view. Nil callbacks are skipped.
type Callbacks struct {
	OnSuccess func(*sessions.Session)
	OnError   func(*apperrors.Error)
	OnClose   func()
	OnPhase   func(browser.Phase)
}

// StartBrowserLogin drives view through the provider login and exchanges the
// captured token. creds are required in browser.ModeInjection only. The
// returned Driver must receive the view's navigation and message events.
// The attempt holds the single-flight slot until a result is reported.
func (s *Service) StartBrowserLogin(ctx context.Context, mode browser.Mode, view browser.View, creds Credentials, cb Callbacks) (*browser.Driver, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	if mode == browser.ModeInjection {
		if err := creds.validate(); err != nil {
			s.release()
			return nil, err
		}
	}

	attempt := &browserAttempt{s: s, ctx: ctx, cb: cb}
	driver, err := browser.NewDriver(browser.NewConfig(mode, s.browser, s.provider), view, attempt, browser.WithClock(s.clock))
	if err != nil {
		s.release()
		return nil, finish(apperrors.Wrap(apperrors.KindInternal, "unable to start browser login", err))
	}
	attempt.driver = driver

	if err := driver.Start(browser.Credentials{Email: creds.Email, Password: creds.Password}); err != nil {
		s.release()
		return nil, finish(apperrors.Wrap(apperrors.KindInternal, "unable to start browser login", err))
	}
	return driver, nil
}

// browserAttempt adapts driver events to Callbacks.
type browserAttempt struct {
	s      *Service
	ctx    context.Context
	cb     Callbacks
	driver *browser.Driver
	once   sync.Once
}

var _ browser.Listener = (*browserAttempt)(nil)

func (a *browserAttempt) OnPhase(p browser.Phase) {
	if a.cb.OnPhase != nil {
		a.cb.OnPhase(p)
	}
}

func (a *browserAttempt) OnToken(c token.Candidate, fields map[string]string) {
	go func() {
		session, err := a.s.exchange(a.ctx, c, fields)
		a.driver.Finish(err)
		if err != nil {
			log.Warn().Err(err).Msg("browser login token exchange failed")
			a.report(nil, apperrors.Normalize(err))
			return
		}
		a.report(session, nil)
	}()
}

func (a *browserAttempt) OnFailed(err *apperrors.Error) {
	a.report(nil, err)
}

func (a *browserAttempt) OnClose() {
	if a.cb.OnClose != nil {
		a.cb.OnClose()
	}
}

func (a *browserAttempt) report(session *sessions.Session, err *apperrors.Error) {
	a.once.Do(func() {
		a.s.release()
		if err != nil {
			if a.cb.OnError != nil {
				a.cb.OnError(err)
			}
			return
		}
		if a.cb.OnSuccess != nil {
			a.cb.OnSuccess(session)
		}
	})
}
