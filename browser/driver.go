// Package browser drives an embedded browser view through a provider login
// it does not control and reports the captured session token.
package browser

import (
	"net/url"
	"strings"
	"sync"

	"github.com/jrsteele09/go-auth-client/internal/clock"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	errConnectionTooSlow = apperrors.New(apperrors.KindTimeout, "connection too slow")
	errFlowTooLong       = apperrors.New(apperrors.KindTimeout, "login took too long")
	errUnableToConnect   = apperrors.New(apperrors.KindProviderUnavailable, "unable to connect")
)

// View is the platform browser surface. Implementations may call back into
// the Driver synchronously from any method.
type View interface {
	Load(rawURL string)
	Inject(script string)
	SetVisible(visible bool)
	Close()
}

// Listener receives driver outcomes. OnToken and OnFailed are mutually
// exclusive and each fires at most once.
type Listener interface {
	OnPhase(Phase)
	// OnToken hands over the captured token and any accompanying URL
	// fields. The attempt stays in PhaseCompleting until Finish is called.
	OnToken(candidate token.Candidate, fields map[string]string)
	OnFailed(err *apperrors.Error)
	// OnClose fires when the user dismisses the view before completion.
	OnClose()
}

// Credentials are held in memory for the life of one attempt.
type Credentials struct {
	Email    string
	Password string
}

// Driver is the login state machine. Every event method is safe to call
// from any goroutine; listener and view calls are made without the driver
// lock held.
type Driver struct {
	cfg      Config
	view     View
	listener Listener
	clock    clock.Clock

	mu    sync.Mutex
	phase Phase
	creds Credentials

	captured       bool
	submitted      bool
	clicked        bool
	grantScheduled bool
	injections     int

	// Each timer has a generation; a callback from an older generation is
	// ignored even if Stop lost the race.
	loadTimer  clock.Timer
	loadGen    int
	flowTimer  clock.Timer
	retryTimer clock.Timer
	retryGen   int
	grantTimer clock.Timer
}

// DriverOption defines a function type to modify the Driver instance.
type DriverOption func(*Driver)

// WithClock sets the clock used for every timeout (primarily for testing)
func WithClock(c clock.Clock) DriverOption {
	return func(d *Driver) {
		d.clock = c
	}
}

// NewDriver creates a Driver for one login attempt.
func NewDriver(cfg Config, view View, listener Listener, options ...DriverOption) (*Driver, error) {
	if view == nil {
		return nil, errors.New("[NewDriver] view is required")
	}
	if listener == nil {
		return nil, errors.New("[NewDriver] listener is required")
	}
	if strings.TrimSpace(cfg.LoginURL) == "" {
		return nil, errors.New("[NewDriver] login URL is required")
	}
	cfg.applyDefaults()
	d := &Driver{
		cfg:      cfg,
		view:     view,
		listener: listener,
		clock:    clock.Real(),
	}
	for _, opt := range options {
		opt(d)
	}
	return d, nil
}

// effects collects side effects to run once the lock is released.
type effects []func()

func (e *effects) add(f func()) { *e = append(*e, f) }

func (e effects) run() {
	for _, f := range e {
		f()
	}
}

// Phase returns the current phase.
func (d *Driver) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

// Start begins the attempt. creds are only used in ModeInjection.
func (d *Driver) Start(creds Credentials) error {
	var fx effects
	d.mu.Lock()
	if d.phase != PhaseIdle {
		d.mu.Unlock()
		return errors.New("[Driver.Start] attempt already started")
	}
	d.creds = creds
	d.setPhaseLocked(&fx, PhaseConnecting)
	d.flowTimer = d.clock.AfterFunc(d.cfg.FlowTimeout, d.onFlowTimeout)
	d.armLoadLocked()
	loginURL := d.cfg.LoginURL
	fx.add(func() {
		d.view.SetVisible(false)
		d.view.Load(loginURL)
	})
	d.mu.Unlock()

	log.Info().Str("mode", d.cfg.Mode.String()).Msg("browser login started")
	fx.run()
	return nil
}

// ShouldStartLoad inspects a navigation before it happens and reports
// whether the view may load it. Custom-scheme navigations are never loaded.
func (d *Driver) ShouldStartLoad(rawURL string) bool {
	var fx effects
	d.mu.Lock()
	allow := d.shouldStartLoadLocked(&fx, rawURL)
	d.mu.Unlock()
	fx.run()
	return allow
}

func (d *Driver) shouldStartLoadLocked(fx *effects, rawURL string) bool {
	if d.phase.Terminal() || d.captured {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if d.isAppScheme(u) {
		if c, ok := token.FromURL(rawURL, d.cfg.TokenParams); ok {
			d.captureLocked(fx, c, token.Fields(rawURL, d.cfg.TokenParams))
		} else {
			log.Debug().Str("scheme", u.Scheme).Msg("cancelled app-scheme navigation without a token")
		}
		return false
	}
	if d.observeLocked(fx, u, rawURL) {
		return false
	}
	d.armLoadLocked()
	return true
}

// LoadStarted records that the view began loading rawURL.
func (d *Driver) LoadStarted(rawURL string) {
	var fx effects
	d.mu.Lock()
	if !d.phase.Terminal() && !d.captured {
		if u, err := url.Parse(rawURL); err == nil && !d.observeLocked(&fx, u, rawURL) {
			d.armLoadLocked()
		}
	}
	d.mu.Unlock()
	fx.run()
}

// LoadFinished records a completed page load and drives the page.
func (d *Driver) LoadFinished(rawURL string) {
	var fx effects
	d.mu.Lock()
	d.loadFinishedLocked(&fx, rawURL)
	d.mu.Unlock()
	fx.run()
}

func (d *Driver) loadFinishedLocked(fx *effects, rawURL string) {
	if d.phase.Terminal() || d.captured {
		return
	}
	d.disarmLoadLocked()
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	if d.observeLocked(fx, u, rawURL) {
		return
	}
	if !d.onProvider(u) {
		return
	}
	switch d.cfg.Mode {
	case ModeInjection:
		if !d.submitted && d.injections == 0 {
			d.injectLocked(fx)
		}
	case ModeRedirect:
		if !d.clicked {
			d.clicked = true
			script, err := ContinueScript()
			if err != nil {
				d.failLocked(fx, apperrors.Wrap(apperrors.KindInternal, "unable to prepare login page", err))
				return
			}
			fx.add(func() { d.view.Inject(script) })
		}
	}
}

// LoadFailed reports a transport-level failure. It fails the attempt
// immediately.
func (d *Driver) LoadFailed(rawURL string, cause error) {
	var fx effects
	d.mu.Lock()
	if !d.phase.Terminal() && !d.captured {
		log.Warn().Err(cause).Str("host", hostOf(rawURL)).Msg("browser load failed")
		d.failLocked(&fx, errUnableToConnect)
	}
	d.mu.Unlock()
	fx.run()
}

// Message handles a message posted by an injected script.
func (d *Driver) Message(msg string) {
	var fx effects
	d.mu.Lock()
	d.messageLocked(&fx, strings.TrimSpace(msg))
	d.mu.Unlock()
	fx.run()
}

func (d *Driver) messageLocked(fx *effects, msg string) {
	if d.phase.Terminal() || d.captured || d.cfg.Mode != ModeInjection {
		return
	}
	switch msg {
	case MessageSubmitted:
		if d.submitted {
			return
		}
		d.submitted = true
		d.stopRetryLocked()
		d.armLoadLocked()
		log.Debug().Int("attempt", d.injections).Msg("credentials submitted")
	case MessageFieldsNotFound:
		if d.submitted || d.retryTimer != nil {
			return
		}
		if d.injections >= d.cfg.MaxInjections {
			log.Warn().Int("injections", d.injections).Msg("login form not found")
			d.failLocked(fx, apperrors.ErrFormNotFound)
			return
		}
		d.retryGen++
		gen := d.retryGen
		d.retryTimer = d.clock.AfterFunc(d.cfg.InjectionBackoff, func() { d.onRetry(gen) })
	default:
		log.Debug().Msg("ignoring unknown script message")
	}
}

// Dismiss handles the user closing the view. Before PhaseCompleting it
// aborts the attempt: OnClose fires, then OnFailed with a cancellation.
// Later it is a no-op.
func (d *Driver) Dismiss() {
	var fx effects
	d.mu.Lock()
	if d.phase == PhaseIdle || d.phase >= PhaseCompleting || d.captured {
		d.mu.Unlock()
		return
	}
	d.stopTimersLocked()
	d.phase = PhaseFailed
	d.creds = Credentials{}
	fx.add(func() {
		d.listener.OnPhase(PhaseFailed)
		d.listener.OnClose()
		d.listener.OnFailed(apperrors.ErrCanceled)
	})
	d.mu.Unlock()
	log.Info().Msg("browser login dismissed")
	fx.run()
}

// Finish ends an attempt that reached PhaseCompleting, once the captured
// token has been exchanged. It closes the view.
func (d *Driver) Finish(err error) {
	var fx effects
	d.mu.Lock()
	if d.phase != PhaseCompleting {
		d.mu.Unlock()
		return
	}
	d.stopTimersLocked()
	next := PhaseDone
	if err != nil {
		next = PhaseFailed
	}
	d.setPhaseLocked(&fx, next)
	fx.add(d.view.Close)
	d.mu.Unlock()
	fx.run()
}

func (d *Driver) onProvider(u *url.URL) bool {
	return hostMatches(u.Hostname(), d.cfg.ProviderDomain)
}

func (d *Driver) isAppScheme(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, d.cfg.RedirectScheme)
}

func (d *Driver) isPostLogin(u *url.URL) bool {
	if d.cfg.AppHost == "" || !hostMatches(u.Hostname(), d.cfg.AppHost) {
		return false
	}
	for _, p := range d.cfg.PostLoginPaths {
		if p != "" && strings.HasPrefix(u.Path, p) {
			return true
		}
	}
	return false
}

// observeLocked derives transitions from a navigation URL. It reports true
// when the navigation ended the driving of the page: a token was captured
// or the attempt failed.
func (d *Driver) observeLocked(fx *effects, u *url.URL, rawURL string) bool {
	if strings.EqualFold(u.Scheme, "http") || strings.EqualFold(u.Scheme, "https") {
		if c, ok := token.FromURL(rawURL, d.cfg.TokenParams); ok {
			d.captureLocked(fx, c, token.Fields(rawURL, d.cfg.TokenParams))
			return true
		}
	}

	onProvider := d.onProvider(u)
	if d.cfg.Mode == ModeRedirect {
		fx.add(func() { d.view.SetVisible(onProvider) })
	}
	if onProvider && d.phase < PhaseProviderInteraction {
		d.setPhaseLocked(fx, PhaseProviderInteraction)
	}

	if !onProvider && d.isPostLogin(u) && !d.grantScheduled {
		d.grantScheduled = true
		d.setPhaseLocked(fx, PhaseVerifying)
		if d.cfg.AccessGrantURL == "" {
			d.failLocked(fx, apperrors.ErrTokenNotFound)
			return true
		}
		d.grantTimer = d.clock.AfterFunc(d.cfg.RedirectDelay, d.onGrantRedirect)
	}
	return false
}

func (d *Driver) captureLocked(fx *effects, c token.Candidate, fields map[string]string) {
	if d.captured {
		return
	}
	d.captured = true
	d.creds = Credentials{}
	d.disarmLoadLocked()
	d.stopRetryLocked()
	if d.grantTimer != nil {
		d.grantTimer.Stop()
		d.grantTimer = nil
	}
	log.Info().Str("token", c.Redacted()).Msg("browser captured session token")
	d.setPhaseLocked(fx, PhaseCompleting)
	fx.add(func() { d.listener.OnToken(c, fields) })
}

func (d *Driver) injectLocked(fx *effects) {
	script, err := CredentialScript(d.creds.Email, d.creds.Password, d.cfg.SettleDelay)
	if err != nil {
		d.failLocked(fx, apperrors.Wrap(apperrors.KindInternal, "unable to prepare login page", err))
		return
	}
	d.injections++
	log.Debug().Int("attempt", d.injections).Msg("injecting credentials")
	fx.add(func() { d.view.Inject(script) })
}

func (d *Driver) failLocked(fx *effects, err *apperrors.Error) {
	if d.phase.Terminal() {
		return
	}
	d.stopTimersLocked()
	d.creds = Credentials{}
	d.setPhaseLocked(fx, PhaseFailed)
	fx.add(func() {
		d.view.Close()
		d.listener.OnFailed(err)
	})
}

func (d *Driver) setPhaseLocked(fx *effects, next Phase) {
	if next == d.phase {
		return
	}
	d.phase = next
	log.Debug().Str("phase", next.String()).Msg("browser login phase")
	fx.add(func() { d.listener.OnPhase(next) })
}

func (d *Driver) armLoadLocked() {
	d.disarmLoadLocked()
	d.loadGen++
	gen := d.loadGen
	d.loadTimer = d.clock.AfterFunc(d.cfg.LoadTimeout, func() { d.onLoadTimeout(gen) })
}

func (d *Driver) disarmLoadLocked() {
	if d.loadTimer != nil {
		d.loadTimer.Stop()
		d.loadTimer = nil
	}
	d.loadGen++
}

func (d *Driver) stopRetryLocked() {
	if d.retryTimer != nil {
		d.retryTimer.Stop()
		d.retryTimer = nil
	}
	d.retryGen++
}

func (d *Driver) stopTimersLocked() {
	d.disarmLoadLocked()
	d.stopRetryLocked()
	if d.flowTimer != nil {
		d.flowTimer.Stop()
		d.flowTimer = nil
	}
	if d.grantTimer != nil {
		d.grantTimer.Stop()
		d.grantTimer = nil
	}
}

func (d *Driver) onLoadTimeout(gen int) {
	var fx effects
	d.mu.Lock()
	if gen == d.loadGen && !d.phase.Terminal() && !d.captured {
		log.Warn().Dur("timeout", d.cfg.LoadTimeout).Msg("browser page load timed out")
		d.loadTimer = nil
		d.failLocked(&fx, errConnectionTooSlow)
	}
	d.mu.Unlock()
	fx.run()
}

func (d *Driver) onFlowTimeout() {
	var fx effects
	d.mu.Lock()
	if d.flowTimer != nil && !d.phase.Terminal() && !d.captured {
		log.Warn().Dur("timeout", d.cfg.FlowTimeout).Msg("browser login flow timed out")
		d.flowTimer = nil
		d.failLocked(&fx, errFlowTooLong)
	}
	d.mu.Unlock()
	fx.run()
}

func (d *Driver) onRetry(gen int) {
	var fx effects
	d.mu.Lock()
	if gen == d.retryGen && !d.phase.Terminal() && !d.captured && !d.submitted {
		d.retryTimer = nil
		d.injectLocked(&fx)
	}
	d.mu.Unlock()
	fx.run()
}

func (d *Driver) onGrantRedirect() {
	var fx effects
	d.mu.Lock()
	if d.grantTimer != nil && d.phase == PhaseVerifying && !d.captured {
		d.grantTimer = nil
		script, err := RedirectScript(d.cfg.AccessGrantURL)
		if err != nil {
			d.failLocked(&fx, apperrors.Wrap(apperrors.KindInternal, "unable to prepare redirect", err))
		} else {
			d.setPhaseLocked(&fx, PhaseCompleting)
			d.armLoadLocked()
			fx.add(func() { d.view.Inject(script) })
		}
	}
	d.mu.Unlock()
	fx.run()
}

func hostMatches(host, domain string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	domain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "."))
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
