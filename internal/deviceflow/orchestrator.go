// Package deviceflow drives the GitHub OAuth device authorization grant:
// request a device code, show it to the user, and poll until the user
// approves, the code expires, or the flow is cancelled.
package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvcrn/copilot-proxy/internal/copilot"
	"github.com/dvcrn/copilot-proxy/internal/credentials"
	"github.com/dvcrn/copilot-proxy/internal/events"
	"github.com/dvcrn/copilot-proxy/internal/logger"
)

// Progress phase tags carried by events.KindProgress.
const (
	PhaseDeviceCode = "device_code"
	PhaseBrowser    = "browser"
	PhasePolling    = "polling"
	PhaseSaving     = "saving"
	PhaseCancelled  = "cancelled"
)

// Exchanger is the subset of copilot.Exchanger the flow needs.
type Exchanger interface {
	RequestDeviceCode(ctx context.Context) (*copilot.DeviceAuthorization, error)
	PollAccessToken(ctx context.Context, deviceCode string) copilot.PollResult
}

// Options configures an Orchestrator.
type Options struct {
	Exchanger Exchanger
	Store     credentials.Store
	Browser   BrowserLauncher
	// SuppressBrowser skips the browser launch and only displays the code.
	SuppressBrowser bool
	// TimeUnit scales the interval and expires_in values sent by GitHub.
	// Defaults to one second.
	TimeUnit time.Duration
	Now      func() time.Time
}

// Result is the outcome of one Run.
type Result struct {
	State         State
	Authorization *copilot.DeviceAuthorization
	// Token is the GitHub access token when State is StateComplete.
	Token string
	Err   error
}

// Orchestrator runs device flows one at a time.
type Orchestrator struct {
	exchanger       Exchanger
	store           credentials.Store
	browser         BrowserLauncher
	suppressBrowser bool
	unit            time.Duration
	now             func() time.Time

	mu      sync.Mutex
	running bool
	state   State
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		exchanger:       opts.Exchanger,
		store:           opts.Store,
		browser:         opts.Browser,
		suppressBrowser: opts.SuppressBrowser,
		unit:            opts.TimeUnit,
		now:             opts.Now,
	}
	if o.unit <= 0 {
		o.unit = time.Second
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// State returns the phase of the current or most recent run.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	o.state = StateIdle
	return true
}

func (o *Orchestrator) end(final State) {
	o.mu.Lock()
	o.running = false
	o.state = final
	o.mu.Unlock()
}

// Run executes one device flow to a terminal state. Events are published on
// bus, and a events.KindCancelRequest published on bus (or cancellation of
// ctx) stops the flow between polls. Run never panics; every failure is
// reported through Result and an events.KindError event.
func (o *Orchestrator) Run(ctx context.Context, bus *events.Bus) (res Result) {
	if bus == nil {
		bus = events.NewBus()
	}
	if !o.begin() {
		return Result{State: StateFailed, Err: ErrFlowInProgress}
	}

	s := newSession(ctx, bus)
	defer func() {
		s.release()
		o.end(res.State)
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Get().Error().Interface("panic", r).Msg("Device flow panicked")
			res = o.conclude(bus, res.Authorization, StateFailed, fmt.Errorf("device flow aborted: %v", r))
		}
	}()

	o.setState(StateAwaitingDeviceCode)
	bus.Publish(progress(PhaseDeviceCode, "Requesting device code from GitHub..."))

	auth, err := o.exchanger.RequestDeviceCode(ctx)
	if st, interrupted := s.interrupted(); interrupted {
		return o.conclude(bus, nil, st, nil)
	}
	// Rate limiting only has its own terminal state while polling.
	if err != nil {
		return o.conclude(bus, nil, StateFailed, err)
	}

	o.setState(StateAwaitingUserAuthorization)
	bus.Publish(events.Event{
		Kind:            events.KindDeviceAuthorization,
		VerificationURI: auth.VerificationURI,
		UserCode:        auth.UserCode,
	})
	o.presentAuthorization(bus, auth)
	s.armDeadline(time.Duration(auth.ExpiresIn) * o.unit)

	return o.poll(ctx, s, bus, auth)
}

func (o *Orchestrator) presentAuthorization(bus *events.Bus, auth *copilot.DeviceAuthorization) {
	manual := fmt.Sprintf("Open %s in your browser and enter the code %s", auth.VerificationURI, auth.UserCode)

	if o.suppressBrowser || o.browser == nil {
		bus.Publish(progress(PhaseBrowser, manual))
		return
	}
	if err := o.browser.Launch(auth.VerificationURI); err != nil {
		logger.Get().Debug().Err(err).Msg("Browser launch failed; falling back to manual instructions")
		bus.Publish(progress(PhaseBrowser, manual))
		return
	}
	bus.Publish(progress(PhaseBrowser, fmt.Sprintf("Opened %s in your browser; enter the code %s", auth.VerificationURI, auth.UserCode)))
}

func (o *Orchestrator) poll(ctx context.Context, s *session, bus *events.Bus, auth *copilot.DeviceAuthorization) Result {
	interval := time.Duration(auth.Interval) * o.unit
	maxAttempts := auth.MaxPollAttempts()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if st, interrupted := s.interrupted(); interrupted {
			return o.conclude(bus, auth, st, nil)
		}

		bus.Publish(progress(PhasePolling, fmt.Sprintf("Waiting for authorization (attempt %d of %d)...", attempt, maxAttempts)))
		result := o.exchanger.PollAccessToken(ctx, auth.DeviceCode)

		// A terminal signal that arrived during the call wins over its result.
		if st, interrupted := s.interrupted(); interrupted {
			return o.conclude(bus, auth, st, nil)
		}

		switch result.Status {
		case copilot.PollComplete:
			return o.complete(bus, auth, result.AccessToken)
		case copilot.PollFailed:
			return o.conclude(bus, auth, failureState(result.Err), result.Err)
		}

		logger.Get().Debug().Int("attempt", attempt).Msg("Authorization still pending")
		if attempt == maxAttempts {
			break
		}
		if st, interrupted := s.wait(interval); interrupted {
			return o.conclude(bus, auth, st, nil)
		}
	}

	return o.conclude(bus, auth, StateTimedOut, nil)
}

func (o *Orchestrator) complete(bus *events.Bus, auth *copilot.DeviceAuthorization, token string) Result {
	bus.Publish(progress(PhaseSaving, "Saving credentials..."))
	if err := o.store.Save(credentials.NewCredential(token, o.now())); err != nil {
		return o.conclude(bus, auth, StateFailed, fmt.Errorf("failed to save credentials: %w", err))
	}

	logger.Get().Info().Str("path", o.store.Path()).Msg("Device authorization complete")
	bus.Publish(events.Event{Kind: events.KindComplete, Message: "Authentication successful"})
	return Result{State: StateComplete, Authorization: auth, Token: token}
}

// conclude builds the Result for every non-complete terminal state and
// publishes the matching event.
func (o *Orchestrator) conclude(bus *events.Bus, auth *copilot.DeviceAuthorization, st State, cause error) Result {
	var err error
	switch st {
	case StateCancelled:
		err = ErrCancelled
		bus.Publish(progress(PhaseCancelled, "Authentication cancelled"))
		logger.Get().Info().Msg("Device authorization cancelled")
		return Result{State: st, Authorization: auth, Err: err}
	case StateTimedOut:
		err = ErrTimedOut
	case StateRateLimited:
		err = fmt.Errorf("%w: %w", ErrRateLimited, cause)
	default:
		err = cause
		if err == nil {
			err = errors.New("device authorization failed")
		}
	}

	logger.Get().Warn().Err(err).Str("state", st.String()).Msg("Device authorization did not complete")
	bus.Publish(events.Event{Kind: events.KindError, Message: err.Error(), Err: err})
	return Result{State: st, Authorization: auth, Err: err}
}

func failureState(err error) State {
	if copilot.IsRateLimited(err) {
		return StateRateLimited
	}
	return StateFailed
}

func progress(phase, msg string) events.Event {
	return events.Event{Kind: events.KindProgress, Phase: phase, Message: msg}
}

// session holds the per-run timer, cancellation subscription and the first
// terminal signal observed.
type session struct {
	ctx      context.Context
	sub      *events.Subscription
	signal   chan struct{}
	stop     chan struct{}
	mu       sync.Mutex
	reason   State
	deadline *time.Timer
	once     sync.Once
}

func newSession(ctx context.Context, bus *events.Bus) *session {
	s := &session{
		ctx:    ctx,
		sub:    bus.Subscribe(1, events.KindCancelRequest),
		signal: make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go s.watch(ctx)
	return s
}

func (s *session) watch(ctx context.Context) {
	select {
	case _, ok := <-s.sub.C:
		if ok {
			s.interrupt(StateCancelled)
		}
	case <-ctx.Done():
		s.interrupt(StateCancelled)
	case <-s.stop:
	}
}

// interrupt records the first terminal signal; later ones are ignored.
func (s *session) interrupt(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked(st)
}

func (s *session) interruptLocked(st State) {
	if s.reason != StateIdle {
		return
	}
	s.reason = st
	close(s.signal)
}

// interrupted reports the terminal signal, if any. Context cancellation is
// checked directly so it is never missed while the watcher is still waking up.
func (s *session) interrupted() (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		s.interruptLocked(StateCancelled)
	}
	return s.reason, s.reason != StateIdle
}

func (s *session) armDeadline(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadline = time.AfterFunc(d, func() { s.interrupt(StateTimedOut) })
}

// wait sleeps for d unless a terminal signal arrives first.
func (s *session) wait(d time.Duration) (State, bool) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.signal:
		return s.interrupted()
	case <-t.C:
		return s.interrupted()
	}
}

// release stops the deadline timer and drops the cancel subscription. It is
// safe to call more than once; only the first call has an effect.
func (s *session) release() {
	s.once.Do(func() {
		s.mu.Lock()
		if s.deadline != nil {
			s.deadline.Stop()
		}
		s.mu.Unlock()
		close(s.stop)
		s.sub.Unsubscribe()
	})
}
