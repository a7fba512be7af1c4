// File: internal/browser/session.go
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shadowfox-mcp/internal/config"
)

// State is the lifecycle phase of the session.
type State int32

const (
	// StateAbsent means no browser exists; the next operation launches one.
	StateAbsent State = iota
	// StateStarting means a launch is in flight; other callers wait.
	StateStarting
	// StateReady means the browser and its single page are usable.
	StateReady
	// StateClosing means teardown is in progress.
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	default:
		return "absent"
	}
}

const (
	// startupPollInterval is how often a waiting caller re-checks state while
	// another caller's launch is in flight.
	startupPollInterval = 100 * time.Millisecond
	// startupWaitCeiling bounds that wait.
	startupWaitCeiling = 5 * time.Second
	// releaseTimeout bounds each handle release during teardown.
	releaseTimeout = 10 * time.Second
)

// Session owns the singleton browser/page pair and serializes its lifecycle.
// It guarantees a single race-free path to an initialized page handle and
// full resource release on teardown. All page access goes through Perform;
// handles never escape.
type Session struct {
	id       string
	cfg      config.BrowserConfig
	logger   *zap.Logger
	launcher Launcher

	mu      sync.Mutex
	state   State
	browser Browser
	page    Page

	// Overridable in tests.
	pollInterval time.Duration
	waitCeiling  time.Duration
}

// NewSession creates an Absent session around the captured launch config.
// Nothing is launched until the first operation needs a page.
func NewSession(cfg config.BrowserConfig, launcher Launcher, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:           id,
		cfg:          cfg,
		launcher:     launcher,
		logger:       logger.Named("session").With(zap.String("session_id", id[:8])),
		state:        StateAbsent,
		pollInterval: startupPollInterval,
		waitCeiling:  startupWaitCeiling,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ensure guarantees a Ready session on return. Ready is a no-op; Absent
// launches; Starting or Closing waits, polling up to the ceiling before
// giving up with ErrStartupTimeout. A failed launch rolls back to Absent so
// the next call retries from scratch; Starting is never a terminal state.
func (s *Session) Ensure(ctx context.Context) error {
	deadline := time.Now().Add(s.waitCeiling)
	for {
		s.mu.Lock()
		switch s.state {
		case StateReady:
			s.mu.Unlock()
			return nil
		case StateAbsent:
			s.state = StateStarting
			s.mu.Unlock()
			return s.start(ctx)
		}
		// Starting or Closing: another task owns the transition.
		s.mu.Unlock()

		if time.Now().After(deadline) {
			return ErrStartupTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// start performs the Starting -> Ready transition. Any failure releases
// partially acquired handles and rolls back to Absent before returning a
// StartupError carrying the cause.
func (s *Session) start(ctx context.Context) error {
	s.logger.Info("Starting stealth browser...",
		zap.String("headless", s.cfg.Headless),
		zap.Bool("proxy", s.cfg.Proxy.Enabled()),
	)

	launchCtx, cancel := context.WithTimeout(ctx, s.cfg.StartupTimeout)
	defer cancel()

	b, err := s.launcher.Launch(launchCtx)
	if err != nil {
		s.rollback(nil, nil)
		return &StartupError{Cause: err}
	}

	p, err := b.NewPage(launchCtx)
	if err != nil {
		s.rollback(nil, b)
		return &StartupError{Cause: err}
	}

	s.mu.Lock()
	if s.state != StateStarting {
		// Closed out from under us mid-startup. Release the fresh handles
		// instead of resurrecting the session.
		s.mu.Unlock()
		s.release(p, b)
		return ErrNotInitialized
	}
	s.browser = b
	s.page = p
	s.state = StateReady
	s.mu.Unlock()

	s.logger.Info("Browser session ready.")
	return nil
}

// rollback releases whatever was acquired and returns the state to Absent.
func (s *Session) rollback(p Page, b Browser) {
	s.release(p, b)
	s.mu.Lock()
	s.browser = nil
	s.page = nil
	if s.state == StateStarting {
		s.state = StateAbsent
	}
	s.mu.Unlock()
	s.logger.Warn("Browser startup rolled back.")
}

// release closes handles page-first, logging and swallowing errors so one
// failed release never blocks the next.
func (s *Session) release(p Page, b Browser) {
	if p != nil {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		if err := p.Close(ctx); err != nil {
			s.logger.Warn("Error releasing page handle.", zap.Error(err))
		}
		cancel()
	}
	if b != nil {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		if err := b.Close(ctx); err != nil {
			s.logger.Warn("Error releasing browser handle.", zap.Error(err))
		}
		cancel()
	}
}

// Perform runs a single action against the current page, launching the
// session first if needed. Action failures are wrapped as OperationError and
// leave the session Ready with the page handle untouched; only Ensure-phase
// failures or an explicit Close tear the session down.
func (s *Session) Perform(ctx context.Context, op string, action func(context.Context, Page) error) error {
	if err := s.Ensure(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	page := s.page
	s.mu.Unlock()
	if page == nil {
		return ErrNotInitialized
	}

	if err := action(ctx, page); err != nil {
		return &OperationError{Op: op, Err: err}
	}
	return nil
}

// Close releases the page before the browser and sets the state to Absent
// unconditionally, even when a release fails. Closing an Absent session is a
// no-op success. If a launch is in flight, Close waits for it to settle
// before tearing down.
func (s *Session) Close(ctx context.Context) error {
	deadline := time.Now().Add(s.waitCeiling)
	for {
		s.mu.Lock()
		if s.state != StateStarting || time.Now().After(deadline) {
			break
		}
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
	// Lock is held here.
	if s.state == StateAbsent {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	page, b := s.page, s.browser
	s.page, s.browser = nil, nil
	s.mu.Unlock()

	s.release(page, b)

	s.mu.Lock()
	s.state = StateAbsent
	s.mu.Unlock()

	s.logger.Info("Browser closed and resources released.")
	return nil
}
