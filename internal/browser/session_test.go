// internal/browser/session_test.go
package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shadowfox-mcp/internal/config"
)

// -- Mock Implementations for Testing --

// releaseRecorder captures the order in which handles were released.
type releaseRecorder struct {
	mu    sync.Mutex
	order []string
}

func (r *releaseRecorder) record(what string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, what)
}

func (r *releaseRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// fakePage is a mock for the Page interface.
type fakePage struct {
	mu       sync.Mutex
	closed   bool
	closeErr error
	recorder *releaseRecorder
}

func (p *fakePage) Navigate(ctx context.Context, url, waitUntil string) (NavigationResult, error) {
	return NavigationResult{URL: url, Title: "fake"}, nil
}
func (p *fakePage) Click(ctx context.Context, sel Selector, button string) error      { return nil }
func (p *fakePage) Type(ctx context.Context, sel Selector, text string, delay time.Duration, clear bool) error {
	return nil
}
func (p *fakePage) WaitFor(ctx context.Context, sel Selector, state string, timeout time.Duration) error {
	return nil
}
func (p *fakePage) Content(ctx context.Context, req ContentRequest) (string, error) {
	return "", nil
}
func (p *fakePage) Screenshot(ctx context.Context, req ScreenshotRequest) ([]byte, error) {
	return nil, nil
}
func (p *fakePage) Evaluate(ctx context.Context, code string, mainWorld bool) (any, error) {
	return nil, nil
}
func (p *fakePage) SetGeolocation(ctx context.Context, latitude, longitude, accuracy float64) error {
	return nil
}

func (p *fakePage) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.recorder != nil {
		p.recorder.record("page")
	}
	return p.closeErr
}

func (p *fakePage) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeBrowser is a mock for the Browser interface.
type fakeBrowser struct {
	mu         sync.Mutex
	closed     bool
	newPageErr error
	pages      []*fakePage
	recorder   *releaseRecorder
}

func (b *fakeBrowser) NewPage(ctx context.Context) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.newPageErr != nil {
		return nil, b.newPageErr
	}
	p := &fakePage{recorder: b.recorder}
	b.pages = append(b.pages, p)
	return p, nil
}

func (b *fakeBrowser) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.recorder != nil {
		b.recorder.record("browser")
	}
	return nil
}

func (b *fakeBrowser) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// fakeLauncher is a mock for the Launcher interface.
type fakeLauncher struct {
	mu        sync.Mutex
	launches  int
	launchErr error
	delay     time.Duration
	recorder  *releaseRecorder
	browsers  []*fakeBrowser
}

func (l *fakeLauncher) Launch(ctx context.Context) (Browser, error) {
	l.mu.Lock()
	l.launches++
	err := l.launchErr
	delay := l.delay
	l.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	b := &fakeBrowser{recorder: l.recorder}
	l.mu.Lock()
	l.browsers = append(l.browsers, b)
	l.mu.Unlock()
	return b, nil
}

func (l *fakeLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

func (l *fakeLauncher) setErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launchErr = err
}

func (l *fakeLauncher) lastBrowser() *fakeBrowser {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.browsers) == 0 {
		return nil
	}
	return l.browsers[len(l.browsers)-1]
}

func newTestSession(launcher Launcher) *Session {
	cfg := config.NewDefaultConfig().Browser
	s := NewSession(cfg, launcher, zap.NewNop())
	s.pollInterval = 5 * time.Millisecond
	s.waitCeiling = 250 * time.Millisecond
	return s
}

func noopAction(ctx context.Context, p Page) error { return nil }

// -- Tests --

func TestPerformColdStart(t *testing.T) {
	launcher := &fakeLauncher{}
	s := newTestSession(launcher)

	err := s.Perform(context.Background(), "navigate", noopAction)
	require.NoError(t, err)

	assert.Equal(t, 1, launcher.launchCount())
	assert.Equal(t, StateReady, s.State())
}

func TestEnsureIsIdempotentWhenReady(t *testing.T) {
	launcher := &fakeLauncher{}
	s := newTestSession(launcher)

	require.NoError(t, s.Ensure(context.Background()))
	require.NoError(t, s.Ensure(context.Background()))
	require.NoError(t, s.Perform(context.Background(), "click", noopAction))

	assert.Equal(t, 1, launcher.launchCount())
}

func TestConcurrentEnsureLaunchesOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	launcher := &fakeLauncher{delay: 30 * time.Millisecond}
	s := newTestSession(launcher)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Perform(context.Background(), "navigate", noopAction)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "goroutine %d", i)
	}
	assert.Equal(t, 1, launcher.launchCount())
	assert.Equal(t, StateReady, s.State())
}

func TestLaunchFailureRollsBackAndAllowsRetry(t *testing.T) {
	launcher := &fakeLauncher{launchErr: errors.New("no executable")}
	s := newTestSession(launcher)

	err := s.Perform(context.Background(), "navigate", noopAction)
	require.Error(t, err)

	var startup *StartupError
	require.ErrorAs(t, err, &startup)
	assert.Equal(t, StateAbsent, s.State())

	// The next attempt starts from scratch and succeeds.
	launcher.setErr(nil)
	require.NoError(t, s.Perform(context.Background(), "navigate", noopAction))
	assert.Equal(t, 2, launcher.launchCount())
	assert.Equal(t, StateReady, s.State())
}

func TestPageCreationFailureReleasesBrowser(t *testing.T) {
	launcher := &fakeLauncher{}
	s := newTestSession(launcher)

	// Sabotage page creation on the browser the launcher hands out.
	s.launcher = launcherFunc(func(ctx context.Context) (Browser, error) {
		b, err := launcher.Launch(ctx)
		if err != nil {
			return nil, err
		}
		b.(*fakeBrowser).newPageErr = errors.New("tab crashed")
		return b, nil
	})

	err := s.Perform(context.Background(), "navigate", noopAction)
	var startup *StartupError
	require.ErrorAs(t, err, &startup)

	assert.Equal(t, StateAbsent, s.State())
	assert.True(t, launcher.lastBrowser().isClosed(), "partial browser handle must be released")
}

// launcherFunc adapts a function to the Launcher interface.
type launcherFunc func(ctx context.Context) (Browser, error)

func (f launcherFunc) Launch(ctx context.Context) (Browser, error) { return f(ctx) }

func TestOperationFailureKeepsSessionAlive(t *testing.T) {
	launcher := &fakeLauncher{}
	s := newTestSession(launcher)

	actionErr := errors.New("selector not found")
	err := s.Perform(context.Background(), "click", func(ctx context.Context, p Page) error {
		return actionErr
	})

	var op *OperationError
	require.ErrorAs(t, err, &op)
	assert.Equal(t, "click", op.Op)
	assert.ErrorIs(t, err, actionErr)

	// Session survives: same browser, same page, ready for the next call.
	assert.Equal(t, StateReady, s.State())
	assert.False(t, launcher.lastBrowser().isClosed())
	require.NoError(t, s.Perform(context.Background(), "click", noopAction))
	assert.Equal(t, 1, launcher.launchCount())
}

func TestCloseIsIdempotent(t *testing.T) {
	launcher := &fakeLauncher{}
	s := newTestSession(launcher)

	// Closing an absent session is a no-op success.
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, StateAbsent, s.State())

	require.NoError(t, s.Perform(context.Background(), "navigate", noopAction))
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, StateAbsent, s.State())
}

func TestCloseReleasesPageBeforeBrowser(t *testing.T) {
	recorder := &releaseRecorder{}
	launcher := &fakeLauncher{recorder: recorder}
	s := newTestSession(launcher)

	require.NoError(t, s.Perform(context.Background(), "navigate", noopAction))
	require.NoError(t, s.Close(context.Background()))

	assert.Equal(t, []string{"page", "browser"}, recorder.snapshot())
}

func TestCloseSwallowsReleaseErrors(t *testing.T) {
	launcher := &fakeLauncher{}
	s := newTestSession(launcher)

	require.NoError(t, s.Perform(context.Background(), "navigate", noopAction))

	b := launcher.lastBrowser()
	b.mu.Lock()
	b.pages[0].closeErr = errors.New("target already gone")
	b.mu.Unlock()

	// A failed page release still releases the browser and lands on Absent.
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, StateAbsent, s.State())
	assert.True(t, b.isClosed())
}

func TestCloseThenOperateRelaunches(t *testing.T) {
	launcher := &fakeLauncher{}
	s := newTestSession(launcher)

	require.NoError(t, s.Perform(context.Background(), "navigate", noopAction))
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Perform(context.Background(), "navigate", noopAction))

	assert.Equal(t, 2, launcher.launchCount())
	assert.Equal(t, StateReady, s.State())
}

func TestEnsureTimesOutWhileAnotherStartupHangs(t *testing.T) {
	defer goleak.VerifyNone(t)

	launcher := &fakeLauncher{delay: 500 * time.Millisecond}
	s := newTestSession(launcher)
	s.waitCeiling = 50 * time.Millisecond

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		done <- s.Ensure(context.Background())
	}()
	<-started
	// Give the first caller time to claim the Starting state.
	time.Sleep(20 * time.Millisecond)

	err := s.Ensure(context.Background())
	assert.ErrorIs(t, err, ErrStartupTimeout)

	// The original startup still completes.
	require.NoError(t, <-done)
	assert.Equal(t, StateReady, s.State())
	require.NoError(t, s.Close(context.Background()))
}

func TestEnsureHonorsContextCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	launcher := &fakeLauncher{delay: 500 * time.Millisecond}
	s := newTestSession(launcher)

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		done <- s.Ensure(context.Background())
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Ensure(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, <-done)
	require.NoError(t, s.Close(context.Background()))
}

func TestPerformReportsNotInitializedWithoutPage(t *testing.T) {
	launcher := &fakeLauncher{}
	s := newTestSession(launcher)

	// Force an inconsistent ready state with no page handle.
	s.mu.Lock()
	s.state = StateReady
	s.page = nil
	s.mu.Unlock()

	err := s.Perform(context.Background(), "click", noopAction)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestStateStringable(t *testing.T) {
	assert.Equal(t, "absent", StateAbsent.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "closing", StateClosing.String())
}
