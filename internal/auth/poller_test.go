package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Fake backend and schedule
// ---------------------------------------------------------------------------

type fakeBackend struct {
	mu          sync.Mutex
	status      Status
	statusErr   error
	authAfter   int // report authenticated from this status call on (0 = use status)
	delay       time.Duration
	startBlock  chan struct{}
	statusCalls int
	startCalls  int
	logoutCalls int
	inflight    int
	maxInflight int
}

func (f *fakeBackend) Status(ctx context.Context) (Status, error) {
	f.mu.Lock()
	f.statusCalls++
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	n, delay := f.statusCalls, f.delay
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Status{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return Status{}, f.statusErr
	}
	if f.authAfter > 0 && n >= f.authAfter {
		return Status{Authenticated: true, Email: "ada@example.com"}, nil
	}
	return f.status, nil
}

func (f *fakeBackend) Start(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.startCalls++
	block := f.startBlock
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return "https://auth.example.com/authorize?state=abc", nil
}

func (f *fakeBackend) Logout(ctx context.Context) error {
	f.mu.Lock()
	f.logoutCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) counts() (status, start, logout int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls, f.startCalls, f.logoutCalls
}

// countingSchedule never fires within a test and counts how many polling
// loops asked it for a next tick.
type countingSchedule struct{ calls atomic.Int32 }

func (s *countingSchedule) Next(t time.Time) time.Time {
	s.calls.Add(1)
	return t.Add(time.Hour)
}

func newTestPoller(t *testing.T, b Backend, opts PollerOpts) *Poller {
	t.Helper()
	opts.Backend = b
	p, err := NewPoller(opts)
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestNewPoller_NilBackend(t *testing.T) {
	if _, err := NewPoller(PollerOpts{}); err == nil {
		t.Fatal("expected error for nil backend")
	}
}

func TestNewPoller_DefaultSchedule(t *testing.T) {
	p := newTestPoller(t, &fakeBackend{}, PollerOpts{})
	now := time.Now()
	if got := p.schedule.Next(now).Sub(now); got != DefaultPollInterval {
		t.Errorf("interval = %v, want %v", got, DefaultPollInterval)
	}
	if p.checkTimeout != DefaultCheckTimeout {
		t.Errorf("checkTimeout = %v, want %v", p.checkTimeout, DefaultCheckTimeout)
	}
}

func TestInit_LoadsStatus(t *testing.T) {
	b := &fakeBackend{status: Status{Authenticated: true, Email: "ada@example.com"}}
	p := newTestPoller(t, b, PollerOpts{})

	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	s := p.Session()
	if !s.Authenticated || s.Email != "ada@example.com" {
		t.Errorf("session = %+v", s)
	}
}

func TestCheckStatus_FailureKeepsPreviousState(t *testing.T) {
	b := &fakeBackend{status: Status{Authenticated: true, Email: "ada@example.com"}}
	p := newTestPoller(t, b, PollerOpts{})
	if err := p.Init(context.Background()); err != nil {
		t.Fatal(err)
	}

	b.mu.Lock()
	b.statusErr = errors.New("connection refused")
	b.mu.Unlock()

	st, err := p.CheckStatus(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !st.Authenticated || st.Email != "ada@example.com" {
		t.Errorf("returned status = %+v, want previous", st)
	}
	if !p.Session().Authenticated {
		t.Error("transient failure logged the user out")
	}
}

func TestCheckStatus_SingleInFlight(t *testing.T) {
	b := &fakeBackend{delay: 30 * time.Millisecond}
	p := newTestPoller(t, b, PollerOpts{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.CheckStatus(context.Background())
		}()
	}
	wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxInflight != 1 {
		t.Errorf("max in-flight checks = %d, want 1", b.maxInflight)
	}
}

func TestLogin_TwiceStartsOneTimer(t *testing.T) {
	b := &fakeBackend{}
	sched := &countingSchedule{}
	p := newTestPoller(t, b, PollerOpts{Schedule: sched})

	url1, err := p.Login(context.Background())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	url2, err := p.Login(context.Background())
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}
	if url1 != url2 {
		t.Errorf("second login returned %q, want pending %q", url2, url1)
	}

	waitFor(t, "poll loop to schedule", func() bool { return sched.calls.Load() >= 1 })
	time.Sleep(20 * time.Millisecond)

	if n := sched.calls.Load(); n != 1 {
		t.Errorf("polling loops = %d, want 1", n)
	}
	if _, starts, _ := b.counts(); starts != 1 {
		t.Errorf("start calls = %d, want 1", starts)
	}
	s := p.Session()
	if !s.Polling || s.PendingAuthURL != url1 {
		t.Errorf("session = %+v", s)
	}
}

func TestLogin_ConcurrentCallsShareOneFlow(t *testing.T) {
	b := &fakeBackend{}
	sched := &countingSchedule{}
	p := newTestPoller(t, b, PollerOpts{Schedule: sched})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Login(context.Background()); err != nil {
				t.Errorf("Login: %v", err)
			}
		}()
	}
	wg.Wait()

	if _, starts, _ := b.counts(); starts != 1 {
		t.Errorf("start calls = %d, want 1", starts)
	}
	waitFor(t, "poll loop", func() bool { return sched.calls.Load() >= 1 })
	time.Sleep(20 * time.Millisecond)
	if n := sched.calls.Load(); n != 1 {
		t.Errorf("polling loops = %d, want 1", n)
	}
}

func TestLogin_PollsUntilAuthenticated(t *testing.T) {
	b := &fakeBackend{authAfter: 3}
	var changes atomic.Int32
	p := newTestPoller(t, b, PollerOpts{
		Schedule: Every(5 * time.Millisecond),
		OnChange: func(Session) { changes.Add(1) },
	})

	if _, err := p.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	waitFor(t, "authentication", func() bool { return p.Session().Authenticated })

	s := p.Session()
	if s.Polling {
		t.Error("polling should stop once authenticated")
	}
	if s.PendingAuthURL != "" {
		t.Errorf("PendingAuthURL = %q, want cleared", s.PendingAuthURL)
	}
	if s.Email != "ada@example.com" {
		t.Errorf("Email = %q", s.Email)
	}

	calls, _, _ := b.counts()
	time.Sleep(30 * time.Millisecond)
	if after, _, _ := b.counts(); after != calls {
		t.Errorf("status checks continued after authentication: %d -> %d", calls, after)
	}
	if changes.Load() < 2 {
		t.Errorf("OnChange called %d times, want at least 2", changes.Load())
	}

	if _, err := p.Login(context.Background()); !errors.Is(err, ErrAlreadyAuthenticated) {
		t.Errorf("Login when authenticated: err = %v", err)
	}
}

func TestLogin_TransientErrorsKeepPolling(t *testing.T) {
	b := &fakeBackend{statusErr: errors.New("timeout")}
	p := newTestPoller(t, b, PollerOpts{Schedule: Every(5 * time.Millisecond)})

	if _, err := p.Login(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "a few failed checks", func() bool {
		calls, _, _ := b.counts()
		return calls >= 3
	})
	if !p.Session().Polling {
		t.Fatal("polling stopped on a transient error")
	}

	b.mu.Lock()
	b.statusErr = nil
	b.status = Status{Authenticated: true, Email: "ada@example.com"}
	b.mu.Unlock()

	waitFor(t, "authentication", func() bool { return p.Session().Authenticated })
}

func TestLogout_HaltsPolling(t *testing.T) {
	b := &fakeBackend{}
	p := newTestPoller(t, b, PollerOpts{Schedule: Every(5 * time.Millisecond)})

	if _, err := p.Login(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "polling", func() bool {
		calls, _, _ := b.counts()
		return calls >= 2
	})

	if err := p.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	atLogout, _, logouts := b.counts()
	if logouts != 1 {
		t.Errorf("logout calls = %d, want 1", logouts)
	}
	if s := p.Session(); s != (Session{}) {
		t.Errorf("session after logout = %+v", s)
	}

	time.Sleep(40 * time.Millisecond)
	after, _, _ := b.counts()
	if after > atLogout+1 {
		t.Errorf("status checks continued after logout: %d -> %d", atLogout, after)
	}
}

func TestLogout_DuringStartAbortsLogin(t *testing.T) {
	block := make(chan struct{})
	b := &fakeBackend{startBlock: block}
	p := newTestPoller(t, b, PollerOpts{Schedule: &countingSchedule{}})

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Login(context.Background())
		errCh <- err
	}()
	waitFor(t, "start request", func() bool {
		_, starts, _ := b.counts()
		return starts == 1
	})

	if err := p.Logout(context.Background()); err != nil {
		t.Fatal(err)
	}
	close(block)

	if err := <-errCh; !errors.Is(err, ErrLoginAborted) {
		t.Errorf("err = %v, want ErrLoginAborted", err)
	}
	if p.Session().Polling {
		t.Error("aborted login must not poll")
	}
}

func TestClose_StopsPollingAndRejectsLogin(t *testing.T) {
	b := &fakeBackend{}
	p, err := NewPoller(PollerOpts{Backend: b, Schedule: Every(5 * time.Millisecond)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Login(context.Background()); err != nil {
		t.Fatal(err)
	}

	p.Close()
	p.Close()

	atClose, _, _ := b.counts()
	time.Sleep(30 * time.Millisecond)
	if after, _, _ := b.counts(); after != atClose {
		t.Errorf("status checks after Close: %d -> %d", atClose, after)
	}
	if _, err := p.Login(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Login after Close: err = %v, want ErrClosed", err)
	}
}
