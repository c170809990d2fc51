package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

// DefaultPollInterval is the delay between status checks while a login is
// pending.
const DefaultPollInterval = 2000 * time.Millisecond

// DefaultCheckTimeout bounds a single status query.
const DefaultCheckTimeout = 10 * time.Second

var (
	ErrClosed               = errors.New("auth: poller closed")
	ErrAlreadyAuthenticated = errors.New("auth: already authenticated")
	ErrLoginAborted         = errors.New("auth: login aborted by logout")
)

// Backend is the authentication collaborator.
type Backend interface {
	Status(ctx context.Context) (Status, error)
	Start(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
}

// Session is the process-wide login state.
type Session struct {
	Authenticated  bool   `json:"authenticated"`
	Email          string `json:"email,omitempty"`
	PendingAuthURL string `json:"pending_auth_url,omitempty"`
	Polling        bool   `json:"polling"`
}

// intervalSchedule fires a fixed delay after the previous tick.
type intervalSchedule time.Duration

func (s intervalSchedule) Next(t time.Time) time.Time { return t.Add(time.Duration(s)) }

// Every returns a schedule that fires every d.
func Every(d time.Duration) cron.Schedule { return intervalSchedule(d) }

// Poller owns the Session. Login starts the external flow and polls the
// backend until it reports the session authenticated; only one polling
// goroutine exists at a time and only one status query is in flight.
type Poller struct {
	backend      Backend
	schedule     cron.Schedule
	checkTimeout time.Duration
	onChange     func(Session)

	loginMu sync.Mutex // serializes Login so a second call can't start a second timer

	mu       sync.Mutex
	session  Session
	gen      uint64 // bumped by Logout/Close; results from older generations are dropped
	stopPoll context.CancelFunc
	pollDone chan struct{}
	closed   bool

	checks singleflight.Group
}

// PollerOpts holds parameters for creating a Poller.
type PollerOpts struct {
	Backend      Backend
	Schedule     cron.Schedule // defaults to Every(DefaultPollInterval)
	CheckTimeout time.Duration // defaults to DefaultCheckTimeout
	OnChange     func(Session) // optional; called after every state change
}

// NewPoller creates a Poller. Call Init to load the initial status and
// Close to dispose of it.
func NewPoller(opts PollerOpts) (*Poller, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("auth: poller: backend is required")
	}
	sched := opts.Schedule
	if sched == nil {
		sched = Every(DefaultPollInterval)
	}
	timeout := opts.CheckTimeout
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Poller{
		backend:      opts.Backend,
		schedule:     sched,
		checkTimeout: timeout,
		onChange:     opts.OnChange,
	}, nil
}

// Init performs the startup status check.
func (p *Poller) Init(ctx context.Context) error {
	_, err := p.CheckStatus(ctx)
	return err
}

// Session returns a snapshot of the login state.
func (p *Poller) Session() Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// CheckStatus queries the backend once. Concurrent callers share one
// in-flight query. A failed query leaves the session untouched and the
// previous status is returned alongside the error.
func (p *Poller) CheckStatus(ctx context.Context) (Status, error) {
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()

	v, err, _ := p.checks.Do("status", func() (any, error) {
		cctx, cancel := context.WithTimeout(ctx, p.checkTimeout)
		defer cancel()
		return p.backend.Status(cctx)
	})
	if err != nil {
		log.Printf("auth: status check failed, keeping previous state: %v", err)
		s := p.Session()
		return Status{Authenticated: s.Authenticated, Email: s.Email}, err
	}
	st := v.(Status)
	p.apply(gen, st)
	return st, nil
}

// apply records a successful status unless a logout happened since the
// query started.
func (p *Poller) apply(gen uint64, st Status) {
	p.mu.Lock()
	if p.gen != gen || p.closed {
		p.mu.Unlock()
		return
	}
	prev := p.session
	p.session.Authenticated = st.Authenticated
	p.session.Email = st.Email
	if st.Authenticated {
		p.session.PendingAuthURL = ""
		p.stopPollingLocked()
	}
	next := p.session
	p.mu.Unlock()

	if prev != next {
		if next.Authenticated && !prev.Authenticated {
			log.Printf("auth: authenticated as %s", next.Email)
		}
		p.notify(next)
	}
}

// Login requests a fresh authorization URL and starts polling. While a
// login is already pending it returns the pending URL without starting a
// second timer.
func (p *Poller) Login(ctx context.Context) (string, error) {
	p.loginMu.Lock()
	defer p.loginMu.Unlock()

	p.mu.Lock()
	switch {
	case p.closed:
		p.mu.Unlock()
		return "", ErrClosed
	case p.session.Polling:
		url := p.session.PendingAuthURL
		p.mu.Unlock()
		return url, nil
	case p.session.Authenticated:
		p.mu.Unlock()
		return "", ErrAlreadyAuthenticated
	}
	gen := p.gen
	p.mu.Unlock()

	url, err := p.backend.Start(ctx)
	if err != nil {
		return "", fmt.Errorf("auth: start login: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}
	if p.gen != gen {
		p.mu.Unlock()
		return "", ErrLoginAborted
	}
	pctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.session.PendingAuthURL = url
	p.session.Polling = true
	p.stopPoll = cancel
	p.pollDone = done
	snap := p.session
	p.mu.Unlock()

	log.Printf("auth: login started, polling for completion")
	p.notify(snap)
	go p.poll(pctx, done)
	return url, nil
}

// poll runs status checks on the schedule until authenticated or stopped.
// Ticks are sequential, so an outstanding check delays the next one.
func (p *Poller) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		now := time.Now()
		timer := time.NewTimer(p.schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		st, err := p.CheckStatus(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil && st.Authenticated {
			return
		}
	}
}

// Logout resets the session to unauthenticated and halts polling
// immediately, then tells the backend.
func (p *Poller) Logout(ctx context.Context) error {
	p.mu.Lock()
	p.gen++
	p.stopPollingLocked()
	p.session = Session{}
	p.mu.Unlock()
	p.checks.Forget("status")

	log.Printf("auth: logged out")
	p.notify(Session{})

	if err := p.backend.Logout(ctx); err != nil {
		return fmt.Errorf("auth: logout: %w", err)
	}
	return nil
}

// Close stops polling and waits for the polling goroutine to exit.
func (p *Poller) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.gen++
	p.stopPollingLocked()
	done := p.pollDone
	p.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (p *Poller) stopPollingLocked() {
	if p.stopPoll != nil {
		p.stopPoll()
		p.stopPoll = nil
	}
	p.session.Polling = false
}

func (p *Poller) notify(s Session) {
	if p.onChange != nil {
		p.onChange(s)
	}
}
