package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrAlreadyRunning is returned when a start request arrives while a session
// is live. Browser interaction is strictly sequential per process, so
// concurrent runs are rejected, never queued behind each other mid-flight.
var ErrAlreadyRunning = errors.New("automation session already running")

// ErrNotRunning is returned by operations that need a live session.
var ErrNotRunning = errors.New("no automation session running")

// StartOptions tweak one run without touching persistent configuration.
type StartOptions struct {
	// Credential overrides the configured account credential for this run.
	Credential string
	// Headless overrides the configured headless flag when non-nil.
	Headless *bool
}

// Session bundles the browser-backed collaborators for one run. Built by the
// factory at start, closed when the run ends.
type Session struct {
	Auth       Authenticator
	Proc       Processor
	Screenshot func(ctx context.Context) ([]byte, error)
	Close      func() error
}

// SessionFactory launches a browser and assembles a Session. codes delivers
// operator-submitted verification codes into the flow.
type SessionFactory func(ctx context.Context, opts StartOptions, codes <-chan string) (*Session, error)

// Supervisor enforces the one-live-session rule and exposes the control
// surface the API and MCP layers call.
type Supervisor struct {
	factory  SessionFactory
	history  History
	notifier Notifier
	cfg      SchedulerConfig
	logger   *slog.Logger

	mu      sync.Mutex
	sched   *Scheduler
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
	codes   chan string
}

// NewSupervisor builds a supervisor. history and notifier may be nil.
func NewSupervisor(factory SessionFactory, history History, notifier Notifier, cfg SchedulerConfig, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		factory:  factory,
		history:  history,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start launches a session and its scheduler loop. Returns ErrAlreadyRunning
// when a session is live.
func (sv *Supervisor) Start(ctx context.Context, opts StartOptions) error {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.sched != nil {
		return ErrAlreadyRunning
	}

	codes := make(chan string, 1)
	session, err := sv.factory(ctx, opts, codes)
	if err != nil {
		return err
	}

	sched, err := NewScheduler(session.Auth, session.Proc, sv.history, sv.notifier, sv.cfg, sv.logger)
	if err != nil {
		if session.Close != nil {
			_ = session.Close()
		}
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	sv.sched = sched
	sv.session = session
	sv.cancel = cancel
	sv.done = done
	sv.codes = codes

	go func() {
		defer close(done)
		sched.Run(runCtx)
		if session.Close != nil {
			if err := session.Close(); err != nil {
				sv.logger.Warn("session close failed", "err", err)
			}
		}
	}()

	sv.logger.Info("automation session started")
	return nil
}

// Stop cancels the running session and waits for the loop to exit.
// Idempotent: stopping when nothing runs is a no-op. The lock is held through
// the teardown so a racing Start cannot launch a second browser while the old
// session is still closing.
func (sv *Supervisor) Stop() {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.sched == nil {
		return
	}

	sv.cancel()
	<-sv.done

	sv.sched = nil
	sv.session = nil
	sv.cancel = nil
	sv.done = nil
	sv.codes = nil
	sv.logger.Info("automation session stopped")
}

// Status reports the current loop snapshot, or a zero snapshot when idle.
func (sv *Supervisor) Status() Status {
	sv.mu.Lock()
	sched := sv.sched
	sv.mu.Unlock()
	if sched == nil {
		return Status{}
	}
	st := sched.Status()
	st.Running = true
	return st
}

// Wake interrupts the inter-cycle sleep.
func (sv *Supervisor) Wake() error {
	sv.mu.Lock()
	sched := sv.sched
	sv.mu.Unlock()
	if sched == nil {
		return ErrNotRunning
	}
	sched.Wake()
	return nil
}

// SubmitVerificationCode hands an operator-provided second-factor code to the
// running flow.
func (sv *Supervisor) SubmitVerificationCode(code string) error {
	sv.mu.Lock()
	codes := sv.codes
	sv.mu.Unlock()
	if codes == nil {
		return ErrNotRunning
	}
	select {
	case codes <- code:
		return nil
	default:
		return errors.New("a verification code is already pending")
	}
}

// Screenshot captures the live session's current page.
func (sv *Supervisor) Screenshot(ctx context.Context) ([]byte, error) {
	sv.mu.Lock()
	session := sv.session
	sv.mu.Unlock()
	if session == nil || session.Screenshot == nil {
		return nil, ErrNotRunning
	}
	return session.Screenshot(ctx)
}

// Running reports whether a session is live.
func (sv *Supervisor) Running() bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.sched != nil
}
