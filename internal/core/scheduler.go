package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"mailpilot/internal/trigger"
)

// maxRecentErrors bounds the error window surfaced in Status.
const maxRecentErrors = 10

// SchedulerConfig holds the loop cadence and retry policy.
type SchedulerConfig struct {
	CycleInterval   time.Duration
	RetryDelay      time.Duration
	MaxOAuthRetries int
	// ReauthCron, when set, periodically clears the authenticated flag so
	// the next pass runs a fresh authorization even if the session looks
	// healthy. Standard five-field cron syntax.
	ReauthCron string
}

// Scheduler is the eternal loop: ensure authentication, confirm the
// connection, trigger processing, schedule the next pass, sleep, repeat. It
// never exits on its own; only context cancellation stops it. Every failure
// converts into a logged, bounded sleep and another pass.
type Scheduler struct {
	auth     Authenticator
	proc     Processor
	history  History
	notifier Notifier
	logger   *slog.Logger
	cfg      SchedulerConfig

	mu            sync.Mutex
	authenticated bool
	cycleCount    int
	oauthFailures int
	lastCycle     *CycleRecord
	nextRunAt     time.Time
	recentErrors  []string

	wake chan struct{}

	reauthSchedule cron.Schedule
	nextReauth     time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	chunk time.Duration
}

// NewScheduler wires the loop's collaborators. notifier and history may be
// nil.
func NewScheduler(auth Authenticator, proc Processor, history History, notifier Notifier, cfg SchedulerConfig, logger *slog.Logger) (*Scheduler, error) {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 20 * time.Minute
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Minute
	}
	if cfg.MaxOAuthRetries < 1 {
		cfg.MaxOAuthRetries = 5
	}
	s := &Scheduler{
		auth:     auth,
		proc:     proc,
		history:  history,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		wake:     make(chan struct{}, 1),
		now:      time.Now,
		sleep:    sleepCtx,
		chunk:    time.Minute,
	}
	if cfg.ReauthCron != "" {
		schedule, err := cron.ParseStandard(cfg.ReauthCron)
		if err != nil {
			return nil, fmt.Errorf("parse reauth cron %q: %w", cfg.ReauthCron, err)
		}
		s.reauthSchedule = schedule
	}
	return s, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run drives the loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		"interval", s.cfg.CycleInterval,
		"retry_delay", s.cfg.RetryDelay,
		"max_oauth_retries", s.cfg.MaxOAuthRetries)
	if s.reauthSchedule != nil {
		s.nextReauth = s.reauthSchedule.Next(s.now())
		s.logger.Info("forced re-auth scheduled", "next", s.nextReauth)
	}
	for ctx.Err() == nil {
		s.pass(ctx)
	}
	s.logger.Info("scheduler stopped")
}

// pass runs one loop body. A panic anywhere inside is recovered, logged, and
// converted into a retry-delay sleep so the loop survives.
func (s *Scheduler) pass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cycle panicked", "panic", r)
			s.recordError(fmt.Sprintf("panic: %v", r))
			_ = s.sleep(ctx, s.cfg.RetryDelay)
		}
	}()

	s.maybeForceReauth()

	if !s.Authenticated() {
		if !s.ensureAuthenticated(ctx) {
			return
		}
	}

	rec := &CycleRecord{ID: uuid.NewString(), StartedAt: s.now()}

	if err := s.proc.ConfirmConnection(ctx); err != nil {
		// Authentication flag stays set: the browser session is still the
		// source of truth, and the next pass skips OAuth.
		s.failCycle(ctx, rec, fmt.Errorf("confirm connection: %w", err))
		return
	}

	s.mu.Lock()
	s.cycleCount++
	rec.Seq = s.cycleCount
	s.mu.Unlock()

	if err := s.proc.SetRecentWindowFilter(ctx); err != nil {
		s.logger.Warn("recent window filter not set, proceeding with default", "err", err)
	}

	w := s.proc.ExtractWindow(ctx)
	rec.WindowStart, rec.WindowEnd = &w.Start, &w.End

	if err := s.proc.TriggerProcessing(ctx); err != nil {
		s.failCycle(ctx, rec, fmt.Errorf("trigger processing: %w", err))
		return
	}

	next := trigger.NextRunTime(w.End, s.now(), s.cfg.CycleInterval)
	rec.EndedAt = s.now()
	rec.Succeeded = true
	rec.NextRunAt = &next
	s.finishCycle(ctx, rec, next)

	s.logger.Info("cycle complete",
		"seq", rec.Seq,
		"window_start", w.Start.Format("15:04"),
		"window_end", w.End.Format("15:04"),
		"next_run", next.Format(time.RFC3339))

	s.sleepUntil(ctx, next)
}

// ensureAuthenticated runs one OAuth pass and applies the escalation policy:
// after MaxOAuthRetries consecutive failures the sleep doubles and the
// counter resets, so the loop keeps retrying forever at a gentler pace.
func (s *Scheduler) ensureAuthenticated(ctx context.Context) bool {
	err := s.auth.Authenticate(ctx)
	if err == nil {
		s.mu.Lock()
		s.authenticated = true
		s.oauthFailures = 0
		s.mu.Unlock()
		s.logger.Info("authentication complete")
		return true
	}

	s.mu.Lock()
	s.oauthFailures++
	failures := s.oauthFailures
	escalate := failures >= s.cfg.MaxOAuthRetries
	if escalate {
		s.oauthFailures = 0
	}
	s.mu.Unlock()

	s.recordError(err.Error())
	delay := s.cfg.RetryDelay
	if escalate {
		delay = 2 * s.cfg.RetryDelay
		s.logger.Error("authentication failing repeatedly, backing off",
			"failures", failures, "backoff", delay, "err", err)
		s.notify(ctx, "Authentication failing",
			fmt.Sprintf("%d consecutive OAuth failures, backing off %s: %v", failures, delay, err))
	} else {
		s.logger.Warn("authentication failed", "attempt", failures, "err", err)
	}
	_ = s.sleep(ctx, delay)
	return false
}

func (s *Scheduler) failCycle(ctx context.Context, rec *CycleRecord, err error) {
	rec.EndedAt = s.now()
	rec.Error = err.Error()

	s.mu.Lock()
	s.lastCycle = rec
	s.mu.Unlock()

	s.recordError(err.Error())
	s.logger.Error("cycle failed", "err", err)
	s.notify(ctx, "Cycle failed", err.Error())
	s.insertHistory(ctx, rec)
	_ = s.sleep(ctx, s.cfg.RetryDelay)
}

func (s *Scheduler) finishCycle(ctx context.Context, rec *CycleRecord, next time.Time) {
	s.mu.Lock()
	s.lastCycle = rec
	s.nextRunAt = next
	s.mu.Unlock()
	s.insertHistory(ctx, rec)
}

// insertHistory is fire-and-forget: the audit trail must never stall or fail
// the loop.
func (s *Scheduler) insertHistory(ctx context.Context, rec *CycleRecord) {
	if s.history == nil {
		return
	}
	if err := s.history.InsertCycle(ctx, rec); err != nil {
		s.logger.Warn("cycle record not persisted", "err", err)
	}
}

func (s *Scheduler) notify(ctx context.Context, title, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, title, body); err != nil {
		s.logger.Warn("notification failed", "err", err)
	}
}

func (s *Scheduler) recordError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentErrors = append(s.recentErrors, msg)
	if len(s.recentErrors) > maxRecentErrors {
		s.recentErrors = s.recentErrors[len(s.recentErrors)-maxRecentErrors:]
	}
}

func (s *Scheduler) maybeForceReauth() {
	if s.reauthSchedule == nil {
		return
	}
	now := s.now()
	if s.nextReauth.IsZero() {
		s.nextReauth = s.reauthSchedule.Next(now)
		return
	}
	if now.Before(s.nextReauth) {
		return
	}
	s.logger.Info("forced re-auth point reached, clearing authentication")
	s.mu.Lock()
	s.authenticated = false
	s.mu.Unlock()
	s.nextReauth = s.reauthSchedule.Next(now)
}

// sleepUntil waits for the next run in bounded chunks so cancellation and
// wake requests take effect within one chunk rather than after the full
// inter-cycle wait.
func (s *Scheduler) sleepUntil(ctx context.Context, next time.Time) {
	for {
		remaining := next.Sub(s.now())
		if remaining <= 0 {
			return
		}
		d := s.chunk
		if remaining < d {
			d = remaining
		}
		slept := make(chan error, 1)
		go func() { slept <- s.sleep(ctx, d) }()
		select {
		case <-s.wake:
			s.logger.Info("sleep interrupted, starting next cycle now")
			return
		case err := <-slept:
			if err != nil {
				return
			}
		}
	}
}

// Wake interrupts the inter-cycle sleep so the next pass starts immediately.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Authenticated reports whether the loop considers the session authenticated.
func (s *Scheduler) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// CycleCount reports completed connection-confirmed passes.
func (s *Scheduler) CycleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycleCount
}

// Status snapshots the loop state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Authenticated: s.authenticated,
		CycleCount:    s.cycleCount,
		OAuthFailures: s.oauthFailures,
		LastCycle:     s.lastCycle,
		RecentErrors:  append([]string(nil), s.recentErrors...),
	}
	if !s.nextRunAt.IsZero() {
		next := s.nextRunAt
		st.NextRunAt = &next
	}
	return st
}
