package core

import (
	"context"
	"time"

	"mailpilot/internal/trigger"
)

// CycleRecord is the append-only audit entry for one scheduler pass that
// reached the processing stage.
type CycleRecord struct {
	ID          string     `json:"id"`
	Seq         int        `json:"seq"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     time.Time  `json:"ended_at"`
	Succeeded   bool       `json:"succeeded"`
	Error       string     `json:"error,omitempty"`
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
}

// Status is a point-in-time snapshot of the automation loop.
type Status struct {
	Running       bool         `json:"running"`
	Authenticated bool         `json:"authenticated"`
	CycleCount    int          `json:"cycle_count"`
	OAuthFailures int          `json:"oauth_failures"`
	LastCycle     *CycleRecord `json:"last_cycle,omitempty"`
	NextRunAt     *time.Time   `json:"next_run_at,omitempty"`
	RecentErrors  []string     `json:"recent_errors,omitempty"`
}

// Authenticator runs one full authentication pass: trigger the connect flow,
// drive the provider pages, exchange the code, and hand tokens to the sink.
// A nil return means the live browser session is authenticated.
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

// Processor operates the downstream application once authenticated.
type Processor interface {
	ConfirmConnection(ctx context.Context) error
	SetRecentWindowFilter(ctx context.Context) error
	ExtractWindow(ctx context.Context) trigger.Window
	TriggerProcessing(ctx context.Context) error
}

// History receives cycle records fire-and-forget.
type History interface {
	InsertCycle(ctx context.Context, rec *CycleRecord) error
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}
