package trigger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"mailpilot/internal/browser"
)

// ErrNotConnected is returned when the connected indicator never appears.
var ErrNotConnected = errors.New("connection indicator not found")

// ErrTriggerNotFound is returned when the processing action button is absent.
var ErrTriggerNotFound = errors.New("processing trigger button not found")

// Driver operates the downstream application's page after authentication:
// confirm the mailbox connection, narrow the filter to the recent window,
// read the processed range, and kick off processing.
type Driver struct {
	browser  browser.Driver
	logger   *slog.Logger
	interval time.Duration

	// reconnect re-runs the connect-from-app step when the connection
	// indicator is missing, typically oauth.Flow.TriggerFromApp plus a
	// flow pass.
	reconnect func(ctx context.Context) error

	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	retryDelay time.Duration
}

// NewDriver builds a trigger driver. reconnect may be nil, in which case a
// missing connection is only retried by reload.
func NewDriver(b browser.Driver, interval time.Duration, reconnect func(ctx context.Context) error, logger *slog.Logger) *Driver {
	if interval <= 0 {
		interval = 20 * time.Minute
	}
	return &Driver{
		browser:    b,
		logger:     logger,
		interval:   interval,
		reconnect:  reconnect,
		now:        time.Now,
		retryDelay: 2 * time.Second,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

var disconnectCascade = browser.Cascade{
	{Tag: "button", Text: "Disconnect Gmail"},
	{Tag: "button", Text: "Disconnect Gmail", TextExact: true},
	{Tag: "a", Text: "Disconnect Gmail"},
	{Tag: "button", Text: "disconnect", TextFold: true},
	{Tag: "input", Attr: "value", AttrValue: "Disconnect Gmail"},
	{Tag: "input", Attr: "value", AttrValue: "Disconnect"},
}

// ConfirmConnection reloads the page and looks for the disconnect control,
// whose presence proves the mailbox is linked. On a miss it re-triggers the
// connect step and tries again, three attempts total. Failure here is fatal
// to the cycle: processing must not run against an unlinked mailbox.
func (d *Driver) ConfirmConnection(ctx context.Context) error {
	return retry.Do(
		func() error {
			if err := d.browser.Reload(ctx); err != nil {
				return err
			}
			if err := d.sleep(ctx, d.retryDelay); err != nil {
				return err
			}
			el, err := browser.FindFirst(ctx, d.browser, disconnectCascade, nil)
			if err != nil {
				return ErrNotConnected
			}
			label, _ := el.Text(ctx)
			d.logger.Info("connection confirmed", "indicator", label)
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(d.retryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			d.logger.Warn("connection not confirmed, re-triggering connect", "attempt", n+1, "err", err)
			if d.reconnect != nil {
				if rerr := d.reconnect(ctx); rerr != nil {
					d.logger.Warn("reconnect attempt failed", "err", rerr)
				}
			}
		}),
	)
}

var recentFilterCascade = browser.Cascade{
	{Tag: "button", Text: "Last 20 min"},
	{Tag: "option", Text: "Last 20 min"},
	{Tag: "div", Text: "Last 20 min"},
	{Tag: "li", Text: "Last 20 min"},
	{Tag: "a", Text: "Last 20 min"},
	{Tag: "button", Text: "last 20 min", TextFold: true},
	{Tag: "button", Text: "20 min", TextFold: true},
	{Tag: "option", Text: "20 min", TextFold: true},
}

// SetRecentWindowFilter clicks the fixed recent-window filter control. Not
// finding it is reported but non-fatal: the application then processes with
// its default range.
func (d *Driver) SetRecentWindowFilter(ctx context.Context) error {
	el, err := browser.FindFirst(ctx, d.browser, recentFilterCascade, nil)
	if err != nil {
		return err
	}
	label, _ := el.Text(ctx)
	d.logger.Info("setting recent window filter", "label", label)
	return el.Click(ctx)
}

var windowDisplayCascade = browser.Cascade{
	{Tag: "div", Attr: "class", AttrValue: "time-range", AttrContains: true},
	{Tag: "div", Attr: "class", AttrValue: "date-range", AttrContains: true},
	{Tag: "span", Attr: "class", AttrValue: "time", AttrContains: true},
	{Tag: "div", Attr: "class", AttrValue: "filter-display", AttrContains: true},
	{Tag: "div", Attr: "class", AttrValue: "selected-range", AttrContains: true},
}

// ExtractWindow reads the displayed processed range and parses it. It never
// fails: an unreadable or absent label falls back to now−interval..now.
func (d *Driver) ExtractWindow(ctx context.Context) Window {
	now := d.now()
	for _, loc := range windowDisplayCascade {
		elems, err := d.browser.Find(ctx, loc)
		if err != nil {
			continue
		}
		for _, el := range elems {
			text, err := el.Text(ctx)
			if err != nil {
				continue
			}
			if looksLikeRange(text) {
				w := ParseWindowLabel(text, now, d.interval)
				d.logger.Info("extracted processing window",
					"label", text,
					"start", w.Start.Format("15:04"),
					"end", w.End.Format("15:04"))
				return w
			}
		}
	}
	w := ParseWindowLabel("", now, d.interval)
	d.logger.Info("no range label found, synthesizing window",
		"start", w.Start.Format("15:04"),
		"end", w.End.Format("15:04"))
	return w
}

func looksLikeRange(text string) bool {
	if !strings.Contains(text, ":") {
		return false
	}
	lower := strings.ToLower(text)
	return strings.Contains(text, "-") || strings.Contains(lower, "to") || strings.Contains(lower, "hasta")
}

var processCascade = browser.Cascade{
	{Tag: "button", Text: "Scan & Auto-Process Emails"},
	{Tag: "button", Text: "Auto-Process Emails"},
	{Tag: "a", Text: "Scan & Auto-Process Emails"},
	{Tag: "input", Attr: "value", AttrValue: "Scan & Auto-Process Emails"},
	{Tag: "button", Text: "auto-process emails", TextFold: true},
	{Tag: "button", Text: "Scan & Auto Process"},
	{Tag: "button", Text: "Auto Process"},
	{Tag: "input", Attr: "value", AttrValue: "Auto Process"},
}

// TriggerProcessing clicks the action that starts the downstream run.
// Failure is fatal to the cycle.
func (d *Driver) TriggerProcessing(ctx context.Context) error {
	el, err := browser.FindFirst(ctx, d.browser, processCascade, nil)
	if err != nil {
		return ErrTriggerNotFound
	}
	label, _ := el.Text(ctx)
	d.logger.Info("triggering processing", "label", label)
	if err := el.Click(ctx); err != nil {
		return err
	}
	return nil
}
