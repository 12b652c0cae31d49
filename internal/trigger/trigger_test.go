package trigger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpilot/internal/browser"
)

type stubElement struct {
	text    string
	attrs   map[string]string
	visible bool
	enabled bool
	clicks  int
}

func (s *stubElement) Text(context.Context) (string, error) { return s.text, nil }
func (s *stubElement) Attribute(_ context.Context, name string) (string, error) {
	return s.attrs[name], nil
}
func (s *stubElement) Value(context.Context) (string, error) { return "", nil }
func (s *stubElement) Visible(context.Context) (bool, error) { return s.visible, nil }
func (s *stubElement) Enabled(context.Context) (bool, error) { return s.enabled, nil }
func (s *stubElement) Click(context.Context) error { s.clicks++; return nil }
func (s *stubElement) SetValue(context.Context, string) error { return nil }
func (s *stubElement) SetValueViaEvents(context.Context, string) error { return nil }
func (s *stubElement) TypeKeys(context.Context, string) error { return nil }

type stubDriver struct {
	url      string
	reloads  int
	elements map[string][]browser.Element

	// afterReloads installs elements once the page has been reloaded that
	// many times, simulating UI that only updates after a reconnect.
	afterReloads int
	lateElements map[string][]browser.Element
}

func (s *stubDriver) Navigate(_ context.Context, url string) error { s.url = url; return nil }
func (s *stubDriver) Reload(context.Context) error { s.reloads++; return nil }
func (s *stubDriver) CurrentURL(context.Context) (string, error) { return s.url, nil }
func (s *stubDriver) Title(context.Context) (string, error) { return "", nil }
func (s *stubDriver) PageText(context.Context) (string, error) { return "", nil }
func (s *stubDriver) Screenshot(context.Context) ([]byte, error) { return nil, nil }
func (s *stubDriver) WindowCount(context.Context) (int, error) { return 1, nil }
func (s *stubDriver) Close() error { return nil }

func (s *stubDriver) Find(_ context.Context, loc browser.Locator) ([]browser.Element, error) {
	if s.lateElements != nil && s.reloads > s.afterReloads {
		if elems, ok := s.lateElements[loc.XPath()]; ok {
			return elems, nil
		}
	}
	return s.elements[loc.XPath()], nil
}

func newTestDriver(b browser.Driver, reconnect func(context.Context) error) *Driver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewDriver(b, 20*time.Minute, reconnect, logger)
	d.sleep = func(context.Context, time.Duration) error { return nil }
	d.retryDelay = time.Millisecond
	return d
}

func disconnectKey() string {
	return (browser.Locator{Tag: "button", Text: "Disconnect Gmail"}).XPath()
}

func TestConfirmConnectionFindsIndicator(t *testing.T) {
	btn := &stubElement{text: "Disconnect Gmail", visible: true, enabled: true}
	b := &stubDriver{elements: map[string][]browser.Element{disconnectKey(): {btn}}}
	d := newTestDriver(b, nil)

	require.NoError(t, d.ConfirmConnection(context.Background()))
	assert.Equal(t, 1, b.reloads)
}

func TestConfirmConnectionReconnectsThenSucceeds(t *testing.T) {
	btn := &stubElement{text: "Disconnect Gmail", visible: true, enabled: true}
	b := &stubDriver{
		elements:     map[string][]browser.Element{},
		afterReloads: 1,
		lateElements: map[string][]browser.Element{disconnectKey(): {btn}},
	}
	reconnects := 0
	d := newTestDriver(b, func(context.Context) error { reconnects++; return nil })

	require.NoError(t, d.ConfirmConnection(context.Background()))
	assert.Equal(t, 1, reconnects)
	assert.Equal(t, 2, b.reloads)
}

func TestConfirmConnectionFailsAfterThreeAttempts(t *testing.T) {
	b := &stubDriver{elements: map[string][]browser.Element{}}
	reconnects := 0
	d := newTestDriver(b, func(context.Context) error { reconnects++; return nil })

	err := d.ConfirmConnection(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 3, b.reloads)
	// OnRetry fires after every failed attempt, the last one included.
	assert.Equal(t, 3, reconnects)
}

func TestSetRecentWindowFilterClicksControl(t *testing.T) {
	filter := &stubElement{text: "Last 20 min", visible: true, enabled: true}
	b := &stubDriver{elements: map[string][]browser.Element{
		(browser.Locator{Tag: "button", Text: "Last 20 min"}).XPath(): {filter},
	}}
	d := newTestDriver(b, nil)

	require.NoError(t, d.SetRecentWindowFilter(context.Background()))
	assert.Equal(t, 1, filter.clicks)
}

func TestSetRecentWindowFilterMissingIsReported(t *testing.T) {
	b := &stubDriver{elements: map[string][]browser.Element{}}
	d := newTestDriver(b, nil)

	assert.ErrorIs(t, d.SetRecentWindowFilter(context.Background()), browser.ErrNoMatch)
}

func TestExtractWindowReadsDisplayedRange(t *testing.T) {
	label := &stubElement{text: "14:10 - 14:30", visible: true, enabled: true}
	b := &stubDriver{elements: map[string][]browser.Element{
		(browser.Locator{Tag: "div", Attr: "class", AttrValue: "time-range", AttrContains: true}).XPath(): {label},
	}}
	d := newTestDriver(b, nil)
	now := dayAt("14:35")
	d.now = func() time.Time { return now }

	w := d.ExtractWindow(context.Background())
	assert.Equal(t, dayAt("14:10"), w.Start)
	assert.Equal(t, dayAt("14:30"), w.End)
}

func TestExtractWindowFallsBackOnEmptyPage(t *testing.T) {
	b := &stubDriver{elements: map[string][]browser.Element{}}
	d := newTestDriver(b, nil)
	now := dayAt("14:35")
	d.now = func() time.Time { return now }

	w := d.ExtractWindow(context.Background())
	assert.Equal(t, now.Add(-20*time.Minute), w.Start)
	assert.Equal(t, now, w.End)
	assert.False(t, w.Start.After(w.End))
}

func TestTriggerProcessingClicksButton(t *testing.T) {
	btn := &stubElement{text: "Scan & Auto-Process Emails", visible: true, enabled: true}
	b := &stubDriver{elements: map[string][]browser.Element{
		(browser.Locator{Tag: "button", Text: "Scan & Auto-Process Emails"}).XPath(): {btn},
	}}
	d := newTestDriver(b, nil)

	require.NoError(t, d.TriggerProcessing(context.Background()))
	assert.Equal(t, 1, btn.clicks)
}

func TestTriggerProcessingMissingButtonIsFatal(t *testing.T) {
	b := &stubDriver{elements: map[string][]browser.Element{}}
	d := newTestDriver(b, nil)

	assert.ErrorIs(t, d.TriggerProcessing(context.Background()), ErrTriggerNotFound)
}
