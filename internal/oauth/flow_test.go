package oauth

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
	value   string
	visible bool
	enabled bool
	clicks  int
}

func (s *stubElement) Text(context.Context) (string, error) { return s.text, nil }
func (s *stubElement) Attribute(_ context.Context, name string) (string, error) {
	return s.attrs[name], nil
}
func (s *stubElement) Value(context.Context) (string, error) { return s.value, nil }
func (s *stubElement) Visible(context.Context) (bool, error) { return s.visible, nil }
func (s *stubElement) Enabled(context.Context) (bool, error) { return s.enabled, nil }
func (s *stubElement) Click(context.Context) error { s.clicks++; return nil }
func (s *stubElement) SetValue(_ context.Context, v string) error {
	s.value = v
	return nil
}
func (s *stubElement) SetValueViaEvents(_ context.Context, v string) error {
	s.value = v
	return nil
}
func (s *stubElement) TypeKeys(_ context.Context, v string) error {
	s.value = v
	return nil
}

type stubDriver struct {
	url      string
	title    string
	pageText string
	windows  int
	elements map[string][]browser.Element
	visited  []string
}

func (s *stubDriver) Navigate(_ context.Context, url string) error {
	s.visited = append(s.visited, url)
	s.url = url
	return nil
}
func (s *stubDriver) Reload(context.Context) error { return nil }
func (s *stubDriver) CurrentURL(context.Context) (string, error) { return s.url, nil }
func (s *stubDriver) Title(context.Context) (string, error) { return s.title, nil }
func (s *stubDriver) PageText(context.Context) (string, error) { return s.pageText, nil }
func (s *stubDriver) Screenshot(context.Context) ([]byte, error) { return nil, nil }
func (s *stubDriver) WindowCount(context.Context) (int, error) { return s.windows, nil }
func (s *stubDriver) Close() error { return nil }

func (s *stubDriver) Find(_ context.Context, loc browser.Locator) ([]browser.Element, error) {
	return s.elements[loc.XPath()], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFlow(d browser.Driver, cfg FlowConfig, codes <-chan string) *Flow {
	f := NewFlow(d, cfg, codes, testLogger())
	f.sleep = func(context.Context, time.Duration) error { return nil }
	return f
}

func TestRunCapturesAuthorizationCode(t *testing.T) {
	d := &stubDriver{
		url:     "https://app.example.com/oauth-callback?code=4%2Fabc123&scope=email",
		windows: 1,
	}
	f := newTestFlow(d, FlowConfig{BaseURL: "https://app.example.com"}, nil)

	result := f.Run(context.Background())
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, "4/abc123", result.Code)
	assert.False(t, result.AlreadyAuthenticated)
}

func TestRunReturnWithoutCodeIsAlreadyAuthenticated(t *testing.T) {
	d := &stubDriver{url: "https://app.example.com/dashboard", windows: 1}
	f := newTestFlow(d, FlowConfig{BaseURL: "https://app.example.com"}, nil)

	result := f.Run(context.Background())
	assert.Equal(t, StateCompleted, result.State)
	assert.Empty(t, result.Code)
	assert.True(t, result.AlreadyAuthenticated)
}

func TestRunTimesOutOnProviderPage(t *testing.T) {
	d := &stubDriver{url: "https://accounts.google.com/o/oauth2/auth", windows: 1}
	f := newTestFlow(d, FlowConfig{
		BaseURL:           "https://app.example.com",
		CompletionTimeout: 50 * time.Millisecond,
	}, nil)

	result := f.Run(context.Background())
	assert.Equal(t, StateFailed, result.State)
	assert.Contains(t, result.Reason, "timed out")
}

func TestSelectAccountFillsEmailInput(t *testing.T) {
	input := &stubElement{visible: true, enabled: true}
	next := &stubElement{text: "Next", visible: true, enabled: true}
	d := &stubDriver{
		url: "https://accounts.google.com/o/oauth2/auth/identifier",
		elements: map[string][]browser.Element{
			(browser.Locator{Tag: "input", Attr: "id", AttrValue: "identifierId"}).XPath(): {input},
			(browser.Locator{Tag: "button", Attr: "id", AttrValue: "identifierNext"}).XPath(): {next},
		},
	}
	f := newTestFlow(d, FlowConfig{
		BaseURL:      "https://app.example.com",
		AccountEmail: "user@example.com",
	}, nil)

	require.NoError(t, f.selectAccount(context.Background()))
	assert.Equal(t, "user@example.com", input.value)
	assert.Equal(t, 1, next.clicks)
}

func TestSelectAccountClicksListedAccount(t *testing.T) {
	entry := &stubElement{text: "user@example.com", visible: true, enabled: true}
	d := &stubDriver{
		url: "https://accounts.google.com/o/oauth2/auth",
		elements: map[string][]browser.Element{
			(browser.Locator{Text: "user@example.com", TextExact: true}).XPath(): {entry},
		},
	}
	f := newTestFlow(d, FlowConfig{AccountEmail: "user@example.com"}, nil)

	require.NoError(t, f.selectAccount(context.Background()))
	assert.Equal(t, 1, entry.clicks)
}

func TestEnterCredentialUsesConfiguredSecret(t *testing.T) {
	pw := &stubElement{visible: true, enabled: true}
	next := &stubElement{text: "Next", visible: true, enabled: true}
	d := &stubDriver{
		elements: map[string][]browser.Element{
			(browser.Locator{Tag: "input", Attr: "type", AttrValue: "password"}).XPath(): {pw},
			(browser.Locator{Tag: "button", Attr: "id", AttrValue: "identifierNext"}).XPath(): {next},
		},
	}
	f := newTestFlow(d, FlowConfig{Credential: "hunter2"}, nil)

	require.NoError(t, f.enterCredential(context.Background()))
	assert.Equal(t, "hunter2", pw.value)
	assert.Equal(t, 1, next.clicks)
}

func TestEnterCredentialSkipsWhenNoPromptPresent(t *testing.T) {
	d := &stubDriver{elements: map[string][]browser.Element{}}
	f := newTestFlow(d, FlowConfig{Credential: "hunter2"}, nil)

	require.NoError(t, f.enterCredential(context.Background()))
}

func TestHandleConsentSkipsDenyButtons(t *testing.T) {
	cancel := &stubElement{text: "Cancel and go Back", visible: true, enabled: true}
	allow := &stubElement{text: "Allow", visible: true, enabled: true}
	d := &stubDriver{
		elements: map[string][]browser.Element{
			(browser.Locator{Tag: "button", Text: "Allow"}).XPath(): {cancel, allow},
		},
	}
	f := newTestFlow(d, FlowConfig{}, nil)

	require.NoError(t, f.handleConsent(context.Background()))
	assert.Zero(t, cancel.clicks)
	assert.GreaterOrEqual(t, allow.clicks, 1)
}

func TestHandleConsentSelectsUncheckedToggles(t *testing.T) {
	unchecked := &stubElement{visible: true, enabled: true, attrs: map[string]string{}}
	checked := &stubElement{visible: true, enabled: true, attrs: map[string]string{"checked": "true"}}
	allow := &stubElement{text: "Continue", visible: true, enabled: true}
	d := &stubDriver{
		elements: map[string][]browser.Element{
			(browser.Locator{Tag: "input", Attr: "type", AttrValue: "checkbox"}).XPath(): {unchecked, checked},
			(browser.Locator{Tag: "button", Text: "Continue"}).XPath():                   {allow},
		},
	}
	f := newTestFlow(d, FlowConfig{}, nil)

	require.NoError(t, f.handleConsent(context.Background()))
	assert.Equal(t, 1, unchecked.clicks)
	assert.Zero(t, checked.clicks)
}

func TestSecondFactorSubmitsOutOfBandCode(t *testing.T) {
	input := &stubElement{visible: true, enabled: true}
	next := &stubElement{text: "Next", visible: true, enabled: true}
	d := &stubDriver{
		url:      "https://accounts.google.com/signin/challenge/ipp",
		pageText: "We sent a verification code to your phone",
		elements: map[string][]browser.Element{
			(browser.Locator{Tag: "input", Attr: "type", AttrValue: "tel"}).XPath():      {input},
			(browser.Locator{Tag: "button", Attr: "id", AttrValue: "identifierNext"}).XPath(): {next},
		},
	}
	codes := make(chan string, 1)
	codes <- "482913"
	f := newTestFlow(d, FlowConfig{}, codes)

	f.handleSecondFactor(context.Background())
	assert.Equal(t, "482913", input.value)
	assert.Equal(t, 1, next.clicks)
}

func TestSecondFactorDetectedByChallengeURL(t *testing.T) {
	// The challenge URL alone places the page on the verification step, even
	// when the localized body text matches no keyword.
	input := &stubElement{visible: true, enabled: true}
	next := &stubElement{text: "Next", visible: true, enabled: true}
	d := &stubDriver{
		url:      "https://accounts.google.com/signin/challenge/totp",
		pageText: "Geben Sie den Code ein",
		elements: map[string][]browser.Element{
			(browser.Locator{Tag: "input", Attr: "type", AttrValue: "tel"}).XPath():      {input},
			(browser.Locator{Tag: "button", Attr: "id", AttrValue: "identifierNext"}).XPath(): {next},
		},
	}
	codes := make(chan string, 1)
	codes <- "775533"
	f := newTestFlow(d, FlowConfig{}, codes)

	f.handleSecondFactor(context.Background())
	assert.Equal(t, "775533", input.value)
}

func TestSecondFactorSkippedOffProviderPage(t *testing.T) {
	// Application pages mentioning "confirm" or "code" must not trigger the
	// verification wait: the page has to classify as a challenge first.
	input := &stubElement{visible: true, enabled: true}
	d := &stubDriver{
		url:      "https://app.example.com/dashboard",
		pageText: "Please confirm your subscription code 482913",
		elements: map[string][]browser.Element{
			(browser.Locator{Tag: "input", Attr: "type", AttrValue: "tel"}).XPath(): {input},
		},
	}
	codes := make(chan string, 1)
	codes <- "482913"
	f := newTestFlow(d, FlowConfig{}, codes)

	f.handleSecondFactor(context.Background())
	assert.Empty(t, input.value)
}

func TestExtractVerificationCodes(t *testing.T) {
	text := "Your code is 482913. Sent 2025 by Example. Backup: 7710. Ignore 1234 and 0000. Again 482913."
	codes := ExtractVerificationCodes(text)
	assert.Equal(t, []string{"482913", "7710"}, codes)
}

func TestTriggerFromAppClicksConnect(t *testing.T) {
	connect := &stubElement{text: "Connect Gmail", visible: true, enabled: true}
	d := &stubDriver{
		elements: map[string][]browser.Element{
			(browser.Locator{Tag: "button", Text: "Connect Gmail"}).XPath(): {connect},
		},
	}
	f := newTestFlow(d, FlowConfig{BaseURL: "https://app.example.com"}, nil)

	require.NoError(t, f.TriggerFromApp(context.Background()))
	assert.Equal(t, []string{"https://app.example.com"}, d.visited)
	assert.Equal(t, 1, connect.clicks)
}
