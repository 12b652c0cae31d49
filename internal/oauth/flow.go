package oauth

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"mailpilot/internal/browser"
)

// FlowResult is the terminal outcome of one flow pass.
type FlowResult struct {
	State State
	// Code is the captured authorization code. Empty when the provider
	// returned to the application without one.
	Code string
	// AlreadyAuthenticated marks the return-without-code case: the page came
	// back to the configured origin with no code parameter, which we treat as
	// an existing valid session rather than a failure.
	AlreadyAuthenticated bool
	Reason               string
}

// FlowConfig parameterizes one flow driver.
type FlowConfig struct {
	BaseURL           string
	AccountEmail      string
	Credential        string
	CompletionTimeout time.Duration
	ManualWait        time.Duration
	SecondFactorGrace time.Duration
}

// Flow sequences one pass through the provider's authorization pages. Every
// step is skip-on-absence: an expected element that never shows up means the
// provider omitted that screen, not that the flow broke. Only the final
// completion poll can produce a Failed result.
type Flow struct {
	driver browser.Driver
	cfg    FlowConfig
	logger *slog.Logger

	// codes delivers operator-submitted second-factor codes out of band.
	codes <-chan string

	sleep func(ctx context.Context, d time.Duration) error
}

// NewFlow builds a flow driver. codes may be nil when no out-of-band
// verification channel exists.
func NewFlow(d browser.Driver, cfg FlowConfig, codes <-chan string, logger *slog.Logger) *Flow {
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = 45 * time.Second
	}
	if cfg.ManualWait <= 0 {
		cfg.ManualWait = 2 * time.Minute
	}
	if cfg.SecondFactorGrace <= 0 {
		cfg.SecondFactorGrace = 30 * time.Second
	}
	return &Flow{
		driver: d,
		cfg:    cfg,
		logger: logger,
		codes:  codes,
		sleep:  sleepCtx,
	}
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

var (
	nextDenyWords    = []string{"cancel", "back", "previous"}
	consentDenyWords = []string{"cancel", "deny", "decline", "back"}
)

func denyFilter(words []string) func(string) bool {
	return func(label string) bool {
		lower := strings.ToLower(label)
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}
}

// Run performs one pass: account selection, credential entry, second-factor
// handling, consent, then completion polling.
func (f *Flow) Run(ctx context.Context) FlowResult {
	f.logPageState(ctx, "flow start")

	if err := f.selectAccount(ctx); err != nil {
		f.logger.Warn("account selection skipped", "err", err)
	}
	f.logPageState(ctx, "after account selection")
	_ = f.sleep(ctx, 2*time.Second)

	if err := f.enterCredential(ctx); err != nil {
		f.logger.Warn("credential entry skipped", "err", err)
	}
	f.logPageState(ctx, "after credential entry")
	_ = f.sleep(ctx, 2*time.Second)

	f.handleSecondFactor(ctx)
	f.logPageState(ctx, "after second factor")

	if err := f.handleConsent(ctx); err != nil {
		f.logger.Warn("consent handling skipped", "err", err)
	}
	f.logPageState(ctx, "after consent")

	return f.awaitCompletion(ctx)
}

// snapshot gathers the current page state for classification. Read failures
// leave fields empty, which Classify treats as unknown content.
func (f *Flow) snapshot(ctx context.Context) Snapshot {
	cur, _ := f.driver.CurrentURL(ctx)
	title, _ := f.driver.Title(ctx)
	body, _ := f.driver.PageText(ctx)
	return Snapshot{URL: cur, Title: title, Body: body}
}

func (f *Flow) logPageState(ctx context.Context, step string) {
	snap := f.snapshot(ctx)
	f.logger.Debug("page state",
		"step", step,
		"url", snap.URL,
		"title", snap.Title,
		"state", Classify(snap).String())
}

var accountInputCascade = browser.Cascade{
	{Tag: "input", Attr: "id", AttrValue: "identifierId"},
	{Tag: "input", Attr: "type", AttrValue: "email"},
	{Tag: "input", Attr: "name", AttrValue: "identifier"},
}

var nextButtonCascade = browser.Cascade{
	{Tag: "button", Attr: "id", AttrValue: "identifierNext"},
	{Tag: "span", Text: "Next", TextExact: true},
	{Tag: "button", Text: "Next"},
	{Tag: "button", Attr: "type", AttrValue: "submit"},
	{Tag: "div", Attr: "role", AttrValue: "button"},
}

// selectAccount picks the configured account on the chooser screen. The
// cascade runs from most direct to most desperate: a fresh email input, an
// entry matching the account exactly, any clickable mentioning the account,
// and finally "Use another account" followed by manual entry.
func (f *Flow) selectAccount(ctx context.Context) error {
	email := f.cfg.AccountEmail
	if email == "" {
		return nil
	}

	if el, err := browser.FindFirst(ctx, f.driver, accountInputCascade, nil); err == nil {
		f.logger.Info("entering account email", "account", email)
		if err := browser.EnterText(ctx, el, email); err != nil {
			return err
		}
		return f.clickNext(ctx)
	}

	exact := browser.Cascade{
		{Text: email, TextExact: true},
	}
	if el, err := browser.FindFirst(ctx, f.driver, exact, nil); err == nil {
		f.logger.Info("selecting listed account", "account", email)
		return el.Click(ctx)
	}

	containing := browser.Cascade{
		{Tag: "div", Attr: "role", AttrValue: "link", Text: email},
		{Tag: "div", Attr: "role", AttrValue: "button", Text: email},
		{Tag: "li", Text: email},
	}
	if el, err := browser.FindFirst(ctx, f.driver, containing, nil); err == nil {
		f.logger.Info("selecting account entry", "account", email)
		return el.Click(ctx)
	}

	another := browser.Cascade{
		{Text: "Use another account"},
		{Tag: "div", Text: "Add account"},
	}
	if el, err := browser.FindFirst(ctx, f.driver, another, nil); err == nil {
		f.logger.Info("switching to manual account entry")
		if err := el.Click(ctx); err != nil {
			return err
		}
		_ = f.sleep(ctx, 2*time.Second)
		if input, err := browser.FindFirst(ctx, f.driver, accountInputCascade, nil); err == nil {
			if err := browser.EnterText(ctx, input, email); err != nil {
				return err
			}
			return f.clickNext(ctx)
		}
	}
	return browser.ErrNoMatch
}

func (f *Flow) clickNext(ctx context.Context) error {
	el, err := browser.FindFirst(ctx, f.driver, nextButtonCascade, denyFilter(nextDenyWords))
	if err != nil {
		return err
	}
	return el.Click(ctx)
}

var credentialInputCascade = browser.Cascade{
	{Tag: "input", Attr: "type", AttrValue: "password"},
	{Tag: "input", Attr: "name", AttrValue: "Passwd"},
	{Tag: "input", Attr: "name", AttrValue: "password"},
}

// enterCredential fills the password field when one is configured. Without a
// configured credential the flow suspends for a bounded period so an operator
// can complete the sign-in by hand.
func (f *Flow) enterCredential(ctx context.Context) error {
	el, err := browser.FindFirst(ctx, f.driver, credentialInputCascade, nil)
	if err != nil {
		return nil
	}

	if f.cfg.Credential == "" {
		f.logger.Warn("credential prompt detected with no configured credential, waiting for manual completion",
			"wait", f.cfg.ManualWait)
		deadline := time.Now().Add(f.cfg.ManualWait)
		for time.Now().Before(deadline) {
			if err := f.sleep(ctx, 5*time.Second); err != nil {
				return err
			}
			if _, err := browser.FindFirst(ctx, f.driver, credentialInputCascade, nil); err != nil {
				f.logger.Info("credential prompt cleared manually")
				return nil
			}
		}
		return nil
	}

	f.logger.Info("entering credential")
	if err := browser.EnterText(ctx, el, f.cfg.Credential); err != nil {
		return err
	}
	return f.clickNext(ctx)
}

var codePattern = regexp.MustCompile(`\b\d{4,8}\b`)

// nonCodes filters numbers that look like codes but almost never are.
var nonCodes = map[string]bool{
	"2023": true, "2024": true, "2025": true, "2026": true,
	"1234": true, "0000": true,
}

// ExtractVerificationCodes surfaces plausible numeric verification codes from
// page text, preserving first-seen order.
func ExtractVerificationCodes(text string) []string {
	seen := make(map[string]bool)
	var codes []string
	for _, m := range codePattern.FindAllString(text, -1) {
		if nonCodes[m] || seen[m] {
			continue
		}
		seen[m] = true
		codes = append(codes, m)
	}
	return codes
}

var verificationInputCascade = browser.Cascade{
	{Tag: "input", Attr: "type", AttrValue: "tel"},
	{Tag: "input", Attr: "type", AttrValue: "number"},
	{Tag: "input", Attr: "id", AttrValue: "code", AttrContains: true},
	{Tag: "input", Attr: "name", AttrValue: "code", AttrContains: true},
	{Tag: "input", Attr: "id", AttrValue: "verify", AttrContains: true},
}

// handleSecondFactor runs only when the classifier places the page on a
// verification challenge. It surfaces any code the provider displays and waits
// a grace period for out-of-band completion. It delays but never fails: the
// completion poll decides the final outcome.
func (f *Flow) handleSecondFactor(ctx context.Context) {
	snap := f.snapshot(ctx)
	if state := Classify(snap); state != StateSecondFactor {
		f.logger.Debug("no second-factor challenge detected", "state", state.String())
		return
	}

	f.logger.Info("second-factor challenge detected")
	for _, code := range ExtractVerificationCodes(snap.Body) {
		f.logger.Info("verification code displayed on page", "code", code)
	}

	// An operator-submitted code takes priority over waiting out the grace.
	select {
	case code := <-f.codeChan():
		f.submitVerificationCode(ctx, code)
		return
	default:
	}

	f.logger.Info("waiting for second-factor completion", "grace", f.cfg.SecondFactorGrace)
	timer := time.NewTimer(f.cfg.SecondFactorGrace)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case code := <-f.codeChan():
		f.submitVerificationCode(ctx, code)
	case <-timer.C:
	}
}

func (f *Flow) codeChan() <-chan string {
	if f.codes != nil {
		return f.codes
	}
	// A nil channel blocks forever, which is exactly the behavior we want in
	// the select above when no out-of-band channel is wired.
	return nil
}

func (f *Flow) submitVerificationCode(ctx context.Context, code string) {
	f.logger.Info("submitting operator-provided verification code")
	el, err := browser.FindFirst(ctx, f.driver, verificationInputCascade, nil)
	if err != nil {
		f.logger.Warn("no verification input found for submitted code")
		return
	}
	if err := browser.EnterText(ctx, el, code); err != nil {
		f.logger.Warn("verification code entry failed", "err", err)
		return
	}
	if err := f.clickNext(ctx); err != nil {
		f.logger.Warn("verification submit click failed", "err", err)
	}
}

var checkboxCascades = []browser.Locator{
	{Tag: "input", Attr: "type", AttrValue: "checkbox"},
	{Tag: "div", Attr: "role", AttrValue: "checkbox"},
}

var affirmativeCascade = browser.Cascade{
	{Tag: "button", Text: "Allow"},
	{Tag: "button", Text: "Continue"},
	{Tag: "button", Text: "Accept"},
	{Tag: "button", Text: "Authorize"},
	{Tag: "button", Attr: "data-value", AttrValue: "allow"},
	{Tag: "div", Attr: "role", AttrValue: "button", Text: "Allow"},
	{Tag: "div", Attr: "role", AttrValue: "button", Text: "Continue"},
	{Tag: "input", Attr: "value", AttrValue: "Allow"},
	{Tag: "input", Attr: "value", AttrValue: "Continue"},
	{Tag: "button", Attr: "type", AttrValue: "submit"},
}

// handleConsent ticks any unchecked permission toggles, then clicks the first
// enabled affirmative button, skipping deny/cancel labels. Multi-page consent
// sequences get up to two extra click passes.
func (f *Flow) handleConsent(ctx context.Context) error {
	f.checkPermissionToggles(ctx)

	clicked, err := f.clickAffirmative(ctx)
	if err != nil {
		return err
	}
	if !clicked {
		f.logger.Debug("no consent screen present")
		return nil
	}

	for pass := 0; pass < 2; pass++ {
		if err := f.sleep(ctx, 3*time.Second); err != nil {
			return err
		}
		again, err := f.clickAffirmative(ctx)
		if err != nil || !again {
			break
		}
		f.logger.Info("clicked additional consent continue", "pass", pass+1)
	}
	return nil
}

func (f *Flow) checkPermissionToggles(ctx context.Context) {
	for _, loc := range checkboxCascades {
		elems, err := f.driver.Find(ctx, loc)
		if err != nil {
			continue
		}
		for _, el := range elems {
			visible, err := el.Visible(ctx)
			if err != nil || !visible {
				continue
			}
			enabled, err := el.Enabled(ctx)
			if err != nil || !enabled {
				continue
			}
			checked, _ := el.Attribute(ctx, "checked")
			aria, _ := el.Attribute(ctx, "aria-checked")
			if checked != "" || aria == "true" {
				continue
			}
			if err := el.Click(ctx); err != nil {
				f.logger.Warn("permission toggle click failed", "err", err)
				continue
			}
			f.logger.Info("selected permission toggle")
		}
	}
}

func (f *Flow) clickAffirmative(ctx context.Context) (bool, error) {
	el, err := browser.FindFirst(ctx, f.driver, affirmativeCascade, denyFilter(consentDenyWords))
	if err != nil {
		return false, nil
	}
	label, _ := el.Text(ctx)
	f.logger.Info("clicking consent button", "label", label)
	if err := el.Click(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// awaitCompletion polls for a terminal signal: the URL carries an
// authorization code, the page returned to the configured origin, or the
// authorization popup closed while a parent window survived. Only this
// timeout produces Failed.
func (f *Flow) awaitCompletion(ctx context.Context) FlowResult {
	startWindows, _ := f.driver.WindowCount(ctx)
	deadline := time.Now().Add(f.cfg.CompletionTimeout)

	for {
		cur, err := f.driver.CurrentURL(ctx)
		if err == nil {
			if code := extractCode(cur); code != "" {
				f.logger.Info("authorization code captured")
				return FlowResult{State: StateCompleted, Code: code}
			}
			if f.cfg.BaseURL != "" && strings.HasPrefix(cur, f.cfg.BaseURL) && !IsProviderURL(cur) {
				f.logger.Info("returned to application without code, treating as already authenticated", "url", cur)
				return FlowResult{State: StateCompleted, AlreadyAuthenticated: true}
			}
		}

		if startWindows > 1 {
			if n, err := f.driver.WindowCount(ctx); err == nil && n < startWindows {
				f.logger.Info("authorization popup closed", "windows", n)
				return FlowResult{State: StateCompleted, AlreadyAuthenticated: true}
			}
		}

		if !time.Now().Before(deadline) {
			f.logPageState(ctx, "completion timeout")
			return FlowResult{State: StateFailed, Reason: "completion detection timed out"}
		}
		if err := f.sleep(ctx, 2*time.Second); err != nil {
			return FlowResult{State: StateFailed, Reason: err.Error()}
		}
	}
}

func extractCode(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("code")
}

var connectButtonCascade = browser.Cascade{
	{Tag: "button", Text: "Connect Gmail"},
	{Tag: "button", Text: "Connect"},
	{Tag: "button", Text: "Sign in with Google"},
	{Tag: "a", Text: "Connect"},
	{Tag: "div", Attr: "role", AttrValue: "button", Text: "Connect"},
	{Tag: "button", Attr: "id", AttrValue: "connect", AttrContains: true},
	{Tag: "button", Attr: "class", AttrValue: "connect", AttrContains: true},
}

// TriggerFromApp navigates to the application and clicks its connect control,
// which kicks off the provider redirect that Run then drives.
func (f *Flow) TriggerFromApp(ctx context.Context) error {
	if err := f.driver.Navigate(ctx, f.cfg.BaseURL); err != nil {
		return err
	}
	_ = f.sleep(ctx, 2*time.Second)
	el, err := browser.FindFirst(ctx, f.driver, connectButtonCascade, denyFilter(nextDenyWords))
	if err != nil {
		return err
	}
	f.logger.Info("triggering authorization from application")
	return el.Click(ctx)
}
