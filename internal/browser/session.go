package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
)

// Options configures the Chrome session.
type Options struct {
	Headless    bool
	NoSandbox   bool
	PageTimeout time.Duration
}

// Session owns one Chrome instance driven over CDP. All operations are
// strictly sequential; the session must only be used from a single goroutine.
type Session struct {
	ctx         context.Context
	allocCancel context.CancelFunc
	ctxCancel   context.CancelFunc
	pageTimeout time.Duration
	logger      *slog.Logger
}

// NewSession launches Chrome and returns a live session. The caller must
// Close it.
func NewSession(parent context.Context, opts Options, logger *slog.Logger) (*Session, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.Flag("no-sandbox", true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocOpts...)
	browserCtx, ctxCancel := chromedp.NewContext(allocCtx)

	// Start the browser eagerly so a missing Chrome binary surfaces here
	// instead of on the first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		ctxCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	timeout := opts.PageTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Session{
		ctx:         browserCtx,
		allocCancel: allocCancel,
		ctxCancel:   ctxCancel,
		pageTimeout: timeout,
		logger:      logger,
	}, nil
}

// Close shuts down the browser.
func (s *Session) Close() error {
	s.ctxCancel()
	s.allocCancel()
	return nil
}

// run executes actions against the browser with the per-operation timeout,
// honoring cancellation from the caller's context.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(s.ctx, s.pageTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(opCtx, actions...) }()
	select {
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *Session) Reload(ctx context.Context) error {
	if err := s.run(ctx, chromedp.Reload(), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("current url: %w", err)
	}
	return url, nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("title: %w", err)
	}
	return title, nil
}

func (s *Session) PageText(ctx context.Context) (string, error) {
	var text string
	err := s.run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text))
	if err != nil {
		return "", fmt.Errorf("page text: %w", err)
	}
	return text, nil
}

// Find evaluates the locator against the live page and returns handles for
// every match. It does not wait: an absent element yields an empty slice, and
// the cascade moves on.
func (s *Session) Find(ctx context.Context, loc Locator) ([]Element, error) {
	xpath := loc.XPath()
	var nodes []*cdp.Node
	err := s.run(ctx, chromedp.Nodes(xpath, &nodes, chromedp.BySearch, chromedp.AtLeast(0)))
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", xpath, err)
	}
	elems := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		elems = append(elems, &sessionElement{sess: s, xpath: n.FullXPath()})
	}
	return elems, nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// WindowCount reports the number of open page targets. The OAuth popup opens
// a second target; its disappearance while the parent survives is one of the
// completion signals.
func (s *Session) WindowCount(ctx context.Context) (int, error) {
	infos, err := chromedp.Targets(s.ctx)
	if err != nil {
		return 0, fmt.Errorf("targets: %w", err)
	}
	count := 0
	for _, info := range infos {
		if info.Type == "page" {
			count++
		}
	}
	return count, nil
}

// sessionElement addresses a matched node by its full XPath. Subsequent
// operations re-resolve the path, which tolerates re-renders that replace the
// underlying DOM node as long as the structure is stable.
type sessionElement struct {
	sess  *Session
	xpath string
}

func (e *sessionElement) Text(ctx context.Context) (string, error) {
	var text string
	err := e.sess.run(ctx, chromedp.Text(e.xpath, &text, chromedp.BySearch, chromedp.AtLeast(0)))
	if err != nil {
		return "", err
	}
	return text, nil
}

func (e *sessionElement) Attribute(ctx context.Context, name string) (string, error) {
	var value string
	var ok bool
	err := e.sess.run(ctx, chromedp.AttributeValue(e.xpath, name, &value, &ok, chromedp.BySearch))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return value, nil
}

func (e *sessionElement) Value(ctx context.Context) (string, error) {
	var value string
	if err := e.sess.run(ctx, chromedp.Value(e.xpath, &value, chromedp.BySearch)); err != nil {
		return "", err
	}
	return value, nil
}

func (e *sessionElement) Visible(ctx context.Context) (bool, error) {
	return e.evalBool(ctx, `(function(el){
		if (!el) return false;
		var st = window.getComputedStyle(el);
		return el.offsetWidth > 0 && el.offsetHeight > 0 &&
			st.visibility !== 'hidden' && st.display !== 'none';
	})`)
}

func (e *sessionElement) Enabled(ctx context.Context) (bool, error) {
	return e.evalBool(ctx, `(function(el){
		if (!el) return false;
		return !el.disabled && el.getAttribute('aria-disabled') !== 'true';
	})`)
}

func (e *sessionElement) Click(ctx context.Context) error {
	err := e.sess.run(ctx,
		chromedp.ScrollIntoView(e.xpath, chromedp.BySearch),
		chromedp.Click(e.xpath, chromedp.BySearch),
	)
	if err == nil {
		return nil
	}
	// Overlapped or animated elements reject mouse clicks; a synthetic click
	// on the resolved node still lands.
	jsErr := e.sess.run(ctx, chromedp.Evaluate(e.wrapNodeJS(`(function(el){ if (el) el.click(); })`), nil))
	if jsErr != nil {
		return fmt.Errorf("click %s: %w", e.xpath, err)
	}
	return nil
}

func (e *sessionElement) SetValue(ctx context.Context, value string) error {
	return e.sess.run(ctx, chromedp.SetValue(e.xpath, value, chromedp.BySearch))
}

func (e *sessionElement) SetValueViaEvents(ctx context.Context, value string) error {
	js := fmt.Sprintf(`(function(el){
		if (!el) return;
		el.value = %s;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
	})`, jsString(value))
	return e.sess.run(ctx, chromedp.Evaluate(e.wrapNodeJS(js), nil))
}

func (e *sessionElement) TypeKeys(ctx context.Context, value string) error {
	if err := e.sess.run(ctx,
		chromedp.Click(e.xpath, chromedp.BySearch),
		chromedp.SetValue(e.xpath, "", chromedp.BySearch),
	); err != nil {
		return err
	}
	for _, r := range value {
		if err := e.sess.run(ctx, chromedp.SendKeys(e.xpath, string(r), chromedp.BySearch)); err != nil {
			return err
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

func (e *sessionElement) evalBool(ctx context.Context, fn string) (bool, error) {
	var out bool
	if err := e.sess.run(ctx, chromedp.Evaluate(e.wrapNodeJS(fn), &out)); err != nil {
		return false, err
	}
	return out, nil
}

// wrapNodeJS resolves the element's XPath in page context and applies fn to
// the resulting node.
func (e *sessionElement) wrapNodeJS(fn string) string {
	return fmt.Sprintf(`%s(document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue)`,
		fn, jsString(e.xpath))
}

func jsString(v string) string {
	return fmt.Sprintf("%q", v)
}
