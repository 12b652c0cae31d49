package browser

import "context"

// Driver is the capability the automation layers consume: navigate, query the
// live page tree, and read page-level state. The chromedp session implements
// it; tests substitute fakes.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	PageText(ctx context.Context) (string, error)
	Find(ctx context.Context, loc Locator) ([]Element, error)
	Screenshot(ctx context.Context) ([]byte, error)
	WindowCount(ctx context.Context) (int, error)
	Close() error
}

// Element is a handle to a located page element. The three value-setting
// methods correspond to the escalating text-entry strategies: direct
// assignment, assignment with synthetic input events, and per-character
// keystrokes.
type Element interface {
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	Value(ctx context.Context) (string, error)
	Visible(ctx context.Context) (bool, error)
	Enabled(ctx context.Context) (bool, error)
	Click(ctx context.Context) error
	SetValue(ctx context.Context, value string) error
	SetValueViaEvents(ctx context.Context, value string) error
	TypeKeys(ctx context.Context, value string) error
}
