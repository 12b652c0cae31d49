package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoMatch is returned when no locator in a cascade yields a usable element.
var ErrNoMatch = errors.New("no element matched locator cascade")

const (
	xpathUpper = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	xpathLower = "abcdefghijklmnopqrstuvwxyz"
)

// Locator is a declarative structural page query. Identity-provider markup is
// not under our control, so callers describe elements by tag, attribute, and
// text signals instead of hardcoded query strings; the cascade tries several
// descriptions in order.
type Locator struct {
	// Tag restricts the element tag ("button", "input", ...). Empty matches any.
	Tag string

	// Attr/AttrValue match an attribute. AttrContains switches from exact
	// equality to substring containment.
	Attr         string
	AttrValue    string
	AttrContains bool

	// Text matches the element's text content. TextExact requires equality,
	// TextFold makes containment case-insensitive.
	Text      string
	TextExact bool
	TextFold  bool
}

// XPath compiles the locator to an XPath expression.
func (l Locator) XPath() string {
	tag := l.Tag
	if tag == "" {
		tag = "*"
	}
	var conds []string
	if l.Attr != "" {
		if l.AttrContains {
			conds = append(conds, fmt.Sprintf("contains(@%s, %s)", l.Attr, xpathLiteral(l.AttrValue)))
		} else {
			conds = append(conds, fmt.Sprintf("@%s=%s", l.Attr, xpathLiteral(l.AttrValue)))
		}
	}
	if l.Text != "" {
		switch {
		case l.TextExact:
			conds = append(conds, fmt.Sprintf("normalize-space(text())=%s", xpathLiteral(l.Text)))
		case l.TextFold:
			conds = append(conds, fmt.Sprintf("contains(translate(text(), '%s', '%s'), %s)",
				xpathUpper, xpathLower, xpathLiteral(strings.ToLower(l.Text))))
		default:
			conds = append(conds, fmt.Sprintf("contains(text(), %s)", xpathLiteral(l.Text)))
		}
	}
	expr := "//" + tag
	for _, c := range conds {
		expr += "[" + c + "]"
	}
	return expr
}

// xpathLiteral quotes a string for use inside an XPath expression. XPath 1.0
// has no escape sequence for quotes, so values containing both kinds are
// stitched together with concat().
func xpathLiteral(v string) string {
	if !strings.Contains(v, "'") {
		return "'" + v + "'"
	}
	if !strings.Contains(v, `"`) {
		return `"` + v + `"`
	}
	parts := strings.Split(v, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if p != "" {
			quoted = append(quoted, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

// Cascade is an ordered list of locators tried until one yields a visible,
// enabled element.
type Cascade []Locator

// FindFirst walks the cascade in order and returns the first visible, enabled
// match. skip, when non-nil, receives the element's label (text, falling back
// to the value attribute) and can veto it, which steps over deny/cancel
// buttons that match a broad text query.
func FindFirst(ctx context.Context, d Driver, cascade Cascade, skip func(label string) bool) (Element, error) {
	for _, loc := range cascade {
		elems, err := d.Find(ctx, loc)
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
			if skip != nil {
				label, _ := el.Text(ctx)
				if label == "" {
					label, _ = el.Attribute(ctx, "value")
				}
				if skip(label) {
					continue
				}
			}
			return el, nil
		}
	}
	return nil, ErrNoMatch
}
