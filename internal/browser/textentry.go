package browser

import (
	"context"
	"fmt"
	"time"
)

// EnterText fills el with value using escalating strategies: direct value
// assignment, assignment with synthetic input/change events for pages that
// only react to events, and finally per-character keystrokes. Each attempt is
// verified by reading the value back; success means the read-back equals the
// requested value.
func EnterText(ctx context.Context, el Element, value string) error {
	strategies := []struct {
		name  string
		apply func(context.Context, string) error
	}{
		{"set", el.SetValue},
		{"events", el.SetValueViaEvents},
		{"keys", el.TypeKeys},
	}

	var lastErr error
	for _, st := range strategies {
		if err := st.apply(ctx, value); err != nil {
			lastErr = fmt.Errorf("%s: %w", st.name, err)
			continue
		}
		// Give reactive frameworks a beat to settle before verifying.
		time.Sleep(100 * time.Millisecond)
		got, err := el.Value(ctx)
		if err != nil {
			lastErr = fmt.Errorf("%s: verify: %w", st.name, err)
			continue
		}
		if got == value {
			return nil
		}
		lastErr = fmt.Errorf("%s: value mismatch after entry", st.name)
	}
	return fmt.Errorf("enter text: all strategies failed: %w", lastErr)
}
