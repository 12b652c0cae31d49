package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func dayAt(hhmm string) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		panic(err)
	}
	return time.Date(2026, 8, 25, t.Hour(), t.Minute(), 0, 0, time.Local)
}

func TestParseWindowLabel(t *testing.T) {
	now := dayAt("14:35")
	interval := 20 * time.Minute

	tests := []struct {
		name      string
		label     string
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "two times",
			label:     "Processed 14:10 - 14:30",
			wantStart: dayAt("14:10"),
			wantEnd:   dayAt("14:30"),
		},
		{
			name:      "single time derives start",
			label:     "until 14:30",
			wantStart: dayAt("14:10"),
			wantEnd:   dayAt("14:30"),
		},
		{
			name:      "no times falls back to now minus interval",
			label:     "no schedule info here",
			wantStart: now.Add(-interval),
			wantEnd:   now,
		},
		{
			name:      "empty label",
			label:     "",
			wantStart: now.Add(-interval),
			wantEnd:   now,
		},
		{
			name:      "midnight crossing keeps start before end",
			label:     "23:50 - 00:10",
			wantStart: dayAt("23:50").AddDate(0, 0, -1),
			wantEnd:   dayAt("00:10"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ParseWindowLabel(tt.label, now, interval)
			assert.Equal(t, tt.wantStart, w.Start)
			assert.Equal(t, tt.wantEnd, w.End)
			assert.False(t, w.Start.After(w.End), "start must not be after end")
		})
	}
}

func TestNextRunTime(t *testing.T) {
	interval := 20 * time.Minute

	t.Run("end just elapsed stays same day", func(t *testing.T) {
		now := dayAt("14:35")
		next := NextRunTime(dayAt("14:30"), now, interval)
		assert.Equal(t, dayAt("14:50"), next)
	})

	t.Run("near-midnight end rolls into next day", func(t *testing.T) {
		now := dayAt("00:05")
		next := NextRunTime(dayAt("23:55"), now, interval)
		assert.Equal(t, dayAt("23:55").Add(interval), next)
		assert.True(t, next.After(now))
	})

	t.Run("future end stays same day", func(t *testing.T) {
		now := dayAt("09:00")
		next := NextRunTime(dayAt("10:00"), now, interval)
		assert.Equal(t, dayAt("10:20"), next)
	})

	t.Run("stale end rolls forward one day", func(t *testing.T) {
		now := dayAt("15:00")
		next := NextRunTime(dayAt("14:30"), now, interval)
		assert.Equal(t, dayAt("14:50").AddDate(0, 0, 1), next)
	})
}
