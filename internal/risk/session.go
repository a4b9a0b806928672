package risk

import (
	"fmt"
	"strings"
	"time"
)

// Session is an active trading window expressed in minutes from UTC
// midnight. Windows where end < start wrap across midnight.
type Session struct {
	startMin int
	endMin   int
}

// ParseSessions parses a comma-separated list of "HH:MM-HH:MM" windows,
// e.g. "07:00-16:00,13:30-20:00". All times are UTC.
func ParseSessions(s string) ([]Session, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []Session
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		bounds := strings.Split(part, "-")
		if len(bounds) != 2 {
			return nil, fmt.Errorf("session window %q: want HH:MM-HH:MM", part)
		}
		start, err := parseMinute(bounds[0])
		if err != nil {
			return nil, fmt.Errorf("session window %q: %w", part, err)
		}
		end, err := parseMinute(bounds[1])
		if err != nil {
			return nil, fmt.Errorf("session window %q: %w", part, err)
		}
		if start == end {
			return nil, fmt.Errorf("session window %q: empty window", part)
		}
		out = append(out, Session{startMin: start, endMin: end})
	}
	return out, nil
}

func parseMinute(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Contains reports whether t (taken in UTC) falls inside the window.
// The start is inclusive, the end exclusive.
func (w Session) Contains(t time.Time) bool {
	u := t.UTC()
	hm := u.Hour()*60 + u.Minute()
	if w.startMin < w.endMin {
		return hm >= w.startMin && hm < w.endMin
	}
	return hm >= w.startMin || hm < w.endMin
}

// InAnySession reports whether t falls inside at least one window. An
// empty window list means trading is always active.
func InAnySession(windows []Session, t time.Time) bool {
	if len(windows) == 0 {
		return true
	}
	for _, w := range windows {
		if w.Contains(t) {
			return true
		}
	}
	return false
}
