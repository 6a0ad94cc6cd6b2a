package printer

import (
	"time"

	"github.com/dustin/go-humanize"
)

// TimeAgo returns a human-readable relative time string in UTC.
// Examples: "now (UTC)", "2 minutes ago (UTC)", "3 hours ago (UTC)".
func TimeAgo(t time.Time) string {
	return timeAgo(t, time.Now())
}

func timeAgo(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}

	t, now = t.UTC(), now.UTC()
	if t.After(now) {
		return "in the future (UTC)"
	}

	return humanize.RelTime(t, now, "ago", "from now") + " (UTC)"
}

// FormatTimestamp returns a formatted timestamp string in UTC.
// Format: "2006-01-02 15:04:05 UTC".
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
