package timeliness

import "time"

const (
	DefaultDays     = 30
	MaxOverviewDays = 180
	MaxExportDays   = 365
)

// Window is an inclusive due-time range.
type Window struct {
	Since time.Time
	Until time.Time
}

// ClampDays bounds a requested look-back to [1, limit].
func ClampDays(days, limit int) int {
	if days < 1 {
		return 1
	}
	if days > limit {
		return limit
	}
	return days
}

// WindowForDays covers the last days*24h ending at now.
func WindowForDays(now time.Time, days int) Window {
	return Window{Since: now.Add(-time.Duration(days) * 24 * time.Hour), Until: now}
}
