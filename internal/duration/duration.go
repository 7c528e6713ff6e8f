// Package duration parses and formats the human-friendly time windows used
// throughout the configuration ("1d", "2h30m", "1d12h30m"). A bare integer
// is accepted as a legacy seconds value.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	secondsPerMinute = 60
	secondsPerHour   = 60 * 60
	secondsPerDay    = 24 * 60 * 60
)

var (
	tokenRegex   = regexp.MustCompile(`(\d+)([dhms])`)
	bareIntRegex = regexp.MustCompile(`^\d+$`)
	validRegex   = regexp.MustCompile(`^(\d+[dhms])+$`)
	spaceRegex   = regexp.MustCompile(`\s+`)
)

// ParseSeconds converts a time-window string into a total number of seconds.
// Units are d/h/m/s, case-insensitive, in any order; duplicate units sum.
// Tokens with unrecognized unit letters are skipped, not rejected. Empty or
// unparseable input yields 0; callers substitute their own default when 0 is
// not a legal value in context.
func ParseSeconds(s string) int64 {
	clean := strings.ToLower(spaceRegex.ReplaceAllString(s, ""))
	if clean == "" {
		return 0
	}

	// Bare integer means seconds (legacy config format).
	if bareIntRegex.MatchString(clean) {
		n, err := strconv.ParseInt(clean, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}

	var total int64
	for _, m := range tokenRegex.FindAllStringSubmatch(clean, -1) {
		value, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		switch m[2] {
		case "d":
			total += value * secondsPerDay
		case "h":
			total += value * secondsPerHour
		case "m":
			total += value * secondsPerMinute
		case "s":
			total += value
		}
	}
	return total
}

// FormatSeconds renders a second count back into token form, largest unit
// first ("1d2h30m5s"). Every non-zero unit is emitted so the output parses
// back to the same total; non-positive input renders as "0s".
func FormatSeconds(seconds int64) string {
	if seconds <= 0 {
		return "0s"
	}

	var b strings.Builder
	if days := seconds / secondsPerDay; days > 0 {
		fmt.Fprintf(&b, "%dd", days)
		seconds %= secondsPerDay
	}
	if hours := seconds / secondsPerHour; hours > 0 {
		fmt.Fprintf(&b, "%dh", hours)
		seconds %= secondsPerHour
	}
	if minutes := seconds / secondsPerMinute; minutes > 0 {
		fmt.Fprintf(&b, "%dm", minutes)
		seconds %= secondsPerMinute
	}
	if seconds > 0 {
		fmt.Fprintf(&b, "%ds", seconds)
	}
	return b.String()
}

// IsValid reports whether s is a well-formed window string: either a bare
// integer or a full sequence of <integer><unit> tokens.
func IsValid(s string) bool {
	clean := strings.ToLower(spaceRegex.ReplaceAllString(s, ""))
	if clean == "" {
		return false
	}
	return bareIntRegex.MatchString(clean) || validRegex.MatchString(clean)
}

// TimeAgo renders how long ago d was in coarse human terms, for the
// {last_seen} placeholder.
func TimeAgo(d time.Duration) string {
	seconds := int64(d.Seconds())
	switch {
	case seconds < secondsPerMinute:
		return "just now"
	case seconds < secondsPerHour:
		return plural(seconds/secondsPerMinute, "minute")
	case seconds < secondsPerDay:
		return plural(seconds/secondsPerHour, "hour")
	case seconds < 30*secondsPerDay:
		return plural(seconds/secondsPerDay, "day")
	case seconds < 365*secondsPerDay:
		return plural(seconds/(30*secondsPerDay), "month")
	default:
		return plural(seconds/(365*secondsPerDay), "year")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
