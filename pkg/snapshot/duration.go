package snapshot

import (
	"fmt"
	"strconv"
	"strings"
)

// ShortFormMaxSeconds is the duration ceiling for the short-form heuristic.
// Anything at or below this is treated as a Short and excluded from curve
// statistics.
const ShortFormMaxSeconds = 121

// ParseDurationSeconds parses a video duration string into whole seconds.
// Accepts ISO-8601 durations as returned by the YouTube Data API ("PT2M1S",
// "PT1H3M", "P1DT2H") and clock-style strings ("1:02:03", "2:01").
func ParseDurationSeconds(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if strings.HasPrefix(s, "P") {
		return parseISODuration(s)
	}
	if strings.Contains(s, ":") {
		return parseClockDuration(s)
	}

	secs, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return secs, nil
}

// IsLongForm reports whether a duration string describes long-form content.
// Unparseable durations default to long-form so that missing metadata does
// not silently drop a video from the statistics.
func IsLongForm(duration string) bool {
	secs, err := ParseDurationSeconds(duration)
	if err != nil {
		return true
	}
	return secs > ShortFormMaxSeconds
}

func parseISODuration(s string) (int, error) {
	rest := strings.TrimPrefix(s, "P")
	total := 0
	inTime := false
	num := ""

	for _, r := range rest {
		switch {
		case r == 'T':
			inTime = true
		case r >= '0' && r <= '9':
			num += string(r)
		default:
			if num == "" {
				return 0, fmt.Errorf("parse iso duration %q: bare designator %c", s, r)
			}
			n, err := strconv.Atoi(num)
			if err != nil {
				return 0, fmt.Errorf("parse iso duration %q: %w", s, err)
			}
			num = ""
			switch r {
			case 'D':
				total += n * 86400
			case 'H':
				total += n * 3600
			case 'M':
				if inTime {
					total += n * 60
				} else {
					// months; does not occur in video durations
					total += n * 30 * 86400
				}
			case 'S':
				total += n
			default:
				return 0, fmt.Errorf("parse iso duration %q: designator %c", s, r)
			}
		}
	}
	if num != "" {
		return 0, fmt.Errorf("parse iso duration %q: trailing number", s)
	}
	return total, nil
}

func parseClockDuration(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("parse clock duration %q", s)
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, fmt.Errorf("parse clock duration %q: %w", s, err)
		}
		total = total*60 + n
	}
	return total, nil
}
