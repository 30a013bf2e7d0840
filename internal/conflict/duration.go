package conflict

import (
	"regexp"
	"strconv"
	"strings"
)

// Working-time conversion for free-text durations.
const (
	hoursPerDay  = 8
	hoursPerWeek = 40
)

var durationRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(hours?|hrs?|h|days?|d|weeks?|wks?|w|minutes?|mins?|m)\b`)

// parseDurationHours parses free-text duration strings like "2 days",
// "4 hours", "1 week" or "2 days 4 hours" into working hours. Returns
// ok=false when no duration is recognized.
func parseDurationHours(s string) (float64, bool) {
	matches := durationRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, false
	}
	var total float64
	for _, m := range matches {
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		switch strings.ToLower(m[2])[0] {
		case 'h':
			total += n
		case 'd':
			total += n * hoursPerDay
		case 'w':
			total += n * hoursPerWeek
		case 'm':
			total += n / 60
		}
	}
	return total, true
}
