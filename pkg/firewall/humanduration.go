package firewall

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseHumanDuration parses a space-separated sequence of unit-suffixed
// numbers ("5h 30m", "48h", "2d") in the style the original username-label
// parser feeds into a humantime-equivalent parser after substituting
// underscores for spaces. Recognized units: ns, us, ms, s, m, h, d, w.
// Components are summed; an empty string or any unrecognized token is an
// error so that a malformed label aborts the whole parse upstream.
func ParseHumanDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("humanduration: empty value")
	}

	fields := strings.Fields(s)
	var total time.Duration
	for _, f := range fields {
		d, err := parseComponent(f)
		if err != nil {
			return 0, err
		}
		total += d
	}
	return total, nil
}

func parseComponent(tok string) (time.Duration, error) {
	i := 0
	for i < len(tok) && (tok[i] == '.' || (tok[i] >= '0' && tok[i] <= '9')) {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("humanduration: %q has no numeric prefix", tok)
	}
	numPart, unitPart := tok[:i], tok[i:]

	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("humanduration: invalid number in %q: %w", tok, err)
	}

	var unit time.Duration
	switch unitPart {
	case "ns":
		unit = time.Nanosecond
	case "us", "µs":
		unit = time.Microsecond
	case "ms":
		unit = time.Millisecond
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("humanduration: unrecognized unit %q in %q", unitPart, tok)
	}

	return time.Duration(n * float64(unit)), nil
}
