package window

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var reOffset = regexp.MustCompile(`^(?i:utc|gmt)?\s*([+-])(\d{1,2})(?::?(\d{2}))?$`)

// LoadLocation resolves a timezone setting.
//
// Accepted forms: "" (process local), IANA names ("Europe/Berlin"), and fixed
// offsets ("+02:00", "-0530", "UTC+2"). Fixed offsets are resolved once, at read time,
// the same way the host reports a manual UTC offset.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	if m := reOffset.FindStringSubmatch(tz); m != nil {
		h, _ := strconv.Atoi(m[2])
		mins := 0
		if m[3] != "" {
			mins, _ = strconv.Atoi(m[3])
		}
		if h > 14 || mins > 59 {
			return nil, fmt.Errorf("invalid utc offset %q", tz)
		}
		secs := h*3600 + mins*60
		if m[1] == "-" {
			secs = -secs
		}
		return time.FixedZone(normalizeOffsetName(m[1], h, mins), secs), nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

func normalizeOffsetName(sign string, h, m int) string {
	return fmt.Sprintf("%s%02d:%02d", sign, h, m)
}
