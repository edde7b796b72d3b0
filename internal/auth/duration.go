package auth

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var relativeExpiry = regexp.MustCompile(`^(\d+)([dwh])$`)

// ParseExpiration turns a token lifetime into an absolute expiry relative to
// now. Accepted forms:
//   - "" or "never": no expiry (nil)
//   - "30d", "2w", "12h"
//   - any Go duration such as "90m"
//   - a calendar date "2026-12-25" or "2026-12-25 14:30" (UTC), which must
//     be after now
func ParseExpiration(expiresIn string, now time.Time) (*time.Time, error) {
	if expiresIn == "" || expiresIn == "never" {
		return nil, nil
	}

	if dur, err := time.ParseDuration(expiresIn); err == nil {
		if dur <= 0 {
			return nil, fmt.Errorf("expiration must be positive: %s", expiresIn)
		}
		t := now.Add(dur)
		return &t, nil
	}

	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, expiresIn); err == nil {
			if !t.After(now) {
				return nil, fmt.Errorf("expiration date must be in the future: %s", expiresIn)
			}
			return &t, nil
		}
	}

	m := relativeExpiry.FindStringSubmatch(expiresIn)
	if m == nil {
		return nil, fmt.Errorf("invalid expiration format: %s (use 'never', '30d', '2w', '24h', '2026-12-25', or a Go duration)", expiresIn)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n == 0 {
		return nil, fmt.Errorf("invalid number in expiration: %s", expiresIn)
	}

	var unit time.Duration
	switch m[2] {
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	case "h":
		unit = time.Hour
	}
	t := now.Add(time.Duration(n) * unit)
	return &t, nil
}
