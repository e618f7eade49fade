package model

import (
	"fmt"
	"strings"
	"time"
)

// Expiry dates travel as DDMMMYYYY strings ("27MAR2026") throughout the
// system, matching the normalized master snapshot format.
const expiryLayout = "02Jan2006"

// ParseExpiry parses the canonical DDMMMYYYY expiry format, accepting a few
// upstream variants (27-MAR-2026, 2026-03-27).
func ParseExpiry(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty expiry")
	}
	norm := strings.ReplaceAll(strings.ToUpper(s), "-", "")
	if len(norm) == 9 {
		// 27MAR2026 → 27Mar2026 so time.Parse accepts it
		norm = norm[:3] + strings.ToLower(norm[3:5]) + norm[5:]
		if t, err := time.Parse(expiryLayout, norm); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unparseable expiry %q", s)
}

// FormatExpiry renders t in the canonical DDMMMYYYY form.
func FormatExpiry(t time.Time) string {
	return strings.ToUpper(t.Format(expiryLayout))
}
