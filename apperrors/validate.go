package apperrors

import (
	"fmt"
	"strings"
	"time"
)

const (
	maxSymbolLen = 12
	// Date ranges are capped so a single request cannot sweep decades of rows.
	maxLookbackYears = 20
)

// ValidateSymbol checks a ticker identifier: 1-12 characters, uppercase
// letters and digits plus '.', '-', '=' (BRK.B, USDJPY=X, BTC-USD).
// Returns the normalized (upper-cased, trimmed) symbol.
func ValidateSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", Validation("symbol is required")
	}
	if len(s) > maxSymbolLen {
		return "", Validation(fmt.Sprintf("symbol too long: %q", s))
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '=' || r == '^':
		default:
			return "", Validation(fmt.Sprintf("symbol contains invalid character: %q", s))
		}
	}
	return s, nil
}

// ValidateDateRange parses start/end as YYYY-MM-DD and checks ordering and
// lookback bounds. Empty values default to a one-month window ending today.
func ValidateDateRange(startStr, endStr string) (time.Time, time.Time, error) {
	now := time.Now().UTC().Truncate(24 * time.Hour)

	end := now
	if endStr != "" {
		parsed, err := time.Parse("2006-01-02", endStr)
		if err != nil {
			return time.Time{}, time.Time{}, Validation(fmt.Sprintf("invalid end_date: %q", endStr))
		}
		end = parsed
	}

	start := end.AddDate(0, -1, 0)
	if startStr != "" {
		parsed, err := time.Parse("2006-01-02", startStr)
		if err != nil {
			return time.Time{}, time.Time{}, Validation(fmt.Sprintf("invalid start_date: %q", startStr))
		}
		start = parsed
	}

	if start.After(end) {
		return time.Time{}, time.Time{}, Validation("start_date must not be after end_date")
	}
	if start.Before(now.AddDate(-maxLookbackYears, 0, 0)) {
		return time.Time{}, time.Time{}, Validation("start_date exceeds maximum lookback")
	}
	return start, end, nil
}
