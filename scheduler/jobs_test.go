package scheduler

import (
	"testing"
	"time"
)

func TestIsMarketOpen(t *testing.T) {
	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"weekday mid-session", time.Date(2024, 6, 5, 16, 0, 0, 0, time.UTC), true},
		{"weekday at open", time.Date(2024, 6, 5, 14, 30, 0, 0, time.UTC), true},
		{"weekday just before open", time.Date(2024, 6, 5, 14, 29, 0, 0, time.UTC), false},
		{"weekday at close", time.Date(2024, 6, 5, 21, 0, 0, 0, time.UTC), false},
		{"weekday evening", time.Date(2024, 6, 5, 23, 0, 0, 0, time.UTC), false},
		{"saturday", time.Date(2024, 6, 8, 16, 0, 0, 0, time.UTC), false},
		{"sunday", time.Date(2024, 6, 9, 16, 0, 0, 0, time.UTC), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isMarketOpen(tc.t); got != tc.want {
				t.Errorf("isMarketOpen(%v) = %v, want %v", tc.t, got, tc.want)
			}
		})
	}
}
