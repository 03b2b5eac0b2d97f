package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestStatusCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"data fetch", DataFetch("yahoo unavailable", errors.New("timeout")), http.StatusBadGateway},
		{"validation", Validation("bad symbol"), http.StatusBadRequest},
		{"rate limit", RateLimit("slow down"), http.StatusTooManyRequests},
		{"not found", NotFound("no such stock"), http.StatusNotFound},
		{"prediction", Prediction("scoring failed", nil), http.StatusInternalServerError},
		{"database", Database("insert failed", errors.New("conn reset")), http.StatusInternalServerError},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
		{"wrapped app error", fmt.Errorf("outer: %w", Validation("inner")), http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StatusCode(tc.err); got != tc.want {
				t.Errorf("StatusCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := DataFetch("fetch AAPL", cause)
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable via errors.Is")
	}
}

func TestValidateSymbol(t *testing.T) {
	valid := []struct{ in, want string }{
		{"AAPL", "AAPL"},
		{"aapl", "AAPL"},
		{" 7203.T ", "7203.T"},
		{"BRK-B", "BRK-B"},
		{"USDJPY=X", "USDJPY=X"},
		{"BTC-USD", "BTC-USD"},
		{"^GSPC", "^GSPC"},
	}
	for _, tc := range valid {
		got, err := ValidateSymbol(tc.in)
		if err != nil {
			t.Errorf("ValidateSymbol(%q) unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ValidateSymbol(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	invalid := []string{"", "   ", "TOOLONGSYMBOL", "AAPL;DROP", "A APL", "日経225"}
	for _, in := range invalid {
		if _, err := ValidateSymbol(in); err == nil {
			t.Errorf("ValidateSymbol(%q) expected error", in)
		} else if StatusCode(err) != http.StatusBadRequest {
			t.Errorf("ValidateSymbol(%q) error should map to 400", in)
		}
	}
}

func TestValidateDateRange(t *testing.T) {
	start, end, err := ValidateDateRange("2024-01-01", "2024-06-30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", start)
	}
	if !end.Equal(time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("end = %v", end)
	}

	// Defaults: one-month window ending today.
	start, end, err = ValidateDateRange("", "")
	if err != nil {
		t.Fatalf("unexpected error for empty range: %v", err)
	}
	if !start.Before(end) {
		t.Errorf("default window start %v not before end %v", start, end)
	}

	if _, _, err := ValidateDateRange("2024-06-30", "2024-01-01"); err == nil {
		t.Error("expected error for inverted range")
	}
	if _, _, err := ValidateDateRange("not-a-date", ""); err == nil {
		t.Error("expected error for malformed start date")
	}
	if _, _, err := ValidateDateRange("1990-01-01", "2024-01-01"); err == nil {
		t.Error("expected error for excessive lookback")
	}
}
