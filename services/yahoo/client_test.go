package yahoo

import (
	"testing"
	"time"
)

const chartFixture = `{
  "chart": {
    "result": [
      {
        "meta": {"symbol": "AAPL", "regularMarketPrice": 229.1},
        "timestamp": [1717008600, 1717095000, 1717181400],
        "indicators": {
          "quote": [
            {
              "open":   [190.5, 191.2, null],
              "high":   [192.1, 192.8, null],
              "low":    [189.9, 190.4, null],
              "close":  [191.4, 192.2, null],
              "volume": [52000000, 48000000, null]
            }
          ],
          "adjclose": [{"adjclose": [190.9, 191.7, null]}]
        }
      }
    ],
    "error": null
  }
}`

func TestParseChartResponse(t *testing.T) {
	bars, err := parseChartResponse([]byte(chartFixture))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The third row has a null close and must be dropped.
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}

	first := bars[0]
	wantDate := time.Unix(1717008600, 0).UTC().Truncate(24 * time.Hour)
	if !first.Date.Equal(wantDate) {
		t.Errorf("Date = %v, want %v", first.Date, wantDate)
	}
	if got, _ := first.Close.Float64(); got != 191.4 {
		t.Errorf("Close = %v, want 191.4", got)
	}
	if got, _ := first.AdjClose.Float64(); got != 190.9 {
		t.Errorf("AdjClose = %v, want 190.9", got)
	}
	if first.Volume != 52000000 {
		t.Errorf("Volume = %d, want 52000000", first.Volume)
	}
}

func TestParseChartResponseAdjCloseFallback(t *testing.T) {
	payload := `{"chart":{"result":[{"timestamp":[1717008600],
		"indicators":{"quote":[{"open":[10],"high":[11],"low":[9],"close":[10.5],"volume":[100]}]}}],"error":null}}`
	bars, err := parseChartResponse([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("got %d bars, want 1", len(bars))
	}
	if !bars[0].AdjClose.Equal(bars[0].Close) {
		t.Errorf("AdjClose should fall back to Close, got %v vs %v", bars[0].AdjClose, bars[0].Close)
	}
}

func TestParseNewsResponse(t *testing.T) {
	payload := `{
	  "news": [
	    {"title": "Apple unveils new chip", "publisher": "Reuters",
	     "link": "https://example.com/apple-chip", "providerPublishTime": 1717008600},
	    {"title": "", "publisher": "Wire", "link": "https://example.com/empty-title"},
	    {"title": "No link item", "publisher": "Wire", "link": ""}
	  ]
	}`

	items, err := parseNewsResponse([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Entries without a title or link are dropped.
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}

	item := items[0]
	if item.Title != "Apple unveils new chip" || item.Publisher != "Reuters" {
		t.Errorf("item = %+v", item)
	}
	if item.URL != "https://example.com/apple-chip" {
		t.Errorf("URL = %s", item.URL)
	}
	if want := time.Unix(1717008600, 0).UTC(); !item.PublishedAt.Equal(want) {
		t.Errorf("PublishedAt = %v, want %v", item.PublishedAt, want)
	}

	if _, err := parseNewsResponse([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}

	empty, err := parseNewsResponse([]byte(`{"news":[]}`))
	if err != nil || len(empty) != 0 {
		t.Errorf("empty feed = (%v, %v), want no items and no error", empty, err)
	}
}

func TestParseChartResponseErrors(t *testing.T) {
	if _, err := parseChartResponse([]byte(`{"chart":{"result":[],"error":null}}`)); err == nil {
		t.Error("expected error for empty result")
	}
	if _, err := parseChartResponse([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`)); err == nil {
		t.Error("expected error for chart API error payload")
	}
	if _, err := parseChartResponse([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}
