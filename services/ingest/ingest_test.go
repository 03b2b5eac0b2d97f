package ingest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"miraikakaku/services/yahoo"
)

func bar(day int, close float64) yahoo.Bar {
	c := decimal.NewFromFloat(close)
	return yahoo.Bar{
		Date:     time.Date(2024, 6, day, 0, 0, 0, 0, time.UTC),
		Open:     c,
		High:     c,
		Low:      c,
		Close:    c,
		AdjClose: c,
		Volume:   1000,
	}
}

func TestBuildPriceRows(t *testing.T) {
	bars := []yahoo.Bar{bar(3, 100), bar(4, 102), bar(5, 99.45)}

	rows := buildPriceRows(7, bars)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}

	for _, r := range rows {
		if r.StockID != 7 {
			t.Errorf("StockID = %d, want 7", r.StockID)
		}
	}

	// First row has no previous close, so no change columns.
	if !rows[0].Change.IsZero() || !rows[0].ChangePercent.IsZero() {
		t.Errorf("first row should have zero change, got %v / %v", rows[0].Change, rows[0].ChangePercent)
	}

	if got, _ := rows[1].Change.Float64(); got != 2 {
		t.Errorf("second row change = %v, want 2", got)
	}
	if got, _ := rows[1].ChangePercent.Float64(); got != 2 {
		t.Errorf("second row change percent = %v, want 2", got)
	}

	if got, _ := rows[2].Change.Float64(); got != -2.55 {
		t.Errorf("third row change = %v, want -2.55", got)
	}
	if got, _ := rows[2].ChangePercent.Float64(); got != -2.5 {
		t.Errorf("third row change percent = %v, want -2.5", got)
	}
}

func TestBuildPriceRowsRejectsBadCloses(t *testing.T) {
	bars := []yahoo.Bar{bar(3, 100), bar(4, 0), bar(5, -5), bar(6, 101)}

	rows := buildPriceRows(1, bars)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (zero and negative closes dropped)", len(rows))
	}

	// Change on the surviving second row is computed against the last good
	// close, not the dropped ones.
	if got, _ := rows[1].Change.Float64(); got != 1 {
		t.Errorf("change = %v, want 1", got)
	}
}

func TestBuildPriceRowsEmpty(t *testing.T) {
	if rows := buildPriceRows(1, nil); len(rows) != 0 {
		t.Errorf("got %d rows for nil input, want 0", len(rows))
	}
}
