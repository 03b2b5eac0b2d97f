package cache

import (
	"testing"
	"time"
)

type payload struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func newTestCache(t *testing.T, maxItems int) *PerformanceCache {
	t.Helper()
	c, err := New(t.TempDir(), maxItems)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSetGet(t *testing.T) {
	c := newTestCache(t, 10)

	want := payload{Symbol: "AAPL", Price: 229.1}
	if err := c.Set("quote:AAPL", want, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got payload
	if !c.Get("quote:AAPL", &got) {
		t.Fatal("expected hit")
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	if c.Get("quote:MSFT", &got) {
		t.Error("expected miss for unknown key")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit / 1 miss", stats)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(t, 10)

	if err := c.Set("ephemeral", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	var got string
	if c.Get("ephemeral", &got) {
		t.Error("expected expired entry to miss")
	}
}

func TestLRUEviction(t *testing.T) {
	c := newTestCache(t, 3)

	keys := []string{"a", "b", "c"}
	for i, k := range keys {
		if err := c.Set(k, i, time.Minute); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
		// Distinct last-access ordering.
		time.Sleep(2 * time.Millisecond)
	}

	// Touch "a" so "b" becomes least recently used.
	var v int
	if !c.Get("a", &v) {
		t.Fatal("expected hit for a")
	}
	time.Sleep(2 * time.Millisecond)

	if err := c.Set("d", 3, time.Minute); err != nil {
		t.Fatalf("Set d: %v", err)
	}

	if c.Get("b", &v) {
		t.Error("expected b to be evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if !c.Get(k, &v) {
			t.Errorf("expected %s to survive eviction", k)
		}
	}
	if c.Stats().Evictions != 1 {
		t.Errorf("evictions = %d, want 1", c.Stats().Evictions)
	}
}

func TestDiskTierSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	c, err := New(dir, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := payload{Symbol: "7203.T", Price: 2450}
	// TTL above the disk threshold so the entry is persisted.
	if err := c.Set("quote:7203.T", want, time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// Close drains the disk write queue.
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(dir, 10)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	var got payload
	if !reopened.Get("quote:7203.T", &got) {
		t.Fatal("expected disk hit after restart")
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if reopened.Stats().DiskHits != 1 {
		t.Errorf("disk hits = %d, want 1", reopened.Stats().DiskHits)
	}

	// Promoted to memory: a second read is a plain memory hit.
	if !reopened.Get("quote:7203.T", &got) {
		t.Fatal("expected memory hit after promotion")
	}
	if reopened.Stats().DiskHits != 1 {
		t.Errorf("promotion should not touch disk again, disk hits = %d", reopened.Stats().DiskHits)
	}
}

func TestDelete(t *testing.T) {
	c := newTestCache(t, 10)

	if err := c.Set("k", 1, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	c.Delete("k")

	var v int
	if c.Get("k", &v) {
		t.Error("expected miss after delete")
	}
}

func TestDeleteOrderedAfterPersist(t *testing.T) {
	dir := t.TempDir()

	c, err := New(dir, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Disk-tier TTL: the persist is queued, and the delete right behind it
	// must win because both drain through the same writer.
	if err := c.Set("k", 1, time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	c.Delete("k")
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(dir, 10)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	var v int
	if reopened.Get("k", &v) {
		t.Error("deleted key resurrected from the disk tier")
	}
}
