package news

import (
	"context"
	"testing"
)

func TestArticleIDStable(t *testing.T) {
	url := "https://example.com/markets/aapl-earnings"
	a := ArticleID(url)
	b := ArticleID(url)
	if a != b {
		t.Errorf("ArticleID not stable: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Errorf("ArticleID length = %d, want 32", len(a))
	}
	if a == ArticleID("https://example.com/other") {
		t.Error("different URLs must not collide")
	}
}

func TestDisabledService(t *testing.T) {
	s := NewService("")
	if s.Enabled() {
		t.Fatal("service without URI must be disabled")
	}

	if err := s.UpsertArticles(context.Background(), []Article{{URL: "https://example.com"}}); err == nil {
		t.Error("UpsertArticles on disabled service should error")
	}
	if _, err := s.LatestForSymbol(context.Background(), "AAPL", 10); err == nil {
		t.Error("LatestForSymbol on disabled service should error")
	}

	// Prune is a no-op rather than an error so the weekly cleanup job
	// does not log failures on deployments without Mongo.
	if n, err := s.PruneOld(context.Background()); err != nil || n != 0 {
		t.Errorf("PruneOld = (%d, %v), want (0, nil)", n, err)
	}

	status := s.Status()
	if status["connected"] != false {
		t.Errorf("status = %v, want connected=false", status)
	}
}
