package controllers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"miraikakaku/middleware"
	"miraikakaku/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// TranslateError matches the production connection so driver errors
	// surface as gorm.Err* values.
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := models.MigrateStockModels(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestAdminController(t *testing.T) *AdminController {
	t.Helper()
	return NewAdminController(
		newTestDB(t), "test-secret", middleware.NewRateLimiter(5, 0, 0),
		nil, nil, nil, nil, nil, nil,
	)
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestAddSymbol(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ac := newTestAdminController(t)

	router := gin.New()
	router.POST("/symbols", ac.AddSymbol)

	w := postJSON(router, "/symbols", `{"symbol":"aapl","name":"Apple Inc."}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, want 201; body: %s", w.Code, w.Body.String())
	}

	var stock models.Stock
	if err := ac.db.Where("symbol = ?", "AAPL").First(&stock).Error; err != nil {
		t.Fatalf("symbol not normalized and stored: %v", err)
	}
	if stock.AssetType != models.AssetTypeEquity || stock.Currency != "USD" {
		t.Errorf("defaults not applied: %+v", stock)
	}
}

func TestAddSymbolDuplicate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ac := newTestAdminController(t)

	router := gin.New()
	router.POST("/symbols", ac.AddSymbol)

	if w := postJSON(router, "/symbols", `{"symbol":"MSFT"}`); w.Code != http.StatusCreated {
		t.Fatalf("first create: status = %d", w.Code)
	}

	// The unique violation must come back as a 400, not a 500.
	w := postJSON(router, "/symbols", `{"symbol":"MSFT"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("duplicate: status = %d, want 400; body: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "already exists") {
		t.Errorf("duplicate: body = %s, want 'already exists'", w.Body.String())
	}
}

func TestAddSymbolInvalid(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ac := newTestAdminController(t)

	router := gin.New()
	router.POST("/symbols", ac.AddSymbol)

	for _, body := range []string{`{}`, `{"symbol":"not a symbol!"}`} {
		if w := postJSON(router, "/symbols", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
	}
}
