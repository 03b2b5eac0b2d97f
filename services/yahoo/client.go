// Package yahoo fetches quotes and daily history from Yahoo Finance.
//
// Realtime quotes go through piquette/finance-go. Daily history uses the
// chart API v8 directly, which requires the cookie + crumb handshake and a
// browser User-Agent.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"

	"miraikakaku/apperrors"
)

const (
	defaultBaseURL   = "https://query1.finance.yahoo.com"
	cookieURL        = "https://finance.yahoo.com"
	crumbPath        = "/v1/test/getcrumb"
	userAgent        = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	requestTimeout   = 15 * time.Second
	minRequestGap    = 300 * time.Millisecond
	maxRetries       = 3
	retryBaseBackoff = time.Second
)

// Bar is one daily OHLCV record returned by the chart API
type Bar struct {
	Date     time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	AdjClose decimal.Decimal
	Volume   int64
}

// Quote is a realtime snapshot for a symbol
type Quote struct {
	Symbol        string
	Name          string
	Price         float64
	Change        float64
	ChangePercent float64
	Open          float64
	High          float64
	Low           float64
	PrevClose     float64
	Volume        int64
	MarketTime    time.Time
}

// Client is a rate-limited Yahoo Finance client. One instance is shared by
// the ingest service and the realtime poller.
type Client struct {
	httpClient *http.Client
	baseURL    string

	mu         sync.Mutex
	lastCall   time.Time
	crumb      string
	crumbTried bool
}

// NewClient creates a Yahoo Finance client with its own cookie jar
func NewClient() *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: requestTimeout,
		},
		baseURL: defaultBaseURL,
	}
}

// GetQuote fetches a realtime quote for a symbol
func (c *Client) GetQuote(symbol string) (*Quote, error) {
	c.throttle()

	q, err := quote.Get(symbol)
	if err != nil {
		return nil, apperrors.DataFetch(fmt.Sprintf("quote %s", symbol), err)
	}
	if q == nil || q.RegularMarketPrice == 0 {
		return nil, apperrors.DataFetch(fmt.Sprintf("quote %s: empty response", symbol), nil)
	}

	return &Quote{
		Symbol:        q.Symbol,
		Name:          q.ShortName,
		Price:         q.RegularMarketPrice,
		Change:        q.RegularMarketChange,
		ChangePercent: q.RegularMarketChangePercent,
		Open:          q.RegularMarketOpen,
		High:          q.RegularMarketDayHigh,
		Low:           q.RegularMarketDayLow,
		PrevClose:     q.RegularMarketPreviousClose,
		Volume:        int64(q.RegularMarketVolume),
		MarketTime:    time.Unix(int64(q.RegularMarketTime), 0).UTC(),
	}, nil
}

// chartResponse mirrors the chart API v8 payload
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []int64   `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// GetDailyHistory fetches daily bars for [start, end]
func (c *Client) GetDailyHistory(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	params := url.Values{}
	params.Set("period1", fmt.Sprintf("%d", start.Unix()))
	params.Set("period2", fmt.Sprintf("%d", end.Add(24*time.Hour).Unix()))
	params.Set("interval", "1d")
	params.Set("events", "div,splits")

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), params.Encode())

	body, err := c.getWithRetry(ctx, endpoint)
	if err != nil {
		return nil, apperrors.DataFetch(fmt.Sprintf("history %s", symbol), err)
	}

	bars, err := parseChartResponse(body)
	if err != nil {
		return nil, apperrors.DataFetch(fmt.Sprintf("history %s", symbol), err)
	}
	return bars, nil
}

// parseChartResponse converts a chart payload into bars, dropping rows with
// a missing close (Yahoo returns nulls for holidays and halted sessions).
func parseChartResponse(body []byte) ([]Bar, error) {
	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse chart response: %w", err)
	}
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("chart API error: %s (%s)", resp.Chart.Error.Description, resp.Chart.Error.Code)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("chart API returned no result")
	}

	result := resp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("chart API returned no quote series")
	}
	q := result.Indicators.Quote[0]

	var adj []float64
	if len(result.Indicators.AdjClose) > 0 {
		adj = result.Indicators.AdjClose[0].AdjClose
	}

	bars := make([]Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(q.Close) || q.Close[i] <= 0 {
			continue
		}
		bar := Bar{
			Date:   time.Unix(ts, 0).UTC().Truncate(24 * time.Hour),
			Open:   decimal.NewFromFloat(at(q.Open, i)),
			High:   decimal.NewFromFloat(at(q.High, i)),
			Low:    decimal.NewFromFloat(at(q.Low, i)),
			Close:  decimal.NewFromFloat(q.Close[i]),
			Volume: atInt(q.Volume, i),
		}
		if i < len(adj) && adj[i] > 0 {
			bar.AdjClose = decimal.NewFromFloat(adj[i])
		} else {
			bar.AdjClose = bar.Close
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// NewsItem is one headline from the search feed
type NewsItem struct {
	Title       string
	Publisher   string
	URL         string
	PublishedAt time.Time
}

// newsResponse mirrors the news section of the search API payload
type newsResponse struct {
	News []struct {
		Title               string `json:"title"`
		Publisher           string `json:"publisher"`
		Link                string `json:"link"`
		ProviderPublishTime int64  `json:"providerPublishTime"`
	} `json:"news"`
}

// GetNews fetches recent headlines for a symbol from the search endpoint
func (c *Client) GetNews(ctx context.Context, symbol string, count int) ([]NewsItem, error) {
	if count <= 0 || count > 50 {
		count = 10
	}
	params := url.Values{}
	params.Set("q", symbol)
	params.Set("newsCount", strconv.Itoa(count))
	params.Set("quotesCount", "0")

	endpoint := fmt.Sprintf("%s/v1/finance/search?%s", c.baseURL, params.Encode())

	body, err := c.getWithRetry(ctx, endpoint)
	if err != nil {
		return nil, apperrors.DataFetch(fmt.Sprintf("news %s", symbol), err)
	}
	items, err := parseNewsResponse(body)
	if err != nil {
		return nil, apperrors.DataFetch(fmt.Sprintf("news %s", symbol), err)
	}
	return items, nil
}

// parseNewsResponse converts a search payload into headlines, dropping
// entries without a link (the store keys articles by URL).
func parseNewsResponse(body []byte) ([]NewsItem, error) {
	var resp newsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse news response: %w", err)
	}

	items := make([]NewsItem, 0, len(resp.News))
	for _, n := range resp.News {
		if n.Link == "" || n.Title == "" {
			continue
		}
		items = append(items, NewsItem{
			Title:       n.Title,
			Publisher:   n.Publisher,
			URL:         n.Link,
			PublishedAt: time.Unix(n.ProviderPublishTime, 0).UTC(),
		})
	}
	return items, nil
}

func at(values []float64, i int) float64 {
	if i < len(values) {
		return values[i]
	}
	return 0
}

func atInt(values []int64, i int) int64 {
	if i < len(values) {
		return values[i]
	}
	return 0
}

// getWithRetry performs a GET with the crumb attached, retrying on 429 and
// 5xx with exponential backoff.
func (c *Client) getWithRetry(ctx context.Context, endpoint string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, status, err := c.get(ctx, endpoint)
		if err != nil {
			lastErr = err
			continue
		}
		switch {
		case status == http.StatusOK:
			return body, nil
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			// Crumb expired, refresh and retry
			c.mu.Lock()
			c.crumb = ""
			c.crumbTried = false
			c.mu.Unlock()
			lastErr = fmt.Errorf("unauthorized (status %d)", status)
		case status == http.StatusTooManyRequests || status >= 500:
			lastErr = fmt.Errorf("upstream throttled or unavailable (status %d)", status)
		default:
			return nil, fmt.Errorf("unexpected status %d", status)
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, int, error) {
	crumb, err := c.ensureCrumb(ctx)
	if err != nil {
		return nil, 0, err
	}
	full := endpoint
	if crumb != "" {
		full += "&crumb=" + url.QueryEscape(crumb)
	}

	c.throttle()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// ensureCrumb performs the cookie + crumb handshake once and caches the crumb
func (c *Client) ensureCrumb(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.crumb != "" || c.crumbTried {
		return c.crumb, nil
	}
	c.crumbTried = true

	// Visiting the main page sets the session cookies the crumb endpoint needs
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cookieURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch cookies: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+crumbPath, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Origin", cookieURL)
	req.Header.Set("Referer", cookieURL+"/")
	resp, err = c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch crumb: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	crumb := strings.TrimSpace(string(body))
	if resp.StatusCode != http.StatusOK || crumb == "" || strings.Contains(crumb, "<") {
		// Some regions serve charts without a crumb; proceed and let the
		// chart call itself decide.
		return "", nil
	}
	c.crumb = crumb
	return crumb, nil
}

// throttle enforces a minimum gap between outbound requests
func (c *Client) throttle() {
	c.mu.Lock()
	wait := minRequestGap - time.Since(c.lastCall)
	if wait > 0 {
		c.lastCall = c.lastCall.Add(minRequestGap)
	} else {
		c.lastCall = time.Now()
	}
	c.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}
}
