package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/HelloWorldImJoe/v2ex-tx2json/service/explorer"
	"github.com/HelloWorldImJoe/v2ex-tx2json/service/metrics"
)

const (
	// TxPath is the explorer endpoint that renders a transaction detail page.
	TxPath = "/solana/tx"

	// MaxBodySize caps how much of a response body is read.
	MaxBodySize = 5 << 20
)

// pageMarkers are labels that only appear on a rendered transaction page.
var pageMarkers = []string{"接收方", "Receiver"}

// baseHeaders mirror a desktop browser's form navigation, client hints included.
var baseHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
	"Accept-Language":           "zh-CN,zh;q=0.6",
	"Cache-Control":             "max-age=0",
	"Content-Type":              "application/x-www-form-urlencoded",
	"Priority":                  "u=0, i",
	"Sec-Ch-Ua":                 `"Brave";v="141", "Not?A_Brand";v="8", "Chromium";v="141"`,
	"Sec-Ch-Ua-Mobile":          "?0",
	"Sec-Ch-Ua-Platform":        `"macOS"`,
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "same-origin",
	"Sec-Fetch-User":            "?1",
	"Sec-Gpc":                   "1",
	"Upgrade-Insecure-Requests": "1",
	"User-Agent":                "tx2json/1.0",
}

// Client retrieves transaction pages from the explorer and turns them into records.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	cookie     string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewClient creates a new explorer client. cookie is sent verbatim as the
// Cookie header when non-empty. If httpClient is nil a client with a 30s
// timeout is used; if logger is nil logs are discarded; m may be nil.
func NewClient(baseURL, cookie string, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		cookie:     cookie,
		httpClient: httpClient,
		metrics:    m,
		logger:     logger,
	}
}

// BaseURL returns the explorer base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchHTML posts tx to the explorer and returns the transaction page.
// Any failure, including a page without transaction markup, is a *FetchError.
func (c *Client) FetchHTML(ctx context.Context, tx string) (html string, err error) {
	defer metrics.Timer(time.Now(), func(d float64) {
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordFetch(status, d, len(html))
	})()

	html, err = c.fetchHTML(ctx, tx)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to fetch transaction page", "tx", tx, "error", err)
	}
	return html, err
}

func (c *Client) fetchHTML(ctx context.Context, tx string) (string, error) {
	form := url.Values{"tx": {tx}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+TxPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &FetchError{Reason: "failed to create request", Err: err}
	}
	c.setHeaders(req)

	c.logger.DebugContext(ctx, "fetching transaction page", "url", req.URL.String(), "tx", tx)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &FetchError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &FetchError{StatusCode: resp.StatusCode, Reason: "non-200 response code"}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return "", &FetchError{StatusCode: resp.StatusCode, Reason: "failed to read response body", Err: err}
	}

	html := string(body)
	if !looksLikeTransactionPage(html) {
		return "", &FetchError{StatusCode: resp.StatusCode, Reason: "response did not contain expected transaction HTML"}
	}

	c.logger.DebugContext(ctx, "fetched transaction page", "tx", tx, "bytes", len(body))
	return html, nil
}

// Parse fetches the page for tx and extracts its record. Retrieval failures
// match ErrFetch; extraction failures match explorer.ErrParse.
func (c *Client) Parse(ctx context.Context, tx string) (explorer.Record, error) {
	html, err := c.FetchHTML(ctx, tx)
	if err != nil {
		return explorer.Record{}, err
	}

	rec, err := explorer.Extract(html)
	c.metrics.RecordExtraction(err)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to extract record", "tx", tx, "error", err)
		return explorer.Record{}, fmt.Errorf("tx %s: %w", tx, err)
	}

	c.logger.InfoContext(ctx, "extracted transaction record",
		"tx", tx,
		"tx_hash", rec.TxHash,
		"topic_id", rec.TopicID,
	)
	return rec, nil
}

func (c *Client) setHeaders(req *http.Request) {
	for k, v := range baseHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("Origin", c.baseURL)
	req.Header.Set("Referer", c.baseURL+TxPath)
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
}

func looksLikeTransactionPage(html string) bool {
	for _, marker := range pageMarkers {
		if strings.Contains(html, marker) {
			return true
		}
	}
	return false
}
