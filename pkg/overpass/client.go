// Package overpass queries the OpenStreetMap Overpass API for cash machines.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/sells-group/kiosk-status/internal/resilience"
)

// DefaultURL is the public Overpass interpreter endpoint.
const DefaultURL = "https://overpass-api.de/api/interpreter"

// DefaultTimeout bounds a single upstream request.
const DefaultTimeout = 30 * time.Second

// Element is a raw point of interest as returned by Overpass.
type Element struct {
	Type string            `json:"type"`
	ID   int64             `json:"id"`
	Lat  float64           `json:"lat"`
	Lon  float64           `json:"lon"`
	Tags map[string]string `json:"tags,omitempty"`
}

// Tag returns a tag value, or "" when absent.
func (e Element) Tag(key string) string {
	return e.Tags[key]
}

type response struct {
	Elements []Element `json:"elements"`
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL points the client at another interpreter.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit. The public instance
// asks clients to stay under a couple of requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

// WithGuard sets the retry and circuit breaker policy.
func WithGuard(g *resilience.Guard) Option {
	return func(c *Client) {
		c.guard = g
	}
}

// Client searches Overpass for ATMs around a point.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	guard      *resilience.Guard
}

// NewClient creates a Client with the given options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(2, 2),
		guard: resilience.NewGuard("overpass",
			resilience.DefaultBreakerConfig(), resilience.DefaultRetryConfig()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query builds the Overpass QL for ATM nodes and banks with an ATM within
// radius meters of (lat, lng).
func Query(lat, lng float64, radius int) string {
	around := fmt.Sprintf("around:%d,%s,%s", radius, formatCoord(lat), formatCoord(lng))
	return fmt.Sprintf(`[out:json][timeout:25];
(
  node["amenity"="atm"](%s);
  node["amenity"="bank"]["atm"="yes"](%s);
);
out body;`, around, around)
}

// formatCoord prints plain decimal degrees. Overpass QL does not accept
// exponent notation.
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Search returns the ATMs within radius meters of (lat, lng).
func (c *Client) Search(ctx context.Context, lat, lng float64, radius int) ([]Element, error) {
	return resilience.Call(ctx, c.guard, func(ctx context.Context) ([]Element, error) {
		return c.search(ctx, lat, lng, radius)
	})
}

func (c *Client) search(ctx context.Context, lat, lng float64, radius int) ([]Element, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "overpass: rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(Query(lat, lng, radius)))
	if err != nil {
		return nil, eris.Wrap(err, "overpass: build request")
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(err, "overpass: request")
		}
		return nil, resilience.NewTransientError(eris.Wrap(err, "overpass: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("overpass: returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "overpass: read body")
	}

	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "overpass: parse response")
	}

	out := make([]Element, 0, len(parsed.Elements))
	for _, e := range parsed.Elements {
		if e.Type != "" && e.Type != "node" {
			continue
		}
		e.Tags = normalizeTags(e.Tags)
		out = append(out, e)
	}
	return out, nil
}

// normalizeTags NFC-normalizes and trims tag values, dropping empty ones.
func normalizeTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		v = strings.TrimSpace(norm.NFC.String(v))
		if v != "" {
			out[k] = v
		}
	}
	return out
}
