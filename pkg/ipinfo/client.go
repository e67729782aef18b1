// Package ipinfo provides a client for an ipinfo-style IP → ASN/organization lookup API.
package ipinfo

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/visitor-intel/internal/cache"
	"github.com/sells-group/visitor-intel/internal/resilience"
)

const (
	defaultBaseURL  = "https://ipinfo.io"
	defaultCacheTTL = 24 * time.Hour
	serviceName     = "ipinfo"
)

// Client looks up autonomous-system and organization details for an IP.
type Client interface {
	// Lookup returns the ASN/org record for ip. Results are cached per IP.
	Lookup(ctx context.Context, ip string) (*Info, error)
}

// Info is the subset of the lookup response used for company identification.
type Info struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname,omitempty"`
	Org      string `json:"org,omitempty"`
	ASName   string `json:"as_name,omitempty"`
	ASDomain string `json:"as_domain,omitempty"`
	ASN      string `json:"asn,omitempty"`
	City     string `json:"city,omitempty"`
	Region   string `json:"region,omitempty"`
	Country  string `json:"country,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithCache replaces the default in-memory 24h cache.
func WithCache(ch cache.Cache[string, Info]) Option {
	return func(c *httpClient) {
		c.cache = ch
	}
}

// WithRateLimit sets the requests-per-second limit for API calls.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCircuitBreaker routes API calls through cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	cache   cache.Cache[string, Info]
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// NewClient creates an ASN/org lookup client.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		cache: cache.New[string, Info](defaultCacheTTL),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Lookup(ctx context.Context, ip string) (*Info, error) {
	if cached, ok := c.cache.Get(ip); ok {
		zap.L().Debug("ipinfo: cache hit", zap.String("ip", ip))
		return &cached, nil
	}

	info, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*Info, error) {
		return c.fetch(ctx, ip)
	})
	if err != nil {
		return nil, err
	}

	c.cache.Set(ip, *info)
	return info, nil
}

func (c *httpClient) fetch(ctx context.Context, ip string) (*Info, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "ipinfo: rate limit wait")
		}
	}

	reqURL := c.baseURL + "/" + url.PathEscape(ip)
	if c.token != "" {
		reqURL += "?" + url.Values{"token": {c.token}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "ipinfo: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ipinfo: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ipinfo: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, eris.Wrap(resilience.NewStatusError(serviceName, resp.StatusCode, body), "ipinfo: lookup")
	}

	var info Info
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, eris.Wrap(err, "ipinfo: unmarshal response")
	}
	if info.IP == "" {
		info.IP = ip
	}
	return &info, nil
}
