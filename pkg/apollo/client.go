// Package apollo provides a cache-backed client for the Apollo firmographic API.
package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/visitor-intel/internal/cache"
	"github.com/sells-group/visitor-intel/internal/resilience"
)

const (
	defaultBaseURL  = "https://api.apollo.io/api/v1"
	defaultCacheTTL = 7 * 24 * time.Hour
	serviceName     = "apollo"

	// SearchPageSize is the number of organizations requested per name search.
	SearchPageSize = 5
)

// Client performs firmographic lookups.
type Client interface {
	// EnrichByDomain returns the organization for domain, or nil when the
	// provider has no record for it.
	EnrichByDomain(ctx context.Context, domain string) (*Organization, error)
	// SearchByName returns up to SearchPageSize organizations matching name.
	SearchByName(ctx context.Context, name string) ([]Organization, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithCache replaces the default in-memory 7-day cache.
func WithCache(ch cache.Cache[string, Organization]) Option {
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
	apiKey  string
	baseURL string
	http    *http.Client
	cache   cache.Cache[string, Organization]
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// NewClient creates an Apollo client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		cache: cache.New[string, Organization](defaultCacheTTL),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) EnrichByDomain(ctx context.Context, domain string) (*Organization, error) {
	key := cacheKey(domain)
	if key == "" {
		return nil, eris.New("apollo: domain is required")
	}

	if cached, ok := c.cache.Get(key); ok {
		zap.L().Debug("apollo: cache hit", zap.String("domain", key))
		org := cached.clone()
		org.Cached = true
		return &org, nil
	}

	q := url.Values{"domain": {key}}
	body, err := c.do(ctx, http.MethodGet, "/organizations/enrich?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrapf(err, "apollo: enrich %s", key)
	}

	var resp enrichResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "apollo: unmarshal enrich response")
	}
	if resp.Organization == nil {
		zap.L().Debug("apollo: no organization for domain", zap.String("domain", key))
		return nil, nil
	}

	org := *resp.Organization
	org.Cached = false
	c.cache.Set(key, org.clone())
	return &org, nil
}

func (c *httpClient) SearchByName(ctx context.Context, name string) ([]Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, eris.New("apollo: name is required")
	}

	payload, err := json.Marshal(searchRequest{
		OrganizationName: name,
		Page:             1,
		PerPage:          SearchPageSize,
	})
	if err != nil {
		return nil, eris.Wrap(err, "apollo: marshal search request")
	}

	body, err := c.do(ctx, http.MethodPost, "/mixed_companies/search", payload)
	if err != nil {
		return nil, eris.Wrapf(err, "apollo: search %q", name)
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "apollo: unmarshal search response")
	}
	if len(resp.Organizations) == 0 {
		return []Organization{}, nil
	}

	orgs := resp.Organizations
	if len(orgs) > SearchPageSize {
		orgs = orgs[:SearchPageSize]
	}
	for i := range orgs {
		orgs[i].Cached = false
		if d := cacheKey(orgs[i].Domain()); d != "" {
			c.cache.Set(d, orgs[i].clone())
		}
	}
	return orgs, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "apollo: rate limit wait")
			}
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return nil, eris.Wrap(err, "apollo: create request")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("X-Api-Key", c.apiKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "apollo: send request")
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "apollo: read response")
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, resilience.NewStatusError(serviceName, resp.StatusCode, body)
		}
		return body, nil
	})
}

// cacheKey normalizes a domain for cache lookups.
func cacheKey(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}
