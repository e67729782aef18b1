package apollo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visitor-intel/internal/cache"
)

const acmeJSON = `{"organization":{"id":"org-1","name":"Acme Inc","primary_domain":"acme.com","industry":"manufacturing","estimated_num_employees":120}}`

func TestEnrichByDomain(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  string
		wantNil  bool
		wantName string
	}{
		{
			name:     "found",
			status:   http.StatusOK,
			body:     acmeJSON,
			wantName: "Acme Inc",
		},
		{
			name:    "no organization payload",
			status:  http.StatusOK,
			body:    `{}`,
			wantNil: true,
		},
		{
			name:    "null organization",
			status:  http.StatusOK,
			body:    `{"organization":null}`,
			wantNil: true,
		},
		{
			name:    "unauthorized",
			status:  http.StatusUnauthorized,
			body:    `{"error":"invalid api key"}`,
			wantErr: "http 401",
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    `boom`,
			wantErr: "http 500",
		},
		{
			name:    "malformed",
			status:  http.StatusOK,
			body:    `{bad`,
			wantErr: "unmarshal enrich response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/organizations/enrich", r.URL.Path)
				assert.Equal(t, "acme.com", r.URL.Query().Get("domain"))
				assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient("test-key", WithBaseURL(srv.URL))
			org, err := c.EnrichByDomain(context.Background(), "Acme.com")

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, org)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, org)
				return
			}
			require.NotNil(t, org)
			assert.Equal(t, tt.wantName, org.Name)
			assert.False(t, org.Cached)
		})
	}
}

func TestEnrichByDomain_SecondCallServedFromCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(acmeJSON))
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))

	first, err := c.EnrichByDomain(context.Background(), "acme.com")
	require.NoError(t, err)
	second, err := c.EnrichByDomain(context.Background(), "acme.com")
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)

	b1, err := json.Marshal(first)
	require.NoError(t, err)
	b2, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestEnrichByDomain_CachedCopyIsolatedFromCaller(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"organization":{"id":"org-1","name":"Acme Inc","primary_domain":"acme.com","keywords":["b2b","saas"]}}`))
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))

	first, err := c.EnrichByDomain(context.Background(), "acme.com")
	require.NoError(t, err)
	first.Keywords[0] = "mutated"

	second, err := c.EnrichByDomain(context.Background(), "acme.com")
	require.NoError(t, err)
	require.True(t, second.Cached)
	assert.Equal(t, []string{"b2b", "saas"}, second.Keywords)
	second.Keywords[1] = "mutated"

	third, err := c.EnrichByDomain(context.Background(), "acme.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"b2b", "saas"}, third.Keywords)
}

func TestEnrichByDomain_SoftMissNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	for i := 0; i < 2; i++ {
		org, err := c.EnrichByDomain(context.Background(), "nobody.example")
		require.NoError(t, err)
		assert.Nil(t, org)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestEnrichByDomain_HardFailureNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(acmeJSON))
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	_, err := c.EnrichByDomain(context.Background(), "acme.com")
	require.Error(t, err)

	org, err := c.EnrichByDomain(context.Background(), "acme.com")
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc", org.Name)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEnrichByDomain_ExpiredAfterSevenDays(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(acmeJSON))
	}))
	defer srv.Close()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ch := cache.New[string, Organization](7*24*time.Hour, cache.WithClock[string, Organization](func() time.Time { return now }))
	c := NewClient("k", WithBaseURL(srv.URL), WithCache(ch))

	_, err := c.EnrichByDomain(context.Background(), "acme.com")
	require.NoError(t, err)

	now = now.Add(6 * 24 * time.Hour)
	org, err := c.EnrichByDomain(context.Background(), "acme.com")
	require.NoError(t, err)
	assert.True(t, org.Cached)

	now = now.Add(24 * time.Hour)
	org, err = c.EnrichByDomain(context.Background(), "acme.com")
	require.NoError(t, err)
	assert.False(t, org.Cached)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEnrichByDomain_EmptyDomain(t *testing.T) {
	c := NewClient("k", WithBaseURL("http://127.0.0.1:0"))
	_, err := c.EnrichByDomain(context.Background(), "  ")
	require.Error(t, err)
}

func TestSearchByName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/mixed_companies/search", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Acme", req["q_organization_name"])
		assert.EqualValues(t, 1, req["page"])
		assert.EqualValues(t, 5, req["per_page"])

		_, _ = w.Write([]byte(`{"organizations":[
			{"id":"1","name":"Acme Inc","primary_domain":"acme.com"},
			{"id":"2","name":"Acme Labs","website_url":"https://www.acmelabs.io/about"},
			{"id":"3","name":"Acme Unknown"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	orgs, err := c.SearchByName(context.Background(), "Acme")
	require.NoError(t, err)
	require.Len(t, orgs, 3)
	assert.Equal(t, "Acme Inc", orgs[0].Name)
	assert.Equal(t, "acmelabs.io", orgs[1].Domain())
	assert.Equal(t, "", orgs[2].Domain())
}

func TestSearchByName_PopulatesCacheForEveryDomain(t *testing.T) {
	var enrichCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /mixed_companies/search", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"organizations":[
			{"id":"1","name":"Acme Inc","primary_domain":"acme.com"},
			{"id":"2","name":"Acme Labs","primary_domain":"acmelabs.io"}
		]}`))
	})
	mux.HandleFunc("GET /organizations/enrich", func(w http.ResponseWriter, _ *http.Request) {
		enrichCalls.Add(1)
		_, _ = w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	_, err := c.SearchByName(context.Background(), "Acme")
	require.NoError(t, err)

	for _, d := range []string{"acme.com", "acmelabs.io"} {
		org, err := c.EnrichByDomain(context.Background(), d)
		require.NoError(t, err)
		require.NotNil(t, org, d)
		assert.True(t, org.Cached)
	}
	assert.Equal(t, int32(0), enrichCalls.Load())
}

func TestSearchByName_CachedCopyIsolatedFromCaller(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /mixed_companies/search", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"organizations":[{"id":"1","name":"Acme Inc","primary_domain":"acme.com","keywords":["b2b"]}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	orgs, err := c.SearchByName(context.Background(), "Acme")
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	orgs[0].Keywords[0] = "mutated"

	org, err := c.EnrichByDomain(context.Background(), "acme.com")
	require.NoError(t, err)
	require.NotNil(t, org)
	assert.Equal(t, []string{"b2b"}, org.Keywords)
}

func TestSearchByName_EmptyResults(t *testing.T) {
	for _, body := range []string{`{}`, `{"organizations":[]}`, `{"organizations":null}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(body))
		}))

		c := NewClient("k", WithBaseURL(srv.URL))
		orgs, err := c.SearchByName(context.Background(), "Nobody")
		require.NoError(t, err)
		assert.NotNil(t, orgs)
		assert.Empty(t, orgs)
		srv.Close()
	}
}

func TestSearchByName_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	orgs, err := c.SearchByName(context.Background(), "Acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 429")
	assert.Nil(t, orgs)
}

func TestSearchByName_EmptyName(t *testing.T) {
	c := NewClient("k")
	_, err := c.SearchByName(context.Background(), "")
	require.Error(t, err)
}

func TestOrganizationDomain(t *testing.T) {
	tests := []struct {
		org  Organization
		want string
	}{
		{Organization{PrimaryDomain: "acme.com", WebsiteURL: "https://other.com"}, "acme.com"},
		{Organization{WebsiteURL: "http://www.Example.com"}, "example.com"},
		{Organization{WebsiteURL: "example.org/path"}, "example.org"},
		{Organization{}, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.org.Domain())
	}
}
