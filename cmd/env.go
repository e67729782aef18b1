package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-intel/internal/cache"
	"github.com/sells-group/visitor-intel/internal/config"
	"github.com/sells-group/visitor-intel/internal/dedup"
	"github.com/sells-group/visitor-intel/internal/enrichment"
	"github.com/sells-group/visitor-intel/internal/intake"
	"github.com/sells-group/visitor-intel/internal/iprange"
	"github.com/sells-group/visitor-intel/internal/monitoring"
	"github.com/sells-group/visitor-intel/internal/resilience"
	"github.com/sells-group/visitor-intel/internal/resolve"
	"github.com/sells-group/visitor-intel/internal/store"
	"github.com/sells-group/visitor-intel/pkg/apollo"
	"github.com/sells-group/visitor-intel/pkg/ipinfo"
)

// appEnv holds the store, clients and cycle runners shared by the commands.
type appEnv struct {
	Store     store.Store
	Breakers  *resilience.ServiceBreakers
	Resolver  *resolve.Resolver
	Processor *enrichment.Processor
	Dedup     *dedup.Collaborator
	Intake    *intake.Service
	Collector *monitoring.Collector
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "visitor.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// openStore opens and migrates the store. Callers should defer Close.
func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv validates the config for mode, opens the store and wires every
// component on top of it. Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config, mode string) (*appEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx, c)
	if err != nil {
		return nil, err
	}

	return newAppEnv(c, st, net.DefaultResolver), nil
}

// newAppEnv builds the components over an already open store.
func newAppEnv(c *config.Config, st store.Store, dns resolve.HostResolver) *appEnv {
	breakers := resilience.NewServiceBreakers(
		resilience.FromCircuitConfig("", c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs),
	)

	ipinfoTTL := time.Duration(c.IPInfo.CacheTTLHours) * time.Hour
	var ipCache cache.Cache[string, ipinfo.Info]
	if c.IPInfo.PersistCache {
		ipCache = store.NewIPInfoCache(st, ipinfoTTL)
		zap.L().Info("ipinfo cache persisted to store", zap.Duration("ttl", ipinfoTTL))
	} else {
		ipCache = cache.New[string, ipinfo.Info](ipinfoTTL)
	}

	ipinfoClient := ipinfo.NewClient(c.IPInfo.Token,
		ipinfo.WithBaseURL(c.IPInfo.BaseURL),
		ipinfo.WithHTTPClient(&http.Client{Timeout: time.Duration(c.IPInfo.TimeoutSecs) * time.Second}),
		ipinfo.WithCache(ipCache),
		ipinfo.WithRateLimit(c.IPInfo.RateLimit),
		ipinfo.WithCircuitBreaker(breakers.Get("ipinfo")),
	)

	apolloClient := apollo.NewClient(c.Apollo.Key,
		apollo.WithBaseURL(c.Apollo.BaseURL),
		apollo.WithHTTPClient(&http.Client{Timeout: time.Duration(c.Apollo.TimeoutSecs) * time.Second}),
		apollo.WithCache(cache.New[string, apollo.Organization](time.Duration(c.Apollo.CacheTTLHours)*time.Hour)),
		apollo.WithRateLimit(c.Apollo.RateLimit),
		apollo.WithCircuitBreaker(breakers.Get("apollo")),
	)

	resolver := resolve.Default(ipinfoClient, dns, iprange.NewDirectory(st),
		resolve.WithDNSTimeout(time.Duration(c.Resolver.DNSTimeoutSecs)*time.Second),
	)

	return &appEnv{
		Store:    st,
		Breakers: breakers,
		Resolver: resolver,
		Processor: enrichment.NewProcessor(st, apolloClient,
			enrichment.WithBatchSize(c.Enrichment.BatchSize),
			enrichment.WithConcurrency(c.Enrichment.Concurrency),
		),
		Dedup: dedup.New(st, resolver,
			dedup.WithVisitPageSize(c.Dedup.VisitPageSize),
			dedup.WithSessionPageSize(c.Dedup.SessionPageSize),
			dedup.WithConcurrency(c.Dedup.Concurrency),
		),
		Intake:    intake.NewService(st, resolver),
		Collector: monitoring.NewCollector(st, breakers),
	}
}
