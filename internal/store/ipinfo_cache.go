package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/visitor-intel/internal/cache"
	"github.com/sells-group/visitor-intel/pkg/ipinfo"
)

// IPInfoStore is the slice of Store the persistent IP info cache needs.
type IPInfoStore interface {
	GetIPInfo(ctx context.Context, ip string) ([]byte, time.Time, error)
	SetIPInfo(ctx context.Context, ip string, data []byte, cachedAt time.Time) error
}

// IPInfoCache persists ipinfo lookups so they survive restarts. Expiry is
// evaluated at read time against cached_at, like the in-memory cache.
type IPInfoCache struct {
	store   IPInfoStore
	ttl     time.Duration
	timeout time.Duration
	nowFunc func() time.Time
}

var _ cache.Cache[string, ipinfo.Info] = (*IPInfoCache)(nil)

// NewIPInfoCache creates a store-backed cache with the given TTL.
func NewIPInfoCache(s IPInfoStore, ttl time.Duration) *IPInfoCache {
	return &IPInfoCache{
		store:   s,
		ttl:     ttl,
		timeout: 5 * time.Second,
		nowFunc: time.Now,
	}
}

// Get returns the stored info for ip when present and younger than the TTL.
// Store errors are logged and treated as misses.
func (c *IPInfoCache) Get(ip string) (ipinfo.Info, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	data, cachedAt, err := c.store.GetIPInfo(ctx, ip)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			zap.L().Warn("ipinfo cache: read failed", zap.String("ip", ip), zap.Error(err))
		}
		return ipinfo.Info{}, false
	}
	if c.nowFunc().Sub(cachedAt) >= c.ttl {
		return ipinfo.Info{}, false
	}

	var info ipinfo.Info
	if err := json.Unmarshal(data, &info); err != nil {
		zap.L().Warn("ipinfo cache: decode failed", zap.String("ip", ip), zap.Error(err))
		return ipinfo.Info{}, false
	}
	return info, true
}

// Set stores info for ip. Failures are logged and dropped.
func (c *IPInfoCache) Set(ip string, info ipinfo.Info) {
	data, err := json.Marshal(info)
	if err != nil {
		zap.L().Warn("ipinfo cache: encode failed", zap.String("ip", ip), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.store.SetIPInfo(ctx, ip, data, c.nowFunc()); err != nil {
		zap.L().Warn("ipinfo cache: write failed", zap.String("ip", ip), zap.Error(err))
	}
}
