package application

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"

	masterdata "plantwatch/internal/masterdata/domain"
)

// CachedDeviceResolver maps device codes to historical-store series keys,
// caching lookups so statistical rule evaluation does not hit the device
// table on every sample.
type CachedDeviceResolver struct {
	devices masterdata.DeviceReader
	cache   *gocache.Cache
}

// ResolverOption configures the resolver.
type ResolverOption func(*CachedDeviceResolver)

// WithCacheTTL overrides the default lookup cache TTL.
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *CachedDeviceResolver) {
		if ttl > 0 {
			r.cache = gocache.New(ttl, 2*ttl)
		}
	}
}

// NewCachedDeviceResolver constructs a resolver.
func NewCachedDeviceResolver(devices masterdata.DeviceReader, opts ...ResolverOption) (*CachedDeviceResolver, error) {
	if devices == nil {
		return nil, errors.New("device resolver: nil device reader")
	}
	resolver := &CachedDeviceResolver{
		devices: devices,
		cache:   gocache.New(5*time.Minute, 10*time.Minute),
	}
	for _, opt := range opts {
		opt(resolver)
	}
	return resolver, nil
}

// ResolveSeries returns the historical series key for a device code.
// ok=false means the device is unknown or has no series mapping.
func (r *CachedDeviceResolver) ResolveSeries(ctx context.Context, deviceCode string) (string, bool, error) {
	if r == nil || r.devices == nil {
		return "", false, errors.New("device resolver: nil resolver")
	}
	if deviceCode == "" {
		return "", false, nil
	}
	if cached, found := r.cache.Get(deviceCode); found {
		key, _ := cached.(string)
		return key, key != "", nil
	}

	device, err := r.devices.GetByCode(ctx, deviceCode)
	if err != nil {
		return "", false, err
	}
	seriesKey := ""
	if device != nil {
		seriesKey = device.SeriesKey
	}
	r.cache.Set(deviceCode, seriesKey, gocache.DefaultExpiration)
	return seriesKey, seriesKey != "", nil
}
