// Package geo resolves client IPs to a coarse location for security logs.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
	"github.com/Kharon-pay-mini/user-management-server/pkg/httpclient"
)

const cacheKeyPrefix = "geo:"

var lookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "geo_lookups_total",
		Help: "IP geolocation lookups by source",
	},
	[]string{"source"},
)

// Location is the city and country of an IP.
type Location struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

// Unknown is returned whenever an IP cannot be located.
func Unknown() Location {
	return Location{City: domain.Unknown, Country: domain.Unknown}
}

// Getter performs GET requests. *httpclient.CircuitBreakerClient satisfies it.
type Getter interface {
	Get(ctx context.Context, url string) (*http.Response, error)
}

// Config holds the ipinfo endpoint and cache settings.
type Config struct {
	BaseURL  string
	Token    string
	CacheTTL time.Duration
	Timeout  time.Duration
}

// Enricher looks IPs up against ipinfo, caching answers in Redis.
type Enricher struct {
	http   Getter
	cache  *redis.Client
	cfg    Config
	logger *slog.Logger
}

// NewEnricher creates an Enricher. A nil cache disables caching.
func NewEnricher(client Getter, cache *redis.Client, cfg Config, logger *slog.Logger) *Enricher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Enricher{
		http:   client,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
	}
}

type ipinfoResponse struct {
	City    string `json:"city"`
	Country string `json:"country"`
	Bogon   bool   `json:"bogon"`
}

// Lookup returns the location of ip. Empty, "unknown", loopback and
// private addresses resolve to Unknown without a remote call.
func (e *Enricher) Lookup(ctx context.Context, ip string) (Location, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" || ip == domain.Unknown {
		lookups.WithLabelValues("skipped").Inc()
		return Unknown(), nil
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		lookups.WithLabelValues("skipped").Inc()
		return Unknown(), fmt.Errorf("parse ip %q: %w", ip, err)
	}
	if !routable(addr) {
		lookups.WithLabelValues("skipped").Inc()
		return Unknown(), nil
	}
	ip = addr.Unmap().String()

	if loc, ok := e.cached(ctx, ip); ok {
		lookups.WithLabelValues("cache").Inc()
		return loc, nil
	}

	loc, err := e.fetch(ctx, ip)
	if err != nil {
		lookups.WithLabelValues("error").Inc()
		return Unknown(), err
	}
	lookups.WithLabelValues("remote").Inc()

	e.store(ctx, ip, loc)
	return loc, nil
}

// Resolve is Lookup bounded by the configured timeout, degrading every
// failure to Unknown.
func (e *Enricher) Resolve(ctx context.Context, ip string) Location {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	loc, err := e.Lookup(ctx, ip)
	if err != nil {
		e.logger.WarnContext(ctx, "geolocation lookup failed",
			slog.String("ip", ip),
			slog.String("error", err.Error()),
		)
		return Unknown()
	}
	return loc
}

func routable(addr netip.Addr) bool {
	addr = addr.Unmap()
	return !(addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsMulticast())
}

func (e *Enricher) fetch(ctx context.Context, ip string) (Location, error) {
	endpoint, err := url.JoinPath(e.cfg.BaseURL, ip)
	if err != nil {
		return Location{}, fmt.Errorf("build ipinfo url: %w", err)
	}
	if e.cfg.Token != "" {
		endpoint += "?" + url.Values{"token": {e.cfg.Token}}.Encode()
	}

	resp, err := e.http.Get(ctx, endpoint)
	if err != nil {
		return Location{}, fmt.Errorf("ipinfo request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Location{}, httpclient.ParseResponseError(resp, "ipinfo")
	}
	defer func() { _ = resp.Body.Close() }()

	var body ipinfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("decode ipinfo response: %w", err)
	}

	loc := Unknown()
	if body.Bogon {
		return loc, nil
	}
	if body.City != "" {
		loc.City = body.City
	}
	if body.Country != "" {
		loc.Country = body.Country
	}
	return loc, nil
}

func (e *Enricher) cached(ctx context.Context, ip string) (Location, bool) {
	if e.cache == nil {
		return Location{}, false
	}

	raw, err := e.cache.Get(ctx, cacheKeyPrefix+ip).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			e.logger.DebugContext(ctx, "geo cache read failed", slog.String("error", err.Error()))
		}
		return Location{}, false
	}

	var loc Location
	if err := json.Unmarshal(raw, &loc); err != nil {
		return Location{}, false
	}
	return loc, true
}

func (e *Enricher) store(ctx context.Context, ip string, loc Location) {
	if e.cache == nil {
		return
	}

	raw, err := json.Marshal(loc)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, cacheKeyPrefix+ip, raw, e.cfg.CacheTTL).Err(); err != nil {
		e.logger.DebugContext(ctx, "geo cache write failed", slog.String("error", err.Error()))
	}
}
