// Package offline serves the dashboard's static assets from a persistent
// cache so the page still loads when the backend is unreachable.
package offline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mjasion/balena-home/dashboard/pkg/metrics"
	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// ErrNotInstalled is returned by Lookup before the precache completed
var ErrNotInstalled = errors.New("offline cache not installed")

const maxEntrySize = 10 << 20

// DefaultCacheName versions the cache; change it to force a fresh install
const DefaultCacheName = "iot-controller-cache-v1"

// DefaultPrecache lists the pages and assets of the dashboard. Cross-origin
// entries are install-only: browsers fetch them from their own host, so they
// gate activation but are never served by Lookup.
var DefaultPrecache = []string{
	"/",
	"/static/css/style.css",
	"/static/js/script.js",
	"/static/manifest.json",
	"/static/images/kulogo.jpeg",
	"/static/images/aircon.png",
	"/static/images/heat.png",
	"/static/images/de.png",
	"/static/images/kulogo_192.png",
	"/static/images/kulogo_512.png",
	"/history/temperature",
	"/history/humidity",
	"/history/distance",
	"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.4.2/css/all.min.css",
}

// DefaultAPIPrefixes are never answered from the cache
var DefaultAPIPrefixes = []string{
	"/api/",
	"/data",
	"/getdistance",
	"/gettemperature",
	"/gettouch",
	"/getcounter",
	"/control/",
	"/toggle_mode",
}

// Phase is the lifecycle state of the cache
type Phase int32

const (
	// PhaseInstalling passes every request through to the network
	PhaseInstalling Phase = iota
	// PhaseActive answers asset requests from the cache
	PhaseActive
)

func (p Phase) String() string {
	if p == PhaseActive {
		return "active"
	}
	return "installing"
}

// Config configures a Cache
type Config struct {
	Name        string
	Origin      string
	Precache    []string
	APIPrefixes []string
	// FetchTimeout bounds each precache download
	FetchTimeout time.Duration
}

// Cache is a cache-first proxy in front of the dashboard origin
type Cache struct {
	name        string
	origin      *url.URL
	precache    []string
	apiPrefixes []string

	store  Store
	client *http.Client
	proxy  *httputil.ReverseProxy
	phase  atomic.Int32
	logger *zap.Logger
}

// New creates a Cache in the installing phase
func New(cfg Config, store Store, logger *zap.Logger) (*Cache, error) {
	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin %q: %w", cfg.Origin, err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("origin %q must be an absolute URL", cfg.Origin)
	}
	if cfg.Name == "" {
		cfg.Name = DefaultCacheName
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}

	transport := otelhttp.NewTransport(http.DefaultTransport)
	proxy := httputil.NewSingleHostReverseProxy(origin)
	proxy.Transport = transport

	c := &Cache{
		name:        cfg.Name,
		origin:      origin,
		precache:    cfg.Precache,
		apiPrefixes: cfg.APIPrefixes,
		store:       store,
		client:      &http.Client{Timeout: cfg.FetchTimeout, Transport: transport},
		proxy:       proxy,
		logger:      logger,
	}
	proxy.ErrorHandler = c.proxyError
	return c, nil
}

// Name returns the cache name
func (c *Cache) Name() string {
	return c.name
}

// Phase returns the current lifecycle phase
func (c *Cache) Phase() Phase {
	return Phase(c.phase.Load())
}

// key maps a precache entry or request to its storage key. Same-origin
// entries are keyed by path and query, cross-origin ones by absolute URL.
func (c *Cache) key(raw string) (string, *url.URL, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", nil, err
	}
	target := c.origin.ResolveReference(ref)
	if target.Scheme == c.origin.Scheme && target.Host == c.origin.Host {
		return target.RequestURI(), target, nil
	}
	return target.String(), target, nil
}

// Restore activates the cache when a previous run already stored every
// precache entry under this cache name
func (c *Cache) Restore(ctx context.Context) (bool, error) {
	keys, err := c.store.Keys(ctx, c.name)
	if err != nil {
		return false, err
	}
	stored := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		stored[k] = struct{}{}
	}
	for _, raw := range c.precache {
		key, _, err := c.key(raw)
		if err != nil {
			return false, fmt.Errorf("invalid precache entry %q: %w", raw, err)
		}
		if _, ok := stored[key]; !ok {
			return false, nil
		}
	}

	c.phase.Store(int32(PhaseActive))
	c.logger.Info("offline cache restored",
		zap.String("cache", c.name),
		zap.Int("entries", len(keys)),
	)
	return true, nil
}

// Install downloads every precache entry and stores them together. A single
// failed download fails the install and nothing is stored.
func (c *Cache) Install(ctx context.Context) error {
	entries := make([]Entry, 0, len(c.precache))
	for _, raw := range c.precache {
		key, target, err := c.key(raw)
		if err != nil {
			return fmt.Errorf("invalid precache entry %q: %w", raw, err)
		}
		entry, err := c.fetch(ctx, target)
		if err != nil {
			return fmt.Errorf("precache %s: %w", raw, err)
		}
		entry.URL = key
		entries = append(entries, *entry)
	}

	if err := c.store.PutAll(ctx, c.name, entries); err != nil {
		return fmt.Errorf("store precache: %w", err)
	}

	c.phase.Store(int32(PhaseActive))
	c.logger.Info("offline cache installed",
		zap.String("cache", c.name),
		zap.Int("entries", len(entries)),
	)
	return nil
}

func (c *Cache) fetch(ctx context.Context, target *url.URL) (*Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > maxEntrySize {
		return nil, fmt.Errorf("response larger than %d bytes", maxEntrySize)
	}

	header := resp.Header.Clone()
	for _, h := range []string{"Set-Cookie", "Content-Length", "Transfer-Encoding", "Connection", "Date"} {
		header.Del(h)
	}
	return &Entry{Status: resp.StatusCode, Header: header, Body: body, StoredAt: time.Now()}, nil
}

// RunInstaller restores or installs the cache, retrying failed installs
// every retry until one succeeds or ctx is done
func (c *Cache) RunInstaller(ctx context.Context, retry time.Duration) {
	if ok, err := c.Restore(ctx); err != nil {
		c.logger.Warn("failed to restore offline cache", zap.Error(err))
	} else if ok {
		return
	}

	ticker := time.NewTicker(retry)
	defer ticker.Stop()
	for {
		err := c.Install(ctx)
		if err == nil {
			return
		}
		c.logger.Warn("offline cache install failed, will retry",
			zap.String("cache", c.name),
			zap.Duration("retry", retry),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Cache) isAPI(path string) bool {
	for _, prefix := range c.apiPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Lookup returns the cached response for a request
func (c *Cache) Lookup(ctx context.Context, r *http.Request) (*Entry, error) {
	if c.Phase() != PhaseActive {
		return nil, ErrNotInstalled
	}
	return c.store.Get(ctx, c.name, r.URL.RequestURI())
}

// ServeHTTP answers asset requests from the cache and forwards everything
// else to the origin. Cache misses are not stored.
func (c *Cache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case c.Phase() != PhaseActive:
		metrics.OfflineRequestsTotal.WithLabelValues("passthrough").Inc()
		c.proxy.ServeHTTP(w, r)
		return
	case c.isAPI(r.URL.Path):
		metrics.OfflineRequestsTotal.WithLabelValues("bypass").Inc()
		c.proxy.ServeHTTP(w, r)
		return
	case r.Method != http.MethodGet && r.Method != http.MethodHead:
		metrics.OfflineRequestsTotal.WithLabelValues("bypass").Inc()
		c.proxy.ServeHTTP(w, r)
		return
	}

	entry, err := c.Lookup(r.Context(), r)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("offline cache lookup failed", zap.String("path", r.URL.Path), zap.Error(err))
		}
		metrics.OfflineRequestsTotal.WithLabelValues("miss").Inc()
		c.proxy.ServeHTTP(w, r)
		return
	}

	metrics.OfflineRequestsTotal.WithLabelValues("hit").Inc()
	for k, values := range entry.Header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(entry.Body)))
	w.Header().Set("X-Cache", "HIT")
	w.WriteHeader(entry.Status)
	if r.Method == http.MethodGet {
		_, _ = w.Write(entry.Body)
	}
}

func (c *Cache) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	c.logger.Warn("origin unreachable",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	http.Error(w, "origin unreachable", http.StatusBadGateway)
}
