package discovery

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp-forge/wopihost/pkg/proof"
)

// Cache holds the latest discovery Snapshot and refreshes it on a schedule.
// Readers never block and always see a whole snapshot.
type Cache struct {
	fetcher      Fetcher
	url          string
	netZone      string
	denylist     []string
	initialDelay time.Duration
	interval     time.Duration
	logger       hclog.Logger

	current atomic.Pointer[Snapshot]
}

// Config holds configuration for a Cache.
type Config struct {
	// URL of the discovery document.
	URL string

	// Fetcher retrieves the document; defaults to an HTTPFetcher.
	Fetcher Fetcher

	// NetZone names the net-zone to index (e.g. "external-https"). The first
	// zone of the document is used when empty.
	NetZone string

	// Denylist names apps whose actions are ignored.
	Denylist []string

	// InitialDelay before the first scheduled refresh (default: 10s).
	InitialDelay time.Duration

	// Interval between scheduled refreshes (default: 12h).
	Interval time.Duration

	Logger hclog.Logger
}

// NewCache creates an empty cache. Nothing is fetched until Refresh or Run
// is called.
func NewCache(cfg Config) (*Cache, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("discovery URL is required")
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = NewHTTPFetcher(nil)
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 10 * time.Second
	}
	if cfg.Interval == 0 {
		cfg.Interval = 12 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &Cache{
		fetcher:      cfg.Fetcher,
		url:          cfg.URL,
		netZone:      cfg.NetZone,
		denylist:     cfg.Denylist,
		initialDelay: cfg.InitialDelay,
		interval:     cfg.Interval,
		logger:       cfg.Logger.Named("discovery"),
	}, nil
}

// Refresh fetches and parses the discovery document and publishes the
// result. On error the published snapshot is left untouched.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	raw, err := c.fetcher.Fetch(ctx, c.url)
	if err != nil {
		return nil, fmt.Errorf("error fetching discovery document: %w", err)
	}

	doc, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	snap, err := Build(doc, c.netZone, c.denylist, time.Now())
	if err != nil {
		return nil, err
	}

	c.current.Store(snap)

	c.logger.Info("discovery refreshed",
		"url", c.url,
		"net_zone", c.netZone,
		"extensions", len(snap.actions),
		"has_proof_key", snap.keys.Current != nil,
	)

	return snap, nil
}

// Run refreshes after the initial delay and then on every interval until
// ctx is cancelled. Failures are logged and the previous snapshot kept.
func (c *Cache) Run(ctx context.Context) error {
	c.logger.Info("starting discovery refresh",
		"url", c.url,
		"initial_delay", c.initialDelay,
		"interval", c.interval,
	)

	timer := time.NewTimer(c.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("discovery refresh stopped")
			return nil

		case <-timer.C:
			if _, err := c.Refresh(ctx); err != nil {
				c.logger.Warn("discovery refresh failed, keeping previous snapshot",
					"url", c.url,
					"error", err,
				)
			}
			timer.Reset(c.interval)
		}
	}
}

// Snapshot returns the published snapshot, or nil before the first
// successful refresh.
func (c *Cache) Snapshot() *Snapshot {
	return c.current.Load()
}

// ActionsForExtension returns the actions for ext keyed by name. The map is
// empty when nothing is known about ext.
func (c *Cache) ActionsForExtension(ext string) map[string]Action {
	snap := c.current.Load()
	if snap == nil {
		return map[string]Action{}
	}
	return snap.Actions(ext)
}

// SupportedExtensions returns the default App for every known extension.
func (c *Cache) SupportedExtensions() map[string]App {
	snap := c.current.Load()
	if snap == nil {
		return map[string]App{}
	}
	return snap.Defaults()
}

// Keys returns the current proof keys; ok is false before the first
// successful refresh or when the document carried no proof key.
func (c *Cache) Keys() (keys proof.KeyPair, ok bool) {
	snap := c.current.Load()
	if snap == nil {
		return keys, false
	}
	keys = snap.Keys()
	return keys, !keys.Empty()
}
