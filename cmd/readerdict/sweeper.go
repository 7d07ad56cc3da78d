package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/reader-dict/website/internal/cache"
	"github.com/reader-dict/website/internal/platform/config"
)

const (
	defaultSweepInterval = time.Hour
	defaultCacheMaxAge   = 24 * time.Hour
)

// cacheSweeper removes cache entries nobody came back for, such as
// download links that were never followed.
type cacheSweeper struct {
	cache    *cache.Cache
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
}

func buildCacheSweeper(c *cache.Cache, cfg config.CacheConfig, logger *slog.Logger) *cacheSweeper {
	interval := time.Duration(cfg.SweepIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	maxAge := time.Duration(cfg.MaxAgeSecs) * time.Second
	if maxAge <= 0 {
		maxAge = defaultCacheMaxAge
	}

	return &cacheSweeper{cache: c, interval: interval, maxAge: maxAge, logger: logger}
}

func (w *cacheSweeper) Run(ctx context.Context) error {
	if w == nil || w.cache == nil {
		return nil
	}

	w.sweep()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *cacheSweeper) sweep() {
	removed, err := w.cache.Purge(w.maxAge)
	if err != nil {
		w.logger.Error("cache sweep failed", "error", err)
		return
	}
	if removed > 0 {
		w.logger.Info("cache swept", "removed", removed)
	}
}
