package main

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/reader-dict/website/internal/catalog"
	"github.com/reader-dict/website/internal/metrics"
	"github.com/reader-dict/website/internal/notify"
	"github.com/reader-dict/website/internal/orders"
	"github.com/reader-dict/website/internal/platform/config"
	"github.com/reader-dict/website/internal/platform/filelock"
	"github.com/reader-dict/website/internal/platform/telemetry"
)

// env is the on-disk state the admin commands operate on. It shares the
// service's lock directory so edits never race a running server.
type env struct {
	cfg     *config.Config
	orders  *orders.Store
	catalog *catalog.Catalog
	outbox  *notify.Outbox
	metrics *metrics.Recorder
	logger  *slog.Logger
}

func openEnv(loadConfig func() (*config.Config, error)) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := telemetry.NewLogger(cfg.Log.Level, "text")
	dataDir := cfg.Storage.DataDir
	locker := filelock.New(cfg.Storage.CacheDir)
	return &env{
		cfg:     cfg,
		orders:  orders.NewStore(filepath.Join(dataDir, "orders.json"), locker, logger),
		catalog: catalog.New(filepath.Join(dataDir, "dictionary.json")),
		outbox:  notify.NewOutbox(filepath.Join(dataDir, "emails"), cfg.Site.BaseURL, cfg.Site.Project, logger),
		metrics: metrics.New(filepath.Join(dataDir, "metrics.json"), locker, logger),
		logger:  logger,
	}, nil
}

// absoluteLink turns a site-relative download link into a full URL.
func (e *env) absoluteLink(link string) string {
	return strings.TrimRight(e.cfg.Site.BaseURL, "/") + "/" + link
}
