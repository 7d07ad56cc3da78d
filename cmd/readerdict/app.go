package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/reader-dict/website/internal/cache"
	"github.com/reader-dict/website/internal/catalog"
	"github.com/reader-dict/website/internal/downloads"
	"github.com/reader-dict/website/internal/metrics"
	"github.com/reader-dict/website/internal/notify"
	"github.com/reader-dict/website/internal/orders"
	"github.com/reader-dict/website/internal/payments"
	"github.com/reader-dict/website/internal/platform/config"
	"github.com/reader-dict/website/internal/platform/filelock"
	"github.com/reader-dict/website/internal/platform/server"
)

type application struct {
	addr      string
	server    *server.Server
	sweeper   *cacheSweeper
	providers []string
}

func build(cfg *config.Config, logger *slog.Logger) (*application, error) {
	if cfg.Security.Pepper == "" {
		return nil, errors.New("security.pepper is required")
	}

	dataDir := cfg.Storage.DataDir
	locker := filelock.New(cfg.Storage.CacheDir)
	diskCache := cache.New(cfg.Storage.CacheDir)
	orderStore := orders.NewStore(filepath.Join(dataDir, "orders.json"), locker, logger)
	cat := catalog.New(filepath.Join(dataDir, "dictionary.json"))
	counters := metrics.New(filepath.Join(dataDir, "metrics.json"), locker, logger)
	outbox := notify.NewOutbox(filepath.Join(dataDir, "emails"), cfg.Site.BaseURL, cfg.Site.Project, logger)

	dl := downloads.NewService(orderStore, cat, diskCache, counters, downloads.Config{
		FilesDir: cfg.Storage.FilesDir,
		Pepper:   cfg.Security.Pepper,
		LinkTTL:  time.Duration(cfg.Downloads.LinkTTLSecs) * time.Second,
	}, logger)

	rec := payments.NewReconciler(orderStore, cfg.Security.Pepper,
		payments.WithMaterializer(dl),
		payments.WithNotifier(outbox),
		payments.WithLogger(logger),
	)

	httpClient := &http.Client{Timeout: time.Duration(cfg.HTTP.TimeoutSecs) * time.Second}
	providers, preOrders, err := buildProviders(cfg, httpClient, diskCache, cat, rec, logger)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	if len(names) == 0 {
		logger.Warn("no payment provider configured, webhooks will be refused")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, server.Dependencies{
		PaymentsHandler:    payments.NewHandler(payments.NewRegistry(logger, providers...), preOrders, logger),
		DownloadsHandler:   downloads.NewHandler(dl, logger),
		Ready:              readiness(dataDir, cat),
		Logger:             logger,
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	return &application{
		addr:      addr,
		server:    srv,
		sweeper:   buildCacheSweeper(diskCache, cfg.Cache, logger),
		providers: names,
	}, nil
}

// buildProviders enables each provider whose webhook secret is set.
func buildProviders(cfg *config.Config, client *http.Client, c *cache.Cache, cat *catalog.Catalog, rec *payments.Reconciler, logger *slog.Logger) ([]payments.Provider, payments.PreOrderer, error) {
	var providers []payments.Provider
	var preOrders payments.PreOrderer

	if pp := cfg.PayPal; pp.WebhookID != "" {
		if pp.ClientID == "" || pp.ClientSecret == "" {
			return nil, nil, errors.New("paypal: client id and secret are required when webhook id is set")
		}
		certs := payments.NewCertFetcher(c, client, cfg.HTTP.UserAgent, pp.CertHosts, logger)
		providers = append(providers, payments.NewPayPal(
			payments.NewPayPalVerifier(pp.WebhookID, certs),
			payments.NewPayPalClient(pp.APIURL, pp.ClientID, pp.ClientSecret, cfg.HTTP.UserAgent, client, c, logger),
			cat,
			rec,
		))
	}

	if st := cfg.Stripe; st.WebhookSecret != "" {
		if st.APIKey == "" {
			return nil, nil, errors.New("stripe: api key is required when webhook secret is set")
		}
		provider := payments.NewStripe(
			payments.NewStripeVerifier(st.WebhookSecret, time.Duration(st.ReplayWindowSecs)*time.Second),
			payments.NewStripeClient(st.APIURL, st.APIKey, client, logger),
			cat,
			rec,
			payments.StripeCheckout{PriceID: st.PriceID, SiteURL: cfg.Site.BaseURL, Project: cfg.Site.Project},
		)
		providers = append(providers, provider)
		if st.PriceID != "" {
			preOrders = provider
		}
	}

	return providers, preOrders, nil
}

func readiness(dataDir string, cat *catalog.Catalog) func(context.Context) error {
	return func(context.Context) error {
		info, err := os.Stat(dataDir)
		if err != nil {
			return fmt.Errorf("data dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("data dir %s is not a directory", dataDir)
		}
		if _, err := cat.Load(); err != nil {
			return err
		}
		return nil
	}
}
