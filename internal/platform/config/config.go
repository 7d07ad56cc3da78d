package config

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Storage   StorageConfig   `koanf:"storage"`
	Security  SecurityConfig  `koanf:"security"`
	HTTP      HTTPConfig      `koanf:"http"`
	PayPal    PayPalConfig    `koanf:"paypal"`
	Stripe    StripeConfig    `koanf:"stripe"`
	Site      SiteConfig      `koanf:"site"`
	Downloads DownloadsConfig `koanf:"downloads"`
	CORS      CORSConfig      `koanf:"cors"`
	Cache     CacheConfig     `koanf:"cache"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// StorageConfig locates the on-disk state shared by every process on the host.
type StorageConfig struct {
	DataDir  string `koanf:"datadir"`
	FilesDir string `koanf:"filesdir"`
	CacheDir string `koanf:"cachedir"`
}

type SecurityConfig struct {
	// Pepper is base64-encoded in the environment; Load decodes it in place.
	Pepper string `koanf:"pepper"`
}

type HTTPConfig struct {
	TimeoutSecs int    `koanf:"timeoutsecs"`
	UserAgent   string `koanf:"useragent"`
}

type PayPalConfig struct {
	APIURL       string   `koanf:"apiurl"`
	ClientID     string   `koanf:"clientid"`
	ClientSecret string   `koanf:"clientsecret"`
	WebhookID    string   `koanf:"webhookid"`
	CertHosts    []string `koanf:"certhosts"`
}

type StripeConfig struct {
	APIURL           string `koanf:"apiurl"`
	APIKey           string `koanf:"apikey"`
	WebhookSecret    string `koanf:"webhooksecret"`
	PriceID          string `koanf:"priceid"`
	ReplayWindowSecs int    `koanf:"replaywindowsecs"`
}

type SiteConfig struct {
	BaseURL string `koanf:"baseurl"`
	Project string `koanf:"project"`
}

type DownloadsConfig struct {
	LinkTTLSecs int `koanf:"linkttlsecs"`
}

// CacheConfig drives the background purge of stale cache entries.
type CacheConfig struct {
	SweepIntervalSecs int `koanf:"sweepintervalsecs"`
	MaxAgeSecs        int `koanf:"maxagesecs"`
}

type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowedorigins"`
}

func Load(configPaths ...string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	_ = k.Load(confmap.Provider(map[string]any{
		"server.port":             1024,
		"server.host":             "0.0.0.0",
		"log.level":               "info",
		"log.format":              "json",
		"storage.datadir":         "data",
		"storage.filesdir":        "file",
		"storage.cachedir":        "cache",
		"http.timeoutsecs":        30,
		"http.useragent":          "www.reader-dict.com",
		"paypal.apiurl":           "https://api-m.paypal.com",
		"paypal.certhosts":        []string{"api.paypal.com", "api-m.paypal.com", "api.sandbox.paypal.com"},
		"stripe.apiurl":           "https://api.stripe.com",
		"stripe.replaywindowsecs": 300,
		"site.baseurl":            "https://www.reader-dict.com",
		"site.project":            "reader.dict",
		"downloads.linkttlsecs":   600,
		"cache.sweepintervalsecs": 3600,
		"cache.maxagesecs":        86400,
	}, "."), nil)

	// YAML file (optional)
	for _, path := range configPaths {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// Config file is optional, skip if not found
			continue
		}
	}

	// READERDICT_PAYPAL_CLIENTID -> paypal.clientid
	_ = k.Load(env.Provider("READERDICT_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "READERDICT_")),
			"_", ".",
		)
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if cfg.Security.Pepper != "" {
		pepper, err := base64.StdEncoding.DecodeString(cfg.Security.Pepper)
		if err != nil {
			return nil, fmt.Errorf("decoding security.pepper: %w", err)
		}
		cfg.Security.Pepper = string(pepper)
	}

	return &cfg, nil
}
