package payments

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/reader-dict/website/internal/cache"
)

const (
	paypalTransmissionIDHeader   = "Paypal-Transmission-Id"
	paypalTransmissionTimeHeader = "Paypal-Transmission-Time"
	paypalTransmissionSigHeader  = "Paypal-Transmission-Sig"
	paypalCertURLHeader          = "Paypal-Cert-Url"
)

// CertFetcher downloads provider signing certificates and keeps them in
// the keyed cache, where they stay until evicted explicitly.
type CertFetcher struct {
	cache        *cache.Cache
	client       *http.Client
	userAgent    string
	allowedHosts map[string]bool
	logger       *slog.Logger
}

// NewCertFetcher creates a fetcher. When allowedHosts is non-empty only
// https URLs on those hosts are fetched.
func NewCertFetcher(c *cache.Cache, client *http.Client, userAgent string, allowedHosts []string, logger *slog.Logger) *CertFetcher {
	allowed := make(map[string]bool, len(allowedHosts))
	for _, h := range allowedHosts {
		allowed[h] = true
	}
	return &CertFetcher{cache: c, client: client, userAgent: userAgent, allowedHosts: allowed, logger: logger}
}

// PublicKey returns the RSA key of the certificate published at rawURL.
// Only certificates that parse are cached; an unusable cached copy is
// dropped and downloaded again.
func (f *CertFetcher) PublicKey(ctx context.Context, rawURL string) (*rsa.PublicKey, error) {
	if err := f.checkURL(rawURL); err != nil {
		return nil, err
	}

	certPEM, err := f.cache.GetKey(rawURL)
	switch {
	case err == nil:
		pub, err := parseRSACertificate(certPEM)
		if err == nil {
			return pub, nil
		}
		f.logger.Warn("cached paypal certificate unusable", "url", rawURL, "error", err)
		if err := f.cache.Delete(rawURL); err != nil {
			return nil, err
		}
	case errors.Is(err, cache.ErrMiss):
		f.logger.Info("paypal certificate not in cache", "url", rawURL)
	default:
		return nil, err
	}

	certPEM, err = f.download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	pub, err := parseRSACertificate(certPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrUpstream, rawURL, err)
	}
	if err := f.cache.PutKey(rawURL, certPEM); err != nil {
		return nil, err
	}
	return pub, nil
}

func (f *CertFetcher) checkURL(rawURL string) error {
	if len(f.allowedHosts) == 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUntrustedCertURL, err)
	}
	if u.Scheme != "https" || !f.allowedHosts[u.Hostname()] {
		return fmt.Errorf("%w: %s", ErrUntrustedCertURL, rawURL)
	}
	return nil
}

func (f *CertFetcher) download(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: GET %s: %v", ErrUpstream, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: GET %s: status %d", ErrUpstream, rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading certificate: %w", err)
	}
	return string(body), nil
}

func parseRSACertificate(certPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, errors.New("certificate is not PEM encoded")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate key is %T, want RSA", cert.PublicKey)
	}
	return pub, nil
}

// PayPalVerifier checks the RSA-SHA256 transmission signature PayPal puts
// on every webhook delivery.
type PayPalVerifier struct {
	webhookID string
	certs     *CertFetcher
}

func NewPayPalVerifier(webhookID string, certs *CertFetcher) *PayPalVerifier {
	return &PayPalVerifier{webhookID: webhookID, certs: certs}
}

// Verify signs "transmission_id|transmission_time|webhook_id|crc32(body)".
// PayPal deliveries carry no replay window.
func (v *PayPalVerifier) Verify(ctx context.Context, headers http.Header, body []byte, _ time.Time) error {
	transmissionID := headers.Get(paypalTransmissionIDHeader)
	signature := headers.Get(paypalTransmissionSigHeader)
	certURL := headers.Get(paypalCertURLHeader)
	if transmissionID == "" || signature == "" || certURL == "" {
		return ErrMissingSignature
	}
	transmissionTime := headers.Get(paypalTransmissionTimeHeader)
	if transmissionTime == "" {
		return ErrInvalidTimestamp
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	pub, err := v.certs.PublicKey(ctx, certURL)
	if err != nil {
		return fmt.Errorf("loading paypal certificate: %w", err)
	}

	message := fmt.Sprintf("%s|%s|%s|%d", transmissionID, transmissionTime, v.webhookID, crc32.ChecksumIEEE(body))
	digest := sha256.Sum256([]byte(message))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return ErrInvalidSignature
	}
	return nil
}
