package payments_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"hash/crc32"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/reader-dict/website/internal/cache"
	"github.com/reader-dict/website/internal/catalog"
	"github.com/reader-dict/website/internal/orders"
	"github.com/reader-dict/website/internal/payments"
	"github.com/reader-dict/website/internal/platform/filelock"
	"github.com/reader-dict/website/internal/platform/telemetry"
	"github.com/stretchr/testify/require"
)

const (
	testPepper    = "Red Hot Chili Peppers"
	testWebhookID = "WH-TEST-WEBHOOK-ID"
	testPlanID    = "P-8TK09370UE116905RM7X56CQ"
)

const catalogFixture = `{
    "eo": {
        "eo": {"enabled": true, "formats": "df,dictorg,kobo,mobi,stardict", "plan_id": "P-7DD30896GS809593MM735GMI", "uid": "01JRG0YZ81APV0ZTCNTHXYSRK9", "updated": "2025-04-01", "words": 17066},
        "fr": {"enabled": true, "formats": "df,dictorg,kobo,mobi,stardict", "plan_id": "P-8TK09370UE116905RM7X56CQ", "uid": "01JR0WGRVP18RTFN6K57W42ZAX", "updated": "2025-04-04", "words": 151150},
        "de": {"enabled": false, "formats": "kobo", "plan_id": "P-DISABLED", "uid": "01JR0WGRVP18RTFN6K57W42ZAY", "updated": "2025-04-04", "words": 12}
    }
}`

type recordingNotifier struct {
	mu    sync.Mutex
	links map[string]string
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, o orders.Order, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.links == nil {
		n.links = map[string]string{}
	}
	n.links[o.ID] = link
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.links)
}

type recordingMaterializer struct {
	mu  sync.Mutex
	ids []string
}

func (m *recordingMaterializer) Materialize(_ context.Context, o orders.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, o.ID)
	return nil
}

type fixture struct {
	dir          string
	ordersPath   string
	store        *orders.Store
	catalog      *catalog.Catalog
	cache        *cache.Cache
	notifier     *recordingNotifier
	materializer *recordingMaterializer
	rec          *payments.Reconciler
	now          time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	catalogPath := filepath.Join(dir, "data", "dictionary.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(catalogPath), 0o755))
	require.NoError(t, os.WriteFile(catalogPath, []byte(catalogFixture), 0o600))

	f := &fixture{
		dir:          dir,
		ordersPath:   filepath.Join(dir, "data", "orders.json"),
		catalog:      catalog.New(catalogPath),
		cache:        cache.New(filepath.Join(dir, "cache")),
		notifier:     &recordingNotifier{},
		materializer: &recordingMaterializer{},
		now:          time.Date(2025, 4, 14, 17, 2, 31, 0, time.UTC),
	}
	f.store = orders.NewStore(f.ordersPath, filelock.New(filepath.Join(dir, "cache")), telemetry.Discard())
	f.rec = payments.NewReconciler(f.store, testPepper,
		payments.WithNotifier(f.notifier),
		payments.WithMaterializer(f.materializer),
		payments.WithClock(func() time.Time { return f.now }),
		payments.WithLogger(telemetry.Discard()),
	)
	return f
}

func (f *fixture) ordersFile(t *testing.T) []byte {
	t.Helper()
	raw, err := os.ReadFile(f.ordersPath)
	require.NoError(t, err)
	return raw
}

type signingCert struct {
	key *rsa.PrivateKey
	pem []byte
}

func newSigningCert(t *testing.T) *signingCert {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "messageverificationcerts.paypal.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return &signingCert{key: key, pem: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})}
}

// headers signs body the way PayPal does for a delivery to testWebhookID.
func (c *signingCert) headers(t *testing.T, certURL string, body []byte) http.Header {
	t.Helper()
	transmissionID := "69cd13f0-d67a-11e5-baa3-778b53f4ae55"
	transmissionTime := "2025-04-14T17:02:31Z"
	message := fmt.Sprintf("%s|%s|%s|%d", transmissionID, transmissionTime, testWebhookID, crc32.ChecksumIEEE(body))
	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPKCS1v15(rand.Reader, c.key, crypto.SHA256, digest[:])
	require.NoError(t, err)

	h := make(http.Header)
	h.Set("Paypal-Transmission-Id", transmissionID)
	h.Set("Paypal-Transmission-Time", transmissionTime)
	h.Set("Paypal-Transmission-Sig", base64.StdEncoding.EncodeToString(sig))
	h.Set("Paypal-Cert-Url", certURL)
	h.Set("Paypal-Auth-Algo", "SHA256withRSA")
	return h
}
