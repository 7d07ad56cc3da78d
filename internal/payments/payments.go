// Package payments verifies provider webhook notifications and reconciles
// them into order state transitions.
package payments

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/reader-dict/website/internal/catalog"
	"github.com/reader-dict/website/internal/orders"
)

var (
	ErrMissingSignature = errors.New("signature header is required")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidTimestamp = errors.New("invalid signature timestamp")
	ErrTimestampExpired = errors.New("signature timestamp outside allowed skew")
	ErrUntrustedCertURL = errors.New("certificate url is not trusted")
)

var (
	ErrUnknownProvider  = errors.New("unknown payment provider")
	ErrMalformedEvent   = errors.New("malformed webhook event")
	ErrInvalidReference = errors.New("invalid client reference")
	ErrUnauthorized     = errors.New("provider rejected credentials")
	ErrUpstream         = errors.New("provider request failed")
)

// Verifier validates the authenticity of an inbound notification.
type Verifier interface {
	Verify(ctx context.Context, headers http.Header, body []byte, now time.Time) error
}

// Provider bundles everything needed to serve one payment provider.
type Provider interface {
	Verifier
	Name() string
	Handle(ctx context.Context, body []byte) (Result, error)
	FetchOrder(ctx context.Context, kind orders.Kind, id string) (orders.Order, error)
}

// Materializer freezes the files of a freshly registered purchase.
type Materializer interface {
	Materialize(ctx context.Context, o orders.Order) error
}

// Notifier tells the customer where to download their dictionary.
type Notifier interface {
	Notify(ctx context.Context, o orders.Order, link string) error
}

// Catalog validates the dictionaries named by provider orders.
type Catalog interface {
	ByName(name string) (catalog.Entry, error)
	ByPlanID(planID string) (catalog.Entry, error)
}
