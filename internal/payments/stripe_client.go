package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
)

// StripeClient reads and creates checkout sessions through a per-instance
// stripe-go client bound to apiURL.
type StripeClient struct {
	sc *stripe.Client
}

// NewStripeClient disables the SDK's own retries: a failed call fails the
// webhook and Stripe redelivers it.
func NewStripeClient(apiURL, apiKey string, client *http.Client, logger *slog.Logger) *StripeClient {
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		HTTPClient:        client,
		URL:               stripe.String(strings.TrimRight(apiURL, "/")),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     stripeLogger{logger},
	})
	return &StripeClient{sc: stripe.NewClient(apiKey, stripe.WithBackends(backends))}
}

func (c *StripeClient) CheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	session, err := c.sc.V1CheckoutSessions.Retrieve(ctx, id, nil)
	if err != nil {
		return nil, stripeError("retrieving checkout session "+id, err)
	}
	return session, nil
}

func (c *StripeClient) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	session, err := c.sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, stripeError("creating checkout session", err)
	}
	return session, nil
}

// stripeError maps SDK failures onto the package sentinels.
func stripeError(op string, err error) error {
	var apiErr *stripe.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s: %v", ErrUpstream, op, err)
	}
	sentinel := ErrUpstream
	if apiErr.HTTPStatusCode == http.StatusUnauthorized {
		sentinel = ErrUnauthorized
	}
	return fmt.Errorf("%w: %s: status %d: %s", sentinel, op, apiErr.HTTPStatusCode, apiErr.Msg)
}

// stripeLogger routes SDK logging into slog.
type stripeLogger struct {
	logger *slog.Logger
}

func (l stripeLogger) Debugf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...), "component", "stripe-go")
}

func (l stripeLogger) Infof(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...), "component", "stripe-go")
}

func (l stripeLogger) Warnf(format string, v ...any) {
	l.logger.Warn(fmt.Sprintf(format, v...), "component", "stripe-go")
}

func (l stripeLogger) Errorf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...), "component", "stripe-go")
}
