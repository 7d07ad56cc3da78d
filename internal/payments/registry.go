package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Registry is the fixed provider lookup table built at startup.
type Registry struct {
	providers map[string]Provider
	now       func() time.Time
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger, providers ...Provider) *Registry {
	r := &Registry{
		providers: make(map[string]Provider, len(providers)),
		now:       time.Now,
		logger:    logger,
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Lookup(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Dispatch verifies and handles one notification. A failed verification
// is acknowledged with an error result and never touches any state. A
// verification that could not run because a provider endpoint failed is
// returned as an error so the delivery is retried.
func (r *Registry) Dispatch(ctx context.Context, name string, headers http.Header, body []byte) (Result, error) {
	p, err := r.Lookup(name)
	if err != nil {
		return Result{}, err
	}

	if err := p.Verify(ctx, headers, body, r.now()); err != nil {
		if errors.Is(err, ErrUpstream) {
			return Result{}, fmt.Errorf("verifying %s webhook: %w", name, err)
		}
		r.logger.Error("webhook signature failed", "provider", name, "error", err)
		return signatureFailed, nil
	}

	res, err := p.Handle(ctx, body)
	if err != nil {
		return Result{}, err
	}
	r.logger.Info("webhook handled", "provider", name, "status", res.Status, "message", res.Message)
	return res, nil
}
