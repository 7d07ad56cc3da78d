package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reader-dict/website/internal/orders"
)

// Reconciler applies verified provider events to the order store. It is
// shared by every provider so idempotency rules stay identical.
type Reconciler struct {
	store        *orders.Store
	materializer Materializer
	notifier     Notifier
	pepper       string
	now          func() time.Time
	logger       *slog.Logger
}

type ReconcilerOption func(*Reconciler)

func WithMaterializer(m Materializer) ReconcilerOption {
	return func(r *Reconciler) { r.materializer = m }
}

func WithNotifier(n Notifier) ReconcilerOption {
	return func(r *Reconciler) { r.notifier = n }
}

func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

func WithLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = logger }
}

func NewReconciler(store *orders.Store, pepper string, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:  store,
		pepper: pepper,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates the order id once. fetch is only called when the id
// is unknown; the existence check is repeated under the store lock so a
// concurrent duplicate delivery cannot persist a second copy.
func (r *Reconciler) Register(ctx context.Context, kind orders.Kind, id string, fetch func(context.Context) (orders.Order, error)) (Result, error) {
	exists := infoResult(fmt.Sprintf("%s ID already exists", kind))
	if _, ok := r.store.Get(id); ok {
		r.logger.Info("registration skipped, order exists", "kind", kind, "order_id", id)
		return exists, nil
	}

	o, err := fetch(ctx)
	if err != nil {
		if rej, ok := asRejection(err); ok {
			r.logger.Error("registration rejected", "kind", kind, "order_id", id, "reason", rej.Error())
			return errorResult(rej.Message), nil
		}
		return Result{}, fmt.Errorf("fetching %s %s: %w", kind, id, err)
	}
	if o.StatusUpdateTime == "" {
		o.StatusUpdateTime = orders.FormatTime(r.now())
	}

	link, err := o.DownloadLink(r.pepper)
	if err != nil {
		return Result{}, err
	}

	created, err := r.store.Insert(ctx, o)
	if err != nil {
		return Result{}, fmt.Errorf("storing order %s: %w", o.ID, err)
	}
	if !created {
		return exists, nil
	}
	r.logger.Info("order registered",
		"kind", kind,
		"order_id", o.ID,
		"source", o.Source,
		"dictionary", o.Dictionary,
		"status", o.Status,
		"status_ok", o.StatusOK(r.now()),
	)

	if o.IsPurchase() && r.materializer != nil {
		if err := r.materializer.Materialize(ctx, o); err != nil {
			r.logger.Error("purchase files not materialized", "order_id", o.ID, "error", err)
		}
	}
	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, o, link); err != nil {
			r.logger.Error("order notification failed", "order_id", o.ID, "error", err)
		}
	}

	return Result{Status: StatusOK, URL: link}, nil
}

// SetStatus moves the matched order to status. Redelivering the same
// event leaves the order, including its status time, untouched.
func (r *Reconciler) SetStatus(ctx context.Context, kind orders.Kind, match orders.Match, status, when string) (Result, error) {
	o, changed, err := r.store.Transition(ctx, match, func(o *orders.Order) bool {
		if o.Status == status {
			return false
		}
		o.Status = status
		o.StatusUpdateTime = when
		return true
	})
	if errors.Is(err, orders.ErrOrderNotFound) {
		return errorResult(fmt.Sprintf("no such %s", kind)), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("updating %s status: %w", kind, err)
	}
	if !changed {
		return infoResult(fmt.Sprintf("%s unchanged", kind)), nil
	}

	r.logger.Info("order status updated", "kind", kind, "order_id", o.ID, "status", status)
	return okResult(fmt.Sprintf("%s status updated", kind)), nil
}

// Exists reports whether an order with this id is stored.
func (r *Reconciler) Exists(id string) bool {
	_, ok := r.store.Get(id)
	return ok
}

func (r *Reconciler) Now() time.Time {
	return r.now()
}

func (r *Reconciler) notInteresting(provider, eventType string) Result {
	r.logger.Warn("webhook event not interesting", "provider", provider, "event_type", eventType)
	return infoResult("event not interesting")
}
