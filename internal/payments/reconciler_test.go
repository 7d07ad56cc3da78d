package payments_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/reader-dict/website/internal/orders"
	"github.com/reader-dict/website/internal/payments"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testOrder(id string) orders.Order {
	o := orders.New(id)
	o.Dictionary = "eo-fr"
	o.Email = "alice@example.org"
	o.Source = "paypal"
	o.Status = orders.StatusCompleted
	return o
}

func TestReconciler_ConcurrentDuplicateDeliveries(t *testing.T) {
	f := newFixture(t)

	var results [8]payments.Result
	g, ctx := errgroup.WithContext(context.Background())
	for i := range results {
		g.Go(func() error {
			res, err := f.rec.Register(ctx, orders.KindPurchase, "ORDER-1", func(context.Context) (orders.Order, error) {
				return testOrder("ORDER-1"), nil
			})
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	var created int
	for _, res := range results {
		if res.Status == payments.StatusOK {
			created++
			continue
		}
		assert.Equal(t, payments.Result{Status: payments.StatusInfo, Message: "purchase ID already exists"}, res)
	}
	assert.Equal(t, 1, created)
	assert.Len(t, f.store.LoadAll(), 1)
	assert.Equal(t, 1, f.notifier.count())
	assert.Len(t, f.materializer.ids, 1)
}

func TestReconciler_DefaultsStatusTime(t *testing.T) {
	f := newFixture(t)

	_, err := f.rec.Register(context.Background(), orders.KindPurchase, "ORDER-1", func(context.Context) (orders.Order, error) {
		return testOrder("ORDER-1"), nil
	})
	require.NoError(t, err)

	stored, _ := f.store.Get("ORDER-1")
	assert.Equal(t, orders.FormatTime(f.now), stored.StatusUpdateTime)
}

func TestReconciler_FetchErrors(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32

	_, err := f.rec.Register(context.Background(), orders.KindSubscription, "I-1", func(context.Context) (orders.Order, error) {
		calls.Add(1)
		return orders.Order{}, payments.ErrUpstream
	})
	require.ErrorIs(t, err, payments.ErrUpstream)
	assert.Empty(t, f.store.LoadAll())
	assert.Equal(t, int32(1), calls.Load())
}

func TestReconciler_NotificationFailureDoesNotFailRegistration(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("outbox full")

	res, err := f.rec.Register(context.Background(), orders.KindPurchase, "ORDER-1", func(context.Context) (orders.Order, error) {
		return testOrder("ORDER-1"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, payments.StatusOK, res.Status)
	assert.True(t, f.rec.Exists("ORDER-1"))
}

func TestReconciler_SetStatusUnchangedKeepsTime(t *testing.T) {
	f := newFixture(t)
	o := testOrder("I-1")
	o.Status = orders.StatusCancelled
	o.StatusUpdateTime = "2025-04-01T00:00:00+00:00"
	_, err := f.store.Insert(context.Background(), o)
	require.NoError(t, err)

	res, err := f.rec.SetStatus(context.Background(), orders.KindSubscription, orders.ByID("I-1"), orders.StatusCancelled, "2025-04-10T00:00:00+00:00")
	require.NoError(t, err)
	assert.Equal(t, payments.Result{Status: payments.StatusInfo, Message: "subscription unchanged"}, res)

	stored, _ := f.store.Get("I-1")
	assert.Equal(t, "2025-04-01T00:00:00+00:00", stored.StatusUpdateTime)
}
