package orders_test

import (
	"testing"
	"time"

	"github.com/reader-dict/website/internal/orders"
	"github.com/stretchr/testify/assert"
)

func TestOrder_Type(t *testing.T) {
	purchase := orders.Order{ID: "4Y574543DL4671844", Dictionary: "eo-fr"}
	subscription := orders.Order{ID: "I-YSW93404E5CF", PlanID: "P-8TK09370UE116905RM7X56CQ"}

	assert.Equal(t, orders.KindPurchase, purchase.Type())
	assert.True(t, purchase.IsPurchase())
	assert.Equal(t, orders.KindSubscription, subscription.Type())
	assert.False(t, subscription.IsPurchase())
}

func TestOrder_TargetDictionary(t *testing.T) {
	o := orders.Order{ID: "some-id", Dictionary: "eo-fr"}
	assert.Equal(t, "eo-fr", o.TargetDictionary())
	assert.Equal(t, "eo", o.LangSrc())
	assert.Equal(t, "fr", o.LangDst())

	o.DictionaryOverride = "eo-eo"
	assert.Equal(t, "eo-eo", o.TargetDictionary())
	assert.Equal(t, "eo", o.LangDst())
}

func TestOrder_StatusOK_Purchase(t *testing.T) {
	now := time.Now()
	assert.True(t, orders.Order{Status: orders.StatusCompleted}.StatusOK(now))
	assert.False(t, orders.Order{Status: orders.StatusRefunded}.StatusOK(now))
	assert.False(t, orders.Order{Status: "pending"}.StatusOK(now))
}

func TestOrder_StatusOK_SubscriptionGraceWindow(t *testing.T) {
	now := time.Date(2025, 4, 14, 17, 2, 31, 0, time.UTC)

	tests := []struct {
		name   string
		order  orders.Order
		wantOK bool
	}{
		{
			name:   "active regardless of time",
			order:  orders.Order{PlanID: "plan-id", Status: orders.StatusActive, StatusUpdateTime: "2020-01-01T00:00:00Z"},
			wantOK: true,
		},
		{
			name:   "cancelled just now",
			order:  orders.Order{PlanID: "plan-id", Status: orders.StatusCancelled, StatusUpdateTime: "2025-04-14T17:02:31Z"},
			wantOK: true,
		},
		{
			name:   "suspended within a month",
			order:  orders.Order{PlanID: "plan-id", Status: orders.StatusSuspended, StatusUpdateTime: "2025-03-20T10:00:00+00:00"},
			wantOK: true,
		},
		{
			name:   "cancelled two months ago",
			order:  orders.Order{PlanID: "plan-id", Status: orders.StatusCancelled, StatusUpdateTime: "2025-02-14T17:02:31Z"},
			wantOK: false,
		},
		{
			name:   "exactly one month elapsed",
			order:  orders.Order{PlanID: "plan-id", Status: orders.StatusCancelled, StatusUpdateTime: orders.FormatTime(now.Add(-orders.OneMonth))},
			wantOK: false,
		},
		{
			name:   "unparsable timestamp",
			order:  orders.Order{PlanID: "plan-id", Status: orders.StatusCancelled, StatusUpdateTime: "yesterday"},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantOK, tt.order.StatusOK(now))
		})
	}
}

func TestOrder_EqualIgnoresULID(t *testing.T) {
	a := orders.New("some-id")
	b := orders.New("some-id")

	assert.NotEqual(t, a.ULID, b.ULID)
	assert.True(t, a.Equal(b))

	b.Status = orders.StatusRefunded
	assert.False(t, a.Equal(b))
}

func TestFormatTime(t *testing.T) {
	ts := time.Date(2025, 9, 18, 11, 19, 16, 0, time.FixedZone("CEST", 2*3600))
	assert.Equal(t, "2025-09-18T09:19:16+00:00", orders.FormatTime(ts))

	parsed, err := orders.ParseTime("2025-09-18T09:19:16+00:00")
	assert.NoError(t, err)
	assert.True(t, parsed.Equal(ts))
}
