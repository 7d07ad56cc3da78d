package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/reader-dict/website/internal/catalog"
	"github.com/reader-dict/website/internal/orders"
)

const paypalName = "paypal"

const (
	paypalPurchaseApproved      = "CHECKOUT.ORDER.APPROVED"
	paypalPurchaseCompleted     = "PAYMENT.CAPTURE.COMPLETED"
	paypalPurchaseRefunded      = "PAYMENT.CAPTURE.REFUNDED"
	paypalSubscriptionCancelled = "BILLING.SUBSCRIPTION.CANCELLED"
	paypalSubscriptionCompleted = "PAYMENT.SALE.COMPLETED"
	paypalSubscriptionCreated   = "BILLING.SUBSCRIPTION.CREATED"
	paypalSubscriptionSuspended = "BILLING.SUBSCRIPTION.SUSPENDED"
)

type paypalEvent struct {
	EventType string `json:"event_type"`
	Resource  struct {
		ID                 string `json:"id"`
		Status             string `json:"status"`
		StatusUpdateTime   string `json:"status_update_time"`
		UpdateTime         string `json:"update_time"`
		InvoiceID          string `json:"invoice_id"`
		BillingAgreementID string `json:"billing_agreement_id"`
		SupplementaryData  struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// PayPal serves purchases and subscriptions paid through PayPal.
type PayPal struct {
	*PayPalVerifier
	client  *PayPalClient
	catalog Catalog
	rec     *Reconciler
}

func NewPayPal(verifier *PayPalVerifier, client *PayPalClient, cat Catalog, rec *Reconciler) *PayPal {
	return &PayPal{PayPalVerifier: verifier, client: client, catalog: cat, rec: rec}
}

func (p *PayPal) Name() string { return paypalName }

func (p *PayPal) FetchOrder(ctx context.Context, kind orders.Kind, id string) (orders.Order, error) {
	return p.client.FetchOrder(ctx, kind, id)
}

func (p *PayPal) Handle(ctx context.Context, body []byte) (Result, error) {
	var ev paypalEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	res := ev.Resource

	switch ev.EventType {
	case paypalPurchaseCompleted, paypalSubscriptionCompleted:
		kind, id := orders.KindPurchase, res.SupplementaryData.RelatedIDs.OrderID
		if id == "" {
			kind, id = orders.KindSubscription, res.BillingAgreementID
		}
		if id == "" {
			return Result{}, fmt.Errorf("%w: %s without order reference", ErrMalformedEvent, ev.EventType)
		}
		return p.register(ctx, kind, id)

	case paypalPurchaseRefunded:
		if res.InvoiceID == "" {
			return Result{}, fmt.Errorf("%w: refund without invoice_id", ErrMalformedEvent)
		}
		when := orders.FormatTime(p.rec.Now())
		return p.rec.SetStatus(ctx, orders.KindPurchase, orders.ByInvoiceOrID(res.InvoiceID), orders.StatusRefunded, when)

	case paypalSubscriptionCancelled:
		status := strings.ToLower(res.Status)
		if status == "" {
			status = orders.StatusCancelled
		}
		return p.rec.SetStatus(ctx, orders.KindSubscription, orders.ByID(res.ID), status, res.StatusUpdateTime)

	case paypalSubscriptionSuspended:
		return p.rec.SetStatus(ctx, orders.KindSubscription, orders.ByID(res.ID), orders.StatusSuspended, res.UpdateTime)

	case paypalPurchaseApproved, paypalSubscriptionCreated:
		return infoResult("event not interesting"), nil
	}

	return p.rec.notInteresting(paypalName, ev.EventType), nil
}

func (p *PayPal) register(ctx context.Context, kind orders.Kind, id string) (Result, error) {
	return p.rec.Register(ctx, kind, id, func(ctx context.Context) (orders.Order, error) {
		o, err := p.client.FetchOrder(ctx, kind, id)
		if err != nil {
			return orders.Order{}, err
		}

		var entry catalog.Entry
		if o.IsPurchase() {
			entry, err = p.catalog.ByName(o.Dictionary)
		} else {
			entry, err = p.catalog.ByPlanID(o.PlanID)
		}
		if errors.Is(err, catalog.ErrNotFound) {
			return orders.Order{}, reject("invalid, or disabled, dictionary",
				fmt.Errorf("dictionary %q plan %q: %w", o.Dictionary, o.PlanID, err))
		}
		if err != nil {
			return orders.Order{}, err
		}

		o.Dictionary = entry.Name
		return o, nil
	})
}
