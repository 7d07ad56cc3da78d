package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/reader-dict/website/internal/catalog"
	"github.com/reader-dict/website/internal/orders"
	"github.com/stripe/stripe-go/v82"
)

const stripeName = "stripe"

// StripeCheckout configures the checkout sessions created for pre-orders.
type StripeCheckout struct {
	PriceID string
	SiteURL string
	Project string
}

// Stripe serves one-time purchases paid through Stripe Checkout.
type Stripe struct {
	*StripeVerifier
	client   *StripeClient
	catalog  Catalog
	rec      *Reconciler
	checkout StripeCheckout
}

func NewStripe(verifier *StripeVerifier, client *StripeClient, cat Catalog, rec *Reconciler, checkout StripeCheckout) *Stripe {
	checkout.SiteURL = strings.TrimRight(checkout.SiteURL, "/")
	return &Stripe{StripeVerifier: verifier, client: client, catalog: cat, rec: rec, checkout: checkout}
}

func (s *Stripe) Name() string { return stripeName }

func (s *Stripe) Handle(ctx context.Context, body []byte) (Result, error) {
	var ev stripe.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Data == nil {
		return Result{}, fmt.Errorf("%w: event without data", ErrMalformedEvent)
	}

	switch ev.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &session); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		orderID := paymentIntentID(session.PaymentIntent)
		if orderID == "" || session.ID == "" {
			return Result{}, fmt.Errorf("%w: checkout session without payment intent", ErrMalformedEvent)
		}
		return s.rec.Register(ctx, orders.KindPurchase, orderID, func(ctx context.Context) (orders.Order, error) {
			o, err := s.FetchOrder(ctx, orders.KindPurchase, session.ID)
			if err != nil {
				return orders.Order{}, err
			}
			// The session may have been altered between the event and the fetch.
			if o.ID != orderID {
				return orders.Order{}, reject("order ID mismatch", fmt.Errorf("%q != %q", o.ID, orderID))
			}
			return o, nil
		})

	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(ev.Data.Raw, &charge); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		orderID := paymentIntentID(charge.PaymentIntent)
		if !s.rec.Exists(orderID) {
			return errorResult("no such purchase"), nil
		}
		if !charge.Refunded || !charge.Captured || !charge.Paid {
			return infoResult("purchase unchanged"), nil
		}
		when := orders.FormatTime(time.Unix(charge.Created, 0))
		return s.rec.SetStatus(ctx, orders.KindPurchase, orders.ByID(orderID), orders.StatusRefunded, when)
	}

	return s.rec.notInteresting(stripeName, string(ev.Type)), nil
}

// FetchOrder reads the checkout session sessionID; Stripe orders are
// keyed by the session's payment intent.
func (s *Stripe) FetchOrder(ctx context.Context, _ orders.Kind, sessionID string) (orders.Order, error) {
	session, err := s.client.CheckoutSession(ctx, sessionID)
	if err != nil {
		return orders.Order{}, err
	}

	clientID, dictionary, err := s.parseReference(session.ClientReferenceID)
	if err != nil {
		return orders.Order{}, err
	}

	o := orders.Order{
		ID:               paymentIntentID(session.PaymentIntent),
		Dictionary:       dictionary,
		Email:            session.CustomerEmail,
		Source:           stripeName,
		Status:           stripeStatus(session),
		StatusUpdateTime: orders.FormatTime(time.Unix(session.Created, 0)),
		ULID:             clientID,
	}
	if d := session.CustomerDetails; d != nil {
		if o.Email == "" {
			o.Email = d.Email
		}
		o.User, _, _ = strings.Cut(d.Name, " ")
	}
	return o, nil
}

// parseReference splits "ULID-src-dst", the reference attached to the
// session by PreOrder.
func (s *Stripe) parseReference(reference string) (string, string, error) {
	invalid := func(cause error) error {
		return reject("invalid client reference", fmt.Errorf("%w %q: %v", ErrInvalidReference, reference, cause))
	}

	if strings.Count(reference, "-") != 2 {
		return "", "", invalid(errors.New("want ULID-src-dst"))
	}
	clientID, dictionary, _ := strings.Cut(reference, "-")
	if _, err := ulid.ParseStrict(clientID); err != nil {
		return "", "", invalid(err)
	}
	if _, err := s.catalog.ByName(dictionary); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return "", "", invalid(err)
		}
		return "", "", err
	}
	return clientID, dictionary, nil
}

// PreOrder opens a checkout session for the src-dst dictionary and
// returns the hosted payment page URL.
func (s *Stripe) PreOrder(ctx context.Context, src, dst string) (string, error) {
	dictionary := src + "-" + dst
	if _, err := s.catalog.ByName(dictionary); err != nil {
		return "", err
	}
	reference := ulid.Make().String() + "-" + dictionary

	params := &stripe.CheckoutSessionCreateParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.checkout.SiteURL + "/enjoy"),
		CancelURL:         stripe.String(s.checkout.SiteURL + "/#" + dictionary),
		ClientReferenceID: stripe.String(reference),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{Price: stripe.String(s.checkout.PriceID), Quantity: stripe.Int64(1)},
		},
		CustomFields: []*stripe.CheckoutSessionCreateCustomFieldParams{
			{
				Key: stripe.String("dictionary"),
				Label: &stripe.CheckoutSessionCreateCustomFieldLabelParams{
					Type:   stripe.String("custom"),
					Custom: stripe.String(s.checkout.Project),
				},
				Type: stripe.String("text"),
				Text: &stripe.CheckoutSessionCreateCustomFieldTextParams{
					DefaultValue: stripe.String(dictionary),
				},
			},
		},
	}

	session, err := s.client.CreateCheckoutSession(ctx, params)
	if err != nil {
		return "", err
	}
	s.rec.logger.Info("stripe checkout session created", "client_reference_id", reference)
	return session.URL, nil
}

func stripeStatus(session *stripe.CheckoutSession) string {
	if session.Mode == stripe.CheckoutSessionModePayment &&
		session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid &&
		session.Status == stripe.CheckoutSessionStatusComplete {
		return orders.StatusCompleted
	}
	return orders.StatusFailed
}

func paymentIntentID(pi *stripe.PaymentIntent) string {
	if pi == nil {
		return ""
	}
	return pi.ID
}
