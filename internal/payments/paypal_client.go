package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/reader-dict/website/internal/cache"
	"github.com/reader-dict/website/internal/orders"
)

const paypalTokenKey = "paypal-access-token"

// PayPalClient talks to the PayPal REST API with a client-credentials
// bearer token kept in the keyed cache.
type PayPalClient struct {
	apiURL       string
	clientID     string
	clientSecret string
	userAgent    string
	http         *http.Client
	tokens       *cache.Cache
	logger       *slog.Logger
}

func NewPayPalClient(apiURL, clientID, clientSecret, userAgent string, client *http.Client, tokens *cache.Cache, logger *slog.Logger) *PayPalClient {
	return &PayPalClient{
		apiURL:       strings.TrimRight(apiURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		userAgent:    userAgent,
		http:         client,
		tokens:       tokens,
		logger:       logger,
	}
}

type paypalPurchase struct {
	Status     string `json:"status"`
	UpdateTime string `json:"update_time"`
	Payer      struct {
		EmailAddress string `json:"email_address"`
		Name         struct {
			GivenName string `json:"given_name"`
		} `json:"name"`
	} `json:"payer"`
	PurchaseUnits []struct {
		Items []struct {
			SKU string `json:"sku"`
		} `json:"items"`
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type paypalSubscription struct {
	Status           string `json:"status"`
	StatusUpdateTime string `json:"status_update_time"`
	PlanID           string `json:"plan_id"`
	Subscriber       struct {
		EmailAddress string `json:"email_address"`
		Name         struct {
			GivenName string `json:"given_name"`
		} `json:"name"`
	} `json:"subscriber"`
}

// FetchOrder reads the authoritative purchase or subscription.
func (c *PayPalClient) FetchOrder(ctx context.Context, kind orders.Kind, id string) (orders.Order, error) {
	o := orders.New(id)
	o.Source = paypalName

	switch kind {
	case orders.KindPurchase:
		var p paypalPurchase
		if err := c.getJSON(ctx, "/v2/checkout/orders/"+url.PathEscape(id), &p); err != nil {
			return orders.Order{}, err
		}
		if len(p.PurchaseUnits) == 0 || len(p.PurchaseUnits[0].Payments.Captures) == 0 || len(p.PurchaseUnits[0].Items) == 0 {
			return orders.Order{}, fmt.Errorf("%w: purchase %s has no item or capture", ErrUpstream, id)
		}
		unit := p.PurchaseUnits[0]
		o.Email = p.Payer.EmailAddress
		o.InvoiceID = unit.Payments.Captures[0].ID
		o.User = p.Payer.Name.GivenName
		o.Dictionary = unit.Items[0].SKU
		o.StatusUpdateTime = p.UpdateTime
		o.Status = p.Status
		// The order status lags behind its capture status.
		if p.Status == "COMPLETED" {
			o.Status = unit.Payments.Captures[0].Status
		}
		o.Status = strings.ToLower(o.Status)

	case orders.KindSubscription:
		var s paypalSubscription
		if err := c.getJSON(ctx, "/v1/billing/subscriptions/"+url.PathEscape(id), &s); err != nil {
			return orders.Order{}, err
		}
		o.Email = s.Subscriber.EmailAddress
		o.PlanID = s.PlanID
		o.Status = strings.ToLower(s.Status)
		o.StatusUpdateTime = s.StatusUpdateTime
		o.User = s.Subscriber.Name.GivenName

	default:
		return orders.Order{}, fmt.Errorf("unsupported order kind %q", kind)
	}

	c.logger.Info("paypal order fetched", "kind", kind, "order_id", o.ID, "status", o.Status)
	return o, nil
}

// getJSON retries exactly once with a fresh token when the cached one
// is rejected.
func (c *PayPalClient) getJSON(ctx context.Context, path string, out any) error {
	for attempt := 0; ; attempt++ {
		token, err := c.accessToken(ctx)
		if err != nil {
			return err
		}
		err = c.get(ctx, path, token, out)
		if errors.Is(err, ErrUnauthorized) && attempt == 0 {
			c.logger.Debug("paypal access token expired, requesting a new one")
			if err := c.tokens.Delete(paypalTokenKey); err != nil {
				return err
			}
			continue
		}
		return err
	}
}

func (c *PayPalClient) get(ctx context.Context, path, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrUpstream, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: GET %s", ErrUnauthorized, path)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: GET %s: status %d", ErrUpstream, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrUpstream, path, err)
	}
	return nil
}

func (c *PayPalClient) accessToken(ctx context.Context) (string, error) {
	token, err := c.tokens.GetKey(paypalTokenKey)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/v1/oauth2/token", strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token exchange: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", fmt.Errorf("%w: token exchange", ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: token exchange: status %d", ErrUpstream, resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.AccessToken == "" {
		return "", fmt.Errorf("%w: token exchange returned no access token", ErrUpstream)
	}
	if err := c.tokens.PutKey(paypalTokenKey, body.AccessToken); err != nil {
		return "", err
	}
	c.logger.Debug("paypal access token acquired")
	return body.AccessToken, nil
}
