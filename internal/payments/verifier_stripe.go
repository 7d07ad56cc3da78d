package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

const stripeSignatureHeader = "Stripe-Signature"

// StripeVerifier checks the HMAC-SHA256 "t=...,v1=..." signature header.
type StripeVerifier struct {
	secret  string
	maxSkew time.Duration
}

// NewStripeVerifier creates a verifier. A zero maxSkew accepts any
// signature timestamp.
func NewStripeVerifier(secret string, maxSkew time.Duration) *StripeVerifier {
	return &StripeVerifier{secret: secret, maxSkew: maxSkew}
}

func (v *StripeVerifier) Verify(_ context.Context, headers http.Header, body []byte, now time.Time) error {
	header := headers.Get(stripeSignatureHeader)
	if header == "" {
		return ErrMissingSignature
	}

	if v.maxSkew > 0 {
		signedAt, err := stripeSignatureTime(header)
		if err != nil {
			return err
		}
		if now.Sub(signedAt) > v.maxSkew || signedAt.Sub(now) > v.maxSkew {
			return ErrTimestampExpired
		}
	}

	err := webhook.ValidatePayloadIgnoringTolerance(body, header, v.secret)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, webhook.ErrNotSigned):
		return ErrMissingSignature
	case errors.Is(err, webhook.ErrInvalidHeader):
		return fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	default:
		return ErrInvalidSignature
	}
}

func stripeSignatureTime(header string) (time.Time, error) {
	for _, pair := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || key != "t" {
			continue
		}
		ts, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
		}
		return time.Unix(ts, 0), nil
	}
	return time.Time{}, ErrInvalidTimestamp
}
