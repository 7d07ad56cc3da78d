// Package orders holds the purchase and subscription records and the
// file-backed store they live in.
package orders

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type Kind string

const (
	KindPurchase     Kind = "purchase"
	KindSubscription Kind = "subscription"
)

const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRefunded  = "refunded"
	StatusSuspended = "suspended"
)

// TimeLayout is the layout of Order.StatusUpdateTime as written by this
// service. Provider timestamps in RFC 3339 form are accepted as-is.
const TimeLayout = "2006-01-02T15:04:05-07:00"

// OneMonth is how long a non-active subscription keeps download access
// after its last status change.
const OneMonth = time.Duration(365.25 / 12 * 24 * float64(time.Hour))

// Order is a purchase (PlanID empty) or a subscription (PlanID set).
// Fields are declared in key order so the persisted JSON is sorted.
type Order struct {
	Dictionary         string `json:"dictionary,omitempty"`
	DictionaryOverride string `json:"dictionary_override,omitempty"`
	Email              string `json:"email,omitempty"`
	ID                 string `json:"id,omitempty"`
	InvoiceID          string `json:"invoice_id,omitempty"`
	Locale             string `json:"locale,omitempty"`
	PlanID             string `json:"plan_id,omitempty"`
	Source             string `json:"source,omitempty"`
	Status             string `json:"status,omitempty"`
	StatusUpdateTime   string `json:"status_update_time,omitempty"`
	ULID               string `json:"ulid,omitempty"`
	User               string `json:"user,omitempty"`
}

// New returns an order with a freshly generated ULID.
func New(id string) Order {
	return Order{ID: id, ULID: ulid.Make().String()}
}

func (o Order) Type() Kind {
	if o.PlanID != "" {
		return KindSubscription
	}
	return KindPurchase
}

func (o Order) IsPurchase() bool {
	return o.Type() == KindPurchase
}

// TargetDictionary is the dictionary the customer may download: the
// operator override when set, the purchased one otherwise.
func (o Order) TargetDictionary() string {
	if o.DictionaryOverride != "" {
		return o.DictionaryOverride
	}
	return o.Dictionary
}

func (o Order) LangSrc() string {
	src, _, _ := strings.Cut(o.TargetDictionary(), "-")
	return src
}

func (o Order) LangDst() string {
	_, dst, _ := strings.Cut(o.TargetDictionary(), "-")
	return dst
}

// StatusOK reports whether the order currently grants download access.
func (o Order) StatusOK(now time.Time) bool {
	if o.IsPurchase() {
		return o.Status == StatusCompleted
	}
	if o.Status == StatusActive {
		return true
	}

	changed, err := ParseTime(o.StatusUpdateTime)
	if err != nil {
		return false
	}
	return OneMonth-now.Sub(changed) > 0
}

// Equal compares every field except ULID, which is salt material and not
// part of the order's identity.
func (o Order) Equal(other Order) bool {
	o.ULID, other.ULID = "", ""
	return o == other
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
