package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/reader-dict/website/internal/platform/atomicfile"
	"github.com/reader-dict/website/internal/platform/filelock"
)

const lockName = "orders"

var ErrOrderNotFound = errors.New("order not found")

// Match picks the order a transition applies to from a freshly loaded
// snapshot of the store.
type Match func(all map[string]Order) (Order, bool)

// ByID matches the order whose primary key is id.
func ByID(id string) Match {
	return func(all map[string]Order) (Order, bool) {
		o, ok := all[id]
		return o, ok
	}
}

// ByInvoiceOrID matches on the secondary invoice key first, then falls
// back to the primary key. Refund notifications may carry either.
func ByInvoiceOrID(key string) Match {
	return func(all map[string]Order) (Order, bool) {
		if o, ok := findInvoice(all, key); ok {
			return o, true
		}
		o, ok := all[key]
		return o, ok
	}
}

// Store persists every order in a single JSON document. Every write goes
// through the "orders" advisory lock and reloads the document first.
type Store struct {
	path   string
	locker *filelock.Locker
	logger *slog.Logger
}

func NewStore(path string, locker *filelock.Locker, logger *slog.Logger) *Store {
	return &Store{path: path, locker: locker, logger: logger}
}

// LoadAll returns every persisted order. A missing or unreadable
// document yields an empty map.
func (s *Store) LoadAll() map[string]Order {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("orders file unreadable", "path", s.path, "error", err)
		}
		return map[string]Order{}
	}

	var all map[string]Order
	if err := json.Unmarshal(raw, &all); err != nil {
		s.logger.Error("orders file corrupt", "path", s.path, "error", err)
		return map[string]Order{}
	}
	if all == nil {
		return map[string]Order{}
	}
	for id, o := range all {
		if o.ID == "" {
			o.ID = id
			all[id] = o
		}
	}
	return all
}

func (s *Store) Get(id string) (Order, bool) {
	return ByID(id)(s.LoadAll())
}

func (s *Store) GetByInvoice(invoiceID string) (Order, bool) {
	return findInvoice(s.LoadAll(), invoiceID)
}

// Upsert inserts o or replaces the order with the same id.
func (s *Store) Upsert(ctx context.Context, o Order) error {
	return s.locker.With(ctx, lockName, func() error {
		all := s.LoadAll()
		all[o.ID] = o
		return s.write(all)
	})
}

// Insert stores o only when no order with its id exists yet. The
// existence check runs under the lock, so concurrent duplicate
// registrations persist exactly one order.
func (s *Store) Insert(ctx context.Context, o Order) (bool, error) {
	created := false
	err := s.locker.With(ctx, lockName, func() error {
		all := s.LoadAll()
		if _, exists := all[o.ID]; exists {
			return nil
		}
		all[o.ID] = o
		created = true
		return s.write(all)
	})
	return created, err
}

// Transition applies fn to the matched order under the lock. fn reports
// whether it changed anything; unchanged orders are not rewritten.
func (s *Store) Transition(ctx context.Context, match Match, fn func(*Order) bool) (Order, bool, error) {
	var (
		result  Order
		changed bool
	)
	err := s.locker.With(ctx, lockName, func() error {
		all := s.LoadAll()
		o, ok := match(all)
		if !ok {
			return ErrOrderNotFound
		}
		if !fn(&o) {
			result = o
			return nil
		}
		all[o.ID] = o
		if err := s.write(all); err != nil {
			return err
		}
		result, changed = o, true
		return nil
	})
	return result, changed, err
}

func (s *Store) write(all map[string]Order) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(all); err != nil {
		return fmt.Errorf("encoding orders: %w", err)
	}
	return atomicfile.Write(s.path, buf.Bytes())
}

func findInvoice(all map[string]Order, invoiceID string) (Order, bool) {
	if invoiceID == "" {
		return Order{}, false
	}
	for _, o := range all {
		if o.InvoiceID == invoiceID {
			return o, true
		}
	}
	return Order{}, false
}
