// Package notify queues customer notifications as message files picked up
// by the mail relay.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/reader-dict/website/internal/orders"
	"github.com/reader-dict/website/internal/platform/atomicfile"
)

var ErrNoRecipient = errors.New("order has no email address")

// Message is the outbox file format.
type Message struct {
	To      string `json:"to"`
	Name    string `json:"name,omitempty"`
	Locale  string `json:"locale,omitempty"`
	Subject string `json:"subject"`
	Link    string `json:"link"`
	OrderID string `json:"order_id"`
	Kind    string `json:"kind"`
	Queued  string `json:"queued"`
}

// Outbox writes one "<order id>.json" message per notification.
type Outbox struct {
	dir     string
	siteURL string
	project string
	now     func() time.Time
	logger  *slog.Logger
}

func NewOutbox(dir, siteURL, project string, logger *slog.Logger) *Outbox {
	return &Outbox{
		dir:     dir,
		siteURL: strings.TrimRight(siteURL, "/"),
		project: project,
		now:     time.Now,
		logger:  logger,
	}
}

// Notify queues the download link for o. Queuing the same order again
// replaces the previous message.
func (b *Outbox) Notify(_ context.Context, o orders.Order, link string) error {
	if o.Email == "" {
		b.logger.Error("notification skipped, no recipient", "order_id", o.ID)
		return fmt.Errorf("%w: %s", ErrNoRecipient, o.ID)
	}

	msg := Message{
		To:      o.Email,
		Name:    o.User,
		Locale:  o.Locale,
		Subject: fmt.Sprintf("%s: your %s dictionary", b.project, strings.ToUpper(o.TargetDictionary())),
		Link:    b.siteURL + "/" + strings.TrimLeft(link, "/"),
		OrderID: o.ID,
		Kind:    string(o.Type()),
		Queued:  orders.FormatTime(b.now()),
	}
	raw, err := json.MarshalIndent(msg, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	if err := atomicfile.Write(b.path(o.ID), raw); err != nil {
		return fmt.Errorf("queuing message: %w", err)
	}

	b.logger.Info("notification queued", "order_id", o.ID, "kind", msg.Kind)
	return nil
}

// Pending returns the queued messages sorted by file name.
func (b *Outbox) Pending() ([]Message, error) {
	paths, err := filepath.Glob(filepath.Join(b.dir, "*.json"))
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(paths))
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			b.logger.Warn("skipping unreadable message", "path", path, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (b *Outbox) path(orderID string) string {
	return filepath.Join(b.dir, filepath.Base(orderID)+".json")
}
