// Package notify queues messages for the store owner in the durable outbox.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/ShopPipe/internal/store"
)

// KindOwnerNotification is the outbox kind of owner-bound text messages.
const KindOwnerNotification = "owner_notification"

// Payload is the JSON body of an owner notification.
type Payload struct {
	Text string `json:"text"`
}

// Owner enqueues notifications addressed to the configured owner.
// The zero owner disables it.
type Owner struct {
	outbox store.OutboxRepo
	owner  string
}

// NewOwner returns a notifier for owner. An empty owner makes Notify a no-op.
func NewOwner(outbox store.OutboxRepo, owner string) *Owner {
	return &Owner{outbox: outbox, owner: owner}
}

// Enabled reports whether an owner is configured.
func (o *Owner) Enabled() bool {
	return o != nil && o.owner != "" && o.outbox != nil
}

// Number returns the owner identity.
func (o *Owner) Number() string {
	if o == nil {
		return ""
	}
	return o.owner
}

// Notify queues text for the owner. dedupeKey may be empty.
func (o *Owner) Notify(text, dedupeKey string) error {
	if !o.Enabled() {
		slog.Debug("Owner.Notify: no owner configured, dropping notification")
		return nil
	}
	body, err := json.Marshal(Payload{Text: text})
	if err != nil {
		return fmt.Errorf("encode owner notification: %w", err)
	}
	id, err := o.outbox.EnqueueOutboxMessage(o.owner, KindOwnerNotification, string(body), dedupeKey)
	if err != nil {
		return fmt.Errorf("enqueue owner notification: %w", err)
	}
	slog.Debug("Owner.Notify: queued", "id", id)
	return nil
}

// DecodePayload extracts the text of an owner notification.
func DecodePayload(payloadJSON string) (string, error) {
	var p Payload
	if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
		return "", fmt.Errorf("decode owner notification: %w", err)
	}
	return p.Text, nil
}
