package messaging

import (
	"context"
	"fmt"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/notify"
	"github.com/BTreeMap/ShopPipe/internal/store"
)

// OutboxDelivery returns the send function used by store.OutboxSender.
// Errors are returned so the sender can back off and retry.
func OutboxDelivery(sender ReplySender) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		switch msg.Kind {
		case notify.KindOwnerNotification:
			text, err := notify.DecodePayload(msg.PayloadJSON)
			if err != nil {
				return err
			}
			return sender.SendReply(ctx, msg.RecipientID, models.Text(text))
		default:
			return fmt.Errorf("unknown outbox kind %q", msg.Kind)
		}
	}
}
