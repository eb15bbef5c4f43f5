package handler

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/domain"
)

const MailQueue = "email_queue"

// publishMail queues msg for the mail worker. It outlives the request so a
// client disconnecting after a commit does not drop the notification.
func (h *Handler) publishMail(ctx context.Context, msg domain.MailMessage) error {
	if h.mailPublisher == nil {
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(h.config.RabbitMQ.PublishTimeout)*time.Second)
	defer cancel()

	return h.mailPublisher.PublishWithContext(
		ctx,
		"",
		MailQueue,
		true,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}
