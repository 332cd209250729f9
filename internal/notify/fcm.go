// README: Firebase Cloud Messaging sink; pushes events to per-order and per-store topics.
package notify

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"
)

// messageSender is the subset of *messaging.Client the sink needs.
type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type FCMSink struct {
	client messageSender
}

func NewFCMSink(client *messaging.Client) *FCMSink {
	return &FCMSink{client: client}
}

func (f *FCMSink) Name() string { return "fcm" }

func (f *FCMSink) Publish(ctx context.Context, ev Event) error {
	msg := buildMessage(ev)
	if msg == nil {
		return nil
	}
	if _, err := f.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("sending FCM to topic %s: %w", msg.Topic, err)
	}
	return nil
}

// buildMessage picks the audience topic: order subscribers (customer, vendor
// and agent apps) for order events, the store's operators for inventory events.
func buildMessage(ev Event) *messaging.Message {
	var topic string
	switch {
	case ev.OrderID != "":
		topic = "order-" + string(ev.OrderID)
	case ev.StoreID != "":
		topic = "store-" + string(ev.StoreID)
	default:
		return nil
	}
	data := map[string]string{"type": string(ev.Type)}
	if ev.OrderID != "" {
		data["order_id"] = string(ev.OrderID)
	}
	if ev.StoreID != "" {
		data["store_id"] = string(ev.StoreID)
	}
	if ev.ProductID != "" {
		data["product_id"] = string(ev.ProductID)
	}
	for k, v := range ev.Data {
		data[k] = v
	}
	return &messaging.Message{
		Topic: topic,
		Data:  data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
}
