package notify

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/price-sentinel/internal/metrics"
)

// PubSubNotifier publishes alerts as JSON messages to a topic. A mail or chat
// relay subscribed to the topic does the delivery.
type PubSubNotifier struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
}

// NewPubSubNotifier connects to projectID and publishes to topic.
func NewPubSubNotifier(ctx context.Context, projectID, topic string) (*PubSubNotifier, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &PubSubNotifier{client: client, publisher: client.Publisher(topic)}, nil
}

// Notify publishes the alert and waits for the server to acknowledge it.
func (n *PubSubNotifier) Notify(ctx context.Context, alert Alert) error {
	msg, err := encodeMessage(ctx, alert)
	if err != nil {
		return err
	}
	_, err = n.publisher.Publish(ctx, msg).Get(ctx)
	metrics.ObserveAlert("pubsub", err)
	if err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the client.
func (n *PubSubNotifier) Close() error {
	n.publisher.Stop()
	if err := n.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func encodeMessage(ctx context.Context, alert Alert) (*pubsub.Message, error) {
	data, err := json.Marshal(alert)
	if err != nil {
		return nil, fmt.Errorf("marshal alert: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"kind": "price_alert", "to": alert.To},
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})
	return msg, nil
}

// pubsubCarrier adapts message attributes to propagation.TextMapCarrier.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string { return c.attrs[key] }

func (c *pubsubCarrier) Set(key, value string) { c.attrs[key] = value }

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
