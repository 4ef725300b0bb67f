package messaging

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/auction/config"
)

// OutboundMessage is one event on its way to the bus
type OutboundMessage struct {
	MessageID   string
	Subject     string
	AggregateID string
	Body        []byte
}

// AzureClient owns the Service Bus connection
type AzureClient struct {
	client *azservicebus.Client
	cfg    config.AzureConfig
}

// NewAzureClient creates a Service Bus client from the configured connection string
func NewAzureClient(cfg config.AzureConfig) (*AzureClient, error) {
	if cfg.ConnStr == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	return &AzureClient{client: client, cfg: cfg}, nil
}

// NewSender creates a sender for the auction events topic
func (a *AzureClient) NewSender() (*Sender, error) {
	sender, err := a.client.NewSender(a.cfg.TopicName, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create sender for %s", a.cfg.TopicName)
	}
	return &Sender{sender: sender}, nil
}

// NewReceiver creates a peek-lock receiver on the configured subscription, or
// on the queue named TopicName when no subscription is configured
func (a *AzureClient) NewReceiver() (*azservicebus.Receiver, error) {
	opts := &azservicebus.ReceiverOptions{ReceiveMode: azservicebus.ReceiveModePeekLock}

	if a.cfg.SubscriptionName == "" {
		log.Info().Str("queue", a.cfg.TopicName).Msg("Receiving from queue")
		receiver, err := a.client.NewReceiverForQueue(a.cfg.TopicName, opts)
		return receiver, errors.Wrapf(err, "failed to create receiver for queue %s", a.cfg.TopicName)
	}

	log.Info().
		Str("topic", a.cfg.TopicName).
		Str("subscription", a.cfg.SubscriptionName).
		Msg("Receiving from subscription")
	receiver, err := a.client.NewReceiverForSubscription(a.cfg.TopicName, a.cfg.SubscriptionName, opts)
	return receiver, errors.Wrapf(err, "failed to create receiver for %s/%s", a.cfg.TopicName, a.cfg.SubscriptionName)
}

// Close closes the Service Bus connection
func (a *AzureClient) Close(ctx context.Context) error {
	return a.client.Close(ctx)
}

// Sender publishes auction events
type Sender struct {
	sender *azservicebus.Sender
}

// Send publishes one message. The outbox event id doubles as MessageID so
// duplicate detection on the entity can drop relay retries.
func (s *Sender) Send(ctx context.Context, msg OutboundMessage) error {
	sbMessage := &azservicebus.Message{
		MessageID:   to.Ptr(msg.MessageID),
		Subject:     to.Ptr(msg.Subject),
		ContentType: to.Ptr("application/json"),
		Body:        msg.Body,
		ApplicationProperties: map[string]interface{}{
			"event_type":   msg.Subject,
			"aggregate_id": msg.AggregateID,
		},
	}

	if err := s.sender.SendMessage(ctx, sbMessage, nil); err != nil {
		return errors.Wrapf(err, "failed to send message %s", msg.MessageID)
	}
	return nil
}

// Close closes the sender
func (s *Sender) Close(ctx context.Context) error {
	return s.sender.Close(ctx)
}
