package messaging

import (
	"context"
	"unicode/utf8"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"

	"example.com/backstage/services/auction/internal/contracts"
)

// Disposition is what happened to a received message
type Disposition string

const (
	Completed    Disposition = "completed"
	Abandoned    Disposition = "abandoned"
	DeadLettered Disposition = "dead_lettered"
)

const (
	deadLetterReasonMalformed = "MalformedEvent"
	maxDescriptionLength      = 1024
)

// Settler is the settlement half of *azservicebus.Receiver
type Settler interface {
	CompleteMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.CompleteMessageOptions) error
	AbandonMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.AbandonMessageOptions) error
	DeadLetterMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.DeadLetterOptions) error
}

// Settle resolves a processed message: success completes it, a malformed
// event goes straight to the dead-letter queue, anything else is abandoned so
// the bus redelivers it until its max delivery count dead-letters it.
func Settle(ctx context.Context, settler Settler, message *azservicebus.ReceivedMessage, processErr error) (Disposition, error) {
	switch {
	case processErr == nil:
		return Completed, errors.Wrap(settler.CompleteMessage(ctx, message, nil), "failed to complete message")

	case errors.Is(processErr, contracts.ErrMalformed):
		description := Truncate(processErr.Error(), maxDescriptionLength)
		err := settler.DeadLetterMessage(ctx, message, &azservicebus.DeadLetterOptions{
			Reason:           to.Ptr(deadLetterReasonMalformed),
			ErrorDescription: to.Ptr(description),
		})
		return DeadLettered, errors.Wrap(err, "failed to dead-letter message")

	default:
		return Abandoned, errors.Wrap(settler.AbandonMessage(ctx, message, nil), "failed to abandon message")
	}
}

// Truncate shortens s to at most max bytes without splitting a UTF-8 sequence
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	n := max
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
