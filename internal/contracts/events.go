package contracts

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Event type identifiers carried in the envelope. The V1 prefix is bumped when
// the payload shape changes incompatibly.
const (
	AuctionCreatedType = "V1_AUCTION_CREATED"
	AuctionUpdatedType = "V1_AUCTION_UPDATED"
	AuctionDeletedType = "V1_AUCTION_DELETED"
)

var validate = validator.New()

// Event is one auction lifecycle event.
type Event interface {
	AuctionID() string
	EventType() string
}

// AuctionCreated is a full snapshot of a newly created auction.
type AuctionCreated struct {
	ID        string     `json:"id"`
	Seller    string     `json:"seller"`
	Make      string     `json:"make"`
	Model     string     `json:"model"`
	Color     string     `json:"color"`
	Mileage   int        `json:"mileage"`
	Year      int        `json:"year"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (e AuctionCreated) AuctionID() string { return e.ID }
func (e AuctionCreated) EventType() string { return AuctionCreatedType }

// AuctionUpdated carries only the fields that changed. A nil field is absent
// and means "unchanged"; a non-nil zero value is a real change to zero.
type AuctionUpdated struct {
	ID      string  `json:"id" validate:"required"`
	Make    *string `json:"make,omitempty"`
	Model   *string `json:"model,omitempty"`
	Color   *string `json:"color,omitempty"`
	Mileage *int    `json:"mileage,omitempty" validate:"omitempty,min=0"`
	Year    *int    `json:"year,omitempty"`
}

func (e AuctionUpdated) AuctionID() string { return e.ID }
func (e AuctionUpdated) EventType() string { return AuctionUpdatedType }

// Empty reports whether the event carries no field changes.
func (e AuctionUpdated) Empty() bool {
	return e.Make == nil && e.Model == nil && e.Color == nil && e.Mileage == nil && e.Year == nil
}

// AuctionDeleted identifies a removed auction.
type AuctionDeleted struct {
	ID string `json:"id" validate:"required"`
}

func (e AuctionDeleted) AuctionID() string { return e.ID }
func (e AuctionDeleted) EventType() string { return AuctionDeletedType }

// createdPayload distinguishes absent numeric fields from zero ones so a
// snapshot missing mileage or year is rejected instead of read as 0.
type createdPayload struct {
	ID        string     `json:"id" validate:"required"`
	Seller    string     `json:"seller" validate:"required"`
	Make      string     `json:"make" validate:"required"`
	Model     string     `json:"model" validate:"required"`
	Color     string     `json:"color" validate:"required"`
	Mileage   *int       `json:"mileage" validate:"required,min=0"`
	Year      *int       `json:"year" validate:"required"`
	CreatedAt *time.Time `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// Envelope is the bus message body.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// NewEnvelope wraps an event with a fresh event id.
func NewEnvelope(evt Event, occurredAt time.Time) (Envelope, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "failed to marshal %s", evt.EventType())
	}

	return Envelope{
		EventID:    uuid.NewString(),
		EventType:  evt.EventType(),
		OccurredAt: occurredAt.UTC(),
		Data:       data,
	}, nil
}

// Decode parses a bus message body. Any failure is a *MalformedError.
func Decode(body []byte) (Event, Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, env, malformed(errors.Wrap(err, "invalid envelope"))
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, env, malformed(errors.Errorf("%s has no data", env.EventType))
	}

	switch env.EventType {
	case AuctionCreatedType:
		var p createdPayload
		if err := decodeData(env, &p); err != nil {
			return nil, env, err
		}
		return AuctionCreated{
			ID:        p.ID,
			Seller:    p.Seller,
			Make:      p.Make,
			Model:     p.Model,
			Color:     p.Color,
			Mileage:   *p.Mileage,
			Year:      *p.Year,
			CreatedAt: p.CreatedAt,
			UpdatedAt: p.UpdatedAt,
		}, env, nil

	case AuctionUpdatedType:
		var evt AuctionUpdated
		if err := decodeData(env, &evt); err != nil {
			return nil, env, err
		}
		return evt, env, nil

	case AuctionDeletedType:
		var evt AuctionDeleted
		if err := decodeData(env, &evt); err != nil {
			return nil, env, err
		}
		return evt, env, nil

	default:
		return nil, env, malformed(errors.Errorf("unsupported event type %q", env.EventType))
	}
}

func decodeData(env Envelope, target interface{}) error {
	if err := json.Unmarshal(env.Data, target); err != nil {
		return malformed(errors.Wrapf(err, "invalid %s payload", env.EventType))
	}
	if err := validate.Struct(target); err != nil {
		return malformed(errors.Wrapf(err, "invalid %s payload", env.EventType))
	}
	return nil
}
