package readstore

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"example.com/backstage/services/auction/internal/contracts"
)

// ErrNotFound is returned by Get for an unknown id
var ErrNotFound = errors.New("item not found")

// Item is the search projection of an auction. Every attribute is optional:
// an entry created from an out-of-order update only carries what that update
// carried.
type Item struct {
	ID        string     `json:"id"`
	Seller    *string    `json:"seller,omitempty"`
	Make      *string    `json:"make,omitempty"`
	Model     *string    `json:"model,omitempty"`
	Color     *string    `json:"color,omitempty"`
	Mileage   *int       `json:"mileage,omitempty"`
	Year      *int       `json:"year,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Fields is a partial update; nil fields are left untouched
type Fields struct {
	Make    *string
	Model   *string
	Color   *string
	Mileage *int
	Year    *int
}

// Store is the write side of the read store plus the lookups the bootstrap
// and read API need. Every method is atomic for its id.
type Store interface {
	// Upsert replaces the whole entry
	Upsert(ctx context.Context, item Item) error
	// ApplyPartial overwrites the present fields, creating a minimal entry
	// when id is unknown. created reports whether it did so.
	ApplyPartial(ctx context.Context, id string, fields Fields) (created bool, err error)
	// Delete removes the entry; found is false when there was nothing to remove
	Delete(ctx context.Context, id string) (found bool, err error)
	Exists(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int64, error)
	Get(ctx context.Context, id string) (*Item, error)
}

// ItemFromCreated maps a full snapshot event
func ItemFromCreated(evt contracts.AuctionCreated) Item {
	return Item{
		ID:        evt.ID,
		Seller:    ptr(evt.Seller),
		Make:      ptr(evt.Make),
		Model:     ptr(evt.Model),
		Color:     ptr(evt.Color),
		Mileage:   ptr(evt.Mileage),
		Year:      ptr(evt.Year),
		CreatedAt: cloneTime(evt.CreatedAt),
		UpdatedAt: cloneTime(evt.UpdatedAt),
	}
}

// ItemFromRecord maps a primary store listing record
func ItemFromRecord(rec contracts.AuctionRecord) Item {
	item := Item{
		ID:      rec.ID,
		Seller:  ptr(rec.Seller),
		Make:    ptr(rec.Make),
		Model:   ptr(rec.Model),
		Color:   ptr(rec.Color),
		Mileage: ptr(rec.Mileage),
		Year:    ptr(rec.Year),
	}
	if !rec.CreatedAt.IsZero() {
		item.CreatedAt = ptr(rec.CreatedAt)
	}
	if !rec.UpdatedAt.IsZero() {
		item.UpdatedAt = ptr(rec.UpdatedAt)
	}
	return item
}

// FieldsFromUpdated maps a partial update event
func FieldsFromUpdated(evt contracts.AuctionUpdated) Fields {
	return Fields{
		Make:    cloneStr(evt.Make),
		Model:   cloneStr(evt.Model),
		Color:   cloneStr(evt.Color),
		Mileage: cloneInt(evt.Mileage),
		Year:    cloneInt(evt.Year),
	}
}

func (f Fields) applyTo(item *Item) {
	if f.Make != nil {
		item.Make = cloneStr(f.Make)
	}
	if f.Model != nil {
		item.Model = cloneStr(f.Model)
	}
	if f.Color != nil {
		item.Color = cloneStr(f.Color)
	}
	if f.Mileage != nil {
		item.Mileage = cloneInt(f.Mileage)
	}
	if f.Year != nil {
		item.Year = cloneInt(f.Year)
	}
}

// doc renders the present fields as a partial document
func (f Fields) doc(id string) map[string]interface{} {
	doc := map[string]interface{}{"id": id}
	if f.Make != nil {
		doc["make"] = *f.Make
	}
	if f.Model != nil {
		doc["model"] = *f.Model
	}
	if f.Color != nil {
		doc["color"] = *f.Color
	}
	if f.Mileage != nil {
		doc["mileage"] = *f.Mileage
	}
	if f.Year != nil {
		doc["year"] = *f.Year
	}
	return doc
}

func (i Item) clone() Item {
	return Item{
		ID:        i.ID,
		Seller:    cloneStr(i.Seller),
		Make:      cloneStr(i.Make),
		Model:     cloneStr(i.Model),
		Color:     cloneStr(i.Color),
		Mileage:   cloneInt(i.Mileage),
		Year:      cloneInt(i.Year),
		CreatedAt: cloneTime(i.CreatedAt),
		UpdatedAt: cloneTime(i.UpdatedAt),
	}
}

func ptr[T any](v T) *T { return &v }

func cloneStr(v *string) *string {
	if v == nil {
		return nil
	}
	return ptr(*v)
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	return ptr(*v)
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	return ptr(*v)
}
