package models

import (
	"time"

	"example.com/backstage/services/auction/internal/contracts"
)

// Auction is the system-of-record row for an auctioned vehicle.
type Auction struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Seller    string    `gorm:"index;not null" json:"seller"`
	Make      string    `gorm:"index;not null" json:"make"`
	Model     string    `gorm:"not null" json:"model"`
	Color     string    `gorm:"not null" json:"color"`
	Mileage   int       `json:"mileage"`
	Year      int       `json:"year"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

// Record returns the denormalized shape shared with the search side.
func (a Auction) Record() contracts.AuctionRecord {
	return contracts.AuctionRecord{
		ID:        a.ID,
		Seller:    a.Seller,
		Make:      a.Make,
		Model:     a.Model,
		Color:     a.Color,
		Mileage:   a.Mileage,
		Year:      a.Year,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}
