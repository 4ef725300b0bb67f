package contracts

import "time"

// AuctionRecord is the denormalized auction shape served by the auction
// listing endpoint and used to seed the read store.
type AuctionRecord struct {
	ID        string    `json:"id"`
	Seller    string    `json:"seller"`
	Make      string    `json:"make"`
	Model     string    `json:"model"`
	Color     string    `json:"color"`
	Mileage   int       `json:"mileage"`
	Year      int       `json:"year"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
