package models

import "time"

// OutboxEvent is an event waiting to be relayed to the bus. It is written in
// the same transaction as the auction change it describes.
type OutboxEvent struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	EventID      string     `gorm:"uniqueIndex;size:36" json:"event_id"`
	AggregateID  string     `gorm:"index;size:36" json:"aggregate_id"`
	EventType    string     `json:"event_type"`
	Payload      []byte     `json:"payload"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	PublishedAt  *time.Time `gorm:"index" json:"published_at"`
	AttemptCount int        `gorm:"not null;default:0" json:"attempt_count"`
	LastError    *string    `json:"last_error"`
}
