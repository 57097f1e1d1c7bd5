package models

import "time"

// Ruling is one free-text clarification attached to a card by oracle ID.
// The upstream source has no stable per-ruling identifier, so rulings for a
// card are only ever replaced as a complete set.
type Ruling struct {
	OracleID    string    `json:"oracle_id"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	Comment     string    `json:"comment"`
}
