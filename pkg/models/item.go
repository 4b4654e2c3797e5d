package models

import "time"

// ItemStatus is the listing state the engine may update.
type ItemStatus string

const (
	ItemStatusListed           ItemStatus = "listed"
	ItemStatusUnderNegotiation ItemStatus = "under_negotiation"
	ItemStatusSold             ItemStatus = "sold"
)

// Item is the listing a negotiation is about. The engine treats it as
// read-only except for Status.
type Item struct {
	ID           string     `json:"id" db:"id"`
	SellerID     string     `json:"seller_id" db:"seller_id"`
	Name         string     `json:"name" db:"name"`
	ListingPrice float64    `json:"listing_price" db:"listing_price"`
	AgentEnabled bool       `json:"agent_enabled" db:"agent_enabled"`
	Status       ItemStatus `json:"status" db:"status"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}
