package models

import "time"

// EntityKind names the collection an entity resolves into.
type EntityKind string

const (
	KindProduct EntityKind = "product"
	KindStore   EntityKind = "store"
)

// Product is a canonical product record. Name is the identity key and is
// matched exactly, case included.
type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Brand     string    `json:"brand"`
	Category  string    `json:"category"`
	Barcode   string    `json:"barcode"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a canonical retail location. Coordinates are only attached at
// creation time.
type Store struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Geo is an optional coordinate pair supplied by the client's geolocation.
type Geo struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
