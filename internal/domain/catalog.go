// internal/domain/catalog.go
package domain

import "time"

// CatalogExercise is the read model of an exercise in the external exercise
// library. This core consumes catalog identities as opaque foreign keys and
// never mutates catalog rows, except through the create-custom pass-through.
type CatalogExercise struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Category  string    `bson:"category,omitempty" json:"category,omitempty"`   // e.g. "Legs", "Back"
	Equipment string    `bson:"equipment,omitempty" json:"equipment,omitempty"` // e.g. "Barbell", "None"
	IsCustom  bool      `bson:"is_custom,omitempty" json:"isCustom,omitempty"`
	OwnerID   string    `bson:"owner_id,omitempty" json:"ownerId,omitempty"` // set for custom exercises only
	CreatedAt time.Time `bson:"created_at,omitempty" json:"createdAt,omitempty"`
}

// CatalogFilter narrows a catalog search. Empty fields match everything.
type CatalogFilter struct {
	Category  string `json:"category,omitempty"`
	Equipment string `json:"equipment,omitempty"`
}
