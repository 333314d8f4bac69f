package models

import (
	"time"
)

// LedgerEntry records how many copies of a printing+foil state a user owns.
// Invariant: at most one row per (user, printing, foil) and quantity > 0;
// a quantity of zero means the row is deleted, not stored.
type LedgerEntry struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID     uint      `json:"user_id" gorm:"not null;uniqueIndex:idx_user_printing_foil"`
	PrintingID uint      `json:"printing_id" gorm:"not null;uniqueIndex:idx_user_printing_foil"`
	Printing   Printing  `json:"printing" gorm:"foreignKey:PrintingID"`
	Foil       bool      `json:"foil" gorm:"not null;uniqueIndex:idx_user_printing_foil"`
	Quantity   int       `json:"quantity" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type AddToCollectionRequest struct {
	PrintingID uint `json:"printing_id" binding:"required"`
	Foil       bool `json:"foil"`
	Quantity   int  `json:"quantity"`
}

type EditLedgerRequest struct {
	Foil     *bool `json:"foil"`
	Quantity *int  `json:"quantity"`
}

// LedgerUpdateResponse reports what the merger did with an edit.
type LedgerUpdateResponse struct {
	Entry     *LedgerEntry `json:"entry,omitempty"`
	Operation string       `json:"operation"` // "updated", "merged", "deleted"
}

type CollectionStats struct {
	TotalCards     int     `json:"total_cards"`
	UniquePrints   int     `json:"unique_prints"`
	TotalValue     float64 `json:"total_value"`
	FoilCards      int     `json:"foil_cards"`
	UnpricedPrints int     `json:"unpriced_prints"`
}
