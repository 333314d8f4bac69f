package models

import (
	"time"
)

// ImportBatch records one user-initiated bulk upload. Rows carry a completion
// flag so a crashed import can be resumed by re-running only incomplete rows.
type ImportBatch struct {
	ID        string    `json:"id" gorm:"primaryKey"` // uuid
	UserID    uint      `json:"user_id" gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at"`
}

type ImportRow struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	BatchID      string    `json:"batch_id" gorm:"not null;index"`
	ScryfallID   string    `json:"scryfall_id"`
	Quantity     int       `json:"quantity"`
	FoilQuantity int       `json:"foil_quantity"`
	PrintingID   *uint     `json:"printing_id"`
	Completed    bool      `json:"completed" gorm:"not null;default:false"`
	// Note records why a row was skipped (validation failure, unknown id).
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ImportResult summarizes a processed batch for the upload response.
type ImportResult struct {
	BatchID   string   `json:"batch_id"`
	Imported  int      `json:"imported"`
	Skipped   int      `json:"skipped"`
	Notes     []string `json:"notes,omitempty"`
	NewPrints int      `json:"new_prints"`
}
