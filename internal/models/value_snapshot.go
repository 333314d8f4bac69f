package models

import (
	"time"
)

// CollectionValueSnapshot stores one day's total collection value for
// historical charting. One row per day at most.
type CollectionValueSnapshot struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	SnapshotDate time.Time `json:"snapshot_date" gorm:"uniqueIndex;not null"`
	TotalCards   int       `json:"total_cards"`
	UniquePrints int       `json:"unique_prints"`
	TotalValue   float64   `json:"total_value"`
	FoilValue    float64   `json:"foil_value"`
	CreatedAt    time.Time `json:"created_at"`
}

// ValueHistoryResponse is the API response for value history.
type ValueHistoryResponse struct {
	Snapshots []CollectionValueSnapshot `json:"snapshots"`
	Period    string                    `json:"period"` // "week", "month", "year", "all"
}
