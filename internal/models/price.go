package models

import (
	"time"
)

// PriceQuote is a pricing service answer for one product: either price may be
// absent. Both nil means the service currently has no data for the product and
// the stored price must be left alone, never cleared.
type PriceQuote struct {
	Normal *float64 `json:"normal"`
	Foil   *float64 `json:"foil"`
}

// Empty reports whether the quote carries no usable price.
func (q PriceQuote) Empty() bool {
	return q.Normal == nil && q.Foil == nil
}

// PricePoint is one day's recorded price for a printing. Append-only with
// upsert-by-day semantics: at most one row per printing per calendar day.
type PricePoint struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	PrintingID uint      `json:"printing_id" gorm:"not null;uniqueIndex:idx_printing_day"`
	Day        time.Time `json:"day" gorm:"not null;uniqueIndex:idx_printing_day"`
	Price      *float64  `json:"price"`
	FoilPrice  *float64  `json:"foil_price"`
	CreatedAt  time.Time `json:"created_at"`
}

// DayOf truncates a timestamp to the calendar day used as the PricePoint key.
func DayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ExchangeRate is a cached currency rate against USD, upserted by code.
type ExchangeRate struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Code      string    `json:"code" gorm:"uniqueIndex;not null"`
	Rate      float64   `json:"rate" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at"`
}
