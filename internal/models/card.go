package models

import (
	"strings"
	"time"
)

// CardSet is a product release (set) from the external catalog. Created on
// first encounter of an unseen code during import, never deleted. Code is
// stored lowercase; the unique index makes the existence check case-insensitive.
type CardSet struct {
	ID         uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	Code       string     `json:"code" gorm:"uniqueIndex;not null"`
	Name       string     `json:"name" gorm:"not null"`
	ReleasedAt *time.Time `json:"released_at"`
	// TCGPlayerGroupID is the pricing service's group id for this set.
	// Nullable until backfilled; the only mutable column after creation.
	TCGPlayerGroupID *int      `json:"tcgplayer_group_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// NormalizeSetCode lowercases and trims a set code for storage and lookup.
func NormalizeSetCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// Card is a canonical card name. One Card has many Printings (reprints,
// foils, language variants).
type Card struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at"`
}

// Printing uniquely identifies a physical card version within a set.
type Printing struct {
	ID              uint    `json:"id" gorm:"primaryKey;autoIncrement"`
	CardID          uint    `json:"card_id" gorm:"not null;index"`
	Card            Card    `json:"card" gorm:"foreignKey:CardID"`
	CardSetID       uint    `json:"card_set_id" gorm:"not null;uniqueIndex:idx_set_number_lang"`
	CardSet         CardSet `json:"card_set" gorm:"foreignKey:CardSetID"`
	CollectorNumber string  `json:"collector_number" gorm:"not null;uniqueIndex:idx_set_number_lang"`
	Language        string  `json:"language" gorm:"not null;default:'en';uniqueIndex:idx_set_number_lang"`
	Rarity          string  `json:"rarity"`
	// ScryfallID is the catalog service's stable identifier for this printing.
	ScryfallID string `json:"scryfall_id" gorm:"uniqueIndex;not null"`
	// TCGPlayerProductID is the pricing service's product id. Nullable until
	// resolved by import or price sync.
	TCGPlayerProductID *int       `json:"tcgplayer_product_id"`
	Price              *float64   `json:"price"`
	FoilPrice          *float64   `json:"foil_price"`
	MultiFaced         bool       `json:"multi_faced"`
	PriceUpdatedAt     *time.Time `json:"price_updated_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// PrintingSummary is the slice of printing state the price sync pipeline
// needs: identity, resolution inputs, and the product id if already known.
type PrintingSummary struct {
	ID              uint   `json:"id"`
	ProductID       *int   `json:"product_id"`
	Name            string `json:"name"`
	SetName         string `json:"set_name"`
	SetCode         string `json:"set_code"`
	CollectorNumber string `json:"collector_number"`
	Rarity          string `json:"rarity"`
}

// CatalogSet is the typed record returned by the catalog service for a set.
type CatalogSet struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	ReleasedAt string `json:"released_at"`
	IconURL    string `json:"icon_url"`
	// GroupID is the pricing service group id, when the catalog carries it.
	GroupID *int `json:"group_id"`
}

// CatalogPrinting is the typed record returned by the catalog service for a
// single printing. This is the unit the import reconciler consumes.
type CatalogPrinting struct {
	ScryfallID      string `json:"scryfall_id"`
	Name            string `json:"name"`
	SetCode         string `json:"set_code"`
	SetName         string `json:"set_name"`
	CollectorNumber string `json:"collector_number"`
	Language        string `json:"language"`
	Rarity          string `json:"rarity"`
	MultiFaced      bool   `json:"multi_faced"`
	// TCGPlayerProductID is set when the catalog response carries the pricing
	// service's product id directly, saving a resolution call later.
	TCGPlayerProductID *int   `json:"tcgplayer_product_id"`
	ArtURL             string `json:"art_url"`
	ImageURL           string `json:"image_url"`
}
