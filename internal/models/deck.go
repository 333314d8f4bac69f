package models

import (
	"time"
)

// Deck is a named list of printings scoped to a user. Decks are soft-deleted
// so a delete can be undone.
type Deck struct {
	ID        uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    uint       `json:"user_id" gorm:"not null;index"`
	Name      string     `json:"name" gorm:"not null"`
	Deleted   bool       `json:"deleted" gorm:"not null;default:false"`
	Cards     []DeckCard `json:"cards,omitempty" gorm:"foreignKey:DeckID"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type DeckCard struct {
	ID         uint     `json:"id" gorm:"primaryKey;autoIncrement"`
	DeckID     uint     `json:"deck_id" gorm:"not null;index"`
	PrintingID uint     `json:"printing_id" gorm:"not null"`
	Printing   Printing `json:"printing" gorm:"foreignKey:PrintingID"`
	Section    string   `json:"section" gorm:"not null;default:'main'"`
	Quantity   int      `json:"quantity" gorm:"not null;default:1"`
}

type DeckRequest struct {
	Name string `json:"name" binding:"required"`
}

type DeckCardRequest struct {
	PrintingID uint   `json:"printing_id" binding:"required"`
	Section    string `json:"section"`
	Quantity   int    `json:"quantity"`
}
