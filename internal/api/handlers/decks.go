package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cardbinder/collector/internal/database"
	"github.com/cardbinder/collector/internal/models"
)

// GetDecks lists the user's decks, hiding soft-deleted ones unless asked.
func GetDecks(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	query := database.GetDB().Where("user_id = ?", userID)
	if c.Query("include_deleted") != "true" {
		query = query.Where("deleted = ?", false)
	}

	var decks []models.Deck
	if err := query.Order("updated_at DESC").Find(&decks).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load decks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decks": decks, "count": len(decks)})
}

// CreateDeck makes a new empty deck.
func CreateDeck(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.DeckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	deck := models.Deck{UserID: userID, Name: req.Name}
	if err := database.GetDB().Create(&deck).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create deck"})
		return
	}
	c.JSON(http.StatusCreated, deck)
}

// GetDeck returns one deck with its cards and their printings.
func GetDeck(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	deck, ok := loadDeck(c, userID)
	if !ok {
		return
	}

	err := database.GetDB().
		Preload("Printing").Preload("Printing.Card").Preload("Printing.CardSet").
		Where("deck_id = ?", deck.ID).
		Find(&deck.Cards).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load deck cards"})
		return
	}
	c.JSON(http.StatusOK, deck)
}

// UpdateDeck renames a deck.
func UpdateDeck(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	deck, ok := loadDeck(c, userID)
	if !ok {
		return
	}

	var req models.DeckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	deck.Name = req.Name
	if err := database.GetDB().Save(deck).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update deck"})
		return
	}
	c.JSON(http.StatusOK, deck)
}

// DeleteDeck soft-deletes a deck; its cards stay for restore.
func DeleteDeck(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	deck, ok := loadDeck(c, userID)
	if !ok {
		return
	}

	if err := database.GetDB().Model(deck).Update("deleted", true).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete deck"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deck deleted"})
}

// RestoreDeck undoes a soft delete.
func RestoreDeck(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	deck, ok := loadDeck(c, userID)
	if !ok {
		return
	}

	if err := database.GetDB().Model(deck).Update("deleted", false).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to restore deck"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deck restored"})
}

// AddDeckCard adds a printing to a deck section, merging duplicates.
func AddDeckCard(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	deck, ok := loadDeck(c, userID)
	if !ok {
		return
	}

	var req models.DeckCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.Section == "" {
		req.Section = "main"
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}

	db := database.GetDB()
	var existing models.DeckCard
	err := db.Where("deck_id = ? AND printing_id = ? AND section = ?", deck.ID, req.PrintingID, req.Section).
		First(&existing).Error
	if err == nil {
		existing.Quantity += req.Quantity
		if err := db.Save(&existing).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update deck card"})
			return
		}
		c.JSON(http.StatusOK, existing)
		return
	}
	if err != gorm.ErrRecordNotFound {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load deck card"})
		return
	}

	card := models.DeckCard{
		DeckID:     deck.ID,
		PrintingID: req.PrintingID,
		Section:    req.Section,
		Quantity:   req.Quantity,
	}
	if err := db.Create(&card).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add deck card"})
		return
	}
	c.JSON(http.StatusCreated, card)
}

// RemoveDeckCard removes one card row from a deck.
func RemoveDeckCard(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	deck, ok := loadDeck(c, userID)
	if !ok {
		return
	}
	cardID, err := strconv.ParseUint(c.Param("cardId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid card id"})
		return
	}

	result := database.GetDB().
		Where("id = ? AND deck_id = ?", uint(cardID), deck.ID).
		Delete(&models.DeckCard{})
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove deck card"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "deck card not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deck card removed"})
}

func loadDeck(c *gin.Context, userID uint) (*models.Deck, bool) {
	deckID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deck id"})
		return nil, false
	}

	var deck models.Deck
	err = database.GetDB().
		Where("id = ? AND user_id = ?", uint(deckID), userID).
		First(&deck).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "deck not found"})
		return nil, false
	}
	return &deck, true
}
