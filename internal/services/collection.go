package services

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cardbinder/collector/internal/models"
)

// CollectionService owns the quantity ledger. Every operation preserves the
// invariant that at most one row exists per (user, printing, foil) and that
// no row ever stores a quantity of zero or less.
type CollectionService struct {
	db *gorm.DB
}

func NewCollectionService(db *gorm.DB) *CollectionService {
	return &CollectionService{db: db}
}

// withTx returns a view of the service bound to an open transaction, so
// ledger writes can commit together with their caller's bookkeeping.
func (s *CollectionService) withTx(tx *gorm.DB) *CollectionService {
	return &CollectionService{db: tx}
}

// Add upserts quantity onto the (user, printing, foil) row: increments it if
// present, inserts it otherwise. The increment happens inside the write, so
// concurrent adds cannot create a second row.
func (s *CollectionService) Add(userID, printingID uint, foil bool, quantity int) (*models.LedgerEntry, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}

	entry := models.LedgerEntry{
		UserID:     userID,
		PrintingID: printingID,
		Foil:       foil,
		Quantity:   quantity,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "printing_id"}, {Name: "foil"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"quantity":   gorm.Expr("quantity + ?", quantity),
			"updated_at": time.Now(),
		}),
	}).Create(&entry).Error
	if err != nil {
		return nil, fmt.Errorf("failed to add to ledger: %w", err)
	}

	// Reload: on conflict the increment lands on the existing row, not entry
	var result models.LedgerEntry
	err = s.db.Where("user_id = ? AND printing_id = ? AND foil = ?", userID, printingID, foil).
		First(&result).Error
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Edit applies a quantity/foil change to an existing ledger row. Flipping the
// foil flag merges into any existing opposite row (its quantity grows by the
// edited quantity and the original row is removed); a quantity of zero or
// less deletes the row in every branch. The lookup-merge-delete sequence runs
// in one transaction so two concurrent flips cannot both conclude "no
// opposite row" and leave duplicates.
func (s *CollectionService) Edit(userID, entryID uint, newFoil bool, newQuantity int) (*models.LedgerUpdateResponse, error) {
	var response *models.LedgerUpdateResponse

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var entry models.LedgerEntry
		err := tx.Where("id = ? AND user_id = ?", entryID, userID).First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		// Zero quantity always removes the row, flip or not
		if newQuantity <= 0 {
			if err := tx.Delete(&entry).Error; err != nil {
				return err
			}
			response = &models.LedgerUpdateResponse{Operation: "deleted"}
			return nil
		}

		if newFoil == entry.Foil {
			entry.Quantity = newQuantity
			if err := tx.Save(&entry).Error; err != nil {
				return err
			}
			response = &models.LedgerUpdateResponse{Entry: &entry, Operation: "updated"}
			return nil
		}

		// Foil flip: merge into the opposite row when one exists
		var opposite models.LedgerEntry
		err = tx.Where("user_id = ? AND printing_id = ? AND foil = ?", userID, entry.PrintingID, newFoil).
			First(&opposite).Error
		switch {
		case err == nil:
			opposite.Quantity += newQuantity
			if err := tx.Save(&opposite).Error; err != nil {
				return err
			}
			if err := tx.Delete(&entry).Error; err != nil {
				return err
			}
			response = &models.LedgerUpdateResponse{Entry: &opposite, Operation: "merged"}
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			// No opposite row: flip in place
			entry.Foil = newFoil
			entry.Quantity = newQuantity
			if err := tx.Save(&entry).Error; err != nil {
				return err
			}
			response = &models.LedgerUpdateResponse{Entry: &entry, Operation: "updated"}
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

// Entries returns a user's ledger with printings preloaded.
func (s *CollectionService) Entries(userID uint) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := s.db.Where("user_id = ?", userID).
		Preload("Printing").Preload("Printing.Card").Preload("Printing.CardSet").
		Order("updated_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Delete removes a ledger row outright.
func (s *CollectionService) Delete(userID, entryID uint) error {
	result := s.db.Where("id = ? AND user_id = ?", entryID, userID).Delete(&models.LedgerEntry{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats summarizes a user's collection for the stats endpoint.
func (s *CollectionService) Stats(userID uint) (*models.CollectionStats, error) {
	var stats models.CollectionStats

	err := s.db.Model(&models.LedgerEntry{}).Where("user_id = ?", userID).
		Select("COALESCE(SUM(quantity), 0)").Scan(&stats.TotalCards).Error
	if err != nil {
		return nil, err
	}

	var unique int64
	s.db.Model(&models.LedgerEntry{}).Where("user_id = ?", userID).
		Distinct("printing_id").Count(&unique)
	stats.UniquePrints = int(unique)

	s.db.Model(&models.LedgerEntry{}).Where("user_id = ? AND foil", userID).
		Select("COALESCE(SUM(quantity), 0)").Scan(&stats.FoilCards)

	s.db.Table("ledger_entries").
		Select(`COALESCE(SUM(
			CASE WHEN ledger_entries.foil
				THEN COALESCE(printings.foil_price, 0)
				ELSE COALESCE(printings.price, 0)
			END * ledger_entries.quantity
		), 0)`).
		Joins("JOIN printings ON printings.id = ledger_entries.printing_id").
		Where("ledger_entries.user_id = ?", userID).
		Scan(&stats.TotalValue)

	var unpriced int64
	s.db.Table("ledger_entries").
		Joins("JOIN printings ON printings.id = ledger_entries.printing_id").
		Where("ledger_entries.user_id = ? AND printings.price IS NULL AND printings.foil_price IS NULL", userID).
		Distinct("printing_id").Count(&unpriced)
	stats.UnpricedPrints = int(unpriced)

	return &stats, nil
}
