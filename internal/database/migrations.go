package database

import (
	"log"

	"gorm.io/gorm"
)

// cleanupLedgerDuplicates merges duplicate ledger rows before the unique
// constraint on (user_id, printing_id, foil) is added. Runs BEFORE AutoMigrate
// to prevent constraint violations on databases written by older builds.
func cleanupLedgerDuplicates(db *gorm.DB) error {
	if !db.Migrator().HasTable("ledger_entries") {
		return nil // No table, no duplicates to clean
	}

	// Fold duplicate quantities into the newest row per triple
	result := db.Exec(`
		UPDATE ledger_entries SET quantity = (
			SELECT SUM(quantity) FROM ledger_entries le2
			WHERE le2.user_id = ledger_entries.user_id
			AND le2.printing_id = ledger_entries.printing_id
			AND le2.foil = ledger_entries.foil
		)
		WHERE id IN (
			SELECT MAX(id) FROM ledger_entries
			GROUP BY user_id, printing_id, foil
			HAVING COUNT(*) > 1
		)
	`)
	if result.Error != nil {
		return result.Error
	}

	result = db.Exec(`
		DELETE FROM ledger_entries
		WHERE id NOT IN (
			SELECT MAX(id)
			FROM ledger_entries
			GROUP BY user_id, printing_id, foil
		)
	`)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		log.Printf("Cleaned up %d duplicate ledger entries", result.RowsAffected)
	}

	return nil
}

// RunMigrations runs custom data migrations after schema changes.
// All migrations are idempotent and safe to run on every startup.
func RunMigrations(db *gorm.DB) error {
	if err := migrateSetCodes(db); err != nil {
		return err
	}
	if err := migrateZeroQuantityRows(db); err != nil {
		return err
	}
	return nil
}

// migrateSetCodes lowercases any set codes stored by older builds so the
// unique index behaves case-insensitively.
func migrateSetCodes(db *gorm.DB) error {
	result := db.Exec(`UPDATE card_sets SET code = LOWER(code) WHERE code != LOWER(code)`)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("Normalized %d set codes to lowercase", result.RowsAffected)
	}
	return nil
}

// migrateZeroQuantityRows removes ledger rows with quantity <= 0. The merger
// deletes instead of zeroing, but older builds left empty rows behind.
func migrateZeroQuantityRows(db *gorm.DB) error {
	result := db.Exec(`DELETE FROM ledger_entries WHERE quantity <= 0`)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("Removed %d zero-quantity ledger entries", result.RowsAffected)
	}
	return nil
}
