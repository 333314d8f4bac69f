package database

import (
	"log"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cardbinder/collector/internal/models"
)

var DB *gorm.DB

func Initialize(dbPath string) error {
	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return err
	}

	log.Println("Database connected successfully")

	// Merge legacy duplicates before the unique indexes are created
	if err := cleanupLedgerDuplicates(DB); err != nil {
		return err
	}

	// Auto-migrate the schema
	err = DB.AutoMigrate(
		&models.CardSet{},
		&models.Card{},
		&models.Printing{},
		&models.LedgerEntry{},
		&models.PricePoint{},
		&models.ImportBatch{},
		&models.ImportRow{},
		&models.Deck{},
		&models.DeckCard{},
		&models.ExchangeRate{},
		&models.CollectionValueSnapshot{},
	)
	if err != nil {
		return err
	}

	if err := RunMigrations(DB); err != nil {
		return err
	}

	log.Println("Database migration completed")
	return nil
}

func GetDB() *gorm.DB {
	return DB
}
