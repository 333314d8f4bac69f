package services

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cardbinder/collector/internal/models"
)

// SnapshotService records total collection value once per day for charting.
type SnapshotService struct {
	db            *gorm.DB
	snapshotHour  int // Hour of day to take snapshot (0-23)
	checkInterval time.Duration
}

func NewSnapshotService(db *gorm.DB) *SnapshotService {
	return &SnapshotService{
		db:            db,
		snapshotHour:  23, // Default: 11 PM
		checkInterval: 15 * time.Minute,
	}
}

// Start begins the background snapshot worker.
func (s *SnapshotService) Start(ctx context.Context) {
	log.Println("Snapshot service started: will record daily collection value")

	s.checkAndSnapshot()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Snapshot service stopping...")
			return
		case <-ticker.C:
			s.checkAndSnapshot()
		}
	}
}

func (s *SnapshotService) checkAndSnapshot() {
	now := time.Now()
	if now.Hour() < s.snapshotHour {
		return
	}
	if err := s.TakeSnapshot(); err != nil {
		log.Printf("Snapshot service: failed to take snapshot: %v", err)
	}
}

// TakeSnapshot records today's totals. Upsert-by-day: running twice in one
// day overwrites rather than duplicates.
func (s *SnapshotService) TakeSnapshot() error {
	snapshot := models.CollectionValueSnapshot{
		SnapshotDate: models.DayOf(time.Now()),
	}

	s.db.Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(quantity), 0)").Scan(&snapshot.TotalCards)

	var unique int64
	s.db.Model(&models.LedgerEntry{}).Distinct("printing_id").Count(&unique)
	snapshot.UniquePrints = int(unique)

	s.db.Table("ledger_entries").
		Select(`COALESCE(SUM(
			CASE WHEN ledger_entries.foil
				THEN COALESCE(printings.foil_price, 0)
				ELSE COALESCE(printings.price, 0)
			END * ledger_entries.quantity
		), 0)`).
		Joins("JOIN printings ON printings.id = ledger_entries.printing_id").
		Scan(&snapshot.TotalValue)

	s.db.Table("ledger_entries").
		Select("COALESCE(SUM(COALESCE(printings.foil_price, 0) * ledger_entries.quantity), 0)").
		Joins("JOIN printings ON printings.id = ledger_entries.printing_id").
		Where("ledger_entries.foil").
		Scan(&snapshot.FoilValue)

	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "snapshot_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_cards", "unique_prints", "total_value", "foil_value"}),
	}).Create(&snapshot).Error
}

// GetHistory returns snapshots for the requested period.
func (s *SnapshotService) GetHistory(period string) ([]models.CollectionValueSnapshot, error) {
	var since time.Time
	now := time.Now()
	switch period {
	case "week":
		since = now.AddDate(0, 0, -7)
	case "month":
		since = now.AddDate(0, -1, 0)
	case "year":
		since = now.AddDate(-1, 0, 0)
	default: // "all"
		since = time.Time{}
	}

	var snapshots []models.CollectionValueSnapshot
	query := s.db.Order("snapshot_date ASC")
	if !since.IsZero() {
		query = query.Where("snapshot_date >= ?", since)
	}
	if err := query.Find(&snapshots).Error; err != nil {
		return nil, err
	}
	return snapshots, nil
}
