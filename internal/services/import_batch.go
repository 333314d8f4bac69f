package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cardbinder/collector/internal/metrics"
	"github.com/cardbinder/collector/internal/models"
)

// ImportRowInput is one parsed upload row: which printing and how many
// copies, split by foil state.
type ImportRowInput struct {
	ScryfallID   string
	Quantity     int
	FoilQuantity int
}

// CreateBatch persists an upload as a batch plus rows before any external
// call happens, so a crash mid-import leaves a resumable record.
func (im *Importer) CreateBatch(userID uint, inputs []ImportRowInput) (*models.ImportBatch, error) {
	batch := models.ImportBatch{
		ID:     uuid.New().String(),
		UserID: userID,
	}
	err := im.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&batch).Error; err != nil {
			return err
		}
		rows := make([]models.ImportRow, len(inputs))
		for i, in := range inputs {
			rows[i] = models.ImportRow{
				BatchID:      batch.ID,
				ScryfallID:   in.ScryfallID,
				Quantity:     in.Quantity,
				FoilQuantity: in.FoilQuantity,
			}
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create import batch: %w", err)
	}
	return &batch, nil
}

// ProcessBatch works through a batch's incomplete rows: bulk-resolves unknown
// ids against the catalog in bounded chunks, reconciles new printings into
// the store, and applies quantities to the user's ledger. Completed rows are
// flagged so re-running the batch touches only what is left. Rows whose
// catalog chunk failed stay incomplete for the next run; rows the catalog
// does not know are closed with a note. Returns the batch summary and any
// printings created.
func (im *Importer) ProcessBatch(ctx context.Context, batchID string) (*models.ImportResult, []models.Printing, error) {
	var batch models.ImportBatch
	err := im.db.Where("id = ?", batchID).First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	var rows []models.ImportRow
	if err := im.db.Where("batch_id = ? AND completed = ?", batchID, false).Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	result := &models.ImportResult{BatchID: batchID}
	if len(rows) == 0 {
		return result, nil, nil
	}

	// Close invalid rows with a note; the batch continues without them
	var valid []models.ImportRow
	for _, row := range rows {
		note := ""
		switch {
		case row.ScryfallID == "":
			note = "missing card identifier"
		case row.Quantity <= 0 && row.FoilQuantity <= 0:
			note = "no positive quantity"
		}
		if note != "" {
			im.closeRowWithNote(row, note)
			result.Skipped++
			result.Notes = append(result.Notes, fmt.Sprintf("row %d: %s", row.ID, note))
			continue
		}
		valid = append(valid, row)
	}

	ids := make([]string, 0, len(valid))
	idSeen := make(map[string]bool, len(valid))
	for _, row := range valid {
		if !idSeen[row.ScryfallID] {
			idSeen[row.ScryfallID] = true
			ids = append(ids, row.ScryfallID)
		}
	}

	// Already-known printings resolve without a catalog call
	var knownPrintings []models.Printing
	if err := im.db.Where("scryfall_id IN ?", ids).Find(&knownPrintings).Error; err != nil {
		return nil, nil, err
	}
	byScryfallID := make(map[string]models.Printing, len(knownPrintings))
	for _, p := range knownPrintings {
		byScryfallID[p.ScryfallID] = p
	}

	var unknown []string
	for _, id := range ids {
		if _, ok := byScryfallID[id]; !ok {
			unknown = append(unknown, id)
		}
	}

	// Bulk-resolve unknown ids in catalog-sized chunks. A failed chunk keeps
	// its rows incomplete so a resume retries only those.
	failed := make(map[string]bool)
	var fetched []models.CatalogPrinting
	for offset := 0; offset < len(unknown); offset += CatalogBulkLimit {
		end := offset + CatalogBulkLimit
		if end > len(unknown) {
			end = len(unknown)
		}
		chunk := unknown[offset:end]

		records, err := im.catalog.GetBulk(ctx, chunk)
		if err != nil {
			log.Printf("Import: bulk lookup of %d ids failed: %v", len(chunk), err)
			for _, id := range chunk {
				failed[id] = true
			}
			continue
		}
		fetched = append(fetched, records...)
	}

	created, err := im.ImportPrintings(ctx, fetched)
	if err != nil {
		return nil, nil, err
	}
	result.NewPrints = len(created)
	for _, p := range created {
		byScryfallID[p.ScryfallID] = p
	}
	// Records the catalog returned that raced another import: resolve from
	// the store
	for _, r := range fetched {
		if _, ok := byScryfallID[r.ScryfallID]; ok {
			continue
		}
		var p models.Printing
		if err := im.db.Where("scryfall_id = ?", r.ScryfallID).First(&p).Error; err == nil {
			byScryfallID[r.ScryfallID] = p
		}
	}

	for _, row := range valid {
		printing, ok := byScryfallID[row.ScryfallID]
		if !ok {
			if failed[row.ScryfallID] {
				continue // chunk failed, stays incomplete for resume
			}
			note := "unknown card identifier"
			im.closeRowWithNote(row, note)
			result.Skipped++
			result.Notes = append(result.Notes, fmt.Sprintf("row %d: %s", row.ID, note))
			continue
		}

		// The ledger writes and the completion flag commit together, so a
		// crash can never leave an applied-but-incomplete row for a resume
		// to apply again
		err := im.db.Transaction(func(tx *gorm.DB) error {
			ledger := im.collection.withTx(tx)
			if row.Quantity > 0 {
				if _, err := ledger.Add(batch.UserID, printing.ID, false, row.Quantity); err != nil {
					return err
				}
			}
			if row.FoilQuantity > 0 {
				if _, err := ledger.Add(batch.UserID, printing.ID, true, row.FoilQuantity); err != nil {
					return err
				}
			}
			printingID := printing.ID
			row.PrintingID = &printingID
			row.Completed = true
			return tx.Save(&row).Error
		})
		if err != nil {
			return nil, nil, err
		}
		result.Imported++
	}

	metrics.ImportSkippedRowsTotal.Add(float64(result.Skipped))
	return result, created, nil
}

func (im *Importer) closeRowWithNote(row models.ImportRow, note string) {
	row.Note = note
	row.Completed = true
	if err := im.db.Save(&row).Error; err != nil {
		log.Printf("Import: failed to record note on row %d: %v", row.ID, err)
	}
}
