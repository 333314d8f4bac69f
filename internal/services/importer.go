package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cardbinder/collector/internal/metrics"
	"github.com/cardbinder/collector/internal/models"
)

// Importer reconciles batches of catalog records against the store. All of
// its writes are idempotent: re-importing an already-known printing is a
// no-op, and the set/printing inserts carry their existence guard inside the
// write so concurrent imports cannot race a prior read.
type Importer struct {
	db         *gorm.DB
	catalog    CatalogAPI
	prices     PriceAPI
	collection *CollectionService
}

func NewImporter(db *gorm.DB, catalog CatalogAPI, prices PriceAPI, collection *CollectionService) *Importer {
	return &Importer{
		db:         db,
		catalog:    catalog,
		prices:     prices,
		collection: collection,
	}
}

// ImportPrintings inserts any sets, cards, and printings from the batch that
// the store does not know yet, and resolves pricing product ids for the new
// printings. Returns the printings it created. Only store-level failures
// are fatal; a single record failing to resolve is logged and skipped.
func (im *Importer) ImportPrintings(ctx context.Context, records []models.CatalogPrinting) ([]models.Printing, error) {
	if len(records) == 0 {
		return nil, nil
	}

	setsByCode, err := im.ensureSets(ctx, records)
	if err != nil {
		return nil, err
	}

	// Classify the whole batch in one query rather than one per record
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ScryfallID)
	}
	var knownIDs []string
	if err := im.db.Model(&models.Printing{}).Where("scryfall_id IN ?", ids).Pluck("scryfall_id", &knownIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to load known printing ids: %w", err)
	}
	known := make(map[string]bool, len(knownIDs))
	for _, id := range knownIDs {
		known[id] = true
	}

	var created []models.Printing
	cardIDs := make(map[string]uint)
	for _, r := range records {
		if known[r.ScryfallID] {
			continue
		}

		set, ok := setsByCode[models.NormalizeSetCode(r.SetCode)]
		if !ok {
			log.Printf("Import: no set for %q (%s), skipping %s", r.SetCode, r.Name, r.ScryfallID)
			continue
		}

		cardID, ok := cardIDs[r.Name]
		if !ok {
			card := models.Card{Name: r.Name}
			if err := im.db.Where(models.Card{Name: r.Name}).FirstOrCreate(&card).Error; err != nil {
				return created, fmt.Errorf("failed to create card %q: %w", r.Name, err)
			}
			cardID = card.ID
			cardIDs[r.Name] = cardID
		}

		language := r.Language
		if language == "" {
			language = "en"
		}

		printing := models.Printing{
			CardID:             cardID,
			CardSetID:          set.ID,
			CollectorNumber:    r.CollectorNumber,
			Language:           language,
			Rarity:             r.Rarity,
			ScryfallID:         r.ScryfallID,
			TCGPlayerProductID: r.TCGPlayerProductID,
			MultiFaced:         r.MultiFaced,
		}
		// Insert-if-not-exists: a concurrent import hitting the same
		// (set, collector number) or scryfall id is absorbed, not an error.
		result := im.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&printing)
		if result.Error != nil {
			return created, fmt.Errorf("failed to create printing %s: %w", r.ScryfallID, result.Error)
		}
		if result.RowsAffected == 0 {
			continue // lost the race, already present
		}

		known[r.ScryfallID] = true
		created = append(created, printing)
	}

	im.resolveProductIDs(ctx, created)
	metrics.ImportedPrintingsTotal.Add(float64(len(created)))

	return created, nil
}

// ensureSets creates CardSet rows for any set code in the batch the store has
// not seen, fetching full metadata from the catalog for unseen codes only.
func (im *Importer) ensureSets(ctx context.Context, records []models.CatalogPrinting) (map[string]models.CardSet, error) {
	names := make(map[string]string)
	for _, r := range records {
		code := models.NormalizeSetCode(r.SetCode)
		if code != "" {
			names[code] = r.SetName
		}
	}
	codes := make([]string, 0, len(names))
	for code := range names {
		codes = append(codes, code)
	}

	var existing []models.CardSet
	if err := im.db.Where("code IN ?", codes).Find(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to load sets: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, set := range existing {
		seen[set.Code] = true
	}

	for code, name := range names {
		if seen[code] {
			continue
		}

		var releasedAt *time.Time
		info, err := im.catalog.GetSet(ctx, code)
		switch {
		case err != nil:
			// The batch already carries a displayable name; metadata can be
			// backfilled on a later sync
			log.Printf("Import: set lookup for %q failed: %v", code, err)
		case info != nil:
			name = info.Name
			if t, perr := time.Parse("2006-01-02", info.ReleasedAt); perr == nil {
				releasedAt = &t
			}
		}

		set := models.CardSet{
			Code:             code,
			Name:             name,
			ReleasedAt:       releasedAt,
			TCGPlayerGroupID: nil,
		}
		if info != nil {
			set.TCGPlayerGroupID = info.GroupID
		}
		// Guard inside the write: two concurrent imports of the same unseen
		// code produce one row
		err = im.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoNothing: true,
		}).Create(&set).Error
		if err != nil {
			return nil, fmt.Errorf("failed to create set %q: %w", code, err)
		}
	}

	// Reload so conflict-skipped inserts resolve to the winning row's id
	var sets []models.CardSet
	if err := im.db.Where("code IN ?", codes).Find(&sets).Error; err != nil {
		return nil, fmt.Errorf("failed to reload sets: %w", err)
	}
	byCode := make(map[string]models.CardSet, len(sets))
	for _, set := range sets {
		byCode[set.Code] = set
	}
	return byCode, nil
}

// resolveProductIDs backfills pricing product ids for freshly created
// printings and persists each hit immediately, so a later failure cannot
// lose already-resolved ids. Resolution failures never abort the batch.
func (im *Importer) resolveProductIDs(ctx context.Context, created []models.Printing) {
	needsResolution := false
	for i := range created {
		if created[i].TCGPlayerProductID == nil {
			needsResolution = true
		} else {
			// Catalog supplied the product id directly; persist it with the row
			// (already done at insert) and move on
			continue
		}
	}
	if !needsResolution {
		return
	}

	token, err := im.prices.Login(ctx)
	if err != nil {
		log.Printf("Import: price service login failed, leaving product ids unresolved: %v", err)
		return
	}

	for i := range created {
		p := &created[i]
		if p.TCGPlayerProductID != nil {
			continue
		}

		var card models.Card
		var set models.CardSet
		if err := im.db.First(&card, p.CardID).Error; err != nil {
			continue
		}
		if err := im.db.First(&set, p.CardSetID).Error; err != nil {
			continue
		}

		productID, err := im.prices.SearchProductID(ctx, token, card.Name, set.Name, p.Rarity)
		if err != nil {
			log.Printf("Import: product id search for %s (%s) failed: %v", card.Name, set.Name, err)
			continue
		}
		if productID == nil {
			continue // no match, eligible for later price-sync resolution
		}

		p.TCGPlayerProductID = productID
		if err := im.db.Model(&models.Printing{}).Where("id = ?", p.ID).
			Update("tcg_player_product_id", *productID).Error; err != nil {
			log.Printf("Import: failed to persist product id for printing %d: %v", p.ID, err)
		}
	}
}
