package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cardbinder/collector/internal/metrics"
	"github.com/cardbinder/collector/internal/models"
)

const (
	// defaultSyncInterval is how often the background loop refreshes the
	// stalest printings.
	defaultSyncInterval = 15 * time.Minute

	// defaultRefreshBatch bounds how many printings one background run touches.
	defaultRefreshBatch = 500
)

// PriceSyncService reconciles stored prices with the pricing service. Each
// run logs in once and threads the session token through every call. Failures
// are chunk-scoped: one bad batch never corrupts prices already written.
type PriceSyncService struct {
	db           *gorm.DB
	prices       PriceAPI
	syncInterval time.Duration
	refreshBatch int

	mu             sync.RWMutex
	lastRunTime    time.Time
	updatedLastRun int
}

type PriceSyncStatus struct {
	LastRunTime    time.Time `json:"last_run_time"`
	NextRunTime    time.Time `json:"next_run_time"`
	UpdatedLastRun int       `json:"updated_last_run"`
	BatchSize      int       `json:"batch_size"`
}

func NewPriceSyncService(db *gorm.DB, prices PriceAPI) *PriceSyncService {
	return &PriceSyncService{
		db:           db,
		prices:       prices,
		syncInterval: defaultSyncInterval,
		refreshBatch: defaultRefreshBatch,
	}
}

// Start runs the periodic refresh loop until the context is cancelled.
func (s *PriceSyncService) Start(ctx context.Context) {
	log.Printf("Price sync started: refreshing up to %d printings every %v", s.refreshBatch, s.syncInterval)

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Price sync stopping...")
			return
		case <-ticker.C:
			if updated, err := s.SyncStalest(ctx); err != nil {
				log.Printf("Price sync: periodic run failed: %v", err)
			} else if updated > 0 {
				log.Printf("Price sync: periodic run updated %d printings", updated)
			}
		}
	}
}

// SyncStalest refreshes the printings whose prices are oldest or missing.
func (s *PriceSyncService) SyncStalest(ctx context.Context) (int, error) {
	summaries, err := s.loadSummaries(`
		ORDER BY p.price_updated_at ASC NULLS FIRST
		LIMIT ?`, s.refreshBatch)
	if err != nil {
		return 0, err
	}
	return s.syncWithLogin(ctx, summaries)
}

// SyncMissing refreshes only printings that have never received a price.
func (s *PriceSyncService) SyncMissing(ctx context.Context) (int, error) {
	summaries, err := s.loadSummaries(`
		WHERE p.price IS NULL AND p.foil_price IS NULL`)
	if err != nil {
		return 0, err
	}
	return s.syncWithLogin(ctx, summaries)
}

// SyncOne refreshes a single printing.
func (s *PriceSyncService) SyncOne(ctx context.Context, printingID uint) (int, error) {
	summaries, err := s.loadSummaries(`WHERE p.id = ?`, printingID)
	if err != nil {
		return 0, err
	}
	if len(summaries) == 0 {
		return 0, ErrNotFound
	}
	return s.syncWithLogin(ctx, summaries)
}

// SyncSet refreshes every printing in a set, backfilling the set's pricing
// group id on the way when it is still unknown.
func (s *PriceSyncService) SyncSet(ctx context.Context, setCode string) (int, error) {
	code := models.NormalizeSetCode(setCode)

	var set models.CardSet
	if err := s.db.Where("code = ?", code).First(&set).Error; err != nil {
		return 0, ErrNotFound
	}

	token, err := s.prices.Login(ctx)
	if err != nil {
		return 0, err
	}

	if set.TCGPlayerGroupID == nil {
		groupID, err := s.prices.GroupIDForSet(ctx, token, set.Name)
		if err != nil {
			log.Printf("Price sync: group id lookup for %q failed: %v", set.Name, err)
		} else if groupID != nil {
			s.db.Model(&models.CardSet{}).Where("id = ?", set.ID).
				Update("tcg_player_group_id", *groupID)
		}
	}

	summaries, err := s.loadSummaries(`WHERE cs.code = ?`, code)
	if err != nil {
		return 0, err
	}
	return s.SyncPrintings(ctx, token, summaries)
}

// SyncPrintingIDs refreshes a specific list of printings, used after an
// import so new rows get prices without waiting for the periodic run.
func (s *PriceSyncService) SyncPrintingIDs(ctx context.Context, ids []uint) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	summaries, err := s.loadSummaries(`WHERE p.id IN ?`, ids)
	if err != nil {
		return 0, err
	}
	return s.syncWithLogin(ctx, summaries)
}

func (s *PriceSyncService) syncWithLogin(ctx context.Context, summaries []models.PrintingSummary) (int, error) {
	if len(summaries) == 0 {
		return 0, nil
	}
	token, err := s.prices.Login(ctx)
	if err != nil {
		return 0, err
	}
	return s.SyncPrintings(ctx, token, summaries)
}

// SyncPrintings is the core reconciliation pass: resolve missing product ids
// (persisting each hit immediately), drop what still cannot be priced, fetch
// quotes in bounded chunks, and bulk-upsert only quotes that actually carry a
// price. A chunk-level failure skips that chunk's updates for this run.
func (s *PriceSyncService) SyncPrintings(ctx context.Context, token string, summaries []models.PrintingSummary) (int, error) {
	start := time.Now()

	for i := range summaries {
		p := &summaries[i]
		if p.ProductID != nil {
			continue
		}

		productID, err := s.prices.SearchProductID(ctx, token, p.Name, p.SetName, p.Rarity)
		if err != nil {
			log.Printf("Price sync: product id search for %s (%s) failed: %v", p.Name, p.SetName, err)
			continue
		}
		if productID == nil {
			continue
		}

		p.ProductID = productID
		// Persist immediately so a partial failure later cannot lose the
		// resolution work
		if err := s.db.Model(&models.Printing{}).Where("id = ?", p.ID).
			Update("tcg_player_product_id", *productID).Error; err != nil {
			log.Printf("Price sync: failed to persist product id for printing %d: %v", p.ID, err)
		}
	}

	// Filter out printings still lacking a product id to save requests
	resolved := summaries[:0]
	for _, p := range summaries {
		if p.ProductID != nil {
			resolved = append(resolved, p)
		}
	}

	updated := 0
	for offset := 0; offset < len(resolved); offset += PriceBatchLimit {
		end := offset + PriceBatchLimit
		if end > len(resolved) {
			end = len(resolved)
		}
		chunk := resolved[offset:end]

		products := make(map[uint]int, len(chunk))
		for _, p := range chunk {
			products[p.ID] = *p.ProductID
		}

		quotes, err := s.prices.GetPrices(ctx, token, products)
		if err != nil {
			// This chunk's prices are simply not updated this run
			log.Printf("Price sync: price lookup for %d printings failed: %v", len(chunk), err)
			continue
		}

		n, err := s.persistQuotes(quotes)
		if err != nil {
			return updated, err
		}
		updated += n
	}

	s.mu.Lock()
	s.lastRunTime = time.Now()
	s.updatedLastRun = updated
	s.mu.Unlock()

	metrics.PriceUpdatesTotal.Add(float64(updated))
	metrics.PriceBatchDuration.Observe(time.Since(start).Seconds())
	metrics.UpdateCollectionMetrics(s.db)

	log.Printf("Price sync: updated prices for %d of %d printings", updated, len(summaries))
	return updated, nil
}

// persistQuotes writes usable quotes in a single bulk upsert keyed by
// printing id, and records the daily history point. Quotes with no price at
// all are skipped: the service having no data must never clear a stored price.
func (s *PriceSyncService) persistQuotes(quotes map[uint]models.PriceQuote) (int, error) {
	now := time.Now()
	day := models.DayOf(now)

	var rows []models.Printing
	var history []models.PricePoint
	for printingID, quote := range quotes {
		if quote.Empty() {
			continue
		}
		rows = append(rows, models.Printing{
			ID:             printingID,
			Price:          quote.Normal,
			FoilPrice:      quote.Foil,
			PriceUpdatedAt: &now,
		})
		history = append(history, models.PricePoint{
			PrintingID: printingID,
			Day:        day,
			Price:      quote.Normal,
			FoilPrice:  quote.Foil,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"price", "foil_price", "price_updated_at", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("failed to save prices: %w", err)
	}

	// One history row per printing per day
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "printing_id"}, {Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{"price", "foil_price"}),
	}).Create(&history).Error
	if err != nil {
		log.Printf("Price sync: failed to record price history: %v", err)
	}

	return len(rows), nil
}

// loadSummaries builds the printing summaries the sync pass works on.
func (s *PriceSyncService) loadSummaries(tail string, args ...interface{}) ([]models.PrintingSummary, error) {
	var summaries []models.PrintingSummary
	query := `
		SELECT p.id, p.tcg_player_product_id AS product_id, c.name,
			cs.name AS set_name, cs.code AS set_code,
			p.collector_number, p.rarity
		FROM printings p
		JOIN cards c ON c.id = p.card_id
		JOIN card_sets cs ON cs.id = p.card_set_id
	` + tail
	if err := s.db.Raw(query, args...).Scan(&summaries).Error; err != nil {
		return nil, fmt.Errorf("failed to load printing summaries: %w", err)
	}
	return summaries, nil
}

// Status reports the worker's last run for the status endpoint.
func (s *PriceSyncService) Status() PriceSyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return PriceSyncStatus{
		LastRunTime:    s.lastRunTime,
		NextRunTime:    s.lastRunTime.Add(s.syncInterval),
		UpdatedLastRun: s.updatedLastRun,
		BatchSize:      PriceBatchLimit,
	}
}
