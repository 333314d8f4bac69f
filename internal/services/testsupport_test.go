package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cardbinder/collector/internal/models"
)

var testDBSeq int64

// newFileTestDB opens a file-backed store so concurrent writers contend on
// real sqlite locks. Transactions take the write lock up front and busy
// waiters retry instead of failing.
func newFileTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", filepath.Join(t.TempDir(), "service.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	migrateTestModels(t, db)
	return db
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Named in-memory database so the connection pool shares one store
	dsn := fmt.Sprintf("file:servicetest%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	migrateTestModels(t, db)
	return db
}

func migrateTestModels(t *testing.T, db *gorm.DB) {
	t.Helper()
	err := db.AutoMigrate(
		&models.CardSet{},
		&models.Card{},
		&models.Printing{},
		&models.LedgerEntry{},
		&models.PricePoint{},
		&models.ExchangeRate{},
		&models.ImportBatch{},
		&models.ImportRow{},
		&models.Deck{},
		&models.DeckCard{},
		&models.CollectionValueSnapshot{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
}

// fakeCatalog is an in-memory CatalogAPI for tests.
type fakeCatalog struct {
	mu        sync.Mutex
	sets      map[string]*models.CatalogSet
	printings map[string]models.CatalogPrinting // keyed by scryfall id
	results   []models.CatalogPrinting

	setCalls  int
	bulkCalls [][]string
	bulkErr   error
}

func (f *fakeCatalog) GetSet(ctx context.Context, code string) (*models.CatalogSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	return f.sets[models.NormalizeSetCode(code)], nil
}

func (f *fakeCatalog) GetPrinting(ctx context.Context, setCode, collectorNumber string) (*models.CatalogPrinting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.printings {
		if models.NormalizeSetCode(p.SetCode) == models.NormalizeSetCode(setCode) && p.CollectorNumber == collectorNumber {
			return &p, nil
		}
	}
	return nil, nil
}

func (f *fakeCatalog) GetBulk(ctx context.Context, scryfallIDs []string) ([]models.CatalogPrinting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(scryfallIDs) > CatalogBulkLimit {
		return nil, fmt.Errorf("bulk lookup of %d ids exceeds catalog limit of %d", len(scryfallIDs), CatalogBulkLimit)
	}
	f.bulkCalls = append(f.bulkCalls, scryfallIDs)
	if f.bulkErr != nil {
		return nil, f.bulkErr
	}
	var out []models.CatalogPrinting
	for _, id := range scryfallIDs {
		if p, ok := f.printings[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeCatalog) Search(ctx context.Context, query string) ([]models.CatalogPrinting, error) {
	return f.results, nil
}

// fakePrices is an in-memory PriceAPI for tests.
type fakePrices struct {
	mu         sync.Mutex
	productIDs map[string]int                 // keyed by card name
	quotes     map[int]models.PriceQuote      // keyed by product id
	groupIDs   map[string]int                 // keyed by set name

	loginCalls  int
	loginErr    error
	searchCalls int
	priceCalls  []map[uint]int
	priceErr    error
}

func (f *fakePrices) Login(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return "test-token", nil
}

func (f *fakePrices) GetPrices(ctx context.Context, token string, products map[uint]int) (map[uint]models.PriceQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(products) > PriceBatchLimit {
		return nil, fmt.Errorf("price lookup of %d products exceeds limit of %d", len(products), PriceBatchLimit)
	}
	f.priceCalls = append(f.priceCalls, products)
	if f.priceErr != nil {
		return nil, f.priceErr
	}
	quotes := make(map[uint]models.PriceQuote)
	for localID, productID := range products {
		if q, ok := f.quotes[productID]; ok {
			quotes[localID] = q
		}
	}
	return quotes, nil
}

func (f *fakePrices) SearchProductID(ctx context.Context, token, name, setName, rarity string) (*int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	if id, ok := f.productIDs[name]; ok {
		return &id, nil
	}
	return nil, nil
}

func (f *fakePrices) GroupIDForSet(ctx context.Context, token, setName string) (*int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.groupIDs[setName]; ok {
		return &id, nil
	}
	return nil, nil
}

var seedSeq int64

// seedPrinting creates a set, card, and printing directly in the store.
func seedPrinting(t *testing.T, db *gorm.DB, setCode, cardName, collectorNumber string) models.Printing {
	t.Helper()

	code := models.NormalizeSetCode(setCode)
	set := models.CardSet{Code: code, Name: "Set " + code}
	if err := db.Where(models.CardSet{Code: code}).FirstOrCreate(&set).Error; err != nil {
		t.Fatalf("failed to seed set: %v", err)
	}
	card := models.Card{Name: cardName}
	if err := db.Where(models.Card{Name: cardName}).FirstOrCreate(&card).Error; err != nil {
		t.Fatalf("failed to seed card: %v", err)
	}
	printing := models.Printing{
		CardID:          card.ID,
		CardSetID:       set.ID,
		CollectorNumber: collectorNumber,
		Language:        "en",
		Rarity:          "rare",
		ScryfallID:      fmt.Sprintf("seed-%d", atomic.AddInt64(&seedSeq, 1)),
	}
	if err := db.Create(&printing).Error; err != nil {
		t.Fatalf("failed to seed printing: %v", err)
	}
	return printing
}
