package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/cardbinder/collector/internal/models"
)

func catalogRecord(id, name, setCode, number string) models.CatalogPrinting {
	return models.CatalogPrinting{
		ScryfallID:      id,
		Name:            name,
		SetCode:         setCode,
		SetName:         "Set " + setCode,
		CollectorNumber: number,
		Language:        "en",
		Rarity:          "rare",
	}
}

func newTestImporter(t *testing.T) (*Importer, *fakeCatalog, *fakePrices) {
	t.Helper()
	db := newTestDB(t)
	catalog := &fakeCatalog{
		sets:      map[string]*models.CatalogSet{},
		printings: map[string]models.CatalogPrinting{},
	}
	prices := &fakePrices{}
	collection := NewCollectionService(db)
	return NewImporter(db, catalog, prices, collection), catalog, prices
}

func TestImportPrintingsCreatesSetCardPrinting(t *testing.T) {
	im, catalog, _ := newTestImporter(t)
	catalog.sets["neo"] = &models.CatalogSet{Code: "neo", Name: "Kamigawa: Neon Dynasty", ReleasedAt: "2022-02-18"}

	created, err := im.ImportPrintings(context.Background(), []models.CatalogPrinting{
		catalogRecord("id-1", "Lightning Bolt", "NEO", "101"),
	})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 created printing, got %d", len(created))
	}

	var set models.CardSet
	if err := im.db.Where("code = ?", "neo").First(&set).Error; err != nil {
		t.Fatalf("set was not created: %v", err)
	}
	if set.Name != "Kamigawa: Neon Dynasty" {
		t.Errorf("expected catalog set name, got %q", set.Name)
	}
	if set.ReleasedAt == nil {
		t.Error("expected release date to be parsed")
	}

	var printing models.Printing
	if err := im.db.Where("scryfall_id = ?", "id-1").First(&printing).Error; err != nil {
		t.Fatalf("printing was not created: %v", err)
	}
	if printing.Language != "en" {
		t.Errorf("expected language en, got %q", printing.Language)
	}
}

func TestImportPrintingsIsIdempotent(t *testing.T) {
	im, catalog, _ := newTestImporter(t)
	catalog.sets["neo"] = &models.CatalogSet{Code: "neo", Name: "Kamigawa: Neon Dynasty"}

	records := []models.CatalogPrinting{
		catalogRecord("id-1", "Lightning Bolt", "neo", "101"),
		catalogRecord("id-2", "Counterspell", "neo", "102"),
	}

	first, err := im.ImportPrintings(context.Background(), records)
	if err != nil {
		t.Fatalf("first import failed: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 created, got %d", len(first))
	}
	setCallsAfterFirst := catalog.setCalls

	second, err := im.ImportPrintings(context.Background(), records)
	if err != nil {
		t.Fatalf("second import failed: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("expected 0 created on re-import, got %d", len(second))
	}
	// The set is already known, so the catalog is not consulted again
	if catalog.setCalls != setCallsAfterFirst {
		t.Errorf("expected no further set lookups, got %d extra", catalog.setCalls-setCallsAfterFirst)
	}

	var count int64
	im.db.Model(&models.Printing{}).Count(&count)
	if count != 2 {
		t.Errorf("expected 2 printings, got %d", count)
	}
}

func TestImportPrintingsSharesCardAcrossReprints(t *testing.T) {
	im, catalog, _ := newTestImporter(t)
	catalog.sets["neo"] = &models.CatalogSet{Code: "neo", Name: "Kamigawa: Neon Dynasty"}
	catalog.sets["2xm"] = &models.CatalogSet{Code: "2xm", Name: "Double Masters"}

	_, err := im.ImportPrintings(context.Background(), []models.CatalogPrinting{
		catalogRecord("id-1", "Lightning Bolt", "neo", "101"),
		catalogRecord("id-2", "Lightning Bolt", "2xm", "55"),
	})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}

	var cards int64
	im.db.Model(&models.Card{}).Where("name = ?", "Lightning Bolt").Count(&cards)
	if cards != 1 {
		t.Errorf("expected one card shared across reprints, got %d", cards)
	}
	var printings int64
	im.db.Model(&models.Printing{}).Count(&printings)
	if printings != 2 {
		t.Errorf("expected 2 printings, got %d", printings)
	}
}

func TestImportPrintingsSurvivesSetLookupFailure(t *testing.T) {
	im, _, _ := newTestImporter(t)
	// The catalog knows nothing; the record's own set name is used instead

	created, err := im.ImportPrintings(context.Background(), []models.CatalogPrinting{
		catalogRecord("id-1", "Lightning Bolt", "neo", "101"),
	})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 created, got %d", len(created))
	}

	var set models.CardSet
	if err := im.db.Where("code = ?", "neo").First(&set).Error; err != nil {
		t.Fatalf("set was not created: %v", err)
	}
	if set.Name != "Set neo" {
		t.Errorf("expected fallback set name from the record, got %q", set.Name)
	}
}

func TestImportPrintingsResolvesProductIDs(t *testing.T) {
	im, catalog, prices := newTestImporter(t)
	catalog.sets["neo"] = &models.CatalogSet{Code: "neo", Name: "Kamigawa: Neon Dynasty"}
	prices.productIDs = map[string]int{"Lightning Bolt": 777}

	_, err := im.ImportPrintings(context.Background(), []models.CatalogPrinting{
		catalogRecord("id-1", "Lightning Bolt", "neo", "101"),
	})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}

	var printing models.Printing
	im.db.Where("scryfall_id = ?", "id-1").First(&printing)
	if printing.TCGPlayerProductID == nil || *printing.TCGPlayerProductID != 777 {
		t.Errorf("expected product id 777 persisted, got %v", printing.TCGPlayerProductID)
	}
	if prices.loginCalls != 1 {
		t.Errorf("expected one login per batch, got %d", prices.loginCalls)
	}
}

func TestImportPrintingsSkipsResolutionWhenCatalogSuppliesIDs(t *testing.T) {
	im, catalog, prices := newTestImporter(t)
	catalog.sets["neo"] = &models.CatalogSet{Code: "neo", Name: "Kamigawa: Neon Dynasty"}

	productID := 555
	record := catalogRecord("id-1", "Lightning Bolt", "neo", "101")
	record.TCGPlayerProductID = &productID

	_, err := im.ImportPrintings(context.Background(), []models.CatalogPrinting{record})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}

	if prices.loginCalls != 0 {
		t.Errorf("expected no price service calls, got %d logins", prices.loginCalls)
	}
	var printing models.Printing
	im.db.Where("scryfall_id = ?", "id-1").First(&printing)
	if printing.TCGPlayerProductID == nil || *printing.TCGPlayerProductID != 555 {
		t.Errorf("expected catalog-supplied product id 555, got %v", printing.TCGPlayerProductID)
	}
}

func TestImportPrintingsLoginFailureLeavesIDsUnresolved(t *testing.T) {
	im, catalog, prices := newTestImporter(t)
	catalog.sets["neo"] = &models.CatalogSet{Code: "neo", Name: "Kamigawa: Neon Dynasty"}
	prices.loginErr = fmt.Errorf("service down")

	created, err := im.ImportPrintings(context.Background(), []models.CatalogPrinting{
		catalogRecord("id-1", "Lightning Bolt", "neo", "101"),
	})
	if err != nil {
		t.Fatalf("import should not fail on price service outage: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 created, got %d", len(created))
	}

	var printing models.Printing
	im.db.Where("scryfall_id = ?", "id-1").First(&printing)
	if printing.TCGPlayerProductID != nil {
		t.Error("expected unresolved product id after login failure")
	}
}
