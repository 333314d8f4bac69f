package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cardbinder/collector/internal/database"
	"github.com/cardbinder/collector/internal/models"
	"github.com/cardbinder/collector/internal/services"
)

type stubCatalog struct {
	sets      map[string]*models.CatalogSet
	printings map[string]models.CatalogPrinting
	results   []models.CatalogPrinting
}

func (s *stubCatalog) GetSet(ctx context.Context, code string) (*models.CatalogSet, error) {
	return s.sets[models.NormalizeSetCode(code)], nil
}

func (s *stubCatalog) GetPrinting(ctx context.Context, setCode, collectorNumber string) (*models.CatalogPrinting, error) {
	return nil, nil
}

func (s *stubCatalog) GetBulk(ctx context.Context, scryfallIDs []string) ([]models.CatalogPrinting, error) {
	var out []models.CatalogPrinting
	for _, id := range scryfallIDs {
		if p, ok := s.printings[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubCatalog) Search(ctx context.Context, query string) ([]models.CatalogPrinting, error) {
	return s.results, nil
}

type stubPrices struct{}

func (s *stubPrices) Login(ctx context.Context) (string, error) { return "tok", nil }
func (s *stubPrices) GetPrices(ctx context.Context, token string, products map[uint]int) (map[uint]models.PriceQuote, error) {
	return map[uint]models.PriceQuote{}, nil
}
func (s *stubPrices) SearchProductID(ctx context.Context, token, name, setName, rarity string) (*int, error) {
	return nil, nil
}
func (s *stubPrices) GroupIDForSet(ctx context.Context, token, setName string) (*int, error) {
	return nil, nil
}

type stubRates struct {
	rates map[string]float64
}

func (s *stubRates) FetchRates(ctx context.Context) (map[string]float64, error) {
	return s.rates, nil
}

var apiTestSeq int64

type testEnv struct {
	router     *gin.Engine
	db         *gorm.DB
	catalog    *stubCatalog
	dispatcher *services.SyncDispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:apitest%d?mode=memory&cache=shared", atomic.AddInt64(&apiTestSeq, 1))
	if err := database.Initialize(dsn); err != nil {
		t.Fatalf("failed to initialize database: %v", err)
	}
	db := database.GetDB()

	catalog := &stubCatalog{
		sets:      map[string]*models.CatalogSet{},
		printings: map[string]models.CatalogPrinting{},
	}
	prices := &stubPrices{}
	rates := &stubRates{rates: map[string]float64{"EUR": 0.92}}

	collection := services.NewCollectionService(db)
	importer := services.NewImporter(db, catalog, prices, collection)
	priceSync := services.NewPriceSyncService(db, prices)
	store := services.NewAssetStore(t.TempDir(), "/assets/cards")
	assets := services.NewAssetService(store, catalog)
	snapshots := services.NewSnapshotService(db)
	dispatcher := &services.SyncDispatcher{}

	router := SetupRouter(catalog, importer, collection, priceSync, rates, assets, store, snapshots, dispatcher)
	return &testEnv{router: router, db: db, catalog: catalog, dispatcher: dispatcher}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func asUser(id int) map[string]string {
	return map[string]string{"X-User-ID": fmt.Sprintf("%d", id)}
}

func seedStorePrinting(t *testing.T, db *gorm.DB, name string) models.Printing {
	t.Helper()
	set := models.CardSet{Code: "neo", Name: "Kamigawa: Neon Dynasty"}
	if err := db.Where(models.CardSet{Code: "neo"}).FirstOrCreate(&set).Error; err != nil {
		t.Fatalf("failed to seed set: %v", err)
	}
	card := models.Card{Name: name}
	if err := db.Where(models.Card{Name: name}).FirstOrCreate(&card).Error; err != nil {
		t.Fatalf("failed to seed card: %v", err)
	}
	printing := models.Printing{
		CardID:          card.ID,
		CardSetID:       set.ID,
		CollectorNumber: fmt.Sprintf("%d", atomic.AddInt64(&apiTestSeq, 1)),
		Language:        "en",
		ScryfallID:      fmt.Sprintf("api-seed-%d", atomic.AddInt64(&apiTestSeq, 1)),
	}
	if err := db.Create(&printing).Error; err != nil {
		t.Fatalf("failed to seed printing: %v", err)
	}
	return printing
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestCollectionRequiresUserIdentity(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/collection", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without identity, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/collection", nil, map[string]string{"X-User-ID": "zero"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad identity, got %d", w.Code)
	}
}

func TestCollectionAddAndList(t *testing.T) {
	env := newTestEnv(t)
	printing := seedStorePrinting(t, env.db, "Lightning Bolt")

	body, _ := json.Marshal(models.AddToCollectionRequest{PrintingID: printing.ID, Foil: false, Quantity: 2})
	w := env.do(t, http.MethodPost, "/api/collection", body, asUser(1))
	if w.Code != http.StatusOK {
		t.Fatalf("add failed with %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/collection", nil, asUser(1))
	if w.Code != http.StatusOK {
		t.Fatalf("list failed with %d", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 1 {
		t.Errorf("expected 1 entry, got %d", resp.Count)
	}

	// Another user sees nothing
	w = env.do(t, http.MethodGet, "/api/collection", nil, asUser(2))
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 0 {
		t.Errorf("expected empty collection for other user, got %d", resp.Count)
	}
}

func TestCollectionEditFoilFlipMerges(t *testing.T) {
	env := newTestEnv(t)
	printing := seedStorePrinting(t, env.db, "Lightning Bolt")

	add := func(foil bool, qty int) models.LedgerEntry {
		body, _ := json.Marshal(models.AddToCollectionRequest{PrintingID: printing.ID, Foil: foil, Quantity: qty})
		w := env.do(t, http.MethodPost, "/api/collection", body, asUser(1))
		if w.Code != http.StatusOK {
			t.Fatalf("add failed with %d: %s", w.Code, w.Body.String())
		}
		var resp struct {
			Entry models.LedgerEntry `json:"entry"`
		}
		json.Unmarshal(w.Body.Bytes(), &resp)
		return resp.Entry
	}

	add(false, 4)
	foilEntry := add(true, 2)

	// Flip the foil row to normal: merges into the existing normal row
	flip := false
	body, _ := json.Marshal(models.EditLedgerRequest{Foil: &flip})
	w := env.do(t, http.MethodPut, fmt.Sprintf("/api/collection/%d", foilEntry.ID), body, asUser(1))
	if w.Code != http.StatusOK {
		t.Fatalf("edit failed with %d: %s", w.Code, w.Body.String())
	}

	var result models.LedgerUpdateResponse
	json.Unmarshal(w.Body.Bytes(), &result)
	if result.Operation != "merged" {
		t.Errorf("expected merged, got %q", result.Operation)
	}
	if result.Entry.Quantity != 6 {
		t.Errorf("expected merged quantity 6, got %d", result.Entry.Quantity)
	}

	var count int64
	env.db.Model(&models.LedgerEntry{}).Where("user_id = ?", 1).Count(&count)
	if count != 1 {
		t.Errorf("expected single row after merge, got %d", count)
	}
}

func TestImportUploadAppliesRows(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.sets["neo"] = &models.CatalogSet{Code: "neo", Name: "Kamigawa: Neon Dynasty"}
	env.catalog.printings["id-1"] = models.CatalogPrinting{
		ScryfallID:      "id-1",
		Name:            "Lightning Bolt",
		SetCode:         "neo",
		SetName:         "Kamigawa: Neon Dynasty",
		CollectorNumber: "101",
		Language:        "en",
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "collection.csv")
	part.Write([]byte("scryfall_id,foil_quantity,quantity\nid-1,1,3\n"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", "1")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("upload failed with %d: %s", w.Code, w.Body.String())
	}
	var result models.ImportResult
	json.Unmarshal(w.Body.Bytes(), &result)
	if result.Imported != 1 {
		t.Errorf("expected 1 imported row, got %d", result.Imported)
	}
	if result.NewPrints != 1 {
		t.Errorf("expected 1 new printing, got %d", result.NewPrints)
	}

	var entries []models.LedgerEntry
	env.db.Where("user_id = ?", 1).Find(&entries)
	if len(entries) != 2 {
		t.Fatalf("expected normal and foil rows, got %d", len(entries))
	}

	// Follow-up work was queued for the new printing
	joined := strings.Join(env.dispatcher.Enqueued, ",")
	if !strings.Contains(joined, "sync_new_prices") {
		t.Errorf("expected price sync task queued, got %v", env.dispatcher.Enqueued)
	}
	if !strings.Contains(joined, "fetch_card_image") {
		t.Errorf("expected asset tasks queued, got %v", env.dispatcher.Enqueued)
	}
}

func TestPriceRefreshQueuesWork(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`{"missing_only": true}`)
	w := env.do(t, http.MethodPost, "/api/prices/refresh", body, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if len(env.dispatcher.Enqueued) != 1 || env.dispatcher.Enqueued[0] != "price_refresh_missing" {
		t.Errorf("expected price_refresh_missing queued, got %v", env.dispatcher.Enqueued)
	}
}

func TestRatesRefreshAndList(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/rates/refresh", nil, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/rates", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Base  string             `json:"base"`
		Rates map[string]float64 `json:"rates"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Base != "USD" {
		t.Errorf("expected USD base, got %q", resp.Base)
	}
	if resp.Rates["EUR"] != 0.92 {
		t.Errorf("expected EUR rate stored, got %v", resp.Rates)
	}
}

func TestSearchStoresResults(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.sets["neo"] = &models.CatalogSet{Code: "neo", Name: "Kamigawa: Neon Dynasty"}
	env.catalog.results = []models.CatalogPrinting{
		{
			ScryfallID:      "id-1",
			Name:            "Lightning Bolt",
			SetCode:         "neo",
			SetName:         "Kamigawa: Neon Dynasty",
			CollectorNumber: "101",
			Language:        "en",
		},
	}

	w := env.do(t, http.MethodGet, "/api/cards/search?q=bolt", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search failed with %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 1 {
		t.Errorf("expected 1 result, got %d", resp.Count)
	}

	var stored int64
	env.db.Model(&models.Printing{}).Count(&stored)
	if stored != 1 {
		t.Errorf("expected search hit stored, got %d printings", stored)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/cards/search", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without query, got %d", w.Code)
	}
}

func TestDeckLifecycle(t *testing.T) {
	env := newTestEnv(t)
	printing := seedStorePrinting(t, env.db, "Lightning Bolt")

	// Create
	w := env.do(t, http.MethodPost, "/api/decks", []byte(`{"name": "Burn"}`), asUser(1))
	if w.Code != http.StatusCreated {
		t.Fatalf("create failed with %d: %s", w.Code, w.Body.String())
	}
	var deck models.Deck
	json.Unmarshal(w.Body.Bytes(), &deck)

	// Add a card twice: quantities merge
	cardBody, _ := json.Marshal(models.DeckCardRequest{PrintingID: printing.ID, Quantity: 2})
	env.do(t, http.MethodPost, fmt.Sprintf("/api/decks/%d/cards", deck.ID), cardBody, asUser(1))
	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/decks/%d/cards", deck.ID), cardBody, asUser(1))
	if w.Code != http.StatusOK {
		t.Fatalf("second card add failed with %d: %s", w.Code, w.Body.String())
	}
	var card models.DeckCard
	json.Unmarshal(w.Body.Bytes(), &card)
	if card.Quantity != 4 {
		t.Errorf("expected merged quantity 4, got %d", card.Quantity)
	}

	// Soft delete hides the deck
	env.do(t, http.MethodDelete, fmt.Sprintf("/api/decks/%d", deck.ID), nil, asUser(1))
	w = env.do(t, http.MethodGet, "/api/decks", nil, asUser(1))
	var listResp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &listResp)
	if listResp.Count != 0 {
		t.Errorf("expected deleted deck hidden, got %d", listResp.Count)
	}

	// Restore brings it back with its cards
	env.do(t, http.MethodPost, fmt.Sprintf("/api/decks/%d/restore", deck.ID), nil, asUser(1))
	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/decks/%d", deck.ID), nil, asUser(1))
	if w.Code != http.StatusOK {
		t.Fatalf("get after restore failed with %d", w.Code)
	}
	var restored models.Deck
	json.Unmarshal(w.Body.Bytes(), &restored)
	if len(restored.Cards) != 1 {
		t.Errorf("expected deck card to survive delete/restore, got %d", len(restored.Cards))
	}

	// Deck is scoped to its owner
	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/decks/%d", deck.ID), nil, asUser(2))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for other user, got %d", w.Code)
	}
}
