package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cardbinder/collector/internal/models"
)

const (
	openExchangeRatesBaseURL = "https://openexchangerates.org/api"
	ratesDefaultTimeout      = 10 * time.Second
)

// RatesAPI fetches currency exchange rates against USD.
type RatesAPI interface {
	FetchRates(ctx context.Context) (map[string]float64, error)
}

// OpenExchangeRatesService is the exchange-rate adapter.
type OpenExchangeRatesService struct {
	client  *http.Client
	baseURL string
	appID   string
}

func NewOpenExchangeRatesService(appID string) *OpenExchangeRatesService {
	return &OpenExchangeRatesService{
		client: &http.Client{
			Timeout: ratesDefaultTimeout,
		},
		baseURL: openExchangeRatesBaseURL,
		appID:   appID,
	}
}

type ratesResponse struct {
	Rates map[string]float64 `json:"rates"`
}

func (s *OpenExchangeRatesService) FetchRates(ctx context.Context) (map[string]float64, error) {
	params := url.Values{}
	params.Set("app_id", s.appID)
	params.Set("base", "USD")

	reqURL := fmt.Sprintf("%s/latest.json?%s", s.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch exchange rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange rate API returned status %d", resp.StatusCode)
	}

	var rates ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&rates); err != nil {
		return nil, fmt.Errorf("failed to decode exchange rates: %w", err)
	}

	return rates.Rates, nil
}

// RefreshRates fetches current rates and bulk-upserts them by currency code.
// Same reconciliation shape as price sync: a fetch failure leaves stored
// rates untouched.
func RefreshRates(ctx context.Context, db *gorm.DB, api RatesAPI) error {
	rates, err := api.FetchRates(ctx)
	if err != nil {
		return err
	}
	if len(rates) == 0 {
		return nil
	}

	now := time.Now()
	updates := make([]models.ExchangeRate, 0, len(rates))
	for code, rate := range rates {
		updates = append(updates, models.ExchangeRate{Code: code, Rate: rate, UpdatedAt: now})
	}

	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"rate", "updated_at"}),
	}).Create(&updates).Error
	if err != nil {
		return fmt.Errorf("failed to save exchange rates: %w", err)
	}

	log.Printf("Exchange rates: updated %d currencies", len(updates))
	return nil
}
