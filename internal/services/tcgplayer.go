package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cardbinder/collector/internal/metrics"
	"github.com/cardbinder/collector/internal/models"
)

const (
	tcgPlayerBaseURL        = "https://api.tcgplayer.com"
	tcgPlayerDefaultTimeout = 15 * time.Second

	// PriceBatchLimit is TCGPlayer's maximum number of product ids per
	// pricing request. Callers must chunk larger maps before calling GetPrices.
	PriceBatchLimit = 250
)

// PriceAPI is the pricing service contract. The token from Login is a
// session: acquired once per sync run and threaded explicitly through every
// subsequent call, never read from ambient state.
type PriceAPI interface {
	Login(ctx context.Context) (string, error)
	GetPrices(ctx context.Context, token string, products map[uint]int) (map[uint]models.PriceQuote, error)
	SearchProductID(ctx context.Context, token, name, setName, rarity string) (*int, error)
	GroupIDForSet(ctx context.Context, token, setName string) (*int, error)
}

// TCGPlayerService is the pricing adapter.
type TCGPlayerService struct {
	client     *http.Client
	baseURL    string
	publicKey  string
	privateKey string
}

func NewTCGPlayerService(publicKey, privateKey string) *TCGPlayerService {
	return &TCGPlayerService{
		client: &http.Client{
			Timeout: tcgPlayerDefaultTimeout,
		},
		baseURL:    tcgPlayerBaseURL,
		publicKey:  publicKey,
		privateKey: privateKey,
	}
}

type tcgTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type tcgPriceResult struct {
	ProductID   int      `json:"productId"`
	SubTypeName string   `json:"subTypeName"` // "Normal" or "Foil"
	MarketPrice *float64 `json:"marketPrice"`
}

type tcgPriceResponse struct {
	Success bool             `json:"success"`
	Results []tcgPriceResult `json:"results"`
}

type tcgProductResult struct {
	ProductID int    `json:"productId"`
	Name      string `json:"name"`
	GroupID   int    `json:"groupId"`
}

type tcgProductResponse struct {
	Success bool               `json:"success"`
	Results []tcgProductResult `json:"results"`
}

type tcgGroupResult struct {
	GroupID int    `json:"groupId"`
	Name    string `json:"name"`
}

type tcgGroupResponse struct {
	Success bool             `json:"success"`
	Results []tcgGroupResult `json:"results"`
}

// Login acquires a bearer token via client credentials. Call once per sync
// run and pass the token through every later call.
func (s *TCGPlayerService) Login(ctx context.Context) (string, error) {
	metrics.PriceRequestsTotal.WithLabelValues("login").Inc()

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.publicKey)
	form.Set("client_secret", s.privateKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPriceServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: login returned status %d", ErrPriceServiceUnavailable, resp.StatusCode)
	}

	var token tcgTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("%w: decoding token response: %v", ErrPriceServiceUnavailable, err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: login returned empty token", ErrPriceServiceUnavailable)
	}

	return token.AccessToken, nil
}

// GetPrices fetches market prices for up to PriceBatchLimit products. The
// result is keyed by the caller's local printing id. A product id missing
// from the response means the service has no price for it: a skip, not an
// error.
func (s *TCGPlayerService) GetPrices(ctx context.Context, token string, products map[uint]int) (map[uint]models.PriceQuote, error) {
	if len(products) > PriceBatchLimit {
		return nil, fmt.Errorf("price lookup of %d products exceeds limit of %d", len(products), PriceBatchLimit)
	}
	if len(products) == 0 {
		return map[uint]models.PriceQuote{}, nil
	}

	metrics.PriceRequestsTotal.WithLabelValues("prices").Inc()

	// Reverse map for translating response product ids back to local ids
	byProduct := make(map[int][]uint, len(products))
	ids := make([]string, 0, len(products))
	for localID, productID := range products {
		if len(byProduct[productID]) == 0 {
			ids = append(ids, strconv.Itoa(productID))
		}
		byProduct[productID] = append(byProduct[productID], localID)
	}

	reqURL := fmt.Sprintf("%s/pricing/product/%s", s.baseURL, strings.Join(ids, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceServiceUnavailable, err)
	}
	defer resp.Body.Close()

	// TCGPlayer returns 404 when none of the requested products have prices
	if resp.StatusCode == http.StatusNotFound {
		return map[uint]models.PriceQuote{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: price lookup returned status %d", ErrPriceServiceUnavailable, resp.StatusCode)
	}

	var priceResp tcgPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&priceResp); err != nil {
		return nil, fmt.Errorf("%w: decoding price response: %v", ErrPriceServiceUnavailable, err)
	}

	quotes := make(map[uint]models.PriceQuote)
	for _, r := range priceResp.Results {
		if r.MarketPrice == nil {
			continue
		}
		for _, localID := range byProduct[r.ProductID] {
			quote := quotes[localID]
			switch r.SubTypeName {
			case "Foil":
				quote.Foil = r.MarketPrice
			default:
				quote.Normal = r.MarketPrice
			}
			quotes[localID] = quote
		}
	}
	return quotes, nil
}

// SearchProductID backfills an unknown product id for a (name, set, rarity)
// tuple. Returns nil, nil when the service has no match; that is not an error.
func (s *TCGPlayerService) SearchProductID(ctx context.Context, token, name, setName, rarity string) (*int, error) {
	metrics.PriceRequestsTotal.WithLabelValues("search").Inc()

	params := url.Values{}
	params.Set("productName", name)
	params.Set("groupName", setName)
	if rarity != "" {
		params.Set("rarity", rarity)
	}
	params.Set("categoryName", "Magic")
	params.Set("limit", "1")

	reqURL := fmt.Sprintf("%s/catalog/products?%s", s.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: product search returned status %d", ErrPriceServiceUnavailable, resp.StatusCode)
	}

	var productResp tcgProductResponse
	if err := json.NewDecoder(resp.Body).Decode(&productResp); err != nil {
		return nil, fmt.Errorf("%w: decoding product response: %v", ErrPriceServiceUnavailable, err)
	}
	if len(productResp.Results) == 0 {
		return nil, nil
	}

	productID := productResp.Results[0].ProductID
	return &productID, nil
}

// GroupIDForSet resolves the pricing service's group id for a set name,
// used to backfill CardSet.TCGPlayerGroupID. Nil on no match.
func (s *TCGPlayerService) GroupIDForSet(ctx context.Context, token, setName string) (*int, error) {
	metrics.PriceRequestsTotal.WithLabelValues("search").Inc()

	params := url.Values{}
	params.Set("groupName", setName)
	params.Set("limit", "1")

	reqURL := fmt.Sprintf("%s/catalog/categories/1/groups?%s", s.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: group search returned status %d", ErrPriceServiceUnavailable, resp.StatusCode)
	}

	var groupResp tcgGroupResponse
	if err := json.NewDecoder(resp.Body).Decode(&groupResp); err != nil {
		return nil, fmt.Errorf("%w: decoding group response: %v", ErrPriceServiceUnavailable, err)
	}
	if len(groupResp.Results) == 0 {
		return nil, nil
	}

	groupID := groupResp.Results[0].GroupID
	return &groupID, nil
}
