package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/cardbinder/collector/internal/metrics"
	"github.com/cardbinder/collector/internal/models"
)

const (
	scryfallBaseURL        = "https://api.scryfall.com"
	scryfallDefaultTimeout = 10 * time.Second

	// CatalogBulkLimit is Scryfall's documented maximum for the collection
	// endpoint. Callers must chunk larger id lists before calling GetBulk.
	CatalogBulkLimit = 75

	// Scryfall asks for no more than 10 requests per second.
	scryfallRequestsPerSecond = 10

	setCacheSize = 50

	// Scryfall search pages hold 175 cards. Broad queries are cut off after
	// this many pages rather than walked to the end.
	searchMaxPages = 5
)

// CatalogAPI is the card catalog contract the pipeline depends on.
// GetSet and GetPrinting return nil, nil when the entity does not exist.
type CatalogAPI interface {
	GetSet(ctx context.Context, code string) (*models.CatalogSet, error)
	GetPrinting(ctx context.Context, setCode, collectorNumber string) (*models.CatalogPrinting, error)
	GetBulk(ctx context.Context, scryfallIDs []string) ([]models.CatalogPrinting, error)
	Search(ctx context.Context, query string) ([]models.CatalogPrinting, error)
}

// ScryfallService is the catalog adapter. It paces requests and caches set
// metadata, but never retries: retry policy belongs to the caller.
type ScryfallService struct {
	client   *http.Client
	baseURL  string
	limiter  *rate.Limiter
	setCache *lru.Cache[string, *models.CatalogSet]
}

func NewScryfallService() *ScryfallService {
	setCache, _ := lru.New[string, *models.CatalogSet](setCacheSize)
	return &ScryfallService{
		client: &http.Client{
			Timeout: scryfallDefaultTimeout,
		},
		baseURL:  scryfallBaseURL,
		limiter:  rate.NewLimiter(rate.Limit(scryfallRequestsPerSecond), scryfallRequestsPerSecond),
		setCache: setCache,
	}
}

type scryfallSet struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	ReleasedAt string `json:"released_at"`
	IconSVGURI string `json:"icon_svg_uri"`
}

type scryfallListResponse struct {
	Data     []scryfallCard `json:"data"`
	NotFound []any          `json:"not_found"`
	HasMore  bool           `json:"has_more"`
	NextPage string         `json:"next_page"`
}

type scryfallCard struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Set          string          `json:"set"`
	SetName      string          `json:"set_name"`
	CollectorNum string          `json:"collector_number"`
	Lang         string          `json:"lang"`
	Rarity       string          `json:"rarity"`
	TCGPlayerID  *int            `json:"tcgplayer_id"`
	ImageURIs    *scryfallImages `json:"image_uris"`
	CardFaces    []scryfallFace  `json:"card_faces"`
}

type scryfallImages struct {
	Normal  string `json:"normal"`
	Large   string `json:"large"`
	ArtCrop string `json:"art_crop"`
}

type scryfallFace struct {
	ImageURIs *scryfallImages `json:"image_uris"`
}

func (s *ScryfallService) GetSet(ctx context.Context, code string) (*models.CatalogSet, error) {
	code = models.NormalizeSetCode(code)
	if cached, ok := s.setCache.Get(code); ok {
		return cached, nil
	}

	metrics.CatalogRequestsTotal.WithLabelValues("set").Inc()
	reqURL := fmt.Sprintf("%s/sets/%s", s.baseURL, url.PathEscape(code))

	resp, err := s.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		metrics.CatalogErrorsTotal.Inc()
		return nil, fmt.Errorf("%w: set lookup returned status %d", ErrCatalogUnavailable, resp.StatusCode)
	}

	var set scryfallSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		metrics.CatalogErrorsTotal.Inc()
		return nil, fmt.Errorf("%w: decoding set response: %v", ErrCatalogUnavailable, err)
	}

	result := &models.CatalogSet{
		Code:       models.NormalizeSetCode(set.Code),
		Name:       set.Name,
		ReleasedAt: set.ReleasedAt,
		IconURL:    set.IconSVGURI,
	}
	s.setCache.Add(code, result)
	return result, nil
}

func (s *ScryfallService) GetPrinting(ctx context.Context, setCode, collectorNumber string) (*models.CatalogPrinting, error) {
	metrics.CatalogRequestsTotal.WithLabelValues("printing").Inc()

	// Scryfall expects path params, so we must PathEscape.
	setEscaped := url.PathEscape(strings.ToLower(setCode))
	numberEscaped := url.PathEscape(collectorNumber)
	reqURL := fmt.Sprintf("%s/cards/%s/%s", s.baseURL, setEscaped, numberEscaped)

	resp, err := s.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		metrics.CatalogErrorsTotal.Inc()
		return nil, fmt.Errorf("%w: printing lookup returned status %d", ErrCatalogUnavailable, resp.StatusCode)
	}

	var sc scryfallCard
	if err := json.NewDecoder(resp.Body).Decode(&sc); err != nil {
		metrics.CatalogErrorsTotal.Inc()
		return nil, fmt.Errorf("%w: decoding printing response: %v", ErrCatalogUnavailable, err)
	}

	printing := s.convertToPrinting(sc)
	return &printing, nil
}

// GetBulk resolves up to CatalogBulkLimit scryfall ids in one call. IDs the
// catalog does not know are silently absent from the result; a non-2xx or
// malformed response fails the whole call.
func (s *ScryfallService) GetBulk(ctx context.Context, scryfallIDs []string) ([]models.CatalogPrinting, error) {
	if len(scryfallIDs) > CatalogBulkLimit {
		return nil, fmt.Errorf("bulk lookup of %d ids exceeds catalog limit of %d", len(scryfallIDs), CatalogBulkLimit)
	}
	if len(scryfallIDs) == 0 {
		return nil, nil
	}

	metrics.CatalogRequestsTotal.WithLabelValues("bulk").Inc()

	type identifier struct {
		ID string `json:"id"`
	}
	identifiers := make([]identifier, len(scryfallIDs))
	for i, id := range scryfallIDs {
		identifiers[i] = identifier{ID: id}
	}
	body, err := json.Marshal(map[string]any{"identifiers": identifiers})
	if err != nil {
		return nil, fmt.Errorf("failed to encode bulk request: %w", err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/cards/collection", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.CatalogErrorsTotal.Inc()
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.CatalogErrorsTotal.Inc()
		return nil, fmt.Errorf("%w: bulk lookup returned status %d", ErrCatalogUnavailable, resp.StatusCode)
	}

	var list scryfallListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		metrics.CatalogErrorsTotal.Inc()
		return nil, fmt.Errorf("%w: decoding bulk response: %v", ErrCatalogUnavailable, err)
	}

	printings := make([]models.CatalogPrinting, len(list.Data))
	for i, sc := range list.Data {
		printings[i] = s.convertToPrinting(sc)
	}
	return printings, nil
}

// Search pages through results via next_page, up to searchMaxPages pages.
func (s *ScryfallService) Search(ctx context.Context, query string) ([]models.CatalogPrinting, error) {
	reqURL := fmt.Sprintf("%s/cards/search?q=%s", s.baseURL, url.QueryEscape(query))

	var printings []models.CatalogPrinting
	for page := 0; reqURL != "" && page < searchMaxPages; page++ {
		metrics.CatalogRequestsTotal.WithLabelValues("search").Inc()

		resp, err := s.get(ctx, reqURL)
		if err != nil {
			return nil, err
		}

		// No matches is an empty result, not an error
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return printings, nil
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			metrics.CatalogErrorsTotal.Inc()
			return nil, fmt.Errorf("%w: search returned status %d", ErrCatalogUnavailable, resp.StatusCode)
		}

		var list scryfallListResponse
		err = json.NewDecoder(resp.Body).Decode(&list)
		resp.Body.Close()
		if err != nil {
			metrics.CatalogErrorsTotal.Inc()
			return nil, fmt.Errorf("%w: decoding search response: %v", ErrCatalogUnavailable, err)
		}

		for _, sc := range list.Data {
			printings = append(printings, s.convertToPrinting(sc))
		}

		reqURL = ""
		if list.HasMore {
			reqURL = list.NextPage
		}
	}
	return printings, nil
}

func (s *ScryfallService) get(ctx context.Context, reqURL string) (*http.Response, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		metrics.CatalogErrorsTotal.Inc()
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	return resp, nil
}

func (s *ScryfallService) convertToPrinting(sc scryfallCard) models.CatalogPrinting {
	var artURL, imageURL string
	if sc.ImageURIs != nil {
		artURL = sc.ImageURIs.ArtCrop
		imageURL = sc.ImageURIs.Normal
	} else if len(sc.CardFaces) > 0 && sc.CardFaces[0].ImageURIs != nil {
		// Multi-faced cards keep their images on the faces
		artURL = sc.CardFaces[0].ImageURIs.ArtCrop
		imageURL = sc.CardFaces[0].ImageURIs.Normal
	}

	return models.CatalogPrinting{
		ScryfallID:         sc.ID,
		Name:               sc.Name,
		SetCode:            models.NormalizeSetCode(sc.Set),
		SetName:            sc.SetName,
		CollectorNumber:    sc.CollectorNum,
		Language:           sc.Lang,
		Rarity:             sc.Rarity,
		MultiFaced:         len(sc.CardFaces) > 0,
		TCGPlayerProductID: sc.TCGPlayerID,
		ArtURL:             artURL,
		ImageURL:           imageURL,
	}
}
