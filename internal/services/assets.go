package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cardbinder/collector/internal/metrics"
)

// AssetKind selects which asset is being cached. Art and image differ only in
// source URL field and destination name.
type AssetKind string

const (
	AssetArt   AssetKind = "art"
	AssetImage AssetKind = "image"
)

const assetFetchTimeout = 30 * time.Second

// AssetStore resolves cache file locations and their public URLs.
type AssetStore struct {
	dir     string
	baseURL string
}

func NewAssetStore(dir, baseURL string) *AssetStore {
	if err := os.MkdirAll(dir, 0755); err != nil {
		// Will surface on the first write instead
		log.Printf("Warning: could not create asset directory %s: %v", dir, err)
	}
	return &AssetStore{dir: dir, baseURL: baseURL}
}

func (s *AssetStore) LocalPath(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *AssetStore) PublicURL(name string) string {
	return s.baseURL + "/" + name
}

func (s *AssetStore) Dir() string {
	return s.dir
}

// AssetService lazily materializes card art, card images, and set icons in
// the local cache. Fetches happen at most once per asset: the existence check
// makes every task body idempotent under at-least-once delivery.
type AssetService struct {
	store   *AssetStore
	catalog CatalogAPI
	client  *http.Client
}

func NewAssetService(store *AssetStore, catalog CatalogAPI) *AssetService {
	return &AssetService{
		store:   store,
		catalog: catalog,
		client: &http.Client{
			Timeout: assetFetchTimeout,
		},
	}
}

func CardArtFilename(printingID uint) string {
	return fmt.Sprintf("card_art_%d.jpg", printingID)
}

func CardImageFilename(printingID uint) string {
	return fmt.Sprintf("card_image_%d.jpg", printingID)
}

func SetIconFilename(code string) string {
	return fmt.Sprintf("set_icon_%s.svg", code)
}

// EnsureAsset makes sure the cache file for one of a printing's assets
// exists, fetching it if it does not. A present file means no network call
// at all.
func (s *AssetService) EnsureAsset(ctx context.Context, kind AssetKind, printingID uint, setCode, collectorNumber string) error {
	var filename string
	switch kind {
	case AssetArt:
		filename = CardArtFilename(printingID)
	case AssetImage:
		filename = CardImageFilename(printingID)
	default:
		return fmt.Errorf("unknown asset kind %q", kind)
	}

	path := s.store.LocalPath(filename)
	if _, err := os.Stat(path); err == nil {
		metrics.AssetFetchesTotal.WithLabelValues(string(kind), "cached").Inc()
		return nil
	}

	printing, err := s.catalog.GetPrinting(ctx, setCode, collectorNumber)
	if err != nil {
		metrics.AssetFetchesTotal.WithLabelValues(string(kind), "failed").Inc()
		return err
	}
	if printing == nil {
		metrics.AssetFetchesTotal.WithLabelValues(string(kind), "failed").Inc()
		return fmt.Errorf("%w: printing %s/%s", ErrNotFound, setCode, collectorNumber)
	}

	sourceURL := printing.ImageURL
	if kind == AssetArt {
		sourceURL = printing.ArtURL
	}
	if sourceURL == "" {
		metrics.AssetFetchesTotal.WithLabelValues(string(kind), "failed").Inc()
		return fmt.Errorf("%w: no %s url for printing %s/%s", ErrNotFound, kind, setCode, collectorNumber)
	}

	if err := s.fetchToFile(ctx, sourceURL, path); err != nil {
		metrics.AssetFetchesTotal.WithLabelValues(string(kind), "failed").Inc()
		return err
	}
	metrics.AssetFetchesTotal.WithLabelValues(string(kind), "fetched").Inc()
	return nil
}

// EnsureSetIcon is the set-scoped variant: keyed by set code only.
func (s *AssetService) EnsureSetIcon(ctx context.Context, code string) error {
	path := s.store.LocalPath(SetIconFilename(code))
	if _, err := os.Stat(path); err == nil {
		metrics.AssetFetchesTotal.WithLabelValues("set_icon", "cached").Inc()
		return nil
	}

	set, err := s.catalog.GetSet(ctx, code)
	if err != nil {
		metrics.AssetFetchesTotal.WithLabelValues("set_icon", "failed").Inc()
		return err
	}
	if set == nil || set.IconURL == "" {
		metrics.AssetFetchesTotal.WithLabelValues("set_icon", "failed").Inc()
		return fmt.Errorf("%w: no icon for set %s", ErrNotFound, code)
	}

	if err := s.fetchToFile(ctx, set.IconURL, path); err != nil {
		metrics.AssetFetchesTotal.WithLabelValues("set_icon", "failed").Inc()
		return err
	}
	metrics.AssetFetchesTotal.WithLabelValues("set_icon", "fetched").Inc()
	return nil
}

func (s *AssetService) fetchToFile(ctx context.Context, sourceURL, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("asset fetch returned status %d", resp.StatusCode)
	}

	// Write to a temp file first so a partial download never looks like a
	// cached asset to a concurrent existence check
	tmp, err := os.CreateTemp(filepath.Dir(path), ".asset-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
