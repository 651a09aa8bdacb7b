package addon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/luinog1/crumble-engine/pkg/stremio"
)

// ErrUnsupportedResource is returned by strict catalog resolution when the
// addon does not declare the catalog resource or the requested catalog.
var ErrUnsupportedResource = errors.New("unsupported resource")

// CatalogItem is one normalized catalog row handed to the UI layer.
type CatalogItem struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Poster string  `json:"poster,omitempty"`
	Type   string  `json:"type"`
	Year   int     `json:"year,omitempty"`
	Rating float64 `json:"rating,omitempty"`
}

// CatalogResolver fetches one catalog from one addon and maps it into
// CatalogItems. Resolve never fails: any upstream problem degrades to a
// deterministic placeholder list so browsing stays responsive.
type CatalogResolver struct {
	registry   *Registry
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCatalogResolver builds a resolver over the given registry.
func NewCatalogResolver(registry *Registry, httpClient *http.Client, logger *slog.Logger) *CatalogResolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogResolver{registry: registry, httpClient: httpClient, logger: logger}
}

// Resolve returns the catalog content for (addonID, catalogType, catalogID).
// Unknown addons, undeclared catalogs, unreachable hosts, and malformed
// payloads all yield the placeholder list instead of an error.
func (r *CatalogResolver) Resolve(ctx context.Context, addonID, catalogType, catalogID string, extra url.Values) []CatalogItem {
	items, err := r.ResolveStrict(ctx, addonID, catalogType, catalogID, extra)
	if err != nil {
		r.logger.WarnContext(ctx, "catalog resolution degraded to placeholder content",
			slog.String("addon_id", addonID),
			slog.String("catalog_type", catalogType),
			slog.String("catalog_id", catalogID),
			slog.Any("error", err))
		return PlaceholderItems(catalogType)
	}
	return items
}

// ResolveStrict is Resolve without the placeholder safety net. The service
// layer uses it where the caller wants to see the actual failure.
func (r *CatalogResolver) ResolveStrict(ctx context.Context, addonID, catalogType, catalogID string, extra url.Values) ([]CatalogItem, error) {
	manifest, ok := r.registry.Get(addonID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAddon, addonID)
	}
	if !manifest.SupportsResource("catalog") {
		return nil, fmt.Errorf("%w: addon %s does not serve catalogs", ErrUnsupportedResource, addonID)
	}
	if _, ok := manifest.Catalog(catalogType, catalogID); !ok {
		return nil, fmt.Errorf("%w: addon %s has no catalog %s/%s", ErrUnsupportedResource, addonID, catalogType, catalogID)
	}

	catalogURL := buildCatalogURL(manifest.BaseURL, catalogType, catalogID, extra)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, catalogURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to http.NewRequestWithContext: %w", err)
	}
	res, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to http.Client.Do: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("invalid status code: %d", res.StatusCode)
	}

	var envelope stremio.MetasEnvelope
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to json.Decoder.Decode: %w", err)
	}

	items := make([]CatalogItem, 0, len(envelope.Metas))
	for _, meta := range envelope.Metas {
		items = append(items, mapMeta(meta, catalogType))
	}
	return items, nil
}

func buildCatalogURL(baseURL, catalogType, catalogID string, extra url.Values) string {
	query := url.Values{}
	if len(extra) > 0 {
		query = extra
	} else {
		query.Set("skip", "0")
		query.Set("limit", "100")
	}
	return fmt.Sprintf("%s/catalog/%s/%s.json?%s", baseURL, catalogType, url.PathEscape(catalogID), query.Encode())
}

func mapMeta(meta stremio.Meta, catalogType string) CatalogItem {
	title := meta.Label()
	if title == "" {
		title = "Unknown Title"
	}
	itemType := meta.Type
	if itemType == "" {
		itemType = catalogType
	}
	item := CatalogItem{
		ID:     meta.ID,
		Title:  title,
		Poster: meta.Poster,
		Type:   itemType,
		Year:   int(meta.Year),
	}
	if rating, ok := meta.IMDBRating.Float(); ok {
		item.Rating = rating
	}
	return item
}

// PlaceholderItems is the deterministic degraded catalog: same input type,
// same ten rows, every time.
func PlaceholderItems(catalogType string) []CatalogItem {
	kind := "Series"
	if catalogType == "movie" {
		kind = "Movie"
	}
	items := make([]CatalogItem, 0, 10)
	for i := 1; i <= 10; i++ {
		items = append(items, CatalogItem{
			ID:     fmt.Sprintf("tt%d", 1000000+i),
			Title:  fmt.Sprintf("Sample %s %d", kind, i),
			Poster: "/placeholder-poster.svg",
			Type:   catalogType,
			Year:   2023 - (i % 5),
			Rating: 8.5 - float64(i%5)*0.3,
		})
	}
	return items
}
