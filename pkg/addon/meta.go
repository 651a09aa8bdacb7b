package addon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/luinog1/crumble-engine/pkg/stremio"
)

// MetaDetail is the full metadata record for one title, richer than a
// catalog row.
type MetaDetail struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Type        string   `json:"type"`
	Poster      string   `json:"poster,omitempty"`
	Background  string   `json:"background,omitempty"`
	Description string   `json:"description,omitempty"`
	Year        int      `json:"year,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
	ReleaseInfo string   `json:"releaseInfo,omitempty"`
	Genres      []string `json:"genres,omitempty"`
}

// ResolveMeta fetches {baseUrl}/meta/{type}/{id}.json from one addon. The
// response is accepted wrapped in {"meta": ...} or as a bare object.
func (r *CatalogResolver) ResolveMeta(ctx context.Context, addonID, metaType, id string) (*MetaDetail, error) {
	manifest, ok := r.registry.Get(addonID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAddon, addonID)
	}
	if !manifest.SupportsResource("meta") {
		return nil, fmt.Errorf("%w: addon %s does not serve meta", ErrUnsupportedResource, addonID)
	}

	metaURL := fmt.Sprintf("%s/meta/%s/%s.json", manifest.BaseURL, metaType, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metaURL, nil)
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

	var envelope stremio.MetaEnvelope
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to json.Decoder.Decode: %w", err)
	}

	meta := envelope.Meta
	title := meta.Label()
	if title == "" {
		title = "Unknown Title"
	}
	itemType := meta.Type
	if itemType == "" {
		itemType = metaType
	}
	detail := &MetaDetail{
		ID:          meta.ID,
		Title:       title,
		Type:        itemType,
		Poster:      meta.Poster,
		Background:  meta.Background,
		Description: meta.Description,
		Year:        int(meta.Year),
		ReleaseInfo: meta.ReleaseInfo,
		Genres:      meta.Genres,
	}
	if rating, ok := meta.IMDBRating.Float(); ok {
		detail.Rating = rating
	}
	return detail, nil
}
