// Package aggregate fans a stream search out across every eligible addon and
// merges the normalized results into one candidate list.
package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/luinog1/crumble-engine/pkg/addon"
	"github.com/luinog1/crumble-engine/pkg/fallback"
	"github.com/luinog1/crumble-engine/pkg/normalize"
)

// ErrNormalizationEmpty marks an addon that responded but yielded no usable
// candidate after normalization.
var ErrNormalizationEmpty = errors.New("normalization produced no candidates")

// TorrentioManifestURL is registered automatically before the first search
// when no torrentio-like addon is installed, so searches always have at
// least one torrent provider to ask.
const TorrentioManifestURL = "https://torrentio.strem.fun/manifest.json"

// Canary stream served when every addon comes back empty, so playback paths
// stay exercisable end to end.
var canaryCandidate = normalize.StreamCandidate{
	URL:     "https://test-streams.mux.dev/x36xhzz/x36xhzz.m3u8",
	Title:   "Test Stream (HLS)",
	Quality: "HD",
	Kind:    normalize.KindHLS,
}

var imdbIDRE = regexp.MustCompile(`tt\d+`)

// alternatePathPatterns are probed in order for addons whose canonical
// stream path 404s, covering the non-standard layouts seen in the wild.
var alternatePathPatterns = []string{
	"%s/stream/%s/%s",
	"%s/streams/%s/%s",
	"%s/api/stream/%s/%s",
}

// Aggregator runs stream searches. Identical concurrent searches for the
// same (type, id) are coalesced into a single upstream fan-out.
type Aggregator struct {
	registry   *addon.Registry
	httpClient *http.Client
	logger     *slog.Logger
	group      singleflight.Group

	torrentioURL string
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithTorrentioURL overrides the auto-registered torrentio manifest URL.
// Empty disables auto-registration.
func WithTorrentioURL(manifestURL string) AggregatorOption {
	return func(a *Aggregator) { a.torrentioURL = manifestURL }
}

// NewAggregator builds an aggregator over the given registry.
func NewAggregator(registry *addon.Registry, httpClient *http.Client, logger *slog.Logger, opts ...AggregatorOption) *Aggregator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		registry:     registry,
		httpClient:   httpClient,
		logger:       logger,
		torrentioURL: TorrentioManifestURL,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FindStreams searches every eligible addon for (mediaType, id) and returns
// the merged candidate list, ordered by registry insertion order. A single
// addon failing never fails the search; an entirely empty result degrades to
// the canary stream. Concurrent identical searches share one fan-out.
func (a *Aggregator) FindStreams(ctx context.Context, mediaType, id string) ([]normalize.StreamCandidate, error) {
	key := mediaType + "/" + id
	ch := a.group.DoChan(key, func() (any, error) {
		return a.findStreams(context.WithoutCancel(ctx), mediaType, id), nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]normalize.StreamCandidate), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Aggregator) findStreams(ctx context.Context, mediaType, id string) []normalize.StreamCandidate {
	a.ensureTorrentio(ctx)

	searchID := canonicalIMDBID(id)

	var providers []addon.Manifest
	for _, m := range a.registry.All() {
		if m.SupportsResource("stream") || addon.MatchesStreamHint(&m) {
			providers = append(providers, m)
		}
	}

	attempts := make([]fallback.Attempt[[]normalize.StreamCandidate], 0, len(providers))
	for _, provider := range providers {
		provider := provider
		attempts = append(attempts, func(ctx context.Context) ([]normalize.StreamCandidate, error) {
			return a.queryAddon(ctx, &provider, mediaType, searchID)
		})
	}

	var merged []normalize.StreamCandidate
	for i, outcome := range fallback.Parallel(ctx, attempts) {
		if outcome.Err != nil {
			a.logger.WarnContext(ctx, "addon stream search failed",
				slog.String("addon_id", providers[i].ID),
				slog.String("media_type", mediaType),
				slog.String("id", searchID),
				slog.Any("error", outcome.Err))
			continue
		}
		merged = append(merged, outcome.Value...)
	}

	if len(merged) == 0 {
		return []normalize.StreamCandidate{canaryCandidate}
	}
	return merged
}

// ensureTorrentio registers the default torrent provider unless one that
// looks like torrentio is already installed.
func (a *Aggregator) ensureTorrentio(ctx context.Context) {
	if a.torrentioURL == "" {
		return
	}
	for _, m := range a.registry.All() {
		if strings.Contains(m.BaseURL, "torrentio") {
			return
		}
	}
	if _, err := a.registry.Add(ctx, a.torrentioURL); err != nil {
		a.logger.WarnContext(ctx, "failed to auto-register torrent provider",
			slog.String("manifest_url", a.torrentioURL),
			slog.Any("error", err))
	}
}

// canonicalIMDBID maps composite ids like "tmdb-12345-tt0111161" onto the
// embedded IMDB id addons actually understand. Ids already in canonical form
// pass through unchanged.
func canonicalIMDBID(id string) string {
	if strings.HasPrefix(id, "tt") && imdbIDRE.FindString(id) == id {
		return id
	}
	if embedded := imdbIDRE.FindString(id); embedded != "" {
		return embedded
	}
	return id
}

// queryAddon fetches and normalizes one addon's stream response. The
// canonical ".json" path is tried first; providers on non-standard layouts
// get the alternate paths probed in order until one answers 2xx.
func (a *Aggregator) queryAddon(ctx context.Context, provider *addon.Manifest, mediaType, id string) ([]normalize.StreamCandidate, error) {
	urls := []string{fmt.Sprintf("%s/stream/%s/%s.json", provider.BaseURL, mediaType, id)}
	for _, pattern := range alternatePathPatterns {
		urls = append(urls, fmt.Sprintf(pattern, provider.BaseURL, mediaType, id))
	}

	payload, err := a.fetchFirst(ctx, urls)
	if err != nil {
		return nil, err
	}

	candidates := normalize.Normalize(payload, normalize.Source{
		AddonID:   provider.ID,
		AddonName: provider.Name,
	})
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: addon %s", ErrNormalizationEmpty, provider.ID)
	}
	return candidates, nil
}

func (a *Aggregator) fetchFirst(ctx context.Context, urls []string) (any, error) {
	var lastErr error
	for _, u := range urls {
		payload, err := a.fetchJSON(ctx, u)
		if err != nil {
			lastErr = err
			continue
		}
		return payload, nil
	}
	return nil, lastErr
}

func (a *Aggregator) fetchJSON(ctx context.Context, streamURL string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to http.NewRequestWithContext: %w", err)
	}
	res, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to http.Client.Do: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("invalid status code: %d", res.StatusCode)
	}

	var payload any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to json.Decoder.Decode: %w", err)
	}
	return payload, nil
}
