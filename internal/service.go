package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/centrifugal/centrifuge"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/luinog1/crumble-engine/internal/cache"
	"github.com/luinog1/crumble-engine/internal/common"
	"github.com/luinog1/crumble-engine/internal/loki"
	"github.com/luinog1/crumble-engine/pkg/addon"
	"github.com/luinog1/crumble-engine/pkg/aggregate"
	"github.com/luinog1/crumble-engine/pkg/debrid"
	"github.com/luinog1/crumble-engine/pkg/imdb"
	"github.com/luinog1/crumble-engine/pkg/normalize"
	"github.com/luinog1/crumble-engine/pkg/player"
	"github.com/luinog1/crumble-engine/pkg/subtitles"
)

// Stats represents statistical data including search and play counts in the last 24 hours and instant title information.
type Stats struct {
	// SearchesCount24 represents the number of stream searches performed in the last 24 hours.
	SearchesCount24 int `json:"searchesCount24"`
	// PlaysCount24 represents the number of playback handoffs within the last 24 hours.
	PlaysCount24 int `json:"playsCount24"`
	// TitleInstant holds the title information for immediate reporting or broadcasting in statistical data.
	TitleInstant string `json:"titleInstant"`
}

// PlaybackPlan is the outcome of a playback request: which player handles
// it, the deep link to open, and the in-app source config for streams the
// engine keeps internal.
type PlaybackPlan struct {
	Player   player.Player       `json:"player,omitempty"`
	Link     string              `json:"link,omitempty"`
	Internal player.SourceConfig `json:"internal"`
}

// EngineService defines the engine's operations over addons, streams,
// debrid services, subtitles, and playback.
type EngineService interface {
	// Handler handles incoming HTTP requests via a websocket handler
	http.Handler
	// AddAddon registers the addon served at the given URL.
	AddAddon(ctx context.Context, addonURL string) (*addon.Manifest, error)
	// RemoveAddon removes the addon with the given id.
	RemoveAddon(ctx context.Context, id string) error
	// ListAddons returns every registered addon.
	ListAddons(ctx context.Context) []addon.Manifest
	// GetCatalog resolves one addon catalog, degrading to placeholder content on upstream failure.
	GetCatalog(ctx context.Context, addonID, catalogType, catalogID string, extra url.Values) []addon.CatalogItem
	// GetMeta fetches the full metadata record for one title from one addon.
	GetMeta(ctx context.Context, addonID, metaType, id string) (*addon.MetaDetail, error)
	// FindStreams aggregates stream candidates for a title across every eligible addon.
	FindStreams(ctx context.Context, mediaType, id string) ([]normalize.StreamCandidate, error)
	// ResolveLink runs a stream link through the configured debrid chain.
	ResolveLink(ctx context.Context, link string) (debrid.Resolution, error)
	// TestDebridCredential verifies the stored API key for one debrid provider.
	TestDebridCredential(ctx context.Context, provider debrid.Provider) (bool, error)
	// Play prepares a playback handoff for a stream URL.
	Play(ctx context.Context, streamURL string, opts player.Options) (*PlaybackPlan, error)
	// ListSubtitles aggregates subtitle entries for a title across subtitle-capable addons.
	ListSubtitles(ctx context.Context, mediaType, id string) ([]subtitles.Entry, error)
	// FetchSubtitleFile downloads one subtitle file, unpacking and re-encoding it to UTF-8.
	FetchSubtitleFile(ctx context.Context, fileURL string) (*subtitles.File, error)
	// GetStats returns the current statistical snapshot.
	GetStats(ctx context.Context) Stats
	// BroadcastStats updates and publishes statistical data to a websocket channel.
	// Accepts a function to modify stats and returns an error if updating or publishing fails.
	BroadcastStats(statsUpdater func(stats *Stats) error) error
	// StartPollingStats begins the periodic fetching and broadcasting of statistical data at the specified interval.
	StartPollingStats(interval time.Duration)
}

type engineService struct {
	statsWebsocketChannel string
	registry              *addon.Registry
	catalogs              *addon.CatalogResolver
	aggregator            *aggregate.Aggregator
	debrid                *debrid.Resolver
	subtitles             *subtitles.Fetcher
	imdb                  imdb.IMDB
	loki                  loki.Loki

	externalPlayer player.Player
	fallbackPlayer player.Player

	node             *centrifuge.Node
	websocketHandler *centrifuge.WebsocketHandler
	statsMutex       *sync.Mutex
	stats            Stats
}

// EngineServiceDeps bundles the collaborators of the engine service.
type EngineServiceDeps struct {
	Registry   *addon.Registry
	Catalogs   *addon.CatalogResolver
	Aggregator *aggregate.Aggregator
	Debrid     *debrid.Resolver
	Subtitles  *subtitles.Fetcher
	IMDB       imdb.IMDB
	Loki       loki.Loki

	ExternalPlayer player.Player
	FallbackPlayer player.Player
}

// NewEngineService creates a new instance of EngineService with the provided collaborators.
func NewEngineService(statsWebsocketChannel string, deps EngineServiceDeps) EngineService {
	svc := &engineService{
		statsWebsocketChannel: statsWebsocketChannel,
		registry:              deps.Registry,
		catalogs:              deps.Catalogs,
		aggregator:            deps.Aggregator,
		debrid:                deps.Debrid,
		subtitles:             deps.Subtitles,
		imdb:                  deps.IMDB,
		loki:                  deps.Loki,
		externalPlayer:        deps.ExternalPlayer,
		fallbackPlayer:        deps.FallbackPlayer,

		statsMutex: &sync.Mutex{},
	}

	node, err := centrifuge.New(centrifuge.Config{})
	if err != nil {
		common.Log.Error("Failed to centrifuge.New", "err", err)
		os.Exit(1)
	}
	svc.node = node

	node.OnConnecting(func(ctx context.Context, e centrifuge.ConnectEvent) (centrifuge.ConnectReply, error) {
		return centrifuge.ConnectReply{}, nil
	})

	node.OnConnect(func(client *centrifuge.Client) {
		client.OnSubscribe(func(e centrifuge.SubscribeEvent, cb centrifuge.SubscribeCallback) {
			if e.Channel != statsWebsocketChannel {
				cb(centrifuge.SubscribeReply{}, centrifuge.ErrorPermissionDenied)
				return
			}

			cb(centrifuge.SubscribeReply{
				Options: centrifuge.SubscribeOptions{},
			}, nil)

			// Todo: Avoid broadcasting to all clients
			go func() {
				err := svc.BroadcastStats(func(data *Stats) error { return nil })
				if err != nil {
					common.Log.Warn("Failed to internal.EngineService.BroadcastStats", "err", err)
				}
			}()
		})

	})

	if err := node.Run(); err != nil {
		common.Log.Error("Failed to centrifuge.Node.Run", "err", err)
		os.Exit(1)
	}

	websocketHandler := centrifuge.NewWebsocketHandler(node, centrifuge.WebsocketConfig{
		ReadBufferSize:     1024,
		UseWriteBufferPool: true,
	})
	svc.websocketHandler = websocketHandler

	return svc
}

// AddAddon registers the addon served at the given URL.
func (s *engineService) AddAddon(ctx context.Context, addonURL string) (*addon.Manifest, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.EngineService.AddAddon")
	defer span.End()

	manifest, err := s.registry.Add(ctx, addonURL)
	if err != nil {
		return nil, fmt.Errorf("failed to addon.Registry.Add: %w", err)
	}
	span.SetAttributes(attribute.String("addon.id", manifest.ID))
	common.Log.InfoContext(ctx, "Registered addon", "id", manifest.ID, "name", manifest.Name)

	return manifest, nil
}

// RemoveAddon removes the addon with the given id.
func (s *engineService) RemoveAddon(ctx context.Context, id string) error {

	_, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.EngineService.RemoveAddon")
	defer span.End()

	span.SetAttributes(attribute.String("addon.id", id))
	return s.registry.Remove(id)
}

// ListAddons returns every registered addon.
func (s *engineService) ListAddons(ctx context.Context) []addon.Manifest {
	return s.registry.All()
}

// GetCatalog resolves one addon catalog, degrading to placeholder content on upstream failure.
func (s *engineService) GetCatalog(ctx context.Context, addonID, catalogType, catalogID string, extra url.Values) []addon.CatalogItem {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.EngineService.GetCatalog")
	defer span.End()

	span.SetAttributes(attribute.String("addon.id", addonID))
	span.SetAttributes(attribute.String("catalog.type", catalogType))
	span.SetAttributes(attribute.String("catalog.id", catalogID))

	return s.catalogs.Resolve(ctx, addonID, catalogType, catalogID, extra)
}

// GetMeta fetches the full metadata record for one title from one addon.
func (s *engineService) GetMeta(ctx context.Context, addonID, metaType, id string) (*addon.MetaDetail, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.EngineService.GetMeta")
	defer span.End()

	span.SetAttributes(attribute.String("addon.id", addonID))
	span.SetAttributes(attribute.String("meta.type", metaType))
	span.SetAttributes(attribute.String("meta.id", id))

	detail, err := s.catalogs.ResolveMeta(ctx, addonID, metaType, id)
	if err != nil {
		return nil, fmt.Errorf("failed to addon.CatalogResolver.ResolveMeta: %w", err)
	}
	return detail, nil
}

// FindStreams aggregates stream candidates for a title across every eligible addon.
// Title metadata is cached to keep the instant-title stat cheap.
func (s *engineService) FindStreams(ctx context.Context, mediaType, id string) ([]normalize.StreamCandidate, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.EngineService.FindStreams")
	defer span.End()

	span.SetAttributes(attribute.String("media.type", mediaType))
	span.SetAttributes(attribute.String("media.id", id))

	if imdbID := common.ExtractIMDBTitleID(id); imdbID != "" {
		go s.broadcastTitleInstant(ctx, imdbID)
	}

	candidates, err := s.aggregator.FindStreams(ctx, mediaType, id)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate.Aggregator.FindStreams: %w", err)
	}
	span.SetAttributes(attribute.Int("streams.count", len(candidates)))
	common.Log.InfoContext(ctx, "Found streams", "count", len(candidates))
	for _, c := range candidates {
		common.StreamsFoundTotalIncr(ctx, c.SourceAddonID)
	}

	return candidates, nil
}

func (s *engineService) broadcastTitleInstant(ctx context.Context, imdbID string) {
	cacheResult := "hit"
	cacheKey := fmt.Sprintf("imdb.title : %s", imdbID)
	cacheTTL := 48 * time.Hour
	imdbTitle, err := cache.Memoize[imdb.Title](cacheKey, cacheTTL, func(string) (*imdb.Title, error) {

		cacheResult = "miss"
		title, err := s.imdb.GetTitle(ctx, imdbID)
		if err != nil {
			return nil, fmt.Errorf("failed to imdb.IMDB.GetTitle: %w", err)
		}

		return title, nil
	})
	common.CacheGetsTotalIncr(ctx, "imdb.title", cacheResult)
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to fetch IMDB title", "err", err)
		return
	}

	err = s.BroadcastStats(func(data *Stats) error {
		data.TitleInstant = imdbTitle.Name
		return nil
	})
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to internal.EngineService.BroadcastStats", "err", err)
	}
}

// ResolveLink runs a stream link through the configured debrid chain.
func (s *engineService) ResolveLink(ctx context.Context, link string) (debrid.Resolution, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.EngineService.ResolveLink")
	defer span.End()

	resolution, err := s.debrid.Resolve(ctx, link)
	if err != nil {
		common.DebridResolutionsTotalIncr(ctx, "", "error")
		return debrid.Resolution{}, fmt.Errorf("failed to debrid.Resolver.Resolve: %w", err)
	}
	if resolution.Provider != "" {
		span.SetAttributes(attribute.String("debrid.provider", string(resolution.Provider)))
		common.DebridResolutionsTotalIncr(ctx, string(resolution.Provider), "ok")
	}

	return resolution, nil
}

// TestDebridCredential verifies the stored API key for one debrid provider.
func (s *engineService) TestDebridCredential(ctx context.Context, provider debrid.Provider) (bool, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.EngineService.TestDebridCredential")
	defer span.End()

	span.SetAttributes(attribute.String("debrid.provider", string(provider)))
	return s.debrid.TestCredential(ctx, provider)
}

// Play prepares a playback handoff for a stream URL. Non-torrent links go
// through the debrid chain first, then the configured external player pair
// decides who gets the stream.
func (s *engineService) Play(ctx context.Context, streamURL string, opts player.Options) (*PlaybackPlan, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.EngineService.Play")
	defer span.End()

	playURL := streamURL
	if player.FormatOf(streamURL) != player.FormatMagnet {
		resolution, err := s.debrid.Resolve(ctx, streamURL)
		if err != nil {
			common.Log.WarnContext(ctx, "Debrid resolution failed, playing original link", "err", err)
		} else if resolution.ResolvedURL != "" {
			playURL = resolution.ResolvedURL
			span.SetAttributes(attribute.String("debrid.provider", string(resolution.Provider)))
		}
	}

	plan := &PlaybackPlan{
		Internal: player.SourceConfig{URL: playURL, Type: normalize.KindFromURL(playURL)},
	}
	if plan.Internal.Type == normalize.KindTorrent {
		plan.Internal.Trackers = normalize.DefaultTrackers
	}

	if s.externalPlayer != "" {
		chosen, link, err := player.Plan(s.externalPlayer, s.fallbackPlayer, playURL, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to player.Plan: %w", err)
		}
		plan.Player = chosen
		plan.Link = link
		span.SetAttributes(attribute.String("player", string(chosen)))
		common.PlaybackHandoffsTotalIncr(ctx, string(chosen))
	}

	return plan, nil
}

// ListSubtitles aggregates subtitle entries for a title across subtitle-capable addons.
func (s *engineService) ListSubtitles(ctx context.Context, mediaType, id string) ([]subtitles.Entry, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.EngineService.ListSubtitles")
	defer span.End()

	span.SetAttributes(attribute.String("media.type", mediaType))
	span.SetAttributes(attribute.String("media.id", id))

	entries, err := s.subtitles.List(ctx, mediaType, id)
	if err != nil {
		return nil, fmt.Errorf("failed to subtitles.Fetcher.List: %w", err)
	}
	span.SetAttributes(attribute.Int("subtitles.count", len(entries)))
	return entries, nil
}

// FetchSubtitleFile downloads one subtitle file, unpacking and re-encoding it to UTF-8.
func (s *engineService) FetchSubtitleFile(ctx context.Context, fileURL string) (*subtitles.File, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.EngineService.FetchSubtitleFile")
	defer span.End()

	file, err := s.subtitles.Fetch(ctx, fileURL)
	if err != nil {
		return nil, fmt.Errorf("failed to subtitles.Fetcher.Fetch: %w", err)
	}
	common.Log.WithGroup("file").InfoContext(ctx, "Got subtitle", "name", file.Name, "size", len(file.Data))

	return file, nil
}

// GetStats returns the current statistical snapshot.
func (s *engineService) GetStats(ctx context.Context) Stats {
	s.statsMutex.Lock()
	defer s.statsMutex.Unlock()
	return s.stats
}

// BroadcastStats updates and publishes statistical data to a websocket channel.
// Accepts a function to modify stats and returns an error if updating or publishing fails.
func (s *engineService) BroadcastStats(statsUpdater func(stats *Stats) error) error {
	stats, err := func() (Stats, error) {
		s.statsMutex.Lock()
		defer s.statsMutex.Unlock()
		err := statsUpdater(&s.stats)
		if err != nil {
			return Stats{}, err
		}
		return s.stats, nil
	}()
	if err != nil {
		return fmt.Errorf("failed to statsUpdater: %w", err)
	}

	b, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to json.Marshal: %w", err)
	}

	_, err = s.node.Publish(s.statsWebsocketChannel, b, nil...)
	if err != nil {
		return fmt.Errorf("failed to centrifuge.Node.Publish: %w", err)
	}

	return nil
}

// StartPollingStats begins the periodic fetching and broadcasting of statistical data at the specified interval.
func (s *engineService) StartPollingStats(interval time.Duration) {
	ticker := time.NewTicker(interval)
	for ; true; <-ticker.C {
		searches, err := s.loki.GetSearches24()
		if err != nil {
			common.Log.Error("failed to get loki.Loki.GetSearches24", "err", err)
		}
		plays, err := s.loki.GetPlays24()
		if err != nil {
			common.Log.Error("failed to get loki.Loki.GetPlays24", "err", err)
		}
		err = s.BroadcastStats(func(stats *Stats) error {
			if searches != 0 {
				stats.SearchesCount24 = searches
			}
			if plays != 0 {
				stats.PlaysCount24 = plays
			}
			return nil
		})
		if err != nil {
			common.Log.Warn("failed to internal.EngineService.BroadcastStats", "err", err)
		}
	}
}

// ServeHTTP handles incoming HTTP requests via a websocket handler
func (s *engineService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	newCtx := centrifuge.SetCredentials(ctx, &centrifuge.Credentials{})
	r = r.WithContext(newCtx)

	s.websocketHandler.ServeHTTP(w, r)
}
