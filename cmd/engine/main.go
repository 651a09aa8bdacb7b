package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	slogchi "github.com/samber/slog-chi"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/luinog1/crumble-engine/internal"
	"github.com/luinog1/crumble-engine/internal/cache"
	"github.com/luinog1/crumble-engine/internal/common"
	"github.com/luinog1/crumble-engine/internal/config"
	"github.com/luinog1/crumble-engine/internal/loki"
	"github.com/luinog1/crumble-engine/pkg/addon"
	"github.com/luinog1/crumble-engine/pkg/aggregate"
	"github.com/luinog1/crumble-engine/pkg/debrid"
	"github.com/luinog1/crumble-engine/pkg/imdb"
	"github.com/luinog1/crumble-engine/pkg/player"
	"github.com/luinog1/crumble-engine/pkg/subtitles"
	"github.com/luinog1/crumble-engine/pkg/transport"
)

const (
	serviceName           = "crumble-engine"
	serviceVersion        = "0.1.0"
	statsWebsocketChannel = "engine:stats"
)

func main() {

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to config.Load:", err)
	}

	loggerShutdown, err := common.InitLogger(serviceName, serviceVersion, cfg.ServiceEnvironment, cfg.OtelExporterEndpoint)
	if err != nil {
		log.Fatal("Failed to common.InitLogger:", err)
	}

	instrumentationShutdown, err := common.InitInstrumentation(serviceName, serviceVersion, cfg.ServiceEnvironment, cfg.OtelExporterEndpoint)
	if err != nil {
		log.Fatal("Failed to common.InitInstrumentation:", err)
	}

	if err := cache.Init(cfg.CachePath); err != nil {
		log.Fatal("Failed to cache.Init:", err)
	}

	upstreamClient := &http.Client{
		Timeout: cfg.UpstreamTimeout,
		Transport: otelhttp.NewTransport(
			transport.NewModifyHeadersRoundTripper(http.DefaultTransport,
				transport.WithAccept("application/json"),
				transport.WithUserAgent(serviceName+"/"+serviceVersion),
			),
		),
	}

	registry := addon.NewRegistry(upstreamClient,
		addon.WithStore(cache.RegistryStore{}),
		addon.WithLogger(common.Log))
	catalogs := addon.NewCatalogResolver(registry, upstreamClient, common.Log)
	aggregator := aggregate.NewAggregator(registry, upstreamClient, common.Log,
		aggregate.WithTorrentioURL(cfg.TorrentioManifestURL))
	debridResolver := debrid.NewResolver(upstreamClient, debrid.Credentials{
		RealDebrid: cfg.RealDebridAPIKey,
		AllDebrid:  cfg.AllDebridAPIKey,
		Premiumize: cfg.PremiumizeAPIKey,
	})
	subtitleFetcher := subtitles.NewFetcher(registry, upstreamClient, common.Log)

	engineService := internal.NewEngineService(statsWebsocketChannel, internal.EngineServiceDeps{
		Registry:       registry,
		Catalogs:       catalogs,
		Aggregator:     aggregator,
		Debrid:         debridResolver,
		Subtitles:      subtitleFetcher,
		IMDB:           imdb.NewStalkrIMDB(),
		Loki:           loki.NewLoki(cfg.LokiHost),
		ExternalPlayer: player.Player(cfg.ExternalPlayer),
		FallbackPlayer: player.Player(cfg.FallbackPlayer),
	})
	go engineService.StartPollingStats(time.Minute)

	app, err := internal.NewApp(engineService, cfg.EngineHost)
	if err != nil {
		log.Fatal("Failed to internal.NewApp:", err)
	}

	r := chi.NewRouter()
	r.Use(slogchi.New(common.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{
			"Content-Type",
			"X-Requested-With",
			"Accept",
			"Accept-Language",
			"Accept-Encoding",
			"Content-Language",
			"Origin",
		},
		MaxAge: 300,
	}))

	r.Post("/api/addons", app.AddAddonHandler)
	r.Get("/api/addons", app.ListAddonsHandler)
	r.Delete("/api/addons/{id}", app.RemoveAddonHandler)
	r.Get("/api/catalog/{addonID}/{type}/{catalogID}", app.CatalogHandler)
	r.Get("/api/meta/{addonID}/{type}/{id}", app.MetaHandler)
	r.Get("/api/streams/{type}/{id}", app.StreamsHandler)
	r.Post("/api/resolve", app.ResolveHandler)
	r.Get("/api/debrid/{provider}/test", app.DebridTestHandler)
	r.Post("/api/play", app.PlayHandler)
	r.Get("/api/subtitles/{type}/{id}", app.SubtitlesHandler)
	r.Get("/api/subtitles/file", app.SubtitleFileHandler)
	r.Get("/api/stats", app.StatsHandler)
	r.Get("/connection/websocket", app.WebsocketHandler)

	srv := &http.Server{
		Addr:    cfg.ServerListenAddr,
		Handler: otelhttp.NewHandler(r, serviceName),
	}
	go func() {
		common.Log.Info("Listening", "addr", cfg.ServerListenAddr, "host", cfg.EngineHost)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			common.Log.Error("Failed to http.Server.ListenAndServe", "err", err)
		}
	}()

	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		common.Log.Error("Failed to http server shutdown", "err", err)
	}

	if err := cache.Close(); err != nil {
		common.Log.Error("Failed to cache.Close", "err", err)
	}

	instrumentationShutdown(ctx)
	if err := loggerShutdown(ctx); err != nil {
		log.Println("Failed to logger shutdown:", err)
	}

	log.Println("Bye!")
}
