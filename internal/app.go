package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/wlynxg/chardet/consts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/luinog1/crumble-engine/internal/common"
	"github.com/luinog1/crumble-engine/pkg/addon"
	"github.com/luinog1/crumble-engine/pkg/debrid"
	"github.com/luinog1/crumble-engine/pkg/player"
)

// App represents the main application structure that holds the engine service and host information.
type App struct {
	EngineService EngineService
	EngineHost    string
}

// NewApp creates a new instance of the App struct.
func NewApp(engineService EngineService, engineHost string) (*App, error) {
	return &App{
		EngineService: engineService,
		EngineHost:    engineHost,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

/*
AddAddonHandler registers a new addon from its manifest URL.

The request body carries the addon URL; the normalized manifest is returned on success.
*/
func (a *App) AddAddonHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "AddAddonHandler")

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		common.Log.WarnContext(ctx, "Failed to decode addon request body", "err", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("params.url", body.URL))

	manifest, err := a.EngineService.AddAddon(ctx, body.URL)
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to EngineService.AddAddon", "err", err)
		span.RecordError(err)
		if errors.Is(err, addon.ErrInvalidManifest) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if err := writeJSON(w, http.StatusCreated, manifest); err != nil {
		common.Log.ErrorContext(ctx, "Failed to write response", "err", err)
		span.RecordError(err)
	}
}

/*
RemoveAddonHandler removes an installed addon by id.
*/
func (a *App) RemoveAddonHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "RemoveAddonHandler")

	paramsID := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("param.id", paramsID))

	if err := a.EngineService.RemoveAddon(ctx, paramsID); err != nil {
		common.Log.WarnContext(ctx, "Failed to EngineService.RemoveAddon", "err", err)
		span.RecordError(err)
		if errors.Is(err, addon.ErrUnknownAddon) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

/*
ListAddonsHandler returns every installed addon manifest.
*/
func (a *App) ListAddonsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "ListAddonsHandler")

	if err := writeJSON(w, http.StatusOK, a.EngineService.ListAddons(ctx)); err != nil {
		common.Log.ErrorContext(ctx, "Failed to write response", "err", err)
		span.RecordError(err)
	}
}

/*
CatalogHandler serves one addon catalog.

Upstream failures degrade to placeholder content, so this handler only
fails on encoding problems.
*/
func (a *App) CatalogHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "CatalogHandler")

	paramsType := chi.URLParam(r, "type")
	if err := common.ValidateMediaType(paramsType); err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ValidateMediaType", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("params.type", paramsType))

	paramsAddonID := chi.URLParam(r, "addonID")
	paramsCatalogID, err := url.PathUnescape(chi.URLParam(r, "catalogID"))
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to url.PathUnescape", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("param.addon-id", paramsAddonID))
	span.SetAttributes(attribute.String("param.catalog-id", paramsCatalogID))

	items := a.EngineService.GetCatalog(ctx, paramsAddonID, paramsType, paramsCatalogID, r.URL.Query())

	if err := writeJSON(w, http.StatusOK, items); err != nil {
		common.Log.ErrorContext(ctx, "Failed to write response", "err", err)
		span.RecordError(err)
	}
}

/*
MetaHandler serves the full metadata record for one title from one addon.
*/
func (a *App) MetaHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "MetaHandler")

	paramsType := chi.URLParam(r, "type")
	if err := common.ValidateMediaType(paramsType); err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ValidateMediaType", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("params.type", paramsType))

	paramsAddonID := chi.URLParam(r, "addonID")
	paramsID, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to url.PathUnescape", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("param.addon-id", paramsAddonID))
	span.SetAttributes(attribute.String("param.id", paramsID))

	detail, err := a.EngineService.GetMeta(ctx, paramsAddonID, paramsType, paramsID)
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to EngineService.GetMeta", "err", err)
		span.RecordError(err)
		if errors.Is(err, addon.ErrUnknownAddon) || errors.Is(err, addon.ErrUnsupportedResource) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	if err := writeJSON(w, http.StatusOK, detail); err != nil {
		common.Log.ErrorContext(ctx, "Failed to write response", "err", err)
		span.RecordError(err)
	}
}

/*
StreamsHandler aggregates stream candidates for a title.
*/
func (a *App) StreamsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "StreamsHandler")

	paramsType := chi.URLParam(r, "type")
	if err := common.ValidateMediaType(paramsType); err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ValidateMediaType", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("params.type", paramsType))

	paramsID, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to url.PathUnescape", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("param.id", paramsID))

	candidates, err := a.EngineService.FindStreams(ctx, paramsType, paramsID)
	if err != nil {
		common.Log.ErrorContext(ctx, "Failed to EngineService.FindStreams", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if err := writeJSON(w, http.StatusOK, map[string]any{"streams": candidates}); err != nil {
		common.Log.ErrorContext(ctx, "Failed to write response", "err", err)
		span.RecordError(err)
	}
}

/*
ResolveHandler runs a link through the debrid chain.

An exhausted chain maps to 502, since the failure is upstream.
*/
func (a *App) ResolveHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "ResolveHandler")

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		common.Log.WarnContext(ctx, "Failed to decode resolve request body", "err", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	resolution, err := a.EngineService.ResolveLink(ctx, body.URL)
	if err != nil {
		common.Log.ErrorContext(ctx, "Failed to EngineService.ResolveLink", "err", err)
		span.RecordError(err)
		if errors.Is(err, debrid.ErrAllProvidersExhausted) {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if resolution.ResolvedURL == "" {
		// No provider configured, the original link stands.
		resolution = debrid.Resolution{OriginalURL: body.URL, ResolvedURL: body.URL}
	}

	if err := writeJSON(w, http.StatusOK, resolution); err != nil {
		common.Log.ErrorContext(ctx, "Failed to write response", "err", err)
		span.RecordError(err)
	}
}

/*
DebridTestHandler verifies the stored credential for one debrid provider.
*/
func (a *App) DebridTestHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "DebridTestHandler")

	provider := debrid.Provider(chi.URLParam(r, "provider"))
	span.SetAttributes(attribute.String("param.provider", string(provider)))

	ok, err := a.EngineService.TestDebridCredential(ctx, provider)
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to EngineService.TestDebridCredential", "err", err)
		span.RecordError(err)
		if errors.Is(err, debrid.ErrUnknownProvider) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if err := writeJSON(w, http.StatusOK, map[string]bool{"valid": ok}); err != nil {
		common.Log.ErrorContext(ctx, "Failed to write response", "err", err)
		span.RecordError(err)
	}
}

/*
PlayHandler prepares a playback handoff for a stream URL.
*/
func (a *App) PlayHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "PlayHandler")

	var body struct {
		URL      string `json:"url"`
		Subtitle string `json:"subtitle"`
		Title    string `json:"title"`
		Poster   string `json:"poster"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		common.Log.WarnContext(ctx, "Failed to decode play request body", "err", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	plan, err := a.EngineService.Play(ctx, body.URL, player.Options{
		Subtitle: body.Subtitle,
		Title:    body.Title,
		Poster:   body.Poster,
	})
	if err != nil {
		common.Log.ErrorContext(ctx, "Failed to EngineService.Play", "err", err)
		span.RecordError(err)
		if errors.Is(err, player.ErrUnsupportedFormat) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if err := writeJSON(w, http.StatusOK, plan); err != nil {
		common.Log.ErrorContext(ctx, "Failed to write response", "err", err)
		span.RecordError(err)
	}
}

/*
SubtitlesHandler aggregates subtitle entries for a title across installed addons.
*/
func (a *App) SubtitlesHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "SubtitlesHandler")

	paramsType := chi.URLParam(r, "type")
	if err := common.ValidateMediaType(paramsType); err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ValidateMediaType", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("params.type", paramsType))

	paramsID, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to url.PathUnescape", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("param.id", paramsID))

	entries, err := a.EngineService.ListSubtitles(ctx, paramsType, paramsID)
	if err != nil {
		common.Log.ErrorContext(ctx, "Failed to EngineService.ListSubtitles", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if err := writeJSON(w, http.StatusOK, map[string]any{"subtitles": entries}); err != nil {
		common.Log.ErrorContext(ctx, "Failed to write response", "err", err)
		span.RecordError(err)
	}
}

/*
SubtitleFileHandler proxies one subtitle file, unpacked and re-encoded to UTF-8.
*/
func (a *App) SubtitleFileHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "SubtitleFileHandler")

	fileURL := r.URL.Query().Get("url")
	if fileURL == "" {
		common.Log.WarnContext(ctx, "Missing url query parameter")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("param.url", fileURL))

	file, err := a.EngineService.FetchSubtitleFile(ctx, fileURL)
	if err != nil {
		common.Log.ErrorContext(ctx, "Failed to EngineService.FetchSubtitleFile", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", fmt.Sprintf("text/plain; charset=%s", consts.UTF8))
	w.Header().Set("CDN-Cache-Control", "public, max-age=1296000")
	w.Header().Set("Cache-Control", "public, max-age=1296000")

	if _, err := w.Write(file.Data); err != nil {
		common.Log.ErrorContext(ctx, "Failed to write response", "err", err)
		span.RecordError(err)
	}
}

/*
StatsHandler returns the current 24h search/play counters.
*/
func (a *App) StatsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "StatsHandler")

	if err := writeJSON(w, http.StatusOK, a.EngineService.GetStats(ctx)); err != nil {
		common.Log.ErrorContext(ctx, "Failed to write response", "err", err)
		span.RecordError(err)
	}
}

// WebsocketHandler handles WebSocket connections
func (a *App) WebsocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	common.Log.DebugContext(ctx, "WebsocketHandler")

	a.EngineService.ServeHTTP(w, r)
}
