// Package subtitles aggregates subtitle listings from installed addons and
// proxies subtitle files, unpacking archives and normalizing the text
// encoding to UTF-8 on the way through.
package subtitles

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nwaples/rardecode"
	"github.com/wlynxg/chardet"
	"github.com/wlynxg/chardet/consts"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/luinog1/crumble-engine/pkg/addon"
	"github.com/luinog1/crumble-engine/pkg/fallback"
	"github.com/luinog1/crumble-engine/pkg/stremio"
)

// maxFileSize caps subtitle file downloads. Anything larger than this is
// not a subtitle.
const maxFileSize = 200 * 1024

// Entry is one subtitle option with provenance.
type Entry struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Lang    string `json:"lang"`
	AddonID string `json:"addonId"`
}

// File holds an extracted, UTF-8 subtitle file.
type File struct {
	Name string
	Data []byte
}

// Fetcher lists and downloads subtitles through the addon registry.
type Fetcher struct {
	registry   *addon.Registry
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher builds a fetcher over the given registry.
func NewFetcher(registry *addon.Registry, httpClient *http.Client, logger *slog.Logger) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{registry: registry, httpClient: httpClient, logger: logger}
}

// List queries every addon declaring the subtitles resource for
// (mediaType, id) and merges the results. A failing addon is logged and
// skipped.
func (f *Fetcher) List(ctx context.Context, mediaType, id string) ([]Entry, error) {
	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "subtitles.Fetcher.List")
	defer span.End()

	var providers []addon.Manifest
	for _, m := range f.registry.All() {
		if m.SupportsResource("subtitles") {
			providers = append(providers, m)
		}
	}

	attempts := make([]fallback.Attempt[[]Entry], 0, len(providers))
	for _, provider := range providers {
		provider := provider
		attempts = append(attempts, func(ctx context.Context) ([]Entry, error) {
			return f.listFromAddon(ctx, &provider, mediaType, id)
		})
	}

	var merged []Entry
	for i, outcome := range fallback.Parallel(ctx, attempts) {
		if outcome.Err != nil {
			f.logger.WarnContext(ctx, "addon subtitles listing failed",
				slog.String("addon_id", providers[i].ID),
				slog.Any("error", outcome.Err))
			continue
		}
		merged = append(merged, outcome.Value...)
	}
	return merged, nil
}

func (f *Fetcher) listFromAddon(ctx context.Context, provider *addon.Manifest, mediaType, id string) ([]Entry, error) {
	subtitlesURL := fmt.Sprintf("%s/subtitles/%s/%s.json", provider.BaseURL, mediaType, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subtitlesURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to http.NewRequestWithContext: %w", err)
	}
	res, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to http.Client.Do: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("invalid status code: %d", res.StatusCode)
	}

	var envelope stremio.SubtitlesEnvelope
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to json.Decoder.Decode: %w", err)
	}

	entries := make([]Entry, 0, len(envelope.Subtitles))
	for _, s := range envelope.Subtitles {
		if s.URL == "" {
			continue
		}
		entries = append(entries, Entry{ID: s.ID, URL: s.URL, Lang: s.Lang, AddonID: provider.ID})
	}
	return entries, nil
}

// Fetch downloads a subtitle file, unpacks it when it arrives as a ZIP,
// RAR, or GZIP archive, and re-encodes ISO-8859-1 text to UTF-8.
func (f *Fetcher) Fetch(ctx context.Context, fileURL string) (*File, error) {
	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "subtitles.Fetcher.Fetch")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to http.NewRequestWithContext: %w", err)
	}
	res, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to http.Client.Do: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("invalid status code: %d", res.StatusCode)
	}

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, io.LimitReader(res.Body, maxFileSize)); err != nil {
		return nil, fmt.Errorf("failed to io.Copy with io.LimitReader: %w", err)
	}
	raw := buf.Bytes()

	file, err := unpack(raw, fileURL)
	if err != nil {
		return nil, fmt.Errorf("failed to process subtitle file: %w", err)
	}

	file.Data = toUTF8(file.Data)
	return file, nil
}

func isSubtitleName(filename string) bool {
	lc := strings.ToLower(filename)
	return strings.HasSuffix(lc, ".srt") || strings.HasSuffix(lc, ".vtt")
}

// unpack extracts the first subtitle file from an archive, detected by
// magic bytes. Plain text passes through untouched.
func unpack(raw []byte, fileURL string) (*File, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("file too short")
	}

	// standard ZIP signature
	isZip := bytes.HasPrefix(raw, []byte("PK\x03\x04"))
	// RAR 1.5-4.0
	isRar := bytes.HasPrefix(raw, []byte("Rar!\x1A\x07\x00")) ||
		// RAR 5.0
		bytes.HasPrefix(raw, []byte("Rar!\x1A\x07\x01\x00"))
	// GZIP signature
	isGZip := bytes.HasPrefix(raw, []byte("\x1F\x8B"))

	switch {
	case isZip:
		zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
		if err != nil {
			return nil, fmt.Errorf("invalid ZIP: %w", err)
		}
		for _, file := range zr.File {
			if !isSubtitleName(file.Name) {
				continue
			}
			rc, err := file.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open subtitle in ZIP: %w", err)
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read subtitle in ZIP: %w", err)
			}
			return &File{Name: file.Name, Data: data}, nil
		}
		return nil, fmt.Errorf("no subtitle file found in ZIP")

	case isRar:
		rr, err := rardecode.NewReader(bytes.NewReader(raw), "")
		if err != nil {
			return nil, fmt.Errorf("invalid RAR: %w", err)
		}
		for {
			header, err := rr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read RAR: %w", err)
			}
			if isSubtitleName(header.Name) {
				data, err := io.ReadAll(rr)
				if err != nil {
					return nil, fmt.Errorf("failed to read subtitle in RAR: %w", err)
				}
				return &File{Name: header.Name, Data: data}, nil
			}
		}
		return nil, fmt.Errorf("no subtitle file found in RAR")

	case isGZip:
		gzr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid GZIP: %w", err)
		}
		defer gzr.Close()
		data, err := io.ReadAll(gzr)
		if err != nil {
			return nil, fmt.Errorf("failed to read GZIP: %w", err)
		}
		return &File{Name: gzr.Name, Data: data}, nil

	default:
		return &File{Name: nameFromURL(fileURL), Data: raw}, nil
	}
}

func nameFromURL(fileURL string) string {
	trimmed := fileURL
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if trimmed == "" {
		return "subtitle.srt"
	}
	return trimmed
}

func toUTF8(data []byte) []byte {
	switch chardet.Detect(data).Encoding {
	case consts.ISO88591:
		converted, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
		if err != nil {
			return data
		}
		return converted
	default:
		return data
	}
}
