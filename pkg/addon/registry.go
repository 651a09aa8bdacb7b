// Package addon maintains the manifest registry and resolves addon catalogs.
package addon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ErrInvalidManifest is returned when a manifest cannot be fetched or fails
// the minimum validity bar (non-empty id and version).
var ErrInvalidManifest = errors.New("invalid addon manifest")

// ErrUnknownAddon is returned for operations on an id not present in the
// registry.
var ErrUnknownAddon = errors.New("unknown addon")

// Manifest is a validated addon entry held by the registry. Resources is
// already coerced to a flat string set and BaseURL has the trailing
// /manifest.json stripped.
type Manifest struct {
	ID          string              `json:"id"`
	Version     string              `json:"version"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Resources   []string            `json:"resources"`
	Types       []string            `json:"types,omitempty"`
	Catalogs    []CatalogDescriptor `json:"catalogs,omitempty"`
	BaseURL     string              `json:"baseUrl"`
}

// CatalogDescriptor mirrors stremio.CatalogDescriptor on the registry side.
type CatalogDescriptor struct {
	Type  string           `json:"type"`
	ID    string           `json:"id"`
	Name  string           `json:"name,omitempty"`
	Extra []ExtraParamSpec `json:"extra,omitempty"`
}

// ExtraParamSpec describes one extra query parameter a catalog accepts.
type ExtraParamSpec struct {
	Name       string   `json:"name"`
	Options    []string `json:"options,omitempty"`
	IsRequired bool     `json:"isRequired,omitempty"`
}

// SupportsResource reports whether the manifest declares the resource.
func (m *Manifest) SupportsResource(resource string) bool {
	for _, r := range m.Resources {
		if r == resource {
			return true
		}
	}
	return false
}

// Catalog returns the descriptor for (type, id), if the addon declares it.
func (m *Manifest) Catalog(catalogType, catalogID string) (CatalogDescriptor, bool) {
	for _, c := range m.Catalogs {
		if c.Type == catalogType && c.ID == catalogID {
			return c, true
		}
	}
	return CatalogDescriptor{}, false
}

// streamHintRE matches URLs and names that suggest stream-serving behavior
// even when the manifest does not declare the stream resource.
var streamHintRE = regexp.MustCompile(`(?i)(torrent|scraper|stream|watch|movie|series|play)`)

// MatchesStreamHint reports whether the addon's URL or display name suggests
// it serves streams.
func MatchesStreamHint(m *Manifest) bool {
	return streamHintRE.MatchString(m.BaseURL) || streamHintRE.MatchString(m.Name)
}

// Store is the registry's persistence port. The registry never serializes
// itself; a store implementation (or a no-op) is injected.
type Store interface {
	Save(manifests []Manifest) error
	Load() ([]Manifest, error)
}

// NopStore discards saves and loads nothing.
type NopStore struct{}

func (NopStore) Save([]Manifest) error     { return nil }
func (NopStore) Load() ([]Manifest, error) { return nil, nil }

// FetchFunc retrieves and decodes a manifest from a normalized manifest URL.
type FetchFunc func(ctx context.Context, manifestURL string) (*Manifest, error)

// Registry owns the process-wide set of addon manifests. Mutation is
// replace-or-insert by id under a write lock, so readers never observe a
// half-written entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Manifest
	order   []string

	fetch  FetchFunc
	store  Store
	logger *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFetchFunc overrides manifest fetching, used by tests and callers that
// need custom transport behavior.
func WithFetchFunc(fetch FetchFunc) RegistryOption {
	return func(r *Registry) { r.fetch = fetch }
}

// WithStore injects the persistence port. Previously stored manifests are
// loaded into the registry at construction.
func WithStore(store Store) RegistryOption {
	return func(r *Registry) { r.store = store }
}

// WithLogger overrides the registry's logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates a registry fetching manifests with the given client.
func NewRegistry(httpClient *http.Client, opts ...RegistryOption) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	r := &Registry{
		entries: make(map[string]*Manifest),
		fetch:   httpFetch(httpClient),
		store:   NopStore{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	stored, err := r.store.Load()
	if err != nil {
		r.logger.Warn("failed to load stored addon manifests", slog.Any("error", err))
	}
	for i := range stored {
		m := stored[i]
		r.insertLocked(&m)
	}
	return r
}

// NormalizeManifestURL strips a trailing slash and appends /manifest.json
// when absent.
func NormalizeManifestURL(addonURL string) string {
	normalized := strings.TrimSuffix(addonURL, "/")
	if !strings.HasSuffix(normalized, "/manifest.json") {
		normalized += "/manifest.json"
	}
	return normalized
}

// Add fetches, validates, and registers the manifest at url, replacing any
// prior entry with the same id. No registry state changes on failure.
func (r *Registry) Add(ctx context.Context, addonURL string) (*Manifest, error) {
	manifestURL := NormalizeManifestURL(addonURL)

	manifest, err := r.fetch(ctx, manifestURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidManifest, manifestURL, err)
	}
	if manifest.ID == "" || manifest.Version == "" {
		return nil, fmt.Errorf("%w: %s: missing id or version", ErrInvalidManifest, manifestURL)
	}

	manifest.BaseURL = strings.TrimSuffix(manifestURL, "/manifest.json")
	augmentStreamResource(manifest)

	r.mu.Lock()
	r.insertLocked(manifest)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if err := r.store.Save(snapshot); err != nil {
		return manifest, fmt.Errorf("failed to Store.Save: %w", err)
	}
	return manifest, nil
}

// augmentStreamResource adds the stream capability for addons that look
// like stream providers without declaring it.
func augmentStreamResource(m *Manifest) {
	if m.SupportsResource("stream") {
		return
	}
	if MatchesStreamHint(m) {
		m.Resources = append(m.Resources, "stream")
	}
}

// Remove deletes the manifest with the given id and any bookkeeping keyed
// off it.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	if _, ok := r.entries[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAddon, id)
	}
	delete(r.entries, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if err := r.store.Save(snapshot); err != nil {
		return fmt.Errorf("failed to Store.Save: %w", err)
	}
	return nil
}

// Get returns the manifest for id.
func (r *Registry) Get(id string) (*Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	clone := *m
	return &clone, true
}

// Supports reports whether the addon with id declares the resource.
func (r *Registry) Supports(id, resource string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.entries[id]
	return ok && m.SupportsResource(resource)
}

// All returns every manifest in insertion order. Re-adding an existing id
// keeps its original position.
func (r *Registry) All() []Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) insertLocked(m *Manifest) {
	if _, exists := r.entries[m.ID]; !exists {
		r.order = append(r.order, m.ID)
	}
	r.entries[m.ID] = m
}

func (r *Registry) snapshotLocked() []Manifest {
	out := make([]Manifest, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.entries[id])
	}
	return out
}

func httpFetch(client *http.Client) FetchFunc {
	return func(ctx context.Context, manifestURL string) (*Manifest, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to http.NewRequestWithContext: %w", err)
		}

		res, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to http.Client.Do: %w", err)
		}
		defer res.Body.Close()

		if res.StatusCode < 200 || res.StatusCode > 299 {
			return nil, fmt.Errorf("invalid status code: %d", res.StatusCode)
		}

		var wire wireManifest
		if err := json.NewDecoder(res.Body).Decode(&wire); err != nil {
			return nil, fmt.Errorf("failed to json.Decoder.Decode: %w", err)
		}
		return wire.toManifest(), nil
	}
}
