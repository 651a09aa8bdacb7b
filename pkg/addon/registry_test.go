package addon_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luinog1/crumble-engine/pkg/addon"
)

func fetchReturning(manifests map[string]*addon.Manifest) addon.FetchFunc {
	return func(_ context.Context, manifestURL string) (*addon.Manifest, error) {
		m, ok := manifests[manifestURL]
		if !ok {
			return nil, errors.New("unexpected manifest url: " + manifestURL)
		}
		clone := *m
		return &clone, nil
	}
}

func TestNormalizeManifestURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://addon.example.com", "https://addon.example.com/manifest.json"},
		{"https://addon.example.com/", "https://addon.example.com/manifest.json"},
		{"https://addon.example.com/manifest.json", "https://addon.example.com/manifest.json"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, addon.NormalizeManifestURL(tt.in))
		})
	}
}

func TestRegistry_Add(t *testing.T) {
	registry := addon.NewRegistry(nil, addon.WithFetchFunc(fetchReturning(map[string]*addon.Manifest{
		"https://cinemeta.example.com/manifest.json": {
			ID:        "org.cinemeta",
			Version:   "1.0.0",
			Name:      "Cinemeta",
			Resources: []string{"catalog", "meta"},
		},
	})))

	manifest, err := registry.Add(context.Background(), "https://cinemeta.example.com/")
	require.NoError(t, err)

	assert.Equal(t, "org.cinemeta", manifest.ID)
	assert.Equal(t, "https://cinemeta.example.com", manifest.BaseURL)
	assert.True(t, registry.Supports("org.cinemeta", "catalog"))
	assert.Len(t, registry.All(), 1)
}

func TestRegistry_AddInvalidManifest(t *testing.T) {
	tests := []struct {
		name     string
		manifest *addon.Manifest
	}{
		{"missing id", &addon.Manifest{Version: "1.0.0", Name: "NoID"}},
		{"missing version", &addon.Manifest{ID: "org.nover", Name: "NoVersion"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := addon.NewRegistry(nil, addon.WithFetchFunc(fetchReturning(map[string]*addon.Manifest{
				"https://bad.example.com/manifest.json": tt.manifest,
			})))

			_, err := registry.Add(context.Background(), "https://bad.example.com")
			require.ErrorIs(t, err, addon.ErrInvalidManifest)
			assert.Empty(t, registry.All())
		})
	}
}

func TestRegistry_AddUnreachable(t *testing.T) {
	registry := addon.NewRegistry(nil, addon.WithFetchFunc(func(context.Context, string) (*addon.Manifest, error) {
		return nil, errors.New("connection refused")
	}))

	_, err := registry.Add(context.Background(), "https://down.example.com")
	require.ErrorIs(t, err, addon.ErrInvalidManifest)
	assert.Empty(t, registry.All())
}

func TestRegistry_AddReplacesByID(t *testing.T) {
	manifests := map[string]*addon.Manifest{
		"https://one.example.com/manifest.json": {ID: "org.dupe", Version: "1.0.0", Name: "One"},
		"https://two.example.com/manifest.json": {ID: "org.dupe", Version: "2.0.0", Name: "Two"},
	}
	registry := addon.NewRegistry(nil, addon.WithFetchFunc(fetchReturning(manifests)))

	_, err := registry.Add(context.Background(), "https://one.example.com")
	require.NoError(t, err)
	_, err = registry.Add(context.Background(), "https://two.example.com")
	require.NoError(t, err)

	all := registry.All()
	require.Len(t, all, 1)
	assert.Equal(t, "2.0.0", all[0].Version)
	assert.Equal(t, "https://two.example.com", all[0].BaseURL)
}

func TestRegistry_StreamHintAugmentation(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		manifest   *addon.Manifest
		wantStream bool
	}{
		{
			"torrent url hints stream",
			"https://torrent-provider.example.com",
			&addon.Manifest{ID: "org.hint.url", Version: "1.0.0", Name: "Provider", Resources: []string{"catalog"}},
			true,
		},
		{
			"name hints stream",
			"https://plain.example.com",
			&addon.Manifest{ID: "org.hint.name", Version: "1.0.0", Name: "Movie Scraper", Resources: []string{"catalog"}},
			true,
		},
		{
			"no hint stays as declared",
			"https://meta.example.com",
			&addon.Manifest{ID: "org.nohint", Version: "1.0.0", Name: "Metadata", Resources: []string{"catalog", "meta"}},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := addon.NewRegistry(nil, addon.WithFetchFunc(fetchReturning(map[string]*addon.Manifest{
				tt.url + "/manifest.json": tt.manifest,
			})))

			manifest, err := registry.Add(context.Background(), tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStream, manifest.SupportsResource("stream"))
		})
	}
}

func TestRegistry_Remove(t *testing.T) {
	registry := addon.NewRegistry(nil, addon.WithFetchFunc(fetchReturning(map[string]*addon.Manifest{
		"https://one.example.com/manifest.json": {ID: "org.one", Version: "1.0.0", Name: "One"},
	})))

	_, err := registry.Add(context.Background(), "https://one.example.com")
	require.NoError(t, err)

	require.NoError(t, registry.Remove("org.one"))
	assert.Empty(t, registry.All())

	err = registry.Remove("org.one")
	assert.ErrorIs(t, err, addon.ErrUnknownAddon)
}

type memStore struct {
	saved []addon.Manifest
}

func (s *memStore) Save(manifests []addon.Manifest) error { s.saved = manifests; return nil }
func (s *memStore) Load() ([]addon.Manifest, error)       { return s.saved, nil }

type brokenStore struct{}

func (brokenStore) Save([]addon.Manifest) error     { return nil }
func (brokenStore) Load() ([]addon.Manifest, error) { return nil, errors.New("corrupt bucket") }

func TestRegistry_StoreLoadFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	registry := addon.NewRegistry(nil,
		addon.WithFetchFunc(fetchReturning(map[string]*addon.Manifest{
			"https://one.example.com/manifest.json": {ID: "org.one", Version: "1.0.0", Name: "One"},
		})),
		addon.WithStore(brokenStore{}),
		addon.WithLogger(logger),
	)

	assert.Contains(t, buf.String(), "failed to load stored addon manifests")
	assert.Contains(t, buf.String(), "corrupt bucket")

	// The registry stays usable despite the load failure.
	_, err := registry.Add(context.Background(), "https://one.example.com")
	require.NoError(t, err)
	assert.Len(t, registry.All(), 1)
}

func TestRegistry_StoreRoundTrip(t *testing.T) {
	store := &memStore{}
	registry := addon.NewRegistry(nil,
		addon.WithFetchFunc(fetchReturning(map[string]*addon.Manifest{
			"https://one.example.com/manifest.json": {ID: "org.one", Version: "1.0.0", Name: "One"},
		})),
		addon.WithStore(store),
	)

	_, err := registry.Add(context.Background(), "https://one.example.com")
	require.NoError(t, err)
	require.Len(t, store.saved, 1)

	reloaded := addon.NewRegistry(nil, addon.WithStore(store))
	all := reloaded.All()
	require.Len(t, all, 1)
	assert.Equal(t, "org.one", all[0].ID)
}
