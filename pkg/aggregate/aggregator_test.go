package aggregate_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luinog1/crumble-engine/pkg/addon"
	"github.com/luinog1/crumble-engine/pkg/aggregate"
	"github.com/luinog1/crumble-engine/pkg/normalize"
)

func registryWith(t *testing.T, manifests ...*addon.Manifest) *addon.Registry {
	t.Helper()
	byURL := make(map[string]*addon.Manifest, len(manifests))
	for _, m := range manifests {
		byURL[m.BaseURL+"/manifest.json"] = m
	}
	registry := addon.NewRegistry(nil, addon.WithFetchFunc(func(_ context.Context, manifestURL string) (*addon.Manifest, error) {
		clone := *byURL[manifestURL]
		return &clone, nil
	}))
	for _, m := range manifests {
		_, err := registry.Add(context.Background(), m.BaseURL)
		require.NoError(t, err)
	}
	return registry
}

func streamManifest(id, baseURL string) *addon.Manifest {
	return &addon.Manifest{
		ID:        id,
		Version:   "1.0.0",
		Name:      id,
		Resources: []string{"stream"},
		BaseURL:   baseURL,
	}
}

func TestAggregator_IsolatesFailingAddon(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stream/movie/tt0133093.json", r.URL.Path)
		_, _ = w.Write([]byte(`{"streams":[{"url":"http://host/movie.mp4","title":"Movie 1080p"}]}`))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	registry := registryWith(t, streamManifest("org.good", good.URL), streamManifest("org.bad", bad.URL))
	aggregator := aggregate.NewAggregator(registry, good.Client(), nil, aggregate.WithTorrentioURL(""))

	candidates, err := aggregator.FindStreams(context.Background(), "movie", "tt0133093")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "org.good", candidates[0].SourceAddonID)
	assert.Equal(t, "http://host/movie.mp4", candidates[0].URL)
}

func TestAggregator_CanaryWhenEmpty(t *testing.T) {
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"streams":[]}`))
	}))
	defer empty.Close()

	registry := registryWith(t, streamManifest("org.empty", empty.URL))
	aggregator := aggregate.NewAggregator(registry, empty.Client(), nil, aggregate.WithTorrentioURL(""))

	candidates, err := aggregator.FindStreams(context.Background(), "movie", "tt0000001")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "https://test-streams.mux.dev/x36xhzz/x36xhzz.m3u8", candidates[0].URL)
	assert.Equal(t, "Test Stream (HLS)", candidates[0].Title)
	assert.Equal(t, normalize.KindHLS, candidates[0].Kind)
}

func TestAggregator_ExtractsEmbeddedIMDBID(t *testing.T) {
	var gotPath atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		_, _ = w.Write([]byte(`{"streams":[{"url":"http://host/a.mp4"}]}`))
	}))
	defer server.Close()

	registry := registryWith(t, streamManifest("org.one", server.URL))
	aggregator := aggregate.NewAggregator(registry, server.Client(), nil, aggregate.WithTorrentioURL(""))

	_, err := aggregator.FindStreams(context.Background(), "movie", "tmdb-603-tt0133093")
	require.NoError(t, err)
	assert.Equal(t, "/stream/movie/tt0133093.json", gotPath.Load())
}

func TestAggregator_ProbesAlternatePaths(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/streams/movie/tt0000002" {
			_, _ = w.Write([]byte(`{"streams":[{"url":"http://host/alt.mp4"}]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	registry := registryWith(t, streamManifest("org.alt", server.URL))
	aggregator := aggregate.NewAggregator(registry, server.Client(), nil, aggregate.WithTorrentioURL(""))

	candidates, err := aggregator.FindStreams(context.Background(), "movie", "tt0000002")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "http://host/alt.mp4", candidates[0].URL)
	assert.Equal(t, []string{
		"/stream/movie/tt0000002.json",
		"/stream/movie/tt0000002",
		"/streams/movie/tt0000002",
	}, paths)
}

func TestAggregator_AutoRegistersTorrentProvider(t *testing.T) {
	torrentio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/manifest.json":
			_, _ = w.Write([]byte(`{"id":"org.torrentio","version":"1.0.0","name":"Torrentio","resources":["stream"]}`))
		default:
			_, _ = w.Write([]byte(`{"streams":[{"infoHash":"ABCD","title":"Movie 720p"}]}`))
		}
	}))
	defer torrentio.Close()

	registry := addon.NewRegistry(torrentio.Client())
	aggregator := aggregate.NewAggregator(registry, torrentio.Client(), nil,
		aggregate.WithTorrentioURL(torrentio.URL+"/manifest.json"))

	candidates, err := aggregator.FindStreams(context.Background(), "movie", "tt0000003")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "org.torrentio", candidates[0].SourceAddonID)
	assert.Equal(t, normalize.KindTorrent, candidates[0].Kind)

	// Second search must not register a duplicate.
	_, err = aggregator.FindStreams(context.Background(), "movie", "tt0000003")
	require.NoError(t, err)
	assert.Len(t, registry.All(), 1)
}

func TestAggregator_CoalescesIdenticalSearches(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"streams":[{"url":"http://host/a.mp4"}]}`))
	}))
	defer server.Close()

	registry := registryWith(t, streamManifest("org.slow", server.URL))
	aggregator := aggregate.NewAggregator(registry, server.Client(), nil, aggregate.WithTorrentioURL(""))

	results := make(chan int, 2)
	for i := 0; i < 2; i++ {
		go func() {
			candidates, err := aggregator.FindStreams(context.Background(), "movie", "tt0000004")
			assert.NoError(t, err)
			results <- len(candidates)
		}()
	}
	// Both searches are in flight before the upstream answers.
	for hits.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)

	assert.Equal(t, 1, <-results)
	assert.Equal(t, 1, <-results)
	assert.Equal(t, int32(1), hits.Load())
}
