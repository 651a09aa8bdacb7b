package subtitles_test

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luinog1/crumble-engine/pkg/addon"
	"github.com/luinog1/crumble-engine/pkg/subtitles"
)

func subtitleRegistry(t *testing.T, baseURLs ...string) *addon.Registry {
	t.Helper()
	manifests := make(map[string]*addon.Manifest, len(baseURLs))
	for i, baseURL := range baseURLs {
		manifests[baseURL+"/manifest.json"] = &addon.Manifest{
			ID:        "org.subs." + string(rune('a'+i)),
			Version:   "1.0.0",
			Name:      "Subs",
			Resources: []string{"subtitles"},
		}
	}
	registry := addon.NewRegistry(nil, addon.WithFetchFunc(func(_ context.Context, manifestURL string) (*addon.Manifest, error) {
		clone := *manifests[manifestURL]
		return &clone, nil
	}))
	for _, baseURL := range baseURLs {
		_, err := registry.Add(context.Background(), baseURL)
		require.NoError(t, err)
	}
	return registry
}

func TestFetcher_List(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subtitles/movie/tt0133093.json", r.URL.Path)
		_, _ = w.Write([]byte(`{"subtitles":[
			{"id":"1","url":"http://subs/en.srt","lang":"en"},
			{"id":"2","url":"","lang":"es"}
		]}`))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	registry := subtitleRegistry(t, good.URL, bad.URL)
	fetcher := subtitles.NewFetcher(registry, good.Client(), nil)

	entries, err := fetcher.List(context.Background(), "movie", "tt0133093")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, "http://subs/en.srt", entries[0].URL)
	assert.Equal(t, "en", entries[0].Lang)
	assert.Equal(t, "org.subs.a", entries[0].AddonID)
}

func TestFetcher_FetchPlainFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "1\n00:00:01,000 --> 00:00:02,000\nHello\n")
	}))
	defer server.Close()

	fetcher := subtitles.NewFetcher(subtitleRegistry(t), server.Client(), nil)

	file, err := fetcher.Fetch(context.Background(), server.URL+"/subs/en.srt?token=abc")
	require.NoError(t, err)

	assert.Equal(t, "en.srt", file.Name)
	assert.Contains(t, string(file.Data), "Hello")
}

func TestFetcher_FetchZip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		zipWriter := zip.NewWriter(buf)
		readme, _ := zipWriter.Create("readme.txt")
		_, _ = io.WriteString(readme, "not a subtitle")
		srtFile, _ := zipWriter.Create("movie.en.srt")
		_, _ = io.WriteString(srtFile, "Mock subtitle content")
		zipWriter.Close()

		_, _ = w.Write(buf.Bytes())
	}))
	defer server.Close()

	fetcher := subtitles.NewFetcher(subtitleRegistry(t), server.Client(), nil)

	file, err := fetcher.Fetch(context.Background(), server.URL+"/pack.zip")
	require.NoError(t, err)

	assert.Equal(t, "movie.en.srt", file.Name)
	assert.Equal(t, "Mock subtitle content", string(file.Data))
}

func TestFetcher_FetchZipWithoutSubtitle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		zipWriter := zip.NewWriter(buf)
		readme, _ := zipWriter.Create("readme.txt")
		_, _ = io.WriteString(readme, "nothing useful")
		zipWriter.Close()

		_, _ = w.Write(buf.Bytes())
	}))
	defer server.Close()

	fetcher := subtitles.NewFetcher(subtitleRegistry(t), server.Client(), nil)

	_, err := fetcher.Fetch(context.Background(), server.URL+"/pack.zip")
	assert.ErrorContains(t, err, "no subtitle file found in ZIP")
}

func TestFetcher_FetchGzip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gzWriter := gzip.NewWriter(w)
		gzWriter.Name = "movie.vtt"
		_, _ = io.WriteString(gzWriter, "WEBVTT\n\nMock subtitle content")
		gzWriter.Close()
	}))
	defer server.Close()

	fetcher := subtitles.NewFetcher(subtitleRegistry(t), server.Client(), nil)

	file, err := fetcher.Fetch(context.Background(), server.URL+"/movie.vtt.gz")
	require.NoError(t, err)

	assert.Equal(t, "movie.vtt", file.Name)
	assert.Contains(t, string(file.Data), "Mock subtitle content")
}

func TestFetcher_FetchCapsDownloadSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("a", 512*1024))
	}))
	defer server.Close()

	fetcher := subtitles.NewFetcher(subtitleRegistry(t), server.Client(), nil)

	file, err := fetcher.Fetch(context.Background(), server.URL+"/huge.srt")
	require.NoError(t, err)
	assert.Len(t, file.Data, 200*1024)
}

func TestFetcher_FetchUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := subtitles.NewFetcher(subtitleRegistry(t), server.Client(), nil)

	_, err := fetcher.Fetch(context.Background(), server.URL+"/gone.srt")
	assert.ErrorContains(t, err, "invalid status code: 404")
}
