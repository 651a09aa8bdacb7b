package normalize_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luinog1/crumble-engine/pkg/normalize"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var payload any
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	return payload
}

func TestNormalize_InfoHashBecomesMagnet(t *testing.T) {
	payload := decode(t, `{"streams":[{"infoHash":"ABCD1234","title":"Movie.2020.1080p.HDR"}]}`)

	candidates := normalize.Normalize(payload, normalize.Source{AddonID: "org.test", AddonName: "Test"})
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.True(t, strings.HasPrefix(c.URL, "magnet:?xt=urn:btih:ABCD1234"), c.URL)
	assert.Equal(t, len(normalize.DefaultTrackers), strings.Count(c.URL, "&tr="))
	assert.Contains(t, c.URL, "&dn=Movie.2020.1080p.HDR")
	assert.Contains(t, c.Quality, "1080p")
	assert.Contains(t, c.Quality, "HDR")
	assert.Equal(t, normalize.KindTorrent, c.Kind)
	assert.Equal(t, "org.test", c.SourceAddonID)
	assert.Equal(t, "Movie.2020.1080p.HDR (Test)", c.Title)
}

func TestNormalize_DiscoveryFields(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantURL string
	}{
		{"streams", `{"streams":[{"url":"http://host/a.mp4"}]}`, "http://host/a.mp4"},
		{"links", `{"links":[{"url":"http://host/b.mp4"}]}`, "http://host/b.mp4"},
		{"sources", `{"sources":[{"file":"http://host/c.m3u8"}]}`, "http://host/c.m3u8"},
		{"videos", `{"videos":[{"src":"http://host/d.mkv"}]}`, "http://host/d.mkv"},
		{"nested", `{"data":{"streams":[{"url":"http://host/e.mp4"}]}}`, "http://host/e.mp4"},
		{"bare array", `[{"url":"http://host/f.mp4"}]`, "http://host/f.mp4"},
		{"single object", `{"url":"http://host/g.mp4"}`, "http://host/g.mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidates := normalize.Normalize(decode(t, tt.payload), normalize.Source{})
			require.Len(t, candidates, 1)
			assert.Equal(t, tt.wantURL, candidates[0].URL)
		})
	}
}

func TestExtractURL_FieldOrder(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"url wins over externalUrl", `{"url":"http://a","externalUrl":"http://b"}`, "http://a"},
		{"externalUrl over file", `{"externalUrl":"http://b","file":"http://c"}`, "http://b"},
		{"stream_link last direct field", `{"stream_link":"http://f"}`, "http://f"},
		{"nested url object", `{"url":{"url":"http://g"}}`, "http://g"},
		{"sources first entry", `{"sources":["http://h","http://i"]}`, "http://h"},
		{"magnetUri over infoHash", `{"magnetUri":"magnet:?xt=urn:btih:X","infoHash":"Y"}`, "magnet:?xt=urn:btih:X"},
		{"torrent field", `{"torrent":"magnet:?xt=urn:btih:Z"}`, "magnet:?xt=urn:btih:Z"},
		{"nothing usable", `{"behaviorHints":{}}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalize.ExtractURL(decode(t, tt.payload)))
		})
	}
}

func TestNormalize_NestedDiscoveryOrderIsDeterministic(t *testing.T) {
	payload := decode(t, `{
		"zeta":  {"streams":[{"url":"http://host/z.mp4"}]},
		"alpha": {"streams":[{"url":"http://host/a.mp4"}]}
	}`)

	for i := 0; i < 20; i++ {
		candidates := normalize.Normalize(payload, normalize.Source{})
		require.Len(t, candidates, 2)
		assert.Equal(t, "http://host/a.mp4", candidates[0].URL)
		assert.Equal(t, "http://host/z.mp4", candidates[1].URL)
	}
}

func TestNormalize_DropsEntriesWithoutURL(t *testing.T) {
	payload := decode(t, `{"streams":[{"url":"http://host/a.mp4"},{"name":"broken","description":"no url"},{"url":""}]}`)

	candidates := normalize.Normalize(payload, normalize.Source{})
	require.Len(t, candidates, 1)
	assert.Equal(t, "http://host/a.mp4", candidates[0].URL)
}

func TestQualityFromText(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Movie.2020.2160p.DV.Atmos", "4K | DV | ATMOS"},
		{"Show.S01E01.1080p.HDR10+.DD+", "1080p | HDR10+ | DD+"},
		{"Old.Film.480p", "480p"},
		{"release sd rip", "480p"},
		{"Some.Movie.720p.DTS-HD", "720p | DTS-HD"},
		{"nothing here", ""},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, normalize.QualityFromText(tt.text))
		})
	}
}

func TestNormalize_QualityFallsBackToUnknown(t *testing.T) {
	payload := decode(t, `{"streams":[{"url":"http://host/video","title":"plain"}]}`)

	candidates := normalize.Normalize(payload, normalize.Source{})
	require.Len(t, candidates, 1)
	assert.Equal(t, "Unknown", candidates[0].Quality)
}

func TestKindClassification(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    normalize.Kind
	}{
		{"explicit type wins", `{"streams":[{"url":"http://host/a.mp4","type":"hls"}]}`, normalize.KindHLS},
		{"m3u8", `{"streams":[{"url":"http://host/a.m3u8"}]}`, normalize.KindHLS},
		{"mpd", `{"streams":[{"url":"http://host/a.mpd"}]}`, normalize.KindDASH},
		{"magnet", `{"streams":[{"url":"magnet:?xt=urn:btih:A"}]}`, normalize.KindTorrent},
		{"infoHash", `{"streams":[{"infoHash":"A"}]}`, normalize.KindTorrent},
		{"default", `{"streams":[{"url":"http://host/a.mkv"}]}`, normalize.KindMP4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidates := normalize.Normalize(decode(t, tt.payload), normalize.Source{})
			require.Len(t, candidates, 1)
			assert.Equal(t, tt.want, candidates[0].Kind)
		})
	}
}

func TestKindFromURL_MagnetRoundTrip(t *testing.T) {
	payload := decode(t, `{"streams":[{"infoHash":"ABCD","name":"Some Movie"}]}`)
	candidates := normalize.Normalize(payload, normalize.Source{})
	require.Len(t, candidates, 1)
	assert.Equal(t, candidates[0].Kind, normalize.KindFromURL(candidates[0].URL))
}

func TestNormalize_Hints(t *testing.T) {
	payload := decode(t, `{"streams":[{"url":"http://host/a.mkv","title":"Movie 2020 1080p 4.2 GB 120x"}]}`)

	candidates := normalize.Normalize(payload, normalize.Source{})
	require.Len(t, candidates, 1)
	assert.Equal(t, "4.2 GB", candidates[0].SizeHint)
	assert.Equal(t, 120, candidates[0].SeedHint)
}

func TestNormalize_CustomTrackers(t *testing.T) {
	payload := decode(t, `{"streams":[{"infoHash":"AB","trackers":["udp://custom:1337/announce"]}]}`)

	candidates := normalize.Normalize(payload, normalize.Source{})
	require.Len(t, candidates, 1)
	assert.Equal(t, 1, strings.Count(candidates[0].URL, "&tr="))
	assert.Contains(t, candidates[0].URL, "udp%3A%2F%2Fcustom%3A1337%2Fannounce")
}
