// Package normalize turns arbitrary addon stream payloads into canonical
// stream candidates. Upstream addons disagree wildly about response shape,
// so discovery and URL extraction run through an explicit ordered list of
// shape-detection rules instead of ad hoc property probing.
package normalize

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	ptt "github.com/MunifTanjim/go-ptt"
)

// Kind is the format family of a stream candidate.
type Kind string

const (
	KindHLS     Kind = "hls"
	KindDASH    Kind = "dash"
	KindTorrent Kind = "torrent"
	KindMP4     Kind = "mp4"
)

// Source identifies the addon a payload came from, for provenance suffixes.
type Source struct {
	AddonID   string
	AddonName string
}

// StreamCandidate is the canonical output of normalization. URL is never
// empty; payload entries failing URL extraction are dropped.
type StreamCandidate struct {
	SourceAddonID string `json:"sourceAddonId"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	Quality       string `json:"quality"`
	Kind          Kind   `json:"kind"`
	SizeHint      string `json:"sizeHint,omitempty"`
	SeedHint      int    `json:"seedHint,omitempty"`
}

// DefaultTrackers is the minimum viable swarm appended to reconstructed
// magnet URIs when the addon supplies no tracker list.
var DefaultTrackers = []string{
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://exodus.desync.com:6969/announce",
	"udp://tracker.torrent.eu.org:451/announce",
	"udp://tracker.moeking.me:6969/announce",
	"udp://open.stealth.si:80/announce",
	"udp://explodie.org:6969/announce",
}

// streamArrayFields are probed in order when discovering the candidate list
// inside a response payload.
var streamArrayFields = []string{"streams", "stream", "links", "sources", "videos", "files"}

// directURLFields are probed in order when extracting a playable URL from a
// single candidate.
var directURLFields = []string{"url", "externalUrl", "file", "link", "src", "stream_link"}

var (
	mediaURLRE = regexp.MustCompile(`(?i)\.(mp4|m3u8|mpd|mkv|avi|webm)($|\?)`)

	res4KRE    = regexp.MustCompile(`(?i)\b(4k|2160p)\b`)
	res1080RE  = regexp.MustCompile(`(?i)\b1080p\b`)
	res720RE   = regexp.MustCompile(`(?i)\b720p\b`)
	res480RE   = regexp.MustCompile(`(?i)\b(480p|sd)\b`)
	dvRE       = regexp.MustCompile(`(?i)\b(dv|dolby\s*vision)\b`)
	hdrRE      = regexp.MustCompile(`(?i)\bhdr\b`)
	hdr10RE    = regexp.MustCompile(`(?i)\bhdr10\+?\b`)
	ddPlusRE   = regexp.MustCompile(`(?i)\b(dd\+?|dolby\s*digital)\b`)
	dtsRE      = regexp.MustCompile(`(?i)\b(dts|dts-hd)\b`)
	atmosRE    = regexp.MustCompile(`(?i)\b(atmos)\b`)
	fileSizeRE = regexp.MustCompile(`(?i)\b(\d+(\.\d+)?\s*(GB|MB))\b`)
	seedersRE  = regexp.MustCompile(`(?i)\b(\d+)x\b`)
)

// Normalize maps a decoded JSON payload to zero or more stream candidates.
// It is a pure function: no I/O, deterministic for a given payload.
func Normalize(payload any, src Source) []StreamCandidate {
	raws := discover(payload)
	if len(raws) == 0 && looksLikeStream(payload) {
		raws = []any{payload}
	}

	candidates := make([]StreamCandidate, 0, len(raws))
	for _, raw := range raws {
		if c, ok := normalizeOne(raw, src); ok {
			candidates = append(candidates, c)
		}
	}
	return candidates
}

// discover searches the payload for the first array-valued field that holds
// stream-like entries, recursing into nested objects when no known field
// matches at the current level.
func discover(payload any) []any {
	switch v := payload.(type) {
	case []any:
		return filterStreams(v)
	case map[string]any:
		for _, field := range streamArrayFields {
			raw, ok := v[field]
			if !ok || raw == nil {
				continue
			}
			entries, ok := raw.([]any)
			if !ok {
				entries = []any{raw}
			}
			if found := filterStreams(entries); len(found) > 0 {
				return found
			}
		}
		// Nested objects are walked in sorted key order so discovery
		// stays deterministic for a given payload.
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var nested []any
		for _, key := range keys {
			nested = append(nested, discover(v[key])...)
		}
		return nested
	default:
		return nil
	}
}

func filterStreams(entries []any) []any {
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		if looksLikeStream(e) {
			out = append(out, e)
		}
	}
	return out
}

// looksLikeStream reports whether a value plausibly describes one playable
// stream: either an object with a known URL-bearing property, or a string
// shaped like a playable URL.
func looksLikeStream(v any) bool {
	switch val := v.(type) {
	case string:
		return strings.HasPrefix(val, "magnet:") ||
			mediaURLRE.MatchString(val) ||
			strings.Contains(val, "stream") ||
			strings.Contains(val, "video")
	case map[string]any:
		for _, field := range append(append([]string{}, directURLFields...), "infoHash", "magnetUri", "torrent", "sources") {
			if raw, ok := val[field]; ok && raw != nil {
				return true
			}
		}
	}
	return false
}

// shape is the tagged classification of a single candidate entry. Detection
// rules run in a fixed order so extraction stays deterministic.
type shape int

const (
	shapeUnrecognized shape = iota
	shapeDirectURL
	shapeSourcesArray
	shapeMagnetField
	shapeInfoHash
	shapeRawString
)

func detectShape(raw any) shape {
	switch v := raw.(type) {
	case string:
		return shapeRawString
	case map[string]any:
		for _, field := range directURLFields {
			if directFieldURL(v, field) != "" {
				return shapeDirectURL
			}
		}
		if sources, ok := v["sources"].([]any); ok && len(sources) > 0 {
			return shapeSourcesArray
		}
		if stringField(v, "magnetUri") != "" || stringField(v, "torrent") != "" {
			return shapeMagnetField
		}
		if stringField(v, "infoHash") != "" {
			return shapeInfoHash
		}
	}
	return shapeUnrecognized
}

// ExtractURL pulls a playable URL out of a candidate entry, first match
// wins. It returns the empty string when the entry has no usable URL.
func ExtractURL(raw any) string {
	switch detectShape(raw) {
	case shapeRawString:
		return raw.(string)
	case shapeDirectURL:
		m := raw.(map[string]any)
		for _, field := range directURLFields {
			if u := directFieldURL(m, field); u != "" {
				return u
			}
		}
	case shapeSourcesArray:
		m := raw.(map[string]any)
		return sourceURL(m["sources"].([]any)[0])
	case shapeMagnetField:
		m := raw.(map[string]any)
		if u := stringField(m, "magnetUri"); u != "" {
			return u
		}
		return stringField(m, "torrent")
	case shapeInfoHash:
		return magnetFromInfoHash(raw.(map[string]any))
	}
	return ""
}

func directFieldURL(m map[string]any, field string) string {
	switch v := m[field].(type) {
	case string:
		return v
	case map[string]any:
		return stringField(v, "url")
	}
	return ""
}

func sourceURL(source any) string {
	switch v := source.(type) {
	case string:
		return v
	case map[string]any:
		if u := stringField(v, "url"); u != "" {
			return u
		}
		return stringField(v, "file")
	}
	return ""
}

// magnetFromInfoHash reconstructs a magnet URI from a torrent-style entry:
// display name from title or name (falling back to "Stream"), optional
// fileIdx, and the addon's tracker list or the default swarm.
func magnetFromInfoHash(m map[string]any) string {
	hash := stringField(m, "infoHash")
	if hash == "" {
		return ""
	}

	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(hash)

	dn := stringField(m, "title")
	if dn == "" {
		dn = stringField(m, "name")
	}
	if dn == "" {
		dn = "Stream"
	}
	b.WriteString("&dn=")
	b.WriteString(url.QueryEscape(dn))

	if idx, ok := m["fileIdx"].(float64); ok {
		fmt.Fprintf(&b, "&fileIdx=%d", int(idx))
	}

	trackers := DefaultTrackers
	if raw, ok := m["trackers"].([]any); ok && len(raw) > 0 {
		trackers = trackers[:0:0]
		for _, t := range raw {
			if s, ok := t.(string); ok {
				trackers = append(trackers, s)
			}
		}
	}
	for _, t := range trackers {
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(t))
	}

	return b.String()
}

func normalizeOne(raw any, src Source) (StreamCandidate, bool) {
	streamURL := ExtractURL(raw)
	if streamURL == "" {
		return StreamCandidate{}, false
	}

	m, _ := raw.(map[string]any)
	title := stringField(m, "title")
	name := stringField(m, "name")

	label := title
	if label == "" {
		label = name
	}
	if label == "" {
		label = "Unknown Stream"
	}
	if src.AddonName != "" {
		label = fmt.Sprintf("%s (%s)", label, src.AddonName)
	}

	c := StreamCandidate{
		SourceAddonID: src.AddonID,
		URL:           streamURL,
		Title:         label,
		Quality:       quality(m, title, name, streamURL),
		Kind:          classifyKind(m, streamURL),
		SizeHint:      sizeHint(title, name, streamURL),
		SeedHint:      seedHint(title, name),
	}
	return c, true
}

// quality prefers the explicit field, then scans title, name, and the
// extracted URL against the fixed taxonomy.
func quality(m map[string]any, title, name, streamURL string) string {
	if q := stringField(m, "quality"); q != "" {
		return q
	}
	for _, text := range []string{title, name, streamURL} {
		if q := QualityFromText(text); q != "" {
			return q
		}
	}
	return "Unknown"
}

// QualityFromText scans text with the fixed regex taxonomy and joins every
// match with " | ". It returns the empty string when nothing matches.
func QualityFromText(text string) string {
	if text == "" {
		return ""
	}
	var tokens []string

	switch {
	case res4KRE.MatchString(text):
		tokens = append(tokens, "4K")
	case res1080RE.MatchString(text):
		tokens = append(tokens, "1080p")
	case res720RE.MatchString(text):
		tokens = append(tokens, "720p")
	case res480RE.MatchString(text):
		tokens = append(tokens, "480p")
	}

	if dvRE.MatchString(text) {
		tokens = append(tokens, "DV")
	}
	if hdrRE.MatchString(text) {
		tokens = append(tokens, "HDR")
	}
	if hdr10RE.MatchString(text) {
		tokens = append(tokens, "HDR10+")
	}

	if ddPlusRE.MatchString(text) {
		tokens = append(tokens, "DD+")
	}
	if dtsRE.MatchString(text) {
		tokens = append(tokens, "DTS-HD")
	}
	if atmosRE.MatchString(text) {
		tokens = append(tokens, "ATMOS")
	}

	return strings.Join(tokens, " | ")
}

// classifyKind picks the format family: an explicit type field wins, then
// URL markers, then the presence of an infoHash, defaulting to mp4.
func classifyKind(m map[string]any, streamURL string) Kind {
	if t := stringField(m, "type"); t != "" {
		return Kind(t)
	}
	if k := KindFromURL(streamURL); k != KindMP4 {
		return k
	}
	if stringField(m, "infoHash") != "" {
		return KindTorrent
	}
	return KindMP4
}

// KindFromURL derives the format family from the URL alone.
func KindFromURL(streamURL string) Kind {
	switch {
	case strings.Contains(streamURL, ".m3u8"):
		return KindHLS
	case strings.Contains(streamURL, ".mpd"):
		return KindDASH
	case strings.Contains(streamURL, "magnet:"):
		return KindTorrent
	default:
		return KindMP4
	}
}

// sizeHint extracts a human-readable size, preferring release-title parsing
// over the loose size regex.
func sizeHint(title, name, streamURL string) string {
	for _, text := range []string{title, name} {
		if text == "" {
			continue
		}
		if parsed := ptt.Parse(text); parsed != nil && parsed.Size != "" {
			return parsed.Size
		}
	}
	for _, text := range []string{title, name, streamURL} {
		if m := fileSizeRE.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

func seedHint(title, name string) int {
	for _, text := range []string{title, name} {
		if m := seedersRE.FindStringSubmatch(text); m != nil {
			var n int
			fmt.Sscanf(m[1], "%d", &n)
			return n
		}
	}
	return 0
}

func stringField(m map[string]any, field string) string {
	if m == nil {
		return ""
	}
	s, _ := m[field].(string)
	return s
}
