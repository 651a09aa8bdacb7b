// Package player builds external player handoff URLs and tracks the timed
// fallback that fires when a launch goes unconfirmed.
package player

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/luinog1/crumble-engine/pkg/normalize"
)

// Format is the stream format family used for player capability gating.
type Format string

const (
	FormatHLS    Format = "hls"
	FormatMP4    Format = "mp4"
	FormatMagnet Format = "magnet"
	FormatDASH   Format = "dash"
)

// Player identifies one supported external player.
type Player string

const (
	PlayerInfuse    Player = "infuse"
	PlayerOutplayer Player = "outplayer"
	PlayerVidHub    Player = "vidhub"
)

// ErrUnsupportedFormat is returned when a player cannot handle the stream's
// format and no viable fallback player exists.
var ErrUnsupportedFormat = errors.New("format not supported by player")

// ErrUnknownPlayer is returned for a player name outside the definition
// table.
var ErrUnknownPlayer = errors.New("unknown external player")

// Definition describes one external player's URL scheme and capabilities.
type Definition struct {
	Name             string
	URLScheme        string
	Description      string
	SupportedFormats []Format
}

var definitions = map[Player]Definition{
	PlayerInfuse: {
		Name:             "Infuse",
		URLScheme:        "infuse://x-callback-url/play",
		Description:      "High-quality video player with extensive format support",
		SupportedFormats: []Format{FormatHLS, FormatMP4, FormatMagnet, FormatDASH},
	},
	PlayerOutplayer: {
		Name:             "Outplayer",
		URLScheme:        "outplayer://",
		Description:      "Modern video player with streaming support",
		SupportedFormats: []Format{FormatHLS, FormatMP4, FormatDASH},
	},
	PlayerVidHub: {
		Name:             "VidHub",
		URLScheme:        "vidhub://",
		Description:      "Powerful media player with advanced features",
		SupportedFormats: []Format{FormatHLS, FormatMP4, FormatMagnet, FormatDASH},
	},
}

// Lookup returns the definition for the given player.
func Lookup(p Player) (Definition, error) {
	def, ok := definitions[p]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownPlayer, p)
	}
	return def, nil
}

// FormatOf classifies a stream URL. Magnet wins over everything, then the
// HLS and DASH markers, and anything else plays as a progressive file.
func FormatOf(streamURL string) Format {
	switch {
	case strings.HasPrefix(streamURL, "magnet:"):
		return FormatMagnet
	case strings.Contains(streamURL, ".m3u8"):
		return FormatHLS
	case strings.Contains(streamURL, ".mpd"):
		return FormatDASH
	default:
		return FormatMP4
	}
}

// Supports reports whether the player can handle the URL's format.
func Supports(p Player, streamURL string) bool {
	def, ok := definitions[p]
	if !ok {
		return false
	}
	format := FormatOf(streamURL)
	for _, f := range def.SupportedFormats {
		if f == format {
			return true
		}
	}
	return false
}

// Options carries the optional handoff parameters.
type Options struct {
	Subtitle string
	Title    string
	Poster   string
}

// BuildURL renders the deep link for the given player. The stream URL is
// percent-encoded before templating. Non-magnet infuse links carry an
// x-success callback so the app can confirm the handoff.
func BuildURL(p Player, streamURL string, opts Options) (string, error) {
	def, err := Lookup(p)
	if err != nil {
		return "", err
	}
	if !Supports(p, streamURL) {
		return "", fmt.Errorf("%w: %s cannot play %s streams", ErrUnsupportedFormat, def.Name, FormatOf(streamURL))
	}

	encoded := url.QueryEscape(streamURL)

	var b strings.Builder
	switch p {
	case PlayerInfuse:
		b.WriteString(def.URLScheme)
		b.WriteString("?url=")
		b.WriteString(encoded)
		if opts.Subtitle != "" {
			b.WriteString("&subtitle=")
			b.WriteString(url.QueryEscape(opts.Subtitle))
		}
		if opts.Title != "" {
			b.WriteString("&title=")
			b.WriteString(url.QueryEscape(opts.Title))
		}
		if !strings.HasPrefix(streamURL, "magnet:") {
			b.WriteString("&x-success=crumble://")
		}

	case PlayerVidHub:
		b.WriteString(def.URLScheme)
		b.WriteString("?url=")
		b.WriteString(encoded)
		if opts.Subtitle != "" {
			b.WriteString("&subtitle=")
			b.WriteString(url.QueryEscape(opts.Subtitle))
		}
		if opts.Title != "" {
			b.WriteString("&title=")
			b.WriteString(url.QueryEscape(opts.Title))
		}
		if opts.Poster != "" {
			b.WriteString("&poster=")
			b.WriteString(url.QueryEscape(opts.Poster))
		}

	case PlayerOutplayer:
		b.WriteString(def.URLScheme)
		b.WriteString(encoded)
		if opts.Subtitle != "" {
			b.WriteString("#subtitle=")
			b.WriteString(url.QueryEscape(opts.Subtitle))
		}
	}

	return b.String(), nil
}

// Plan resolves the effective player for a handoff: the primary when it
// supports the format, otherwise the fallback when it does. The deep link
// for the chosen player is returned alongside it.
func Plan(primary Player, fallbackPlayer Player, streamURL string, opts Options) (Player, string, error) {
	if Supports(primary, streamURL) {
		link, err := BuildURL(primary, streamURL, opts)
		return primary, link, err
	}
	if fallbackPlayer != "" && Supports(fallbackPlayer, streamURL) {
		link, err := BuildURL(fallbackPlayer, streamURL, opts)
		return fallbackPlayer, link, err
	}
	def, err := Lookup(primary)
	if err != nil {
		return "", "", err
	}
	return "", "", fmt.Errorf("%w: %s cannot play %s streams", ErrUnsupportedFormat, def.Name, FormatOf(streamURL))
}

// SourceConfig is the internal playback configuration for streams kept
// in-app instead of handed off. Torrent sources carry the default swarm.
type SourceConfig struct {
	URL      string         `json:"url"`
	Type     normalize.Kind `json:"type"`
	Trackers []string       `json:"trackers,omitempty"`
}

// InternalSource builds the in-app playback configuration for a candidate.
func InternalSource(c normalize.StreamCandidate) SourceConfig {
	cfg := SourceConfig{URL: c.URL, Type: c.Kind}
	if c.Kind == normalize.KindTorrent {
		cfg.Trackers = normalize.DefaultTrackers
	}
	return cfg
}
