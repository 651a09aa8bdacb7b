// Package stremio holds the wire types of the addon protocol as third-party
// addons actually serve them, which is looser than the published SDK types.
package stremio

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Manifest represents an addon's self-description as fetched from
// {baseUrl}/manifest.json.
type Manifest struct {
	ID            string              `json:"id"`
	Version       string              `json:"version"`
	Name          string              `json:"name"`
	Description   string              `json:"description,omitempty"`
	Resources     ResourceList        `json:"resources,omitempty"`
	Types         []string            `json:"types,omitempty"`
	Catalogs      []CatalogDescriptor `json:"catalogs,omitempty"`
	IDPrefixes    []string            `json:"idPrefixes,omitempty"`
	BehaviorHints *BehaviorHints      `json:"behaviorHints,omitempty"`
}

// BehaviorHints carries optional addon-level flags.
type BehaviorHints struct {
	Adult        bool `json:"adult,omitempty"`
	P2P          bool `json:"p2p,omitempty"`
	Configurable bool `json:"configurable,omitempty"`
}

// ResourceList is a flat set of resource names. Addons serve resources in
// three shapes: an array of strings, an array of objects carrying the name
// under "name" or "type", or a single non-array value. All of them decode
// into a plain string slice.
type ResourceList []string

// UnmarshalJSON coerces any of the observed wire shapes into a string slice.
func (r *ResourceList) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = coerceResources(raw)
	return nil
}

func coerceResources(raw any) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if name := resourceName(item); name != "" {
				out = append(out, name)
			}
		}
		return out
	default:
		if name := resourceName(raw); name != "" {
			return []string{name}
		}
		return nil
	}
}

func resourceName(item any) string {
	switch v := item.(type) {
	case string:
		return v
	case map[string]any:
		if name, ok := v["name"].(string); ok {
			return name
		}
		if name, ok := v["type"].(string); ok {
			return name
		}
	}
	return ""
}

// Contains reports whether the list declares the given resource.
func (r ResourceList) Contains(resource string) bool {
	for _, item := range r {
		if item == resource {
			return true
		}
	}
	return false
}

// CatalogDescriptor identifies one queryable catalog within an addon.
// Two descriptors address the same catalog iff (addon id, type, id) match.
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

// Meta is a catalog/meta entry. Field shapes vary across addons, so the
// numeric fields tolerate both JSON numbers and strings.
type Meta struct {
	ID          string     `json:"id"`
	Type        string     `json:"type,omitempty"`
	Name        string     `json:"name,omitempty"`
	Title       string     `json:"title,omitempty"`
	Poster      string     `json:"poster,omitempty"`
	Background  string     `json:"background,omitempty"`
	Description string     `json:"description,omitempty"`
	Year        FlexInt    `json:"year,omitempty"`
	IMDBRating  FlexString `json:"imdbRating,omitempty"`
	ReleaseInfo string     `json:"releaseInfo,omitempty"`
	Genres      []string   `json:"genres,omitempty"`
}

// Label returns the display title, preferring name over title.
func (m Meta) Label() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Title
}

// Subtitle is one subtitle entry from {baseUrl}/subtitles/{type}/{id}.json.
type Subtitle struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Lang string `json:"lang"`
}

// FlexInt decodes from a JSON number or a numeric string.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	// Some addons serve "2020-2022" style release spans in the year field.
	if idx := strings.IndexAny(s, "-"); idx > 0 {
		s = s[:idx]
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexInt(v)
	return nil
}

// FlexString decodes from a JSON string or number.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexString(n.String())
		return nil
	}
	*f = ""
	return nil
}

// Float parses the value as a float. ok is false when the value is absent
// or unparsable.
func (f FlexString) Float() (float64, bool) {
	if f == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(string(f), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// MetasEnvelope accepts catalog responses in both observed shapes:
// {"metas":[...]} or a bare array of meta objects.
type MetasEnvelope struct {
	Metas []Meta
}

func (e *MetasEnvelope) UnmarshalJSON(data []byte) error {
	var wrapped struct {
		Metas []Meta `json:"metas"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Metas != nil {
		e.Metas = wrapped.Metas
		return nil
	}
	var bare []Meta
	if err := json.Unmarshal(data, &bare); err == nil {
		e.Metas = bare
		return nil
	}
	// Tolerate an envelope without metas, e.g. {"hasMore":false}.
	e.Metas = nil
	return nil
}

// MetaEnvelope accepts meta responses as {"meta":{...}} or a bare object.
type MetaEnvelope struct {
	Meta Meta
}

func (e *MetaEnvelope) UnmarshalJSON(data []byte) error {
	var wrapped struct {
		Meta *Meta `json:"meta"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Meta != nil {
		e.Meta = *wrapped.Meta
		return nil
	}
	var bare Meta
	if err := json.Unmarshal(data, &bare); err != nil {
		return err
	}
	e.Meta = bare
	return nil
}

// SubtitlesEnvelope accepts {"subtitles":[...]} or a bare array.
type SubtitlesEnvelope struct {
	Subtitles []Subtitle
}

func (e *SubtitlesEnvelope) UnmarshalJSON(data []byte) error {
	var wrapped struct {
		Subtitles []Subtitle `json:"subtitles"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Subtitles != nil {
		e.Subtitles = wrapped.Subtitles
		return nil
	}
	var bare []Subtitle
	if err := json.Unmarshal(data, &bare); err == nil {
		e.Subtitles = bare
		return nil
	}
	e.Subtitles = nil
	return nil
}
