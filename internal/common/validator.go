package common

import (
	"errors"
	"regexp"
)

var imdbTitleIDRE = regexp.MustCompile(`^tt\d+$`)

var embeddedIMDBTitleIDRE = regexp.MustCompile(`tt\d+`)

// ValidateIMDBTitleID checks if the given IMDB title ID is valid.
// It ensures the title starts with 'tt' followed by a numeric suffix.
func ValidateIMDBTitleID(ID string) error {

	if !imdbTitleIDRE.MatchString(ID) {
		return errors.New("invalid IMDB title")
	}

	return nil
}

// ValidateMediaType checks if the media type is valid.
// It expects 'movie' and 'series' as valid types.
func ValidateMediaType(t string) error {
	if t != "movie" && t != "series" {
		return errors.New("invalid media type, only movie and series are supported")
	}

	return nil
}

// ExtractIMDBTitleID finds an IMDB title id embedded in a composite id,
// like the tt suffix of "tmdb-603-tt0133093". It returns the empty string
// when none is present.
func ExtractIMDBTitleID(id string) string {
	return embeddedIMDBTitleIDRE.FindString(id)
}
