package common_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/luinog1/crumble-engine/internal/common"
)

func TestValidateIMDBTitleID(t *testing.T) {
	tests := []struct {
		title   string
		wantErr assert.ErrorAssertionFunc
	}{
		{"tt1234567", assert.NoError},
		{"tt0012345", assert.NoError},
		{"tt0", assert.NoError},
		{"tt", assert.Error},
		{"tt-1", assert.Error},
		{"1234567", assert.Error},
		{"ttabcdefg", assert.Error},
		{"", assert.Error},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			err := common.ValidateIMDBTitleID(tt.title)
			tt.wantErr(t, err)
		})
	}
}

func TestValidateMediaType(t *testing.T) {
	tests := []struct {
		t       string
		wantErr assert.ErrorAssertionFunc
	}{
		{"movie", assert.NoError},
		{"series", assert.NoError},
		{"documentary", assert.Error},
		{"", assert.Error},
	}

	for _, tt := range tests {
		t.Run(tt.t, func(t *testing.T) {
			err := common.ValidateMediaType(tt.t)
			tt.wantErr(t, err)
		})
	}
}

func TestExtractIMDBTitleID(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"tt0133093", "tt0133093"},
		{"tmdb-603-tt0133093", "tt0133093"},
		{"tt0133093:1:2", "tt0133093"},
		{"tmdb-603", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, common.ExtractIMDBTitleID(tt.id))
		})
	}
}
