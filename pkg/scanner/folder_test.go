package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeriesNameFromFolder(t *testing.T) {
	t.Parallel()
	cases := []struct {
		path     string
		expected string
	}{
		{"/comics/Batman/Batman 001.cbz", "Batman"},
		{"/comics/Batman (2016)/Batman 001.cbz", "Batman"},
		{"/comics/Saga Vol 1/Saga 001.cbz", "Saga"},
		{"/comics/Saga v2/Saga 012.cbz", "Saga"},
		{"/comics/loose.cbz", ""},
	}

	for _, tt := range cases {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, seriesNameFromFolder("/comics", tt.path))
		})
	}
}

func TestSeriesNameFromFilename(t *testing.T) {
	t.Parallel()
	cases := []struct {
		path     string
		expected string
	}{
		{"/comics/Batman 001.cbz", "Batman"},
		{"/comics/Batman #7.cbz", "Batman"},
		{"/comics/Saga v2.cbz", "Saga"},
		{"/comics/Blankets.cbz", "Blankets"},
	}

	for _, tt := range cases {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, seriesNameFromFilename(tt.path))
		})
	}
}
