package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

type Series struct {
	bun.BaseModel `bun:"table:series,alias:s"`

	ID          int       `bun:",pk,nullzero" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LibraryID   int       `bun:",nullzero" json:"library_id"`
	Library     *Library  `bun:"rel:belongs-to" json:"library,omitempty"`
	Name        string    `bun:",nullzero" json:"name"`
	NameSource  string    `bun:",nullzero" json:"name_source"`
	Publisher   *string   `json:"publisher,omitempty"`
	IdentityKey string    `bun:",nullzero" json:"-"`
	FileCount   int       `bun:",scanonly" json:"file_count"`
}

// SeriesIdentityKey builds the deduplication key for a series: the name and
// publisher, case-folded with runs of whitespace collapsed. Two series with the
// same key are the same series.
func SeriesIdentityKey(name, publisher string) string {
	return normalizeIdentityPart(name) + "|" + normalizeIdentityPart(publisher)
}

func normalizeIdentityPart(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
