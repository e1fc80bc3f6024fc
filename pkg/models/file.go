package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	FileStatusPending     = "pending"
	FileStatusIndexed     = "indexed"
	FileStatusOrphaned    = "orphaned"
	FileStatusQuarantined = "quarantined"
)

const (
	FileTypeCBZ = "cbz"
)

type File struct {
	bun.BaseModel `bun:"table:files,alias:f"`

	ID               int       `bun:",pk,nullzero" json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	LibraryID        int       `bun:",nullzero" json:"library_id"`
	Library          *Library  `bun:"rel:belongs-to" json:"library,omitempty"`
	Filepath         string    `bun:",nullzero" json:"filepath"`
	RelativePath     string    `bun:",nullzero" json:"relative_path"`
	FileType         string    `bun:",nullzero" json:"file_type"`
	Status           string    `bun:",nullzero,default:'pending'" json:"status"`
	FilesizeBytes    int64     `bun:",nullzero" json:"filesize_bytes"`
	FileModifiedAt   time.Time `json:"file_modified_at"`
	Title            *string   `json:"title,omitempty"`
	IssueNumber      *float64  `json:"issue_number,omitempty"`
	PageCount        *int      `json:"page_count,omitempty"`
	SeriesNameRaw    *string   `json:"series_name_raw,omitempty"`
	PublisherRaw     *string   `json:"publisher_raw,omitempty"`
	MetadataSource   *string   `json:"metadata_source,omitempty"`
	ResolvedSeriesID *int      `json:"resolved_series_id,omitempty"`
	Series           *Series   `bun:"rel:belongs-to,join:resolved_series_id=id" json:"series,omitempty"`
	CoverThumbPath   *string   `json:"cover_thumb_path,omitempty"`
}
