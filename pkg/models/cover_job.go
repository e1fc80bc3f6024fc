package models

import (
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

const (
	CoverJobStatusPending    = "pending"
	CoverJobStatusProcessing = "processing"
	CoverJobStatusComplete   = "complete"
	CoverJobStatusFailed     = "failed"
	CoverJobStatusCancelled  = "cancelled"
)

// CoverJobDefaultMaxRetries is applied when a job is enqueued without an
// explicit retry ceiling.
const CoverJobDefaultMaxRetries = 5

type CoverJob struct {
	bun.BaseModel `bun:"table:cover_jobs,alias:cj"`

	ID             int       `bun:",pk,nullzero" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LibraryID      int       `bun:",nullzero" json:"library_id"`
	FolderPath     string    `bun:",nullzero" json:"folder_path"`
	FileIDs        string    `bun:"file_ids,nullzero" json:"-"`
	FileIDsParsed  []int     `bun:"-" json:"file_ids"`
	Status         string    `bun:",nullzero,default:'pending'" json:"status"`
	Priority       int       `json:"priority"`
	TotalFiles     int       `json:"total_files"`
	ProcessedFiles int       `json:"processed_files"`
	FailedFiles    int       `json:"failed_files"`
	RetryCount     int       `json:"retry_count"`
	MaxRetries     int       `bun:",nullzero,default:5" json:"max_retries"`
	LastError      *string   `json:"last_error,omitempty"`
}

func (job *CoverJob) UnmarshalFileIDs() error {
	job.FileIDsParsed = []int{}
	if job.FileIDs == "" {
		return nil
	}
	err := json.Unmarshal([]byte(job.FileIDs), &job.FileIDsParsed)
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (job *CoverJob) MarshalFileIDs() error {
	data, err := json.Marshal(job.FileIDsParsed)
	if err != nil {
		return errors.WithStack(err)
	}
	job.FileIDs = string(data)
	return nil
}

// CoverJobTerminal reports whether a cover job status is terminal for the
// queue runtime. A failed job with retries left is not terminal; the runtime
// requeues it itself before marking it failed.
func CoverJobTerminal(status string) bool {
	switch status {
	case CoverJobStatusComplete, CoverJobStatusFailed, CoverJobStatusCancelled:
		return true
	}
	return false
}
