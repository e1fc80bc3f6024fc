package models

import (
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

const (
	ScanJobStatusPending   = "pending"
	ScanJobStatusRunning   = "running"
	ScanJobStatusComplete  = "complete"
	ScanJobStatusError     = "error"
	ScanJobStatusCancelled = "cancelled"
)

// ScanJobTerminal reports whether a scan job status is terminal. Only
// terminal-state jobs may be deleted.
func ScanJobTerminal(status string) bool {
	switch status {
	case ScanJobStatusComplete, ScanJobStatusError, ScanJobStatusCancelled:
		return true
	}
	return false
}

type ScanJob struct {
	bun.BaseModel `bun:"table:scan_jobs,alias:sj"`

	ID         int          `bun:",pk,nullzero" json:"id"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	LibraryID  int          `bun:",nullzero" json:"library_id"`
	Status     string       `bun:",nullzero,default:'pending'" json:"status"`
	Data       string       `bun:",nullzero" json:"-"`
	DataParsed *ScanJobData `bun:"-" json:"data"`
}

func (job *ScanJob) UnmarshalData() error {
	job.DataParsed = &ScanJobData{}
	if job.Data == "" {
		return nil
	}
	err := json.Unmarshal([]byte(job.Data), job.DataParsed)
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (job *ScanJob) MarshalData() error {
	if job.DataParsed == nil {
		return nil
	}
	data, err := json.Marshal(job.DataParsed)
	if err != nil {
		return errors.WithStack(err)
	}
	job.Data = string(data)
	return nil
}

// ScanJobData carries the scan options and the per-stage result summaries. It
// is serialized into the data column as the pipeline progresses so that
// partial progress is visible while the scan is running.
type ScanJobData struct {
	ForceFullScan bool `json:"force_full_scan"`
	BatchSize     int  `json:"batch_size,omitempty"`

	Discovery *DiscoveryResult `json:"discovery,omitempty"`
	Metadata  *StageResult     `json:"metadata,omitempty"`
	Series    *StageResult     `json:"series,omitempty"`
	Linking   *StageResult     `json:"linking,omitempty"`

	Error string `json:"error,omitempty"`
}

// StageResult summarizes one pipeline stage.
type StageResult struct {
	Processed  int   `json:"processed"`
	Created    int   `json:"created"`
	Existing   int   `json:"existing"`
	Errors     int   `json:"errors"`
	DurationMS int64 `json:"duration_ms"`
}

// DiscoveryResult summarizes the discovery stage's file classification.
type DiscoveryResult struct {
	New        int   `json:"new"`
	Modified   int   `json:"modified"`
	Unchanged  int   `json:"unchanged"`
	Orphaned   int   `json:"orphaned"`
	Errors     int   `json:"errors"`
	DurationMS int64 `json:"duration_ms"`
}
