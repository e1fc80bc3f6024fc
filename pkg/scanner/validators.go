package scanner

type StartScanPayload struct {
	LibraryID     int  `json:"library_id" validate:"required"`
	ForceFullScan bool `json:"force_full_scan,omitempty"`
	BatchSize     int  `json:"batch_size,omitempty" validate:"min=0,max=1000"`
}

type ListScanJobsQuery struct {
	Limit     int      `query:"limit" json:"limit,omitempty" default:"10" validate:"min=1,max=100"`
	Offset    int      `query:"offset" json:"offset,omitempty" validate:"min=0"`
	LibraryID *int     `query:"library_id" json:"library_id,omitempty"`
	Status    []string `query:"status" json:"status,omitempty" validate:"dive,oneof=pending running complete error cancelled"`
}
