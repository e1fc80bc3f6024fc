package files

type ListFilesQuery struct {
	Limit     int      `query:"limit" json:"limit,omitempty" default:"50" validate:"min=1,max=500"`
	Offset    int      `query:"offset" json:"offset,omitempty" validate:"min=0"`
	LibraryID *int     `query:"library_id" json:"library_id,omitempty"`
	Status    []string `query:"status" json:"status,omitempty" validate:"dive,oneof=pending indexed orphaned quarantined"`
}
