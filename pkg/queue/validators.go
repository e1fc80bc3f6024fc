package queue

type CreateCoverJobPayload struct {
	LibraryID  int    `json:"library_id" validate:"required"`
	FolderPath string `json:"folder_path" validate:"required"`
	FileIDs    []int  `json:"file_ids" validate:"required,min=1"`
	Priority   int    `json:"priority,omitempty" validate:"min=0,max=10"`
}

type ListCoverJobsQuery struct {
	Limit  int      `query:"limit" json:"limit,omitempty" default:"10" validate:"min=1,max=100"`
	Offset int      `query:"offset" json:"offset,omitempty" validate:"min=0"`
	Status []string `query:"status" json:"status,omitempty" validate:"dive,oneof=pending processing complete failed cancelled"`
}

type SetLowPriorityPayload struct {
	Enabled *bool `json:"enabled" validate:"required"`
}
