package series

type ListSeriesQuery struct {
	LibraryID *int `query:"library_id" json:"library_id,omitempty"`
	Limit     int  `query:"limit" json:"limit,omitempty" default:"50" validate:"min=1,max=200"`
	Offset    int  `query:"offset" json:"offset,omitempty" validate:"min=0"`
}
