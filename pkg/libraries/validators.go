package libraries

type CreateLibraryPayload struct {
	Name     string `json:"name" validate:"required"`
	RootPath string `json:"root_path" validate:"required"`
}

type ListLibrariesQuery struct {
	Limit  int `query:"limit" json:"limit,omitempty" default:"20" validate:"min=1,max=100"`
	Offset int `query:"offset" json:"offset,omitempty" validate:"min=0"`
}
