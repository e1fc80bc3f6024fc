package models

const (
	DataSourceManual      = "manual"
	DataSourceCBZMetadata = "cbz_metadata"
	DataSourceFolder      = "folder"
	DataSourceFilename    = "filename"
)

// Lower priority means that we respect it more than higher priority.
const (
	DataSourceManualPriority = iota
	DataSourceCBZMetadataPriority
	DataSourceFolderPriority
	DataSourceFilenamePriority
)

var DataSourcePriority = map[string]int{
	DataSourceManual:      DataSourceManualPriority,
	DataSourceCBZMetadata: DataSourceCBZMetadataPriority,
	DataSourceFolder:      DataSourceFolderPriority,
	DataSourceFilename:    DataSourceFilenamePriority,
}
