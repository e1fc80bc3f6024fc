package scanner

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	folderYearRE    = regexp.MustCompile(`\s*\((?:19|20)\d{2}\)\s*$`)
	folderVolumeRE  = regexp.MustCompile(`(?i)\s*v(?:ol\.?)?\s*\d+\s*$`)
	filenameIssueRE = regexp.MustCompile(`(?i)\s*(?:#|v)?\d+(?:\.\d+)?\s*$`)
)

// seriesNameFromFolder derives a series name from a file's parent folder,
// stripping a trailing year marker like "(2016)" and volume suffixes.
func seriesNameFromFolder(rootPath, path string) string {
	dir := filepath.Dir(path)
	if filepath.Clean(dir) == filepath.Clean(rootPath) {
		// Files sitting directly in the library root have no folder to name a
		// series after.
		return ""
	}

	name := filepath.Base(dir)
	name = folderYearRE.ReplaceAllString(name, "")
	name = folderVolumeRE.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}

// seriesNameFromFilename is the last-resort fallback: the filename without
// its extension and trailing issue number.
func seriesNameFromFilename(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name = filenameIssueRE.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}
