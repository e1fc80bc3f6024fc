package cbz

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ComicInfo is the subset of the ComicInfo.xml schema that the catalog uses.
type ComicInfo struct {
	XMLName   xml.Name `xml:"ComicInfo"`
	Title     string   `xml:"Title"`
	Series    string   `xml:"Series"`
	Number    string   `xml:"Number"`
	Volume    string   `xml:"Volume"`
	Publisher string   `xml:"Publisher"`
	PageCount string   `xml:"PageCount"`
	Pages     struct {
		Page []ComicPageInfo `xml:"Page"`
	} `xml:"Pages"`
}

type ComicPageInfo struct {
	Image string `xml:"Image,attr"`
	Type  string `xml:"Type,attr"`
}

// ParsedMetadata is the result of parsing a CBZ archive.
type ParsedMetadata struct {
	Title         string
	Series        string
	IssueNumber   *float64
	Publisher     string
	PageCount     int
	CoverData     []byte
	CoverMimeType string
	CoverPage     *int
}

// Parse reads a CBZ archive and extracts its ComicInfo.xml metadata and cover
// image.
func Parse(path string) (*ParsedMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	stats, err := f.Stat()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	zipReader, err := zip.NewReader(f, stats.Size())
	if err != nil {
		return nil, errors.WithStack(err)
	}

	// Parse ComicInfo.xml if it exists
	var comicInfo *ComicInfo
	for _, file := range zipReader.File {
		if strings.ToLower(file.Name) == "comicinfo.xml" {
			r, err := file.Open()
			if err != nil {
				return nil, errors.WithStack(err)
			}
			comicInfo, err = ParseComicInfo(r)
			if err != nil {
				return nil, errors.WithStack(err)
			}
			break
		}
	}

	coverData, coverMimeType, coverPage, pageCount, err := extractCoverImage(zipReader, comicInfo)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	metadata := &ParsedMetadata{
		PageCount:     pageCount,
		CoverData:     coverData,
		CoverMimeType: coverMimeType,
		CoverPage:     coverPage,
	}

	if comicInfo != nil {
		metadata.Title = strings.TrimSpace(comicInfo.Title)
		metadata.Series = strings.TrimSpace(comicInfo.Series)
		metadata.Publisher = strings.TrimSpace(comicInfo.Publisher)

		if comicInfo.Number != "" {
			if num, err := strconv.ParseFloat(comicInfo.Number, 64); err == nil {
				metadata.IssueNumber = &num
			}
		}
		if comicInfo.PageCount != "" {
			if count, err := strconv.Atoi(comicInfo.PageCount); err == nil && count > 0 {
				metadata.PageCount = count
			}
		}
	}

	// If no issue number from ComicInfo, try to extract it from the filename.
	if metadata.IssueNumber == nil {
		metadata.IssueNumber = extractIssueNumberFromFilename(filepath.Base(path))
	}

	return metadata, nil
}

func ParseComicInfo(r io.ReadCloser) (*ComicInfo, error) {
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	comicInfo := &ComicInfo{}
	err = xml.Unmarshal(b, comicInfo)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return comicInfo, nil
}

// extractCoverImage picks the cover image out of the archive and returns its
// data, mime type, page index, and the archive's total page count.
func extractCoverImage(zipReader *zip.Reader, comicInfo *ComicInfo) ([]byte, string, *int, int, error) {
	// Create a sorted list of all image files
	var imageFiles []*zip.File
	for _, file := range zipReader.File {
		ext := strings.ToLower(filepath.Ext(file.Name))
		if ext == ".jpg" || ext == ".jpeg" || ext == ".png" || ext == ".gif" || ext == ".webp" {
			imageFiles = append(imageFiles, file)
		}
	}

	// Sort image files by name to ensure consistent ordering
	sort.Slice(imageFiles, func(i, j int) bool {
		return imageFiles[i].Name < imageFiles[j].Name
	})

	if len(imageFiles) == 0 {
		return nil, "", nil, 0, nil
	}

	var targetFile *zip.File
	var coverPageIndex *int

	// Prefer the page ComicInfo.xml marks as the front cover.
	if comicInfo != nil && len(comicInfo.Pages.Page) > 0 {
		for _, page := range comicInfo.Pages.Page {
			if strings.ToLower(page.Type) == "frontcover" {
				pageNum, err := strconv.Atoi(page.Image)
				if err == nil && pageNum >= 0 && pageNum < len(imageFiles) {
					targetFile = imageFiles[pageNum]
					coverPageIndex = &pageNum
					break
				}
			}
		}
	}

	// Fall back to the first image by page order.
	if targetFile == nil {
		targetFile = imageFiles[0]
		zero := 0
		coverPageIndex = &zero
	}

	r, err := targetFile.Open()
	if err != nil {
		return nil, "", nil, 0, errors.WithStack(err)
	}
	defer r.Close()

	coverData, err := io.ReadAll(r)
	if err != nil {
		return nil, "", nil, 0, errors.WithStack(err)
	}

	mimeType := ""
	switch strings.ToLower(filepath.Ext(targetFile.Name)) {
	case ".jpg", ".jpeg":
		mimeType = "image/jpeg"
	case ".png":
		mimeType = "image/png"
	case ".gif":
		mimeType = "image/gif"
	case ".webp":
		mimeType = "image/webp"
	}

	return coverData, mimeType, coverPageIndex, len(imageFiles), nil
}

var issueNumberREs = []*regexp.Regexp{
	regexp.MustCompile(`(?i)#(\d+(?:\.\d+)?)$`),   // matches #7 or #7.5
	regexp.MustCompile(`(?i)v(\d+(?:\.\d+)?)$`),   // matches v7 or v7.5
	regexp.MustCompile(`(?i)\s+(\d+(?:\.\d+)?)$`), // matches " 7" or " 7.5"
}

func extractIssueNumberFromFilename(filename string) *float64 {
	nameWithoutExt := strings.TrimSuffix(filename, filepath.Ext(filename))

	for _, re := range issueNumberREs {
		if matches := re.FindStringSubmatch(nameWithoutExt); len(matches) >= 2 {
			if num, err := strconv.ParseFloat(matches[1], 64); err == nil {
				return &num
			}
		}
	}

	return nil
}
