package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/komikan/komikan/pkg/files"
	"github.com/komikan/komikan/pkg/models"
	"github.com/komikan/komikan/pkg/progress"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// CBZ archives are plain zip containers, so the extension carries the intent
// and the mime type check guards against mislabeled files.
var cbzMimeTypes = map[string]struct{}{
	"application/zip":               {},
	"application/vnd.comicbook+zip": {},
}

// runDiscovery walks the library root, classifies every archive against the
// known catalog, and marks records whose files vanished as orphaned. Stat and
// mime detection fan out across workers; the classification counters are
// shared under a mutex.
func (s *Scanner) runDiscovery(ctx context.Context, job *models.ScanJob, library *models.Library) error {
	log := logger.FromContext(ctx)
	start := time.Now()
	result := &models.DiscoveryResult{}
	job.DataParsed.Discovery = result

	paths := []string{}
	err := filepath.WalkDir(library.RootPath, func(path string, info fs.DirEntry, err error) error {
		if err != nil {
			return errors.WithStack(err)
		}
		if info.IsDir() {
			return nil
		}
		if strings.ToLower(filepath.Ext(path)) != ".cbz" {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return errors.WithStack(err)
	}

	known, err := s.fileService.ListFiles(ctx, files.ListFilesOptions{
		LibraryID: &job.LibraryID,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	knownByPath := make(map[string]*models.File, len(known))
	for _, file := range known {
		knownByPath[file.Filepath] = file
	}

	var mu sync.Mutex
	seen := make(map[string]struct{}, len(paths))
	processed := 0

	queue := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < s.config.ScanConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range queue {
				err := s.discoverFile(ctx, job, library, path, knownByPath, &mu, seen, result)
				mu.Lock()
				if err != nil {
					result.Errors++
					log.Warn("discovery error", logger.Data{"path": path, "error": err.Error()})
				}
				processed++
				current := processed
				mu.Unlock()

				s.broadcaster.Publish(progress.Event{
					Phase:     "discovery",
					LibraryID: job.LibraryID,
					JobID:     job.ID,
					Current:   current,
					Total:     len(paths),
					Detail:    path,
				})
			}
		}()
	}
	stopped := false
	for i, path := range paths {
		if i%cancelCheckInterval == 0 {
			cancelled, err := s.isCancelled(ctx, job.ID)
			if err != nil {
				close(queue)
				wg.Wait()
				return errors.WithStack(err)
			}
			if cancelled {
				stopped = true
				break
			}
		}
		queue <- path
	}
	close(queue)
	wg.Wait()

	// Records whose files are gone from disk are kept but marked orphaned so
	// that nothing downstream touches them. A cancelled walk never saw every
	// path, so its incomplete seen set must not orphan anything.
	if !stopped {
		for _, file := range known {
			if _, ok := seen[file.Filepath]; ok {
				continue
			}
			if file.Status == models.FileStatusOrphaned {
				continue
			}
			file.Status = models.FileStatusOrphaned
			err := s.fileService.UpdateFile(ctx, file, files.UpdateFileOptions{
				Columns: []string{"status"},
			})
			if err != nil {
				return errors.WithStack(err)
			}
			result.Orphaned++
		}
	}

	result.DurationMS = time.Since(start).Milliseconds()
	log.Info("discovery finished", logger.Data{
		"new":       result.New,
		"modified":  result.Modified,
		"unchanged": result.Unchanged,
		"orphaned":  result.Orphaned,
		"errors":    result.Errors,
	})

	return nil
}

func (s *Scanner) discoverFile(ctx context.Context, job *models.ScanJob, library *models.Library, path string, knownByPath map[string]*models.File, mu *sync.Mutex, seen map[string]struct{}, result *models.DiscoveryResult) error {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, ok := cbzMimeTypes[mtype.String()]; !ok {
		// The extension lied about the content; skip it without counting it
		// against the catalog.
		return nil
	}

	stats, err := os.Stat(path)
	if err != nil {
		return errors.WithStack(err)
	}

	mu.Lock()
	seen[path] = struct{}{}
	existing := knownByPath[path]
	mu.Unlock()

	if existing == nil {
		relativePath, err := filepath.Rel(library.RootPath, path)
		if err != nil {
			return errors.WithStack(err)
		}

		file := &models.File{
			LibraryID:      job.LibraryID,
			Filepath:       path,
			RelativePath:   relativePath,
			FileType:       models.FileTypeCBZ,
			Status:         models.FileStatusPending,
			FilesizeBytes:  stats.Size(),
			FileModifiedAt: stats.ModTime(),
		}
		if err := s.fileService.CreateFile(ctx, file); err != nil {
			return errors.WithStack(err)
		}

		mu.Lock()
		result.New++
		mu.Unlock()
		return nil
	}

	changed := job.DataParsed.ForceFullScan ||
		!existing.FileModifiedAt.Equal(stats.ModTime()) ||
		existing.FilesizeBytes != stats.Size() ||
		existing.Status == models.FileStatusOrphaned

	if !changed {
		mu.Lock()
		result.Unchanged++
		mu.Unlock()
		return nil
	}

	// A changed file goes back through metadata extraction and linking, so
	// its staging fields are cleared.
	existing.Status = models.FileStatusPending
	existing.FilesizeBytes = stats.Size()
	existing.FileModifiedAt = stats.ModTime()
	existing.SeriesNameRaw = nil
	existing.ResolvedSeriesID = nil
	err = s.fileService.UpdateFile(ctx, existing, files.UpdateFileOptions{
		Columns: []string{"status", "filesize_bytes", "file_modified_at", "series_name_raw", "resolved_series_id"},
	})
	if err != nil {
		return errors.WithStack(err)
	}

	mu.Lock()
	result.Modified++
	mu.Unlock()
	return nil
}
