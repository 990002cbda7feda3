// Package app holds the workflows that combine a manga source with the Boox
// device.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ssh-vom/boox-reader/internal/providers/manga"
)

// Uploader is the part of the Boox client the workflows need.
type Uploader interface {
	CreateFolder(ctx context.Context, parentID, title string) (string, error)
	UploadFile(ctx context.Context, parentID, fileName string, fileData []byte) error
}

type ProgressUpdate struct {
	Current int
	Total   int
	Message string
	Done    bool
	Err     error
}

type progressTracker struct {
	updates chan<- ProgressUpdate
	total   int
	current int
}

func newProgressTracker(updates chan<- ProgressUpdate, total int) *progressTracker {
	return &progressTracker{updates: updates, total: total}
}

func (tracker *progressTracker) send(message string) {
	if tracker.updates != nil {
		tracker.updates <- ProgressUpdate{Current: tracker.current, Total: tracker.total, Message: message}
	}
}

func (tracker *progressTracker) message(message string) {
	tracker.send(message)
}

func (tracker *progressTracker) advance(steps int, message string) {
	tracker.current = min(tracker.current+steps, tracker.total)
	tracker.send(message)
}

type DownloadOptions struct {
	DataSaver   bool
	Concurrency int
	Logger      *slog.Logger
}

// DownloadAndUploadMangaChapters packages every chapter as a CBZ inside a
// folder named after the manga. Chapters without pages are skipped and
// reported together at the end; any other failure stops the batch.
func DownloadAndUploadMangaChapters(ctx context.Context, uploader Uploader, delegate manga.Delegate, mangaTitle string, chapters []manga.Chapter, options DownloadOptions, updates chan<- ProgressUpdate) error {
	if len(chapters) == 0 {
		return errors.New("no chapters selected")
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	folderID := ensureFolder(ctx, uploader, mangaTitle, logger)
	if folderID == "" && updates != nil {
		updates <- ProgressUpdate{Message: "Unable to create folder, uploading to root"}
	}

	const stepsPerChapter = 3
	tracker := newProgressTracker(updates, len(chapters)*stepsPerChapter)

	var skipped []error
	for index, chapter := range chapters {
		label := manga.FormatChapterLabel(chapter)
		prefix := fmt.Sprintf("Chapter %d/%d: ", index+1, len(chapters))

		tracker.message(prefix + "Downloading pages for " + label)
		images, err := manga.DownloadChapter(ctx, delegate, chapter, options.DataSaver, options.Concurrency)
		if err != nil {
			if shouldSkipChapter(err) {
				logger.Warn("skipping chapter", "chapter", chapter.ID, "error", err)
				skipped = append(skipped, err)
				tracker.advance(stepsPerChapter, prefix+"Skipped "+label)
				continue
			}
			return fmt.Errorf("error downloading chapter images: %w", err)
		}
		tracker.advance(1, prefix+"Downloaded pages for "+label)

		tracker.message(prefix + "Creating CBZ for " + label)
		chapterName := SanitizeFileName(label)
		cbzData, err := CreateCBZ(chapterName, images)
		if err != nil {
			return fmt.Errorf("error creating CBZ file: %w", err)
		}
		tracker.advance(1, prefix+"Created CBZ for "+label)

		tracker.message(prefix + "Uploading " + label)
		if err := uploader.UploadFile(ctx, folderID, chapterName+".cbz", cbzData); err != nil {
			return fmt.Errorf("error uploading CBZ file: %w", err)
		}
		tracker.advance(1, prefix+"Uploaded "+label)
	}

	if len(skipped) > 0 {
		return fmt.Errorf("skipped %d chapter(s): %w", len(skipped), errors.Join(skipped...))
	}
	return nil
}

// UploadChapter uploads pages that are already in memory, such as those
// gathered by the reader.
func UploadChapter(ctx context.Context, uploader Uploader, mangaTitle string, chapter manga.Chapter, pages [][]byte, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if len(pages) == 0 {
		return fmt.Errorf("%w: %s", manga.ErrChapterNoPages, manga.FormatChapterLabel(chapter))
	}

	chapterName := SanitizeFileName(manga.FormatChapterLabel(chapter))
	cbzData, err := CreateCBZ(chapterName, pages)
	if err != nil {
		return fmt.Errorf("error creating CBZ file: %w", err)
	}

	folderID := ensureFolder(ctx, uploader, mangaTitle, logger)
	if err := uploader.UploadFile(ctx, folderID, chapterName+".cbz", cbzData); err != nil {
		return fmt.Errorf("error uploading CBZ file: %w", err)
	}
	logger.Info("uploaded chapter", "chapter", chapter.ID, "pages", len(pages))
	return nil
}

// ensureFolder returns the id of a new folder for mangaTitle, or "" to
// upload into the root when the device refuses.
func ensureFolder(ctx context.Context, uploader Uploader, mangaTitle string, logger *slog.Logger) string {
	if mangaTitle == "" {
		return ""
	}
	folderID, err := uploader.CreateFolder(ctx, "", SanitizeFileName(mangaTitle))
	if err != nil {
		logger.Warn("unable to create folder, uploading to root", "title", mangaTitle, "error", err)
		return ""
	}
	return folderID
}

func shouldSkipChapter(err error) bool {
	return errors.Is(err, manga.ErrChapterMetadataMissing) || errors.Is(err, manga.ErrChapterNoPages)
}
