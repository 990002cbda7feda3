// Package library answers "which chapter comes next" for the reader.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/ssh-vom/boox-reader/internal/providers/manga"
)

const (
	DefaultTTL      = 10 * time.Minute
	cleanupInterval = 30 * time.Minute
)

var ErrChapterNotListed = errors.New("chapter not in chapter list")

// ChapterLister is the part of a provider the directory needs. Chapters must
// come back in reading order.
type ChapterLister interface {
	FetchChapters(ctx context.Context, mangaID string) ([]manga.Chapter, error)
}

// Directory resolves neighbours from a provider's chapter list. Lists are
// cached per manga; concurrent misses for the same manga share one fetch.
type Directory struct {
	lister ChapterLister
	cache  *cache.Cache
	group  singleflight.Group
	logger *slog.Logger
}

func NewDirectory(lister ChapterLister, ttl time.Duration, logger *slog.Logger) *Directory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		lister: lister,
		cache:  cache.New(ttl, cleanupInterval),
		logger: logger,
	}
}

// Chapters returns the reading-order chapter list of mangaID.
func (directory *Directory) Chapters(ctx context.Context, mangaID string) ([]manga.Chapter, error) {
	if cached, ok := directory.cache.Get(mangaID); ok {
		return cached.([]manga.Chapter), nil
	}

	result, err, shared := directory.group.Do(mangaID, func() (any, error) {
		chapters, err := directory.lister.FetchChapters(ctx, mangaID)
		if err != nil {
			return nil, err
		}
		directory.cache.SetDefault(mangaID, chapters)
		return chapters, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list chapters for %s: %w", mangaID, err)
	}
	directory.logger.Debug("chapter list fetched", "manga", mangaID, "chapters", len(result.([]manga.Chapter)), "shared", shared)
	return result.([]manga.Chapter), nil
}

// Invalidate drops the cached list so the next lookup refetches it.
func (directory *Directory) Invalidate(mangaID string) {
	directory.cache.Delete(mangaID)
}

func (directory *Directory) FindNextChapter(ctx context.Context, chapterID, mangaID string) (*manga.Chapter, error) {
	chapters, err := directory.Chapters(ctx, mangaID)
	if err != nil {
		return nil, err
	}
	return neighbourOf(chapters, chapterID, 1)
}

func (directory *Directory) FindPreviousChapter(ctx context.Context, chapterID, mangaID string) (*manga.Chapter, error) {
	chapters, err := directory.Chapters(ctx, mangaID)
	if err != nil {
		return nil, err
	}
	return neighbourOf(chapters, chapterID, -1)
}

// neighbourOf walks from chapterID in step direction, skipping other
// releases of the same chapter number.
func neighbourOf(chapters []manga.Chapter, chapterID string, step int) (*manga.Chapter, error) {
	index := indexOf(chapters, chapterID)
	if index < 0 {
		return nil, manga.OtherError("find chapter", fmt.Errorf("%w: %s", ErrChapterNotListed, chapterID))
	}

	origin := chapters[index]
	for cursor := index + step; cursor >= 0 && cursor < len(chapters); cursor += step {
		candidate := chapters[cursor]
		if sameRelease(origin, candidate) {
			continue
		}
		return &candidate, nil
	}
	return nil, nil
}

func sameRelease(a, b manga.Chapter) bool {
	if a.Number == "" || b.Number == "" {
		return false
	}
	return a.Number == b.Number && a.Volume == b.Volume
}

func indexOf(chapters []manga.Chapter, chapterID string) int {
	for index, chapter := range chapters {
		if chapter.ID == chapterID {
			return index
		}
	}
	return -1
}

// Static serves a fixed chapter list, for sources without a catalogue.
type Static struct {
	chapters []manga.Chapter
}

func NewStatic(chapters []manga.Chapter) *Static {
	return &Static{chapters: append([]manga.Chapter(nil), chapters...)}
}

func (static *Static) FindNextChapter(ctx context.Context, chapterID, mangaID string) (*manga.Chapter, error) {
	return neighbourOf(static.chapters, chapterID, 1)
}

func (static *Static) FindPreviousChapter(ctx context.Context, chapterID, mangaID string) (*manga.Chapter, error) {
	return neighbourOf(static.chapters, chapterID, -1)
}
