package library

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssh-vom/boox-reader/internal/providers/manga"
)

type countingLister struct {
	calls    atomic.Int32
	chapters []manga.Chapter
	err      error
	delay    time.Duration
}

func (lister *countingLister) FetchChapters(ctx context.Context, mangaID string) ([]manga.Chapter, error) {
	lister.calls.Add(1)
	if lister.delay > 0 {
		time.Sleep(lister.delay)
	}
	if lister.err != nil {
		return nil, lister.err
	}
	return lister.chapters, nil
}

func sampleChapters() []manga.Chapter {
	return []manga.Chapter{
		{ID: "a", MangaID: "m", Number: "1"},
		{ID: "b", MangaID: "m", Number: "2"},
		{ID: "b-alt", MangaID: "m", Number: "2"},
		{ID: "c", MangaID: "m", Number: "3"},
	}
}

func TestDirectoryFindsNeighbours(t *testing.T) {
	directory := NewDirectory(&countingLister{chapters: sampleChapters()}, 0, nil)
	ctx := context.Background()

	next, err := directory.FindNextChapter(ctx, "a", "m")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "b", next.ID)

	next, err = directory.FindNextChapter(ctx, "b", "m")
	require.NoError(t, err)
	assert.Equal(t, "c", next.ID, "alternate releases of the same chapter are skipped")

	previous, err := directory.FindPreviousChapter(ctx, "c", "m")
	require.NoError(t, err)
	assert.Equal(t, "b-alt", previous.ID)

	previous, err = directory.FindPreviousChapter(ctx, "b-alt", "m")
	require.NoError(t, err)
	assert.Equal(t, "a", previous.ID)
}

func TestDirectoryEdgesHaveNoNeighbour(t *testing.T) {
	directory := NewDirectory(&countingLister{chapters: sampleChapters()}, 0, nil)

	next, err := directory.FindNextChapter(context.Background(), "c", "m")
	require.NoError(t, err)
	assert.Nil(t, next)

	previous, err := directory.FindPreviousChapter(context.Background(), "a", "m")
	require.NoError(t, err)
	assert.Nil(t, previous)
}

func TestDirectoryUnknownChapter(t *testing.T) {
	directory := NewDirectory(&countingLister{chapters: sampleChapters()}, 0, nil)

	_, err := directory.FindNextChapter(context.Background(), "zzz", "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChapterNotListed)
	assert.Equal(t, manga.KindOther, manga.KindOf(err))
}

func TestDirectoryCachesChapterList(t *testing.T) {
	lister := &countingLister{chapters: sampleChapters()}
	directory := NewDirectory(lister, time.Minute, nil)
	ctx := context.Background()

	for range 3 {
		_, err := directory.FindNextChapter(ctx, "a", "m")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, lister.calls.Load())

	directory.Invalidate("m")
	_, err := directory.FindPreviousChapter(ctx, "c", "m")
	require.NoError(t, err)
	assert.EqualValues(t, 2, lister.calls.Load())
}

func TestDirectorySharesConcurrentFetches(t *testing.T) {
	lister := &countingLister{chapters: sampleChapters(), delay: 50 * time.Millisecond}
	directory := NewDirectory(lister, time.Minute, nil)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := directory.FindNextChapter(context.Background(), "a", "m")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, lister.calls.Load())
}

func TestDirectoryPropagatesListErrors(t *testing.T) {
	lister := &countingLister{err: manga.NetworkError("fetch chapters", errors.New("offline"))}
	directory := NewDirectory(lister, time.Minute, nil)

	_, err := directory.FindNextChapter(context.Background(), "a", "m")
	require.Error(t, err)
	assert.Equal(t, manga.KindNetwork, manga.KindOf(err))

	_, err = directory.FindNextChapter(context.Background(), "a", "m")
	require.Error(t, err)
	assert.EqualValues(t, 2, lister.calls.Load(), "failures are not cached")
}

func TestStaticDirectory(t *testing.T) {
	directory := NewStatic([]manga.Chapter{{ID: "one"}, {ID: "two"}})

	next, err := directory.FindNextChapter(context.Background(), "one", "")
	require.NoError(t, err)
	assert.Equal(t, "two", next.ID)

	next, err = directory.FindNextChapter(context.Background(), "two", "")
	require.NoError(t, err)
	assert.Nil(t, next)

	previous, err := directory.FindPreviousChapter(context.Background(), "two", "")
	require.NoError(t, err)
	assert.Equal(t, "one", previous.ID)
}
