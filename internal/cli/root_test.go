package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssh-vom/boox-reader/internal/library"
	"github.com/ssh-vom/boox-reader/internal/providers/manga"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "boox-reader", cmd.Use)

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)
}

func TestFetchCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	fetchCmd, _, err := cmd.Find([]string{"fetch"})
	require.NoError(t, err)
	assert.Equal(t, "fetch", fetchCmd.Name())

	for _, name := range []string{"manga", "chapter", "gallery", "selector", "out", "upload", "title", "max-chapters", "data-saver", "stall-timeout", "no-history"} {
		assert.NotNil(t, fetchCmd.Flags().Lookup(name), "flag %s", name)
	}
	assert.Equal(t, "1", fetchCmd.Flags().Lookup("max-chapters").DefValue)
	assert.Equal(t, "o", fetchCmd.Flags().Lookup("out").Shorthand)
}

func TestFetchRequiresSource(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"fetch"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--manga or --gallery")
}

func TestFetchRejectsBothSources(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"fetch", "--manga", "m1", "--gallery", "https://example.com/1"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	require.Error(t, cmd.Execute())
}

func TestGalleryChapters(t *testing.T) {
	chapters := galleryChapters([]string{"https://example.com/a", "https://example.com/b"})
	require.Len(t, chapters, 2)

	assert.Equal(t, "https://example.com/a", chapters[0].ID)
	assert.Equal(t, "https://example.com/a", chapters[0].URL)
	assert.Equal(t, "1", chapters[0].Number)
	assert.Equal(t, "2", chapters[1].Number)
	assert.Equal(t, galleryMangaID, chapters[1].MangaID)

	next, err := library.NewStatic(chapters).FindNextChapter(context.Background(), chapters[0].ID, galleryMangaID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, chapters[1].ID, next.ID)
}

type stubLister struct {
	chapters []manga.Chapter
	err      error
}

func (lister stubLister) Chapters(ctx context.Context, mangaID string) ([]manga.Chapter, error) {
	return lister.chapters, lister.err
}

func TestStartChapter(t *testing.T) {
	lister := stubLister{chapters: []manga.Chapter{{ID: "c1", Number: "1"}, {ID: "c2", Number: "2"}}}

	first, err := startChapter(context.Background(), lister, "m1", "")
	require.NoError(t, err)
	assert.Equal(t, "c1", first.ID)

	picked, err := startChapter(context.Background(), lister, "m1", "c2")
	require.NoError(t, err)
	assert.Equal(t, "2", picked.Number)

	_, err = startChapter(context.Background(), lister, "m1", "missing")
	assert.ErrorIs(t, err, library.ErrChapterNotListed)
}

func TestStartChapterErrors(t *testing.T) {
	_, err := startChapter(context.Background(), stubLister{}, "m1", "")
	assert.ErrorContains(t, err, "no readable chapters")

	listErr := errors.New("offline")
	_, err = startChapter(context.Background(), stubLister{err: listErr}, "m1", "")
	assert.ErrorIs(t, err, listErr)
}
