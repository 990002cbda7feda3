package ui

import (
	"context"
	"errors"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ssh-vom/boox-reader/internal/app"
	"github.com/ssh-vom/boox-reader/internal/boox"
	"github.com/ssh-vom/boox-reader/internal/history"
	"github.com/ssh-vom/boox-reader/internal/library"
	"github.com/ssh-vom/boox-reader/internal/preview"
	"github.com/ssh-vom/boox-reader/internal/providers/manga"
)

const recentLimit = 30

type connectionResultMsg struct {
	device *boox.DeviceDetails
	err    error
}

type mangaSearchMsg struct {
	results []manga.SearchResult
	err     error
}

type chaptersMsg struct {
	mangaID  string
	chapters []manga.Chapter
	read     map[string]history.Progress
	err      error
}

type readMarksMsg struct {
	mangaID string
	read    map[string]history.Progress
}

type downloadStartMsg struct {
	updates <-chan app.ProgressUpdate
}

type coverLoadedMsg struct {
	url   string
	image preview.Image
	err   error
}

type coverTransitionMsg struct{}

type libraryMsg struct {
	folderID string
	listing  boox.Listing
	err      error
}

type recentMsg struct {
	recent []history.Progress
	err    error
}

func checkConnectionCmd(client *boox.Client) tea.Cmd {
	return func() tea.Msg {
		if client == nil {
			return connectionResultMsg{err: errors.New("boox device not configured")}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		device, err := client.CheckConnection(ctx)
		return connectionResultMsg{device: device, err: err}
	}
}

func searchMangaCmd(provider manga.Provider, query string) tea.Cmd {
	return func() tea.Msg {
		if provider == nil {
			return mangaSearchMsg{err: errors.New("manga provider unavailable")}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		results, err := provider.Search(ctx, query)
		return mangaSearchMsg{results: results, err: err}
	}
}

// fetchChaptersCmd goes through the directory so the reader's neighbour
// lookups hit the same cached list.
func fetchChaptersCmd(directory *library.Directory, store *history.Store, mangaID string) tea.Cmd {
	return func() tea.Msg {
		if directory == nil {
			return chaptersMsg{mangaID: mangaID, err: errors.New("manga provider unavailable")}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		directory.Invalidate(mangaID)
		chapters, err := directory.Chapters(ctx, mangaID)
		if err != nil {
			return chaptersMsg{mangaID: mangaID, err: err}
		}
		return chaptersMsg{mangaID: mangaID, chapters: chapters, read: readChapters(ctx, store, mangaID)}
	}
}

func fetchReadMarksCmd(store *history.Store, mangaID string) tea.Cmd {
	if store == nil || mangaID == "" {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return readMarksMsg{mangaID: mangaID, read: readChapters(ctx, store, mangaID)}
	}
}

// readChapters treats a history failure as "nothing read".
func readChapters(ctx context.Context, store *history.Store, mangaID string) map[string]history.Progress {
	if store == nil {
		return nil
	}
	read, err := store.ReadChapters(ctx, mangaID)
	if err != nil {
		slog.Warn("unable to load reading history", "manga", mangaID, "error", err)
		return nil
	}
	return read
}

func fetchCoverCmd(provider manga.Provider, cache *preview.Cache, coverURL string) tea.Cmd {
	return func() tea.Msg {
		if coverURL == "" {
			return coverLoadedMsg{url: coverURL, err: errors.New("cover url missing")}
		}
		if provider == nil || cache == nil {
			return coverLoadedMsg{url: coverURL, err: errors.New("manga provider unavailable")}
		}

		cached, ok, err := cache.Cover(coverURL)
		if err != nil {
			return coverLoadedMsg{url: coverURL, err: err}
		}
		if ok {
			return coverLoadedMsg{url: coverURL, image: cached}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		body, err := provider.FetchCover(ctx, coverURL)
		if err != nil {
			return coverLoadedMsg{url: coverURL, err: err}
		}

		image, err := cache.SaveCover(coverURL, body)
		if err != nil {
			return coverLoadedMsg{url: coverURL, err: err}
		}
		return coverLoadedMsg{url: coverURL, image: image}
	}
}

func startDownloadCmd(booxClient *boox.Client, delegate manga.Delegate, mangaTitle string, chapters []manga.Chapter, options app.DownloadOptions) tea.Cmd {
	return func() tea.Msg {
		updates := make(chan app.ProgressUpdate, len(chapters)+2)
		go func() {
			defer close(updates)
			if booxClient == nil {
				updates <- app.ProgressUpdate{Done: true, Err: errors.New("boox connection unavailable")}
				return
			}
			if delegate == nil {
				updates <- app.ProgressUpdate{Done: true, Err: errors.New("manga provider unavailable")}
				return
			}
			err := app.DownloadAndUploadMangaChapters(context.Background(), booxClient, delegate, mangaTitle, chapters, options, updates)
			updates <- app.ProgressUpdate{Done: true, Err: err}
		}()
		return downloadStartMsg{updates: updates}
	}
}

func listenProgressCmd(updates <-chan app.ProgressUpdate) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-updates
		if !ok {
			return app.ProgressUpdate{Done: true}
		}
		return msg
	}
}

func listenLogCmd(ch <-chan logMsg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

func fetchLibraryCmd(client *boox.Client, folderID string) tea.Cmd {
	return func() tea.Msg {
		if client == nil {
			return libraryMsg{folderID: folderID, err: errors.New("boox connection unavailable")}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		query := boox.DefaultLibraryQuery()
		query.FolderID = folderID
		listing, err := client.Library(ctx, query)
		return libraryMsg{folderID: folderID, listing: listing, err: err}
	}
}

func fetchRecentCmd(store *history.Store) tea.Cmd {
	return func() tea.Msg {
		if store == nil {
			return recentMsg{err: errors.New("reading history unavailable")}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		recent, err := store.Recent(ctx, recentLimit)
		return recentMsg{recent: recent, err: err}
	}
}

func coverTransitionCmd() tea.Cmd {
	return tea.Tick(30*time.Millisecond, func(time.Time) tea.Msg {
		return coverTransitionMsg{}
	})
}
