package manga

import "context"

// Provider is the catalogue side of a source: discovery and chapter listing.
type Provider interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
	FetchChapters(ctx context.Context, mangaID string) ([]Chapter, error)
	FetchCover(ctx context.Context, coverURL string) ([]byte, error)
}

// DownloadInfo is the opaque per-chapter token produced by a Delegate. Only
// the delegate that produced it knows how to read it.
type DownloadInfo interface {
	PageCount() int
}

// Delegate turns chapters into page bytes. Implementations must be safe to
// call concurrently for pages of the same or different chapters.
type Delegate interface {
	FetchDownloadInfo(ctx context.Context, chapter Chapter, dataSaver bool) (DownloadInfo, error)
	FetchPage(ctx context.Context, index int, info DownloadInfo) ([]byte, error)
	FetchPageByURL(ctx context.Context, pageURL string, info DownloadInfo) ([]byte, error)
	// BuildPageURL must not perform I/O.
	BuildPageURL(index int, info DownloadInfo) (string, error)
}

// ChapterDirectory finds the chapters adjacent to chapterID, ordered by
// chapter number. A nil chapter with a nil error means there is no neighbour.
type ChapterDirectory interface {
	FindNextChapter(ctx context.Context, chapterID, mangaID string) (*Chapter, error)
	FindPreviousChapter(ctx context.Context, chapterID, mangaID string) (*Chapter, error)
}

// Source is a delegate that can also browse its own catalogue.
type Source interface {
	Provider
	Delegate
}
