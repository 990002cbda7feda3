package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ssh-vom/boox-reader/internal/providers/manga"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubInfo struct {
	chapterID string
	count     int
}

func (info stubInfo) PageCount() int { return info.count }

// stubSource fails a page as many times as failures says, then serves it.
type stubSource struct {
	mu           sync.Mutex
	counts       map[string]int
	failures     map[string]int
	infoFailures int
}

func (source *stubSource) FetchDownloadInfo(ctx context.Context, chapter manga.Chapter, dataSaver bool) (manga.DownloadInfo, error) {
	source.mu.Lock()
	defer source.mu.Unlock()
	if source.infoFailures > 0 {
		source.infoFailures--
		return nil, manga.NetworkError("fetch download info", errors.New("offline"))
	}
	count, ok := source.counts[chapter.ID]
	if !ok {
		return nil, manga.UnexpectedError("fetch download info", manga.ErrChapterMetadataMissing)
	}
	return stubInfo{chapterID: chapter.ID, count: count}, nil
}

func (source *stubSource) BuildPageURL(index int, info manga.DownloadInfo) (string, error) {
	return fmt.Sprintf("%s/%d", info.(stubInfo).chapterID, index), nil
}

func (source *stubSource) FetchPage(ctx context.Context, index int, info manga.DownloadInfo) ([]byte, error) {
	pageURL, _ := source.BuildPageURL(index, info)
	return source.FetchPageByURL(ctx, pageURL, info)
}

func (source *stubSource) FetchPageByURL(ctx context.Context, pageURL string, info manga.DownloadInfo) ([]byte, error) {
	source.mu.Lock()
	defer source.mu.Unlock()
	if source.failures[pageURL] > 0 {
		source.failures[pageURL]--
		return nil, manga.NetworkError("fetch page", fmt.Errorf("timeout on %s", pageURL))
	}
	return []byte("img:" + pageURL), nil
}

type stubDirectory struct {
	chapters []manga.Chapter
}

func (directory stubDirectory) FindNextChapter(ctx context.Context, chapterID, mangaID string) (*manga.Chapter, error) {
	for index, chapter := range directory.chapters {
		if chapter.ID == chapterID && index+1 < len(directory.chapters) {
			next := directory.chapters[index+1]
			return &next, nil
		}
	}
	return nil, nil
}

func (directory stubDirectory) FindPreviousChapter(ctx context.Context, chapterID, mangaID string) (*manga.Chapter, error) {
	for index, chapter := range directory.chapters {
		if chapter.ID == chapterID && index > 0 {
			previous := directory.chapters[index-1]
			return &previous, nil
		}
	}
	return nil, nil
}

type stubUploader struct {
	mu        sync.Mutex
	folderErr error
	uploadErr error
	folders   []string
	uploads   map[string][]byte
	parents   map[string]string
}

func newStubUploader() *stubUploader {
	return &stubUploader{uploads: map[string][]byte{}, parents: map[string]string{}}
}

func (uploader *stubUploader) CreateFolder(ctx context.Context, parentID, title string) (string, error) {
	uploader.mu.Lock()
	defer uploader.mu.Unlock()
	if uploader.folderErr != nil {
		return "", uploader.folderErr
	}
	uploader.folders = append(uploader.folders, title)
	return "folder:" + title, nil
}

func (uploader *stubUploader) UploadFile(ctx context.Context, parentID, fileName string, fileData []byte) error {
	uploader.mu.Lock()
	defer uploader.mu.Unlock()
	if uploader.uploadErr != nil {
		return uploader.uploadErr
	}
	uploader.uploads[fileName] = fileData
	uploader.parents[fileName] = parentID
	return nil
}

type recordingSink struct {
	chapters []string
	pages    map[string][][]byte
}

func (sink *recordingSink) SaveChapter(ctx context.Context, chapter manga.Chapter, pages [][]byte) error {
	if sink.pages == nil {
		sink.pages = map[string][][]byte{}
	}
	sink.chapters = append(sink.chapters, chapter.ID)
	sink.pages[chapter.ID] = pages
	return nil
}
