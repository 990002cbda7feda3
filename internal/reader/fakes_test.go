package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ssh-vom/boox-reader/internal/providers/manga"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeInfo struct {
	chapterID string
	count     int
}

func (info fakeInfo) PageCount() int { return info.count }

// fakeDelegate serves chapters whose page urls are "<chapter>/p<index>".
type fakeDelegate struct {
	mu          sync.Mutex
	counts      map[string]int
	failing     map[string]bool
	badURLs     map[int]bool
	infoErrors  int
	infoCalls   map[string]int
	fetches     []string
	gate        chan struct{}
	// gateVia limits the gate to fetches of one kind, "index" or "url".
	gateVia     string
	// sharedFirst, when set, is the url of page 0 in every chapter.
	sharedFirst string

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newFakeDelegate(counts map[string]int) *fakeDelegate {
	return &fakeDelegate{
		counts:    counts,
		failing:   map[string]bool{},
		badURLs:   map[int]bool{},
		infoCalls: map[string]int{},
	}
}

func pageID(chapterID string, index int) string {
	return fmt.Sprintf("%s/p%d", chapterID, index)
}

// itemID is the displayed id of a page served by fakeDelegate.
func itemID(chapterID string, index int) string {
	return PageItemID(chapterID, pageID(chapterID, index))
}

func (fake *fakeDelegate) FetchDownloadInfo(ctx context.Context, chapter manga.Chapter, dataSaver bool) (manga.DownloadInfo, error) {
	fake.mu.Lock()
	defer fake.mu.Unlock()

	fake.infoCalls[chapter.ID]++
	if fake.infoErrors > 0 {
		fake.infoErrors--
		return nil, manga.NetworkError("fetch download info", errors.New("offline"))
	}
	return fakeInfo{chapterID: chapter.ID, count: fake.counts[chapter.ID]}, nil
}

func (fake *fakeDelegate) BuildPageURL(index int, info manga.DownloadInfo) (string, error) {
	fake.mu.Lock()
	defer fake.mu.Unlock()

	if fake.badURLs[index] {
		return "", errors.New("no url")
	}
	if index == 0 && fake.sharedFirst != "" {
		return fake.sharedFirst, nil
	}
	return pageID(info.(fakeInfo).chapterID, index), nil
}

func (fake *fakeDelegate) FetchPage(ctx context.Context, index int, info manga.DownloadInfo) ([]byte, error) {
	return fake.serve(pageID(info.(fakeInfo).chapterID, index), "index")
}

func (fake *fakeDelegate) FetchPageByURL(ctx context.Context, pageURL string, info manga.DownloadInfo) ([]byte, error) {
	return fake.serve(pageURL, "url")
}

func (fake *fakeDelegate) serve(id, via string) ([]byte, error) {
	current := fake.inflight.Add(1)
	defer fake.inflight.Add(-1)
	for {
		seen := fake.maxInflight.Load()
		if current <= seen || fake.maxInflight.CompareAndSwap(seen, current) {
			break
		}
	}

	fake.mu.Lock()
	gate := fake.gate
	if fake.gateVia != "" && fake.gateVia != via {
		gate = nil
	}
	fake.mu.Unlock()
	if gate != nil {
		<-gate
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.fetches = append(fake.fetches, via+":"+id)
	if fake.failing[id] {
		return nil, manga.NetworkError("fetch page", errors.New("timeout"))
	}
	return []byte("bytes:" + id), nil
}

func (fake *fakeDelegate) setFailing(ids ...string) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.failing = map[string]bool{}
	for _, id := range ids {
		fake.failing[id] = true
	}
}

func (fake *fakeDelegate) setGate(gate chan struct{}) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.gate = gate
}

func (fake *fakeDelegate) fetchCount() int {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return len(fake.fetches)
}

func (fake *fakeDelegate) fetchLog() []string {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return append([]string(nil), fake.fetches...)
}

func (fake *fakeDelegate) infoCallCount(chapterID string) int {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return fake.infoCalls[chapterID]
}

// fakeDirectory orders chapters as given.
type fakeDirectory struct {
	mu       sync.Mutex
	chapters []manga.Chapter
	calls    []string
	err      error
}

func (directory *fakeDirectory) FindNextChapter(ctx context.Context, chapterID, mangaID string) (*manga.Chapter, error) {
	return directory.find("next", chapterID, 1)
}

func (directory *fakeDirectory) FindPreviousChapter(ctx context.Context, chapterID, mangaID string) (*manga.Chapter, error) {
	return directory.find("previous", chapterID, -1)
}

func (directory *fakeDirectory) find(direction, chapterID string, step int) (*manga.Chapter, error) {
	directory.mu.Lock()
	defer directory.mu.Unlock()

	directory.calls = append(directory.calls, direction+":"+chapterID)
	if directory.err != nil {
		return nil, directory.err
	}
	for index, chapter := range directory.chapters {
		if chapter.ID != chapterID {
			continue
		}
		target := index + step
		if target < 0 || target >= len(directory.chapters) {
			return nil, nil
		}
		found := directory.chapters[target]
		return &found, nil
	}
	return nil, nil
}

func (directory *fakeDirectory) callLog() []string {
	directory.mu.Lock()
	defer directory.mu.Unlock()
	return append([]string(nil), directory.calls...)
}

type recordingHooks struct {
	mu     sync.Mutex
	opened []string
	viewed []string
}

func (hooks *recordingHooks) ChapterOpened(ctx context.Context, chapter manga.Chapter) error {
	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	hooks.opened = append(hooks.opened, chapter.ID)
	return nil
}

func (hooks *recordingHooks) PageViewed(ctx context.Context, chapter manga.Chapter, position, pageCount int) error {
	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	hooks.viewed = append(hooks.viewed, fmt.Sprintf("%s:%d/%d", chapter.ID, position, pageCount))
	return nil
}

func (hooks *recordingHooks) openedChapters() string {
	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	return strings.Join(hooks.opened, ",")
}

func statuses(pages []Page) []PageStatus {
	result := make([]PageStatus, len(pages))
	for index, page := range pages {
		result[index] = page.Status
	}
	return result
}

func countStatus(pages []Page, status PageStatus) int {
	count := 0
	for _, page := range pages {
		if page.Status == status {
			count++
		}
	}
	return count
}
