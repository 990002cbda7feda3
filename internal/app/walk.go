package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ssh-vom/boox-reader/internal/providers/manga"
	"github.com/ssh-vom/boox-reader/internal/reader"
)

const defaultStallTimeout = 2 * time.Minute

// ChapterSink receives each chapter the walker finishes.
type ChapterSink interface {
	SaveChapter(ctx context.Context, chapter manga.Chapter, pages [][]byte) error
}

// DirSink writes chapters as CBZ files into Dir.
type DirSink struct {
	Dir string
}

func (sink DirSink) SaveChapter(ctx context.Context, chapter manga.Chapter, pages [][]byte) error {
	chapterName := SanitizeFileName(manga.FormatChapterLabel(chapter))
	cbzData, err := CreateCBZ(chapterName, pages)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(sink.Dir, 0o755); err != nil {
		return fmt.Errorf("unable to create output dir: %w", err)
	}
	return os.WriteFile(filepath.Join(sink.Dir, chapterName+".cbz"), cbzData, 0o644)
}

// UploadSink sends chapters to the Boox device.
type UploadSink struct {
	Uploader   Uploader
	MangaTitle string
	Logger     *slog.Logger
}

func (sink UploadSink) SaveChapter(ctx context.Context, chapter manga.Chapter, pages [][]byte) error {
	return UploadChapter(ctx, sink.Uploader, sink.MangaTitle, chapter, pages, sink.Logger)
}

type WalkOptions struct {
	// MaxChapters stops the walk after that many chapters. Zero walks until
	// there is no next chapter.
	MaxChapters int
	// StallTimeout aborts the walk when the reader produces no update for
	// that long.
	StallTimeout time.Duration
	Logger       *slog.Logger
}

type ChapterReport struct {
	Chapter manga.Chapter
	Pages   int
	Missing int
}

// Walker reads through chapters the way a user scrolling forward would: every
// item of the displayed sequence is made visible in turn, failed pages get
// one retry, and chapter boundaries are crossed through the reader.
type Walker struct {
	readerOptions reader.Options
	sink          ChapterSink
	options       WalkOptions
	logger        *slog.Logger
}

func NewWalker(readerOptions reader.Options, sink ChapterSink, options WalkOptions) *Walker {
	if options.StallTimeout <= 0 {
		options.StallTimeout = defaultStallTimeout
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if readerOptions.Logger == nil {
		readerOptions.Logger = logger
	}
	return &Walker{readerOptions: readerOptions, sink: sink, options: options, logger: logger}
}

// Walk reads from the first page of start and returns what it saved.
func (walker *Walker) Walk(ctx context.Context, start manga.Chapter) ([]ChapterReport, error) {
	session := reader.NewSession(walker.readerOptions)
	stopped := make(chan error, 1)
	go func() { stopped <- session.Run(ctx) }()
	defer func() {
		session.Close()
		<-stopped
	}()

	state := &walkState{
		walker:  walker,
		session: session,
		seen:    map[string]bool{},
		retried: map[string]error{},
		pages:   map[string][][]byte{},
		missing: map[string]int{},
	}
	session.Open(start, reader.EdgeStart)

	stall := time.NewTimer(walker.options.StallTimeout)
	defer stall.Stop()
	for {
		select {
		case <-ctx.Done():
			return state.reports, ctx.Err()
		case <-stall.C:
			return state.reports, fmt.Errorf("reader stalled after %q", state.after)
		case view := <-session.Updates():
			finished, err := state.step(ctx, view)
			if err != nil || finished {
				return state.reports, err
			}
			stall.Reset(walker.options.StallTimeout)
		}
	}
}

type walkState struct {
	walker  *Walker
	session *reader.Session
	reports []ChapterReport

	// after is the id of the last item consumed.
	after   string
	seen    map[string]bool
	retried map[string]error
	pages   map[string][][]byte
	missing map[string]int

	prepareErr     error
	prepareRetried bool
	reentered      bool
}

// step consumes items of view until one is not ready. It reports true once
// the walk is complete.
func (state *walkState) step(ctx context.Context, view reader.View) (bool, error) {
	if waiting, err := state.checkPrepare(view); waiting || err != nil {
		return false, err
	}

	index := state.resume(view)
	if index < 0 {
		return false, nil
	}

	for ; index < len(view.Items); index++ {
		item := view.Items[index]
		id := item.ID()
		// Reading forward never scrolls back into the previous chapter.
		if item.Kind == reader.ItemTransition && item.Transition.Direction() == reader.Previous {
			state.after = id
			continue
		}
		if !state.seen[id] {
			state.seen[id] = true
			state.session.Visible(id)
		}

		switch item.Kind {
		case reader.ItemPage:
			if !state.consumePage(item) {
				return false, nil
			}
		case reader.ItemTransition:
			transition := item.Transition
			if !item.Resolved {
				return false, nil
			}
			done, err := state.finishChapter(ctx, transition.From)
			if err != nil {
				return false, err
			}
			if done || transition.Kind == reader.NoNext {
				return true, nil
			}
			state.reentered = false
		}
		state.after = id
	}

	state.retryBoundary(view)
	return false, nil
}

// checkPrepare retries a failed page list fetch for the opening chapter
// once.
func (state *walkState) checkPrepare(view reader.View) (bool, error) {
	if state.after != "" || view.Prepared {
		return false, nil
	}
	if view.Preparing || view.Err == nil {
		return true, nil
	}
	if !state.prepareRetried {
		state.prepareRetried = true
		state.prepareErr = view.Err
		state.walker.logger.Warn("retrying chapter", "chapter", view.Chapter.ID, "error", view.Err)
		state.session.Retry("")
		return true, nil
	}
	if view.Err != state.prepareErr {
		return false, fmt.Errorf("open %s: %w", manga.FormatChapterLabel(view.Chapter), view.Err)
	}
	return true, nil
}

func (state *walkState) resume(view reader.View) int {
	if state.after != "" {
		if index := view.IndexOf(state.after); index >= 0 {
			return index + 1
		}
	}
	for index, item := range view.Items {
		if item.Group == reader.GroupCurrent {
			return index
		}
	}
	return -1
}

// consumePage reports whether the walk may move past item.
func (state *walkState) consumePage(item reader.Item) bool {
	page := item.Page
	id := item.ID()

	switch page.Status {
	case reader.PageLoading:
		return false
	case reader.PageNotFound:
		// Only the current chapter's pages can be retried; a neighbour's
		// page waits until its chapter is committed.
		if item.Group != reader.GroupCurrent {
			return false
		}
		previous, retried := state.retried[id]
		if !retried {
			state.retried[id] = page.Err
			state.walker.logger.Debug("retrying page", "chapter", item.Chapter.ID, "position", page.Position, "error", page.Err)
			state.session.Retry(id)
			return false
		}
		if page.Err == previous {
			return false
		}
		state.walker.logger.Warn("page unavailable", "chapter", item.Chapter.ID, "position", page.Position, "error", page.Err)
		state.missing[item.Chapter.ID]++
		return true
	default:
		collected := state.pages[item.Chapter.ID]
		if len(collected) != item.PageCount {
			collected = make([][]byte, item.PageCount)
			state.pages[item.Chapter.ID] = collected
		}
		collected[page.Position] = page.Data
		return true
	}
}

func (state *walkState) finishChapter(ctx context.Context, chapter manga.Chapter) (bool, error) {
	pages := make([][]byte, 0, len(state.pages[chapter.ID]))
	for _, data := range state.pages[chapter.ID] {
		if data != nil {
			pages = append(pages, data)
		}
	}
	delete(state.pages, chapter.ID)

	report := ChapterReport{Chapter: chapter, Pages: len(pages), Missing: state.missing[chapter.ID]}
	state.reports = append(state.reports, report)
	if len(pages) == 0 {
		state.walker.logger.Warn("chapter has no readable pages", "chapter", chapter.ID)
	} else if err := state.walker.sink.SaveChapter(ctx, chapter, pages); err != nil {
		return false, fmt.Errorf("save %s: %w", manga.FormatChapterLabel(chapter), err)
	}
	state.walker.logger.Info("chapter finished", "chapter", chapter.ID, "pages", report.Pages, "missing", report.Missing)

	limit := state.walker.options.MaxChapters
	return limit > 0 && len(state.reports) >= limit, nil
}

// retryBoundary makes the next sentinel visible again when the walk is
// parked behind it with an error, which re-prepares a failed neighbour.
func (state *walkState) retryBoundary(view reader.View) {
	if state.reentered || view.Err == nil || len(view.Items) == 0 {
		return
	}
	last := view.Items[len(view.Items)-1]
	if last.Kind != reader.ItemTransition || last.ID() != state.after {
		return
	}
	state.reentered = true
	state.session.Visible(last.ID())
}
