package reader

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/ssh-vom/boox-reader/internal/providers/manga"
	"golang.org/x/sync/semaphore"
)

// Edge selects where a reading session enters a chapter.
type Edge int

const (
	EdgeStart Edge = iota
	EdgeEnd
)

type LoaderOptions struct {
	DataSaver bool
	// MaxConcurrentFetches caps page fetches in flight for one chapter.
	// Zero leaves fan-out bounded only by the block size.
	MaxConcurrentFetches int
	Logger               *slog.Logger
}

// Loader is the page delivery engine for one chapter. Its methods must be
// called from the goroutine that drains its mailbox.
type Loader struct {
	chapter  manga.Chapter
	delegate manga.Delegate
	box      *mailbox
	options  LoaderOptions
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	slots    *semaphore.Weighted
	onChange func(*Loader)

	info         manga.DownloadInfo
	preparing    bool
	pending      map[Edge]bool
	blocks       []*paginationBlock
	pages        []Page
	positions    map[string]int
	placeholders map[string]bool
	lastErr      error
	discarded    bool
}

func newLoader(parent context.Context, box *mailbox, delegate manga.Delegate, chapter manga.Chapter, options LoaderOptions, onChange func(*Loader)) *Loader {
	ctx, cancel := context.WithCancel(parent)

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	loader := &Loader{
		chapter:      chapter,
		delegate:     delegate,
		box:          box,
		options:      options,
		logger:       logger.With("chapter", chapter.ID),
		ctx:          ctx,
		cancel:       cancel,
		onChange:     onChange,
		pending:      make(map[Edge]bool),
		positions:    make(map[string]int),
		placeholders: make(map[string]bool),
	}
	if options.MaxConcurrentFetches > 0 {
		loader.slots = semaphore.NewWeighted(int64(options.MaxConcurrentFetches))
	}
	return loader
}

func (loader *Loader) Chapter() manga.Chapter { return loader.chapter }

// Prepare fetches the download info once and lays out the page list. While a
// fetch is in flight, or once it has succeeded, further calls do nothing; a
// failed Prepare may be called again.
func (loader *Loader) Prepare() {
	if loader.discarded || loader.preparing || loader.info != nil {
		return
	}

	loader.preparing = true
	ctx := loader.ctx
	loader.logger.Debug("fetching download info")
	loader.box.spawn(func() func() {
		info, err := loader.delegate.FetchDownloadInfo(ctx, loader.chapter, loader.options.DataSaver)
		return func() { loader.applyInfo(info, err) }
	})
}

func (loader *Loader) applyInfo(info manga.DownloadInfo, err error) {
	loader.preparing = false
	if loader.discarded {
		return
	}

	if err != nil {
		loader.fail("fetch download info", err)
		loader.changed()
		return
	}
	if info == nil {
		loader.fail("fetch download info", manga.UnexpectedError("fetch download info", manga.ErrChapterMetadataMissing))
		loader.changed()
		return
	}

	loader.info = info
	loader.layout(info)

	for _, edge := range []Edge{EdgeStart, EdgeEnd} {
		if loader.pending[edge] {
			delete(loader.pending, edge)
			loader.loadEdge(edge)
		}
	}
	loader.changed()
}

// layout assigns every slot its id up front. A slot whose url cannot be
// built, or would collide with another, gets a random placeholder id.
func (loader *Loader) layout(info manga.DownloadInfo) {
	count := info.PageCount()
	ids := make([]string, count)
	loader.pages = make([]Page, count)

	for index := 0; index < count; index++ {
		id, err := loader.delegate.BuildPageURL(index, info)
		if _, taken := loader.positions[id]; err != nil || id == "" || taken {
			placeholder := uuid.NewString()
			loader.logger.Debug("substituting placeholder page id", "position", index, "error", err)
			loader.placeholders[placeholder] = true
			id = placeholder
		}
		ids[index] = id
		loader.positions[id] = index
		loader.pages[index] = Page{URL: id, Position: index, Status: PageLoading}
	}

	loader.blocks = partition(ids, PageBlockSize)
	loader.logger.Debug("laid out chapter", "pages", count, "blocks", len(loader.blocks))
}

// LoadStart loads the first block, for sessions entering at the first page.
func (loader *Loader) LoadStart() { loader.loadEdge(EdgeStart) }

// LoadEnd loads the last block, for sessions entering at the last page.
func (loader *Loader) LoadEnd() { loader.loadEdge(EdgeEnd) }

func (loader *Loader) loadEdge(edge Edge) {
	if loader.discarded {
		return
	}
	if loader.info == nil {
		loader.pending[edge] = true
		return
	}
	if len(loader.blocks) == 0 {
		return
	}

	block := loader.blocks[0]
	if edge == EdgeEnd {
		block = loader.blocks[len(loader.blocks)-1]
	}
	if !block.loaded {
		loader.loadBlock(block)
	}
}

// LoadPagesIfNeeded loads the block holding pageID if it has not been
// loaded yet, and the following block when pageID ends its block.
func (loader *Loader) LoadPagesIfNeeded(pageID string) {
	if loader.discarded {
		return
	}
	position, ok := loader.positions[pageID]
	if !ok {
		return
	}

	index := position / PageBlockSize
	block := loader.blocks[index]
	if !block.loaded {
		loader.loadBlock(block)
	}
	if block.last() == pageID && index+1 < len(loader.blocks) {
		if following := loader.blocks[index+1]; !following.loaded {
			loader.loadBlock(following)
		}
	}
}

// LoadRemaining dispatches every block that has not been loaded yet.
func (loader *Loader) LoadRemaining() {
	if loader.discarded || loader.info == nil {
		return
	}
	for _, block := range loader.blocks {
		if !block.loaded {
			loader.loadBlock(block)
		}
	}
}

// loadBlock marks the block loaded before dispatching so that repeated
// visibility events never fetch it twice.
func (loader *Loader) loadBlock(block *paginationBlock) {
	block.loaded = true
	loader.logger.Debug("loading block", "first", loader.positions[block.members[0]], "size", len(block.members))
	for _, id := range block.members {
		loader.fetch(id, loader.positions[id], false)
	}
}

// ReloadPages marks the given pages loading and fetches them again,
// independently of block structure.
func (loader *Loader) ReloadPages(pageIDs []string) {
	if loader.discarded || loader.info == nil {
		return
	}

	targets := make([]string, 0, len(pageIDs))
	for _, id := range pageIDs {
		position, ok := loader.positions[id]
		if !ok {
			continue
		}
		loader.merge(Page{URL: id, Position: position, Status: PageLoading})
		targets = append(targets, id)
	}
	if len(targets) == 0 {
		return
	}
	loader.changed()

	for _, id := range targets {
		loader.fetch(id, loader.positions[id], true)
	}
}

func (loader *Loader) fetch(id string, position int, byURL bool) {
	ctx, info, slots := loader.ctx, loader.info, loader.slots
	byURL = byURL && !loader.placeholders[id]

	loader.box.spawn(func() func() {
		if slots != nil {
			if err := slots.Acquire(ctx, 1); err != nil {
				return func() { loader.applyPage(id, position, nil, err) }
			}
			defer slots.Release(1)
		}

		var data []byte
		var err error
		if byURL {
			data, err = loader.delegate.FetchPageByURL(ctx, id, info)
		} else {
			data, err = loader.delegate.FetchPage(ctx, position, info)
		}
		return func() { loader.applyPage(id, position, data, err) }
	})
}

func (loader *Loader) applyPage(id string, position int, data []byte, err error) {
	if loader.discarded {
		return
	}

	incoming := Page{URL: id, Position: position}
	switch {
	case err != nil && manga.IsCancelled(err):
		loader.logger.Debug("page fetch cancelled", "position", position)
		return
	case err != nil:
		incoming.Status = PageNotFound
		incoming.Err = err
		loader.fail("fetch page", err)
	default:
		incoming.Status = PageRemote
		incoming.Data = data
	}

	loader.merge(incoming)
	loader.changed()
}

func (loader *Loader) merge(incoming Page) {
	if incoming.Position < 0 || incoming.Position >= len(loader.pages) {
		return
	}
	loader.pages[incoming.Position] = mergePage(loader.pages[incoming.Position], incoming)
}

// fail records err in the last-error slot. Cancellation is not an error.
func (loader *Loader) fail(op string, err error) {
	if manga.IsCancelled(err) {
		loader.logger.Debug("cancelled", "op", op)
		return
	}
	loader.logger.Warn("reader fetch failed", "op", op, "kind", manga.KindOf(err).String(), "error", err)
	loader.lastErr = err
}

func (loader *Loader) changed() {
	if loader.onChange != nil && !loader.discarded {
		loader.onChange(loader)
	}
}

// Discard stops observing the chapter. In-flight fetches are cancelled
// cooperatively and any result that still lands is dropped.
func (loader *Loader) Discard() {
	if loader.discarded {
		return
	}
	loader.discarded = true
	loader.cancel()
}

func (loader *Loader) Discarded() bool { return loader.discarded }

// Pages returns a copy of the page list in reading order.
func (loader *Loader) Pages() []Page {
	pages := make([]Page, len(loader.pages))
	copy(pages, loader.pages)
	return pages
}

func (loader *Loader) Page(pageID string) (Page, bool) {
	position, ok := loader.positions[pageID]
	if !ok || position >= len(loader.pages) {
		return Page{}, false
	}
	return loader.pages[position], true
}

func (loader *Loader) PageCount() int { return len(loader.pages) }

func (loader *Loader) BlockCount() int { return len(loader.blocks) }

func (loader *Loader) LastError() error { return loader.lastErr }

func (loader *Loader) Prepared() bool { return loader.info != nil }

func (loader *Loader) Preparing() bool { return loader.preparing }

// NeedsPrepare reports whether Prepare has not succeeded and is not running.
func (loader *Loader) NeedsPrepare() bool {
	return !loader.discarded && loader.info == nil && !loader.preparing
}

func (loader *Loader) firstPageID() string {
	if len(loader.pages) == 0 {
		return ""
	}
	return loader.pages[0].URL
}

func (loader *Loader) lastPageID() string {
	if len(loader.pages) == 0 {
		return ""
	}
	return loader.pages[len(loader.pages)-1].URL
}
