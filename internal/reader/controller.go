package reader

import (
	"context"
	"log/slog"

	"github.com/ssh-vom/boox-reader/internal/providers/manga"
)

// Hooks receives reading progress. Calls run off the owner goroutine;
// errors are logged and otherwise ignored.
type Hooks interface {
	ChapterOpened(ctx context.Context, chapter manga.Chapter) error
	PageViewed(ctx context.Context, chapter manga.Chapter, position, pageCount int) error
}

type Options struct {
	Source    manga.Delegate
	Directory manga.ChapterDirectory
	Hooks     Hooks
	LoaderOptions
}

type neighbour struct {
	chapter *manga.Chapter
	// known is set once the directory has answered for this side.
	known bool
	// loader backs the page group displayed outside the sentinel.
	loader *Loader
	// awaiting records a sentinel seen before the directory answered.
	awaiting bool
}

// Controller keeps the reader continuous across chapter boundaries. Like
// Loader, it must only be used from its mailbox owner.
type Controller struct {
	ctx      context.Context
	box      *mailbox
	options  Options
	logger   *slog.Logger
	onChange func(View)

	current        *Loader
	sides          [2]neighbour
	transition     *Loader
	transitionSide Direction
	directoryErr   error
	items          []Item
}

func newController(ctx context.Context, box *mailbox, options Options, onChange func(View)) *Controller {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	options.Logger = logger

	return &Controller{
		ctx:      ctx,
		box:      box,
		options:  options,
		logger:   logger,
		onChange: onChange,
	}
}

// Open starts reading chapter, entering it at edge. Anything previously
// open is discarded.
func (controller *Controller) Open(chapter manga.Chapter, edge Edge) {
	controller.discardAll()

	controller.current = controller.newLoader(chapter)
	controller.current.Prepare()
	if edge == EdgeEnd {
		controller.current.LoadEnd()
	} else {
		controller.current.LoadStart()
	}

	controller.lookup(Previous)
	controller.lookup(Next)
	controller.chapterOpened(chapter)
	controller.rebuild()
}

func (controller *Controller) newLoader(chapter manga.Chapter) *Loader {
	return newLoader(controller.ctx, controller.box, controller.options.Source, chapter, controller.options.LoaderOptions, controller.loaderChanged)
}

func (controller *Controller) loaderChanged(loader *Loader) {
	if controller.owns(loader) {
		controller.rebuild()
	}
}

func (controller *Controller) owns(loader *Loader) bool {
	return loader == controller.current || loader == controller.sides[Previous].loader || loader == controller.sides[Next].loader
}

// lookup asks the directory for the neighbour of the current chapter. An
// answer arriving after the current chapter changed is dropped.
func (controller *Controller) lookup(direction Direction) {
	loader := controller.current
	chapter := loader.Chapter()
	directory := controller.options.Directory
	if directory == nil {
		controller.sides[direction].known = true
		return
	}

	ctx := controller.ctx
	controller.box.spawn(func() func() {
		var found *manga.Chapter
		var err error
		if direction == Next {
			found, err = directory.FindNextChapter(ctx, chapter.ID, chapter.MangaID)
		} else {
			found, err = directory.FindPreviousChapter(ctx, chapter.ID, chapter.MangaID)
		}
		return func() { controller.applyNeighbour(loader, direction, found, err) }
	})
}

func (controller *Controller) applyNeighbour(loader *Loader, direction Direction, found *manga.Chapter, err error) {
	if loader != controller.current {
		return
	}

	side := &controller.sides[direction]
	if err != nil {
		if !manga.IsCancelled(err) {
			controller.logger.Warn("chapter lookup failed", "direction", direction.String(), "chapter", loader.Chapter().ID, "error", err)
			controller.directoryErr = err
		}
		found = nil
	}
	side.known = true
	side.chapter = found
	controller.rebuild()

	if side.awaiting {
		side.awaiting = false
		controller.enter(direction)
	}
}

// Visible reports that the item with id just became visible.
func (controller *Controller) Visible(id string) {
	if controller.current == nil {
		return
	}

	switch id {
	case controller.sentinel(Previous).ID():
		controller.enter(Previous)
		return
	case controller.sentinel(Next).ID():
		controller.enter(Next)
		return
	}

	loader, url := controller.resolvePage(id)
	if loader == nil {
		return
	}
	loader.LoadPagesIfNeeded(url)
	if page, ok := loader.Page(url); ok {
		controller.pageViewed(loader.Chapter(), page.Position, loader.PageCount())
	}

	if loader == controller.current {
		return
	}
	if next := controller.sides[Next].loader; loader == next && url == next.firstPageID() {
		controller.commit(Next)
		return
	}
	if previous := controller.sides[Previous].loader; loader == previous && url == previous.lastPageID() {
		controller.commit(Previous)
	}
}

// enter starts the transition towards direction. It is a no-op while a
// transition towards the same side is active, and when there is no
// neighbour on that side.
func (controller *Controller) enter(direction Direction) {
	if controller.transition != nil {
		if controller.transitionSide == direction {
			if controller.transition.NeedsPrepare() {
				controller.transition.Prepare()
			}
			return
		}
		controller.transition = nil
	}

	side := &controller.sides[direction]
	if !side.known {
		side.awaiting = true
		return
	}
	if side.chapter == nil {
		return
	}

	loader := side.loader
	if loader == nil || loader.Chapter().ID != side.chapter.ID {
		if loader != nil {
			loader.Discard()
		}
		loader = controller.newLoader(*side.chapter)
		side.loader = loader
		controller.logger.Debug("entering chapter boundary", "direction", direction.String(), "chapter", side.chapter.ID)
	}

	controller.transition = loader
	controller.transitionSide = direction
	loader.Prepare()
	if direction == Next {
		loader.LoadStart()
	} else {
		loader.LoadEnd()
	}
	controller.rebuild()
}

// commit makes the neighbour in direction the current chapter. The old
// current chapter becomes the neighbour on the side just crossed and the
// directory is asked about the new far side.
func (controller *Controller) commit(direction Direction) {
	target := controller.sides[direction].loader
	if target == nil {
		return
	}

	old := controller.current
	behind := direction.opposite()
	if stale := controller.sides[behind].loader; stale != nil && stale != target {
		stale.Discard()
	}

	oldChapter := old.Chapter()
	controller.current = target
	controller.sides[behind] = neighbour{chapter: &oldChapter, known: true, loader: old}
	controller.sides[direction] = neighbour{}
	controller.transition = nil
	controller.directoryErr = nil

	controller.logger.Info("crossed chapter boundary", "direction", direction.String(), "from", oldChapter.ID, "to", target.Chapter().ID)
	controller.lookup(direction)
	controller.chapterOpened(target.Chapter())
	controller.rebuild()
}

// ReloadFrom retries the failed pages of the current chapter among the
// block-sized run of slots starting at pageID. With no page list yet it
// retries Prepare instead. Pages of neighbour chapters are ignored.
func (controller *Controller) ReloadFrom(pageID string) {
	current := controller.current
	if current == nil {
		return
	}
	if current.NeedsPrepare() {
		current.Prepare()
		controller.rebuild()
		return
	}

	chapterID, url, ok := splitPageItemID(pageID)
	if !ok || chapterID != current.Chapter().ID {
		return
	}
	page, ok := current.Page(url)
	if !ok {
		return
	}

	pages := current.Pages()
	targets := make([]string, 0, PageBlockSize)
	for position := page.Position; position < len(pages) && position < page.Position+PageBlockSize; position++ {
		if pages[position].Status == PageNotFound {
			targets = append(targets, pages[position].URL)
		}
	}
	current.ReloadPages(targets)
}

// LoadRemaining loads every block of the current chapter.
func (controller *Controller) LoadRemaining() {
	if controller.current != nil {
		controller.current.LoadRemaining()
	}
}

// resolvePage finds the loader holding the page item id and the page url
// within it. Only the chapter named by the id is searched.
func (controller *Controller) resolvePage(id string) (*Loader, string) {
	chapterID, url, ok := splitPageItemID(id)
	if !ok {
		return nil, ""
	}
	for _, loader := range []*Loader{controller.current, controller.sides[Next].loader, controller.sides[Previous].loader} {
		if loader == nil || loader.Chapter().ID != chapterID {
			continue
		}
		if _, ok := loader.Page(url); ok {
			return loader, url
		}
	}
	return nil, ""
}

func (controller *Controller) sentinel(direction Direction) Transition {
	return newTransition(direction, controller.current.Chapter(), controller.sides[direction].chapter)
}

func (controller *Controller) rebuild() {
	if controller.current == nil {
		controller.items = nil
		return
	}

	items := make([]Item, 0, controller.current.PageCount()+2)
	items = appendPages(items, controller.sides[Previous].loader, GroupPrevious)
	items = append(items, controller.sentinelItem(Previous))
	items = appendPages(items, controller.current, GroupCurrent)
	items = append(items, controller.sentinelItem(Next))
	items = appendPages(items, controller.sides[Next].loader, GroupNext)
	controller.items = items

	if controller.onChange != nil {
		controller.onChange(controller.View())
	}
}

func (controller *Controller) sentinelItem(direction Direction) Item {
	return Item{
		Kind:       ItemTransition,
		Group:      GroupCurrent,
		Chapter:    controller.current.Chapter(),
		Transition: controller.sentinel(direction),
		Resolved:   controller.sides[direction].known,
	}
}

func appendPages(items []Item, loader *Loader, group Group) []Item {
	if loader == nil {
		return items
	}
	chapter := loader.Chapter()
	count := loader.PageCount()
	for _, page := range loader.Pages() {
		items = append(items, Item{Kind: ItemPage, Group: group, Chapter: chapter, Page: page, PageCount: count})
	}
	return items
}

func (controller *Controller) View() View {
	if controller.current == nil {
		return View{}
	}

	view := View{
		Chapter:   controller.current.Chapter(),
		Items:     controller.items,
		Prepared:  controller.current.Prepared(),
		Preparing: controller.current.Preparing(),
		Err:       controller.current.LastError(),
	}
	if view.Err == nil && controller.transition != nil {
		view.Err = controller.transition.LastError()
	}
	if view.Err == nil {
		view.Err = controller.directoryErr
	}
	return view
}

// Current returns the loader of the chapter being read.
func (controller *Controller) Current() *Loader { return controller.current }

// Transition returns the loader of the neighbour being entered, if any.
func (controller *Controller) Transition() *Loader { return controller.transition }

func (controller *Controller) Neighbour(direction Direction) *manga.Chapter {
	return controller.sides[direction].chapter
}

func (controller *Controller) chapterOpened(chapter manga.Chapter) {
	hooks := controller.options.Hooks
	if hooks == nil {
		return
	}
	ctx, logger := controller.ctx, controller.logger
	controller.box.spawn(func() func() {
		if err := hooks.ChapterOpened(ctx, chapter); err != nil {
			logger.Warn("recording chapter failed", "chapter", chapter.ID, "error", err)
		}
		return nil
	})
}

func (controller *Controller) pageViewed(chapter manga.Chapter, position, count int) {
	hooks := controller.options.Hooks
	if hooks == nil {
		return
	}
	ctx, logger := controller.ctx, controller.logger
	controller.box.spawn(func() func() {
		if err := hooks.PageViewed(ctx, chapter, position, count); err != nil {
			logger.Warn("recording progress failed", "chapter", chapter.ID, "position", position, "error", err)
		}
		return nil
	})
}

// Close discards every loader.
func (controller *Controller) Close() {
	controller.discardAll()
	controller.items = nil
}

func (controller *Controller) discardAll() {
	for _, loader := range []*Loader{controller.current, controller.sides[Previous].loader, controller.sides[Next].loader, controller.transition} {
		if loader != nil {
			loader.Discard()
		}
	}
	controller.current = nil
	controller.sides = [2]neighbour{}
	controller.transition = nil
	controller.directoryErr = nil
}
