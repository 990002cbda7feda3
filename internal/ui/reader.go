package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ssh-vom/boox-reader/internal/app"
	"github.com/ssh-vom/boox-reader/internal/boox"
	"github.com/ssh-vom/boox-reader/internal/preview"
	"github.com/ssh-vom/boox-reader/internal/providers/manga"
	"github.com/ssh-vom/boox-reader/internal/reader"
)

// Pages are stored no larger than this before the terminal scales them.
const (
	pagePreviewWidth  = 1200
	pagePreviewHeight = 1800
)

type readerScreen struct {
	session    *reader.Session
	done       chan struct{}
	mangaTitle string
	returnTo   appState

	view   reader.View
	cursor int
	// anchor is the id under the cursor; it keeps the cursor in place when
	// the displayed sequence grows or shifts after a commit.
	anchor string
	placed bool

	pages      map[string]preview.Image
	pageErrors map[string]string
	rendering  string

	info      string
	uploading bool
}

type readerViewMsg struct {
	session *reader.Session
	view    reader.View
}

type pageImageMsg struct {
	id    string
	image preview.Image
	err   error
}

type readerUploadMsg struct {
	chapter manga.Chapter
	err     error
}

func listenReaderCmd(session *reader.Session, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case view := <-session.Updates():
			return readerViewMsg{session: session, view: view}
		case <-done:
			return nil
		}
	}
}

func renderPageCmd(cache *preview.Cache, id string, data []byte) tea.Cmd {
	return func() tea.Msg {
		cached, ok, err := cache.Page(id)
		if err != nil {
			return pageImageMsg{id: id, err: err}
		}
		if ok {
			return pageImageMsg{id: id, image: cached}
		}
		image, err := cache.SavePage(id, data, pagePreviewWidth, pagePreviewHeight)
		return pageImageMsg{id: id, image: image, err: err}
	}
}

func uploadChapterCmd(client *boox.Client, mangaTitle string, chapter manga.Chapter, pages [][]byte, logger *slog.Logger) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		err := app.UploadChapter(ctx, client, mangaTitle, chapter, pages, logger)
		return readerUploadMsg{chapter: chapter, err: err}
	}
}

func (model *model) openReader(chapter manga.Chapter, mangaTitle string, returnTo appState) tea.Cmd {
	model.closeReader()
	if model.source == nil {
		model.errorMessage = "manga provider unavailable"
		return nil
	}

	options := reader.Options{
		Source: model.source,
		LoaderOptions: reader.LoaderOptions{
			DataSaver:            model.config.Reader.DataSaver,
			MaxConcurrentFetches: model.config.Reader.MaxConcurrentFetches,
			Logger:               model.logger,
		},
	}
	if model.directory != nil {
		options.Directory = model.directory
	}
	if model.history != nil {
		options.Hooks = model.history
	}

	session := reader.NewSession(options)
	logger := model.logger
	go func() {
		if err := session.Run(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("reader session stopped", "error", err)
		}
	}()
	session.Open(chapter, reader.EdgeStart)

	model.reader = readerScreen{
		session:    session,
		done:       make(chan struct{}),
		mangaTitle: mangaTitle,
		returnTo:   returnTo,
		view:       reader.View{Chapter: chapter, Preparing: true},
		pages:      map[string]preview.Image{},
		pageErrors: map[string]string{},
	}
	model.errorMessage = ""
	model.state = stateReader
	return tea.Batch(model.spinner.Tick, listenReaderCmd(session, model.reader.done))
}

func (model *model) closeReader() {
	if model.reader.session == nil {
		return
	}
	model.reader.session.Close()
	close(model.reader.done)
	model.reader = readerScreen{}
}

// leaveReader returns to the screen the reader was opened from and refreshes
// the read marks there.
func (model *model) leaveReader() tea.Cmd {
	returnTo := model.reader.returnTo
	mangaID := model.reader.view.Chapter.MangaID
	model.closeReader()
	model.state = returnTo

	switch returnTo {
	case stateRecent:
		return fetchRecentCmd(model.history)
	case stateMangaChapters:
		return fetchReadMarksCmd(model.history, mangaID)
	}
	return nil
}

func (model *model) handleReaderView(msg readerViewMsg) tea.Cmd {
	if msg.session != model.reader.session || model.reader.session == nil {
		return nil
	}
	screen := &model.reader
	screen.view = msg.view

	if screen.anchor != "" {
		if index := msg.view.IndexOf(screen.anchor); index >= 0 {
			screen.cursor = index
		}
	}
	screen.cursor = clampCursor(screen.cursor, len(msg.view.Items))

	if !screen.placed && msg.view.Prepared {
		screen.placed = true
		screen.cursor = firstCurrentItem(msg.view)
		if screen.cursor < len(msg.view.Items) {
			screen.anchor = msg.view.Items[screen.cursor].ID()
			screen.session.Visible(screen.anchor)
		}
	}

	return tea.Batch(model.requestPageImage(), listenReaderCmd(screen.session, screen.done))
}

func (model *model) handlePageImage(msg pageImageMsg) {
	if model.reader.session == nil {
		return
	}
	if msg.err != nil {
		model.reader.pageErrors[msg.id] = msg.err.Error()
	} else {
		model.reader.pages[msg.id] = msg.image
	}
	if model.reader.rendering == msg.id {
		model.reader.rendering = ""
	}
}

func (model *model) handleReaderUpload(msg readerUploadMsg) {
	model.reader.uploading = false
	if msg.err != nil {
		model.reader.info = "Upload failed: " + msg.err.Error()
		return
	}
	model.reader.info = "Uploaded " + manga.FormatChapterLabel(msg.chapter)
}

func (model *model) updateReader(msg tea.Msg) tea.Cmd {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return nil
	}

	screen := &model.reader
	switch key.String() {
	case "esc", "q":
		return model.leaveReader()
	case "j", "down":
		return model.moveReaderCursor(1)
	case "k", "up":
		return model.moveReaderCursor(-1)
	case "pgdown", "ctrl+d":
		return model.moveReaderCursor(10)
	case "pgup", "ctrl+u":
		return model.moveReaderCursor(-10)
	case "g":
		return model.moveReaderCursor(-len(screen.view.Items))
	case "G":
		return model.moveReaderCursor(len(screen.view.Items))
	case "r":
		screen.session.Retry(model.readerCursorID())
		screen.info = "Retrying failed pages"
		return nil
	case "L":
		screen.session.LoadRemaining()
		screen.info = "Loading the rest of the chapter"
		return nil
	case "u":
		return model.uploadCurrentChapter()
	}
	return nil
}

func (model *model) readerCursorID() string {
	items := model.reader.view.Items
	if model.reader.cursor < 0 || model.reader.cursor >= len(items) {
		return ""
	}
	return items[model.reader.cursor].ID()
}

// moveReaderCursor reports the newly focused item as visible, which drives
// lazy loading and chapter transitions.
func (model *model) moveReaderCursor(delta int) tea.Cmd {
	screen := &model.reader
	items := screen.view.Items
	if len(items) == 0 {
		return nil
	}

	next := clampCursor(screen.cursor+delta, len(items))
	if next == screen.cursor && screen.anchor != "" {
		return nil
	}
	screen.cursor = next
	screen.anchor = items[next].ID()
	screen.info = ""
	screen.session.Visible(screen.anchor)
	return model.requestPageImage()
}

func (model *model) requestPageImage() tea.Cmd {
	screen := &model.reader
	if !model.supportsGraphics || model.images == nil || screen.session == nil {
		return nil
	}
	if screen.cursor < 0 || screen.cursor >= len(screen.view.Items) {
		return nil
	}

	item := screen.view.Items[screen.cursor]
	if item.Kind != reader.ItemPage || item.Page.Status != reader.PageRemote {
		return nil
	}
	id := item.ID()
	if _, ok := screen.pages[id]; ok || id == screen.rendering {
		return nil
	}
	if _, ok := screen.pageErrors[id]; ok {
		return nil
	}

	screen.rendering = id
	return renderPageCmd(model.images, id, item.Page.Data)
}

func (model *model) uploadCurrentChapter() tea.Cmd {
	screen := &model.reader
	if screen.uploading {
		return nil
	}
	if model.booxClient == nil {
		screen.info = "Boox connection unavailable"
		return nil
	}
	if !screen.view.Prepared {
		screen.info = "Chapter is still loading"
		return nil
	}

	pages, missing := chapterPages(screen.view)
	if missing > 0 {
		screen.info = fmt.Sprintf("%d page(s) not loaded yet, press L to load them", missing)
		return nil
	}

	screen.uploading = true
	screen.info = "Uploading " + manga.FormatChapterLabel(screen.view.Chapter)
	return uploadChapterCmd(model.booxClient, screen.mangaTitle, screen.view.Chapter, pages, model.logger)
}

// chapterPages collects the bytes of the current chapter in order and counts
// the pages that have none yet.
func chapterPages(view reader.View) ([][]byte, int) {
	pages := [][]byte{}
	missing := 0
	for _, item := range view.Items {
		if item.Kind != reader.ItemPage || item.Group != reader.GroupCurrent {
			continue
		}
		if item.Page.Status != reader.PageRemote {
			missing++
			continue
		}
		pages = append(pages, item.Page.Data)
	}
	return pages, missing
}

// firstCurrentItem is the first page of the current chapter, or the first
// current-group entry when the chapter has no pages.
func firstCurrentItem(view reader.View) int {
	fallback := -1
	for index, item := range view.Items {
		if item.Group != reader.GroupCurrent {
			continue
		}
		if item.Kind == reader.ItemPage {
			return index
		}
		if fallback < 0 {
			fallback = index
		}
	}
	return max(fallback, 0)
}

func clampCursor(cursor, length int) int {
	if length == 0 {
		return 0
	}
	return min(max(cursor, 0), length-1)
}

func (model model) readerView() string {
	screen := model.reader
	view := screen.view

	header := titleStyle.Render(manga.FormatChapterLabel(view.Chapter))
	if screen.mangaTitle != "" {
		header = titleStyle.Render(screen.mangaTitle) + secondaryStyle.Render(" · ") + header
	}
	lines := []string{header}

	switch {
	case view.Preparing:
		lines = append(lines, model.spinner.View()+" Preparing chapter...")
	case view.Err != nil:
		lines = append(lines, warningStyle.Render(fmt.Sprintf("%s: %v", manga.KindOf(view.Err), view.Err)))
	}

	mainWidth := mainColumnWidth(model.width)
	itemsView := lipgloss.NewStyle().Width(mainWidth).Render(readerItemsView(view, screen.cursor, listHeight(model.height)))
	body := itemsView
	if model.width >= 80 {
		body = lipgloss.JoinHorizontal(lipgloss.Top, itemsView, model.readerPagePanel(sidePanelWidth(model.width)))
	}
	lines = append(lines, body)

	if screen.info != "" {
		lines = append(lines, secondaryStyle.Render(screen.info))
	}
	lines = append(lines, secondaryStyle.Render("j/k move · r retry · L load all · u upload · esc back"))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// readerItemsView renders a window of the displayed sequence centred on the
// cursor.
func readerItemsView(view reader.View, cursor, height int) string {
	if len(view.Items) == 0 {
		return secondaryStyle.Render("No pages yet.")
	}

	height = max(height, 3)
	start := min(max(cursor-height/2, 0), max(len(view.Items)-height, 0))
	end := min(start+height, len(view.Items))

	rows := make([]string, 0, end-start)
	for index := start; index < end; index++ {
		marker := "  "
		if index == cursor {
			marker = "> "
		}
		rows = append(rows, marker+readerItemLine(view.Items[index]))
	}
	return strings.Join(rows, "\n")
}

func readerItemLine(item reader.Item) string {
	if item.Kind == reader.ItemTransition {
		line := "── " + item.Transition.String() + " ──"
		if !item.Resolved {
			line = "── looking for more chapters ──"
		}
		return sentinelStyle.Render(line)
	}

	prefix := ""
	if item.Group != reader.GroupCurrent {
		prefix = secondaryStyle.Render(manga.FormatChapterLabel(item.Chapter)) + " "
	}
	page := fmt.Sprintf("Page %d/%d", item.Page.Position+1, item.PageCount)

	var status string
	switch item.Page.Status {
	case reader.PageRemote:
		status = remoteStyle.Render("●")
	case reader.PageNotFound:
		status = warningStyle.Render("✗ " + manga.KindOf(item.Page.Err).String())
	default:
		status = secondaryStyle.Render("…")
	}
	return prefix + page + " " + status
}

func (model model) readerPagePanel(width int) string {
	screen := model.reader
	render := func(lines ...string) string {
		return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	}

	if screen.cursor < 0 || screen.cursor >= len(screen.view.Items) {
		return render(secondaryStyle.Render("Nothing selected."))
	}
	item := screen.view.Items[screen.cursor]
	if item.Kind == reader.ItemTransition {
		return render(preview.ClearKitty()+panelTitleStyle.Render(item.Transition.CurrentLabel()), sentinelStyle.Render(item.Transition.String()))
	}

	switch item.Page.Status {
	case reader.PageLoading:
		return render(preview.ClearKitty() + secondaryStyle.Render("Loading page..."))
	case reader.PageNotFound:
		message := "Page failed to load"
		if item.Page.Err != nil {
			message = item.Page.Err.Error()
		}
		return render(preview.ClearKitty()+warningStyle.Render(message), secondaryStyle.Render("Press r to retry"))
	}

	if !model.supportsGraphics {
		return render(secondaryStyle.Render(fmt.Sprintf("Page %d loaded (%d KB)", item.Page.Position+1, len(item.Page.Data)/1024)))
	}
	if errText, ok := screen.pageErrors[item.ID()]; ok {
		return render(preview.ClearKitty() + warningStyle.Render(errText))
	}
	image, ok := screen.pages[item.ID()]
	if !ok {
		return render(preview.ClearKitty() + secondaryStyle.Render("Rendering page..."))
	}

	cols, rows := pageRenderSize(width, listHeight(model.height), image.Width, image.Height)
	kitty, err := preview.RenderKitty(image.FilePath, cols, rows, 0, 0)
	if err != nil {
		return render(warningStyle.Render(err.Error()))
	}
	return render(preview.ClearKitty() + kitty + "\n" + blankBlock(rows, cols))
}
