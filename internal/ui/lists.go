package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ssh-vom/boox-reader/internal/boox"
	"github.com/ssh-vom/boox-reader/internal/history"
	"github.com/ssh-vom/boox-reader/internal/providers/manga"
)

type menuItem struct {
	title       string
	description string
	action      appState
}

func (item menuItem) Title() string       { return item.title }
func (item menuItem) Description() string { return item.description }
func (item menuItem) FilterValue() string { return item.title }

type mangaResultItem struct {
	result manga.SearchResult
}

func (item mangaResultItem) Title() string { return item.result.Title }
func (item mangaResultItem) Description() string {
	if item.result.CoverURL != "" {
		return "Cover available"
	}
	return item.result.ID
}
func (item mangaResultItem) FilterValue() string { return item.result.Title }

type chapterItem struct {
	chapter  manga.Chapter
	progress *history.Progress
}

func (item chapterItem) Title() string       { return manga.FormatChapterLabel(item.chapter) }
func (item chapterItem) Description() string { return "" }
func (item chapterItem) FilterValue() string { return manga.FormatChapterLabel(item.chapter) }

// readMark summarises stored progress: a tick for finished chapters, the
// furthest page otherwise.
func (item chapterItem) readMark() string {
	switch {
	case item.progress == nil:
		return ""
	case item.progress.Completed:
		return "✓ "
	case item.progress.PageCount > 0:
		return fmt.Sprintf("%d/%d ", item.progress.LastPage+1, item.progress.PageCount)
	default:
		return "· "
	}
}

type libraryItem struct {
	entry boox.Entry
}

func (item libraryItem) Title() string {
	if item.entry.Folder {
		return item.entry.Title + "/"
	}
	return item.entry.Title
}
func (item libraryItem) Description() string {
	if item.entry.Folder {
		return "Folder"
	}
	return "Book"
}
func (item libraryItem) FilterValue() string { return item.entry.Title }

type recentItem struct {
	progress history.Progress
}

func (item recentItem) chapter() manga.Chapter {
	return manga.Chapter{
		ID:      item.progress.ChapterID,
		MangaID: item.progress.MangaID,
		Number:  item.progress.Number,
		Title:   item.progress.Title,
	}
}

func (item recentItem) Title() string { return manga.FormatChapterLabel(item.chapter()) }
func (item recentItem) Description() string {
	status := "in progress"
	if item.progress.Completed {
		status = "finished"
	}
	return fmt.Sprintf("%s · %s", status, item.progress.UpdatedAt.Format("2006-01-02 15:04"))
}
func (item recentItem) FilterValue() string { return item.Title() }

func newMenuList(width, height int) list.Model {
	items := []list.Item{
		menuItem{title: "Search Manga", description: "Find manga, read and upload chapters", action: stateMangaQuery},
		menuItem{title: "Continue Reading", description: "Recently opened chapters", action: stateRecent},
		menuItem{title: "Boox Library", description: "Browse titles on device", action: stateLibrary},
		menuItem{title: "Settings", description: "Edit Boox connection and reader", action: stateSettings},
		menuItem{title: "About/Help", description: "Usage and shortcuts", action: stateAbout},
	}

	menu := list.New(items, list.NewDefaultDelegate(), width, height)
	menu.Title = "Home"
	menu.SetShowStatusBar(false)
	menu.SetFilteringEnabled(false)
	menu.SetShowHelp(false)

	return menu
}

func newQueryInput() textinput.Model {
	input := textinput.New()
	input.Placeholder = "e.g. One Piece"
	input.Focus()
	input.Prompt = "> "
	return input
}

func newPlainList(title string, items []list.Item, width, height int) list.Model {
	plain := list.New(items, list.NewDefaultDelegate(), width, height)
	plain.Title = title
	plain.SetShowStatusBar(false)
	plain.SetFilteringEnabled(true)
	plain.SetShowHelp(false)
	return plain
}

func newMangaResultsList(results []manga.SearchResult, width, height int) list.Model {
	items := make([]list.Item, 0, len(results))
	for _, result := range results {
		items = append(items, mangaResultItem{result: result})
	}
	return newPlainList("Results", items, width, height)
}

func newLibraryList(title string, entries []boox.Entry, width, height int) list.Model {
	items := make([]list.Item, 0, len(entries))
	for _, entry := range entries {
		items = append(items, libraryItem{entry: entry})
	}
	return newPlainList(title, items, width, height)
}

func newRecentList(recent []history.Progress, width, height int) list.Model {
	items := make([]list.Item, 0, len(recent))
	for _, progress := range recent {
		items = append(items, recentItem{progress: progress})
	}
	return newPlainList("Recently Read", items, width, height)
}

func newChapterList(chapters []manga.Chapter, read map[string]history.Progress, width, height int) (list.Model, map[int]bool) {
	items := make([]list.Item, 0, len(chapters))
	for _, chapter := range chapters {
		item := chapterItem{chapter: chapter}
		if progress, ok := read[chapter.ID]; ok {
			item.progress = &progress
		}
		items = append(items, item)
	}

	selected := make(map[int]bool)
	chapterList := list.New(items, multiSelectDelegate{selected: selected}, width, height)
	chapterList.Title = "Chapters"
	chapterList.SetShowStatusBar(false)
	chapterList.SetFilteringEnabled(true)
	chapterList.SetShowHelp(false)

	return chapterList, selected
}

func selectedChapters(items []list.Item, selected map[int]bool) []manga.Chapter {
	chapters := []manga.Chapter{}
	for index, item := range items {
		if !selected[index] {
			continue
		}
		if chapter, ok := item.(chapterItem); ok {
			chapters = append(chapters, chapter.chapter)
		}
	}
	return chapters
}

type multiSelectDelegate struct {
	selected map[int]bool
}

func (delegate multiSelectDelegate) Height() int                                   { return 1 }
func (delegate multiSelectDelegate) Spacing() int                                  { return 0 }
func (delegate multiSelectDelegate) Update(msg tea.Msg, model *list.Model) tea.Cmd { return nil }

func (delegate multiSelectDelegate) Render(writer io.Writer, model list.Model, index int, item list.Item) {
	checkbox := " "
	if delegate.selected[index] {
		checkbox = "x"
	}
	cursor := " "
	if index == model.Index() {
		cursor = ">"
	}

	title := item.FilterValue()
	mark := ""
	if chapter, ok := item.(chapterItem); ok {
		title = chapter.Title()
		mark = chapter.readMark()
	}
	fmt.Fprintf(writer, "%s [%s] %s%s", cursor, checkbox, secondaryStyle.Render(mark), title)
}
