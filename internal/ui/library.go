package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ssh-vom/boox-reader/internal/boox"
)

// libraryScreen browses the device one folder at a time. folders is the
// path from the root to the listed folder.
type libraryScreen struct {
	list    list.Model
	folders []boox.Entry
	listing boox.Listing
}

func newLibraryScreen() libraryScreen {
	return libraryScreen{list: newLibraryList("Boox Library", nil, 0, 0)}
}

func (screen libraryScreen) folderID() string {
	if len(screen.folders) == 0 {
		return ""
	}
	return screen.folders[len(screen.folders)-1].ID
}

func (screen libraryScreen) title() string {
	if len(screen.folders) == 0 {
		return "Boox Library"
	}
	return "Boox Library / " + screen.folders[len(screen.folders)-1].Title
}

func (model *model) openLibrary() tea.Cmd {
	model.library = newLibraryScreen()
	model.library.list.SetSize(model.width-4, listHeight(model.height))
	model.errorMessage = ""
	model.state = stateLibraryLoading
	return tea.Batch(model.spinner.Tick, fetchLibraryCmd(model.booxClient, ""))
}

func (model *model) handleLibrary(msg libraryMsg) {
	if msg.folderID != model.library.folderID() {
		return
	}
	if msg.err != nil {
		model.errorMessage = msg.err.Error()
		model.state = stateLibrary
		model.library.list = newLibraryList(model.library.title(), nil, model.width-4, listHeight(model.height))
		return
	}
	model.errorMessage = ""
	model.library.listing = msg.listing
	model.library.list = newLibraryList(model.library.title(), msg.listing.Entries, model.width-4, listHeight(model.height))
	model.state = stateLibrary
}

func (model *model) updateLibrary(msg tea.Msg) tea.Cmd {
	key, ok := msg.(tea.KeyMsg)
	if ok && model.library.list.FilterState() != list.Filtering {
		switch key.String() {
		case "esc":
			if len(model.library.folders) == 0 {
				model.state = stateMenu
				return nil
			}
			model.library.folders = model.library.folders[:len(model.library.folders)-1]
			model.state = stateLibraryLoading
			return fetchLibraryCmd(model.booxClient, model.library.folderID())
		case "enter":
			selected, ok := model.library.list.SelectedItem().(libraryItem)
			if !ok || !selected.entry.Folder {
				return nil
			}
			model.library.folders = append(model.library.folders, selected.entry)
			model.state = stateLibraryLoading
			return fetchLibraryCmd(model.booxClient, selected.entry.ID)
		case "R":
			model.state = stateLibraryLoading
			return fetchLibraryCmd(model.booxClient, model.library.folderID())
		}
	}

	var cmd tea.Cmd
	model.library.list, cmd = model.library.list.Update(msg)
	return cmd
}

func (model model) libraryView() string {
	lines := []string{
		titleStyle.Render(model.library.title()),
		secondaryStyle.Render(fmt.Sprintf("%d books · %d folders", model.library.listing.BookCount, model.library.listing.FolderCount)),
		model.library.list.View(),
	}
	if model.errorMessage != "" {
		lines = append(lines, warningStyle.Render(model.errorMessage))
	}
	lines = append(lines, secondaryStyle.Render("Enter to open folder · R refresh · esc back"))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (model *model) openRecent() tea.Cmd {
	model.errorMessage = ""
	model.state = stateRecentLoading
	return tea.Batch(model.spinner.Tick, fetchRecentCmd(model.history))
}

func (model *model) handleRecent(msg recentMsg) {
	if msg.err != nil {
		model.errorMessage = msg.err.Error()
	} else {
		model.errorMessage = ""
	}
	index := model.recentList.Index()
	model.recentList = newRecentList(msg.recent, model.width-4, listHeight(model.height))
	model.recentList.Select(min(index, max(len(msg.recent)-1, 0)))
	if model.state == stateRecentLoading {
		model.state = stateRecent
	}
}

func (model *model) updateRecent(msg tea.Msg) tea.Cmd {
	key, ok := msg.(tea.KeyMsg)
	if ok && model.recentList.FilterState() != list.Filtering {
		switch key.String() {
		case "esc":
			model.state = stateMenu
			return nil
		case "enter":
			selected, ok := model.recentList.SelectedItem().(recentItem)
			if !ok {
				return nil
			}
			title := ""
			if model.selectedManga.ID == selected.progress.MangaID {
				title = model.selectedManga.Title
			}
			return model.openReader(selected.chapter(), title, stateRecent)
		}
	}

	var cmd tea.Cmd
	model.recentList, cmd = model.recentList.Update(msg)
	return cmd
}

func (model model) recentView() string {
	lines := []string{
		titleStyle.Render("Continue Reading"),
		model.recentList.View(),
	}
	if model.errorMessage != "" {
		lines = append(lines, warningStyle.Render(model.errorMessage))
	}
	lines = append(lines, secondaryStyle.Render("Enter to read · esc back"))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
