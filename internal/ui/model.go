package ui

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ssh-vom/boox-reader/internal/app"
	"github.com/ssh-vom/boox-reader/internal/boox"
	"github.com/ssh-vom/boox-reader/internal/config"
	"github.com/ssh-vom/boox-reader/internal/history"
	"github.com/ssh-vom/boox-reader/internal/library"
	"github.com/ssh-vom/boox-reader/internal/preview"
	"github.com/ssh-vom/boox-reader/internal/providers/manga"
)

type appState int

const (
	stateChecking appState = iota
	stateCheckFailed
	stateMenu
	stateMangaQuery
	stateMangaSearching
	stateMangaResults
	stateMangaLoadingChapters
	stateMangaChapters
	stateReader
	stateDownloading
	stateDownloadDone
	stateSettings
	stateAbout
	stateLibraryLoading
	stateLibrary
	stateRecentLoading
	stateRecent
)

type model struct {
	state appState

	config     config.Config
	booxClient *boox.Client
	source     manga.Source
	directory  *library.Directory
	history    *history.Store
	images     *preview.Cache
	logger     *slog.Logger
	buildDeps  BuildDependencies

	menu         list.Model
	textInput    textinput.Model
	resultsList  list.Model
	chapterList  list.Model
	chapterMarks map[int]bool
	recentList   list.Model

	selectedManga manga.SearchResult
	chapters      []manga.Chapter

	covers           coverState
	supportsGraphics bool

	reader  readerScreen
	library libraryScreen

	progress        progress.Model
	progressCurrent int
	progressTotal   int
	progressMessage string
	downloadErr     error
	downloadUpdates <-chan app.ProgressUpdate

	spinner spinner.Model

	settings     settingsModel
	returnState  appState
	errorMessage string
	infoMessage  string

	width  int
	height int

	logChannel chan logMsg
	logLines   []string
	verbose    bool
}

// Dependencies are rebuilt whenever the settings change. Every field may be
// nil; the screens that need a missing one report it.
type Dependencies struct {
	BooxClient *boox.Client
	Source     manga.Source
	Directory  *library.Directory
	History    *history.Store
	Images     *preview.Cache
	Logger     *slog.Logger
}

type BuildDependencies func(cfg config.Config) (Dependencies, error)

// NewModel builds the TUI. logs is nil unless verbose logging should be shown
// in the log pane.
func NewModel(cfg config.Config, deps Dependencies, buildDeps BuildDependencies, logs *LogSink, startupErr error) model {
	spinnerModel := spinner.New()
	spinnerModel.Spinner = spinner.Dot

	model := model{
		state:            stateChecking,
		config:           cfg,
		buildDeps:        buildDeps,
		menu:             newMenuList(0, 0),
		textInput:        newQueryInput(),
		resultsList:      list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0),
		chapterList:      list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0),
		recentList:       newRecentList(nil, 0, 0),
		library:          newLibraryScreen(),
		chapterMarks:     map[int]bool{},
		covers:           newCoverState(),
		supportsGraphics: supportsKittyGraphics(),
		spinner:          spinnerModel,
		progress:         progress.New(progress.WithDefaultGradient()),
	}
	model.applyDependencies(deps)

	if startupErr != nil {
		model.state = stateCheckFailed
		model.errorMessage = startupErr.Error()
	}

	if logs != nil {
		model.verbose = true
		model.logChannel = logs.channel
	}

	return model
}

func (model *model) applyDependencies(deps Dependencies) {
	if model.history != nil && model.history != deps.History {
		if err := model.history.Close(); err != nil && model.logger != nil {
			model.logger.Warn("closing reading history failed", "error", err)
		}
	}

	model.booxClient = deps.BooxClient
	model.source = deps.Source
	model.directory = deps.Directory
	model.history = deps.History
	model.images = deps.Images
	model.logger = deps.Logger
	if model.logger == nil {
		model.logger = slog.Default()
	}
}

func (model model) Init() tea.Cmd {
	commands := []tea.Cmd{}
	if model.state == stateChecking {
		commands = append(commands, model.spinner.Tick, checkConnectionCmd(model.booxClient))
	}
	if model.verbose {
		commands = append(commands, listenLogCmd(model.logChannel))
	}
	return tea.Batch(commands...)
}

func (model model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		model.width = msg.Width
		model.height = msg.Height
		model.menu.SetSize(msg.Width-4, listHeight(msg.Height))
		model.chapterList.SetSize(msg.Width-4, listHeight(msg.Height))
		model.library.list.SetSize(msg.Width-4, listHeight(msg.Height))
		model.recentList.SetSize(msg.Width-4, listHeight(msg.Height))
		if model.state == stateMangaResults {
			model.resultsList.SetSize(mainColumnWidth(msg.Width), listHeight(msg.Height))
		} else {
			model.resultsList.SetSize(msg.Width-4, listHeight(msg.Height))
		}
		model.progress.Width = max(msg.Width-10, 10)
		if model.state == stateMangaResults {
			model.covers = newCoverState()
			return model, model.requestCoverCmd()
		}
		return model, nil
	case connectionResultMsg:
		if msg.err != nil {
			model.state = stateCheckFailed
			model.errorMessage = msg.err.Error()
			return model, nil
		}
		model.state = stateMenu
		model.infoMessage = fmt.Sprintf("Connected to %s", msg.device.Model)
		return model, nil
	case mangaSearchMsg:
		if msg.err != nil {
			model.state = stateMangaQuery
			model.errorMessage = msg.err.Error()
			return model, nil
		}
		model.resultsList = newMangaResultsList(msg.results, mainColumnWidth(model.width), listHeight(model.height))
		model.covers = newCoverState()
		model.state = stateMangaResults
		return model, model.requestCoverCmd()
	case chaptersMsg:
		if msg.mangaID != model.selectedManga.ID {
			return model, nil
		}
		if msg.err != nil {
			model.state = stateMangaResults
			model.errorMessage = msg.err.Error()
			return model, nil
		}
		model.chapters = msg.chapters
		model.chapterList, model.chapterMarks = newChapterList(msg.chapters, msg.read, model.width-4, listHeight(model.height))
		model.state = stateMangaChapters
		return model, nil
	case readMarksMsg:
		if msg.mangaID == model.selectedManga.ID {
			model.markRead(msg.read)
		}
		return model, nil
	case downloadStartMsg:
		model.state = stateDownloading
		model.downloadErr = nil
		model.downloadUpdates = msg.updates
		model.progressCurrent = 0
		model.progressTotal = 0
		model.progressMessage = "Starting download"
		return model, tea.Batch(model.spinner.Tick, listenProgressCmd(model.downloadUpdates))
	case app.ProgressUpdate:
		if msg.Err != nil {
			model.downloadErr = msg.Err
		}
		if msg.Done {
			model.state = stateDownloadDone
			return model, nil
		}
		model.progressCurrent = msg.Current
		model.progressTotal = msg.Total
		model.progressMessage = msg.Message
		var progressCmd tea.Cmd
		if msg.Total > 0 {
			progressCmd = model.progress.SetPercent(float64(msg.Current) / float64(msg.Total))
		}
		return model, tea.Batch(progressCmd, listenProgressCmd(model.downloadUpdates))
	case progress.FrameMsg:
		updatedModel, cmd := model.progress.Update(msg)
		if progressModel, ok := updatedModel.(progress.Model); ok {
			model.progress = progressModel
		}
		return model, cmd
	case coverLoadedMsg:
		return model, model.handleCoverLoaded(msg)
	case coverTransitionMsg:
		return model, model.stepCoverTransition()
	case readerViewMsg:
		return model, model.handleReaderView(msg)
	case pageImageMsg:
		model.handlePageImage(msg)
		return model, nil
	case readerUploadMsg:
		model.handleReaderUpload(msg)
		return model, nil
	case libraryMsg:
		model.handleLibrary(msg)
		return model, nil
	case recentMsg:
		model.handleRecent(msg)
		return model, nil
	case logMsg:
		if model.verbose {
			model.logLines = append(model.logLines, string(msg))
			if len(model.logLines) > 6 {
				model.logLines = model.logLines[len(model.logLines)-6:]
			}
			return model, listenLogCmd(model.logChannel)
		}
		return model, nil
	}

	return model.handleStateUpdate(msg)
}

func (model *model) handleStateUpdate(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch model.state {
	case stateChecking, stateMangaSearching, stateMangaLoadingChapters, stateDownloading, stateLibraryLoading, stateRecentLoading:
		var spinnerCmd tea.Cmd
		model.spinner, spinnerCmd = model.spinner.Update(msg)
		return *model, spinnerCmd
	case stateCheckFailed:
		return *model, model.updateCheckFailed(msg)
	case stateMenu:
		return *model, model.updateMenu(msg)
	case stateMangaQuery:
		return *model, model.updateMangaQuery(msg)
	case stateMangaResults:
		return *model, model.updateMangaResults(msg)
	case stateMangaChapters:
		return *model, model.updateMangaChapters(msg)
	case stateReader:
		var spinnerCmd tea.Cmd
		if _, ok := msg.(spinner.TickMsg); ok {
			model.spinner, spinnerCmd = model.spinner.Update(msg)
			return *model, spinnerCmd
		}
		return *model, model.updateReader(msg)
	case stateDownloadDone:
		return *model, model.updateDownloadDone(msg)
	case stateSettings:
		return *model, model.updateSettings(msg)
	case stateLibrary:
		return *model, model.updateLibrary(msg)
	case stateRecent:
		return *model, model.updateRecent(msg)
	case stateAbout:
		return *model, model.updateInfoScreens(msg)
	default:
		return *model, nil
	}
}

func (model model) View() string {
	view := ""

	switch model.state {
	case stateChecking:
		view = fmt.Sprintf("%s Checking Boox connection...", model.spinner.View())
	case stateCheckFailed:
		view = fmt.Sprintf("Boox not reachable.\nError: %s\n\nPress r to retry, s to edit settings, q to quit.", model.errorMessage)
	case stateMenu:
		lines := []string{titleStyle.Render("Boox Reader"), model.menu.View()}
		if model.infoMessage != "" {
			lines = append(lines, secondaryStyle.Render(model.infoMessage))
		}
		lines = append(lines, secondaryStyle.Render("Enter to select · s settings · q quit"))
		view = lipgloss.JoinVertical(lipgloss.Left, lines...)
	case stateMangaQuery:
		lines := []string{
			titleStyle.Render("Search Manga"),
			model.textInput.View(),
		}
		if model.errorMessage != "" {
			lines = append(lines, warningStyle.Render(model.errorMessage))
		}
		lines = append(lines, secondaryStyle.Render("Enter to search · esc to cancel"))
		view = lipgloss.JoinVertical(lipgloss.Left, lines...)
	case stateMangaSearching:
		view = fmt.Sprintf("%s Searching MangaDex...", model.spinner.View())
	case stateMangaResults:
		view = model.mangaResultsView()
	case stateMangaLoadingChapters:
		view = fmt.Sprintf("%s Fetching chapters...", model.spinner.View())
	case stateMangaChapters:
		lines := []string{
			preview.ClearKitty() + titleStyle.Render(model.selectedManga.Title),
			model.chapterList.View(),
		}
		if model.errorMessage != "" {
			lines = append(lines, warningStyle.Render(model.errorMessage))
		}
		lines = append(lines, secondaryStyle.Render("Space to toggle · Enter to download · r to read · esc to back"))
		view = lipgloss.JoinVertical(lipgloss.Left, lines...)
	case stateReader:
		view = model.readerView()
	case stateDownloading:
		progressLine := model.progress.View()
		if model.progressTotal > 0 {
			progressLine = fmt.Sprintf("%s %d/%d", progressLine, model.progressCurrent, model.progressTotal)
		}
		view = lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Downloading"),
			model.spinner.View()+" "+model.progressMessage,
			progressLine,
		)
	case stateDownloadDone:
		message := "Download complete."
		if model.downloadErr != nil {
			message = "Download completed with errors:\n" + model.downloadErr.Error()
		}
		view = lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Done"),
			message,
			secondaryStyle.Render("Press enter to return"),
		)
	case stateSettings:
		view = model.settingsView()
	case stateAbout:
		view = lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("About"),
			"Read manga in the terminal and send chapters to a Boox tablet.",
			"In the reader, moving past the last page continues into the next chapter.",
			secondaryStyle.Render("Press esc to go back"),
		)
	case stateLibraryLoading:
		view = fmt.Sprintf("%s Loading Boox library...", model.spinner.View())
	case stateLibrary:
		view = model.libraryView()
	case stateRecentLoading:
		view = fmt.Sprintf("%s Loading reading history...", model.spinner.View())
	case stateRecent:
		view = model.recentView()
	}

	if model.verbose {
		view = lipgloss.JoinVertical(lipgloss.Left, view, model.logView())
	}

	return view
}

func (model *model) updateCheckFailed(msg tea.Msg) tea.Cmd {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return nil
	}

	switch key.String() {
	case "r":
		model.state = stateChecking
		return tea.Batch(model.spinner.Tick, checkConnectionCmd(model.booxClient))
	case "s":
		model.openSettings(stateCheckFailed)
		return nil
	case "q", "ctrl+c":
		return tea.Quit
	}

	return nil
}

func (model *model) updateMenu(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	model.menu, cmd = model.menu.Update(msg)
	model.errorMessage = ""

	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return cmd
	}

	switch key.String() {
	case "enter":
		selected, ok := model.menu.SelectedItem().(menuItem)
		if !ok {
			return cmd
		}
		switch selected.action {
		case stateSettings:
			model.openSettings(stateMenu)
			return nil
		case stateLibrary:
			return model.openLibrary()
		case stateRecent:
			return model.openRecent()
		case stateMangaQuery:
			model.textInput = newQueryInput()
			model.textInput.Focus()
		}
		model.state = selected.action
		return nil
	case "s":
		model.openSettings(stateMenu)
		return nil
	case "q", "ctrl+c":
		return tea.Quit
	}

	return cmd
}

func (model *model) updateMangaQuery(msg tea.Msg) tea.Cmd {
	key, ok := msg.(tea.KeyMsg)
	if ok && key.String() == "esc" {
		model.state = stateMenu
		return nil
	}
	if ok && key.String() != "enter" {
		model.errorMessage = ""
	}

	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(msg)
	if ok && key.String() == "enter" {
		query := strings.TrimSpace(model.textInput.Value())
		if query == "" {
			model.errorMessage = "Search query cannot be empty"
			return nil
		}
		model.state = stateMangaSearching
		model.errorMessage = ""
		return tea.Batch(model.spinner.Tick, searchMangaCmd(model.source, query))
	}

	return cmd
}

func (model *model) updateMangaResults(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	model.resultsList, cmd = model.resultsList.Update(msg)
	model.errorMessage = ""

	transitionCmd := tea.Cmd(nil)
	selectedURL := model.selectedCoverURL()
	if selectedURL != model.covers.selectedURL {
		model.covers.selectedURL = selectedURL
		if _, ok := model.covers.images[selectedURL]; ok && selectedURL != "" {
			transitionCmd = model.startCoverTransition(selectedURL)
		}
	}

	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return tea.Batch(cmd, model.requestCoverCmd(), transitionCmd)
	}

	switch key.String() {
	case "esc":
		if model.resultsList.FilterState() != list.Unfiltered {
			return cmd
		}
		model.state = stateMenu
		return nil
	case "enter":
		if selected, ok := model.resultsList.SelectedItem().(mangaResultItem); ok {
			model.selectedManga = selected.result
			model.state = stateMangaLoadingChapters
			return tea.Batch(model.spinner.Tick, fetchChaptersCmd(model.directory, model.history, selected.result.ID))
		}
	}

	return tea.Batch(cmd, model.requestCoverCmd(), transitionCmd)
}

func (model *model) updateMangaChapters(msg tea.Msg) tea.Cmd {
	key, ok := msg.(tea.KeyMsg)
	if ok && model.chapterList.FilterState() != list.Filtering {
		switch key.String() {
		case "esc":
			if model.chapterList.FilterState() == list.FilterApplied {
				break
			}
			model.state = stateMangaResults
			return nil
		case " ":
			model.errorMessage = ""
			index := model.chapterList.Index()
			model.chapterMarks[index] = !model.chapterMarks[index]
			return nil
		case "r", "o":
			selected, ok := model.chapterList.SelectedItem().(chapterItem)
			if !ok {
				return nil
			}
			return model.openReader(selected.chapter, model.selectedManga.Title, stateMangaChapters)
		case "enter":
			selected := selectedChapters(model.chapterList.Items(), model.chapterMarks)
			if len(selected) == 0 {
				model.errorMessage = "Select at least one chapter"
				return nil
			}
			model.errorMessage = ""
			model.state = stateDownloading
			options := app.DownloadOptions{
				DataSaver:   model.config.Reader.DataSaver,
				Concurrency: model.config.Reader.MaxConcurrentFetches,
				Logger:      model.logger,
			}
			return tea.Batch(model.spinner.Tick, startDownloadCmd(model.booxClient, model.source, model.selectedManga.Title, selected, options))
		}
	}

	var cmd tea.Cmd
	model.chapterList, cmd = model.chapterList.Update(msg)
	return cmd
}

// markRead refreshes the read marks without rebuilding the list, so the
// cursor and selection survive.
func (model *model) markRead(read map[string]history.Progress) {
	items := model.chapterList.Items()
	for index, item := range items {
		chapter, ok := item.(chapterItem)
		if !ok {
			continue
		}
		chapter.progress = nil
		if progress, ok := read[chapter.chapter.ID]; ok {
			chapter.progress = &progress
		}
		items[index] = chapter
	}
	model.chapterList.SetItems(items)
}

func (model *model) updateDownloadDone(msg tea.Msg) tea.Cmd {
	key, ok := msg.(tea.KeyMsg)
	if ok && (key.String() == "enter" || key.String() == "esc") {
		model.state = stateMenu
		return nil
	}
	return nil
}

func (model *model) updateInfoScreens(msg tea.Msg) tea.Cmd {
	key, ok := msg.(tea.KeyMsg)
	if ok && (key.String() == "esc" || key.String() == "q") {
		model.state = stateMenu
		return nil
	}
	return nil
}

func (model model) mangaResultsView() string {
	listSection := []string{
		titleStyle.Render("Select Manga"),
		model.resultsList.View(),
	}
	if model.errorMessage != "" {
		listSection = append(listSection, warningStyle.Render(model.errorMessage))
	}
	listSection = append(listSection, secondaryStyle.Render("Enter to select · esc to cancel"))

	selected := manga.SearchResult{}
	if item, ok := model.resultsList.SelectedItem().(mangaResultItem); ok {
		selected = item.result
	}

	panel := model.mangaCoverPanel(selected, sidePanelWidth(model.width))
	listView := lipgloss.NewStyle().Width(mainColumnWidth(model.width)).Render(lipgloss.JoinVertical(lipgloss.Left, listSection...))

	if model.width < 80 {
		return lipgloss.JoinVertical(lipgloss.Left, listView, panel)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, listView, panel)
}

func (model model) logView() string {
	if len(model.logLines) == 0 {
		return secondaryStyle.Render("Logs: (no entries)")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		secondaryStyle.Render("Logs:"),
		strings.Join(model.logLines, "\n"),
	)
}

// Close stops any open reader session and releases the reading history.
func (model model) Close() error {
	model.closeReader()
	if model.history != nil {
		return model.history.Close()
	}
	return nil
}
