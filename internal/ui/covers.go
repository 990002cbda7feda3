package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ssh-vom/boox-reader/internal/preview"
	"github.com/ssh-vom/boox-reader/internal/providers/manga"
)

type coverState struct {
	images          map[string]preview.Image
	errors          map[string]string
	loadingURL      string
	selectedURL     string
	transitionURL   string
	transitionStep  int
	transitionTotal int
}

func newCoverState() coverState {
	return coverState{
		images: map[string]preview.Image{},
		errors: map[string]string{},
	}
}

func (model *model) handleCoverLoaded(msg coverLoadedMsg) tea.Cmd {
	if msg.err != nil {
		model.covers.errors[msg.url] = msg.err.Error()
	} else if msg.image.FilePath != "" {
		model.covers.images[msg.url] = msg.image
	}
	if model.covers.loadingURL == msg.url {
		model.covers.loadingURL = ""
	}
	if msg.url != "" && msg.url == model.selectedCoverURL() {
		return model.startCoverTransition(msg.url)
	}
	return nil
}

func (model *model) stepCoverTransition() tea.Cmd {
	if model.covers.transitionURL == "" {
		return nil
	}
	if model.covers.transitionURL != model.selectedCoverURL() {
		model.covers.transitionURL = ""
		return nil
	}
	model.covers.transitionStep++
	if model.covers.transitionStep >= model.covers.transitionTotal {
		model.covers.transitionURL = ""
		return nil
	}
	return coverTransitionCmd()
}

func (model *model) requestCoverCmd() tea.Cmd {
	if !model.supportsGraphics || model.source == nil || model.images == nil {
		return nil
	}

	coverURL := model.selectedCoverURL()
	if coverURL == "" || coverURL == model.covers.loadingURL {
		return nil
	}
	if _, ok := model.covers.images[coverURL]; ok {
		return nil
	}
	if _, ok := model.covers.errors[coverURL]; ok {
		return nil
	}

	model.covers.loadingURL = coverURL
	return fetchCoverCmd(model.source, model.images, coverURL)
}

func (model *model) selectedCoverURL() string {
	if item, ok := model.resultsList.SelectedItem().(mangaResultItem); ok {
		return item.result.CoverURL
	}
	return ""
}

func (model *model) startCoverTransition(url string) tea.Cmd {
	if url == "" || !model.supportsGraphics {
		return nil
	}
	model.covers.transitionURL = url
	model.covers.transitionStep = 0
	model.covers.transitionTotal = preview.FadeFrames
	if image, ok := model.covers.images[url]; ok && len(image.Frames) > 0 {
		model.covers.transitionTotal = len(image.Frames)
	}
	return coverTransitionCmd()
}

func (model model) mangaCoverPanel(result manga.SearchResult, width int) string {
	width = max(width, 20)
	render := func(lines ...string) string {
		return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	}

	if !model.supportsGraphics {
		return render(secondaryStyle.Render("Terminal image rendering unavailable."))
	}
	if result.Title == "" {
		return render(secondaryStyle.Render("Select a manga to preview."))
	}

	lines := []string{panelTitleStyle.Render(result.Title), ""}
	if result.CoverURL == "" {
		return render(append(lines, secondaryStyle.Render("No cover art available."))...)
	}

	image, ok := model.covers.images[result.CoverURL]
	if !ok {
		if model.covers.loadingURL == result.CoverURL {
			cols, rows := coverRenderSize(width, 0, 0)
			return render(append(lines, secondaryStyle.Render("Loading cover..."), blankBlock(rows, cols))...)
		}
		if errText, ok := model.covers.errors[result.CoverURL]; ok {
			return render(append(lines, warningStyle.Render(errText))...)
		}
		return render(append(lines, secondaryStyle.Render("Cover available."))...)
	}

	cols, rows := coverRenderSize(width, image.Width, image.Height)
	framePath := image.FilePath
	if model.covers.transitionURL == result.CoverURL && model.covers.transitionStep < len(image.Frames) {
		framePath = image.Frames[model.covers.transitionStep]
	}

	kitty, err := preview.RenderKitty(framePath, cols, rows, 0, 0)
	if err != nil {
		return render(append(lines, warningStyle.Render(err.Error()))...)
	}
	return render(append(lines, kitty+"\n"+blankBlock(rows, cols))...)
}
