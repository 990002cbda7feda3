package ui

import (
	"errors"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ssh-vom/boox-reader/internal/config"
)

const (
	settingURL = iota
	settingIP
	settingPort
	settingDataSaver
	settingMaxFetches
	settingHistoryPath
	settingCount
)

type settingsModel struct {
	inputs    []textinput.Model
	focus     int
	errorText string
	infoText  string
}

func newSettingsModel(cfg config.Config) settingsModel {
	inputs := make([]textinput.Model, settingCount)

	inputs[settingURL] = newSettingInput("Boox URL: ", cfg.BooxURL, 200)
	inputs[settingIP] = newSettingInput("Boox IP: ", cfg.BooxIP, 60)

	port := ""
	if cfg.BooxPort > 0 {
		port = strconv.Itoa(cfg.BooxPort)
	}
	inputs[settingPort] = newSettingInput("Boox Port: ", port, 6)

	dataSaver := "off"
	if cfg.Reader.DataSaver {
		dataSaver = "on"
	}
	inputs[settingDataSaver] = newSettingInput("Data saver (on/off): ", dataSaver, 5)

	fetches := ""
	if cfg.Reader.MaxConcurrentFetches > 0 {
		fetches = strconv.Itoa(cfg.Reader.MaxConcurrentFetches)
	}
	inputs[settingMaxFetches] = newSettingInput("Max page fetches: ", fetches, 4)
	inputs[settingHistoryPath] = newSettingInput("History file: ", cfg.HistoryPath, 300)
	inputs[settingHistoryPath].Placeholder = "default"

	return applySettingsFocus(settingsModel{inputs: inputs})
}

func newSettingInput(prompt, value string, limit int) textinput.Model {
	input := textinput.New()
	input.Prompt = prompt
	input.SetValue(value)
	input.CharLimit = limit
	return input
}

func updateSettingsFocus(direction string, focus, total int) int {
	if direction == "tab" || direction == "down" {
		focus++
	} else {
		focus--
	}
	if focus >= total {
		focus = 0
	} else if focus < 0 {
		focus = total - 1
	}
	return focus
}

func applySettingsFocus(settings settingsModel) settingsModel {
	for i := range settings.inputs {
		if i == settings.focus {
			settings.inputs[i].Focus()
			settings.inputs[i].PromptStyle = focusedStyle
			settings.inputs[i].TextStyle = focusedStyle
		} else {
			settings.inputs[i].Blur()
			settings.inputs[i].PromptStyle = blurStyle
			settings.inputs[i].TextStyle = blurStyle
		}
	}
	return settings
}

func buildConfigFromSettings(cfg config.Config, inputs []textinput.Model) (config.Config, error) {
	if len(inputs) != settingCount {
		return cfg, errors.New("settings form is incomplete")
	}
	value := func(index int) string { return strings.TrimSpace(inputs[index].Value()) }

	urlValue := value(settingURL)
	ipValue := value(settingIP)
	if urlValue == "" && ipValue == "" {
		return cfg, errors.New("boox url or ip is required")
	}
	cfg.BooxURL = urlValue
	cfg.BooxIP = ipValue

	if portValue := value(settingPort); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil {
			return cfg, errors.New("boox port must be a number")
		}
		cfg.BooxPort = port
	}

	dataSaver, err := parseToggle(value(settingDataSaver))
	if err != nil {
		return cfg, err
	}
	cfg.Reader.DataSaver = dataSaver

	if fetchesValue := value(settingMaxFetches); fetchesValue != "" {
		fetches, err := strconv.Atoi(fetchesValue)
		if err != nil || fetches < 0 {
			return cfg, errors.New("max page fetches must be a positive number")
		}
		cfg.Reader.MaxConcurrentFetches = fetches
	}

	cfg.HistoryPath = value(settingHistoryPath)
	return cfg, nil
}

func parseToggle(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "", "off", "no", "false", "0":
		return false, nil
	case "on", "yes", "true", "1":
		return true, nil
	default:
		return false, errors.New("data saver must be on or off")
	}
}

func (model *model) openSettings(returnState appState) {
	model.settings = newSettingsModel(model.config)
	model.returnState = returnState
	model.state = stateSettings
}

func (model *model) updateSettings(msg tea.Msg) tea.Cmd {
	key, ok := msg.(tea.KeyMsg)
	if ok {
		if key.String() != "ctrl+x" {
			model.settings.infoText = ""
		}
		switch key.String() {
		case "esc":
			model.state = model.returnState
			return nil
		case "tab", "shift+tab", "down", "up":
			model.settings.focus = updateSettingsFocus(key.String(), model.settings.focus, len(model.settings.inputs))
			model.settings = applySettingsFocus(model.settings)
			return nil
		case "enter":
			return model.saveSettings()
		case "ctrl+x":
			if err := model.clearImageCache(); err != nil {
				model.settings.errorText = err.Error()
				return nil
			}
			model.settings.errorText = ""
			model.settings.infoText = "Image cache cleared."
			return nil
		}
	}

	var cmd tea.Cmd
	current := &model.settings.inputs[model.settings.focus]
	*current, cmd = current.Update(msg)
	return cmd
}

func (model *model) clearImageCache() error {
	if model.images != nil {
		if err := model.images.Clear(); err != nil {
			return err
		}
	}
	model.covers = newCoverState()
	return nil
}

func (model *model) saveSettings() tea.Cmd {
	updated, err := buildConfigFromSettings(model.config, model.settings.inputs)
	if err != nil {
		model.settings.errorText = err.Error()
		return nil
	}

	if err := config.SaveConfig(updated); err != nil {
		model.settings.errorText = err.Error()
		return nil
	}

	model.config = updated
	if model.buildDeps != nil {
		deps, err := model.buildDeps(updated)
		if err != nil {
			model.settings.errorText = err.Error()
			return nil
		}
		model.closeReader()
		model.applyDependencies(deps)
	}

	model.settings.errorText = ""
	if model.returnState == stateCheckFailed {
		model.state = stateChecking
		return checkConnectionCmd(model.booxClient)
	}
	model.state = stateMenu
	return nil
}

func (model model) settingsView() string {
	lines := []string{
		titleStyle.Render("Settings"),
		"Edit Boox connection and reader settings.",
	}

	for _, input := range model.settings.inputs {
		lines = append(lines, input.View())
	}
	if model.settings.errorText != "" {
		lines = append(lines, warningStyle.Render(model.settings.errorText))
	}
	if model.settings.infoText != "" {
		lines = append(lines, secondaryStyle.Render(model.settings.infoText))
	}
	lines = append(lines, secondaryStyle.Render("Press ctrl+x to clear the image cache"))
	lines = append(lines, secondaryStyle.Render("Enter to save · Tab to move · Esc to cancel"))

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
