package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// ErrNotInteractive is returned by Confirm when there is no terminal to ask on
var ErrNotInteractive = errors.New("confirmation needs an interactive terminal, pass --yes to skip it")

// ConfirmModel is the bubbletea model for a yes/no prompt listing what an
// action will affect
type ConfirmModel struct {
	prompt    string
	items     []string
	confirmed bool
	quitting  bool
}

// NewConfirmModel creates a prompt. items are listed under it.
func NewConfirmModel(prompt string, items []string) ConfirmModel {
	return ConfirmModel{prompt: prompt, items: items}
}

// Init implements tea.Model
func (m ConfirmModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m ConfirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.Type {
	case tea.KeyCtrlC, tea.KeyEsc, tea.KeyEnter:
		// Enter takes the default answer, which is no
		m.quitting = true
		return m, tea.Quit

	case tea.KeyRunes:
		switch strings.ToLower(string(key.Runes)) {
		case "y":
			m.confirmed = true
			m.quitting = true
			return m, tea.Quit
		case "n", "q":
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model
func (m ConfirmModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(HeaderStyle.Render(m.prompt))
	sb.WriteString("\n")
	for _, item := range m.items {
		sb.WriteString(MutedStyle.Render("  • "))
		sb.WriteString(NameStyle.Render(item))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(HintStyle.Render("[y:confirm] [n/Enter/Esc:cancel]"))
	sb.WriteString("\n")
	return sb.String()
}

// Confirmed reports whether the user answered yes
func (m ConfirmModel) Confirmed() bool {
	return m.confirmed
}

// Confirm asks a yes/no question on the terminal and returns the answer
func Confirm(in io.Reader, out io.Writer, prompt string, items []string) (bool, error) {
	p := tea.NewProgram(NewConfirmModel(prompt, items), tea.WithInput(in), tea.WithOutput(out))

	finalModel, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("error running prompt: %w", err)
	}

	return finalModel.(ConfirmModel).Confirmed(), nil
}
