package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// CommandSuggestion is a slash command with its description
type CommandSuggestion struct {
	Command     string
	Description string
}

var availableCommands = []CommandSuggestion{
	{Command: "/new", Description: "Start a new conversation"},
	{Command: "/locale", Description: "Answer in en or fr"},
	{Command: "/quota", Description: "Show remaining free questions"},
	{Command: "/help", Description: "Show help"},
	{Command: "/quit", Description: "Exit"},
}

func filterCommands(prefix string) []CommandSuggestion {
	if prefix == "" || prefix == "/" {
		return availableCommands
	}

	prefix = strings.ToLower(prefix)
	var matches []CommandSuggestion
	for _, cmd := range availableCommands {
		if strings.HasPrefix(cmd.Command, prefix) {
			matches = append(matches, cmd)
		}
	}
	return matches
}

// Autocomplete tracks the slash command popup
type Autocomplete struct {
	suggestions []CommandSuggestion
	selected    int
}

// Update recomputes suggestions for the current input
func (a *Autocomplete) Update(input string) {
	if strings.HasPrefix(input, "/") && !strings.Contains(input, " ") {
		a.suggestions = filterCommands(input)
		if a.selected >= len(a.suggestions) {
			a.selected = 0
		}
		return
	}
	a.Reset()
}

func (a *Autocomplete) IsActive() bool {
	return len(a.suggestions) > 0
}

func (a *Autocomplete) Next() {
	if len(a.suggestions) == 0 {
		return
	}
	a.selected = (a.selected + 1) % len(a.suggestions)
}

func (a *Autocomplete) Prev() {
	if len(a.suggestions) == 0 {
		return
	}
	a.selected = (a.selected - 1 + len(a.suggestions)) % len(a.suggestions)
}

// Selected returns the highlighted command, or "" when inactive
func (a *Autocomplete) Selected() string {
	if len(a.suggestions) == 0 {
		return ""
	}
	return a.suggestions[a.selected].Command
}

func (a *Autocomplete) Reset() {
	a.suggestions = nil
	a.selected = 0
}

// View renders the popup
func (a *Autocomplete) View() string {
	if !a.IsActive() {
		return ""
	}

	popupStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(secondaryColor).
		Padding(0, 1)
	selectedStyle := lipgloss.NewStyle().
		Background(secondaryColor).
		Foreground(lipgloss.Color("#FFFFFF"))
	descStyle := lipgloss.NewStyle().Foreground(dimColor)

	lines := make([]string, 0, len(a.suggestions))
	for i, cmd := range a.suggestions {
		name := lipgloss.NewStyle().Width(10).Render(cmd.Command)
		if i == a.selected {
			lines = append(lines, selectedStyle.Render(name+" "+cmd.Description))
			continue
		}
		lines = append(lines, name+" "+descStyle.Render(cmd.Description))
	}
	return popupStyle.Render(strings.Join(lines, "\n"))
}
