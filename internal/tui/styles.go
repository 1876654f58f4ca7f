package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/CivicPulse/civicpulse/pkg/types"
)

// Color palette
var (
	primaryColor   = lipgloss.Color("#C8102E") // Parliament red
	secondaryColor = lipgloss.Color("#1D4ED8")
	userColor      = lipgloss.Color("#3B82F6")
	aiColor        = lipgloss.Color("#10B981")
	dimColor       = lipgloss.Color("#6B7280")
	errorColor     = lipgloss.Color("#EF4444")
	linkColor      = lipgloss.Color("#F59E0B")
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Padding(0, 1)

	headerInfoStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	userPrefixStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(userColor)

	aiPrefixStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(aiColor)

	userTextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5E7EB"))

	inputBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(secondaryColor).
				Padding(0, 1)

	chatBorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(dimColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(dimColor).
			Italic(true)

	thinkingStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	systemStyle = lipgloss.NewStyle().
			Foreground(dimColor).
			Italic(true)

	navStyle = lipgloss.NewStyle().
			Foreground(linkColor).
			Underline(true)

	timestampStyle = lipgloss.NewStyle().
			Foreground(dimColor)
)

func formatUserMessage(text string) string {
	return userPrefixStyle.Render("You:") + " " + userTextStyle.Render(text)
}

// formatAIMessage renders the answer as markdown when it looks like markdown
func formatAIMessage(text string, width int) string {
	return aiPrefixStyle.Render("AI:") + " " + renderIfMarkdown(text, width)
}

func formatSystemMessage(text string) string {
	return systemStyle.Render("• " + text)
}

func formatError(text string) string {
	return errorStyle.Render("✗ " + text)
}

func formatThinking(elapsed time.Duration) string {
	return thinkingStyle.Render(fmt.Sprintf("⏳ Looking it up... %ds", int(elapsed.Seconds())))
}

// formatNavigation shows the page the answer points at
func formatNavigation(nav *types.Navigation) string {
	if nav == nil || nav.URL == "" {
		return ""
	}
	label := nav.Message
	if label == "" {
		label = "Open page"
	}
	return "  ↳ " + label + ": " + navStyle.Render(nav.URL)
}

func formatTimestamp(t time.Time) string {
	return timestampStyle.Render(t.Format("15:04"))
}

func renderHeader(server, locale string, tokens int, last time.Duration, width int) string {
	title := headerStyle.Render("CivicPulse")
	info := []string{server, "locale " + locale, fmt.Sprintf("%d tokens", tokens)}
	if last > 0 {
		info = append(info, fmt.Sprintf("last reply %.1fs", last.Seconds()))
	}
	line := title + " " + headerInfoStyle.Render(strings.Join(info, " · "))
	if width > 0 {
		line = lipgloss.NewStyle().MaxWidth(width).Render(line)
	}
	return line
}

func formatKeyboardShortcuts() string {
	return helpStyle.Render("Enter send · Ctrl+R retry · Ctrl+L new conversation · Esc cancel · Ctrl+C quit · /help")
}
