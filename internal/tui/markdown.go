package tui

import (
	"regexp"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// markdownIndicators match the formatting models typically use in answers
var markdownIndicators = regexp.MustCompile("(?m)(^```|^#{1,6}\\s|^[*-]\\s|\\*\\*|__|`[^`]+`|^>\\s|^\\d+\\.\\s|\\|.*\\|)")

var (
	renderersMu sync.Mutex
	renderers   = map[int]*glamour.TermRenderer{}
)

func containsMarkdown(text string) bool {
	return markdownIndicators.MatchString(text)
}

// renderer returns a cached glamour renderer for the wrap width
func renderer(width int) (*glamour.TermRenderer, error) {
	renderersMu.Lock()
	defer renderersMu.Unlock()

	if r, ok := renderers[width]; ok {
		return r, nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}
	renderers[width] = r
	return r, nil
}

func renderMarkdown(content string, width int) string {
	if width < 40 {
		width = 80
	}
	r, err := renderer(width)
	if err != nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(out, "\n")
}

func renderIfMarkdown(content string, width int) string {
	if containsMarkdown(content) {
		return renderMarkdown(content, width)
	}
	return wrapText(content, width)
}
