package render

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/lipgloss"
)

const barWidth = 30

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87"))
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD7FF"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
	linkStyle  = lipgloss.NewStyle().Underline(true).Foreground(lipgloss.Color("#87FF87"))
)

// TerminalRenderer prints milestones as styled lines. Markup is reduced to its
// text; links are resolved against base so they can be opened directly.
type TerminalRenderer struct {
	mu        sync.Mutex
	out       io.Writer
	base      *url.URL
	lastTitle string
	lastBar   int
}

// NewTerminalRenderer writes to out. base may be nil.
func NewTerminalRenderer(out io.Writer, base *url.URL) *TerminalRenderer {
	return &TerminalRenderer{out: out, base: base, lastBar: -1}
}

// SetProgress implements Renderer. Only changes of a whole bar cell print.
func (t *TerminalRenderer) SetProgress(percent float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	filled := int(percent / 100 * barWidth)
	filled = max(0, min(barWidth, filled))
	if filled == t.lastBar {
		return
	}
	t.lastBar = filled
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	t.printf("%s %3.0f%%\n", barStyle.Render(bar), percent)
}

// SetText implements Renderer.
func (t *TerminalRenderer) SetText(text string) {
	if text == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.printf("  %s\n", text)
}

// SetTitle implements Renderer.
func (t *TerminalRenderer) SetTitle(title string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if title == t.lastTitle {
		return
	}
	t.lastTitle = title
	t.printf("%s\n", titleStyle.Render(title))
}

// Reveal implements Renderer.
func (t *TerminalRenderer) Reveal(region Region, markup string) {
	if markup == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.printf("%s\n", MarkupText(markup))
}

// Hide implements Renderer.
func (t *TerminalRenderer) Hide(region Region) {
	switch region {
	case RegionDownload, RegionShare, RegionLink:
		t.mu.Lock()
		defer t.mu.Unlock()
		t.printf("%s\n", dimStyle.Render(string(region)+" no longer available"))
	}
}

// Remove implements Renderer.
func (t *TerminalRenderer) Remove(Region) {}

// InsertBefore implements Renderer.
func (t *TerminalRenderer) InsertBefore(_ Region, _ Region, markup string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if text := MarkupText(markup); text != "" {
		t.printf("%s\n", text)
	}
	for _, href := range MarkupLinks(markup) {
		t.printf("listen: %s\n", linkStyle.Render(t.resolve(href)))
	}
}

// SetHref implements Renderer.
func (t *TerminalRenderer) SetHref(region Region, href string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.printf("%s: %s\n", region, linkStyle.Render(t.resolve(href)))
}

func (t *TerminalRenderer) resolve(href string) string {
	if t.base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return t.base.ResolveReference(ref).String()
}

func (t *TerminalRenderer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(t.out, format, args...)
}

// MarkupText flattens markup into whitespace-normalized text.
func MarkupText(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	doc.Find("br").ReplaceWithHtml(" ")
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// MarkupLinks returns every href in markup, in document order.
func MarkupLinks(markup string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil
	}
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			links = append(links, href)
		}
	})
	return links
}
