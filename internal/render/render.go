// Package render defines the milestone renderer contract the watch session
// drives, the markup for a finished remix, and a few renderers: an in-memory
// View, a zap LogRenderer, a lipgloss TerminalRenderer, and a Multi fan-out.
//
// Every Renderer method is synchronous. Reveal, Hide and Remove are
// idempotent: repeating them leaves the same result.
package render

// Region names a part of the page the session can show, hide, or remove.
type Region string

// Regions touched by the watch session and the countdown.
const (
	RegionProgress   Region = "progress"
	RegionPreContent Region = "precontent"
	RegionPlayer     Region = "player"
	RegionPost       Region = "post"
	RegionError      Region = "error"
	RegionCheckout   Region = "checkout"
	RegionDownload   Region = "download"
	RegionShare      Region = "share"
	RegionLink       Region = "link"
	RegionLinkNote   Region = "link-note"
)

// Renderer applies UI commands.
type Renderer interface {
	// SetProgress sets the progress bar width in percent.
	SetProgress(percent float64)
	// SetText replaces the progress text.
	SetText(text string)
	// SetTitle sets the window title.
	SetTitle(title string)
	// Reveal shows a region, replacing its content when markup is non-empty.
	Reveal(region Region, markup string)
	// Hide makes a region invisible but keeps it.
	Hide(region Region)
	// Remove deletes a region.
	Remove(region Region)
	// InsertBefore inserts markup as a new region placed before anchor.
	InsertBefore(anchor Region, region Region, markup string)
	// SetHref points the link inside a region at href.
	SetHref(region Region, href string)
}

// Multi fans every call out to each renderer in order.
type Multi []Renderer

// SetProgress implements Renderer.
func (m Multi) SetProgress(percent float64) {
	for _, r := range m {
		r.SetProgress(percent)
	}
}

// SetText implements Renderer.
func (m Multi) SetText(text string) {
	for _, r := range m {
		r.SetText(text)
	}
}

// SetTitle implements Renderer.
func (m Multi) SetTitle(title string) {
	for _, r := range m {
		r.SetTitle(title)
	}
}

// Reveal implements Renderer.
func (m Multi) Reveal(region Region, markup string) {
	for _, r := range m {
		r.Reveal(region, markup)
	}
}

// Hide implements Renderer.
func (m Multi) Hide(region Region) {
	for _, r := range m {
		r.Hide(region)
	}
}

// Remove implements Renderer.
func (m Multi) Remove(region Region) {
	for _, r := range m {
		r.Remove(region)
	}
}

// InsertBefore implements Renderer.
func (m Multi) InsertBefore(anchor Region, region Region, markup string) {
	for _, r := range m {
		r.InsertBefore(anchor, region, markup)
	}
}

// SetHref implements Renderer.
func (m Multi) SetHref(region Region, href string) {
	for _, r := range m {
		r.SetHref(region, href)
	}
}
