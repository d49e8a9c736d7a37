package render

import (
	"slices"
	"sync"
)

// View is an in-memory model of the watch page. It satisfies Renderer and is
// safe to read from other goroutines while a session writes to it.
type View struct {
	mu       sync.RWMutex
	progress float64
	text     string
	title    string
	order    []Region
	regions  map[Region]*regionState
	inserts  int
}

type regionState struct {
	visible bool
	markup  string
	href    string
}

// RegionSnapshot is the exported state of one region.
type RegionSnapshot struct {
	Name    Region `json:"name"`
	Visible bool   `json:"visible"`
	Markup  string `json:"markup,omitempty"`
	Href    string `json:"href,omitempty"`
}

// Snapshot is a point-in-time copy of a View.
type Snapshot struct {
	Progress float64          `json:"progress"`
	Text     string           `json:"text"`
	Title    string           `json:"title"`
	Regions  []RegionSnapshot `json:"regions"`
}

// NewView returns the page as it looks right after an upload succeeds: the
// progress bar and share link showing, everything else hidden.
func NewView() *View {
	v := &View{regions: make(map[Region]*regionState)}
	for _, r := range []struct {
		name    Region
		visible bool
	}{
		{RegionPreContent, false},
		{RegionProgress, true},
		{RegionPost, false},
		{RegionDownload, true},
		{RegionShare, true},
		{RegionLink, true},
		{RegionLinkNote, true},
		{RegionError, false},
		{RegionCheckout, false},
	} {
		v.order = append(v.order, r.name)
		v.regions[r.name] = &regionState{visible: r.visible}
	}
	return v
}

// SetProgress implements Renderer.
func (v *View) SetProgress(percent float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.progress = percent
}

// SetText implements Renderer.
func (v *View) SetText(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.text = text
}

// SetTitle implements Renderer.
func (v *View) SetTitle(title string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.title = title
}

// Reveal implements Renderer. Revealing a removed region does nothing.
func (v *View) Reveal(region Region, markup string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.regions[region]
	if !ok {
		return
	}
	st.visible = true
	if markup != "" {
		st.markup = markup
	}
}

// Hide implements Renderer.
func (v *View) Hide(region Region) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if st, ok := v.regions[region]; ok {
		st.visible = false
	}
}

// Remove implements Renderer.
func (v *View) Remove(region Region) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.regions[region]; !ok {
		return
	}
	delete(v.regions, region)
	v.order = slices.DeleteFunc(v.order, func(r Region) bool { return r == region })
}

// InsertBefore implements Renderer. Inserted regions start hidden; an existing
// region with the same name is replaced in place.
func (v *View) InsertBefore(anchor Region, region Region, markup string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inserts++
	if st, ok := v.regions[region]; ok {
		st.markup = markup
		return
	}
	v.regions[region] = &regionState{markup: markup}
	idx := slices.Index(v.order, anchor)
	if idx < 0 {
		v.order = append(v.order, region)
		return
	}
	v.order = slices.Insert(v.order, idx, region)
}

// SetHref implements Renderer.
func (v *View) SetHref(region Region, href string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if st, ok := v.regions[region]; ok {
		st.href = href
	}
}

// Visible reports whether a region exists and is shown.
func (v *View) Visible(region Region) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	st, ok := v.regions[region]
	return ok && st.visible
}

// Exists reports whether a region is still on the page.
func (v *View) Exists(region Region) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.regions[region]
	return ok
}

// Markup returns the content of a region.
func (v *View) Markup(region Region) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if st, ok := v.regions[region]; ok {
		return st.markup
	}
	return ""
}

// Href returns the link target bound to a region.
func (v *View) Href(region Region) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if st, ok := v.regions[region]; ok {
		return st.href
	}
	return ""
}

// Inserts counts InsertBefore calls.
func (v *View) Inserts() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.inserts
}

// Snapshot copies the current state.
func (v *View) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	snap := Snapshot{
		Progress: v.progress,
		Text:     v.text,
		Title:    v.title,
		Regions:  make([]RegionSnapshot, 0, len(v.order)),
	}
	for _, name := range v.order {
		st := v.regions[name]
		snap.Regions = append(snap.Regions, RegionSnapshot{
			Name:    name,
			Visible: st.visible,
			Markup:  st.markup,
			Href:    st.href,
		})
	}
	return snap
}
