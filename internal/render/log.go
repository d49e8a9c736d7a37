package render

import "go.uber.org/zap"

// LogRenderer records every UI command as a debug log line.
type LogRenderer struct {
	logger *zap.Logger
}

// NewLogRenderer wraps logger; a nil logger discards everything.
func NewLogRenderer(logger *zap.Logger) *LogRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogRenderer{logger: logger}
}

// SetProgress implements Renderer.
func (l *LogRenderer) SetProgress(percent float64) {
	l.logger.Debug("render progress", zap.Float64("percent", percent))
}

// SetText implements Renderer.
func (l *LogRenderer) SetText(text string) {
	l.logger.Debug("render text", zap.String("text", text))
}

// SetTitle implements Renderer.
func (l *LogRenderer) SetTitle(title string) {
	l.logger.Debug("render title", zap.String("title", title))
}

// Reveal implements Renderer.
func (l *LogRenderer) Reveal(region Region, markup string) {
	l.logger.Debug("render reveal", zap.String("region", string(region)), zap.Int("markup_bytes", len(markup)))
}

// Hide implements Renderer.
func (l *LogRenderer) Hide(region Region) {
	l.logger.Debug("render hide", zap.String("region", string(region)))
}

// Remove implements Renderer.
func (l *LogRenderer) Remove(region Region) {
	l.logger.Debug("render remove", zap.String("region", string(region)))
}

// InsertBefore implements Renderer.
func (l *LogRenderer) InsertBefore(anchor Region, region Region, markup string) {
	l.logger.Debug("render insert",
		zap.String("anchor", string(anchor)),
		zap.String("region", string(region)),
		zap.String("markup", markup),
	)
}

// SetHref implements Renderer.
func (l *LogRenderer) SetHref(region Region, href string) {
	l.logger.Debug("render href", zap.String("region", string(region)), zap.String("href", href))
}
