package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/wubwatch/internal/channel"
	"github.com/JakeFAU/wubwatch/internal/metrics"
)

// ErrNoID marks a fragment without an element id.
var ErrNoID = errors.New("fragment has no element id")

// Feed actions.
const (
	ActionReplace = "replace"
	ActionPrepend = "prepend"
)

// DefaultFeedLimit caps the latest list when no limit is configured.
const DefaultFeedLimit = 100

// Fragment is one track entry of the latest list.
type Fragment struct {
	ID     string `json:"id"`
	Markup string `json:"markup"`
}

// Feed keeps the latest list, newest first.
type Feed struct {
	mu      sync.RWMutex
	limit   int
	entries []Fragment
	logger  *zap.Logger
}

// NewFeed builds an empty feed holding at most limit entries.
func NewFeed(limit int, logger *zap.Logger) *Feed {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{limit: limit, logger: logger}
}

// FragmentID returns the id attribute of the fragment's top-level element.
func FragmentID(markup string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parse fragment: %w", err)
	}
	sel := doc.Find("body").Children().First()
	if sel.Length() == 0 {
		sel = doc.Find("[id]").First()
	}
	id, ok := sel.Attr("id")
	id = strings.TrimSpace(id)
	if !ok || id == "" {
		return "", ErrNoID
	}
	return id, nil
}

// Apply replaces the entry sharing the fragment's id, or prepends it.
func (f *Feed) Apply(markup string) (string, error) {
	id, err := FragmentID(markup)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.entries {
		if f.entries[i].ID == id {
			f.entries[i].Markup = markup
			return ActionReplace, nil
		}
	}
	f.entries = append([]Fragment{{ID: id, Markup: markup}}, f.entries...)
	if len(f.entries) > f.limit {
		f.entries = f.entries[:f.limit]
	}
	return ActionPrepend, nil
}

// Entries copies the latest list.
func (f *Feed) Entries() []Fragment {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Fragment, len(f.entries))
	copy(out, f.entries)
	return out
}

// Source is a push stream of monitor fragments.
type Source interface {
	Events() <-chan channel.Event
}

// Consume applies every message from src until it closes or ctx ends.
// Fragments without an id are logged and skipped.
func (f *Feed) Consume(ctx context.Context, src Source) error {
	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("monitor feed: %w", ctx.Err())
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			switch evt.Kind {
			case channel.Message:
				action, err := f.Apply(string(evt.Payload))
				if err != nil {
					f.logger.Warn("skipping monitor fragment", zap.Error(err))
					continue
				}
				metrics.ObserveFeedUpdate(action)
			case channel.Opened:
				f.logger.Info("monitor channel opened", zap.Int("attempt", evt.Attempt))
			case channel.Closed:
				f.logger.Warn("monitor channel closed", zap.Int("attempt", evt.Attempt), zap.Error(evt.Err))
			}
		}
	}
}
