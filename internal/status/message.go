// Package status defines the status messages pushed by the remix server over
// a job's progress channel and decodes them from their JSON wire form.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrMalformed marks a payload that cannot be interpreted as a status message.
var ErrMalformed = errors.New("malformed status message")

// Code is the coarse job status carried by every message.
type Code int

// Supported status codes.
const (
	Error       Code = -1
	Waiting     Code = 0
	Progressing Code = 1
)

func (c Code) String() string {
	switch c {
	case Error:
		return "error"
	case Waiting:
		return "waiting"
	case Progressing:
		return "progressing"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Tag carries result metadata. The server fills it in gradually; every field
// may be empty until progress reaches 1.
type Tag struct {
	Title     string `json:"title,omitempty"`
	Artist    string `json:"artist,omitempty"`
	Album     string `json:"album,omitempty"`
	Art       string `json:"art,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Remixed   string `json:"remixed,omitempty"`
	NewTitle  string `json:"new_title,omitempty"`
}

// HasTitle reports whether the tag names the track being remixed.
func (t *Tag) HasTitle() bool {
	return t != nil && strings.TrimSpace(t.Title) != ""
}

// HasArt reports whether an artwork reference is present.
func (t *Tag) HasArt() bool {
	return t != nil && t.Art != ""
}

// DisplayTitle is the title to show once the remix is finished.
func (t *Tag) DisplayTitle() string {
	if t == nil {
		return ""
	}
	if t.NewTitle != "" {
		return t.NewTitle
	}
	return t.Title
}

// Message is one status update for a job.
type Message struct {
	Status   Code    `json:"status"`
	Text     string  `json:"text"`
	Progress float64 `json:"progress"`
	Tag      *Tag    `json:"tag,omitempty"`
	// UID and Time are informational; clients derive paths from their own job id.
	UID  string  `json:"uid,omitempty"`
	Time float64 `json:"time,omitempty"`
}

// Complete reports whether the message announces a finished remix.
func (m Message) Complete() bool {
	return m.Status == Progressing && m.Progress >= 1
}

// Percent is the progress rounded to a whole percentage.
func (m Message) Percent() int {
	return int(math.Round(m.Progress * 100))
}

// Decode parses a raw channel payload. Payloads that are not JSON objects, or
// that carry an unknown status code, are reported as ErrMalformed.
func Decode(payload []byte) (Message, error) {
	var raw struct {
		Status   *Code    `json:"status"`
		Text     string   `json:"text"`
		Progress *float64 `json:"progress"`
		Tag      *Tag     `json:"tag"`
		UID      string   `json:"uid"`
		Time     float64  `json:"time"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if raw.Status == nil {
		return Message{}, fmt.Errorf("%w: missing status", ErrMalformed)
	}
	msg := Message{
		Status: *raw.Status,
		Text:   raw.Text,
		Tag:    raw.Tag,
		UID:    raw.UID,
		Time:   raw.Time,
	}
	switch msg.Status {
	case Error, Waiting, Progressing:
	default:
		return Message{}, fmt.Errorf("%w: unknown status %d", ErrMalformed, int(msg.Status))
	}
	if raw.Progress != nil {
		msg.Progress = clamp(*raw.Progress)
	}
	return msg, nil
}

func clamp(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
