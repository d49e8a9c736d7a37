package render

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/JakeFAU/wubwatch/internal/status"
)

var artifactTmpl = template.Must(template.New("artifact").Parse(
	`<div id="player">` +
		`<div class="ui360 ui360-vis{{if not .ShowTag}} center{{end}}">` +
		`{{with .Tag.Remixed}}<a href="{{.}}"></a>{{end}}</div>` +
		`{{if .ShowArt}}<div id="art"><img src="{{.ArtSrc}}" alt="{{.Tag.Album}}" title="wubwubwub!" /></div>{{end}}` +
		`{{if .ShowTag}}<div id="tag" class="trackviewer"><strong>{{.Title}}</strong>` +
		`{{with .Tag.Artist}}<br />by {{.}}{{end}}` +
		`{{with .Tag.Album}}<br />from <em>{{.}}</em>{{end}}</div>{{end}}` +
		`</div>`,
))

var preContentTmpl = template.Must(template.New("precontent").Parse(
	`Currently remixing <strong>{{.Title}}</strong>{{with .Artist}} by {{.}}...{{end}}`,
))

type artifactData struct {
	Tag     status.Tag
	Title   string
	ShowTag bool
	ShowArt bool
	ArtSrc  string
}

// ArtifactMarkup builds the finished-remix presentation. The layout is
// centered when no tag is shown; the art block needs an art reference and the
// tag block needs showTag. A nil tag yields a bare, centered player.
func ArtifactMarkup(tag *status.Tag, showTag bool) (string, error) {
	data := artifactData{ShowTag: showTag && tag.HasTitle()}
	if tag != nil {
		data.Tag = *tag
		data.Title = tag.DisplayTitle()
		data.ShowArt = tag.HasArt()
		data.ArtSrc = tag.Thumbnail
		if data.ArtSrc == "" {
			data.ArtSrc = tag.Art
		}
	}
	var buf bytes.Buffer
	if err := artifactTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render artifact markup: %w", err)
	}
	return buf.String(), nil
}

// PreContentMarkup builds the "currently remixing" line shown while a tagged
// track is being processed.
func PreContentMarkup(title, artist string) (string, error) {
	var buf bytes.Buffer
	err := preContentTmpl.Execute(&buf, struct{ Title, Artist string }{title, artist})
	if err != nil {
		return "", fmt.Errorf("render precontent markup: %w", err)
	}
	return buf.String(), nil
}

// TimeRemainingText is the countdown note shown under the share link.
func TimeRemainingText(minutes int) string {
	return fmt.Sprintf("This remix will be deleted in %d minutes.", minutes)
}
