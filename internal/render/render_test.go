package render

import (
	"bytes"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/wubwatch/internal/status"
)

func parse(t *testing.T, markup string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	require.NoError(t, err)
	return doc
}

// TestArtifactMarkupWithTag covers the tag-aligned layout.
func TestArtifactMarkupWithTag(t *testing.T) {
	t.Parallel()

	tag := &status.Tag{
		Title:     "Foo",
		NewTitle:  "Foo (Wub Mix)",
		Artist:    "Bar",
		Album:     "Baz",
		Remixed:   "r/1",
		Art:       "art/1",
		Thumbnail: "thumb/1",
	}
	markup, err := ArtifactMarkup(tag, true)
	require.NoError(t, err)

	doc := parse(t, markup)
	require.Equal(t, 1, doc.Find("#player").Length())
	href, ok := doc.Find(".ui360 a").Attr("href")
	require.True(t, ok)
	require.Equal(t, "r/1", href)
	require.False(t, doc.Find(".ui360").HasClass("center"))

	src, _ := doc.Find("#art img").Attr("src")
	require.Equal(t, "thumb/1", src)
	alt, _ := doc.Find("#art img").Attr("alt")
	require.Equal(t, "Baz", alt)

	tagBlock := doc.Find("#tag")
	require.Equal(t, "Foo (Wub Mix)", tagBlock.Find("strong").Text())
	require.Contains(t, tagBlock.Text(), "by Bar")
	require.Equal(t, "Baz", tagBlock.Find("em").Text())
}

// TestArtifactMarkupWithoutTag falls back to the centered layout with no blocks.
func TestArtifactMarkupWithoutTag(t *testing.T) {
	t.Parallel()

	markup, err := ArtifactMarkup(&status.Tag{Remixed: "r/2"}, false)
	require.NoError(t, err)
	doc := parse(t, markup)
	require.True(t, doc.Find(".ui360").HasClass("center"))
	require.Zero(t, doc.Find("#art").Length())
	require.Zero(t, doc.Find("#tag").Length())
}

// TestArtifactMarkupNilTag degrades to a bare player instead of failing.
func TestArtifactMarkupNilTag(t *testing.T) {
	t.Parallel()

	markup, err := ArtifactMarkup(nil, true)
	require.NoError(t, err)
	doc := parse(t, markup)
	require.Equal(t, 1, doc.Find("#player").Length())
	require.Zero(t, doc.Find("a").Length())
	require.Zero(t, doc.Find("#tag").Length())
}

// TestArtifactMarkupEscapes keeps server-supplied metadata inert.
func TestArtifactMarkupEscapes(t *testing.T) {
	t.Parallel()

	markup, err := ArtifactMarkup(&status.Tag{Title: "<script>x</script>", Artist: "A&B"}, true)
	require.NoError(t, err)
	require.NotContains(t, markup, "<script>")
	require.Contains(t, MarkupText(markup), "<script>x</script>")
}

func TestPreContentMarkup(t *testing.T) {
	t.Parallel()

	markup, err := PreContentMarkup("Foo", "Bar")
	require.NoError(t, err)
	require.Equal(t, "Currently remixing <strong>Foo</strong> by Bar...", markup)

	markup, err = PreContentMarkup("Foo", "")
	require.NoError(t, err)
	require.Equal(t, "Currently remixing <strong>Foo</strong>", markup)
}

func TestTimeRemainingText(t *testing.T) {
	t.Parallel()
	require.Equal(t, "This remix will be deleted in 29 minutes.", TimeRemainingText(29))
}

// TestViewRevealAndRemoveAreIdempotent exercises the renderer contract.
func TestViewRevealAndRemoveAreIdempotent(t *testing.T) {
	t.Parallel()

	v := NewView()
	require.False(t, v.Visible(RegionPreContent))
	v.Reveal(RegionPreContent, "hello")
	v.Reveal(RegionPreContent, "")
	require.True(t, v.Visible(RegionPreContent))
	require.Equal(t, "hello", v.Markup(RegionPreContent))

	v.Remove(RegionPreContent)
	v.Remove(RegionPreContent)
	require.False(t, v.Exists(RegionPreContent))
	v.Reveal(RegionPreContent, "again")
	require.False(t, v.Visible(RegionPreContent))

	v.Hide(RegionProgress)
	v.Hide(RegionProgress)
	require.True(t, v.Exists(RegionProgress))
	require.False(t, v.Visible(RegionProgress))
}

// TestViewInsertBeforeKeepsOrder places inserted regions ahead of the anchor.
func TestViewInsertBeforeKeepsOrder(t *testing.T) {
	t.Parallel()

	v := NewView()
	v.InsertBefore(RegionProgress, RegionPlayer, "<div id=\"player\"></div>")
	v.SetHref(RegionDownload, "download/abc")
	v.SetTitle("Done!")
	v.SetProgress(100)
	v.SetText("done")

	snap := v.Snapshot()
	var names []Region
	for _, r := range snap.Regions {
		names = append(names, r.Name)
	}
	require.Less(t, indexOf(names, RegionPlayer), indexOf(names, RegionProgress))
	require.Equal(t, "download/abc", v.Href(RegionDownload))
	require.Equal(t, "Done!", snap.Title)
	require.Equal(t, 100.0, snap.Progress)
	require.Equal(t, "done", snap.Text)
	require.False(t, v.Visible(RegionPlayer))
	require.Equal(t, 1, v.Inserts())
}

func indexOf(names []Region, target Region) int {
	for i, n := range names {
		if n == target {
			return i
		}
	}
	return -1
}

// TestMultiFansOut checks every renderer sees every call.
func TestMultiFansOut(t *testing.T) {
	t.Parallel()

	a, b := NewView(), NewView()
	core, logs := observer.New(zapcore.DebugLevel)
	m := Multi{a, b, NewLogRenderer(zap.New(core))}

	m.SetTitle("Waiting...")
	m.Reveal(RegionPost, "")
	m.Hide(RegionShare)
	m.Remove(RegionCheckout)
	m.InsertBefore(RegionProgress, RegionPlayer, "x")
	m.SetHref(RegionDownload, "download/1")
	m.SetProgress(5)
	m.SetText("t")

	for _, v := range []*View{a, b} {
		require.Equal(t, "Waiting...", v.Snapshot().Title)
		require.True(t, v.Visible(RegionPost))
		require.False(t, v.Visible(RegionShare))
		require.False(t, v.Exists(RegionCheckout))
		require.Equal(t, "download/1", v.Href(RegionDownload))
	}
	require.Equal(t, 8, logs.Len())
}

// TestTerminalRendererOutput resolves links and suppresses duplicate lines.
func TestTerminalRendererOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base, err := url.Parse("http://wub.example/")
	require.NoError(t, err)
	term := NewTerminalRenderer(&buf, base)

	term.SetTitle("Waiting...")
	term.SetTitle("Waiting...")
	term.SetProgress(50)
	term.SetProgress(50.5)
	markup, err := ArtifactMarkup(&status.Tag{Title: "Foo", Artist: "Bar", Remixed: "songs/1.mp3"}, true)
	require.NoError(t, err)
	term.InsertBefore(RegionProgress, RegionPlayer, markup)
	term.SetHref(RegionDownload, "download/1")

	out := buf.String()
	require.Equal(t, 1, strings.Count(out, "Waiting..."))
	require.Equal(t, 1, strings.Count(out, "%"))
	require.Contains(t, out, "Foo by Bar")
	require.Contains(t, out, "http://wub.example/songs/1.mp3")
	require.Contains(t, out, "http://wub.example/download/1")
}

func TestMarkupLinks(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{"a", "b"}, MarkupLinks(`<a href="a"></a><p><a href="b">x</a><a>none</a></p>`))
}
