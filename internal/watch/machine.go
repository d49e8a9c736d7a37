package watch

import (
	"github.com/JakeFAU/wubwatch/internal/render"
	"github.com/JakeFAU/wubwatch/internal/status"
)

// DefaultFailureText is shown when the server reports an error without text.
const DefaultFailureText = "Sorry, something went wrong. Please try again later."

// DownloadPath is the artifact path for a job.
func DownloadPath(jobID string) string {
	return "download/" + jobID
}

// Machine is the pure job-progress state machine. It is not safe for
// concurrent use; a Session drives it from one goroutine.
type Machine struct {
	jobID string
	state State
	last  *status.Message
	// tagDisplayed is set once the pre-content milestone is revealed.
	tagDisplayed bool
	// completed is set once the completion branch has run.
	completed bool
}

// NewMachine returns a machine in the Waiting state.
func NewMachine(jobID string) *Machine {
	return &Machine{jobID: jobID, state: Waiting}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Completed reports whether the completion branch has run.
func (m *Machine) Completed() bool {
	return m.completed
}

// TagDisplayed reports whether the pre-content milestone was revealed.
func (m *Machine) TagDisplayed() bool {
	return m.tagDisplayed
}

// Last returns the most recent message that caused a transition.
func (m *Machine) Last() (status.Message, bool) {
	if m.last == nil {
		return status.Message{}, false
	}
	return *m.last, true
}

// Apply consumes one message and returns the commands it produces. Messages
// arriving in a terminal state, or carrying an unknown status, produce none.
func (m *Machine) Apply(msg status.Message) []Command {
	if m.state.Terminal() {
		return nil
	}
	switch msg.Status {
	case status.Error:
		return m.fail(msg)
	case status.Waiting:
		m.record(msg, Waiting)
		return []Command{ShowWaiting{Text: msg.Text}}
	case status.Progressing:
		if msg.Complete() {
			return m.complete(msg)
		}
		m.record(msg, Progressing)
		cmds := []Command{ShowProgress{Fraction: msg.Progress, Percent: msg.Percent(), Text: msg.Text}}
		if !m.tagDisplayed && msg.Tag.HasTitle() {
			m.tagDisplayed = true
			cmds = append(cmds, RevealPreContent{Title: msg.Tag.Title, Artist: msg.Tag.Artist})
		}
		return cmds
	default:
		return nil
	}
}

func (m *Machine) record(msg status.Message, next State) {
	m.last = &msg
	m.state = next
}

func (m *Machine) fail(msg status.Message) []Command {
	m.record(msg, Failed)
	text := msg.Text
	if text == "" {
		text = DefaultFailureText
	}
	return []Command{
		ShowFailure{Text: text, Detail: msg.Text},
		CloseChannel{},
	}
}

func (m *Machine) complete(msg status.Message) []Command {
	m.record(msg, Done)
	m.completed = true
	showTag := msg.Tag.HasTitle()

	markup, err := render.ArtifactMarkup(msg.Tag, showTag)
	if err != nil {
		// Degrade to a bare player rather than skip the milestone.
		markup, _ = render.ArtifactMarkup(nil, false)
	}

	cmds := []Command{
		ShowComplete{Text: msg.Text},
		InsertArtifact{Before: render.RegionProgress, Markup: markup},
		RunHooks{},
		RevealRegion{Region: render.RegionPost},
		DismissRegions{Regions: []render.Region{render.RegionError, render.RegionCheckout, render.RegionPreContent}},
		StartCountdown{},
		SwapToArtifact{},
		BindDownload{Path: DownloadPath(m.jobID)},
	}
	if showTag {
		cmds = append(cmds, SetTitle{Title: msg.Tag.DisplayTitle()})
	}
	return append(cmds, CloseChannel{})
}
