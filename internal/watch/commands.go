package watch

import "github.com/JakeFAU/wubwatch/internal/render"

// Command is one UI side effect requested by the Machine or the countdown.
// The set is closed; Session.apply handles every implementation.
type Command interface {
	// Name is a stable identifier used in logs and trace events.
	Name() string
}

// ShowWaiting marks the job as queued.
type ShowWaiting struct {
	Text string
}

// ShowProgress moves the progress bar and refreshes the status text.
type ShowProgress struct {
	// Fraction is the raw progress in [0,1]; the bar width is Fraction*100%.
	Fraction float64
	// Percent is Fraction rounded for display.
	Percent int
	Text    string
}

// RevealPreContent shows the "currently remixing" line.
type RevealPreContent struct {
	Title  string
	Artist string
}

// ShowFailure resets the bar and replaces the text with an explicit message.
type ShowFailure struct {
	Text string
	// Detail is the raw server text, logged for diagnosis.
	Detail string
}

// CloseChannel ends the session's use of the progress channel.
type CloseChannel struct{}

// ShowComplete marks the job as finished.
type ShowComplete struct {
	Text string
}

// InsertArtifact places the finished-remix presentation before a region.
type InsertArtifact struct {
	Before render.Region
	Markup string
}

// RunHooks invokes the post-completion hooks.
type RunHooks struct{}

// RevealRegion shows a region without changing its content.
type RevealRegion struct {
	Region render.Region
}

// DismissRegions hides and then removes transient regions.
type DismissRegions struct {
	Regions []render.Region
}

// StartCountdown begins the expiry countdown.
type StartCountdown struct{}

// SwapToArtifact hides the progress bar and reveals the player.
type SwapToArtifact struct{}

// BindDownload points the download link at the artifact.
type BindDownload struct {
	Path string
}

// SetTitle sets the document title.
type SetTitle struct {
	Title string
}

// ShowTimeRemaining updates the expiry note.
type ShowTimeRemaining struct {
	Minutes int
}

// Expire withdraws the download, share and link regions.
type Expire struct {
	Regions []render.Region
}

// Name implements Command.
func (ShowWaiting) Name() string { return "show_waiting" }

// Name implements Command.
func (ShowProgress) Name() string { return "show_progress" }

// Name implements Command.
func (RevealPreContent) Name() string { return "reveal_precontent" }

// Name implements Command.
func (ShowFailure) Name() string { return "show_failure" }

// Name implements Command.
func (CloseChannel) Name() string { return "close_channel" }

// Name implements Command.
func (ShowComplete) Name() string { return "show_complete" }

// Name implements Command.
func (InsertArtifact) Name() string { return "insert_artifact" }

// Name implements Command.
func (RunHooks) Name() string { return "run_hooks" }

// Name implements Command.
func (RevealRegion) Name() string { return "reveal_region" }

// Name implements Command.
func (DismissRegions) Name() string { return "dismiss_regions" }

// Name implements Command.
func (StartCountdown) Name() string { return "start_countdown" }

// Name implements Command.
func (SwapToArtifact) Name() string { return "swap_to_artifact" }

// Name implements Command.
func (BindDownload) Name() string { return "bind_download" }

// Name implements Command.
func (SetTitle) Name() string { return "set_title" }

// Name implements Command.
func (ShowTimeRemaining) Name() string { return "show_time_remaining" }

// Name implements Command.
func (Expire) Name() string { return "expire" }
