package updater

import "github.com/tinwren/launchpit/internal/data"

// Event is a notification about one update run. Events fire after the
// corresponding state mutation is already visible through the getters,
// and stop entirely once a terminal stage has been reported.
type Event struct {
	RunID string     `json:"runId"`
	Game  string     `json:"game"`
	Type  EventType  `json:"type"`
	Stage data.Stage `json:"stage"`
	// Progress is scoped to the current stage, in [0,1].
	Progress float64     `json:"progress"`
	Prompt   data.Prompt `json:"prompt,omitempty"`
	// Version is the resolved version once one is known.
	Version string `json:"version,omitempty"`
}

// EventType defines the notifications an Updater emits.
type EventType string

const (
	EventStage    EventType = "Stage"
	EventProgress EventType = "Progress"
	EventPrompt   EventType = "Prompt"
)
