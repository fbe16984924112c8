package data

import (
	"encoding/json"
	"errors"
	"io"
	"time"
)

// Stage identifies the orchestrator's current activity. A run moves through
// stages in order and ends in exactly one of the terminal stages.
type Stage string

const (
	StageNotStarted  Stage = "NotStarted"
	StageChecking    Stage = "CheckingForUpdate"
	StageExtracting  Stage = "ExtractingUpdate"
	StageDownloading Stage = "DownloadingUpdate"
	StageInstalling  Stage = "InstallingUpdate"
	StageLaunching   Stage = "LaunchingGame"
	StageFinished    Stage = "Finished"
	StageCancelled   Stage = "Cancelled"
	StageFailed      Stage = "Failed"
)

// Terminal reports whether s is an absorbing stage. Once a run reaches a
// terminal stage it never transitions again.
func (s Stage) Terminal() bool {
	return s == StageFinished || s == StageCancelled || s == StageFailed
}

// Prompt identifies a question the orchestrator needs answered by an
// external responder before it can proceed. PromptNone means no question
// is outstanding.
type Prompt string

const (
	PromptNone                Prompt = "None"
	PromptDownloadNewVersion  Prompt = "DownloadNewVersion"
	PromptLaunchOldVersion    Prompt = "LaunchOldVersion"
	PromptUsername            Prompt = "Username"
	PromptPassword            Prompt = "Password"
	PromptUsernameAndPassword Prompt = "UsernameAndPassword"
	PromptCustomMessage       Prompt = "CustomMessage"
)

var (
	ErrNotFound     = errors.New("run not found")
	ErrConflict     = errors.New("run already recorded")
	ErrCancelled    = errors.New("update cancelled")
	ErrAuthRequired = errors.New("authentication required")
	ErrNoSource     = errors.New("no source available")
)

// ServerMessageError carries an informational message supplied by the
// download server. The message must be shown to the user before any retry.
type ServerMessageError struct {
	Message string
}

func (e *ServerMessageError) Error() string {
	return "server message: " + e.Message
}

// Run records one update run from start to its terminal stage.
type Run struct {
	ID        string    `json:"id"`
	GameTitle string    `json:"gameTitle"`
	Version   string    `json:"version,omitempty"`
	Stage     Stage     `json:"stage"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitzero"`
}

type Runs []*Run

func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func (r Runs) Clone() Runs {
	out := make(Runs, len(r))
	for i, run := range r {
		out[i] = run.Clone()
	}
	return out
}

func (r *Runs) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(r) }

func (r *Run) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(r) }

func (r *Run) FromJSON(rd io.Reader) error { return json.NewDecoder(rd).Decode(r) }
