package trial

import (
	"slices"
	"strings"
	"time"

	"github.com/cgast/exemplar/pkg/examples"
	"github.com/cgast/exemplar/pkg/guess"
)

// Kind selects what the participant does in a trial.
type Kind string

const (
	// KindElicitation asks the participant to produce examples that
	// convey the target pattern.
	KindElicitation Kind = "elicitation"
	// KindGuessing shows examples and asks for the pattern.
	KindGuessing Kind = "guessing"
)

// Spec describes one trial. It is read from study content.
type Spec struct {
	ID            string   `json:"id,omitempty" yaml:"id,omitempty"`
	Description   string   `json:"description" yaml:"description"`
	Pattern       string   `json:"pattern" yaml:"pattern"`
	Kind          Kind     `json:"kind" yaml:"kind"`
	Prompt        string   `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	ShownExamples []string `json:"shown_examples,omitempty" yaml:"shown_examples,omitempty"`
}

// State is the controller lifecycle position.
type State string

const (
	StateSetup    State = "setup"
	StateActive   State = "active"
	StateComplete State = "complete"
)

// Status is the result of one action. Every status but StatusOK means the
// action changed nothing.
type Status string

const (
	StatusOK                 Status = "ok"
	StatusRejectedEmpty      Status = "rejected_empty"
	StatusRejectedDuplicate  Status = "rejected_duplicate"
	StatusRejectedOutOfRange Status = "rejected_out_of_range"
	StatusRejectedPremature  Status = "rejected_premature"
	StatusRejectedClosed     Status = "rejected_closed"
	StatusRejectedWrongKind  Status = "rejected_wrong_kind"
	StatusRejectedUnknown    Status = "rejected_unknown_action"
)

// Rejected reports whether the action was refused.
func (s Status) Rejected() bool {
	return strings.HasPrefix(string(s), "rejected_")
}

// ActionType names a participant action.
type ActionType string

const (
	ActionAddExample    ActionType = "add_example"
	ActionRemoveExample ActionType = "remove_example"
	ActionSubmitGuess   ActionType = "submit_guess"
	ActionAdvance       ActionType = "advance"
)

// Action is a participant action as delivered by a transport. Text is
// used by add and guess, Index by remove.
type Action struct {
	Type  ActionType `json:"type"`
	Text  string     `json:"text,omitempty"`
	Index int        `json:"index,omitempty"`
}

// Session identifies the participant run a trial belongs to.
type Session struct {
	ID            string `json:"session_id"`
	ParticipantID string `json:"participant_id,omitempty"`
	StudyID       string `json:"study_id,omitempty"`
}

// Progress locates a trial within its study. Index is zero-based.
type Progress struct {
	Index int `json:"index"`
	Total int `json:"total"`
}

// View is the state delta a UI needs after each action.
type View struct {
	TrialID       string             `json:"trial_id"`
	Kind          Kind               `json:"kind"`
	Description   string             `json:"description"`
	Prompt        string             `json:"prompt,omitempty"`
	ShownExamples []string           `json:"shown_examples,omitempty"`
	State         State              `json:"state"`
	Examples      []examples.Example `json:"examples,omitempty"`
	Guess         *GuessResult       `json:"guess,omitempty"`
	CanAdvance    bool               `json:"can_advance"`
	Progress      Progress           `json:"progress"`
}

// Outcome is returned for every action.
type Outcome struct {
	Status Status `json:"status"`
	View   View   `json:"view"`
	// Record is set only on the action that completed the trial.
	Record *Record `json:"record,omitempty"`
}

// RecordedExample is an example as stored in a Record.
type RecordedExample struct {
	Text  string `json:"text"`
	Valid bool   `json:"valid"`
}

// GuessResult is the stored form of a submitted guess.
type GuessResult struct {
	Text    string         `json:"text"`
	Verdict guess.Verdict  `json:"verdict"`
	Witness *guess.Witness `json:"witness,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

// Record is the immutable result of one completed trial. Exactly one of
// Examples and Guess is set, according to Kind.
type Record struct {
	SessionID     string            `json:"session_id"`
	ParticipantID string            `json:"participant_id,omitempty"`
	StudyID       string            `json:"study_id,omitempty"`
	TrialID       string            `json:"trial_id"`
	Index         int               `json:"index"`
	Description   string            `json:"description"`
	Pattern       string            `json:"pattern"`
	Kind          Kind              `json:"kind"`
	Examples      []RecordedExample `json:"examples,omitempty"`
	Guess         *GuessResult      `json:"guess,omitempty"`
	ElapsedMs     int64             `json:"elapsed_ms"`
	StartedAt     time.Time         `json:"started_at"`
	CompletedAt   time.Time         `json:"completed_at"`
}

// Clone returns a copy of r that shares no slices or pointers with it.
func (r Record) Clone() Record {
	r.Examples = slices.Clone(r.Examples)
	if r.Guess != nil {
		g := *r.Guess
		if g.Witness != nil {
			w := *g.Witness
			g.Witness = &w
		}
		r.Guess = &g
	}
	return r
}

// Emitter takes completed records. Enqueue must not block on delivery.
type Emitter interface {
	Enqueue(rec Record)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(rec Record)

func (f EmitterFunc) Enqueue(rec Record) { f(rec) }
