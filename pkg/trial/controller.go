// Package trial runs one trial of a study: it validates the trial's
// target, forwards participant actions to the example set or the guess
// comparator, gates advancement, and emits a single Record on completion.
package trial

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/cgast/exemplar/pkg/events"
	"github.com/cgast/exemplar/pkg/examples"
	"github.com/cgast/exemplar/pkg/grammar"
	"github.com/cgast/exemplar/pkg/guess"
	"github.com/cgast/exemplar/pkg/pattern"
)

// ErrContentConfiguration marks a trial whose content cannot be run. It
// is fatal at setup and never reaches a participant.
var ErrContentConfiguration = errors.New("invalid trial content")

// Controller is the state machine for one trial. Its methods may be called
// from several goroutines; actions are applied one at a time.
type Controller struct {
	mu sync.Mutex

	spec     Spec
	id       string
	session  Session
	progress Progress
	state    State

	target *pattern.Pattern
	set    *examples.Set
	guess  *GuessResult

	startedAt time.Time
	record    *Record

	comparator  *guess.Comparator
	patternOpts []pattern.Option
	emitter     Emitter
	bus         events.EventBus
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithSession sets the session metadata copied into the record.
func WithSession(s Session) Option {
	return func(c *Controller) { c.session = s }
}

// WithProgress sets the trial's position in its study.
func WithProgress(index, total int) Option {
	return func(c *Controller) { c.progress = Progress{Index: index, Total: total} }
}

// WithEmitter sets where the completed record goes.
func WithEmitter(e Emitter) Option {
	return func(c *Controller) { c.emitter = e }
}

// WithEventBus publishes trial events to bus.
func WithEventBus(bus events.EventBus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithComparator sets the guess comparator.
func WithComparator(cmp *guess.Comparator) Option {
	return func(c *Controller) { c.comparator = cmp }
}

// WithPatternOptions sets the options used to compile the target.
func WithPatternOptions(opts ...pattern.Option) Option {
	return func(c *Controller) { c.patternOpts = opts }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// NewController validates spec and returns an active controller. Content
// problems are reported as errors matching ErrContentConfiguration.
func NewController(spec Spec, opts ...Option) (*Controller, error) {
	c := &Controller{
		spec:   spec,
		state:  StateSetup,
		now:    time.Now,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.comparator == nil {
		c.comparator = guess.NewComparator(guess.WithLogger(c.logger))
	}

	c.id = spec.ID
	if c.id == "" {
		c.id = uuid.NewString()
	}

	target, err := setup(spec, c.patternOpts...)
	if err != nil {
		return nil, err
	}
	c.target = target
	if spec.Kind == KindElicitation {
		c.set = examples.NewSet(target)
	}

	c.state = StateActive
	c.startedAt = c.now()
	c.logger.Debug("trial active",
		slog.String("trial_id", c.id),
		slog.String("kind", string(spec.Kind)),
		slog.String("pattern", spec.Pattern),
	)
	c.publish(events.EventTrialSetup, spec)

	return c, nil
}

// ValidateSpec checks that spec can be run without building a controller.
func ValidateSpec(spec Spec) error {
	_, err := setup(spec)
	return err
}

func setup(spec Spec, opts ...pattern.Option) (*pattern.Pattern, error) {
	switch spec.Kind {
	case KindElicitation, KindGuessing:
	default:
		return nil, goerr.Wrap(ErrContentConfiguration, "unknown trial kind",
			goerr.V("kind", spec.Kind),
			goerr.V("description", spec.Description),
		)
	}

	target, err := pattern.Compile(spec.Pattern, opts...)
	if err != nil {
		return nil, goerr.Wrap(ErrContentConfiguration, "target pattern does not compile",
			goerr.V("pattern", spec.Pattern),
			goerr.V("cause", err.Error()),
		)
	}

	if spec.Kind == KindElicitation {
		if res := grammar.Validate(spec.Pattern); !res.Allowed() {
			return nil, goerr.Wrap(ErrContentConfiguration, "target pattern is outside the restricted grammar",
				goerr.V("pattern", spec.Pattern),
				goerr.V("violations", res.Error()),
			)
		}
	}

	return target, nil
}

// ID returns the trial ID.
func (c *Controller) ID() string { return c.id }

// Spec returns the trial spec.
func (c *Controller) Spec() Spec { return c.spec }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// View returns the current view.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view()
}

// Record returns the trial's record once it is complete.
func (c *Controller) Record() (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record == nil {
		return Record{}, false
	}
	return c.record.Clone(), true
}

// Handle applies one action.
func (c *Controller) Handle(a Action) Outcome {
	switch a.Type {
	case ActionAddExample:
		return c.AddExample(a.Text)
	case ActionRemoveExample:
		return c.RemoveExample(a.Index)
	case ActionSubmitGuess:
		return c.SubmitGuess(a.Text)
	case ActionAdvance:
		return c.Advance()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateComplete {
		return c.outcome(StatusRejectedClosed)
	}
	return c.outcome(StatusRejectedUnknown)
}

// AddExample offers a candidate string in an elicitation trial.
func (c *Controller) AddExample(text string) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.gate(KindElicitation); !ok {
		return c.outcome(st)
	}

	res := c.set.Add(text)
	switch res.Status {
	case examples.StatusAdded:
		c.publish(events.EventExampleAdded, res.Example)
		return c.outcome(StatusOK)
	case examples.StatusRejectedDuplicate:
		c.publish(events.EventExampleRejected, text)
		return c.outcome(StatusRejectedDuplicate)
	default:
		c.publish(events.EventExampleRejected, text)
		return c.outcome(StatusRejectedEmpty)
	}
}

// RemoveExample deletes the example at the given display index.
func (c *Controller) RemoveExample(index int) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.gate(KindElicitation); !ok {
		return c.outcome(st)
	}

	res := c.set.Remove(index)
	if res.Status.Rejected() {
		return c.outcome(StatusRejectedOutOfRange)
	}
	c.publish(events.EventExampleRemoved, res.Example)
	return c.outcome(StatusOK)
}

// SubmitGuess records a pattern guess in a guessing trial. A later
// submission replaces an earlier one. An unparseable guess is recorded
// with that verdict; only a blank guess is refused.
func (c *Controller) SubmitGuess(text string) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.gate(KindGuessing); !ok {
		return c.outcome(st)
	}
	if strings.TrimSpace(text) == "" {
		return c.outcome(StatusRejectedEmpty)
	}

	out := c.comparator.Evaluate(c.target, text)
	c.guess = &GuessResult{
		Text:    text,
		Verdict: out.Verdict,
		Witness: out.Witness,
		Reason:  out.Reason,
	}
	c.publish(events.EventGuessSubmitted, *c.guess)
	return c.outcome(StatusOK)
}

// Advance completes the trial if its gate is open. The record is built
// and handed to the emitter exactly once.
func (c *Controller) Advance() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateComplete {
		return c.outcome(StatusRejectedClosed)
	}
	if !c.canAdvance() {
		c.publish(events.EventAdvanceRejected, nil)
		return c.outcome(StatusRejectedPremature)
	}

	completedAt := c.now()
	rec := Record{
		SessionID:     c.session.ID,
		ParticipantID: c.session.ParticipantID,
		StudyID:       c.session.StudyID,
		TrialID:       c.id,
		Index:         c.progress.Index,
		Description:   c.spec.Description,
		Pattern:       c.spec.Pattern,
		Kind:          c.spec.Kind,
		ElapsedMs:     completedAt.Sub(c.startedAt).Milliseconds(),
		StartedAt:     c.startedAt,
		CompletedAt:   completedAt,
	}
	switch c.spec.Kind {
	case KindElicitation:
		snap := c.set.Snapshot()
		rec.Examples = make([]RecordedExample, len(snap))
		for i, ex := range snap {
			rec.Examples[i] = RecordedExample{Text: ex.Text, Valid: ex.Valid}
		}
	case KindGuessing:
		rec.Guess = c.guess
		rec = rec.Clone()
	}

	c.state = StateComplete
	c.record = &rec
	c.logger.Info("trial complete",
		slog.String("trial_id", c.id),
		slog.Int64("elapsed_ms", rec.ElapsedMs),
	)
	// Each receiver gets its own copy, so none can alter the stored record.
	c.publish(events.EventTrialCompleted, rec.Clone())
	if c.emitter != nil {
		c.emitter.Enqueue(rec.Clone())
	}

	out := c.outcome(StatusOK)
	returned := rec.Clone()
	out.Record = &returned
	return out
}

// gate reports whether an action for kind may run now.
func (c *Controller) gate(kind Kind) (Status, bool) {
	if c.state == StateComplete {
		return StatusRejectedClosed, false
	}
	if c.spec.Kind != kind {
		return StatusRejectedWrongKind, false
	}
	return StatusOK, true
}

func (c *Controller) canAdvance() bool {
	if c.state != StateActive {
		return false
	}
	switch c.spec.Kind {
	case KindElicitation:
		return c.set.IsComplete()
	case KindGuessing:
		return c.guess != nil
	}
	return false
}

func (c *Controller) outcome(st Status) Outcome {
	return Outcome{Status: st, View: c.view()}
}

func (c *Controller) view() View {
	v := View{
		TrialID:       c.id,
		Kind:          c.spec.Kind,
		Description:   c.spec.Description,
		Prompt:        c.spec.Prompt,
		ShownExamples: c.spec.ShownExamples,
		State:         c.state,
		CanAdvance:    c.canAdvance(),
		Progress:      c.progress,
	}
	if c.set != nil {
		v.Examples = c.set.Snapshot()
	}
	if c.guess != nil {
		g := *c.guess
		v.Guess = &g
	}
	return v
}

func (c *Controller) publish(typ events.EventType, data any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.NewEvent(typ, c.id, data))
}
