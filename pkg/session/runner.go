// Package session walks one participant through a study, one trial at a
// time.
package session

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/cgast/exemplar/pkg/content"
	"github.com/cgast/exemplar/pkg/events"
	"github.com/cgast/exemplar/pkg/guess"
	"github.com/cgast/exemplar/pkg/pattern"
	"github.com/cgast/exemplar/pkg/trial"
)

var (
	ErrNoStudy      = errors.New("no study loaded")
	ErrNotStarted   = errors.New("no trial started")
	ErrFinished     = errors.New("study finished")
	ErrInvalidStudy = errors.New("invalid study")
)

// Runner holds a session's study and its current trial. It is safe for
// concurrent use.
type Runner struct {
	mu sync.Mutex

	meta    trial.Session
	study   *content.Study
	specs   []trial.Spec
	index   int
	current *trial.Controller
	done    []trial.Record

	emitter     trial.Emitter
	bus         events.EventBus
	comparator  *guess.Comparator
	patternOpts []pattern.Option
	logger      *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithEmitter sets where completed records go in addition to the runner's
// own list.
func WithEmitter(e trial.Emitter) Option {
	return func(r *Runner) { r.emitter = e }
}

// WithEventBus publishes study and trial events to bus.
func WithEventBus(bus events.EventBus) Option {
	return func(r *Runner) { r.bus = bus }
}

// WithComparator sets the comparator used by guessing trials.
func WithComparator(c *guess.Comparator) Option {
	return func(r *Runner) { r.comparator = c }
}

// WithPatternOptions sets the options used to compile trial targets.
func WithPatternOptions(opts ...pattern.Option) Option {
	return func(r *Runner) { r.patternOpts = opts }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner for one session. A missing session ID is
// generated.
func NewRunner(meta trial.Session, opts ...Option) *Runner {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	r := &Runner{
		meta:   meta,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Session returns the session metadata.
func (r *Runner) Session() trial.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta
}

// Load replaces the study and rewinds to its first trial. Records already
// completed are kept.
func (r *Runner) Load(study content.Study) error {
	if vr := content.ValidateStudy(study); !vr.Valid() {
		return goerr.Wrap(ErrInvalidStudy, vr.Error(), goerr.V("study", study.Meta.Name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.study = &study
	r.specs = study.TrialSpecs()
	r.index = 0
	r.current = nil
	if r.meta.StudyID == "" {
		r.meta.StudyID = study.Meta.Name
	}

	r.logger.Info("study loaded",
		slog.String("study", study.Meta.Name),
		slog.Int("trials", len(r.specs)),
		slog.String("session_id", r.meta.ID),
	)
	if r.bus != nil {
		r.bus.Publish(events.NewEvent(events.EventStudyLoaded, "", study.Meta))
	}
	return nil
}

// Study returns the loaded study.
func (r *Runner) Study() (content.Study, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.study == nil {
		return content.Study{}, false
	}
	return *r.study, true
}

// Start returns the view of the trial in progress. When there is none, or
// the current one is complete, the next trial is started.
func (r *Runner) Start() (trial.View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.study == nil {
		return trial.View{}, ErrNoStudy
	}
	if r.current != nil && r.current.State() != trial.StateComplete {
		return r.current.View(), nil
	}
	if r.current != nil {
		r.index++
		r.current = nil
	}
	if r.index >= len(r.specs) {
		return trial.View{}, ErrFinished
	}

	c, err := trial.NewController(r.specs[r.index],
		trial.WithSession(r.meta),
		trial.WithProgress(r.index, len(r.specs)),
		trial.WithEmitter(trial.EmitterFunc(r.complete)),
		trial.WithEventBus(r.bus),
		trial.WithComparator(r.comparator),
		trial.WithPatternOptions(r.patternOpts...),
		trial.WithLogger(r.logger),
	)
	if err != nil {
		return trial.View{}, goerr.Wrap(err, "failed to start trial", goerr.V("index", r.index))
	}
	r.current = c
	return c.View(), nil
}

// complete is called from Handle, with r.mu held, when a trial finishes.
// It must not call back into the controller.
func (r *Runner) complete(rec trial.Record) {
	r.done = append(r.done, rec)
	if r.emitter != nil {
		r.emitter.Enqueue(rec)
	}
}

// View returns the current trial's view.
func (r *Runner) View() (trial.View, error) {
	c, err := r.currentController()
	if err != nil {
		return trial.View{}, err
	}
	return c.View(), nil
}

// Handle forwards a to the current trial.
func (r *Runner) Handle(a trial.Action) (trial.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.study == nil {
		return trial.Outcome{}, ErrNoStudy
	}
	if r.current == nil {
		return trial.Outcome{}, ErrNotStarted
	}
	return r.current.Handle(a), nil
}

// Finished reports whether every trial has been completed.
func (r *Runner) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.study == nil {
		return false
	}
	last := len(r.specs) - 1
	return r.index > last || (r.index == last && r.current != nil && r.current.State() == trial.StateComplete)
}

// Records returns the records completed in this session, oldest first.
func (r *Runner) Records() []trial.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.done)
}

func (r *Runner) currentController() (*trial.Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.study == nil {
		return nil, ErrNoStudy
	}
	if r.current == nil {
		return nil, ErrNotStarted
	}
	return r.current, nil
}
