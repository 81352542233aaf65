package session_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/cgast/exemplar/pkg/content"
	"github.com/cgast/exemplar/pkg/events"
	"github.com/cgast/exemplar/pkg/guess"
	"github.com/cgast/exemplar/pkg/protocol"
	"github.com/cgast/exemplar/pkg/session"
	"github.com/cgast/exemplar/pkg/store"
	"github.com/cgast/exemplar/pkg/trial"
)

func twoTrialStudy() content.Study {
	return content.Study{
		APIVersion: content.APIVersion,
		Kind:       content.KindStudy,
		Meta:       content.StudyMeta{Name: "pilot"},
		Trials: []trial.Spec{
			{ID: "g1", Kind: trial.KindGuessing, Description: "digits", Pattern: `\d+`, ShownExamples: []string{"12"}},
			{ID: "e1", Kind: trial.KindElicitation, Description: "words", Pattern: `[a-z]+`},
		},
	}
}

type recorder struct{ recs []trial.Record }

func (r *recorder) Enqueue(rec trial.Record) { r.recs = append(r.recs, rec) }

func TestRunnerWalksStudy(t *testing.T) {
	rec := &recorder{}
	bus := events.NewMemoryBus()
	r := session.NewRunner(trial.Session{ID: "s1", ParticipantID: "p1"},
		session.WithEmitter(rec),
		session.WithEventBus(bus),
	)

	_, err := r.Start()
	gt.True(t, errors.Is(err, session.ErrNoStudy))
	gt.NoError(t, r.Load(twoTrialStudy()))
	gt.Equal(t, r.Session().StudyID, "pilot")

	_, err = r.Handle(trial.Action{Type: trial.ActionAdvance})
	gt.True(t, errors.Is(err, session.ErrNotStarted))

	view, err := r.Start()
	gt.NoError(t, err)
	gt.Equal(t, view.TrialID, "g1")
	gt.Equal(t, view.Progress, trial.Progress{Index: 0, Total: 2})

	// Start is idempotent while the trial is active.
	view, err = r.Start()
	gt.NoError(t, err)
	gt.Equal(t, view.TrialID, "g1")

	out, err := r.Handle(trial.Action{Type: trial.ActionSubmitGuess, Text: `[0-9]+`})
	gt.NoError(t, err)
	gt.Equal(t, out.View.Guess.Verdict, guess.Correct)
	out, err = r.Handle(trial.Action{Type: trial.ActionAdvance})
	gt.NoError(t, err)
	gt.Equal(t, out.Status, trial.StatusOK)
	gt.False(t, r.Finished())

	view, err = r.Start()
	gt.NoError(t, err)
	gt.Equal(t, view.TrialID, "e1")
	gt.Equal(t, view.Progress.Index, 1)

	_, err = r.Handle(trial.Action{Type: trial.ActionAddExample, Text: "cat"})
	gt.NoError(t, err)
	_, err = r.Handle(trial.Action{Type: trial.ActionAdvance})
	gt.NoError(t, err)
	gt.True(t, r.Finished())

	_, err = r.Start()
	gt.True(t, errors.Is(err, session.ErrFinished))
	gt.True(t, r.Finished())

	records := r.Records()
	gt.A(t, records).Length(2)
	gt.Equal(t, records[0].TrialID, "g1")
	gt.Equal(t, records[1].SessionID, "s1")
	gt.Equal(t, records[1].ParticipantID, "p1")
	gt.Equal(t, records[1].StudyID, "pilot")
	gt.A(t, rec.recs).Length(2)

	gt.A(t, bus.History(records[0].StartedAt.AddDate(-1, 0, 0))).Longer(5)
}

func TestRunnerRejectsInvalidStudy(t *testing.T) {
	study := twoTrialStudy()
	study.Trials[1].Pattern = `(cat|dog)`

	r := session.NewRunner(trial.Session{})
	gt.True(t, r.Session().ID != "")
	err := r.Load(study)
	gt.True(t, errors.Is(err, session.ErrInvalidStudy))
	_, ok := r.Study()
	gt.False(t, ok)
}

func call(t *testing.T, h *protocol.Handler, method string, params any) protocol.Response {
	t.Helper()
	req := protocol.Request{JSONRPC: "2.0", ID: 1, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		gt.NoError(t, err)
		req.Params = raw
	}
	return h.Handle(req)
}

// decode round-trips a result through JSON, as a client would see it.
func decode[T any](t *testing.T, resp protocol.Response) T {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %d %s", resp.Error.Code, resp.Error.Message)
	}
	raw, err := json.Marshal(resp.Result)
	gt.NoError(t, err)
	var v T
	gt.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestRPCSession(t *testing.T) {
	h := protocol.NewHandler(nil)
	r := session.NewRunner(trial.Session{ID: "s1"})
	session.Register(h, r, nil)

	resp := call(t, h, protocol.MethodTrialStart, nil)
	gt.Equal(t, resp.Error.Code, protocol.CodeNoStudy)

	info := decode[protocol.StudyInfo](t, call(t, h, protocol.MethodStudyLoad, nil))
	gt.Equal(t, info.Trials, 25)
	gt.Equal(t, info.Elicitation, 21)
	gt.Equal(t, info.Guessing, 4)
	gt.Equal(t, info.SessionID, "s1")

	resp = call(t, h, protocol.MethodTrialState, nil)
	gt.Equal(t, resp.Error.Code, protocol.CodeNotStarted)

	view := decode[trial.View](t, call(t, h, protocol.MethodTrialStart, nil))
	gt.Equal(t, view.Kind, trial.KindGuessing)
	gt.Equal(t, view.TrialID, "guess-01")

	out := decode[trial.Outcome](t, call(t, h, protocol.MethodTrialAdvance, nil))
	gt.Equal(t, out.Status, trial.StatusRejectedPremature)

	out = decode[trial.Outcome](t, call(t, h, protocol.MethodTrialSubmitGuess, protocol.TextParams{Text: `\d+hello\d+`}))
	gt.Equal(t, out.View.Guess.Verdict, guess.Correct)
	gt.True(t, out.View.CanAdvance)

	out = decode[trial.Outcome](t, call(t, h, protocol.MethodTrialAdvance, nil))
	gt.Equal(t, out.Status, trial.StatusOK)
	gt.NotNil(t, out.Record)

	view = decode[trial.View](t, call(t, h, protocol.MethodTrialStart, nil))
	gt.Equal(t, view.TrialID, "guess-02")

	state := decode[trial.View](t, call(t, h, protocol.MethodTrialState, nil))
	gt.Equal(t, state.TrialID, "guess-02")

	out = decode[trial.Outcome](t, call(t, h, protocol.MethodTrialAddExample, protocol.TextParams{Text: "x"}))
	gt.Equal(t, out.Status, trial.StatusRejectedWrongKind)
	out = decode[trial.Outcome](t, call(t, h, protocol.MethodTrialRemoveExample, protocol.NewIndexParams(0)))
	gt.Equal(t, out.Status, trial.StatusRejectedWrongKind)
	resp = call(t, h, protocol.MethodTrialRemoveExample, map[string]any{})
	gt.Equal(t, resp.Error.Code, protocol.CodeInvalidParams)

	recs := decode[[]trial.Record](t, call(t, h, protocol.MethodRecordsList, nil))
	gt.A(t, recs).Length(1)
	gt.Equal(t, recs[0].TrialID, "guess-01")

	resp = call(t, h, protocol.MethodRecordsList, protocol.RecordsListParams{Session: "other"})
	gt.Equal(t, resp.Error.Code, protocol.CodeStoreFailed)
}

func TestRPCRemoveExampleNeedsIndex(t *testing.T) {
	h := protocol.NewHandler(nil)
	r := session.NewRunner(trial.Session{ID: "s1"})
	session.Register(h, r, nil)
	gt.NoError(t, r.Load(content.Study{
		APIVersion: content.APIVersion,
		Kind:       content.KindStudy,
		Meta:       content.StudyMeta{Name: "pilot"},
		Trials: []trial.Spec{
			{ID: "e1", Kind: trial.KindElicitation, Description: "words", Pattern: `[a-z]+`},
		},
	}))
	decode[trial.View](t, call(t, h, protocol.MethodTrialStart, nil))
	decode[trial.Outcome](t, call(t, h, protocol.MethodTrialAddExample, protocol.TextParams{Text: "cat"}))

	for _, params := range []any{nil, map[string]any{}, map[string]any{"index": nil}} {
		resp := call(t, h, protocol.MethodTrialRemoveExample, params)
		gt.NotNil(t, resp.Error)
		gt.Equal(t, resp.Error.Code, protocol.CodeInvalidParams)
		gt.S(t, resp.Error.Message).Contains("index is required")
	}

	view := decode[trial.View](t, call(t, h, protocol.MethodTrialState, nil))
	gt.A(t, view.Examples).Length(1)
	gt.Equal(t, view.Examples[0].Text, "cat")

	out := decode[trial.Outcome](t, call(t, h, protocol.MethodTrialRemoveExample, protocol.NewIndexParams(0)))
	gt.Equal(t, out.Status, trial.StatusOK)
	gt.A(t, out.View.Examples).Length(0)
}

func TestRPCRecordsFromStore(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "records.db"))
	gt.NoError(t, err)
	defer st.Close()
	gt.NoError(t, st.Put(trial.Record{SessionID: "old", TrialID: "t1", Pattern: `\d+`}))

	h := protocol.NewHandler(nil)
	session.Register(h, session.NewRunner(trial.Session{ID: "s1"}), st)

	recs := decode[[]trial.Record](t, call(t, h, protocol.MethodRecordsList, protocol.RecordsListParams{Session: "old"}))
	gt.A(t, recs).Length(1)

	recs = decode[[]trial.Record](t, call(t, h, protocol.MethodRecordsList, protocol.RecordsListParams{Session: "missing"}))
	gt.A(t, recs).Length(0)
}

func TestRPCStudyValidate(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	gt.NoError(t, os.WriteFile(bad, []byte(`
apiVersion: exemplar/v1
kind: Study
meta: {name: bad}
trials:
  - {kind: elicitation, description: "pets", pattern: '(cat|dog)'}
`), 0644))

	h := protocol.NewHandler(nil)
	session.Register(h, session.NewRunner(trial.Session{}), nil)

	info := decode[protocol.ValidationInfo](t, call(t, h, protocol.MethodStudyValidate, protocol.StudyValidateParams{Path: bad}))
	gt.False(t, info.Valid)
	gt.Equal(t, info.Errors[0].Field, "trials[0].pattern")

	info = decode[protocol.ValidationInfo](t, call(t, h, protocol.MethodStudyValidate, protocol.StudyValidateParams{Path: filepath.Join(dir, "missing.yaml")}))
	gt.False(t, info.Valid)

	resp := call(t, h, protocol.MethodStudyValidate, nil)
	gt.Equal(t, resp.Error.Code, protocol.CodeInvalidParams)

	resp = call(t, h, protocol.MethodStudyLoad, protocol.StudyLoadParams{Path: bad})
	gt.Equal(t, resp.Error.Code, protocol.CodeStudyInvalid)
}

func TestRPCStudyReader(t *testing.T) {
	var asked []string
	deny := func(path string) ([]byte, error) {
		asked = append(asked, path)
		return nil, errors.New("outside study directory")
	}

	h := protocol.NewHandler(nil)
	session.Register(h, session.NewRunner(trial.Session{}), nil, session.WithStudyReader(deny))

	resp := call(t, h, protocol.MethodStudyLoad, protocol.StudyLoadParams{Path: "/etc/passwd"})
	gt.Equal(t, resp.Error.Code, protocol.CodeStudyInvalid)
	gt.S(t, resp.Error.Message).Contains("outside study directory")

	info := decode[protocol.ValidationInfo](t, call(t, h, protocol.MethodStudyValidate, protocol.StudyValidateParams{Path: "/etc/shadow"}))
	gt.False(t, info.Valid)
	gt.Equal(t, asked, []string{"/etc/passwd", "/etc/shadow"})

	// The bundled study is not read from disk.
	decode[protocol.StudyInfo](t, call(t, h, protocol.MethodStudyLoad, nil))
	gt.A(t, asked).Length(2)
}
