package inspector_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/cgast/exemplar/internal/inspector"
	"github.com/cgast/exemplar/pkg/content"
	"github.com/cgast/exemplar/pkg/events"
	"github.com/cgast/exemplar/pkg/session"
	"github.com/cgast/exemplar/pkg/store"
	"github.com/cgast/exemplar/pkg/trial"
)

func newSession(t *testing.T) (*events.MemoryBus, *session.Runner) {
	t.Helper()
	bus := events.NewMemoryBus()
	r := session.NewRunner(trial.Session{ID: "s1", ParticipantID: "p1"}, session.WithEventBus(bus))
	gt.NoError(t, r.Load(content.Study{
		APIVersion: content.APIVersion,
		Kind:       content.KindStudy,
		Meta:       content.StudyMeta{Name: "pilot"},
		Trials: []trial.Spec{
			{ID: "e1", Kind: trial.KindElicitation, Description: "words", Pattern: `[a-z]+`},
			{ID: "e2", Kind: trial.KindElicitation, Description: "digits", Pattern: `\d{2}`},
		},
	}))
	return bus, r
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	gt.NoError(t, err)
	defer resp.Body.Close()
	gt.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestStatusAndTrial(t *testing.T) {
	bus, r := newSession(t)
	srv := httptest.NewServer(inspector.New(bus, r).Handler())
	defer srv.Close()

	var body map[string]string
	gt.Equal(t, getJSON(t, srv.URL+"/api/trial", &body), http.StatusConflict)

	_, err := r.Start()
	gt.NoError(t, err)
	_, err = r.Handle(trial.Action{Type: trial.ActionAddExample, Text: "cat"})
	gt.NoError(t, err)
	_, err = r.Handle(trial.Action{Type: trial.ActionAddExample, Text: "Cat"})
	gt.NoError(t, err)

	var st inspector.Status
	gt.Equal(t, getJSON(t, srv.URL+"/api/status", &st), http.StatusOK)
	gt.Equal(t, st.SessionID, "s1")
	gt.Equal(t, st.StudyID, "pilot")
	gt.Equal(t, st.Study, "pilot")
	gt.NotNil(t, st.Progress)
	gt.Equal(t, *st.Progress, trial.Progress{Index: 0, Total: 2})
	gt.False(t, st.Finished)
	gt.Equal(t, st.Counts[events.EventExampleAdded], 2)
	gt.Equal(t, st.Counts[events.EventTrialSetup], 1)

	var view trial.View
	gt.Equal(t, getJSON(t, srv.URL+"/api/trial", &view), http.StatusOK)
	gt.Equal(t, view.TrialID, "e1")
	gt.A(t, view.Examples).Length(2)
	gt.False(t, view.CanAdvance)
}

func TestHistoryFilter(t *testing.T) {
	bus, r := newSession(t)
	srv := httptest.NewServer(inspector.New(bus, r).Handler())
	defer srv.Close()

	_, err := r.Start()
	gt.NoError(t, err)
	_, err = r.Handle(trial.Action{Type: trial.ActionAddExample, Text: "cat"})
	gt.NoError(t, err)
	_, err = r.Handle(trial.Action{Type: trial.ActionAdvance})
	gt.NoError(t, err)
	_, err = r.Start()
	gt.NoError(t, err)

	var all, e2 []events.Event
	getJSON(t, srv.URL+"/api/history", &all)
	getJSON(t, srv.URL+"/api/history?trial=e2", &e2)

	gt.A(t, e2).Length(1)
	gt.Equal(t, e2[0].Type, events.EventTrialSetup)
	gt.True(t, len(all) > len(e2))
	gt.Equal(t, all[0].Type, events.EventStudyLoaded)
}

func TestRecords(t *testing.T) {
	bus, r := newSession(t)

	st, err := store.Open(filepath.Join(t.TempDir(), "records.db"))
	gt.NoError(t, err)
	defer st.Close()
	gt.NoError(t, st.Put(trial.Record{SessionID: "old", ParticipantID: "p0", TrialID: "t1", Pattern: `\d+`}))

	srv := httptest.NewServer(inspector.New(bus, r, inspector.WithRecords(st)).Handler())
	defer srv.Close()

	var recs []trial.Record
	gt.Equal(t, getJSON(t, srv.URL+"/api/records", &recs), http.StatusOK)
	gt.A(t, recs).Length(0)

	_, err = r.Start()
	gt.NoError(t, err)
	_, err = r.Handle(trial.Action{Type: trial.ActionAddExample, Text: "cat"})
	gt.NoError(t, err)
	_, err = r.Handle(trial.Action{Type: trial.ActionAdvance})
	gt.NoError(t, err)

	gt.Equal(t, getJSON(t, srv.URL+"/api/records?session=s1", &recs), http.StatusOK)
	gt.A(t, recs).Length(1)
	gt.Equal(t, recs[0].TrialID, "e1")

	gt.Equal(t, getJSON(t, srv.URL+"/api/records?session=old", &recs), http.StatusOK)
	gt.A(t, recs).Length(1)
	gt.Equal(t, recs[0].Pattern, `\d+`)

	var body map[string]string
	gt.Equal(t, getJSON(t, srv.URL+"/api/records?session=missing", &body), http.StatusNotFound)

	var sessions []store.Session
	gt.Equal(t, getJSON(t, srv.URL+"/api/sessions", &sessions), http.StatusOK)
	gt.A(t, sessions).Length(1)
	gt.Equal(t, sessions[0].ParticipantID, "p0")
}

func TestEventStream(t *testing.T) {
	bus, r := newSession(t)
	ins := inspector.New(bus, r)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ins.Broadcast(ctx)

	srv := httptest.NewServer(ins.Handler())
	defer srv.Close()

	_, err := r.Start()
	gt.NoError(t, err)

	reqCtx, reqCancel := context.WithTimeout(ctx, 5*time.Second)
	defer reqCancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL+"/events?trial=e1", nil)
	gt.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	gt.NoError(t, err)
	defer resp.Body.Close()
	gt.S(t, resp.Header.Get("Content-Type")).Contains("text/event-stream")

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if line, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
				lines <- line
			}
		}
	}()

	// Replayed history for e1.
	gt.Equal(t, <-lines, string(events.EventTrialSetup))

	// Live events are delivered once the stream is open. Events are sent
	// until one arrives, since the subscription may lag the replay.
	go func() {
		for _, text := range []string{"cat", "dog", "emu", "fox", "gnu"} {
			if reqCtx.Err() != nil {
				return
			}
			r.Handle(trial.Action{Type: trial.ActionAddExample, Text: text})
			time.Sleep(50 * time.Millisecond)
		}
	}()
	gt.Equal(t, <-lines, string(events.EventExampleAdded))
}
