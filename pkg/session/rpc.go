package session

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/cgast/exemplar/pkg/content"
	"github.com/cgast/exemplar/pkg/protocol"
	"github.com/cgast/exemplar/pkg/store"
	"github.com/cgast/exemplar/pkg/trial"
)

// RecordLister reads persisted records of any session.
type RecordLister interface {
	List(sessionID string) ([]trial.Record, error)
}

// RegisterOption configures Register.
type RegisterOption func(*rpcConfig)

type rpcConfig struct {
	read content.FileReader
}

// WithStudyReader reads study files named by clients through read.
func WithStudyReader(read content.FileReader) RegisterOption {
	return func(c *rpcConfig) { c.read = read }
}

// Register adds the study, trial and records methods for r to h. records
// may be nil, in which case only the current session can be listed.
func Register(h *protocol.Handler, r *Runner, records RecordLister, opts ...RegisterOption) {
	cfg := rpcConfig{read: os.ReadFile}
	for _, opt := range opts {
		opt(&cfg)
	}

	h.Register(protocol.MethodStudyLoad, func(params json.RawMessage) (any, *protocol.Error) {
		p, perr := protocol.ParseParams[protocol.StudyLoadParams](params)
		if perr != nil {
			return nil, perr
		}

		var study content.Study
		var err error
		if p.Path == "" {
			study, err = content.DefaultStudy()
		} else {
			study, err = content.LoadStudyWith(cfg.read, p.Path, p.Params)
		}
		if err != nil {
			return nil, &protocol.Error{Code: protocol.CodeStudyInvalid, Message: err.Error()}
		}
		if err := r.Load(study); err != nil {
			return nil, rpcError(err)
		}

		return protocol.StudyInfo{
			Name:        study.Meta.Name,
			Version:     study.Meta.Version,
			SessionID:   r.Session().ID,
			Trials:      len(study.Trials),
			Elicitation: study.Count(trial.KindElicitation),
			Guessing:    study.Count(trial.KindGuessing),
		}, nil
	})

	h.Register(protocol.MethodStudyValidate, func(params json.RawMessage) (any, *protocol.Error) {
		p, perr := protocol.ParseParams[protocol.StudyValidateParams](params)
		if perr != nil {
			return nil, perr
		}
		if p.Path == "" {
			return nil, &protocol.Error{Code: protocol.CodeInvalidParams, Message: "path is required"}
		}

		study, err := content.LoadStudyWith(cfg.read, p.Path, p.Params)
		if err != nil {
			return protocol.ValidationInfo{
				Errors: []protocol.FieldError{{Field: p.Path, Message: err.Error()}},
			}, nil
		}
		return validationInfo(content.ValidateStudy(study)), nil
	})

	h.Register(protocol.MethodTrialStart, func(params json.RawMessage) (any, *protocol.Error) {
		view, err := r.Start()
		if err != nil {
			return nil, rpcError(err)
		}
		return view, nil
	})

	h.Register(protocol.MethodTrialState, func(params json.RawMessage) (any, *protocol.Error) {
		view, err := r.View()
		if err != nil {
			return nil, rpcError(err)
		}
		return view, nil
	})

	h.Register(protocol.MethodTrialAddExample, textAction(r, trial.ActionAddExample))
	h.Register(protocol.MethodTrialSubmitGuess, textAction(r, trial.ActionSubmitGuess))

	h.Register(protocol.MethodTrialRemoveExample, func(params json.RawMessage) (any, *protocol.Error) {
		p, perr := protocol.ParseParams[protocol.IndexParams](params)
		if perr != nil {
			return nil, perr
		}
		if p.Index == nil {
			return nil, &protocol.Error{Code: protocol.CodeInvalidParams, Message: "index is required"}
		}
		return handle(r, trial.Action{Type: trial.ActionRemoveExample, Index: *p.Index})
	})

	h.Register(protocol.MethodTrialAdvance, func(params json.RawMessage) (any, *protocol.Error) {
		return handle(r, trial.Action{Type: trial.ActionAdvance})
	})

	h.Register(protocol.MethodRecordsList, func(params json.RawMessage) (any, *protocol.Error) {
		p, perr := protocol.ParseParams[protocol.RecordsListParams](params)
		if perr != nil {
			return nil, perr
		}
		// The current session is served from memory; its store writes are
		// asynchronous and may lag.
		if p.Session == "" || p.Session == r.Session().ID {
			return nonNil(r.Records()), nil
		}
		if records == nil {
			return nil, &protocol.Error{Code: protocol.CodeStoreFailed, Message: "no record store configured"}
		}

		recs, err := records.List(p.Session)
		if errors.Is(err, store.ErrNotFound) {
			return []trial.Record{}, nil
		}
		if err != nil {
			return nil, &protocol.Error{Code: protocol.CodeStoreFailed, Message: err.Error()}
		}
		return nonNil(recs), nil
	})
}

func textAction(r *Runner, typ trial.ActionType) protocol.HandlerFunc {
	return func(params json.RawMessage) (any, *protocol.Error) {
		p, perr := protocol.ParseParams[protocol.TextParams](params)
		if perr != nil {
			return nil, perr
		}
		return handle(r, trial.Action{Type: typ, Text: p.Text})
	}
}

func handle(r *Runner, a trial.Action) (any, *protocol.Error) {
	out, err := r.Handle(a)
	if err != nil {
		return nil, rpcError(err)
	}
	return out, nil
}

func rpcError(err error) *protocol.Error {
	code := protocol.CodeInternalError
	switch {
	case errors.Is(err, ErrNoStudy):
		code = protocol.CodeNoStudy
	case errors.Is(err, ErrNotStarted):
		code = protocol.CodeNotStarted
	case errors.Is(err, ErrFinished):
		code = protocol.CodeStudyFinished
	case errors.Is(err, ErrInvalidStudy), errors.Is(err, trial.ErrContentConfiguration):
		code = protocol.CodeStudyInvalid
	}
	return &protocol.Error{Code: code, Message: err.Error()}
}

func validationInfo(vr content.ValidationResult) protocol.ValidationInfo {
	info := protocol.ValidationInfo{Valid: vr.Valid()}
	for _, e := range vr.Errors {
		info.Errors = append(info.Errors, protocol.FieldError{Field: e.Field, Message: e.Message})
	}
	return info
}

func nonNil(recs []trial.Record) []trial.Record {
	if recs == nil {
		return []trial.Record{}
	}
	return recs
}
