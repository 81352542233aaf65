// Package sink delivers completed trial records to their destinations.
package sink

import (
	"context"
	"errors"

	"github.com/cgast/exemplar/pkg/trial"
)

// Sink receives completed trial records.
type Sink interface {
	Emit(ctx context.Context, rec trial.Record) error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, rec trial.Record) error

func (f Func) Emit(ctx context.Context, rec trial.Record) error { return f(ctx, rec) }

// Multi emits to every sink in order. All sinks are tried; their errors
// are joined.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, rec trial.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every record.
var Discard Sink = Func(func(context.Context, trial.Record) error { return nil })
