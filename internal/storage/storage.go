package storage

import (
	"context"
	"errors"

	"onchainScreener/internal/model"
)

// Sink archives emitted signals.
type Sink interface {
	PutSignals(ctx context.Context, signals []model.Signal) error
}

// Multi writes to every sink and joins their errors.
type Multi []Sink

func (m Multi) PutSignals(ctx context.Context, signals []model.Signal) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.PutSignals(ctx, signals); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
