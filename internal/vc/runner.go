// Package vc exposes the conversion pipeline to clients and records every
// conversion in the event timeline.
package vc

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-vc/internal/conversion"
	"github.com/loqalabs/loqa-vc/internal/eventstore"
)

// Runner serializes conversions and records their timeline. Transports share
// one Runner so that a single conversion holds the models at a time.
type Runner struct {
	pipeline *conversion.Pipeline
	store    *eventstore.Store
	sem      chan struct{}
	logger   *slog.Logger
}

func NewRunner(pipeline *conversion.Pipeline, store *eventstore.Store, log *slog.Logger) *Runner {
	return &Runner{
		pipeline: pipeline,
		store:    store,
		sem:      make(chan struct{}, 1),
		logger:   log.With(slog.String("component", "vc-runner")),
	}
}

// Defaults returns the configured request defaults.
func (r *Runner) Defaults() conversion.Request { return r.pipeline.Defaults() }

// Busy reports whether a conversion currently holds the models.
func (r *Runner) Busy() bool { return len(r.sem) > 0 }

// Run waits for the models to be free, then converts req.
func (r *Runner) Run(ctx context.Context, transport string, req conversion.Request, h conversion.Handlers) (conversion.Result, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return conversion.Result{ID: req.ID}, ctx.Err()
	}
	defer func() { <-r.sem }()

	profile := "plain"
	if req.F0Condition {
		profile = "f0"
	}
	r.warn(r.store.StartSession(ctx, eventstore.Session{
		ID:            req.ID,
		Transport:     transport,
		Profile:       profile,
		ReferencePath: req.ReferencePath,
	}))
	r.warn(r.store.Record(ctx, req.ID, eventstore.EventStarted, nil))

	res, err := r.pipeline.Convert(ctx, req, conversion.Handlers{
		Source: func(path string) {
			r.warn(r.store.Record(ctx, req.ID, eventstore.EventSourceReady, map[string]string{"path": path}))
			if h.Source != nil {
				h.Source(path)
			}
		},
		Chunk: func(c conversion.Chunk) error {
			r.warn(r.store.Record(ctx, req.ID, eventstore.EventChunk, map[string]any{
				"sequence": c.Sequence,
				"bytes":    len(c.Data),
				"samples":  c.Samples,
				"final":    c.Final,
			}))
			if h.Chunk != nil {
				return h.Chunk(c)
			}
			return nil
		},
	})

	// Recording the end must survive a cancelled request context.
	endCtx := context.WithoutCancel(ctx)
	outcome := eventstore.EventCompleted
	if err != nil {
		outcome = eventstore.EventFailed
	}
	r.warn(r.store.Record(endCtx, req.ID, outcome, conversion.Status(res, err)))
	r.warn(r.store.FinishSession(endCtx, req.ID, outcome))
	return res, err
}

func (r *Runner) warn(err error) {
	if err != nil {
		r.logger.Warn("failed to record conversion event", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
