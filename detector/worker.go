/*
 * SPDX-License-Identifier: Unlicense
 *
 * This is free and unencumbered software released into the public domain.
 *
 * Anyone is free to copy, modify, publish, use, compile, sell, or distribute this
 * software, either in source code form or as a compiled binary, for any purpose,
 * commercial or non-commercial, and by any means.
 *
 * For more information, please refer to <http://unlicense.org/>
 */

package detector

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/mpromonet/chilidetect/frame"
)

// Source produces camera frames. Next blocks until a frame is ready and
// returns io.EOF once the source is exhausted.
type Source interface {
	Next(ctx context.Context) (frame.Frame, error)
}

// Worker feeds frames to a detector one at a time. Frames arriving while a
// detection is running replace each other, so the next detection always
// sees the newest frame.
type Worker struct {
	det     *Detector
	source  Source
	frames  *Mailbox[frame.Frame]
	results *Mailbox[Result]

	mu  sync.Mutex
	req Request
}

// NewWorker returns a worker detecting with req. source may be nil when
// frames are pushed with Submit.
func NewWorker(det *Detector, req Request, source Source) *Worker {
	return &Worker{
		det:     det,
		source:  source,
		frames:  NewMailbox[frame.Frame](),
		results: NewMailbox[Result](),
		req:     req,
	}
}

// SetRequest changes the request used from the next frame on, for example
// after the viewport is resized.
func (w *Worker) SetRequest(req Request) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.req = req
}

func (w *Worker) request() Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.req
}

// Submit hands f to the worker without blocking.
func (w *Worker) Submit(f frame.Frame) {
	w.det.stats.submit(w.frames.Offer(f))
}

// Results delivers the newest result. Unread results are replaced.
func (w *Worker) Results() <-chan Result {
	return w.results.C()
}

// Run detects frames until ctx is done or the detector is closed, in which
// case it returns nil. Only a failing source ends it with an error.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if w.source != nil {
		g.Go(func() error { return w.pump(gctx) })
	}
	g.Go(func() error { return w.loop(gctx) })

	err := g.Wait()
	if errors.Is(err, ErrDetectorClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

func (w *Worker) pump(ctx context.Context) error {
	for {
		f, err := w.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "frame source")
		}
		w.Submit(f)
	}
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.det.Done():
			return ErrDetectorClosed
		case f := <-w.frames.C():
			res, err := w.det.detect(ctx, f, w.request())
			switch {
			case errors.Is(err, ErrDetectorClosed):
				return err
			case err != nil && ctx.Err() != nil:
				return ctx.Err()
			}
			// a failed frame still publishes its empty result
			w.results.Offer(res)
		}
	}
}
