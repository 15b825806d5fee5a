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

package inference

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorgonia.org/tensor"
)

// EngineOptions configures NewEngine. Nil factories select the TFLite backends.
type EngineOptions struct {
	Preference  Preference
	Threads     int
	Accelerated Factory
	CPU         Factory
	Logger      *zap.SugaredLogger
}

// Engine owns one Backend and swaps an accelerated backend for a CPU one
// when the accelerated path cannot be built or fails its first run.
type Engine struct {
	mu      sync.Mutex
	blob    []byte
	opts    EngineOptions
	logger  *zap.SugaredLogger
	backend Backend
	path    Path
	settled bool
	closed  bool
}

// NewEngine builds an engine for blob. It fails with ErrEngineInitFailed
// only when neither path can be built.
func NewEngine(blob []byte, opts EngineOptions) (*Engine, error) {
	if len(blob) == 0 {
		return nil, errors.Wrap(ErrModelLoad, "empty model")
	}
	if opts.Accelerated == nil {
		opts.Accelerated = NewAcceleratedBackend
	}
	if opts.CPU == nil {
		opts.CPU = NewCPUBackend
	}
	if opts.Threads <= 0 {
		opts.Threads = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	e := &Engine{blob: blob, opts: opts, logger: logger}

	var accelErr error
	if opts.Preference == PreferAccelerated {
		b, err := opts.Accelerated(blob, opts.Threads)
		if err == nil {
			e.backend, e.path = b, PathAccelerated
			logger.Infow("inference engine ready", "path", e.path)
			return e, nil
		}
		accelErr = err
		logger.Warnw("accelerated backend unavailable, using cpu", "error", err)
	}

	b, err := opts.CPU(blob, opts.Threads)
	if err != nil {
		return nil, errors.Wrapf(ErrEngineInitFailed, "%v", multierr.Combine(accelErr, err))
	}
	e.backend, e.path, e.settled = b, PathCPU, true
	logger.Infow("inference engine ready", "path", e.path, "threads", opts.Threads)
	return e, nil
}

// Path reports the execution path in use.
func (e *Engine) Path() Path {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.path
}

// Shape reports the model shape from the active backend.
func (e *Engine) Shape() Shape {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend == nil {
		return Shape{}
	}
	return e.backend.Shape()
}

// Run executes the model once. Runs are serialized.
func (e *Engine) Run(input *tensor.Dense) (RawOutput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return RawOutput{}, ErrEngineClosed
	}
	if e.backend == nil {
		return RawOutput{}, errors.Wrap(ErrInferenceFailed, "no backend")
	}

	out, err := e.backend.Run(input)
	if err == nil {
		e.settled = true
		return out, nil
	}
	if e.settled {
		return RawOutput{}, errors.Wrapf(ErrInferenceFailed, "%s: %v", e.path, err)
	}

	// first run on the accelerated path
	e.logger.Warnw("accelerated backend failed its first run, rebuilding on cpu", "error", err)
	if cerr := e.backend.Close(); cerr != nil {
		e.logger.Debugw("closing accelerated backend", "error", cerr)
	}
	e.backend, e.settled = nil, true
	cpu, cerr := e.opts.CPU(e.blob, e.opts.Threads)
	if cerr != nil {
		return RawOutput{}, errors.Wrapf(ErrInferenceFailed, "cpu rebuild: %v", multierr.Combine(err, cerr))
	}
	e.backend, e.path = cpu, PathCPU

	out, err = e.backend.Run(input)
	if err != nil {
		return RawOutput{}, errors.Wrapf(ErrInferenceFailed, "%s: %v", e.path, err)
	}
	return out, nil
}

// Close releases the backend. It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.backend == nil {
		return nil
	}
	err := e.backend.Close()
	e.backend = nil
	return err
}
