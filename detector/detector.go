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

// Package detector ties preprocessing, inference, decoding, suppression and
// coordinate mapping together behind a single Detect call.
package detector

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mpromonet/chilidetect/config"
	"github.com/mpromonet/chilidetect/detection"
	"github.com/mpromonet/chilidetect/frame"
	"github.com/mpromonet/chilidetect/inference"
	"github.com/mpromonet/chilidetect/labels"
	"github.com/mpromonet/chilidetect/mapping"
	"github.com/mpromonet/chilidetect/preprocess"
)

// Option customizes Open.
type Option func(*options)

type options struct {
	logger    *zap.SugaredLogger
	accel     inference.Factory
	cpu       inference.Factory
	resampler preprocess.Resampler
	clock     clock.Clock
}

// WithLogger sets the logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBackends replaces the accelerated and CPU backend factories. A nil
// factory keeps the TFLite one.
func WithBackends(accel, cpu inference.Factory) Option {
	return func(o *options) { o.accel, o.cpu = accel, cpu }
}

// WithResampler overrides the resampler named in the configuration.
func WithResampler(r preprocess.Resampler) Option {
	return func(o *options) { o.resampler = r }
}

// WithClock sets the clock used for timing and stats.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// Request says how one frame is padded for the model and how its
// detections are fitted to the viewport. A zero viewport maps onto the
// upright frame itself.
type Request struct {
	Viewport preprocess.Size
	Fit      mapping.FitPolicy
	Padding  preprocess.Padding
	MinScore float32
	// Postprocess runs after the MinScore filter, in order.
	Postprocess []detection.Postprocessor
}

// Result is the outcome of one Detect call. Its fields always describe the
// same frame.
type Result struct {
	// Detections are in viewport pixels.
	Detections detection.Set
	// Normalized are the same detections as source fractions in [0,1].
	Normalized    detection.Set
	FrameSize     preprocess.Size
	Transform     preprocess.Transform
	Timestamp     time.Time
	InferenceTime time.Duration
}

type mode struct {
	fit      mapping.FitPolicy
	padding  preprocess.Padding
	minScore float32
}

// Detector runs the detection pipeline. Detect and Close are serialized.
type Detector struct {
	mu     sync.Mutex
	closed bool
	done   chan struct{}

	engine *inference.Engine
	desc   inference.ModelDescriptor
	pre    *preprocess.Preprocessor

	threshold float32
	iou       float64
	policy    detection.SuppressionPolicy
	live      mode
	review    mode

	logger *zap.SugaredLogger
	clock  clock.Clock
	stats  *Stats
}

// Open loads the model and labels named by cfg and builds a detector.
func Open(cfg config.Config, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "%v", err)
	}
	blob, err := os.ReadFile(cfg.Model.Path)
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "%v", err)
	}
	lbls, err := labels.Load(cfg.Model.LabelPath)
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "%v", err)
	}
	return OpenDescriptor(blob, lbls, cfg, opts...)
}

// OpenDescriptor builds a detector from a model blob and labels already in
// memory.
func OpenDescriptor(blob []byte, lbls []string, cfg config.Config, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "%v", err)
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop().Sugar()
	}
	if o.clock == nil {
		o.clock = clock.New()
	}

	// Validate has already checked every enumerated value.
	pref, _ := inference.ParsePreference(cfg.Model.Accelerator)
	conv, _ := inference.ParseConvention(cfg.Model.BoxConvention)
	policy, _ := detection.ParseSuppressionPolicy(cfg.Detection.Suppression)
	live, err := parseMode(cfg.Live)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "live: %v", err)
	}
	review, err := parseMode(cfg.Review)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "review: %v", err)
	}

	resampler := o.resampler
	if resampler == nil {
		if resampler, err = preprocess.ByName(cfg.Model.Resampler); err != nil {
			return nil, errors.Wrapf(ErrInvalidConfig, "%v", err)
		}
	}

	engine, err := inference.NewEngine(blob, inference.EngineOptions{
		Preference:  pref,
		Threads:     cfg.Model.NumThreads,
		Accelerated: o.accel,
		CPU:         o.cpu,
		Logger:      o.logger,
	})
	if err != nil {
		return nil, err
	}
	desc, err := inference.Describe(engine, blob, lbls, conv, o.logger)
	if err != nil {
		if cerr := engine.Close(); cerr != nil {
			o.logger.Warnw("closing engine after failed load", "error", cerr)
		}
		return nil, err
	}

	return &Detector{
		engine:    engine,
		desc:      desc,
		pre:       preprocess.New(resampler),
		threshold: float32(cfg.Detection.ConfidenceThreshold),
		iou:       cfg.Detection.IoUThreshold,
		policy:    policy,
		live:      live,
		review:    review,
		logger:    o.logger,
		clock:     o.clock,
		stats:     newStats(o.clock),
		done:      make(chan struct{}),
	}, nil
}

func parseMode(cfg config.ModeConfig) (mode, error) {
	fit, err := mapping.ParseFitPolicy(cfg.Fit)
	if err != nil {
		return mode{}, err
	}
	padding, err := preprocess.ParsePadding(cfg.Padding)
	if err != nil {
		return mode{}, err
	}
	return mode{fit: fit, padding: padding, minScore: float32(cfg.MinScore)}, nil
}

// LiveRequest returns the request used for camera frames shown in viewport.
func (d *Detector) LiveRequest(viewport preprocess.Size) Request {
	return Request{Viewport: viewport, Fit: d.live.fit, Padding: d.live.padding, MinScore: d.live.minScore}
}

// ReviewRequest returns the request used for a still image shown in viewport.
func (d *Detector) ReviewRequest(viewport preprocess.Size) Request {
	return Request{Viewport: viewport, Fit: d.review.fit, Padding: d.review.padding, MinScore: d.review.minScore}
}

// Descriptor returns what was learned about the model at load.
func (d *Detector) Descriptor() inference.ModelDescriptor {
	return d.desc
}

// Path reports the inference path in use.
func (d *Detector) Path() inference.Path {
	return d.engine.Path()
}

// Clock returns the clock the detector times itself with.
func (d *Detector) Clock() clock.Clock {
	return d.clock
}

// Stats returns a snapshot of the detector counters.
func (d *Detector) Stats() Snapshot {
	return d.stats.Snapshot()
}

// Detect runs the pipeline on f. An invalid frame or a failed inference is
// logged and yields an empty result; the only errors returned are
// ErrDetectorClosed and a done context.
func (d *Detector) Detect(ctx context.Context, f frame.Frame, req Request) (Result, error) {
	res, err := d.detect(ctx, f, req)
	if err != nil && !errors.Is(err, ErrDetectorClosed) && ctx.Err() == nil {
		return res, nil
	}
	return res, err
}

func (d *Detector) detect(ctx context.Context, f frame.Frame, req Request) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Result{}, ErrDetectorClosed
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	w, h := f.UprightSize()
	res := Result{
		Detections: detection.Set{Space: detection.SpaceViewport},
		Normalized: detection.Set{Space: detection.SpaceSource},
		FrameSize:  preprocess.Size{Width: w, Height: h},
		Timestamp:  f.Timestamp,
	}

	target := preprocess.Size{Width: d.desc.InputWidth, Height: d.desc.InputHeight}
	input, tr, err := d.pre.Process(f, target, req.Padding)
	if err != nil {
		d.stats.fail()
		d.logger.Warnw("dropping invalid frame", "error", err)
		return res, err
	}
	res.Transform = tr

	start := d.clock.Now()
	raw, err := d.engine.Run(input)
	res.InferenceTime = d.clock.Since(start)
	if err != nil {
		d.stats.fail()
		d.logger.Errorw("inference failed", "error", err, "path", d.engine.Path())
		return res, err
	}

	candidates := detection.Decode(d.desc.Canonical(raw), d.desc.Labels, d.threshold,
		d.desc.Convention, d.desc.InputWidth, d.desc.InputHeight)
	kept := detection.Suppress(candidates, d.iou, d.policy)
	var filter detection.Postprocessor
	if req.MinScore > 0 {
		filter = detection.NewScoreFilter(req.MinScore)
	}
	kept = detection.Compose(append([]detection.Postprocessor{filter}, req.Postprocess...)...)(kept)

	viewport := req.Viewport
	if viewport.Width <= 0 || viewport.Height <= 0 {
		viewport = tr.Source
	}
	tensorSet := detection.Set{Space: detection.SpaceTensor, Detections: kept}
	res.Detections = mapping.Mapper{Viewport: viewport, Fit: req.Fit}.Map(tensorSet, tr)
	res.Normalized = mapping.Normalize(tensorSet, tr)

	d.stats.observe(res.InferenceTime)
	d.logger.Debugw("frame detected",
		"candidates", len(candidates), "kept", len(kept), "inference", res.InferenceTime)
	return res, nil
}

// Done is closed once the detector is closed.
func (d *Detector) Done() <-chan struct{} {
	return d.done
}

// Close releases the engine, waiting for an in-flight Detect. It is safe to
// call more than once.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.done)
	err := d.engine.Close()
	d.logger.Infow("detector closed")
	return err
}
