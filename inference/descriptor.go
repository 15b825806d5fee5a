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
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorgonia.org/tensor"
)

// DefaultInputSize is assumed for both input sides until the model is introspected.
const DefaultInputSize = 640

// Convention is how a model expresses box regression values.
type Convention int

const (
	// ConventionUnknown asks Describe to probe the model.
	ConventionUnknown Convention = iota
	// ConventionNormalized boxes are fractions of the input size.
	ConventionNormalized
	// ConventionPixel boxes are in input pixels.
	ConventionPixel
)

func (c Convention) String() string {
	switch c {
	case ConventionNormalized:
		return "normalized"
	case ConventionPixel:
		return "pixel"
	}
	return "auto"
}

// ParseConvention maps a configuration string to a Convention.
func ParseConvention(s string) (Convention, error) {
	switch s {
	case "", "auto":
		return ConventionUnknown, nil
	case "normalized":
		return ConventionNormalized, nil
	case "pixel":
		return ConventionPixel, nil
	}
	return ConventionUnknown, errors.Errorf("unknown box convention %q", s)
}

// Layout is the order of the two non-batch output dimensions.
type Layout int

const (
	// ChannelMajor outputs are [1][4+classes][anchors].
	ChannelMajor Layout = iota
	// AnchorMajor outputs are [1][anchors][4+classes].
	AnchorMajor
)

func (l Layout) String() string {
	if l == AnchorMajor {
		return "anchor-major"
	}
	return "channel-major"
}

// ModelDescriptor is everything known about a loaded model. It is resolved
// once at load and never re-derived while detecting.
type ModelDescriptor struct {
	Blob          []byte
	InputWidth    int
	InputHeight   int
	InputChannels int
	NumClasses    int
	NumAnchors    int
	Labels        []string
	Convention    Convention
	Layout        Layout
}

// Canonical returns raw in channel-major order.
func (d ModelDescriptor) Canonical(raw RawOutput) RawOutput {
	if d.Layout == AnchorMajor {
		return raw.Transpose()
	}
	return raw
}

// Describe introspects the engine's model, checks it against labels and
// resolves the box convention. It performs one warm-up run, which is also
// the accelerated path's first run.
func Describe(e *Engine, blob []byte, labels []string, hint Convention, logger *zap.SugaredLogger) (ModelDescriptor, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	d := ModelDescriptor{
		Blob:          blob,
		InputWidth:    DefaultInputSize,
		InputHeight:   DefaultInputSize,
		InputChannels: 3,
		Labels:        labels,
		NumClasses:    len(labels),
	}
	if len(labels) == 0 {
		return d, errors.Wrap(ErrModelLoad, "no labels")
	}

	shape := e.Shape()
	if shape.InputWidth <= 0 || shape.InputHeight <= 0 {
		return d, errors.Wrapf(ErrModelLoad, "cannot introspect input shape %+v", shape)
	}
	if shape.InputChannels != 3 {
		return d, errors.Wrapf(ErrModelLoad, "input has %d channels, want 3", shape.InputChannels)
	}
	d.InputWidth, d.InputHeight, d.InputChannels = shape.InputWidth, shape.InputHeight, shape.InputChannels

	out := shape.Output
	if len(out) == 3 && out[0] == 1 {
		out = out[1:]
	}
	if len(out) != 2 {
		return d, errors.Wrapf(ErrModelLoad, "output shape %v is not [1][channels][anchors]", shape.Output)
	}
	want := 4 + len(labels)
	switch {
	case out[0] == want:
		d.Layout, d.NumAnchors = ChannelMajor, out[1]
	case out[1] == want:
		d.Layout, d.NumAnchors = AnchorMajor, out[0]
	default:
		return d, errors.Wrapf(ErrModelLoad, "output shape %v has no dimension of %d channels for %d labels",
			shape.Output, want, len(labels))
	}

	raw, err := e.Run(d.GreyTensor())
	if err != nil {
		return d, errors.Wrapf(ErrEngineInitFailed, "warm-up run: %v", err)
	}
	raw = d.Canonical(raw)
	if raw.Channels != want || raw.Anchors != d.NumAnchors {
		return d, errors.Wrapf(ErrModelLoad, "warm-up output is %dx%d, expected %dx%d",
			raw.Channels, raw.Anchors, want, d.NumAnchors)
	}

	d.Convention = hint
	if d.Convention == ConventionUnknown {
		d.Convention = probeConvention(raw)
	}
	logger.Infow("model described",
		"input", []int{d.InputHeight, d.InputWidth, d.InputChannels},
		"classes", d.NumClasses,
		"anchors", d.NumAnchors,
		"convention", d.Convention,
		"transposed", d.Layout == AnchorMajor,
		"path", e.Path())
	return d, nil
}

// GreyTensor returns a mid-grey input tensor for warm-up runs.
func (d ModelDescriptor) GreyTensor() *tensor.Dense {
	data := make([]float32, d.InputHeight*d.InputWidth*d.InputChannels)
	for i := range data {
		data[i] = 0.5
	}
	return tensor.New(tensor.WithShape(1, d.InputHeight, d.InputWidth, d.InputChannels), tensor.WithBacking(data))
}

// probeConvention reports pixel units when any centre x or width exceeds 1.
func probeConvention(raw RawOutput) Convention {
	for a := 0; a < raw.Anchors; a++ {
		if raw.At(0, a) > 1 || raw.At(2, a) > 1 {
			return ConventionPixel
		}
	}
	return ConventionNormalized
}
