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

// Package inferencetest provides a scriptable inference backend for tests.
package inferencetest

import (
	"sync"

	"gorgonia.org/tensor"

	"github.com/mpromonet/chilidetect/inference"
)

// Backend is an inference.Backend whose behaviour is set by its fields.
type Backend struct {
	mu sync.Mutex

	ShapeValue inference.Shape
	// RunFunc, when set, computes each output.
	RunFunc func(input *tensor.Dense) (inference.RawOutput, error)
	// Output is returned when RunFunc is nil.
	Output inference.RawOutput
	// Errs are returned by successive runs before any output is.
	Errs []error

	Runs   int
	Closed int
}

// Run implements inference.Backend.
func (b *Backend) Run(input *tensor.Dense) (inference.RawOutput, error) {
	b.mu.Lock()
	b.Runs++
	if len(b.Errs) > 0 {
		err := b.Errs[0]
		b.Errs = b.Errs[1:]
		if err != nil {
			b.mu.Unlock()
			return inference.RawOutput{}, err
		}
	}
	run, out := b.RunFunc, b.Output
	b.mu.Unlock()

	if run != nil {
		return run(input)
	}
	return out, nil
}

// Shape implements inference.Backend.
func (b *Backend) Shape() inference.Shape {
	return b.ShapeValue
}

// Close implements inference.Backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Closed++
	return nil
}

// RunCount returns the number of Run calls so far.
func (b *Backend) RunCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Runs
}

// Factory returns a factory that always yields b.
func Factory(b *Backend) inference.Factory {
	return func(blob []byte, threads int) (inference.Backend, error) {
		return b, nil
	}
}

// Failing returns a factory that always fails with err.
func Failing(err error) inference.Factory {
	return func(blob []byte, threads int) (inference.Backend, error) {
		return nil, err
	}
}

// YOLO returns a backend shaped like a square-input YOLOv8 model with the
// given class count and anchor count. Every output is all zeros unless
// RunFunc or Output is replaced.
func YOLO(size, classes, anchors int) *Backend {
	return &Backend{
		ShapeValue: inference.Shape{
			InputHeight:   size,
			InputWidth:    size,
			InputChannels: 3,
			Output:        []int{1, 4 + classes, anchors},
		},
		Output: inference.RawOutput{
			Channels: 4 + classes,
			Anchors:  anchors,
			Data:     make([]float32, (4+classes)*anchors),
		},
	}
}
