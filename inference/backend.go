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

// Package inference runs a loaded detection model on input tensors.
package inference

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

var (
	// ErrModelLoad reports a missing or corrupt model, or a model whose shape cannot be used.
	ErrModelLoad = errors.New("model load error")
	// ErrEngineInitFailed reports that no execution path could be built.
	ErrEngineInitFailed = errors.New("engine init failed")
	// ErrInferenceFailed reports a single failed run.
	ErrInferenceFailed = errors.New("inference error")
	// ErrEngineClosed is returned by Run after Close.
	ErrEngineClosed = errors.New("engine closed")
)

// Shape describes a model's input and output tensors as reported by a backend.
type Shape struct {
	InputHeight   int
	InputWidth    int
	InputChannels int
	Output        []int
}

// RawOutput is a two dimensional model output with batch size 1, stored row
// major: element (r, c) is Data[r*Anchors+c]. Once canonicalized by a
// ModelDescriptor rows are channels and columns are anchors.
type RawOutput struct {
	Channels int
	Anchors  int
	Data     []float32
}

// At returns the value of channel c at anchor a.
func (r RawOutput) At(c, a int) float32 {
	return r.Data[c*r.Anchors+a]
}

// Transpose swaps rows and columns.
func (r RawOutput) Transpose() RawOutput {
	out := RawOutput{Channels: r.Anchors, Anchors: r.Channels, Data: make([]float32, len(r.Data))}
	for i := 0; i < r.Channels; i++ {
		for j := 0; j < r.Anchors; j++ {
			out.Data[j*r.Channels+i] = r.Data[i*r.Anchors+j]
		}
	}
	return out
}

// Backend is one execution path for a model.
type Backend interface {
	Run(input *tensor.Dense) (RawOutput, error)
	Shape() Shape
	Close() error
}

// Factory builds a Backend from a serialized model.
type Factory func(blob []byte, threads int) (Backend, error)

// Path names the execution path an Engine is using.
type Path string

// Execution paths.
const (
	PathAccelerated Path = "accelerated"
	PathCPU         Path = "cpu"
)

// Preference selects which execution path an Engine tries first.
type Preference int

const (
	// PreferAccelerated tries the accelerated path and falls back to CPU.
	PreferAccelerated Preference = iota
	// PreferCPU builds on CPU only.
	PreferCPU
)

// ParsePreference maps a configuration string to a Preference.
func ParsePreference(s string) (Preference, error) {
	switch s {
	case "", "auto", "accelerated":
		return PreferAccelerated, nil
	case "cpu":
		return PreferCPU, nil
	}
	return PreferAccelerated, errors.Errorf("unknown accelerator preference %q", s)
}
