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

package inference_test

import (
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"
	"gorgonia.org/tensor"

	"github.com/mpromonet/chilidetect/inference"
	"github.com/mpromonet/chilidetect/inference/inferencetest"
)

var blob = []byte("model")

func observedLogger() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core).Sugar(), logs
}

func input() *tensor.Dense {
	return tensor.New(tensor.WithShape(1, 2, 2, 3), tensor.WithBacking(make([]float32, 12)))
}

func TestEngineAccelerated(t *testing.T) {
	accel := inferencetest.YOLO(32, 1, 2)
	cpu := inferencetest.YOLO(32, 1, 2)
	e, err := inference.NewEngine(blob, inference.EngineOptions{
		Accelerated: inferencetest.Factory(accel),
		CPU:         inferencetest.Factory(cpu),
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, e.Path(), test.ShouldEqual, inference.PathAccelerated)

	out, err := e.Run(input())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Channels, test.ShouldEqual, 5)
	test.That(t, accel.RunCount(), test.ShouldEqual, 1)
	test.That(t, cpu.RunCount(), test.ShouldEqual, 0)
	test.That(t, e.Close(), test.ShouldBeNil)
	test.That(t, accel.Closed, test.ShouldEqual, 1)
}

func TestEngineFallbackOnInit(t *testing.T) {
	logger, logs := observedLogger()
	cpu := inferencetest.YOLO(32, 1, 2)
	e, err := inference.NewEngine(blob, inference.EngineOptions{
		Accelerated: inferencetest.Failing(errors.New("no edge TPU devices found")),
		CPU:         inferencetest.Factory(cpu),
		Logger:      logger,
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, e.Path(), test.ShouldEqual, inference.PathCPU)
	test.That(t, logs.FilterMessageSnippet("accelerated backend unavailable").Len(), test.ShouldEqual, 1)

	_, err = e.Run(input())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cpu.RunCount(), test.ShouldEqual, 1)
}

func TestEnginePreferCPU(t *testing.T) {
	accel := inferencetest.YOLO(32, 1, 2)
	cpu := inferencetest.YOLO(32, 1, 2)
	e, err := inference.NewEngine(blob, inference.EngineOptions{
		Preference:  inference.PreferCPU,
		Accelerated: inferencetest.Factory(accel),
		CPU:         inferencetest.Factory(cpu),
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, e.Path(), test.ShouldEqual, inference.PathCPU)
}

func TestEngineFallbackOnFirstRun(t *testing.T) {
	logger, logs := observedLogger()
	accel := inferencetest.YOLO(32, 1, 2)
	accel.Errs = []error{errors.New("delegate rejected op")}
	cpu := inferencetest.YOLO(32, 1, 2)

	e, err := inference.NewEngine(blob, inference.EngineOptions{
		Accelerated: inferencetest.Factory(accel),
		CPU:         inferencetest.Factory(cpu),
		Logger:      logger,
	})
	test.That(t, err, test.ShouldBeNil)

	_, err = e.Run(input())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, e.Path(), test.ShouldEqual, inference.PathCPU)
	test.That(t, accel.Closed, test.ShouldEqual, 1)
	test.That(t, cpu.RunCount(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessageSnippet("failed its first run").Len(), test.ShouldEqual, 1)
}

func TestEngineNoFallbackAfterFirstRun(t *testing.T) {
	accel := inferencetest.YOLO(32, 1, 2)
	accel.Errs = []error{nil, errors.New("boom")}
	cpu := inferencetest.YOLO(32, 1, 2)

	e, err := inference.NewEngine(blob, inference.EngineOptions{
		Accelerated: inferencetest.Factory(accel),
		CPU:         inferencetest.Factory(cpu),
	})
	test.That(t, err, test.ShouldBeNil)

	_, err = e.Run(input())
	test.That(t, err, test.ShouldBeNil)
	_, err = e.Run(input())
	test.That(t, errors.Is(err, inference.ErrInferenceFailed), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "boom")
	test.That(t, e.Path(), test.ShouldEqual, inference.PathAccelerated)

	_, err = e.Run(input())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cpu.RunCount(), test.ShouldEqual, 0)
}

func TestEngineInitFailed(t *testing.T) {
	_, err := inference.NewEngine(blob, inference.EngineOptions{
		Accelerated: inferencetest.Failing(errors.New("no tpu")),
		CPU:         inferencetest.Failing(errors.New("bad flatbuffer")),
	})
	test.That(t, errors.Is(err, inference.ErrEngineInitFailed), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no tpu")
	test.That(t, err.Error(), test.ShouldContainSubstring, "bad flatbuffer")

	_, err = inference.NewEngine(nil, inference.EngineOptions{})
	test.That(t, errors.Is(err, inference.ErrModelLoad), test.ShouldBeTrue)
}

func TestEngineClosed(t *testing.T) {
	cpu := inferencetest.YOLO(32, 1, 2)
	e, err := inference.NewEngine(blob, inference.EngineOptions{
		Preference: inference.PreferCPU,
		CPU:        inferencetest.Factory(cpu),
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, e.Close(), test.ShouldBeNil)
	test.That(t, e.Close(), test.ShouldBeNil)
	test.That(t, cpu.Closed, test.ShouldEqual, 1)

	_, err = e.Run(input())
	test.That(t, errors.Is(err, inference.ErrEngineClosed), test.ShouldBeTrue)
	test.That(t, cpu.RunCount(), test.ShouldEqual, 0)
}

func TestParsePreference(t *testing.T) {
	p, err := inference.ParsePreference("cpu")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldEqual, inference.PreferCPU)
	p, err = inference.ParsePreference("auto")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldEqual, inference.PreferAccelerated)
	_, err = inference.ParsePreference("gpu")
	test.That(t, err, test.ShouldNotBeNil)
}
