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

//go:build cgo && !no_tflite

package inference

import (
	"strings"
	"sync"

	"github.com/mattn/go-tflite"
	"github.com/mattn/go-tflite/delegates"
	"github.com/mattn/go-tflite/delegates/edgetpu"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

type tfliteBackend struct {
	model    *tflite.Model
	interp   *tflite.Interpreter
	delegate delegates.Delegater
	shape    Shape

	mu       sync.Mutex
	reported []string
}

// NewAcceleratedBackend builds a TFLite backend on the first Edge TPU found.
func NewAcceleratedBackend(blob []byte, threads int) (Backend, error) {
	devices, err := edgetpu.DeviceList()
	if err != nil {
		return nil, errors.Wrap(err, "could not get edge TPU devices")
	}
	if len(devices) == 0 {
		return nil, errors.New("no edge TPU devices found")
	}
	d := edgetpu.New(devices[0])
	if d == nil {
		return nil, errors.New("cannot create edge TPU delegate")
	}
	return newTFLiteBackend(blob, threads, d)
}

// NewCPUBackend builds a TFLite backend running on threads CPU threads.
func NewCPUBackend(blob []byte, threads int) (Backend, error) {
	return newTFLiteBackend(blob, threads, nil)
}

func newTFLiteBackend(blob []byte, threads int, delegate delegates.Delegater) (Backend, error) {
	b := &tfliteBackend{delegate: delegate}

	b.model = tflite.NewModel(blob)
	if b.model == nil {
		b.release()
		return nil, errors.New("cannot load model")
	}

	options := tflite.NewInterpreterOptions()
	if options == nil {
		b.release()
		return nil, errors.New("cannot create interpreter options")
	}
	defer options.Delete()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, userData interface{}) {
		b.mu.Lock()
		b.reported = append(b.reported, msg)
		b.mu.Unlock()
	}, nil)
	if delegate != nil {
		options.AddDelegate(delegate)
	}

	b.interp = tflite.NewInterpreter(b.model, options)
	if b.interp == nil {
		err := b.lastReported("cannot create interpreter")
		b.release()
		return nil, err
	}
	if status := b.interp.AllocateTensors(); status != tflite.OK {
		err := b.lastReported("allocate failed")
		b.release()
		return nil, err
	}

	input := b.interp.GetInputTensor(0)
	if input == nil || input.NumDims() != 4 {
		b.release()
		return nil, errors.New("input tensor is not NHWC")
	}
	if b.interp.GetOutputTensorCount() < 1 {
		b.release()
		return nil, errors.New("model has no output tensor")
	}
	b.shape = Shape{
		InputHeight:   input.Dim(1),
		InputWidth:    input.Dim(2),
		InputChannels: input.Dim(3),
		Output:        tensorShape(b.interp.GetOutputTensor(0)),
	}
	return b, nil
}

func tensorShape(t *tflite.Tensor) []int {
	shape := []int{}
	for idx := 0; idx < t.NumDims(); idx++ {
		shape = append(shape, t.Dim(idx))
	}
	return shape
}

func (b *tfliteBackend) lastReported(msg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.reported) == 0 {
		return errors.New(msg)
	}
	err := errors.Errorf("%s: %s", msg, strings.Join(b.reported, "; "))
	b.reported = nil
	return err
}

func (b *tfliteBackend) Shape() Shape {
	return b.shape
}

func (b *tfliteBackend) Run(input *tensor.Dense) (RawOutput, error) {
	data, ok := input.Data().([]float32)
	if !ok {
		return RawOutput{}, errors.Errorf("input tensor holds %T, want []float32", input.Data())
	}
	if err := fillInput(b.interp.GetInputTensor(0), data); err != nil {
		return RawOutput{}, err
	}
	if status := b.interp.Invoke(); status != tflite.OK {
		return RawOutput{}, b.lastReported("invoke failed")
	}
	return readOutput(b.interp.GetOutputTensor(0))
}

func fillInput(input *tflite.Tensor, data []float32) error {
	switch input.Type() {
	case tflite.Float32:
		dst := input.Float32s()
		if len(dst) != len(data) {
			return errors.Errorf("input tensor holds %d values, got %d", len(dst), len(data))
		}
		copy(dst, data)
	case tflite.UInt8:
		dst := input.UInt8s()
		if len(dst) != len(data) {
			return errors.Errorf("input tensor holds %d values, got %d", len(dst), len(data))
		}
		quantize(dst, data, quantParams(input))
	default:
		return errors.Errorf("unsupported input type %v", input.Type())
	}
	return nil
}

func quantParams(t *tflite.Tensor) quantization {
	q := t.QuantizationParams()
	return quantization{scale: float32(q.Scale), zeroPoint: q.ZeroPoint}
}

func readOutput(output *tflite.Tensor) (RawOutput, error) {
	shape := tensorShape(output)
	if len(shape) < 2 {
		return RawOutput{}, errors.Errorf("output shape %v has fewer than 2 dimensions", shape)
	}
	raw := RawOutput{Channels: shape[len(shape)-2], Anchors: shape[len(shape)-1]}

	switch output.Type() {
	case tflite.Float32:
		f := output.Float32s()
		raw.Data = make([]float32, len(f))
		copy(raw.Data, f)
	case tflite.UInt8:
		f := output.UInt8s()
		raw.Data = make([]float32, len(f))
		dequantize(raw.Data, f, quantParams(output))
	default:
		return RawOutput{}, errors.Errorf("unsupported output type %v", output.Type())
	}
	if len(raw.Data) != raw.Channels*raw.Anchors {
		return RawOutput{}, errors.Errorf("output holds %d values, shape %v", len(raw.Data), shape)
	}
	return raw, nil
}

func (b *tfliteBackend) release() {
	if b.interp != nil {
		b.interp.Delete()
		b.interp = nil
	}
	if b.delegate != nil {
		b.delegate.Delete()
		b.delegate = nil
	}
	if b.model != nil {
		b.model.Delete()
		b.model = nil
	}
}

func (b *tfliteBackend) Close() error {
	b.release()
	return nil
}
