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

package detector_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gorgonia.org/tensor"

	"github.com/mpromonet/chilidetect/config"
	"github.com/mpromonet/chilidetect/detection"
	"github.com/mpromonet/chilidetect/detector"
	"github.com/mpromonet/chilidetect/frame"
	"github.com/mpromonet/chilidetect/inference"
	"github.com/mpromonet/chilidetect/inference/inferencetest"
	"github.com/mpromonet/chilidetect/logging"
	"github.com/mpromonet/chilidetect/preprocess"
)

var (
	blob   = []byte("model")
	labels = []string{"Bercak Daun Serkospora", "Buah Cabai Sehat", "Busuk Buah Antraknosa"}
	noTPU  = inferencetest.Failing(errors.New("no edge TPU devices found"))
)

func testConfig() config.Config {
	return config.Config{
		Model: config.ModelConfig{
			Path:          "model.tflite",
			LabelPath:     "labels.txt",
			NumThreads:    2,
			Accelerator:   "auto",
			BoxConvention: "auto",
			Resampler:     "pure",
		},
		Detection: config.DetectionConfig{
			ConfidenceThreshold: 0.5,
			IoUThreshold:        0.45,
			Suppression:         "class_agnostic",
		},
		Live:   config.ModeConfig{Fit: "cover", Padding: "stretch", MinScore: 0.45},
		Review: config.ModeConfig{Fit: "contain", Padding: "letterbox", MinScore: 0.95},
	}
}

// oneLeaf returns a backend that reports one "Buah Cabai Sehat" box
// centered in the input, 0.2 wide and 0.4 high, with score 0.9.
func oneLeaf() *inferencetest.Backend {
	b := inferencetest.YOLO(32, len(labels), 2)
	data := b.Output.Data
	data[0*2] = 0.5
	data[1*2] = 0.5
	data[2*2] = 0.2
	data[3*2] = 0.4
	data[5*2] = 0.9
	return b
}

func grey(ts int64) frame.Frame {
	pix := make([]byte, 32*32*4)
	for i := range pix {
		pix[i] = 128
	}
	return frame.Frame{Width: 32, Height: 32, Pixels: pix, Format: frame.RGBA, Timestamp: time.Unix(ts, 0)}
}

func openCPU(t *testing.T, b *inferencetest.Backend, opts ...detector.Option) *detector.Detector {
	t.Helper()
	opts = append([]detector.Option{
		detector.WithLogger(logging.NewTestLogger(t)),
		detector.WithBackends(noTPU, inferencetest.Factory(b)),
	}, opts...)
	det, err := detector.OpenDescriptor(blob, labels, testConfig(), opts...)
	test.That(t, err, test.ShouldBeNil)
	return det
}

func TestDetect(t *testing.T) {
	b := oneLeaf()
	det := openCPU(t, b)
	defer det.Close()
	test.That(t, det.Path(), test.ShouldEqual, inference.PathCPU)

	res, err := det.Detect(context.Background(), grey(7), det.LiveRequest(preprocess.Size{Width: 32, Height: 32}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Timestamp, test.ShouldResemble, time.Unix(7, 0))
	test.That(t, res.FrameSize, test.ShouldResemble, preprocess.Size{Width: 32, Height: 32})
	test.That(t, res.Detections.Space, test.ShouldEqual, detection.SpaceViewport)
	test.That(t, res.Detections.Len(), test.ShouldEqual, 1)

	d := res.Detections.Detections[0]
	test.That(t, d.Label, test.ShouldEqual, "Buah Cabai Sehat")
	test.That(t, d.ClassID, test.ShouldEqual, 1)
	test.That(t, d.Box.Left, test.ShouldAlmostEqual, 12.8, 1e-4)
	test.That(t, d.Box.Top, test.ShouldAlmostEqual, 9.6, 1e-4)
	test.That(t, d.Box.Right, test.ShouldAlmostEqual, 19.2, 1e-4)
	test.That(t, d.Box.Bottom, test.ShouldAlmostEqual, 22.4, 1e-4)

	n := res.Normalized.Detections[0]
	test.That(t, res.Normalized.Space, test.ShouldEqual, detection.SpaceSource)
	test.That(t, n.Box.Left, test.ShouldAlmostEqual, 0.4, 1e-6)
	test.That(t, n.Box.Bottom, test.ShouldAlmostEqual, 0.7, 1e-6)
}

func TestDetectZeroViewportUsesFrame(t *testing.T) {
	det := openCPU(t, oneLeaf())
	defer det.Close()

	res, err := det.Detect(context.Background(), grey(1), det.LiveRequest(preprocess.Size{}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Detections.Detections[0].Box.Left, test.ShouldAlmostEqual, 12.8, 1e-4)
}

func TestDetectReviewMinScore(t *testing.T) {
	det := openCPU(t, oneLeaf())
	defer det.Close()

	res, err := det.Detect(context.Background(), grey(1), det.ReviewRequest(preprocess.Size{Width: 100, Height: 100}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Detections.Empty(), test.ShouldBeTrue)
	test.That(t, res.Transform.Padding, test.ShouldEqual, preprocess.Letterbox)
}

func TestDetectPostprocess(t *testing.T) {
	det := openCPU(t, oneLeaf())
	defer det.Close()

	var seen []float32
	req := det.LiveRequest(preprocess.Size{Width: 32, Height: 32})
	req.Postprocess = []detection.Postprocessor{
		func(in []detection.Detection) []detection.Detection {
			for _, d := range in {
				seen = append(seen, d.Score)
			}
			return nil
		},
	}
	res, err := det.Detect(context.Background(), grey(1), req)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Detections.Empty(), test.ShouldBeTrue)
	test.That(t, res.Normalized.Empty(), test.ShouldBeTrue)
	test.That(t, seen, test.ShouldHaveLength, 1)
	test.That(t, seen[0], test.ShouldAlmostEqual, 0.9, 1e-6)
}

func TestDetectInvalidFrame(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	b := oneLeaf()
	det := openCPU(t, b, detector.WithLogger(logger))
	defer det.Close()

	bad := grey(1)
	bad.Pixels = bad.Pixels[:10]
	res, err := det.Detect(context.Background(), bad, det.LiveRequest(preprocess.Size{Width: 32, Height: 32}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Detections.Empty(), test.ShouldBeTrue)
	test.That(t, logs.FilterMessage("dropping invalid frame").Len(), test.ShouldEqual, 1)
	test.That(t, det.Stats().Failed, test.ShouldEqual, int64(1))
	// only the warm-up run reached the backend
	test.That(t, b.RunCount(), test.ShouldEqual, 1)
}

func TestDetectRecoversFromInferenceError(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	b := oneLeaf()
	det := openCPU(t, b, detector.WithLogger(logger))
	defer det.Close()

	b.Errs = []error{errors.New("interpreter invoke failed")}
	req := det.LiveRequest(preprocess.Size{Width: 32, Height: 32})

	res, err := det.Detect(context.Background(), grey(1), req)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Detections.Empty(), test.ShouldBeTrue)
	test.That(t, logs.FilterMessage("inference failed").Len(), test.ShouldEqual, 1)

	res, err = det.Detect(context.Background(), grey(2), req)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Detections.Len(), test.ShouldEqual, 1)
}

func TestOpenLabelMismatch(t *testing.T) {
	b := inferencetest.YOLO(32, 2, 4)
	_, err := detector.OpenDescriptor(blob, labels, testConfig(),
		detector.WithBackends(noTPU, inferencetest.Factory(b)),
		detector.WithLogger(logging.NewTestLogger(t)))
	test.That(t, errors.Is(err, detector.ErrModelLoad), test.ShouldBeTrue)
	// the engine is released when the model is rejected
	test.That(t, b.Closed, test.ShouldEqual, 1)
}

func TestOpenInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Detection.ConfidenceThreshold = 0
	_, err := detector.OpenDescriptor(blob, labels, cfg)
	test.That(t, errors.Is(err, detector.ErrInvalidConfig), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "confidencethreshold")
}

func TestOpenEngineInitFailed(t *testing.T) {
	_, err := detector.OpenDescriptor(blob, labels, testConfig(),
		detector.WithBackends(
			noTPU,
			inferencetest.Failing(errors.New("cannot allocate tensors"))))
	test.That(t, errors.Is(err, detector.ErrEngineInitFailed), test.ShouldBeTrue)
}

func TestOpenFromFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Model.Path = filepath.Join(dir, "model.tflite")
	cfg.Model.LabelPath = filepath.Join(dir, "labels.txt")

	_, err := detector.Open(cfg)
	test.That(t, errors.Is(err, detector.ErrModelLoad), test.ShouldBeTrue)

	test.That(t, os.WriteFile(cfg.Model.Path, blob, 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(cfg.Model.LabelPath,
		[]byte("Bercak Daun Serkospora\nBuah Cabai Sehat\nBusuk Buah Antraknosa\n"), 0o600), test.ShouldBeNil)

	det, err := detector.Open(cfg, detector.WithBackends(noTPU, inferencetest.Factory(oneLeaf())))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, det.Descriptor().Labels, test.ShouldResemble, labels)
	test.That(t, det.Close(), test.ShouldBeNil)
}

func TestClose(t *testing.T) {
	b := oneLeaf()
	det := openCPU(t, b)

	test.That(t, det.Close(), test.ShouldBeNil)
	test.That(t, det.Close(), test.ShouldBeNil)
	test.That(t, b.Closed, test.ShouldEqual, 1)

	_, err := det.Detect(context.Background(), grey(1), det.LiveRequest(preprocess.Size{Width: 32, Height: 32}))
	test.That(t, errors.Is(err, detector.ErrDetectorClosed), test.ShouldBeTrue)
}

func TestCloseWaitsForDetect(t *testing.T) {
	b := oneLeaf()
	det := openCPU(t, b)

	out := b.Output
	started := make(chan struct{})
	release := make(chan struct{})
	b.RunFunc = func(*tensor.Dense) (inference.RawOutput, error) {
		close(started)
		<-release
		return out, nil
	}

	detected := make(chan error, 1)
	go func() {
		_, err := det.Detect(context.Background(), grey(1), det.LiveRequest(preprocess.Size{Width: 32, Height: 32}))
		detected <- err
	}()
	<-started

	closed := make(chan error, 1)
	go func() { closed <- det.Close() }()

	select {
	case <-closed:
		t.Fatal("close returned while detect was running")
	case <-time.After(50 * time.Millisecond):
	}
	test.That(t, b.Closed, test.ShouldEqual, 0)

	close(release)
	test.That(t, <-detected, test.ShouldBeNil)
	test.That(t, <-closed, test.ShouldBeNil)
	test.That(t, b.Closed, test.ShouldEqual, 1)
}

func TestDetectCanceledContext(t *testing.T) {
	det := openCPU(t, oneLeaf())
	defer det.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := det.Detect(ctx, grey(1), det.LiveRequest(preprocess.Size{Width: 32, Height: 32}))
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestStats(t *testing.T) {
	mock := clock.NewMock()
	b := oneLeaf()
	out := b.Output
	b.RunFunc = func(*tensor.Dense) (inference.RawOutput, error) {
		mock.Add(20 * time.Millisecond)
		return out, nil
	}
	det := openCPU(t, b, detector.WithClock(mock))
	defer det.Close()

	req := det.LiveRequest(preprocess.Size{Width: 32, Height: 32})
	for i := int64(0); i < 2; i++ {
		_, err := det.Detect(context.Background(), grey(i), req)
		test.That(t, err, test.ShouldBeNil)
	}

	snap := det.Stats()
	test.That(t, snap.Processed, test.ShouldEqual, int64(2))
	test.That(t, snap.Failed, test.ShouldEqual, int64(0))
	test.That(t, snap.MeanInference, test.ShouldEqual, 20*time.Millisecond)
	test.That(t, snap.P95Inference, test.ShouldEqual, 20*time.Millisecond)
	test.That(t, snap.FPS, test.ShouldAlmostEqual, 50.0, 1e-6)
}
