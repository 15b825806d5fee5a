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

package mapping

import (
	"math/rand"
	"testing"

	"go.viam.com/test"

	"github.com/mpromonet/chilidetect/detection"
	"github.com/mpromonet/chilidetect/preprocess"
)

func tensorSet(boxes ...detection.Box) detection.Set {
	set := detection.Set{Space: detection.SpaceTensor}
	for _, b := range boxes {
		b.Space = detection.SpaceTensor
		set.Detections = append(set.Detections, detection.Detection{Box: b, Label: "x", Score: 0.9})
	}
	return set
}

func stretch(w, h int) preprocess.Transform {
	return preprocess.Transform{
		Source: preprocess.Size{Width: w, Height: h},
		Padded: preprocess.Size{Width: w, Height: h},
		Target: preprocess.Size{Width: 640, Height: 640},
	}
}

func TestCoverScale(t *testing.T) {
	m := Mapper{Viewport: preprocess.Size{Width: 1080, Height: 1920}, Fit: Cover}
	tr := stretch(640, 480)

	scale, ox, oy := m.Scale(tr)
	test.That(t, scale, test.ShouldEqual, 4.0)
	test.That(t, ox, test.ShouldEqual, -740.0)
	test.That(t, oy, test.ShouldEqual, 0.0)

	out := m.Map(tensorSet(detection.Box{Left: 0, Top: 0, Right: 1, Bottom: 1}), tr)
	test.That(t, out.Space, test.ShouldEqual, detection.SpaceViewport)
	b := out.Detections[0].Box
	test.That(t, b.Space, test.ShouldEqual, detection.SpaceViewport)
	test.That(t, b.Width(), test.ShouldEqual, 2560.0)
	test.That(t, b.Height(), test.ShouldEqual, 1920.0)
	test.That(t, b.Width() > 1080, test.ShouldBeTrue)
	test.That(t, b.Height() > 1920, test.ShouldBeFalse)
	test.That(t, b.Left, test.ShouldEqual, -740.0)
}

func TestContainScale(t *testing.T) {
	m := Mapper{Viewport: preprocess.Size{Width: 1080, Height: 1920}, Fit: Contain}
	scale, ox, oy := m.Scale(stretch(640, 480))
	test.That(t, scale, test.ShouldEqual, 1080.0/640.0)
	test.That(t, ox, test.ShouldEqual, 0.0)
	test.That(t, oy, test.ShouldAlmostEqual, (1920-480*1080.0/640.0)/2, 1e-9)
}

func TestLetterboxInversion(t *testing.T) {
	// 640x480 padded to 640x640 with an 80 pixel top border.
	tr := preprocess.Transform{
		Source:  preprocess.Size{Width: 640, Height: 480},
		Padding: preprocess.Letterbox,
		Padded:  preprocess.Size{Width: 640, Height: 640},
		PadTop:  80,
		Target:  preprocess.Size{Width: 640, Height: 640},
	}
	in := tensorSet(detection.Box{Left: 0, Top: 80.0 / 640, Right: 1, Bottom: 560.0 / 640})

	norm := Normalize(in, tr)
	test.That(t, norm.Space, test.ShouldEqual, detection.SpaceSource)
	b := norm.Detections[0].Box
	test.That(t, b.Top, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, b.Bottom, test.ShouldAlmostEqual, 1, 1e-9)

	m := Mapper{Viewport: preprocess.Size{Width: 640, Height: 480}, Fit: Contain}
	px := m.Map(in, tr).Detections[0].Box
	test.That(t, px.Top, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, px.Bottom, test.ShouldAlmostEqual, 480, 1e-9)
	test.That(t, px.Right, test.ShouldAlmostEqual, 640, 1e-9)
}

func TestNormalizeClamps(t *testing.T) {
	in := tensorSet(detection.Box{Left: -0.2, Top: 0.1, Right: 1.3, Bottom: 0.5})
	b := Normalize(in, stretch(640, 480)).Detections[0].Box
	test.That(t, b.Left, test.ShouldEqual, 0.0)
	test.That(t, b.Right, test.ShouldEqual, 1.0)
	test.That(t, b.Top, test.ShouldEqual, 0.1)

	m := Mapper{Viewport: preprocess.Size{Width: 640, Height: 480}, Fit: Cover}
	px := m.Map(in, stretch(640, 480)).Detections[0].Box
	test.That(t, px.Left, test.ShouldAlmostEqual, -128, 1e-9)
	test.That(t, px.Right, test.ShouldAlmostEqual, 832, 1e-9)
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	viewports := []preprocess.Size{{Width: 1080, Height: 1920}, {Width: 1920, Height: 1080}, {Width: 300, Height: 300}}
	transforms := []preprocess.Transform{
		stretch(640, 480),
		stretch(480, 640),
		{
			Source:  preprocess.Size{Width: 480, Height: 640},
			Padding: preprocess.Letterbox,
			Padded:  preprocess.Size{Width: 640, Height: 640},
			PadLeft: 80,
			Target:  preprocess.Size{Width: 320, Height: 320},
		},
	}
	for _, vp := range viewports {
		for _, tr := range transforms {
			for _, fit := range []FitPolicy{Cover, Contain} {
				m := Mapper{Viewport: vp, Fit: fit}
				for i := 0; i < 25; i++ {
					l, top := rng.Float64(), rng.Float64()
					in := tensorSet(detection.Box{Left: l, Top: top, Right: l + rng.Float64()/2, Bottom: top + rng.Float64()/2})
					back := m.Invert(m.Map(in, tr), tr)
					test.That(t, back.Space, test.ShouldEqual, detection.SpaceTensor)
					got, want := back.Detections[0].Box, in.Detections[0].Box
					test.That(t, got.Left, test.ShouldAlmostEqual, want.Left, 1e-4)
					test.That(t, got.Top, test.ShouldAlmostEqual, want.Top, 1e-4)
					test.That(t, got.Right, test.ShouldAlmostEqual, want.Right, 1e-4)
					test.That(t, got.Bottom, test.ShouldAlmostEqual, want.Bottom, 1e-4)
				}
			}
		}
	}
}

func TestSpaceTags(t *testing.T) {
	m := Mapper{Viewport: preprocess.Size{Width: 100, Height: 100}}
	tr := stretch(100, 100)
	px := m.Map(tensorSet(detection.Box{Right: 1, Bottom: 1}), tr)
	test.That(t, m.Map(px, tr), test.ShouldResemble, px)
	test.That(t, Normalize(px, tr), test.ShouldResemble, px)

	src := Normalize(tensorSet(detection.Box{Right: 0.5, Bottom: 0.5}), tr)
	fromSource := m.Map(src, tr).Detections[0].Box
	test.That(t, fromSource.Right, test.ShouldEqual, 50.0)
}

func TestParseFitPolicy(t *testing.T) {
	f, err := ParseFitPolicy("contain")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f, test.ShouldEqual, Contain)
	_, err = ParseFitPolicy("fill")
	test.That(t, err, test.ShouldNotBeNil)
}
