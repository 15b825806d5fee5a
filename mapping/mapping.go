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

// Package mapping moves detections between tensor, source and viewport
// coordinates.
package mapping

import (
	"math"

	"github.com/pkg/errors"

	"github.com/mpromonet/chilidetect/detection"
	"github.com/mpromonet/chilidetect/preprocess"
)

// FitPolicy is how a source image is fitted into a viewport.
type FitPolicy int

const (
	// Cover fills the viewport and may crop the source.
	Cover FitPolicy = iota
	// Contain shows the whole source and may leave bars.
	Contain
)

func (f FitPolicy) String() string {
	if f == Contain {
		return "contain"
	}
	return "cover"
}

// ParseFitPolicy maps a configuration string to a FitPolicy.
func ParseFitPolicy(s string) (FitPolicy, error) {
	switch s {
	case "", "cover":
		return Cover, nil
	case "contain":
		return Contain, nil
	}
	return Cover, errors.Errorf("unknown fit policy %q", s)
}

// Mapper maps detections into one viewport.
type Mapper struct {
	Viewport preprocess.Size
	Fit      FitPolicy
}

// Scale returns the source-to-viewport scale and the centering offsets.
// The offset is zero on the axis the source fills.
func (m Mapper) Scale(tr preprocess.Transform) (scale, offsetX, offsetY float64) {
	srcW, srcH := float64(tr.Source.Width), float64(tr.Source.Height)
	dstW, dstH := float64(m.Viewport.Width), float64(m.Viewport.Height)
	sx, sy := dstW/srcW, dstH/srcH
	if m.Fit == Contain {
		scale = math.Min(sx, sy)
	} else {
		scale = math.Max(sx, sy)
	}
	return scale, (dstW - srcW*scale) / 2, (dstH - srcH*scale) / 2
}

// Map converts tensor or source space detections into viewport pixels.
// Results are not clamped to the viewport.
func (m Mapper) Map(set detection.Set, tr preprocess.Transform) detection.Set {
	if set.Space == detection.SpaceViewport {
		return set
	}
	scale, ox, oy := m.Scale(tr)
	srcW, srcH := float64(tr.Source.Width), float64(tr.Source.Height)
	return apply(set, detection.SpaceViewport, func(b detection.Box) detection.Box {
		if set.Space == detection.SpaceTensor {
			b = unpad(b, tr)
		}
		return detection.Box{
			Left:   b.Left*srcW*scale + ox,
			Top:    b.Top*srcH*scale + oy,
			Right:  b.Right*srcW*scale + ox,
			Bottom: b.Bottom*srcH*scale + oy,
		}
	})
}

// Invert converts viewport pixels back into tensor space.
func (m Mapper) Invert(set detection.Set, tr preprocess.Transform) detection.Set {
	if set.Space != detection.SpaceViewport {
		return set
	}
	scale, ox, oy := m.Scale(tr)
	srcW, srcH := float64(tr.Source.Width), float64(tr.Source.Height)
	return apply(set, detection.SpaceTensor, func(b detection.Box) detection.Box {
		return pad(detection.Box{
			Left:   (b.Left - ox) / (srcW * scale),
			Top:    (b.Top - oy) / (srcH * scale),
			Right:  (b.Right - ox) / (srcW * scale),
			Bottom: (b.Bottom - oy) / (srcH * scale),
		}, tr)
	})
}

// Normalize converts tensor space detections into source fractions clamped
// to [0,1], suitable for storing independently of any viewport.
func Normalize(set detection.Set, tr preprocess.Transform) detection.Set {
	if set.Space != detection.SpaceTensor {
		return set
	}
	return apply(set, detection.SpaceSource, func(b detection.Box) detection.Box {
		b = unpad(b, tr)
		return detection.Box{
			Left:   clamp01(b.Left),
			Top:    clamp01(b.Top),
			Right:  clamp01(b.Right),
			Bottom: clamp01(b.Bottom),
		}
	})
}

func apply(set detection.Set, space detection.Space, f func(detection.Box) detection.Box) detection.Set {
	out := detection.Set{Space: space, Detections: make([]detection.Detection, len(set.Detections))}
	for i, d := range set.Detections {
		d.Box = f(d.Box)
		d.Box.Space = space
		out.Detections[i] = d
	}
	return out
}

// unpad removes letterbox borders, giving fractions of the source.
func unpad(b detection.Box, tr preprocess.Transform) detection.Box {
	if tr.Padding != preprocess.Letterbox {
		return b
	}
	pw, ph := float64(tr.Padded.Width), float64(tr.Padded.Height)
	sw, sh := float64(tr.Source.Width), float64(tr.Source.Height)
	return detection.Box{
		Left:   (b.Left*pw - tr.PadLeft) / sw,
		Top:    (b.Top*ph - tr.PadTop) / sh,
		Right:  (b.Right*pw - tr.PadLeft) / sw,
		Bottom: (b.Bottom*ph - tr.PadTop) / sh,
	}
}

func pad(b detection.Box, tr preprocess.Transform) detection.Box {
	if tr.Padding != preprocess.Letterbox {
		return b
	}
	pw, ph := float64(tr.Padded.Width), float64(tr.Padded.Height)
	sw, sh := float64(tr.Source.Width), float64(tr.Source.Height)
	return detection.Box{
		Left:   (b.Left*sw + tr.PadLeft) / pw,
		Top:    (b.Top*sh + tr.PadTop) / ph,
		Right:  (b.Right*sw + tr.PadLeft) / pw,
		Bottom: (b.Bottom*sh + tr.PadTop) / ph,
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
