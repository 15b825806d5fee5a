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

//go:build gocv

package preprocess

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/mpromonet/chilidetect/frame"
)

func init() {
	resamplers["gocv"] = GocvResampler
}

type gocvResampler struct {
	fallback Resampler
}

// GocvResampler returns a resampler backed by OpenCV. Any conversion
// failure falls back to the pure Go path for that call.
func GocvResampler() Resampler {
	return gocvResampler{fallback: DefaultResampler()}
}

func (g gocvResampler) Rotate(img image.Image, r frame.Rotation) image.Image {
	var code gocv.RotateFlag
	switch r {
	case frame.Rotate90:
		code = gocv.Rotate90Clockwise
	case frame.Rotate180:
		code = gocv.Rotate180Clockwise
	case frame.Rotate270:
		code = gocv.Rotate90CounterClockwise
	default:
		return img
	}

	mat, err := gocv.ImageToMatRGBA(img)
	if err != nil {
		return g.fallback.Rotate(img, r)
	}
	defer mat.Close()
	rotated := gocv.NewMat()
	defer rotated.Close()
	gocv.Rotate(mat, &rotated, code)

	out, err := rotated.ToImage()
	if err != nil {
		return g.fallback.Rotate(img, r)
	}
	return out
}

func (g gocvResampler) Resize(img image.Image, width, height int) image.Image {
	mat, err := gocv.ImageToMatRGBA(img)
	if err != nil {
		return g.fallback.Resize(img, width, height)
	}
	defer mat.Close()
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)

	out, err := resized.ToImage()
	if err != nil {
		return g.fallback.Resize(img, width, height)
	}
	return out
}
