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

package preprocess

import (
	"image"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/mpromonet/chilidetect/frame"
)

// Resampler performs the pixel-moving steps of preprocessing.
type Resampler interface {
	// Rotate turns img clockwise by r.
	Rotate(img image.Image, r frame.Rotation) image.Image
	// Resize scales img to exactly width×height with bilinear interpolation.
	Resize(img image.Image, width, height int) image.Image
}

type pureResampler struct{}

// DefaultResampler returns the pure Go resampler.
func DefaultResampler() Resampler {
	return pureResampler{}
}

// imaging rotates counter-clockwise, so clockwise quarter turns are mirrored.
func (pureResampler) Rotate(img image.Image, r frame.Rotation) image.Image {
	switch r {
	case frame.Rotate90:
		return imaging.Rotate270(img)
	case frame.Rotate180:
		return imaging.Rotate180(img)
	case frame.Rotate270:
		return imaging.Rotate90(img)
	}
	return img
}

func (pureResampler) Resize(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	return resize.Resize(uint(width), uint(height), img, resize.Bilinear)
}

var resamplers = map[string]func() Resampler{
	"pure": DefaultResampler,
}

// ByName returns a registered resampler. The empty name selects the default.
func ByName(name string) (Resampler, error) {
	if name == "" {
		return DefaultResampler(), nil
	}
	ctor, ok := resamplers[name]
	if !ok {
		return nil, errors.Errorf("unknown resampler %q, have %v", name, Names())
	}
	return ctor(), nil
}

// Names lists the registered resamplers.
func Names() []string {
	names := make([]string, 0, len(resamplers))
	for name := range resamplers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
