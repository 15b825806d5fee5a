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

// Package frame defines the immutable image value handed from capture to detection.
package frame

import (
	"image"
	"math"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// ErrInvalidFrame is returned when a frame's buffer does not match its declared geometry.
var ErrInvalidFrame = errors.New("invalid frame")

// Format is the pixel layout of a frame buffer.
type Format int

const (
	// RGBA is interleaved 8-bit red, green, blue, alpha.
	RGBA Format = iota
	// RGB is interleaved 8-bit red, green, blue.
	RGB
)

// Stride returns the number of bytes per pixel.
func (f Format) Stride() int {
	switch f {
	case RGBA:
		return 4
	case RGB:
		return 3
	}
	return 0
}

func (f Format) String() string {
	switch f {
	case RGBA:
		return "rgba"
	case RGB:
		return "rgb"
	}
	return "unknown"
}

// MaxSide bounds each frame dimension.
const MaxSide = 1 << 15

// Rotation is the clockwise turn, in degrees, that makes a frame upright.
type Rotation int

// Supported rotations.
const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// Valid reports whether r is a quarter turn.
func (r Rotation) Valid() bool {
	switch r {
	case Rotate0, Rotate90, Rotate180, Rotate270:
		return true
	}
	return false
}

// Swaps reports whether applying r exchanges width and height.
func (r Rotation) Swaps() bool {
	return r == Rotate90 || r == Rotate270
}

// Frame is one captured image. It is never mutated once built. RGBA pixels
// are straight, not premultiplied, alpha.
type Frame struct {
	Width     int
	Height    int
	Pixels    []byte
	Format    Format
	Rotation  Rotation
	Timestamp time.Time
}

// Validate checks that the buffer matches width×height×stride.
func (f Frame) Validate() error {
	stride := f.Format.Stride()
	if stride == 0 {
		return errors.Wrapf(ErrInvalidFrame, "unsupported format %d", f.Format)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return errors.Wrapf(ErrInvalidFrame, "non-positive dimensions %dx%d", f.Width, f.Height)
	}
	if f.Width > MaxSide || f.Height > MaxSide || f.Width > math.MaxInt/f.Height/stride {
		return errors.Wrapf(ErrInvalidFrame, "dimensions %dx%d exceed %d", f.Width, f.Height, MaxSide)
	}
	if !f.Rotation.Valid() {
		return errors.Wrapf(ErrInvalidFrame, "rotation %d is not a quarter turn", f.Rotation)
	}
	if want := f.Width * f.Height * stride; len(f.Pixels) != want {
		return errors.Wrapf(ErrInvalidFrame, "buffer has %d bytes, %dx%d %s needs %d",
			len(f.Pixels), f.Width, f.Height, f.Format, want)
	}
	return nil
}

// UprightSize returns the frame dimensions after its rotation is applied.
func (f Frame) UprightSize() (int, int) {
	if f.Rotation.Swaps() {
		return f.Height, f.Width
	}
	return f.Width, f.Height
}

// Image validates the frame and exposes it as an opaque NRGBA image. Alpha
// is not a model input, so any alpha below 0xff is discarded. Opaque RGBA
// frames share the underlying buffer, which callers must treat as read-only.
func (f Frame) Image() (*image.NRGBA, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, f.Width, f.Height)
	if f.Format == RGBA {
		if opaque(f.Pixels) {
			return &image.NRGBA{Pix: f.Pixels, Stride: 4 * f.Width, Rect: rect}, nil
		}
		img := image.NewNRGBA(rect)
		copy(img.Pix, f.Pixels)
		for i := 3; i < len(img.Pix); i += 4 {
			img.Pix[i] = 0xff
		}
		return img, nil
	}
	img := image.NewNRGBA(rect)
	for i, j := 0, 0; i < len(f.Pixels); i, j = i+3, j+4 {
		img.Pix[j] = f.Pixels[i]
		img.Pix[j+1] = f.Pixels[i+1]
		img.Pix[j+2] = f.Pixels[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

func opaque(pix []byte) bool {
	for i := 3; i < len(pix); i += 4 {
		if pix[i] != 0xff {
			return false
		}
	}
	return true
}

// FromImage copies img into a new straight-alpha RGBA frame.
func FromImage(img image.Image, rotation Rotation, ts time.Time) Frame {
	clone := imaging.Clone(img)
	b := clone.Bounds()
	return Frame{
		Width:     b.Dx(),
		Height:    b.Dy(),
		Pixels:    clone.Pix,
		Format:    RGBA,
		Rotation:  rotation,
		Timestamp: ts,
	}
}
