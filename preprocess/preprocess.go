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

// Package preprocess turns frames into normalized model input tensors.
package preprocess

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/mpromonet/chilidetect/frame"
)

// Channels is the number of color channels written into the tensor.
const Channels = 3

// Size is a width and height in pixels.
type Size struct {
	Width  int
	Height int
}

// Padding selects how a frame is fitted to the model input before resizing.
type Padding int

const (
	// Stretch resizes the frame directly, ignoring aspect ratio.
	Stretch Padding = iota
	// Letterbox pads the frame, centered, to the input aspect ratio first.
	Letterbox
)

func (p Padding) String() string {
	if p == Letterbox {
		return "letterbox"
	}
	return "stretch"
}

// ParsePadding maps a configuration string to a Padding.
func ParsePadding(s string) (Padding, error) {
	switch s {
	case "", "stretch":
		return Stretch, nil
	case "letterbox":
		return Letterbox, nil
	}
	return Stretch, errors.Errorf("unknown padding %q", s)
}

// Transform records the geometry applied by Process. The coordinate mapper
// inverts exactly this record.
type Transform struct {
	Source   Size
	Rotation frame.Rotation
	Padding  Padding
	Padded   Size
	PadLeft  float64
	PadTop   float64
	Target   Size
}

// Preprocessor converts frames into tensors using a Resampler.
type Preprocessor struct {
	resampler Resampler
}

// New returns a Preprocessor. A nil resampler selects the default one.
func New(r Resampler) *Preprocessor {
	if r == nil {
		r = DefaultResampler()
	}
	return &Preprocessor{resampler: r}
}

// Process rotates, pads and resizes f to target and returns a (1,H,W,3)
// float32 tensor scaled to [0,1], along with the transform that was applied.
func (p *Preprocessor) Process(f frame.Frame, target Size, padding Padding) (*tensor.Dense, Transform, error) {
	if target.Width <= 0 || target.Height <= 0 {
		return nil, Transform{}, errors.Errorf("invalid target size %dx%d", target.Width, target.Height)
	}
	img, err := f.Image()
	if err != nil {
		return nil, Transform{}, err
	}

	upright := p.resampler.Rotate(img, f.Rotation)
	b := upright.Bounds()
	tr := Transform{
		Source:   Size{b.Dx(), b.Dy()},
		Rotation: f.Rotation,
		Padding:  padding,
		Padded:   Size{b.Dx(), b.Dy()},
		Target:   target,
	}

	canvas := upright
	if padding == Letterbox {
		var left, top int
		tr.Padded, left, top = letterbox(tr.Source, target)
		tr.PadLeft, tr.PadTop = float64(left), float64(top)
		bg := imaging.New(tr.Padded.Width, tr.Padded.Height, color.NRGBA{0, 0, 0, 255})
		canvas = imaging.Paste(bg, upright, image.Pt(left, top))
	}

	resized := p.resampler.Resize(canvas, target.Width, target.Height)
	return toTensor(resized, target), tr, nil
}

// letterbox returns the smallest canvas with the target aspect ratio that
// contains src, and the offsets that center src in it.
func letterbox(src, target Size) (Size, int, int) {
	padded := src
	if src.Width*target.Height >= src.Height*target.Width {
		padded.Height = (src.Width*target.Height + target.Width - 1) / target.Width
	} else {
		padded.Width = (src.Height*target.Width + target.Height - 1) / target.Height
	}
	return padded, (padded.Width - src.Width) / 2, (padded.Height - src.Height) / 2
}

func toTensor(img image.Image, target Size) *tensor.Dense {
	data := make([]float32, target.Width*target.Height*Channels)
	b := img.Bounds()
	w, h := min(b.Dx(), target.Width), min(b.Dy(), target.Height)

	var pix []uint8
	var offset func(x, y int) int
	switch m := img.(type) {
	case *image.RGBA:
		pix, offset = m.Pix, m.PixOffset
	case *image.NRGBA:
		pix, offset = m.Pix, m.PixOffset
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := (y*target.Width + x) * Channels
			if pix != nil {
				off := offset(b.Min.X+x, b.Min.Y+y)
				data[idx] = float32(pix[off]) / 255
				data[idx+1] = float32(pix[off+1]) / 255
				data[idx+2] = float32(pix[off+2]) / 255
				continue
			}
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			data[idx] = float32(r>>8) / 255
			data[idx+1] = float32(g>>8) / 255
			data[idx+2] = float32(bl>>8) / 255
		}
	}
	return tensor.New(tensor.WithShape(1, target.Height, target.Width, Channels), tensor.WithBacking(data))
}
