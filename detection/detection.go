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

// Package detection decodes raw model output into labelled boxes and
// removes overlapping duplicates.
package detection

import "fmt"

// Space tags the coordinate system a box is expressed in.
type Space int

const (
	// SpaceTensor boxes are fractions of the model input.
	SpaceTensor Space = iota
	// SpaceSource boxes are fractions of the upright source frame.
	SpaceSource
	// SpaceViewport boxes are pixels of a destination viewport.
	SpaceViewport
)

func (s Space) String() string {
	switch s {
	case SpaceTensor:
		return "tensor"
	case SpaceSource:
		return "source"
	case SpaceViewport:
		return "viewport"
	}
	return "unknown"
}

// Box is an axis aligned rectangle.
type Box struct {
	Left   float64
	Top    float64
	Right  float64
	Bottom float64
	Space  Space
}

// Width of the box.
func (b Box) Width() float64 { return b.Right - b.Left }

// Height of the box.
func (b Box) Height() float64 { return b.Bottom - b.Top }

// Area is zero for degenerate boxes.
func (b Box) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

func (b Box) String() string {
	return fmt.Sprintf("%s(%.4f,%.4f,%.4f,%.4f)", b.Space, b.Left, b.Top, b.Right, b.Bottom)
}

// Detection is one labelled box.
type Detection struct {
	Box     Box
	ClassID int
	Label   string
	Score   float32
}

func (d Detection) String() string {
	return fmt.Sprintf("%s %d%% %s", d.Label, int(d.Score*100+0.5), d.Box)
}

// Set is the result of one detection pass, sorted by score descending.
type Set struct {
	Space      Space
	Detections []Detection
}

// Len returns the number of detections.
func (s Set) Len() int { return len(s.Detections) }

// Empty reports whether nothing was detected.
func (s Set) Empty() bool { return len(s.Detections) == 0 }

// Best returns the highest scoring detection.
func (s Set) Best() (Detection, bool) {
	if len(s.Detections) == 0 {
		return Detection{}, false
	}
	return s.Detections[0], true
}

// Labels returns the labels in score order.
func (s Set) Labels() []string {
	labels := make([]string, 0, len(s.Detections))
	for _, d := range s.Detections {
		labels = append(labels, d.Label)
	}
	return labels
}
