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

package main

import (
	"context"

	"github.com/mpromonet/chilidetect/detection"
	"github.com/mpromonet/chilidetect/reference"
	"github.com/mpromonet/chilidetect/review"
)

type item struct {
	Label     string     `json:"label"`
	Score     float32    `json:"score"`
	Box       [4]float64 `json:"box"`
	Source    [4]float64 `json:"source"`
	Color     string     `json:"color"`
	TextColor string     `json:"text_color"`
}

type referenceInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Cause       string   `json:"cause"`
	Prevention  []string `json:"prevention"`
	Treatment   []string `json:"treatment"`
}

type report struct {
	Image       string         `json:"image"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	InferenceMS float64        `json:"inference_ms"`
	Summary     string         `json:"summary"`
	Detections  []item         `json:"detections"`
	Reference   *referenceInfo `json:"reference,omitempty"`
}

func corners(b detection.Box) [4]float64 {
	return [4]float64{b.Left, b.Top, b.Right, b.Bottom}
}

func newReport(ctx context.Context, name string, s *review.Session, catalog *reference.Catalog) (report, error) {
	res, err := s.Detect(ctx)
	if err != nil {
		return report{}, err
	}
	sum, err := s.Summary()
	if err != nil {
		return report{}, err
	}

	rep := report{
		Image:       name,
		Width:       res.FrameSize.Width,
		Height:      res.FrameSize.Height,
		InferenceMS: float64(res.InferenceTime.Microseconds()) / 1000,
		Summary:     sum.String(),
		Detections:  make([]item, 0, res.Detections.Len()),
	}
	for i, d := range res.Detections.Detections {
		rep.Detections = append(rep.Detections, item{
			Label:     d.Label,
			Score:     d.Score,
			Box:       corners(d.Box),
			Source:    corners(res.Normalized.Detections[i].Box),
			Color:     catalog.ColorFor(d.Label).Hex(),
			TextColor: catalog.TextColorFor(d.Label).Hex(),
		})
	}

	e, ok, err := s.Reference(catalog)
	if err != nil {
		return report{}, err
	}
	if ok {
		rep.Reference = &referenceInfo{
			Name:        e.Name,
			Description: e.Description,
			Cause:       e.Cause,
			Prevention:  e.Prevention,
			Treatment:   e.Treatment,
		}
	}
	return rep, nil
}
