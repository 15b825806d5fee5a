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

// Package review runs detection on a single still image owned by a session.
package review

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/pkg/errors"

	"github.com/mpromonet/chilidetect/detection"
	"github.com/mpromonet/chilidetect/detector"
	"github.com/mpromonet/chilidetect/frame"
	"github.com/mpromonet/chilidetect/preprocess"
	"github.com/mpromonet/chilidetect/reference"
)

// ErrReleased is returned by a session after Release.
var ErrReleased = errors.New("review session released")

// Summary condenses a review result to its best detection.
type Summary struct {
	Best   detection.Detection
	Others int
	Found  bool
}

func (s Summary) String() string {
	switch {
	case !s.Found:
		return "nothing detected"
	case s.Others == 0:
		return s.Best.Label
	}
	return fmt.Sprintf("%s (+%d more)", s.Best.Label, s.Others)
}

// Session owns one image from Start until Release.
type Session struct {
	mu       sync.Mutex
	det      *detector.Detector
	frame    frame.Frame
	viewport preprocess.Size
	result   *detector.Result
	released bool
}

// Start copies img into a new session. The caller keeps ownership of img.
func Start(det *detector.Detector, img image.Image, viewport preprocess.Size) *Session {
	return &Session{
		det:      det,
		frame:    frame.FromImage(img, frame.Rotate0, det.Clock().Now()),
		viewport: viewport,
	}
}

// Detect runs detection once on the session image and keeps the result.
func (s *Session) Detect(ctx context.Context) (detector.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return detector.Result{}, ErrReleased
	}
	res, err := s.det.Detect(ctx, s.frame, s.det.ReviewRequest(s.viewport))
	if err != nil {
		return res, err
	}
	s.result = &res
	return res, nil
}

// Result returns the last result, if Detect has run.
func (s *Session) Result() (detector.Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return detector.Result{}, false, ErrReleased
	}
	if s.result == nil {
		return detector.Result{}, false, nil
	}
	return *s.result, true, nil
}

// Summary reports the best detection of the last result.
func (s *Session) Summary() (Summary, error) {
	res, ok, err := s.Result()
	if err != nil || !ok {
		return Summary{}, err
	}
	best, found := res.Detections.Best()
	if !found {
		return Summary{}, nil
	}
	return Summary{Best: best, Others: res.Detections.Len() - 1, Found: true}, nil
}

// Reference looks up the best detection in catalog.
func (s *Session) Reference(catalog *reference.Catalog) (reference.Entry, bool, error) {
	sum, err := s.Summary()
	if err != nil || !sum.Found {
		return reference.Entry{}, false, err
	}
	e, ok := catalog.Lookup(sum.Best.Label)
	return e, ok, nil
}

// Release drops the image and result. Later calls return ErrReleased.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	s.frame = frame.Frame{}
	s.result = nil
}
