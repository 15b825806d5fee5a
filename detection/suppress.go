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

package detection

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// SuppressionPolicy selects which pairs of boxes may suppress each other.
type SuppressionPolicy int

const (
	// ClassAgnostic compares every pair regardless of label.
	ClassAgnostic SuppressionPolicy = iota
	// ClassAware only compares boxes with the same class.
	ClassAware
)

func (p SuppressionPolicy) String() string {
	if p == ClassAware {
		return "class_aware"
	}
	return "class_agnostic"
}

// ParseSuppressionPolicy maps a configuration string to a policy.
func ParseSuppressionPolicy(s string) (SuppressionPolicy, error) {
	switch s {
	case "", "class_agnostic":
		return ClassAgnostic, nil
	case "class_aware":
		return ClassAware, nil
	}
	return ClassAgnostic, errors.Errorf("unknown suppression policy %q", s)
}

// IoU is the intersection over union of two boxes, 0 when they do not overlap.
func IoU(a, b Box) float64 {
	w := math.Min(a.Right, b.Right) - math.Max(a.Left, b.Left)
	h := math.Min(a.Bottom, b.Bottom) - math.Max(a.Top, b.Top)
	if w <= 0 || h <= 0 {
		return 0
	}
	inter := w * h
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Suppress runs greedy non-max suppression. Candidates are ordered by score
// descending, ties keeping their input order, and any candidate overlapping
// an already kept one by more than iouThreshold is dropped.
func Suppress(candidates []Detection, iouThreshold float64, policy SuppressionPolicy) []Detection {
	sorted := make([]Detection, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	kept := make([]Detection, 0, len(sorted))
	removed := make([]bool, len(sorted))
	for i := range sorted {
		if removed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if removed[j] {
				continue
			}
			if policy == ClassAware && sorted[i].ClassID != sorted[j].ClassID {
				continue
			}
			if IoU(sorted[i].Box, sorted[j].Box) > iouThreshold {
				removed[j] = true
			}
		}
	}
	return kept
}
