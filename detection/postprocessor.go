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

// Postprocessor filters or rewrites detections after suppression.
type Postprocessor func([]Detection) []Detection

// NewScoreFilter keeps detections scoring strictly above min.
func NewScoreFilter(min float32) Postprocessor {
	return func(in []Detection) []Detection {
		out := make([]Detection, 0, len(in))
		for _, d := range in {
			if d.Score > min {
				out = append(out, d)
			}
		}
		return out
	}
}


// Compose chains ps, feeding each one the output of the previous. Nil
// entries are skipped.
func Compose(ps ...Postprocessor) Postprocessor {
	return func(in []Detection) []Detection {
		for _, p := range ps {
			if p != nil {
				in = p(in)
			}
		}
		return in
	}
}
