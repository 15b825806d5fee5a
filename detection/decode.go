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
	"github.com/mpromonet/chilidetect/inference"
)

// Decode turns channel-major YOLO output into candidate detections in
// tensor space. An anchor is kept only when its best class score is
// strictly greater than threshold. Pixel-convention boxes are divided by
// the input size. The result is in anchor order.
func Decode(raw inference.RawOutput, labels []string, threshold float32, conv inference.Convention, inputWidth, inputHeight int) []Detection {
	numClasses := raw.Channels - 4
	if numClasses <= 0 {
		return nil
	}
	sx, sy := float32(1), float32(1)
	if conv == inference.ConventionPixel {
		sx, sy = 1/float32(inputWidth), 1/float32(inputHeight)
	}

	var candidates []Detection
	for a := 0; a < raw.Anchors; a++ {
		classID, score := argmax(raw, a, numClasses)
		if !(score > threshold) {
			continue
		}
		cx := raw.At(0, a) * sx
		cy := raw.At(1, a) * sy
		w := raw.At(2, a) * sx
		h := raw.At(3, a) * sy
		candidates = append(candidates, Detection{
			Box: Box{
				Left:   float64(cx - w/2),
				Top:    float64(cy - h/2),
				Right:  float64(cx + w/2),
				Bottom: float64(cy + h/2),
				Space:  SpaceTensor,
			},
			ClassID: classID,
			Label:   label(labels, classID),
			Score:   score,
		})
	}
	return candidates
}

// argmax over the class channels of one anchor; the first maximum wins.
func argmax(raw inference.RawOutput, anchor, numClasses int) (int, float32) {
	r, m := 0, raw.At(4, anchor)
	for c := 1; c < numClasses; c++ {
		if v := raw.At(4+c, anchor); v > m {
			m = v
			r = c
		}
	}
	return r, m
}

func label(labels []string, class int) string {
	if class < len(labels) {
		return labels[class]
	}
	return "unknown"
}
