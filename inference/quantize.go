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

package inference

// quantization is the affine mapping real = (q - zeroPoint) * scale used by
// uint8 tensors.
type quantization struct {
	scale     float32
	zeroPoint int
}

// A zero scale is treated as the usual 1/255 image scale.
func (q quantization) step() float32 {
	if q.scale == 0 {
		return 1.0 / 255
	}
	return q.scale
}

// quantize writes src into dst, rounding to nearest and saturating to [0,255].
func quantize(dst []uint8, src []float32, q quantization) {
	step := q.step()
	for i, v := range src {
		x := v/step + float32(q.zeroPoint)
		switch {
		case x < 0:
			x = 0
		case x > 255:
			x = 255
		}
		dst[i] = uint8(x + 0.5)
	}
}

func dequantize(dst []float32, src []uint8, q quantization) {
	step := q.step()
	for i, v := range src {
		dst[i] = (float32(v) - float32(q.zeroPoint)) * step
	}
}
