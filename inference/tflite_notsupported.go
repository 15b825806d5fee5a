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

//go:build !cgo || no_tflite

package inference

import "github.com/pkg/errors"

var errNoTFLite = errors.New("tflite support not compiled in")

// NewAcceleratedBackend is unavailable without cgo.
func NewAcceleratedBackend(blob []byte, threads int) (Backend, error) {
	return nil, errNoTFLite
}

// NewCPUBackend is unavailable without cgo.
func NewCPUBackend(blob []byte, threads int) (Backend, error) {
	return nil, errNoTFLite
}
