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

package detector

import (
	"github.com/pkg/errors"

	"github.com/mpromonet/chilidetect/frame"
	"github.com/mpromonet/chilidetect/inference"
)

var (
	// ErrDetectorClosed is returned by every call made after Close.
	ErrDetectorClosed = errors.New("detector closed")
	// ErrInvalidConfig reports a configuration that fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidFrame is frame.ErrInvalidFrame.
	ErrInvalidFrame = frame.ErrInvalidFrame
	// ErrModelLoad is inference.ErrModelLoad.
	ErrModelLoad = inference.ErrModelLoad
	// ErrEngineInitFailed is inference.ErrEngineInitFailed.
	ErrEngineInitFailed = inference.ErrEngineInitFailed
	// ErrInferenceFailed is inference.ErrInferenceFailed.
	ErrInferenceFailed = inference.ErrInferenceFailed
	// ErrEngineClosed is inference.ErrEngineClosed.
	ErrEngineClosed = inference.ErrEngineClosed
)
