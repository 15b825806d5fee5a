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

// Package labels reads class label files, one label per line.
package labels

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Load reads the label file at path.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open label file")
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads labels from r. Trailing blank lines are ignored; a blank line
// between labels is an error because it would shift every later class.
func Parse(r io.Reader) ([]string, error) {
	labels := []string{}
	blank := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			blank++
			continue
		}
		if blank > 0 {
			return nil, errors.Errorf("blank line before label %d", len(labels)+blank)
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "cannot read labels")
	}
	if len(labels) == 0 {
		return nil, errors.New("label file is empty")
	}
	return labels, nil
}
