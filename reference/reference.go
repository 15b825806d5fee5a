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

// Package reference maps detection labels to descriptive entries and
// display colours.
package reference

import (
	"bytes"
	_ "embed"
	"io"
	"os"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtin []byte

var (
	white = colorful.Color{R: 1, G: 1, B: 1}
	black = colorful.Color{}
)

// Entry describes one label.
type Entry struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Cause       string     `yaml:"cause"`
	Prevention  []string   `yaml:"prevention"`
	Treatment   []string   `yaml:"treatment"`
	Match       [][]string `yaml:"match"`
	Hex         string     `yaml:"color"`
}

// Color returns the entry colour, white when none is set.
func (e Entry) Color() colorful.Color {
	if e.Hex == "" {
		return white
	}
	c, err := colorful.Hex(e.Hex)
	if err != nil {
		return white
	}
	return c
}

// TextColor returns white or black, whichever reads better on Color.
func (e Entry) TextColor() colorful.Color {
	return textOn(e.Color())
}

func textOn(bg colorful.Color) colorful.Color {
	if 0.2126*bg.R+0.7152*bg.G+0.0722*bg.B < 0.5 {
		return white
	}
	return black
}

func (e Entry) matches(label string) bool {
	for _, rule := range e.Match {
		if len(rule) == 0 {
			continue
		}
		all := true
		for _, kw := range rule {
			if !strings.Contains(label, strings.ToLower(kw)) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// Catalog is an ordered list of entries.
type Catalog struct {
	entries []Entry
}

type document struct {
	Entries []Entry `yaml:"entries"`
}

// Default returns the catalog built into the package.
func Default() *Catalog {
	c, err := Parse(bytes.NewReader(builtin))
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads a catalog file. An empty path selects the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open reference catalog")
	}
	defer f.Close()
	c, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "in %s", path)
	}
	return c, nil
}

// Parse decodes a YAML catalog.
func Parse(r io.Reader) (*Catalog, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "cannot decode reference catalog")
	}
	for i, e := range doc.Entries {
		if strings.TrimSpace(e.Name) == "" {
			return nil, errors.Errorf("entry %d has no name", i)
		}
		if e.Hex != "" {
			if _, err := colorful.Hex(e.Hex); err != nil {
				return nil, errors.Wrapf(err, "entry %q has invalid color %q", e.Name, e.Hex)
			}
		}
	}
	return &Catalog{entries: doc.Entries}, nil
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Lookup finds the entry for label: an entry whose name equals it ignoring
// case, or else the first entry with a matching rule.
func (c *Catalog) Lookup(label string) (Entry, bool) {
	for _, e := range c.entries {
		if strings.EqualFold(e.Name, label) {
			return e, true
		}
	}
	lower := strings.ToLower(label)
	for _, e := range c.entries {
		if e.matches(lower) {
			return e, true
		}
	}
	return Entry{}, false
}

// ColorFor returns the colour boxes of label are drawn in.
func (c *Catalog) ColorFor(label string) colorful.Color {
	e, _ := c.Lookup(label)
	return e.Color()
}

// TextColorFor returns the colour of text drawn over ColorFor(label).
func (c *Catalog) TextColorFor(label string) colorful.Color {
	return textOn(c.ColorFor(label))
}
