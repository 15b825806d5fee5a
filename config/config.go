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

// Package config loads detector settings from defaults, a YAML file and
// CHILI_ environment variables, in that order.
package config

import (
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/mpromonet/chilidetect/detection"
	"github.com/mpromonet/chilidetect/inference"
	"github.com/mpromonet/chilidetect/mapping"
	"github.com/mpromonet/chilidetect/preprocess"
)

// EnvPrefix is stripped from environment variables; CHILI_DETECTION_IOUTHRESHOLD
// sets detection.iouthreshold.
const EnvPrefix = "CHILI_"

// ModelConfig locates the model and selects how it runs.
type ModelConfig struct {
	Path          string `koanf:"path"`
	LabelPath     string `koanf:"labelpath"`
	NumThreads    int    `koanf:"numthreads"`
	Accelerator   string `koanf:"accelerator"`
	BoxConvention string `koanf:"boxconvention"`
	Resampler     string `koanf:"resampler"`
}

// DetectionConfig holds the decoding and suppression thresholds. Neither
// threshold has a default.
type DetectionConfig struct {
	ConfidenceThreshold float64 `koanf:"confidencethreshold"`
	IoUThreshold        float64 `koanf:"iouthreshold"`
	Suppression         string  `koanf:"suppression"`
}

// ModeConfig is how results are fitted and filtered for one display flow.
type ModeConfig struct {
	Fit      string  `koanf:"fit"`
	Padding  string  `koanf:"padding"`
	MinScore float64 `koanf:"minscore"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level       string `koanf:"level"`
	Development bool   `koanf:"development"`
	File        string `koanf:"file"`
	MaxSizeMB   int    `koanf:"maxsizemb"`
	MaxBackups  int    `koanf:"maxbackups"`
	MaxAgeDays  int    `koanf:"maxagedays"`
}

// ReferenceConfig locates the label reference catalog.
type ReferenceConfig struct {
	CatalogPath string `koanf:"catalogpath"`
}

// Config is the full detector configuration.
type Config struct {
	Model     ModelConfig     `koanf:"model"`
	Detection DetectionConfig `koanf:"detection"`
	Live      ModeConfig      `koanf:"live"`
	Review    ModeConfig      `koanf:"review"`
	Log       LogConfig       `koanf:"log"`
	Reference ReferenceConfig `koanf:"reference"`
}

var defaults = map[string]interface{}{
	"model.numthreads":      4,
	"model.accelerator":     "auto",
	"model.boxconvention":   "auto",
	"model.resampler":       "pure",
	"detection.suppression": "class_agnostic",
	"live.fit":              "cover",
	"live.padding":          "stretch",
	"live.minscore":         0.45,
	"review.fit":            "contain",
	"review.padding":        "letterbox",
	"review.minscore":       0.5,
	"log.level":             "info",
	"log.maxsizemb":         10,
	"log.maxbackups":        3,
	"log.maxagedays":        28,
}

// Load reads the configuration. An empty path skips the file layer.
func Load(path string) (Config, error) {
	var cfg Config
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return cfg, errors.Wrap(err, "cannot load defaults")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, errors.Wrapf(err, "cannot load config file %q", path)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
	}), nil); err != nil {
		return cfg, errors.Wrap(err, "cannot load environment")
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, errors.Wrap(err, "cannot decode config")
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration. All problems are reported together.
func (c Config) Validate() error {
	var err error
	if c.Model.Path == "" {
		err = multierr.Append(err, errors.New("model.path is required"))
	}
	if c.Model.LabelPath == "" {
		err = multierr.Append(err, errors.New("model.labelpath is required"))
	}
	if c.Model.NumThreads < 0 {
		err = multierr.Append(err, errors.Errorf("model.numthreads must not be negative, got %d", c.Model.NumThreads))
	}
	if !(c.Detection.ConfidenceThreshold > 0 && c.Detection.ConfidenceThreshold < 1) {
		err = multierr.Append(err, errors.Errorf("detection.confidencethreshold must be in (0,1), got %v", c.Detection.ConfidenceThreshold))
	}
	if !(c.Detection.IoUThreshold > 0 && c.Detection.IoUThreshold <= 1) {
		err = multierr.Append(err, errors.Errorf("detection.iouthreshold must be in (0,1], got %v", c.Detection.IoUThreshold))
	}

	_, perr := inference.ParsePreference(c.Model.Accelerator)
	err = multierr.Append(err, perr)
	_, perr = inference.ParseConvention(c.Model.BoxConvention)
	err = multierr.Append(err, perr)
	_, perr = preprocess.ByName(c.Model.Resampler)
	err = multierr.Append(err, perr)
	_, perr = detection.ParseSuppressionPolicy(c.Detection.Suppression)
	err = multierr.Append(err, perr)

	for _, m := range []struct {
		name string
		ModeConfig
	}{{"live", c.Live}, {"review", c.Review}} {
		_, perr = mapping.ParseFitPolicy(m.Fit)
		err = multierr.Append(err, errors.Wrap(perr, m.name))
		_, perr = preprocess.ParsePadding(m.Padding)
		err = multierr.Append(err, errors.Wrap(perr, m.name))
		if m.MinScore < 0 || m.MinScore >= 1 {
			err = multierr.Append(err, errors.Errorf("%s.minscore must be in [0,1), got %v", m.name, m.MinScore))
		}
	}
	return err
}
