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

// Command chilidetect runs the chili disease detector on image files.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/mpromonet/chilidetect/config"
	"github.com/mpromonet/chilidetect/detector"
	"github.com/mpromonet/chilidetect/frame"
	"github.com/mpromonet/chilidetect/logging"
	"github.com/mpromonet/chilidetect/preprocess"
	"github.com/mpromonet/chilidetect/reference"
	"github.com/mpromonet/chilidetect/review"
)

const (
	flagConfig    = "config"
	flagDebug     = "debug"
	flagWidth     = "width"
	flagHeight    = "height"
	flagReference = "reference"
	flagFrames    = "frames"
)

var viewportFlags = []cli.Flag{
	&cli.IntFlag{Name: flagWidth, Usage: "viewport width boxes are mapped to, image width when unset"},
	&cli.IntFlag{Name: flagHeight, Usage: "viewport height boxes are mapped to, image height when unset"},
}

var app = &cli.App{
	Name:            "chilidetect",
	Usage:           "detect chili plant diseases in images",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			EnvVars: []string{config.EnvPrefix + "CONFIG"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:  flagDebug,
			Usage: "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "detect",
			Usage:     "detect diseases in still images and print them as JSON",
			ArgsUsage: "IMAGE...",
			Flags: append([]cli.Flag{
				&cli.StringFlag{Name: flagReference, Usage: "reference catalog `FILE`, built-in catalog when unset"},
			}, viewportFlags...),
			Action: detectAction,
		},
		{
			Name:   "info",
			Usage:  "describe the configured model",
			Action: infoAction,
		},
		{
			Name:      "bench",
			Usage:     "feed an image to the live worker and report throughput",
			ArgsUsage: "IMAGE",
			Flags: append([]cli.Flag{
				&cli.IntFlag{Name: flagFrames, Value: 100, Usage: "number of frames to submit"},
			}, viewportFlags...),
			Action: benchAction,
		},
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type session struct {
	cfg    config.Config
	logger *zap.SugaredLogger
	det    *detector.Detector
}

func open(c *cli.Context) (*session, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, err
	}
	if c.Bool(flagDebug) {
		cfg.Log.Level = "debug"
	}
	logger, err := logging.New("chilidetect", cfg.Log)
	if err != nil {
		return nil, err
	}
	det, err := detector.Open(cfg, detector.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, det: det}, nil
}

func (s *session) close() {
	if err := s.det.Close(); err != nil {
		s.logger.Warnw("closing detector", "error", err)
	}
	//nolint:errcheck
	s.logger.Sync()
}

func viewport(c *cli.Context) preprocess.Size {
	return preprocess.Size{Width: c.Int(flagWidth), Height: c.Int(flagHeight)}
}

func detectAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("no image given")
	}
	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.close()

	path := c.String(flagReference)
	if path == "" {
		path = s.cfg.Reference.CatalogPath
	}
	catalog, err := reference.Load(path)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	for _, name := range c.Args().Slice() {
		img, err := imaging.Open(name, imaging.AutoOrientation(true))
		if err != nil {
			return errors.Wrapf(err, "cannot open %s", name)
		}
		rev := review.Start(s.det, img, viewport(c))
		rep, err := newReport(c.Context, name, rev, catalog)
		rev.Release()
		if err != nil {
			return err
		}
		if err := enc.Encode(rep); err != nil {
			return err
		}
	}
	return nil
}

func infoAction(c *cli.Context) error {
	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.close()

	d := s.det.Descriptor()
	w := c.App.Writer
	fmt.Fprintf(w, "path:       %s\n", s.det.Path())
	fmt.Fprintf(w, "input:      %dx%dx%d\n", d.InputWidth, d.InputHeight, d.InputChannels)
	fmt.Fprintf(w, "anchors:    %d\n", d.NumAnchors)
	fmt.Fprintf(w, "layout:     %s\n", d.Layout)
	fmt.Fprintf(w, "convention: %s\n", d.Convention)
	fmt.Fprintf(w, "classes:    %d\n", d.NumClasses)
	for i, l := range d.Labels {
		fmt.Fprintf(w, "  %2d %s\n", i, l)
	}
	return nil
}

// repeatSource yields the same image n times, each with its own timestamp.
type repeatSource struct {
	f    frame.Frame
	n    int
	sent int
}

func stamp(i int) time.Time {
	return time.Unix(0, int64(i))
}

func (r *repeatSource) Next(ctx context.Context) (frame.Frame, error) {
	if r.sent >= r.n {
		<-ctx.Done()
		return frame.Frame{}, ctx.Err()
	}
	f := r.f
	f.Timestamp = stamp(r.sent)
	r.sent++
	return f, nil
}

func benchAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("bench takes exactly one image")
	}
	n := c.Int(flagFrames)
	if n <= 0 {
		return errors.Errorf("--%s must be positive", flagFrames)
	}
	img, err := imaging.Open(c.Args().First(), imaging.AutoOrientation(true))
	if err != nil {
		return errors.Wrapf(err, "cannot open %s", c.Args().First())
	}
	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.close()

	src := &repeatSource{f: frame.FromImage(img, frame.Rotate0, time.Time{}), n: n}
	snap, err := bench(c.Context, s.det, detector.NewWorker(s.det, s.det.LiveRequest(viewport(c)), src), stamp(n-1))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "submitted %d, dropped %d, processed %d, failed %d\n",
		snap.Submitted, snap.Dropped, snap.Processed, snap.Failed)
	fmt.Fprintf(c.App.Writer, "%.1f fps, inference mean %v p95 %v\n",
		snap.FPS, snap.MeanInference, snap.P95Inference)
	return nil
}

// bench runs w until the frame stamped last has a result.
func bench(ctx context.Context, det *detector.Detector, w *detector.Worker, last time.Time) (detector.Snapshot, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for {
		select {
		case res := <-w.Results():
			if res.Timestamp.Equal(last) {
				cancel()
				return det.Stats(), <-done
			}
		case err := <-done:
			if err == nil {
				err = errors.New("worker stopped before the last frame")
			}
			return det.Stats(), err
		}
	}
}
