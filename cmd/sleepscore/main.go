// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Command sleepscore loads the recordings listed in a YAML config into one
// aligned matrix and exports it as an EDF file for sleep scoring.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/OpenPSG/sleepscore"
	"github.com/OpenPSG/sleepscore/config"
	"github.com/OpenPSG/sleepscore/edf"
	"github.com/dustin/go-humanize"
)

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	if err := run(cfg, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

type Config struct {
	ConfigPath string
	OutputPath string
	Inspect    string
	Verbose    bool
	Quiet      bool
}

func (c Config) Validate() error {
	if c.Inspect != "" {
		return nil
	}
	if c.ConfigPath == "" {
		return fmt.Errorf("missing config path")
	}
	if c.Verbose && c.Quiet {
		return fmt.Errorf("-v and -quiet are mutually exclusive")
	}
	return nil
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config

	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.OutputPath, "out", "", "EDF file to write (default: config path with .edf extension)")
	fs.StringVar(&cfg.Inspect, "inspect", "", "Print the header of an EDF file and exit")
	fs.BoolVar(&cfg.Verbose, "v", false, "Log debug output")
	fs.BoolVar(&cfg.Quiet, "quiet", false, "Only log warnings and errors")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  %s [flags] <config.yml>\n  %s -inspect <file.edf>\n\nFlags:\n",
			filepath.Base(os.Args[0]), filepath.Base(os.Args[0]))
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 1 {
		return Config{}, fmt.Errorf("expected one config path, got %d arguments", fs.NArg())
	}
	cfg.ConfigPath = fs.Arg(0)

	if cfg.OutputPath == "" && cfg.ConfigPath != "" {
		cfg.OutputPath = strings.TrimSuffix(cfg.ConfigPath, filepath.Ext(cfg.ConfigPath)) + ".edf"
	}
	return cfg, nil
}

func newLogger(cfg Config, stderr io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case cfg.Verbose:
		level = slog.LevelDebug
	case cfg.Quiet:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
}

func run(cfg Config, stdout, stderr io.Writer) error {
	if cfg.Inspect != "" {
		return inspect(cfg.Inspect, stdout)
	}

	log := newLogger(cfg, stderr)

	file, err := config.Load(cfg.ConfigPath, log)
	if err != nil {
		return err
	}
	req, err := file.Request(log)
	if err != nil {
		return err
	}

	res, err := sleepscore.Load(req)
	if err != nil {
		return err
	}
	m := res.Matrix

	start := m.StartTime
	if !start.IsZero() {
		start = start.Add(time.Duration(m.Start * float64(time.Second)))
	}
	exporter := &edf.Exporter{
		Path:      cfg.OutputPath,
		Dimension: string(m.Unit),
		StartTime: start,
		Logger:    log,
	}
	if err := exporter.Show(m.Data, m.SampleRate, m.Labels, req.ViewerOptions); err != nil {
		return fmt.Errorf("error exporting %s: %w", cfg.OutputPath, err)
	}

	for _, w := range res.Warnings {
		fmt.Fprintf(stdout, "warning: %s\n", w)
	}
	fmt.Fprintf(stdout, "channels=%d timepoints=%s rate=%gHz out=%s\n",
		len(m.Data), humanize.Comma(int64(m.Timepoints())), m.SampleRate, cfg.OutputPath)
	return nil
}

func inspect(path string, stdout io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	er, err := edf.Open(f)
	if err != nil {
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	hdr := er.Header()

	duration := time.Duration(hdr.DataRecords) * hdr.DataRecordDuration
	fmt.Fprintf(stdout, "patient=%q recording=%q start=%s duration=%s records=%d\n",
		hdr.PatientID, hdr.RecordingID, hdr.StartTime.Format(time.DateTime), duration, hdr.DataRecords)
	for i, s := range hdr.Signals {
		fmt.Fprintf(stdout, "%3d %-16s %gHz %s [%g, %g]\n",
			i, s.Label, hdr.SampleRate(i), s.PhysicalDimension, s.PhysicalMin, s.PhysicalMax)
	}
	return nil
}
