// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package sleepscore

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/OpenPSG/sleepscore/recording"
	"github.com/dustin/go-humanize"
)

// LoadDataset loads one dataset into a matrix in the requested unit. The
// returned warnings are non-fatal relabeling problems.
func LoadDataset(spec DatasetSpec, opts Options) (*Matrix, []string, error) {
	log := opts.logger()
	unit, err := ParseUnit(string(opts.unit()))
	if err != nil {
		return nil, nil, err
	}

	log.Info("Loading recording", "path", spec.Path, "format", formatOrDefault(spec.Format))
	src, err := OpenSource(spec.Format, spec.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening %s: %w", spec.Path, err)
	}
	defer src.Close()
	md := src.Metadata()

	sel, err := Resolve(spec.Channels, spec.Mode, md.Labels())
	if err != nil {
		return nil, nil, fmt.Errorf("error resolving channels of %s: %w", spec.Path, err)
	}
	sel, warnings, err := Relabel(sel, spec.Relabel)
	if err != nil {
		return nil, nil, fmt.Errorf("error relabeling channels of %s: %w", spec.Path, err)
	}
	for _, w := range warnings {
		log.Warn(w, "path", spec.Path)
	}
	logUsedChannels(log, spec.Path, sel)

	window, err := opts.Span.Resolve(md.Duration)
	if err != nil {
		return nil, nil, err
	}
	log.Info("Reading window",
		"path", spec.Path,
		"start", window.Start,
		"end", window.End,
		"channels", fmt.Sprintf("%d/%d", len(sel.Channels), len(md.Channels)))

	raw, err := src.ReadWindow(sel.Indices(), window, opts.DownSample)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading %s: %w", spec.Path, err)
	}
	if raw.DecimationFactor > 1 {
		log.Info("Downsampled", "path", spec.Path, "factor", raw.DecimationFactor, "rate", raw.SampleRate)
	}

	m, err := Normalize(raw, sel, md, unit)
	if err != nil {
		return nil, nil, err
	}
	m.Start = window.Start

	if spec.Name != "" {
		for i, label := range m.Labels {
			m.Labels[i] = spec.Name + PrefixSeparator + label
		}
	}

	log.Info("Data successfully loaded",
		"path", spec.Path,
		"rate", m.SampleRate,
		"timepoints", humanize.Comma(int64(m.Timepoints())),
		"channels", len(m.Data),
		"unit", m.Unit)

	return m, warnings, nil
}

func formatOrDefault(format string) string {
	if format == "" {
		return DefaultFormat
	}
	return format
}

// logUsedChannels logs <storage index>:<original label>:<display label> for
// every selected channel.
func logUsedChannels(log *slog.Logger, path string, sel Selection) {
	used := make([]string, len(sel.Channels))
	for i, ch := range sel.Channels {
		used[i] = fmt.Sprintf("%d:%s:%s", ch.StorageIndex, ch.Original, ch.Label)
	}
	log.Info("Used channels", "path", path, "mode", sel.Mode, "channels", strings.Join(used, " - "))
}

// Combine loads every dataset in order and stacks them row-wise. All
// datasets must end up with exactly the same sample rate and number of
// samples; nothing is resampled to make them match.
func Combine(specs []DatasetSpec, opts Options) (*Result, error) {
	if len(specs) == 0 {
		return nil, recording.Errorf(recording.ErrConfig, "no datasets to load")
	}

	res := &Result{}
	var combined *Matrix
	for i, spec := range specs {
		m, warnings, err := LoadDataset(spec, opts)
		if err != nil {
			return nil, err
		}
		res.Warnings = append(res.Warnings, warnings...)

		if combined == nil {
			combined = m
			continue
		}
		if m.SampleRate != combined.SampleRate {
			return nil, recording.Errorf(recording.ErrAlignment, "dataset %d (%s) has sample rate %gHz, dataset 0 has %gHz",
				i, spec.Path, m.SampleRate, combined.SampleRate)
		}
		if m.Timepoints() != combined.Timepoints() {
			return nil, recording.Errorf(recording.ErrAlignment, "dataset %d (%s) has %d samples, dataset 0 has %d",
				i, spec.Path, m.Timepoints(), combined.Timepoints())
		}
		combined.Data = append(combined.Data, m.Data...)
		combined.Labels = append(combined.Labels, m.Labels...)
	}

	if len(specs) > 1 {
		opts.logger().Info("Combined datasets",
			"datasets", len(specs),
			"channels", len(combined.Data),
			"timepoints", humanize.Comma(int64(combined.Timepoints())))
	}

	res.Matrix = combined
	return res, nil
}
