// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package sleepscore loads electrophysiology recordings into a single aligned
// matrix for sleep scoring. Each dataset is opened through its format
// backend, its channel selection is resolved and relabeled, the requested
// window is read with decimation, and raw counts are converted to physical
// units. Datasets are then checked for alignment and stacked row-wise, with
// an optional derived EMG channel appended last.
package sleepscore

import (
	"log/slog"
	"strings"
	"time"

	"github.com/OpenPSG/sleepscore/emg"
	"github.com/OpenPSG/sleepscore/recording"
)

// Mode tells how the entries of a channel list are interpreted.
type Mode string

const (
	ModeIndices Mode = "indices" // Positions in the saved-channel catalog
	ModeLabels  Mode = "labels"  // Labels of the saved-channel catalog
)

// AllChannels selects every saved channel.
const AllChannels = "all"

// PrefixSeparator joins a dataset name and a channel label.
const PrefixSeparator = "_"

// Unit is the physical unit of a Matrix.
type Unit string

const (
	Microvolt Unit = "uV"
	Millivolt Unit = "mV"
)

// ParseUnit accepts uV, µV and mV in any case.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uv", "µv":
		return Microvolt, nil
	case "mv":
		return Millivolt, nil
	}
	return "", recording.Errorf(recording.ErrConfig, "unsupported unit %q, expected uV or mV", s)
}

// Factor converts volts into the unit.
func (u Unit) Factor() float64 {
	if u == Millivolt {
		return 1e3
	}
	return 1e6
}

// Matrix holds samples in physical units, one row per channel.
type Matrix struct {
	Data       [][]float64 // Channels x timepoints
	SampleRate float64     // Effective sample rate in Hz
	Unit       Unit        // Physical unit of Data
	Labels     []string    // Display label of each row
	Start      float64     // Window start in seconds from the recording start
	StartTime  time.Time   // Wall-clock time of the recording start, zero if unknown
}

// Timepoints returns the number of samples per channel.
func (m *Matrix) Timepoints() int {
	if len(m.Data) == 0 {
		return 0
	}
	return len(m.Data[0])
}

// DatasetSpec is one recording to load.
type DatasetSpec struct {
	Path     string            // Recording binary, or block directory for TDT
	Format   string            // SGLX (default), TDT or OpenEphys
	Channels []string          // Channel list, nil or ["all"] for every channel
	Mode     Mode              // Interpretation of Channels, indices by default
	Relabel  map[string]string // Original label -> display label
	Name     string            // Optional prefix of every label
}

// Options are the parameters shared by every dataset of one invocation.
type Options struct {
	DownSample float64        // Requested sample rate in Hz, 0 for native
	Span       recording.Span // Time range, open bounds span the recording
	Unit       Unit           // Output unit, microvolts by default
	Logger     *slog.Logger   // Progress logs, slog.Default() if nil
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o Options) unit() Unit {
	if o.Unit == "" {
		return Microvolt
	}
	return o.Unit
}

// EMGSpec requests a derived EMG channel.
type EMGSpec struct {
	Path      string     // Source recording, the first dataset's when empty
	Format    string     // Source format, the first dataset's when Path is empty
	Config    emg.Config // Derivation parameters, part of the cache key
	Label     string     // Display label, "derivedEMG" by default
	Recompute bool       // Ignore any cached artifact
	Persist   bool       // Write the artifact next to the recording
}

// Request is a complete pipeline invocation.
type Request struct {
	Datasets      []DatasetSpec
	Options       Options
	EMG           *EMGSpec
	ViewerOptions map[string]any // Passed through to the viewer untouched
}

// Result is the aligned output of the pipeline.
type Result struct {
	Matrix   *Matrix
	Warnings []string // Non-fatal conditions, also logged
}
