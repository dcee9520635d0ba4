// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package recording holds the data model shared by the recording format
// backends: parsed metadata, the saved-channel catalog, time windows and the
// raw sample buffers produced by windowed reads.
package recording

import "time"

// StreamType discriminates which gain formula applies to a recording.
type StreamType string

const (
	StreamIMEC StreamType = "imec" // Neuropixels probe stream (SpikeGLX)
	StreamNIDQ StreamType = "nidq" // National Instruments auxiliary stream (SpikeGLX)
	StreamTDT  StreamType = "tdt"  // TDT multi-store block, samples already in volts
)

// ChannelKind tells a primary probe channel apart from an auxiliary analog one.
type ChannelKind string

const (
	KindProbe ChannelKind = "probe"
	KindAux   ChannelKind = "aux"
)

// Metadata describes a recording. It is immutable once parsed.
type Metadata struct {
	Path       string              // Path the recording was opened from
	Format     string              // Format tag (e.g. SGLX, TDT)
	StreamType StreamType          // Gain discriminant
	SampleRate float64             // Native sample rate in Hz, 0 if it varies per channel
	Duration   float64             // Total duration in seconds
	StartTime  time.Time           // Acquisition start, zero if unknown
	Channels   []ChannelDescriptor // Saved-channel catalog, in storage order
}

// ChannelDescriptor describes one saved channel.
type ChannelDescriptor struct {
	StorageIndex  int         // Position within the saved-channel layout
	Label         string      // Label as defined by the format
	OriginalIndex int         // Index in the full acquisition layout, -1 if unknown
	Kind          ChannelKind // Probe or auxiliary channel
	Gain          float64     // Volts per raw count
	SampleRate    float64     // Native sample rate of this channel in Hz
}

// Labels returns the catalog labels in storage order.
func (m *Metadata) Labels() []string {
	labels := make([]string, len(m.Channels))
	for i, ch := range m.Channels {
		labels[i] = ch.Label
	}
	return labels
}

// Raw is the output of a windowed read: raw counts for each requested
// channel, in request order.
type Raw struct {
	Samples          [][]float64 // One row per requested channel
	SampleRate       float64     // Effective rate after decimation
	DecimationFactor int         // Stride applied to the native samples
}

// Timepoints returns the number of samples per channel.
func (r *Raw) Timepoints() int {
	if len(r.Samples) == 0 {
		return 0
	}
	return len(r.Samples[0])
}

// Source is an opened recording that can serve windowed reads.
type Source interface {
	// Metadata returns the parsed recording metadata.
	Metadata() *Metadata
	// ReadWindow reads the channels at the given storage indices over the
	// window, decimated towards requestedRate (0 means native rate).
	ReadWindow(channels []int, window Window, requestedRate float64) (*Raw, error)
	// Close releases the underlying files.
	Close() error
}
