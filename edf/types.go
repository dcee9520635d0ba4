// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package edf reads and writes European Data Format files, the interchange
// format of sleep scoring tools.
package edf

import (
	"time"
)

type Version string

const (
	// Version0 represents the version of the EDF/EDF+ standard.
	Version0 Version = "0"
)

const (
	// DigitalMin and DigitalMax span the full int16 range.
	DigitalMin = -32768
	DigitalMax = 32767

	// MaxRecordBytes is the largest data record the EDF standard recommends.
	MaxRecordBytes = 61440
)

// edfEpoch is written as the start of recordings with an unknown start time.
var edfEpoch = time.Date(1985, time.January, 1, 0, 0, 0, 0, time.UTC)

// Header represents the EDF/EDF+ file header.
type Header struct {
	Version            Version       // Version of the EDF/EDF+ standard (usually "0")
	PatientID          string        // Identification of the patient
	RecordingID        string        // Identification of the recording session
	StartTime          time.Time     // Start date of the recording
	HeaderBytes        int           // Number of bytes in the header
	DataRecordDuration time.Duration // Duration of a single data record, may be fractional
	DataRecords        int           // Number of data records, -1 if unknown
	SignalCount        int           // Number of signals in each data record
	Signals            []Signal      // Details of each signal
}

// RecordBytes returns the size in bytes of one data record.
func (h *Header) RecordBytes() int {
	var n int
	for _, s := range h.Signals {
		n += s.SamplesPerRecord * 2
	}
	return n
}

// SampleRate returns the sample rate of signal i in Hz.
func (h *Header) SampleRate(i int) float64 {
	if h.DataRecordDuration <= 0 {
		return 0
	}
	return float64(h.Signals[i].SamplesPerRecord) / h.DataRecordDuration.Seconds()
}

// Signal represents the characteristics of each signal in the EDF/EDF+ file.
type Signal struct {
	Label             string  // Label of the signal (e.g., EEG Fpz-Cz)
	TransducerType    string  // Type of transducer used
	PhysicalDimension string  // Physical dimension (e.g., uV, mV)
	PhysicalMin       float64 // Minimum physical value
	PhysicalMax       float64 // Maximum physical value
	DigitalMin        int     // Minimum digital value
	DigitalMax        int     // Maximum digital value
	Prefiltering      string  // Pre-filtering information
	SamplesPerRecord  int     // Number of samples in each data record for this signal
	Reserved          string  // Reserved for future use
}
