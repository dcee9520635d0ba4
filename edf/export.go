// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/floats"
)

// Exporter writes a channels x timepoints matrix to an EDF file. Its Show
// method matches the hand-off signature of the loading pipeline, so it can
// stand in for an interactive viewer.
type Exporter struct {
	Path           string
	Dimension      string        // Physical dimension of every signal, e.g. uV
	StartTime      time.Time     // Start of the first sample, zero if unknown
	RecordDuration time.Duration // Target data record duration, 1s if zero
	Logger         *slog.Logger  // slog.Default() if nil
}

// Show writes the data to e.Path. The optional "patient_id" and
// "recording_id" string options fill the matching header fields.
func (e *Exporter) Show(data [][]float64, sampleRate float64, labels []string, opts map[string]any) error {
	f, err := os.Create(e.Path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", e.Path, err)
	}

	hdr, err := e.Write(f, data, sampleRate, labels, opts)
	if err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("error closing %s: %w", e.Path, err)
	}

	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Exported EDF",
		"path", e.Path,
		"signals", hdr.SignalCount,
		"records", hdr.DataRecords,
		"record_duration", hdr.DataRecordDuration,
		"size", humanize.Bytes(uint64(hdr.HeaderBytes+hdr.DataRecords*hdr.RecordBytes())))
	return nil
}

// Write encodes the data to w and returns the header it wrote. The last data
// record is padded by repeating the final sample of every signal.
func (e *Exporter) Write(w io.WriteSeeker, data [][]float64, sampleRate float64, labels []string, opts map[string]any) (*Header, error) {
	if len(labels) != len(data) {
		return nil, fmt.Errorf("got %d labels for %d signals", len(labels), len(data))
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %gHz", sampleRate)
	}
	timepoints := 0
	if len(data) > 0 {
		timepoints = len(data[0])
	}
	for i := range data {
		if len(data[i]) != timepoints {
			return nil, fmt.Errorf("signal %d has %d samples, signal 0 has %d", i, len(data[i]), timepoints)
		}
	}

	perRecord, duration, err := recordLayout(sampleRate, len(data), e.RecordDuration)
	if err != nil {
		return nil, err
	}

	hdr := Header{
		Version:            Version0,
		PatientID:          stringOption(opts, "patient_id"),
		RecordingID:        stringOption(opts, "recording_id"),
		StartTime:          e.StartTime,
		DataRecordDuration: duration,
		SignalCount:        len(data),
		Signals:            make([]Signal, len(data)),
	}
	for i, row := range data {
		pmin, pmax := physicalRange(row)
		hdr.Signals[i] = Signal{
			Label:             labels[i],
			PhysicalDimension: e.Dimension,
			PhysicalMin:       pmin,
			PhysicalMax:       pmax,
			DigitalMin:        DigitalMin,
			DigitalMax:        DigitalMax,
			SamplesPerRecord:  perRecord,
		}
	}

	ew, err := Create(w, hdr)
	if err != nil {
		return nil, err
	}

	record := make([][]float64, len(data))
	for start := 0; start < timepoints; start += perRecord {
		end := min(start+perRecord, timepoints)
		for i, row := range data {
			record[i] = append(record[i][:0], row[start:end]...)
			for len(record[i]) < perRecord {
				record[i] = append(record[i], row[end-1])
			}
		}
		if err := ew.WriteRecord(record); err != nil {
			return nil, fmt.Errorf("error writing data record: %w", err)
		}
	}
	if err := ew.Close(); err != nil {
		return nil, err
	}

	return ew.hdr, nil
}

// recordLayout picks the samples per record closest to target, shrunk until
// a record of every signal fits in MaxRecordBytes.
func recordLayout(sampleRate float64, signals int, target time.Duration) (int, time.Duration, error) {
	if target <= 0 {
		target = time.Second
	}
	limit := MaxRecordBytes / (2 * max(signals, 1))
	if limit < 1 {
		return 0, 0, fmt.Errorf("%d signals do not fit in one data record", signals)
	}

	exact := sampleRate * target.Seconds()
	n := int(math.Round(exact))
	if n >= 1 && n <= limit && float64(n) == exact {
		return n, target, nil
	}
	n = min(max(n, 1), limit)
	return n, time.Duration(math.Round(float64(n) * float64(time.Second) / sampleRate)), nil
}

// physicalRange returns whole-number bounds enclosing every value of row.
func physicalRange(row []float64) (float64, float64) {
	if len(row) == 0 {
		return 0, 1
	}
	lo, hi := math.Floor(floats.Min(row)), math.Ceil(floats.Max(row))
	if lo == hi {
		hi = lo + 1
	}
	return lo, hi
}

func stringOption(opts map[string]any, key string) string {
	if s, ok := opts[key].(string); ok {
		return s
	}
	return ""
}
