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
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Writer writes EDF files.
type Writer struct {
	w           io.WriteSeeker
	hdr         *Header
	dataRecords int // Number of data records written so far.
}

// Create creates a new EDF writer that writes to the given writer.
func Create(w io.WriteSeeker, hdr Header) (*Writer, error) {
	if hdr.SignalCount != len(hdr.Signals) {
		return nil, fmt.Errorf("signal count %d does not match %d signals", hdr.SignalCount, len(hdr.Signals))
	}
	if hdr.DataRecordDuration <= 0 {
		return nil, fmt.Errorf("data record duration must be positive, got %s", hdr.DataRecordDuration)
	}
	if n := hdr.RecordBytes(); n > MaxRecordBytes {
		return nil, fmt.Errorf("data record too large: %d bytes, max is %d bytes", n, MaxRecordBytes)
	}
	if hdr.Version == "" {
		hdr.Version = Version0
	}
	hdr.DataRecords = -1 // Unknown number of data records (at this time).

	// Calibrate with the physical range as it is stored in the header.
	hdr.Signals = append([]Signal(nil), hdr.Signals...)
	for i := range hdr.Signals {
		s := &hdr.Signals[i]
		s.PhysicalMin, _ = strconv.ParseFloat(formatPhysicalValue(s.PhysicalMin), 64)
		s.PhysicalMax, _ = strconv.ParseFloat(formatPhysicalValue(s.PhysicalMax), 64)
	}

	ew := &Writer{w: w, hdr: &hdr}

	// Write the initial header
	if err := ew.writeHeader(); err != nil {
		return nil, fmt.Errorf("error writing header: %w", err)
	}

	return ew, nil
}

// Close finalizes the EDF file by updating the header with the total number of data records.
func (ew *Writer) Close() error {
	// Finalize the header with the actual number of data records
	ew.hdr.DataRecords = ew.dataRecords
	if err := ew.writeHeader(); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}

	_, err := ew.w.Seek(0, io.SeekEnd)
	return err
}

// WriteRecord writes a single data record to the EDF file. Every signal must
// hold exactly SamplesPerRecord physical values.
func (ew *Writer) WriteRecord(signals [][]float64) error {
	if len(signals) != ew.hdr.SignalCount {
		return fmt.Errorf("expected %d signals, got %d", ew.hdr.SignalCount, len(signals))
	}
	for i, signal := range signals {
		if want := ew.hdr.Signals[i].SamplesPerRecord; len(signal) != want {
			return fmt.Errorf("signal %d: expected %d samples, got %d", i, want, len(signal))
		}
	}

	if _, err := ew.w.Seek(int64(ew.hdr.HeaderBytes)+int64(ew.dataRecords)*int64(ew.hdr.RecordBytes()), io.SeekStart); err != nil {
		return err
	}
	writer := bufio.NewWriter(ew.w)

	// Write each signal's data
	buf := make([]byte, 2)
	for i := 0; i < ew.hdr.SignalCount; i++ {
		signal := ew.hdr.Signals[i]
		for _, sample := range signals[i] {
			digitalValue := convertPhysicalToDigital(sample, signal.PhysicalMin, signal.PhysicalMax, signal.DigitalMin, signal.DigitalMax)
			binary.LittleEndian.PutUint16(buf, uint16(digitalValue))
			if _, err := writer.Write(buf); err != nil {
				return err
			}
		}
	}

	// Ensure all data is flushed to the underlying writer
	if err := writer.Flush(); err != nil {
		return err
	}

	ew.dataRecords++
	return nil
}

// writeHeader writes the EDF header at the start of the file.
func (ew *Writer) writeHeader() error {
	// Rewind to the beginning of the file.
	_, err := ew.w.Seek(0, io.SeekStart)
	if err != nil {
		return err
	}

	writer := bufio.NewWriter(ew.w)
	ew.hdr.HeaderBytes = 256 + (ew.hdr.SignalCount * 256)

	start := ew.hdr.StartTime
	if start.IsZero() {
		// Clipping date of the EDF standard for unknown start times.
		start = edfEpoch
	}

	fields := []struct {
		value string
		width int
	}{
		{string(ew.hdr.Version), 8},
		{ew.hdr.PatientID, 80},
		{ew.hdr.RecordingID, 80},
		{start.Format("02.01.06"), 8},
		{start.Format("15.04.05"), 8},
		{strconv.Itoa(ew.hdr.HeaderBytes), 8},
		{"", 44}, // Reserved.
		{strconv.Itoa(ew.hdr.DataRecords), 8},
		{formatNumber(ew.hdr.DataRecordDuration.Seconds(), 8), 8},
		{strconv.Itoa(ew.hdr.SignalCount), 4},
	}
	for _, f := range fields {
		if _, err := writer.WriteString(field(f.value, f.width)); err != nil {
			return err
		}
	}

	// Signal headers are stored field by field, one column per signal.
	signalFields := []struct {
		value func(Signal) string
		width int
	}{
		{func(s Signal) string { return s.Label }, 16},
		{func(s Signal) string { return s.TransducerType }, 80},
		{func(s Signal) string { return s.PhysicalDimension }, 8},
		{func(s Signal) string { return formatPhysicalValue(s.PhysicalMin) }, 8},
		{func(s Signal) string { return formatPhysicalValue(s.PhysicalMax) }, 8},
		{func(s Signal) string { return strconv.Itoa(s.DigitalMin) }, 8},
		{func(s Signal) string { return strconv.Itoa(s.DigitalMax) }, 8},
		{func(s Signal) string { return s.Prefiltering }, 80},
		{func(s Signal) string { return strconv.Itoa(s.SamplesPerRecord) }, 8},
		{func(s Signal) string { return s.Reserved }, 32},
	}
	for _, f := range signalFields {
		for _, signal := range ew.hdr.Signals {
			if _, err := writer.WriteString(field(f.value(signal), f.width)); err != nil {
				return err
			}
		}
	}

	// Ensure all data is flushed to the underlying writer
	return writer.Flush()
}

// field pads s with spaces, or truncates it, to exactly width bytes of
// printable ASCII.
func field(s string, width int) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e {
			return '_'
		}
		return r
	}, s)
	if len(s) > width {
		return s[:width]
	}
	return fmt.Sprintf("%-*s", width, s)
}

// convertPhysicalToDigital converts a physical value to a digital value using
// the calibration factors, rounding to the nearest step and clamping to the
// digital range.
func convertPhysicalToDigital(physical float64, pmin, pmax float64, dmin, dmax int) int16 {
	if pmax == pmin {
		return 0 // Avoid division by zero
	}
	digital := math.Round(((physical - pmin) * (float64(dmax - dmin)) / (pmax - pmin)) + float64(dmin))
	return int16(min(max(digital, float64(dmin)), float64(dmax)))
}

func formatPhysicalValue(val float64) string {
	return formatNumber(val, 8)
}

// formatNumber formats val with as many decimals as fit in width bytes.
func formatNumber(val float64, width int) string {
	for prec := width - 2; prec > 0; prec-- {
		s := strconv.FormatFloat(val, 'f', prec, 64)
		if len(s) <= width {
			return trimZeros(s)
		}
	}
	return strconv.FormatFloat(val, 'f', 0, 64)
}

func trimZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	return strings.TrimSuffix(strings.TrimRight(s, "0"), ".")
}
