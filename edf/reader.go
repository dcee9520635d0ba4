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
	"time"

	"github.com/OpenPSG/sleepscore/recording"
)

// Reader reads EDF/EDF+ files.
type Reader struct {
	r   io.ReadSeeker
	hdr *Header
}

// Open opens an EDF/EDF+ file for reading.
func Open(r io.ReadSeeker) (*Reader, error) {
	reader := bufio.NewReader(r)

	b := make([]byte, 256)
	if _, err := io.ReadFull(reader, b); err != nil {
		return nil, recording.Errorf(recording.ErrFormat, "error reading header: %v", err)
	}

	// Parse fields based on EDF/EDF+ specifications
	hdr := &Header{}
	hdr.Version = Version(strings.TrimSpace(string(b[0:8])))
	hdr.PatientID = strings.TrimSpace(string(b[8:88]))
	hdr.RecordingID = strings.TrimSpace(string(b[88:168]))

	var err error
	if hdr.StartTime, err = parseStartTime(string(b[168:176]), string(b[176:184])); err != nil {
		return nil, err
	}
	if hdr.HeaderBytes, err = parseInt(b[184:192], "header bytes"); err != nil {
		return nil, err
	}
	if hdr.DataRecords, err = parseInt(b[236:244], "number of data records"); err != nil {
		return nil, err
	}
	seconds, err := parseFloat(b[244:252], "data record duration")
	if err != nil {
		return nil, err
	}
	hdr.DataRecordDuration = time.Duration(math.Round(seconds * float64(time.Second)))
	if hdr.SignalCount, err = parseInt(b[252:256], "signal count"); err != nil {
		return nil, err
	}
	if hdr.SignalCount < 0 || hdr.HeaderBytes != 256+hdr.SignalCount*256 {
		return nil, recording.Errorf(recording.ErrFormat, "header size %d does not match %d signals", hdr.HeaderBytes, hdr.SignalCount)
	}

	// Read signal headers, stored field by field.
	hdr.Signals = make([]Signal, hdr.SignalCount)
	for col, width := range signalFieldWidths {
		b := make([]byte, width)
		for i := range hdr.Signals {
			if _, err := io.ReadFull(reader, b); err != nil {
				return nil, recording.Errorf(recording.ErrFormat, "error reading signal headers: %v", err)
			}
			if err := parseSignalField(&hdr.Signals[i], col, b); err != nil {
				return nil, err
			}
		}
	}

	return &Reader{
		r:   r,
		hdr: hdr,
	}, nil
}

// signalFieldWidths are the widths of the per-signal header fields, in the
// order they are stored.
var signalFieldWidths = []int{16, 80, 8, 8, 8, 8, 8, 80, 8, 32}

func parseSignalField(s *Signal, col int, b []byte) error {
	var err error
	switch col {
	case 0:
		s.Label = strings.TrimSpace(string(b))
	case 1:
		s.TransducerType = strings.TrimSpace(string(b))
	case 2:
		s.PhysicalDimension = strings.TrimSpace(string(b))
	case 3:
		s.PhysicalMin, err = parseFloat(b, "physical minimum")
	case 4:
		s.PhysicalMax, err = parseFloat(b, "physical maximum")
	case 5:
		s.DigitalMin, err = parseInt(b, "digital minimum")
	case 6:
		s.DigitalMax, err = parseInt(b, "digital maximum")
	case 7:
		s.Prefiltering = strings.TrimSpace(string(b))
	case 8:
		s.SamplesPerRecord, err = parseInt(b, "samples per record")
	case 9:
		s.Reserved = strings.TrimSpace(string(b))
	}
	return err
}

// Header returns the parsed file header.
func (er *Reader) Header() *Header {
	return er.hdr
}

// ReadRecord reads data record n and returns the physical values of every
// signal.
func (er *Reader) ReadRecord(n int) ([][]float64, error) {
	if n < 0 || n >= er.hdr.DataRecords {
		return nil, fmt.Errorf("data record %d out of range [0, %d)", n, er.hdr.DataRecords)
	}

	pos := int64(er.hdr.HeaderBytes) + int64(n)*int64(er.hdr.RecordBytes())
	if _, err := er.r.Seek(pos, io.SeekStart); err != nil {
		return nil, fmt.Errorf("error seeking to data record %d: %w", n, err)
	}

	record := make([][]float64, len(er.hdr.Signals))
	for i, signal := range er.hdr.Signals {
		digital := make([]int16, signal.SamplesPerRecord)
		if err := binary.Read(er.r, binary.LittleEndian, digital); err != nil {
			return nil, fmt.Errorf("error reading data record %d: %w", n, err)
		}
		record[i] = make([]float64, len(digital))
		for j, d := range digital {
			record[i][j] = convertDigitalToPhysical(d, signal.DigitalMin, signal.DigitalMax, signal.PhysicalMin, signal.PhysicalMax)
		}
	}
	return record, nil
}

// ReadAll reads every data record and returns one row per signal.
func (er *Reader) ReadAll() ([][]float64, error) {
	out := make([][]float64, len(er.hdr.Signals))
	for i, signal := range er.hdr.Signals {
		out[i] = make([]float64, 0, signal.SamplesPerRecord*er.hdr.DataRecords)
	}
	for n := 0; n < er.hdr.DataRecords; n++ {
		record, err := er.ReadRecord(n)
		if err != nil {
			return nil, err
		}
		for i := range record {
			out[i] = append(out[i], record[i]...)
		}
	}
	return out, nil
}

// SignalReader reads continuous signal data from an EDF/EDF+ file.
type SignalReader struct {
	er            *Reader
	signalIndex   int       // Index of the signal to read
	currentRecord int       // Next record to load
	pending       []float64 // Unread samples of the last loaded record
}

// Signal creates a new SignalReader for a specified signal index.
func (er *Reader) Signal(signalIndex int) (*SignalReader, error) {
	if signalIndex < 0 || signalIndex >= len(er.hdr.Signals) {
		return nil, fmt.Errorf("signal index %d out of range", signalIndex)
	}
	return &SignalReader{er: er, signalIndex: signalIndex}, nil
}

// Read fills the provided float64 slice with the physical values from the signal.
func (sr *SignalReader) Read(data []float64) (int, error) {
	n := 0
	for n < len(data) {
		if len(sr.pending) == 0 {
			if sr.currentRecord >= sr.er.hdr.DataRecords {
				return n, io.EOF // End of data records
			}
			record, err := sr.er.ReadRecord(sr.currentRecord)
			if err != nil {
				return n, err
			}
			sr.pending = record[sr.signalIndex]
			sr.currentRecord++
		}
		copied := copy(data[n:], sr.pending)
		sr.pending = sr.pending[copied:]
		n += copied
	}

	return n, nil
}

// convertDigitalToPhysical converts a digital value from the data record to a physical value using the calibration factors.
func convertDigitalToPhysical(digital int16, dmin, dmax int, pmin, pmax float64) float64 {
	if dmax == dmin {
		return 0 // Avoid division by zero
	}
	return pmin + (float64(digital)-float64(dmin))*(pmax-pmin)/float64(dmax-dmin)
}

// parseStartTime parses the dd.mm.yy and hh.mm.ss header fields. Two digit
// years from 85 belong to the 1900s, the rest to the 2000s.
func parseStartTime(date, clock string) (time.Time, error) {
	d, err := time.Parse("02.01.06", strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, recording.Errorf(recording.ErrFormat, "error parsing start date: %v", err)
	}
	c, err := time.Parse("15.04.05", strings.TrimSpace(clock))
	if err != nil {
		return time.Time{}, recording.Errorf(recording.ErrFormat, "error parsing start time: %v", err)
	}
	year := d.Year()
	if year < 1985 {
		year += 100
	}
	return time.Date(year, d.Month(), d.Day(), c.Hour(), c.Minute(), c.Second(), 0, time.UTC), nil
}

func parseFloat(b []byte, name string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return 0, recording.Errorf(recording.ErrFormat, "error parsing %s: %v", name, err)
	}
	return f, nil
}

func parseInt(b []byte, name string) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, recording.Errorf(recording.ErrFormat, "error parsing %s: %v", name, err)
	}
	return i, nil
}
