// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package spikeglx reads SpikeGLX recordings: a .meta key/value sidecar and
// a binary of interleaved little-endian int16 samples.
package spikeglx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/OpenPSG/sleepscore/recording"
)

const sampleBytes = 2

type sampleFile interface {
	io.ReaderAt
	io.Closer
}

// Reader reads windows of a SpikeGLX binary.
type Reader struct {
	f      *os.File
	data   sampleFile
	meta   Meta
	md     *recording.Metadata
	nChans int
	frames int // Number of sample frames in the binary
}

var _ recording.Source = (*Reader)(nil)

// Open parses the sidecar of binPath and maps the binary for reading.
func Open(binPath string) (*Reader, error) {
	st, err := os.Stat(binPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, recording.Errorf(recording.ErrNotFound, "binary file %s", binPath)
	}
	if err != nil {
		return nil, fmt.Errorf("error opening binary: %w", err)
	}
	if st.IsDir() {
		return nil, recording.Errorf(recording.ErrFormat, "%s is a directory, expected a SpikeGLX .bin file", binPath)
	}

	meta, err := ReadMeta(binPath)
	if err != nil {
		return nil, err
	}
	md, err := meta.Metadata(binPath)
	if err != nil {
		return nil, err
	}

	nChans := len(md.Channels)
	if nChans == 0 {
		return nil, recording.Errorf(recording.ErrFormat, "recording has no saved channels")
	}

	size := st.Size()
	if announced, err := meta.floatOr("fileSizeBytes", -1); err != nil {
		return nil, err
	} else if announced >= 0 {
		if int64(announced) > size {
			return nil, recording.Errorf(recording.ErrFormat, "binary holds %d bytes but metadata announces %d", size, int64(announced))
		}
		size = int64(announced)
	}

	f, err := os.Open(binPath)
	if err != nil {
		return nil, fmt.Errorf("error opening binary: %w", err)
	}
	data, err := mapFile(f, st.Size())
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Reader{
		f:      f,
		data:   data,
		meta:   meta,
		md:     md,
		nChans: nChans,
		frames: int(size / int64(sampleBytes*nChans)),
	}, nil
}

// Metadata returns the parsed recording metadata.
func (r *Reader) Metadata() *recording.Metadata {
	return r.md
}

// Meta returns the raw sidecar key/value pairs.
func (r *Reader) Meta() Meta {
	return r.meta
}

// Frames returns the number of sample frames in the binary.
func (r *Reader) Frames() int {
	return r.frames
}

// ReadWindow reads every dsf-th frame of the window for the given saved
// channels. Only the byte span between the lowest and highest requested
// channel of each selected frame is read.
func (r *Reader) ReadWindow(channels []int, window recording.Window, requestedRate float64) (*recording.Raw, error) {
	if len(channels) == 0 {
		return nil, recording.Errorf(recording.ErrConfig, "no channels requested")
	}
	lo, hi := channels[0], channels[0]
	for _, c := range channels {
		if c < 0 || c >= r.nChans {
			return nil, recording.Errorf(recording.ErrChannel, "storage index %d out of range [0, %d)", c, r.nChans)
		}
		lo = min(lo, c)
		hi = max(hi, c)
	}

	dsf, rate, err := recording.DecimationFactor(r.md.SampleRate, requestedRate)
	if err != nil {
		return nil, err
	}
	first, last := recording.SampleRange(r.md.SampleRate, window, r.frames)
	n := recording.StridedCount(first, last, dsf)

	raw := &recording.Raw{
		Samples:          make([][]float64, len(channels)),
		SampleRate:       rate,
		DecimationFactor: dsf,
	}
	for i := range raw.Samples {
		raw.Samples[i] = make([]float64, n)
	}

	frameBytes := int64(r.nChans * sampleBytes)
	buf := make([]byte, (hi-lo+1)*sampleBytes)
	for k := 0; k < n; k++ {
		frame := int64(first + k*dsf)
		off := frame*frameBytes + int64(lo*sampleBytes)
		if _, err := r.data.ReadAt(buf, off); err != nil {
			return nil, fmt.Errorf("error reading frame %d: %w", frame, err)
		}
		for i, c := range channels {
			at := (c - lo) * sampleBytes
			raw.Samples[i][k] = float64(int16(binary.LittleEndian.Uint16(buf[at:])))
		}
	}

	return raw, nil
}

// Close unmaps and closes the binary.
func (r *Reader) Close() error {
	return errors.Join(r.data.Close(), r.f.Close())
}
