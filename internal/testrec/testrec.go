// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package testrec writes small synthetic recordings for tests.
package testrec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OpenPSG/sleepscore/recording/tdt"
	"github.com/stretchr/testify/require"
)

// SpikeGLX describes a synthetic imec LF recording. The last saved channel
// is the sync channel.
type SpikeGLX struct {
	Channels   int     // Saved channels, sync included
	SampleRate float64 // Hz
	Duration   float64 // Seconds
	Signal     func(ch, t int) int16
	// Extra metadata lines, overriding the generated ones.
	Meta map[string]string
}

// Value is the default synthetic sample of channel ch at frame t.
func Value(ch, t int) int16 {
	return int16((t*7+ch*1009)%32749 - 16374)
}

// Gain is the volts-per-count of the synthetic LF channels.
const Gain = 0.6 / 512 / 250

// WriteSpikeGLX writes <dir>/<name>.bin and its .meta sidecar and returns
// the binary path.
func WriteSpikeGLX(t testing.TB, dir, name string, spec SpikeGLX) string {
	t.Helper()

	signal := spec.Signal
	if signal == nil {
		signal = Value
	}
	frames := int(math.Round(spec.SampleRate * spec.Duration))
	nLF := spec.Channels - 1

	var data bytes.Buffer
	for f := 0; f < frames; f++ {
		for ch := 0; ch < spec.Channels; ch++ {
			require.NoError(t, binary.Write(&data, binary.LittleEndian, signal(ch, f)))
		}
	}

	binPath := filepath.Join(dir, name+".bin")
	require.NoError(t, os.WriteFile(binPath, data.Bytes(), 0o644))

	var chanMap, imro strings.Builder
	fmt.Fprintf(&chanMap, "(0,%d,1)", nLF)
	fmt.Fprintf(&imro, "(0,%d)", nLF)
	for ch := 0; ch < nLF; ch++ {
		fmt.Fprintf(&chanMap, "(LF%d;%d:%d)", ch, ch, ch)
		fmt.Fprintf(&imro, "(%d 0 0 500 250 1)", ch)
	}
	fmt.Fprintf(&chanMap, "(SY0;%d:%d)", nLF, nLF)

	meta := map[string]string{
		"typeThis":          "imec",
		"imSampRate":        fmt.Sprintf("%g", spec.SampleRate),
		"nSavedChans":       fmt.Sprintf("%d", spec.Channels),
		"fileTimeSecs":      fmt.Sprintf("%g", spec.Duration),
		"fileSizeBytes":     fmt.Sprintf("%d", data.Len()),
		"fileCreateTime":    "2024-03-01T22:30:00",
		"snsSaveChanSubset": "all",
		"snsApLfSy":         fmt.Sprintf("0,%d,1", nLF),
		"imAiRangeMax":      "0.6",
		"imMaxInt":          "512",
		"~imroTbl":          imro.String(),
		"~snsChanMap":       chanMap.String(),
	}
	for k, v := range spec.Meta {
		delete(meta, "~"+k)
		meta[k] = v
	}

	var lines strings.Builder
	for k, v := range meta {
		fmt.Fprintf(&lines, "%s=%s\n", k, v)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".meta"), []byte(lines.String()), 0o644))

	return binPath
}

// Store describes one synthetic TDT stream store.
type Store struct {
	Name       string
	Channels   int
	SampleRate float64
	Samples    int // Samples per channel
	BlockSize  int     // Samples per TSQ record
	Delay      float64 // Seconds between the block start and the first sample
	Signal     func(ch, t int) float32
}

// TDTValue is the default synthetic sample, in volts, of channel ch (1-based)
// at sample t.
func TDTValue(ch, t int) float32 {
	return float32(ch)*1e-3 + float32(t)*1e-7
}

// WriteTDT writes a block directory <dir>/<name> holding the given float32
// stores, with start and stop marks, and returns the block path.
func WriteTDT(t testing.TB, dir, name string, start float64, stores ...Store) string {
	t.Helper()

	block := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(block, 0o755))

	var tsq, tev bytes.Buffer
	writeRecord := func(rec tdt.Record) {
		require.NoError(t, binary.Write(&tsq, binary.LittleEndian, rec))
	}
	mark := func(code uint32, ts float64) {
		rec := tdt.Record{Size: 10, Type: tdt.EventMark, Timestamp: ts}
		binary.LittleEndian.PutUint32(rec.Code[:], code)
		writeRecord(rec)
	}

	duration := 0.0
	mark(tdt.MarkStartBlock, start)
	for _, s := range stores {
		signal := s.Signal
		if signal == nil {
			signal = TDTValue
		}
		for pos := 0; pos < s.Samples; pos += s.BlockSize {
			n := min(s.BlockSize, s.Samples-pos)
			for ch := 1; ch <= s.Channels; ch++ {
				rec := tdt.Record{
					Size:      int32(10 + n),
					Type:      tdt.EventStream,
					Channel:   uint16(ch),
					Timestamp: start + s.Delay + float64(pos)/s.SampleRate,
					Offset:    uint64(tev.Len()),
					Format:    tdt.FormatFloat32,
					Frequency: float32(s.SampleRate),
				}
				copy(rec.Code[:], s.Name)
				writeRecord(rec)
				for i := 0; i < n; i++ {
					require.NoError(t, binary.Write(&tev, binary.LittleEndian, signal(ch, pos+i)))
				}
			}
		}
		duration = max(duration, s.Delay+float64(s.Samples)/s.SampleRate)
	}
	mark(tdt.MarkStopBlock, start+duration)

	require.NoError(t, os.WriteFile(filepath.Join(block, name+".tsq"), tsq.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(block, name+".tev"), tev.Bytes(), 0o644))

	return block
}
