// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package tdt_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/OpenPSG/sleepscore/internal/testrec"
	"github.com/OpenPSG/sleepscore/recording"
	"github.com/OpenPSG/sleepscore/recording/tdt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blockStart = 1.7e9

func writeBlock(t *testing.T) string {
	return testrec.WriteTDT(t, t.TempDir(), "Block-1", blockStart,
		testrec.Store{Name: "EEGw", Channels: 2, SampleRate: 1000, Samples: 10000, BlockSize: 256},
		testrec.Store{Name: "EMG1", Channels: 1, SampleRate: 500, Samples: 5000, BlockSize: 100},
	)
}

func TestOpen(t *testing.T) {
	r, err := tdt.Open(writeBlock(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, r.Close())
	})

	md := r.Metadata()
	assert.Equal(t, recording.StreamTDT, md.StreamType)
	assert.Equal(t, []string{"EEGw-1", "EEGw-2", "EMG1-1"}, md.Labels())
	assert.InDelta(t, 10.0, md.Duration, 1e-9)
	assert.Zero(t, md.SampleRate, "stores have different rates")
	assert.Equal(t, 500.0, md.Channels[2].SampleRate)
	assert.Equal(t, int64(1.7e9), md.StartTime.Unix())
}

func TestOpenFromFile(t *testing.T) {
	block := writeBlock(t)

	r, err := tdt.Open(filepath.Join(block, "Block-1.tev"))
	require.NoError(t, err)
	require.NoError(t, r.Close())
}

func TestReadWindow(t *testing.T) {
	r, err := tdt.Open(writeBlock(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, r.Close())
	})

	raw, err := r.ReadWindow([]int{1, 2}, recording.Window{Start: 2, End: 4}, 100)
	require.NoError(t, err)
	assert.Equal(t, 100.0, raw.SampleRate)
	assert.Equal(t, 10, raw.DecimationFactor)
	require.Equal(t, 200, raw.Timepoints())

	for k := 0; k < raw.Timepoints(); k++ {
		require.InDelta(t, float64(testrec.TDTValue(2, 2000+10*k)), raw.Samples[0][k], 1e-9)
		require.InDelta(t, float64(testrec.TDTValue(1, 1000+5*k)), raw.Samples[1][k], 1e-9)
	}

	t.Run("Misaligned", func(t *testing.T) {
		// 1000Hz/3 and 500Hz/2 give different sample counts.
		_, err := r.ReadWindow([]int{0, 2}, recording.Window{Start: 0, End: 1}, 300)
		require.ErrorIs(t, err, recording.ErrAlignment)
	})

	t.Run("AboveChannelRate", func(t *testing.T) {
		_, err := r.ReadWindow([]int{2}, recording.Window{Start: 0, End: 1}, 800)
		require.ErrorIs(t, err, recording.ErrConfig)
	})
}

func TestReadWindowDelayedStore(t *testing.T) {
	block := testrec.WriteTDT(t, t.TempDir(), "Block-1", blockStart,
		testrec.Store{Name: "EEGw", Channels: 2, SampleRate: 1000, Samples: 4000, BlockSize: 256},
		testrec.Store{Name: "EMG1", Channels: 1, SampleRate: 1000, Samples: 3000, BlockSize: 100, Delay: 1},
	)
	r, err := tdt.Open(block)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, r.Close())
	})
	assert.InDelta(t, 4.0, r.Metadata().Duration, 1e-9)

	raw, err := r.ReadWindow([]int{0, 2}, recording.Window{Start: 2, End: 3}, 0)
	require.NoError(t, err)
	require.Equal(t, 1000, raw.Timepoints())
	for k := 0; k < raw.Timepoints(); k++ {
		require.InDelta(t, float64(testrec.TDTValue(1, 2000+k)), raw.Samples[0][k], 1e-9)
		require.InDelta(t, float64(testrec.TDTValue(1, 1000+k)), raw.Samples[1][k], 1e-9)
	}

	t.Run("BeforeStoreStart", func(t *testing.T) {
		raw, err := r.ReadWindow([]int{2}, recording.Window{Start: 0, End: 2}, 0)
		require.NoError(t, err)
		require.Equal(t, 1000, raw.Timepoints())
		assert.InDelta(t, float64(testrec.TDTValue(1, 0)), raw.Samples[0][0], 1e-9)
	})

	t.Run("Misaligned", func(t *testing.T) {
		_, err := r.ReadWindow([]int{0, 2}, recording.Window{Start: 0, End: 2}, 0)
		require.ErrorIs(t, err, recording.ErrAlignment)
	})
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := tdt.Open(filepath.Join(dir, "nope"))
	require.ErrorIs(t, err, recording.ErrNotFound)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.MkdirAll(empty, 0o755))
	_, err = tdt.Open(empty)
	require.ErrorIs(t, err, recording.ErrFormat)

	block := writeBlock(t)
	tsq := filepath.Join(block, "Block-1.tsq")
	b, err := os.ReadFile(tsq)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(tsq, b[:len(b)-3], 0o644))
	_, err = tdt.Open(block)
	require.ErrorIs(t, err, recording.ErrFormat)
}
