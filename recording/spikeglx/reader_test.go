// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package spikeglx_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/OpenPSG/sleepscore/internal/testrec"
	"github.com/OpenPSG/sleepscore/recording"
	"github.com/OpenPSG/sleepscore/recording/spikeglx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChanMap(t *testing.T) {
	entries, err := spikeglx.ParseChanMap("(384,384,1)(AP0;0:0)(AP1;1:1)(SY0;768:768)")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, spikeglx.ChanMapEntry{Label: "AP0;0", Order: 0}, entries[0])
	assert.Equal(t, spikeglx.ChanMapEntry{Label: "SY0;768", Order: 768}, entries[2])

	for _, malformed := range []string{
		"(1,1,1)(AP0;0)",
		"(1,1,1)(AP:0;0:0)",
		"(1,1,1)(AP0;0:x)",
		"",
	} {
		_, err := spikeglx.ParseChanMap(malformed)
		require.ErrorIs(t, err, recording.ErrFormat, malformed)
	}
}

func TestOriginalChannels(t *testing.T) {
	meta := spikeglx.Meta{"nSavedChans": "5", "snsSaveChanSubset": "0:2,6,8"}
	chans, err := meta.OriginalChannels()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 6, 8}, chans)

	meta["nSavedChans"] = "4"
	_, err = meta.OriginalChannels()
	require.ErrorIs(t, err, recording.ErrFormat)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	bin := testrec.WriteSpikeGLX(t, dir, "rec_g0_t0.imec0.lf", testrec.SpikeGLX{
		Channels:   4,
		SampleRate: 1000,
		Duration:   10,
	})

	r, err := spikeglx.Open(bin)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, r.Close())
	})

	md := r.Metadata()
	assert.Equal(t, recording.StreamIMEC, md.StreamType)
	assert.Equal(t, 1000.0, md.SampleRate)
	assert.Equal(t, 10.0, md.Duration)
	assert.Equal(t, 2024, md.StartTime.Year())
	assert.Equal(t, []string{"LF0;0", "LF1;1", "LF2;2", "SY0;3"}, md.Labels())
	assert.Equal(t, 10000, r.Frames())

	for _, ch := range md.Channels[:3] {
		assert.Equal(t, recording.KindProbe, ch.Kind)
		assert.InDelta(t, testrec.Gain, ch.Gain, 1e-15)
	}
	assert.Equal(t, recording.KindAux, md.Channels[3].Kind)
	assert.Equal(t, 1.0, md.Channels[3].Gain)
}

func TestReadWindow(t *testing.T) {
	dir := t.TempDir()
	bin := testrec.WriteSpikeGLX(t, dir, "rec", testrec.SpikeGLX{
		Channels:   4,
		SampleRate: 1000,
		Duration:   10,
	})

	r, err := spikeglx.Open(bin)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, r.Close())
	})

	raw, err := r.ReadWindow([]int{2, 0}, recording.Window{Start: 2, End: 4}, 500)
	require.NoError(t, err)
	assert.Equal(t, 2, raw.DecimationFactor)
	assert.Equal(t, 500.0, raw.SampleRate)
	require.Len(t, raw.Samples, 2)
	require.Equal(t, 1000, raw.Timepoints())
	assert.InDelta(t, 2.0, float64(raw.Timepoints())/raw.SampleRate, 1e-12)

	for k := 0; k < raw.Timepoints(); k++ {
		frame := 2000 + 2*k
		require.Equal(t, float64(testrec.Value(2, frame)), raw.Samples[0][k])
		require.Equal(t, float64(testrec.Value(0, frame)), raw.Samples[1][k])
	}

	t.Run("Native", func(t *testing.T) {
		raw, err := r.ReadWindow([]int{3}, recording.Window{Start: 0, End: 10}, 0)
		require.NoError(t, err)
		assert.Equal(t, 10000, raw.Timepoints())
		assert.Equal(t, float64(testrec.Value(3, 9999)), raw.Samples[0][9999])
	})

	t.Run("AboveNativeRate", func(t *testing.T) {
		_, err := r.ReadWindow([]int{0}, recording.Window{Start: 0, End: 1}, 2000)
		require.ErrorIs(t, err, recording.ErrConfig)
	})

	t.Run("PastEnd", func(t *testing.T) {
		raw, err := r.ReadWindow([]int{1}, recording.Window{Start: 9.5, End: 20}, 100)
		require.NoError(t, err)
		assert.Equal(t, 50, raw.Timepoints())
	})
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := spikeglx.Open(filepath.Join(dir, "missing.bin"))
	require.ErrorIs(t, err, recording.ErrNotFound)

	bin := testrec.WriteSpikeGLX(t, dir, "nometa", testrec.SpikeGLX{Channels: 2, SampleRate: 100, Duration: 1})
	require.NoError(t, os.Remove(spikeglx.MetaPath(bin)))
	_, err = spikeglx.Open(bin)
	require.ErrorIs(t, err, recording.ErrNotFound)

	bin = testrec.WriteSpikeGLX(t, dir, "badmap", testrec.SpikeGLX{
		Channels: 2, SampleRate: 100, Duration: 1,
		Meta: map[string]string{"snsChanMap": "(0,1,1)(LF0;0:0)(SY:0;1:1)"},
	})
	_, err = spikeglx.Open(bin)
	require.ErrorIs(t, err, recording.ErrFormat)

	bin = testrec.WriteSpikeGLX(t, dir, "short", testrec.SpikeGLX{
		Channels: 2, SampleRate: 100, Duration: 1,
		Meta: map[string]string{"fileSizeBytes": "100000"},
	})
	_, err = spikeglx.Open(bin)
	require.ErrorIs(t, err, recording.ErrFormat)
}

func TestNIDQGains(t *testing.T) {
	dir := t.TempDir()
	bin := testrec.WriteSpikeGLX(t, dir, "rec.nidq", testrec.SpikeGLX{
		Channels: 3, SampleRate: 100, Duration: 1,
		Meta: map[string]string{
			"typeThis":     "nidq",
			"niSampRate":   "100",
			"niAiRangeMax": "5",
			"niMNGain":     "200",
			"niMAGain":     "10",
			"snsMnMaXaDw":  "1,1,1,0",
		},
	})

	r, err := spikeglx.Open(bin)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, r.Close())
	})

	md := r.Metadata()
	assert.Equal(t, recording.StreamNIDQ, md.StreamType)
	assert.InDelta(t, 5.0/32768/200, md.Channels[0].Gain, 1e-15)
	assert.InDelta(t, 5.0/32768/10, md.Channels[1].Gain, 1e-15)
	assert.InDelta(t, 5.0/32768, md.Channels[2].Gain, 1e-15)
	assert.Equal(t, recording.KindAux, md.Channels[2].Kind)
}
