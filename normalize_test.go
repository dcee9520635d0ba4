// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package sleepscore_test

import (
	"testing"

	"github.com/OpenPSG/sleepscore"
	"github.com/OpenPSG/sleepscore/recording"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnit(t *testing.T) {
	for in, want := range map[string]sleepscore.Unit{
		"uV": sleepscore.Microvolt,
		"UV": sleepscore.Microvolt,
		"µV": sleepscore.Microvolt,
		"mV": sleepscore.Millivolt,
		"mv": sleepscore.Millivolt,
	} {
		got, err := sleepscore.ParseUnit(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, in := range []string{"V", "nV", ""} {
		_, err := sleepscore.ParseUnit(in)
		require.ErrorIs(t, err, recording.ErrConfig, in)
	}
}

func TestNormalize(t *testing.T) {
	md := &recording.Metadata{
		Channels: []recording.ChannelDescriptor{
			{StorageIndex: 0, Label: "LF0;0", Kind: recording.KindProbe, Gain: 0.6 / 512 / 250},
			{StorageIndex: 1, Label: "SY0;1", Kind: recording.KindAux, Gain: 0.6 / 512},
		},
	}
	sel, err := sleepscore.Resolve(nil, "", md.Labels())
	require.NoError(t, err)

	raw := &recording.Raw{
		Samples:    [][]float64{{-512, 0, 1, 511}, {3, -3, 100, 0}},
		SampleRate: 250,
	}

	uv, err := sleepscore.Normalize(raw, sel, md, sleepscore.Microvolt)
	require.NoError(t, err)
	mv, err := sleepscore.Normalize(raw, sel, md, sleepscore.Millivolt)
	require.NoError(t, err)

	assert.Equal(t, sleepscore.Microvolt, uv.Unit)
	assert.Equal(t, 250.0, uv.SampleRate)
	assert.Equal(t, []string{"LF0;0", "SY0;1"}, uv.Labels)
	assert.InDelta(t, -512*0.6/512/250*1e6, uv.Data[0][0], 1e-9)

	for ch := range uv.Data {
		for i := range uv.Data[ch] {
			assert.InDelta(t, mv.Data[ch][i], uv.Data[ch][i]/1000, 1e-12)
		}
	}

	// Raw counts are not modified.
	assert.Equal(t, []float64{-512, 0, 1, 511}, raw.Samples[0])

	_, err = sleepscore.Normalize(raw, sel, md, "V")
	require.ErrorIs(t, err, recording.ErrConfig)

	t.Run("UnitCase", func(t *testing.T) {
		for in, want := range map[sleepscore.Unit]*sleepscore.Matrix{"mv": mv, "MV": mv, "µV": uv, "uv": uv} {
			got, err := sleepscore.Normalize(raw, sel, md, in)
			require.NoError(t, err, in)
			assert.Equal(t, want.Unit, got.Unit, in)
			assert.Equal(t, want.Data, got.Data, in)
		}
	})

	t.Run("CountsToMillivolts", func(t *testing.T) {
		one := &recording.Metadata{Channels: []recording.ChannelDescriptor{{Label: "A", Gain: 1e-6}}}
		sel, err := sleepscore.Resolve(nil, "", one.Labels())
		require.NoError(t, err)

		m, err := sleepscore.Normalize(&recording.Raw{Samples: [][]float64{{1000}}, SampleRate: 1}, sel, one, "mv")
		require.NoError(t, err)
		assert.Equal(t, sleepscore.Millivolt, m.Unit)
		assert.InDelta(t, 1.0, m.Data[0][0], 1e-12)
	})
}
