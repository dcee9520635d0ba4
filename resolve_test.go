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
	"fmt"
	"testing"

	"github.com/OpenPSG/sleepscore"
	"github.com/OpenPSG/sleepscore/recording"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var catalog = []string{"LF0;0", "LF1;1", "LF2;2", "SY0;3"}

func TestResolveAll(t *testing.T) {
	for _, saved := range [][]string{nil, {"a"}, catalog} {
		explicit := make([]string, len(saved))
		for i := range saved {
			explicit[i] = fmt.Sprint(i)
		}
		want, err := sleepscore.Resolve(explicit, sleepscore.ModeIndices, saved)
		require.NoError(t, err)

		for _, entries := range [][]string{nil, {}, {"all"}} {
			got, err := sleepscore.Resolve(entries, sleepscore.ModeLabels, saved)
			require.NoError(t, err)
			assert.Equal(t, sleepscore.ModeIndices, got.Mode)
			assert.Equal(t, want.Channels, got.Channels)
		}
	}
}

func TestResolveIndices(t *testing.T) {
	sel, err := sleepscore.Resolve([]string{"2", " 0"}, sleepscore.ModeIndices, catalog)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, sel.Indices())
	assert.Equal(t, []string{"LF2;2", "LF0;0"}, sel.Labels())

	_, err = sleepscore.Resolve([]string{"1", "4", "-1", "x"}, sleepscore.ModeIndices, catalog)
	require.ErrorIs(t, err, recording.ErrChannel)
	var chErr *recording.ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, []string{"4", "-1", "x"}, chErr.Invalid)
	assert.Equal(t, []string{"0", "1", "2", "3"}, chErr.Valid)

	_, err = sleepscore.Resolve([]string{"1", "1"}, sleepscore.ModeIndices, catalog)
	require.ErrorIs(t, err, recording.ErrChannel)

	_, err = sleepscore.Resolve([]string{"1"}, "bogus", catalog)
	require.ErrorIs(t, err, recording.ErrConfig)
}

func TestResolveLabels(t *testing.T) {
	// Catalog order wins over request order.
	sel, err := sleepscore.Resolve([]string{"SY0;3", "LF1;1"}, sleepscore.ModeLabels, catalog)
	require.NoError(t, err)
	assert.Equal(t, sleepscore.ModeLabels, sel.Mode)
	assert.Equal(t, []int{1, 3}, sel.Indices())
	assert.Equal(t, []string{"LF1;1", "SY0;3"}, sel.Labels())

	_, err = sleepscore.Resolve([]string{"LF1;1", "EEG1", "LF9;9"}, sleepscore.ModeLabels, catalog)
	require.ErrorIs(t, err, recording.ErrChannel)
	var chErr *recording.ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, []string{"EEG1", "LF9;9"}, chErr.Invalid)
	assert.Equal(t, catalog, chErr.Valid)
	for _, label := range append([]string{"EEG1", "LF9;9"}, catalog...) {
		assert.Contains(t, err.Error(), label)
	}
}

func TestRelabel(t *testing.T) {
	sel, err := sleepscore.Resolve([]string{"0", "1", "3"}, sleepscore.ModeIndices, catalog)
	require.NoError(t, err)

	relabeled, warnings, err := sleepscore.Relabel(sel, map[string]string{
		"LF0;0": "EEG;frontal",
		"SY0;3": "sync",
		"AP7;7": "unused",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"EEG_frontal", "LF1_1", "sync"}, relabeled.Labels())
	assert.Equal(t, []string{"LF0;0", "LF1;1", "SY0;3"}, []string{
		relabeled.Channels[0].Original, relabeled.Channels[1].Original, relabeled.Channels[2].Original,
	})
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "AP7;7")

	_, _, err = sleepscore.Relabel(sel, map[string]string{"LF1;1": " "})
	require.ErrorIs(t, err, recording.ErrConfig)

	// No map leaves labels alone apart from the delimiter substitution.
	plain, warnings, err := sleepscore.Relabel(sel, nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, []string{"LF0_0", "LF1_1", "SY0_3"}, plain.Labels())
}
