// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package sleepscore

import (
	"github.com/OpenPSG/sleepscore/recording"
	"gonum.org/v1/gonum/floats"
)

// Normalize converts raw counts into the requested unit using the gain of
// each selected channel. Raw is left untouched.
func Normalize(raw *recording.Raw, sel Selection, md *recording.Metadata, unit Unit) (*Matrix, error) {
	unit, err := ParseUnit(string(unit))
	if err != nil {
		return nil, err
	}
	if len(raw.Samples) != len(sel.Channels) {
		return nil, recording.Errorf(recording.ErrAlignment, "read %d channels but %d were selected", len(raw.Samples), len(sel.Channels))
	}

	m := &Matrix{
		Data:       make([][]float64, len(raw.Samples)),
		SampleRate: raw.SampleRate,
		Unit:       unit,
		Labels:     sel.Labels(),
		StartTime:  md.StartTime,
	}
	for i, ch := range sel.Channels {
		if ch.StorageIndex < 0 || ch.StorageIndex >= len(md.Channels) {
			return nil, recording.Errorf(recording.ErrChannel, "storage index %d out of range [0, %d)", ch.StorageIndex, len(md.Channels))
		}
		gain := md.Channels[ch.StorageIndex].Gain
		m.Data[i] = floats.ScaleTo(make([]float64, len(raw.Samples[i])), gain*unit.Factor(), raw.Samples[i])
	}

	return m, nil
}
