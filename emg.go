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
	"fmt"

	"github.com/OpenPSG/sleepscore/emg"
	"github.com/OpenPSG/sleepscore/recording"
	"gonum.org/v1/gonum/interp"
)

// DefaultEMGLabel labels the derived EMG row.
const DefaultEMGLabel = "derivedEMG"

// emgLoader loads the EMG source channels over the whole recording in
// microvolts, independently of the unit requested for the main matrix.
func emgLoader(path, format string, opts Options) emg.LoadFunc {
	return func(channels []string, mode string, rate float64) ([][]float64, float64, error) {
		m, _, err := LoadDataset(DatasetSpec{
			Path:     path,
			Format:   format,
			Channels: channels,
			Mode:     Mode(mode),
		}, Options{DownSample: rate, Unit: Microvolt, Logger: opts.Logger})
		if err != nil {
			return nil, 0, err
		}
		return m.Data, m.SampleRate, nil
	}
}

// loadEMG returns the derived EMG artifact for the request.
func loadEMG(req Request) (*emg.Artifact, error) {
	spec := req.EMG
	path, format := spec.Path, spec.Format
	if path == "" {
		path, format = req.Datasets[0].Path, req.Datasets[0].Format
	}

	cache := &emg.Cache{
		Load:    emgLoader(path, format, req.Options),
		Persist: spec.Persist,
		Logger:  req.Options.logger(),
	}
	return cache.Get(path, spec.Config, spec.Recompute)
}

// AlignEMG resamples an EMG signal starting at the recording start onto the
// sample times of m, by linear interpolation. The returned warning is
// non-empty when the EMG rate differs from the matrix rate.
func AlignEMG(signal []float64, rate float64, m *Matrix) ([]float64, string, error) {
	if len(signal) < 2 {
		return nil, "", recording.Errorf(recording.ErrAlignment, "derived EMG has %d samples, need at least 2", len(signal))
	}

	xs := make([]float64, len(signal))
	for i := range xs {
		xs[i] = float64(i) / rate
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, signal); err != nil {
		return nil, "", fmt.Errorf("error fitting derived EMG: %w", err)
	}

	n := m.Timepoints()
	covered := xs[len(xs)-1] + 1/rate
	if end := m.Start + float64(n-1)/m.SampleRate; n > 0 && end > covered {
		return nil, "", recording.Errorf(recording.ErrAlignment, "derived EMG covers %gs but data extends to %gs", covered, end)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = pl.Predict(m.Start + float64(i)/m.SampleRate)
	}

	var warning string
	if rate != m.SampleRate {
		warning = fmt.Sprintf("derived EMG resampled from %gHz to %gHz", rate, m.SampleRate)
	}
	return out, warning, nil
}
