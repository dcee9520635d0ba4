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
)

// Viewer displays loaded data. It receives the matrix rows, their sample
// rate and labels, and options it alone interprets.
type Viewer interface {
	Show(data [][]float64, sampleRate float64, labels []string, opts map[string]any) error
}

// Load runs the whole pipeline: every dataset is loaded and combined, then
// the derived EMG channel is appended when requested.
func Load(req Request) (*Result, error) {
	res, err := Combine(req.Datasets, req.Options)
	if err != nil {
		return nil, err
	}

	if req.EMG != nil {
		art, err := loadEMG(req)
		if err != nil {
			return nil, fmt.Errorf("error loading derived EMG: %w", err)
		}
		row, warning, err := AlignEMG(art.Data, art.Metadata.SampleRate, res.Matrix)
		if err != nil {
			return nil, err
		}
		if warning != "" {
			req.Options.logger().Warn(warning)
			res.Warnings = append(res.Warnings, warning)
		}

		label := req.EMG.Label
		if label == "" {
			label = DefaultEMGLabel
		}
		res.Matrix.Data = append(res.Matrix.Data, row)
		res.Matrix.Labels = append(res.Matrix.Labels, label)
	}

	return res, nil
}

// Score loads the request and hands the result to the viewer.
func Score(req Request, viewer Viewer) error {
	res, err := Load(req)
	if err != nil {
		return err
	}
	m := res.Matrix
	return viewer.Show(m.Data, m.SampleRate, m.Labels, req.ViewerOptions)
}
