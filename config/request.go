// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package config

import (
	"log/slog"

	"github.com/OpenPSG/sleepscore"
	"github.com/OpenPSG/sleepscore/emg"
	"github.com/OpenPSG/sleepscore/recording"
)

// Request converts the file into a pipeline request logging to log.
func (f *File) Request(log *slog.Logger) (sleepscore.Request, error) {
	unit := sleepscore.Microvolt
	if f.Unit != "" {
		var err error
		if unit, err = sleepscore.ParseUnit(f.Unit); err != nil {
			return sleepscore.Request{}, err
		}
	}

	var downSample float64
	if f.DownSample != nil {
		downSample = *f.DownSample
	}

	req := sleepscore.Request{
		Datasets: make([]sleepscore.DatasetSpec, len(f.Datasets)),
		Options: sleepscore.Options{
			DownSample: downSample,
			Span:       recording.Span{Start: f.TStart, End: f.TEnd},
			Unit:       unit,
			Logger:     log,
		},
		ViewerOptions: f.KwargsSleep,
	}
	for i, ds := range f.Datasets {
		req.Datasets[i] = sleepscore.DatasetSpec{
			Path:     ds.BinPath,
			Format:   ds.Datatype,
			Channels: ds.ChanList,
			Mode:     modeOrDefault(ds.ChanListType),
			Relabel:  ds.ChanLabelsMap,
			Name:     ds.Name,
		}
	}

	if f.EMG != nil {
		spec, err := f.EMG.spec()
		if err != nil {
			return sleepscore.Request{}, err
		}
		req.EMG = spec
	}

	return req, nil
}

func (e *EMG) spec() (*sleepscore.EMGSpec, error) {
	if len(e.BandPass) != 2 {
		return nil, recording.Errorf(recording.ErrConfig, "emg: bandpass must be [low, high], got %v", e.BandPass)
	}
	if len(e.BandStop) != 0 && len(e.BandStop) != 2 {
		return nil, recording.Errorf(recording.ErrConfig, "emg: bandstop must be [low, high], got %v", e.BandStop)
	}

	cfg := emg.Config{
		Channels:   e.ChanList,
		Mode:       string(modeOrDefault(e.ChanListType)),
		BandPass:   [2]float64{e.BandPass[0], e.BandPass[1]},
		WindowSize: e.WindowSize,
		SampleRate: e.SF,
		LoadRate:   e.LoadSF,
	}
	if len(e.BandStop) == 2 {
		cfg.BandStop = [2]float64{e.BandStop[0], e.BandStop[1]}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &sleepscore.EMGSpec{
		Path:      e.BinPath,
		Format:    e.Datatype,
		Config:    cfg,
		Label:     e.Label,
		Recompute: e.Recompute,
		Persist:   e.Persist,
	}, nil
}

func modeOrDefault(mode string) sleepscore.Mode {
	if mode == "" {
		return sleepscore.ModeIndices
	}
	return sleepscore.Mode(mode)
}
