// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package emg derives an EMG-like channel from LFP channels and caches the
// result next to the source recording.
package emg

import (
	"slices"

	"github.com/OpenPSG/sleepscore/recording"
)

// Config holds every parameter of the derivation. Two artifacts derived with
// equal configs from the same recording are interchangeable.
type Config struct {
	Channels   []string   `yaml:"chanList"`     // LFP channels, nil for all
	Mode       string     `yaml:"chanListType"` // indices or labels
	BandPass   [2]float64 `yaml:"bandpass"`     // Pass band in Hz
	BandStop   [2]float64 `yaml:"bandstop"`     // Stop band in Hz, zero to disable
	WindowSize float64    `yaml:"window_size"`  // Energy window in seconds
	SampleRate float64    `yaml:"sf"`           // Output sample rate in Hz
	LoadRate   float64    `yaml:"load_sf"`      // Rate the LFP channels are loaded at in Hz
}

// Equal compares every field. A nil and an empty channel list are equal.
func (c Config) Equal(o Config) bool {
	return slices.Equal(c.Channels, o.Channels) &&
		c.Mode == o.Mode &&
		c.BandPass == o.BandPass &&
		c.BandStop == o.BandStop &&
		c.WindowSize == o.WindowSize &&
		c.SampleRate == o.SampleRate &&
		c.LoadRate == o.LoadRate
}

// Validate checks the filter bands against the loading rate.
func (c Config) Validate() error {
	if c.LoadRate <= 0 {
		return recording.Errorf(recording.ErrConfig, "EMG load_sf must be positive, got %g", c.LoadRate)
	}
	if c.SampleRate <= 0 || c.SampleRate > c.LoadRate {
		return recording.Errorf(recording.ErrConfig, "EMG sf must be in (0, %g], got %g", c.LoadRate, c.SampleRate)
	}
	if c.WindowSize <= 0 {
		return recording.Errorf(recording.ErrConfig, "EMG window_size must be positive, got %g", c.WindowSize)
	}
	nyquist := c.LoadRate / 2
	if lo, hi := c.BandPass[0], c.BandPass[1]; lo <= 0 || hi <= lo || hi >= nyquist {
		return recording.Errorf(recording.ErrConfig, "EMG bandpass %v must satisfy 0 < low < high < %g", c.BandPass, nyquist)
	}
	if c.HasBandStop() {
		if lo, hi := c.BandStop[0], c.BandStop[1]; lo <= 0 || hi <= lo || hi >= nyquist {
			return recording.Errorf(recording.ErrConfig, "EMG bandstop %v must satisfy 0 < low < high < %g", c.BandStop, nyquist)
		}
	}
	return nil
}

// HasBandStop reports whether a stop band is configured.
func (c Config) HasBandStop() bool {
	return c.BandStop != [2]float64{}
}
