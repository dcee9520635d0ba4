// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package emg

import (
	"math"
	"slices"

	"github.com/OpenPSG/sleepscore/recording"
	"gonum.org/v1/gonum/floats"
)

// biquad is a second order IIR section with a0 normalized to 1.
type biquad struct {
	b0, b1, b2, a1, a2 float64
}

const butterworthQ = math.Sqrt2 / 2

func newBiquad(b0, b1, b2, a0, a1, a2 float64) biquad {
	return biquad{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

func lowpass(fc, fs float64) biquad {
	w := 2 * math.Pi * fc / fs
	cos, alpha := math.Cos(w), math.Sin(w)/(2*butterworthQ)
	return newBiquad((1-cos)/2, 1-cos, (1-cos)/2, 1+alpha, -2*cos, 1-alpha)
}

func highpass(fc, fs float64) biquad {
	w := 2 * math.Pi * fc / fs
	cos, alpha := math.Cos(w), math.Sin(w)/(2*butterworthQ)
	return newBiquad((1+cos)/2, -(1 + cos), (1+cos)/2, 1+alpha, -2*cos, 1-alpha)
}

// notch rejects the band [lo, hi], centred on its geometric mean.
func notch(lo, hi, fs float64) biquad {
	f0 := math.Sqrt(lo * hi)
	w := 2 * math.Pi * f0 / fs
	cos, alpha := math.Cos(w), math.Sin(w)/(2*f0/(hi-lo))
	return newBiquad(1, -2*cos, 1, 1+alpha, -2*cos, 1-alpha)
}

// apply filters x in place (transposed direct form II).
func (q biquad) apply(x []float64) {
	var z1, z2 float64
	for i, in := range x {
		out := q.b0*in + z1
		z1 = q.b1*in - q.a1*out + z2
		z2 = q.b2*in - q.a2*out
		x[i] = out
	}
}

// filtfilt runs every section forward then backward, cancelling the phase
// shift.
func filtfilt(x []float64, sections ...biquad) {
	for _, q := range sections {
		q.apply(x)
	}
	slices.Reverse(x)
	for _, q := range sections {
		q.apply(x)
	}
	slices.Reverse(x)
}

// Derive computes the EMG proxy of the given channels sampled at rate: each
// channel is band-passed (and band-stopped), rectified, the channels are
// averaged, and the RMS energy in a centred window of cfg.WindowSize seconds
// is sampled at cfg.SampleRate. It returns the signal and its sample rate.
func Derive(data [][]float64, rate float64, cfg Config) ([]float64, float64, error) {
	if len(data) == 0 || len(data[0]) == 0 {
		return nil, 0, recording.Errorf(recording.ErrConfig, "no LFP data to derive EMG from")
	}
	if cfg.BandPass[1] >= rate/2 {
		return nil, 0, recording.Errorf(recording.ErrConfig, "EMG bandpass %v is above the Nyquist frequency of %gHz data", cfg.BandPass, rate)
	}
	if cfg.SampleRate > rate {
		return nil, 0, recording.Errorf(recording.ErrConfig, "EMG sf %gHz is above the LFP rate %gHz", cfg.SampleRate, rate)
	}

	sections := []biquad{highpass(cfg.BandPass[0], rate), lowpass(cfg.BandPass[1], rate)}
	if cfg.HasBandStop() {
		sections = append(sections, notch(cfg.BandStop[0], cfg.BandStop[1], rate))
	}

	n := len(data[0])
	env := make([]float64, n)
	x := make([]float64, n)
	for _, ch := range data {
		if len(ch) != n {
			return nil, 0, recording.Errorf(recording.ErrAlignment, "LFP channels have different lengths")
		}
		copy(x, ch)
		filtfilt(x, sections...)
		for i, v := range x {
			x[i] = math.Abs(v)
		}
		floats.Add(env, x)
	}
	floats.Scale(1/float64(len(data)), env)

	// Prefix sums of the squared envelope give every window energy in O(1).
	sq := make([]float64, n)
	floats.MulTo(sq, env, env)
	cum := floats.CumSum(make([]float64, n), sq)

	half := int(math.Round(cfg.WindowSize * rate / 2))
	m := int(math.Floor(float64(n) / rate * cfg.SampleRate))
	out := make([]float64, m)
	for k := range out {
		c := min(int(math.Round(float64(k)/cfg.SampleRate*rate)), n-1)
		lo, hi := max(c-half, 0), min(c+half, n-1)
		sum := cum[hi]
		if lo > 0 {
			sum -= cum[lo-1]
		}
		out[k] = math.Sqrt(sum / float64(hi-lo+1))
	}

	return out, cfg.SampleRate, nil
}
