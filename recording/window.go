// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package recording

import "math"

// Span is a requested time range. A nil bound means the start or end of the
// recording.
type Span struct {
	Start *float64
	End   *float64
}

// Window is a resolved time range in seconds from the start of a recording.
type Window struct {
	Start float64
	End   float64
}

// Duration returns the length of the window in seconds.
func (w Window) Duration() float64 {
	return w.End - w.Start
}

// Resolve fills the open bounds of the span using the recording duration.
func (s Span) Resolve(duration float64) (Window, error) {
	w := Window{Start: 0, End: duration}
	if s.Start != nil {
		w.Start = *s.Start
	}
	if s.End != nil {
		w.End = *s.End
	}
	if w.Start < 0 {
		return Window{}, Errorf(ErrConfig, "window start %gs is negative", w.Start)
	}
	if w.Start > w.End {
		return Window{}, Errorf(ErrConfig, "window start %gs is after window end %gs", w.Start, w.End)
	}
	return w, nil
}

// DecimationFactor computes the integer stride that brings sampleRate closest
// to requestedRate, and the effective rate that stride yields. A zero
// requestedRate disables decimation.
func DecimationFactor(sampleRate, requestedRate float64) (int, float64, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return 0, 0, Errorf(ErrFormat, "invalid sample rate %gHz", sampleRate)
	}
	if math.IsNaN(requestedRate) || math.IsInf(requestedRate, 0) {
		return 0, 0, Errorf(ErrConfig, "requested sample rate %gHz is not finite", requestedRate)
	}
	if requestedRate == 0 {
		return 1, sampleRate, nil
	}
	if requestedRate < 0 {
		return 0, 0, Errorf(ErrConfig, "requested sample rate %gHz is negative", requestedRate)
	}
	if requestedRate > sampleRate {
		return 0, 0, Errorf(ErrConfig, "requested sample rate %gHz is above the native rate %gHz", requestedRate, sampleRate)
	}
	ratio := math.Round(sampleRate / requestedRate)
	if ratio > math.MaxInt32 {
		return 0, 0, Errorf(ErrConfig, "requested sample rate %gHz is too low for the native rate %gHz", requestedRate, sampleRate)
	}
	dsf := int(ratio)
	if dsf < 1 {
		dsf = 1
	}
	return dsf, sampleRate / float64(dsf), nil
}

// SampleRange converts a window into the half-open range [first, last) of
// native sample indices, clamped to the total number of samples available.
// The end sample is excluded, so adjacent windows never share a sample.
func SampleRange(sampleRate float64, window Window, total int) (first, last int) {
	first = int(math.Floor(sampleRate * window.Start))
	last = int(math.Floor(sampleRate * window.End))
	if last > total {
		last = total
	}
	if first > last {
		first = last
	}
	return first, last
}

// StridedCount returns how many samples a stride of dsf picks in [first, last).
func StridedCount(first, last, dsf int) int {
	if last <= first {
		return 0
	}
	return (last - first + dsf - 1) / dsf
}
