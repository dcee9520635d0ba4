// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package spikeglx

import (
	"strconv"
	"strings"

	"github.com/OpenPSG/sleepscore/recording"
)

// NP2.x probes have a fixed gain and no per-channel gain columns.
const np2Gain = 80.0

type channelGain struct {
	kind  recording.ChannelKind
	volts float64 // volts per count
}

func (m Meta) gains(orig []int) ([]channelGain, error) {
	if m.StreamType() == recording.StreamIMEC {
		return m.gainsIMEC(orig)
	}
	return m.gainsNIDQ(orig)
}

// gainsIMEC applies imAiRangeMax/imMaxInt divided by the AP or LF gain of
// the imro table. Sync channels carry digital words and get unit gain.
func (m Meta) gainsIMEC(orig []int) ([]channelGain, error) {
	rangeMax, err := m.float("imAiRangeMax")
	if err != nil {
		return nil, err
	}
	maxInt, err := m.floatOr("imMaxInt", 512)
	if err != nil {
		return nil, err
	}
	i2v := rangeMax / maxInt

	counts, err := m.ints("snsApLfSy")
	if err != nil {
		return nil, err
	}
	if len(counts) != 3 {
		return nil, recording.Errorf(recording.ErrFormat, "snsApLfSy must have 3 fields, got %d", len(counts))
	}
	nAP, nLF := counts[0], counts[1]

	apGains, lfGains, err := m.imroGains()
	if err != nil {
		return nil, err
	}

	out := make([]channelGain, len(orig))
	for i, j := range orig {
		switch {
		case j < nAP:
			g, err := gainAt(apGains, j)
			if err != nil {
				return nil, err
			}
			out[i] = channelGain{kind: recording.KindProbe, volts: i2v / g}
		case j < nAP+nLF:
			g, err := gainAt(lfGains, j-nAP)
			if err != nil {
				return nil, err
			}
			out[i] = channelGain{kind: recording.KindProbe, volts: i2v / g}
		default:
			out[i] = channelGain{kind: recording.KindAux, volts: 1}
		}
	}
	return out, nil
}

func gainAt(gains []float64, i int) (float64, error) {
	if i < 0 || i >= len(gains) {
		return 0, recording.Errorf(recording.ErrFormat, "imroTbl has no entry for channel %d", i)
	}
	if gains[i] == 0 {
		return 0, recording.Errorf(recording.ErrFormat, "imroTbl gain for channel %d is zero", i)
	}
	return gains[i], nil
}

// imroGains parses the AP and LF gain columns of imroTbl.
func (m Meta) imroGains() (ap, lf []float64, err error) {
	tbl, err := m.str("imroTbl")
	if err != nil {
		return nil, nil, err
	}
	entries := strings.Split(strings.Trim(strings.TrimSpace(tbl), ")("), ")(")
	if len(entries) < 2 {
		return nil, nil, recording.Errorf(recording.ErrFormat, "imroTbl has no channel entries")
	}
	entries = entries[1:]

	ap = make([]float64, len(entries))
	lf = make([]float64, len(entries))

	switch m["imDatPrb_type"] {
	case "21", "24", "2013":
		for i := range entries {
			ap[i], lf[i] = np2Gain, np2Gain
		}
		return ap, lf, nil
	}

	for i, e := range entries {
		fields := strings.Fields(e)
		if len(fields) < 5 {
			return nil, nil, recording.Errorf(recording.ErrFormat, "imroTbl entry %q has too few fields", e)
		}
		if ap[i], err = strconv.ParseFloat(fields[3], 64); err != nil {
			return nil, nil, recording.Errorf(recording.ErrFormat, "imroTbl entry %q: %v", e, err)
		}
		if lf[i], err = strconv.ParseFloat(fields[4], 64); err != nil {
			return nil, nil, recording.Errorf(recording.ErrFormat, "imroTbl entry %q: %v", e, err)
		}
	}
	return ap, lf, nil
}

// gainsNIDQ applies niAiRangeMax/niMaxInt divided by the MN or MA gain.
// XA and DW channels have no amplifier gain and use i2v alone.
func (m Meta) gainsNIDQ(orig []int) ([]channelGain, error) {
	rangeMax, err := m.float("niAiRangeMax")
	if err != nil {
		return nil, err
	}
	maxInt, err := m.floatOr("niMaxInt", 32768)
	if err != nil {
		return nil, err
	}
	i2v := rangeMax / maxInt

	counts, err := m.ints("snsMnMaXaDw")
	if err != nil {
		return nil, err
	}
	if len(counts) != 4 {
		return nil, recording.Errorf(recording.ErrFormat, "snsMnMaXaDw must have 4 fields, got %d", len(counts))
	}
	nMN, nMA := counts[0], counts[1]

	mnGain, err := m.floatOr("niMNGain", 1)
	if err != nil {
		return nil, err
	}
	maGain, err := m.floatOr("niMAGain", 1)
	if err != nil {
		return nil, err
	}
	if mnGain == 0 || maGain == 0 {
		return nil, recording.Errorf(recording.ErrFormat, "NI gains must be non-zero")
	}

	out := make([]channelGain, len(orig))
	for i, j := range orig {
		switch {
		case j < nMN:
			out[i] = channelGain{kind: recording.KindProbe, volts: i2v / mnGain}
		case j < nMN+nMA:
			out[i] = channelGain{kind: recording.KindProbe, volts: i2v / maGain}
		default:
			out[i] = channelGain{kind: recording.KindAux, volts: i2v}
		}
	}
	return out, nil
}
