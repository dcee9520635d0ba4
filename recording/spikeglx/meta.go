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
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/OpenPSG/sleepscore/recording"
)

// Meta holds the key/value pairs of a SpikeGLX .meta sidecar.
type Meta map[string]string

// MetaPath returns the sidecar path of a SpikeGLX binary.
func MetaPath(binPath string) string {
	return strings.TrimSuffix(binPath, filepath.Ext(binPath)) + ".meta"
}

// ReadMeta parses the sidecar of the given binary.
func ReadMeta(binPath string) (Meta, error) {
	path := MetaPath(binPath)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, recording.Errorf(recording.ErrNotFound, "metadata file %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("error opening metadata: %w", err)
	}
	defer f.Close()

	meta := make(Meta)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, recording.Errorf(recording.ErrFormat, "metadata line %q is not key=value", line)
		}
		meta[strings.TrimPrefix(key, "~")] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading metadata: %w", err)
	}

	return meta, nil
}

func (m Meta) str(key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", recording.Errorf(recording.ErrFormat, "metadata key %s is missing", key)
	}
	return v, nil
}

func (m Meta) float(key string) (float64, error) {
	v, err := m.str(key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, recording.Errorf(recording.ErrFormat, "metadata key %s: %v", key, err)
	}
	return f, nil
}

func (m Meta) floatOr(key string, def float64) (float64, error) {
	if _, ok := m[key]; !ok {
		return def, nil
	}
	return m.float(key)
}

func (m Meta) int(key string) (int, error) {
	v, err := m.str(key)
	if err != nil {
		return 0, err
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, recording.Errorf(recording.ErrFormat, "metadata key %s: %v", key, err)
	}
	return i, nil
}

func (m Meta) ints(key string) ([]int, error) {
	v, err := m.str(key)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, field := range strings.Split(v, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, recording.Errorf(recording.ErrFormat, "metadata key %s: %v", key, err)
		}
		out = append(out, i)
	}
	return out, nil
}

// StreamType returns imec for probe streams and nidq for everything else.
func (m Meta) StreamType() recording.StreamType {
	if m["typeThis"] == "imec" {
		return recording.StreamIMEC
	}
	return recording.StreamNIDQ
}

// SampleRate returns the native sample rate of the stream.
func (m Meta) SampleRate() (float64, error) {
	if m.StreamType() == recording.StreamIMEC {
		return m.float("imSampRate")
	}
	return m.float("niSampRate")
}

// StartTime returns the file creation time, zero when absent or unparsable.
func (m Meta) StartTime() time.Time {
	t, err := time.Parse("2006-01-02T15:04:05", m["fileCreateTime"])
	if err != nil {
		return time.Time{}
	}
	return t
}

// OriginalChannels returns the acquisition index of every saved channel.
func (m Meta) OriginalChannels() ([]int, error) {
	nSaved, err := m.int("nSavedChans")
	if err != nil {
		return nil, err
	}
	subset, err := m.str("snsSaveChanSubset")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(subset) == "all" {
		chans := make([]int, nSaved)
		for i := range chans {
			chans[i] = i
		}
		return chans, nil
	}

	var chans []int
	for _, field := range strings.Split(subset, ",") {
		lo, hi, isRange := strings.Cut(strings.TrimSpace(field), ":")
		first, err := strconv.Atoi(lo)
		if err != nil {
			return nil, recording.Errorf(recording.ErrFormat, "snsSaveChanSubset %q: %v", subset, err)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(hi); err != nil {
				return nil, recording.Errorf(recording.ErrFormat, "snsSaveChanSubset %q: %v", subset, err)
			}
		}
		for c := first; c <= last; c++ {
			chans = append(chans, c)
		}
	}
	if len(chans) != nSaved {
		return nil, recording.Errorf(recording.ErrFormat, "snsSaveChanSubset lists %d channels but nSavedChans is %d", len(chans), nSaved)
	}
	return chans, nil
}

// ChanMapEntry is one (label;index:order) tuple of snsChanMap.
type ChanMapEntry struct {
	Label string
	Order int
}

// ParseChanMap parses a snsChanMap string of the form
// (n,n,n)(label;orig:order)(label;orig:order)...
func ParseChanMap(s string) ([]ChanMapEntry, error) {
	tuples := strings.Split(strings.Trim(strings.TrimSpace(s), ")("), ")(")
	if len(tuples) < 1 || tuples[0] == "" {
		return nil, recording.Errorf(recording.ErrFormat, "empty channel map")
	}

	entries := make([]ChanMapEntry, 0, len(tuples)-1)
	for _, tuple := range tuples[1:] {
		fields := strings.Split(tuple, ":")
		if len(fields) != 2 {
			return nil, recording.Errorf(recording.ErrFormat, "channel map tuple %q must have exactly two ':'-separated fields", tuple)
		}
		order, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, recording.Errorf(recording.ErrFormat, "channel map tuple %q: %v", tuple, err)
		}
		entries = append(entries, ChanMapEntry{Label: fields[0], Order: order})
	}
	return entries, nil
}

// Metadata builds the recording metadata described by the sidecar.
func (m Meta) Metadata(binPath string) (*recording.Metadata, error) {
	sampleRate, err := m.SampleRate()
	if err != nil {
		return nil, err
	}
	duration, err := m.float("fileTimeSecs")
	if err != nil {
		return nil, err
	}
	orig, err := m.OriginalChannels()
	if err != nil {
		return nil, err
	}

	var mapKey string
	if m.StreamType() == recording.StreamIMEC {
		mapKey = "snsChanMap"
	} else {
		mapKey = "niChanMap"
		if _, ok := m[mapKey]; !ok {
			mapKey = "snsChanMap"
		}
	}
	rawMap, err := m.str(mapKey)
	if err != nil {
		return nil, err
	}
	chanMap, err := ParseChanMap(rawMap)
	if err != nil {
		return nil, err
	}
	labels := make(map[int]string, len(chanMap))
	for _, e := range chanMap {
		labels[e.Order] = e.Label
	}

	gains, err := m.gains(orig)
	if err != nil {
		return nil, err
	}

	md := &recording.Metadata{
		Path:       binPath,
		Format:     "SGLX",
		StreamType: m.StreamType(),
		SampleRate: sampleRate,
		Duration:   duration,
		StartTime:  m.StartTime(),
		Channels:   make([]recording.ChannelDescriptor, len(orig)),
	}
	for i, o := range orig {
		label, ok := labels[o]
		if !ok {
			return nil, recording.Errorf(recording.ErrFormat, "channel %d is missing from %s", o, mapKey)
		}
		md.Channels[i] = recording.ChannelDescriptor{
			StorageIndex:  i,
			Label:         label,
			OriginalIndex: o,
			Kind:          gains[i].kind,
			Gain:          gains[i].volts,
			SampleRate:    sampleRate,
		}
	}

	return md, nil
}
