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
	"sort"
	"strings"

	"github.com/OpenPSG/sleepscore/recording"
	"github.com/OpenPSG/sleepscore/recording/spikeglx"
	"github.com/OpenPSG/sleepscore/recording/tdt"
)

// Opener opens a recording of one format.
type Opener func(path string) (recording.Source, error)

// DefaultFormat is used when a dataset does not name one.
const DefaultFormat = "SGLX"

var formats = map[string]Opener{
	"SGLX": func(path string) (recording.Source, error) {
		r, err := spikeglx.Open(path)
		if err != nil {
			return nil, err
		}
		return r, nil
	},
	"TDT": func(path string) (recording.Source, error) {
		r, err := tdt.Open(path)
		if err != nil {
			return nil, err
		}
		return r, nil
	},
	"OPENEPHYS": func(path string) (recording.Source, error) {
		return nil, recording.Errorf(recording.ErrFormat, "OpenEphys recordings are not implemented (%s)", path)
	},
}

// Formats lists the registered format tags.
func Formats() []string {
	tags := make([]string, 0, len(formats))
	for tag := range formats {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// OpenSource opens path with the backend registered for format. Tags are
// case-insensitive.
func OpenSource(format, path string) (recording.Source, error) {
	if format == "" {
		format = DefaultFormat
	}
	open, ok := formats[strings.ToUpper(format)]
	if !ok {
		return nil, recording.Errorf(recording.ErrFormat, "data format %q not supported, expected one of %s",
			format, strings.Join(Formats(), ", "))
	}
	return open(path)
}
