//go:build !unix

// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package spikeglx

import "os"

// Without mmap the file itself serves positioned reads.
type fileReader struct {
	*os.File
}

func mapFile(f *os.File, _ int64) (sampleFile, error) {
	return &fileReader{File: f}, nil
}

func (r *fileReader) Close() error {
	// The file is owned and closed by the Reader.
	return nil
}
