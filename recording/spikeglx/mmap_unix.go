//go:build unix

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
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// mappedFile is a read-only memory mapping of a binary file. Only the pages
// backing the bytes actually read are faulted in.
type mappedFile struct {
	data []byte
}

func mapFile(f *os.File, size int64) (sampleFile, error) {
	if size == 0 {
		return &mappedFile{}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("error mapping %s: %w", f.Name(), err)
	}
	// Windows are read with a stride across the file.
	_ = unix.Madvise(data, unix.MADV_RANDOM)
	return &mappedFile{data: data}, nil
}

func (m *mappedFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *mappedFile) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}
