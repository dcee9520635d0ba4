//go:build unix

// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package emg_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/OpenPSG/sleepscore/emg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockStaleOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.derivedEMGlock")

	// No process can have this pid, it is above the kernel pid limit.
	require.NoError(t, os.WriteFile(path, []byte("crashed-owner pid=1073741824\n"), 0o644))

	lock, err := emg.AcquireLock(path)
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), lock.Token())
	assert.NotContains(t, string(b), "crashed-owner")

	require.NoError(t, lock.Release())
	assert.NoFileExists(t, path)
}
