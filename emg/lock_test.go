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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OpenPSG/sleepscore/emg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.derivedEMGlock")

	t.Run("AcquireRelease", func(t *testing.T) {
		lock, err := emg.AcquireLock(path)
		require.NoError(t, err)

		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%s pid=%d\n", lock.Token(), os.Getpid()), string(b))

		_, err = emg.AcquireLock(path)
		require.ErrorIs(t, err, emg.ErrLocked)

		require.NoError(t, lock.Release())
		assert.NoFileExists(t, path)

		// Releasing twice is harmless.
		require.NoError(t, lock.Release())
	})

	t.Run("ForeignTokenSurvivesRelease", func(t *testing.T) {
		lock, err := emg.AcquireLock(path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = os.Remove(path) })

		foreign := fmt.Sprintf("other-token pid=%d\n", os.Getpid())
		require.NoError(t, os.WriteFile(path, []byte(foreign), 0o644))

		err = lock.Release()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "other-token")

		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, foreign, string(b))
	})

	t.Run("LiveOwner", func(t *testing.T) {
		owner := fmt.Sprintf("live-owner pid=%d\n", os.Getpid())
		require.NoError(t, os.WriteFile(path, []byte(owner), 0o644))
		t.Cleanup(func() { _ = os.Remove(path) })

		_, err := emg.AcquireLock(path)
		require.ErrorIs(t, err, emg.ErrLocked)
		assert.Contains(t, err.Error(), "live-owner")

		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, owner, string(b))
	})

	t.Run("DistinctTokens", func(t *testing.T) {
		a, err := emg.AcquireLock(path)
		require.NoError(t, err)
		require.NoError(t, a.Release())

		b, err := emg.AcquireLock(path)
		require.NoError(t, err)
		require.NoError(t, b.Release())

		assert.NotEqual(t, a.Token(), b.Token())
		assert.False(t, strings.ContainsAny(a.Token(), " \n"))
	})
}
