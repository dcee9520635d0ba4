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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Lock is an exclusive lock file guarding the cache of one recording. The
// file holds a random owner token and the pid of the owning process.
type Lock struct {
	path  string
	token string
}

// AcquireLock creates the lock file exclusively. A lock left behind by a
// process that no longer runs is taken over; any other existing lock fails
// immediately with ErrLocked.
func AcquireLock(path string) (*Lock, error) {
	l, err := createLock(path)
	if !errors.Is(err, fs.ErrExist) {
		return l, err
	}

	owner, pid, _ := readLock(path)
	if pid > 0 && !processAlive(pid) {
		// Only remove the stale file if it still names the dead owner.
		if current, _, _ := readLock(path); current == owner {
			_ = os.Remove(path)
		}
		if l, err = createLock(path); !errors.Is(err, fs.ErrExist) {
			return l, err
		}
		owner, pid, _ = readLock(path)
	}
	return nil, fmt.Errorf("%w: %s held by %s (pid %d), remove it if no other process is running",
		ErrLocked, path, owner, pid)
}

func createLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating lock file: %w", err)
	}

	l := &Lock{path: path, token: uuid.NewString()}
	_, werr := fmt.Fprintf(f, "%s pid=%d\n", l.token, os.Getpid())
	if err := errors.Join(werr, f.Close()); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("error writing lock file: %w", err)
	}
	return l, nil
}

// readLock returns the owner token and pid recorded in a lock file. The pid
// is 0 when it cannot be parsed.
func readLock(path string) (string, int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", 0, err
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return "", 0, nil
	}
	var pid int
	if len(fields) > 1 {
		pid, _ = strconv.Atoi(strings.TrimPrefix(fields[1], "pid="))
	}
	return fields[0], pid, nil
}

// Token returns the owner token written to the lock file.
func (l *Lock) Token() string {
	return l.token
}

// Release removes the lock file if it still holds this lock's token. A lock
// file taken over by another owner is left in place.
func (l *Lock) Release() error {
	owner, _, err := readLock(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error reading lock file: %w", err)
	}
	if owner != l.token {
		return fmt.Errorf("lock file %s is now held by %s", l.path, owner)
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error removing lock file: %w", err)
	}
	return nil
}
