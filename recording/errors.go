// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package recording

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a source file or directory does not exist.
	ErrNotFound = errors.New("not found")
	// ErrFormat is returned for malformed or unsupported metadata and binary data.
	ErrFormat = errors.New("format error")
	// ErrChannel is returned when a channel selection references missing channels.
	ErrChannel = errors.New("channel error")
	// ErrConfig is returned for invalid parameter combinations.
	ErrConfig = errors.New("config error")
	// ErrAlignment is returned when combined data disagree on rate or length.
	ErrAlignment = errors.New("alignment error")
)

// ChannelError lists the invalid entries of a channel selection along with
// every valid entry.
type ChannelError struct {
	Invalid []string
	Valid   []string
	Reason  string
}

func (e *ChannelError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "channels not found"
	}
	return fmt.Sprintf("%s: %s: [%s], valid channels are [%s]",
		ErrChannel, reason, strings.Join(e.Invalid, ", "), strings.Join(e.Valid, ", "))
}

// Is reports ChannelError as ErrChannel.
func (e *ChannelError) Is(target error) bool {
	return target == ErrChannel
}

// Errorf wraps one of the sentinel errors with a formatted message.
func Errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
