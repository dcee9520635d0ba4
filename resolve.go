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
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/OpenPSG/sleepscore/recording"
)

// SelectedChannel is one resolved channel.
type SelectedChannel struct {
	StorageIndex int    // Position in the saved-channel catalog
	Original     string // Label from the recording metadata
	Label        string // Display label
}

// Selection is an ordered list of resolved channels.
type Selection struct {
	Mode     Mode
	Channels []SelectedChannel
}

// Indices returns the storage index of every selected channel.
func (s Selection) Indices() []int {
	idx := make([]int, len(s.Channels))
	for i, ch := range s.Channels {
		idx[i] = ch.StorageIndex
	}
	return idx
}

// Labels returns the display label of every selected channel.
func (s Selection) Labels() []string {
	labels := make([]string, len(s.Channels))
	for i, ch := range s.Channels {
		labels[i] = ch.Label
	}
	return labels
}

// IsAll reports whether a channel list selects every saved channel.
func IsAll(entries []string) bool {
	return len(entries) == 0 || (len(entries) == 1 && strings.TrimSpace(entries[0]) == AllChannels)
}

// Resolve maps a channel list onto the saved-channel catalog.
//
// An empty list or ["all"] selects every channel in storage order. In
// indices mode every entry is a position in saved. In labels mode every
// entry must be one of saved, and the selection follows the catalog order
// rather than the order of entries.
func Resolve(entries []string, mode Mode, saved []string) (Selection, error) {
	if IsAll(entries) {
		sel := Selection{Mode: ModeIndices, Channels: make([]SelectedChannel, len(saved))}
		for i, label := range saved {
			sel.Channels[i] = SelectedChannel{StorageIndex: i, Original: label, Label: label}
		}
		return sel, nil
	}

	switch mode {
	case "", ModeIndices:
		return resolveIndices(entries, saved)
	case ModeLabels:
		return resolveLabels(entries, saved)
	}
	return Selection{}, recording.Errorf(recording.ErrConfig, "channel list type %q, expected %s or %s", mode, ModeIndices, ModeLabels)
}

func resolveIndices(entries []string, saved []string) (Selection, error) {
	sel := Selection{Mode: ModeIndices}
	seen := make(map[int]bool, len(entries))

	var invalid, duplicates []string
	for _, e := range entries {
		i, err := strconv.Atoi(strings.TrimSpace(e))
		if err != nil || i < 0 || i >= len(saved) {
			invalid = append(invalid, e)
			continue
		}
		if seen[i] {
			duplicates = append(duplicates, e)
			continue
		}
		seen[i] = true
		sel.Channels = append(sel.Channels, SelectedChannel{StorageIndex: i, Original: saved[i], Label: saved[i]})
	}

	if len(invalid) > 0 {
		valid := make([]string, len(saved))
		for i := range saved {
			valid[i] = strconv.Itoa(i)
		}
		return Selection{}, &recording.ChannelError{Invalid: invalid, Valid: valid, Reason: "channel indices out of range"}
	}
	if len(duplicates) > 0 {
		return Selection{}, &recording.ChannelError{Invalid: duplicates, Valid: nil, Reason: "duplicate channel indices"}
	}
	return sel, nil
}

func resolveLabels(entries []string, saved []string) (Selection, error) {
	known := make(map[string]bool, len(saved))
	for _, label := range saved {
		known[label] = true
	}

	requested := make(map[string]bool, len(entries))
	var missing, duplicates []string
	for _, e := range entries {
		switch {
		case !known[e]:
			missing = append(missing, e)
		case requested[e]:
			duplicates = append(duplicates, e)
		default:
			requested[e] = true
		}
	}
	if len(missing) > 0 {
		return Selection{}, &recording.ChannelError{Invalid: missing, Valid: saved, Reason: "channel labels not found"}
	}
	if len(duplicates) > 0 {
		return Selection{}, &recording.ChannelError{Invalid: duplicates, Valid: nil, Reason: "duplicate channel labels"}
	}

	sel := Selection{Mode: ModeLabels}
	for i, label := range saved {
		if requested[label] {
			sel.Channels = append(sel.Channels, SelectedChannel{StorageIndex: i, Original: label, Label: label})
			// A label listed twice in the catalog is only selected once.
			delete(requested, label)
		}
	}
	return sel, nil
}

// labelReplacer rewrites characters the viewer splits labels on.
var labelReplacer = strings.NewReplacer(";", "_")

// Relabel applies a map from original label to display label. Map entries
// that match no selected channel are returned as warnings. Every final label
// has ';' replaced by '_'.
func Relabel(sel Selection, labels map[string]string) (Selection, []string, error) {
	out := Selection{Mode: sel.Mode, Channels: make([]SelectedChannel, len(sel.Channels))}

	present := make(map[string]bool, len(sel.Channels))
	for i, ch := range sel.Channels {
		present[ch.Original] = true

		label := ch.Original
		if to, ok := labels[ch.Original]; ok {
			if strings.TrimSpace(to) == "" {
				return Selection{}, nil, recording.Errorf(recording.ErrConfig, "channel %q is relabeled to an empty label", ch.Original)
			}
			label = to
		}
		if label == "" {
			label = strconv.Itoa(ch.StorageIndex)
		}

		ch.Label = labelReplacer.Replace(label)
		out.Channels[i] = ch
	}

	var warnings []string
	for from := range labels {
		if !present[from] {
			warnings = append(warnings, fmt.Sprintf("relabel entry %q matches no loaded channel", from))
		}
	}
	sort.Strings(warnings)

	return out, warnings, nil
}
