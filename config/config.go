// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package config loads sleep scoring requests from YAML files.
//
// Keys are checked the same way at every level: mandatory keys must be
// present, unknown keys are rejected, and absent optional keys take their
// default value.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/OpenPSG/sleepscore"
	"github.com/OpenPSG/sleepscore/recording"
	"gopkg.in/yaml.v3"
)

// DefaultDownSample is the sample rate in Hz used when downSample is absent.
// An explicit null loads at the native rate.
const DefaultDownSample = 100.0

// File is the decoded content of a configuration file.
type File struct {
	Datasets    []Dataset      `yaml:"datasets"`
	DownSample  *float64       `yaml:"downSample"`
	TStart      *float64       `yaml:"tStart"`
	TEnd        *float64       `yaml:"tEnd"`
	Unit        string         `yaml:"unit"`
	EMG         *EMG           `yaml:"emg"`
	KwargsSleep map[string]any `yaml:"kwargs_sleep"`
}

// Dataset is one entry of the datasets list.
type Dataset struct {
	BinPath       string      `yaml:"binPath"`
	Datatype      string      `yaml:"datatype"`
	ChanList      ChannelList `yaml:"chanList"`
	ChanListType  string      `yaml:"chanListType"`
	ChanLabelsMap LabelMap    `yaml:"chanLabelsMap"`
	Name          string      `yaml:"name"`
}

// EMG requests a derived EMG channel.
type EMG struct {
	BinPath      string      `yaml:"binPath"`
	Datatype     string      `yaml:"datatype"`
	ChanList     ChannelList `yaml:"chanList"`
	ChanListType string      `yaml:"chanListType"`
	BandPass     []float64   `yaml:"bandpass"`
	BandStop     []float64   `yaml:"bandstop"`
	WindowSize   float64     `yaml:"window_size"`
	SF           float64     `yaml:"sf"`
	LoadSF       float64     `yaml:"load_sf"`
	Label        string      `yaml:"label"`
	Recompute    bool        `yaml:"recompute"`
	Persist      bool        `yaml:"persist"`
}

// ChannelList accepts the scalar "all", null, or a sequence of indices or
// labels. A nil list selects every channel.
type ChannelList []string

func (c *ChannelList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if strings.TrimSpace(node.Value) != sleepscore.AllChannels {
			return fmt.Errorf("line %d: channel list must be %q or a list, got %q", node.Line, sleepscore.AllChannels, node.Value)
		}
		*c = nil
		return nil
	case yaml.SequenceNode:
		list := make(ChannelList, len(node.Content))
		for i, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: channel list entries must be scalars", item.Line)
			}
			list[i] = item.Value
		}
		*c = list
		return nil
	}
	return fmt.Errorf("line %d: channel list must be %q or a list", node.Line, sleepscore.AllChannels)
}

// LabelMap maps original channel labels to display labels. Keys and values
// are kept as written, so numeric labels need no quoting.
type LabelMap map[string]string

func (m *LabelMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: chanLabelsMap must be a mapping", node.Line)
	}
	out := make(LabelMap, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: chanLabelsMap entries must be scalars", k.Line)
		}
		out[k.Value] = v.Value
	}
	*m = out
	return nil
}

// keys lists the mandatory and optional keys of one mapping, with the
// default of every optional key.
type keys struct {
	mandatory []string
	optional  map[string]any
}

var (
	fileKeys = keys{
		mandatory: []string{"datasets"},
		optional: map[string]any{
			"downSample":   DefaultDownSample,
			"tStart":       nil,
			"tEnd":         nil,
			"unit":         string(sleepscore.Microvolt),
			"emg":          nil,
			"kwargs_sleep": map[string]any{},
		},
	}
	datasetKeys = keys{
		mandatory: []string{"binPath"},
		optional: map[string]any{
			"datatype":      sleepscore.DefaultFormat,
			"chanList":      sleepscore.AllChannels,
			"chanListType":  string(sleepscore.ModeIndices),
			"chanLabelsMap": nil,
			"name":          nil,
		},
	}
	emgKeys = keys{
		mandatory: []string{"bandpass", "window_size", "sf", "load_sf"},
		optional: map[string]any{
			"binPath":      nil,
			"datatype":     nil,
			"chanList":     sleepscore.AllChannels,
			"chanListType": string(sleepscore.ModeIndices),
			"bandstop":     nil,
			"label":        sleepscore.DefaultEMGLabel,
			"recompute":    false,
			"persist":      true,
		},
	}
)

// validate checks the keys of a mapping node and returns the keys present.
func (k keys) validate(node *yaml.Node, prefix string, log *slog.Logger) (map[string]bool, error) {
	if node.Kind != yaml.MappingNode {
		return nil, recording.Errorf(recording.ErrConfig, "%sline %d: expected a mapping", prefix, node.Line)
	}

	present := make(map[string]bool, len(node.Content)/2)
	var unknown []string
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		present[key] = true
		if _, ok := k.optional[key]; !ok && !slices.Contains(k.mandatory, key) {
			unknown = append(unknown, key)
		}
	}

	var missing []string
	for _, key := range k.mandatory {
		if !present[key] {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, recording.Errorf(recording.ErrConfig, "%smissing mandatory parameters %v, mandatory are %v",
			prefix, missing, k.mandatory)
	}
	if len(unknown) > 0 {
		return nil, recording.Errorf(recording.ErrConfig, "%sunrecognized parameters %v, recognized are %v (mandatory) and %v (optional)",
			prefix, unknown, k.mandatory, sortedKeys(k.optional))
	}

	var defaults []string
	for _, key := range sortedKeys(k.optional) {
		if !present[key] {
			defaults = append(defaults, fmt.Sprintf("%s=%v", key, k.optional[key]))
		}
	}
	if len(defaults) > 0 {
		log.Debug("Set default value for optional parameters", "prefix", prefix, "defaults", strings.Join(defaults, " "))
	}
	return present, nil
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Load reads and validates the configuration file at path.
func Load(path string, log *slog.Logger) (*File, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, recording.Errorf(recording.ErrNotFound, "config file %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	return Parse(f, log)
}

// Parse reads and validates a configuration document.
func Parse(r io.Reader, log *slog.Logger) (*File, error) {
	if log == nil {
		log = slog.Default()
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, recording.Errorf(recording.ErrConfig, "error parsing config: %v", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 {
		return nil, recording.Errorf(recording.ErrConfig, "empty config file")
	}
	root := doc.Content[0]

	present, err := fileKeys.validate(root, "", log)
	if err != nil {
		return nil, err
	}

	datasets := lookup(root, "datasets")
	if datasets.Kind != yaml.SequenceNode || len(datasets.Content) == 0 {
		return nil, recording.Errorf(recording.ErrConfig, "datasets must be a non-empty list")
	}
	for i, ds := range datasets.Content {
		if _, err := datasetKeys.validate(ds, fmt.Sprintf("datasets[%d]: ", i), log); err != nil {
			return nil, err
		}
	}
	emgPresent := map[string]bool{}
	if node := lookup(root, "emg"); node != nil && node.ShortTag() != "!!null" {
		if emgPresent, err = emgKeys.validate(node, "emg: ", log); err != nil {
			return nil, err
		}
	}

	var file File
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, recording.Errorf(recording.ErrConfig, "error decoding config: %v", err)
	}
	if !present["downSample"] {
		ds := DefaultDownSample
		file.DownSample = &ds
	}
	if file.EMG != nil && !emgPresent["persist"] {
		file.EMG.Persist = true
	}

	return &file, nil
}

// lookup returns the value node of key in a mapping node, or nil.
func lookup(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
