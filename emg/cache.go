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
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/OpenPSG/sleepscore/recording"
	"gopkg.in/yaml.v3"
)

const (
	DataExt     = ".derivedEMGdata"
	MetadataExt = ".derivedEMGmetadata"
	LockExt     = ".derivedEMGlock"
)

// ErrLocked is returned when another process holds the cache lock.
var ErrLocked = errors.New("derived EMG cache is locked")

// Metadata describes how a cached artifact was produced.
type Metadata struct {
	Config     Config    `yaml:"config"`
	SourcePath string    `yaml:"source_path"` // Absolute path of the source recording
	SampleRate float64   `yaml:"sf"`
	Samples    int       `yaml:"samples"`
	CreatedAt  time.Time `yaml:"created_at"`
}

// Artifact is a derived EMG signal and its provenance.
type Artifact struct {
	Data     []float64
	Metadata Metadata
}

// LoadFunc loads the given LFP channels over the whole recording at rate and
// returns them with their effective sample rate.
type LoadFunc func(channels []string, mode string, rate float64) ([][]float64, float64, error)

// Cache derives artifacts on demand and keeps them next to the recording.
type Cache struct {
	Load    LoadFunc
	Persist bool         // Write regenerated artifacts to disk
	Logger  *slog.Logger // slog.Default() if nil
}

// Paths returns the data, metadata and lock file paths for a recording. The
// stem is the recording path without extension, or <dir>/<base> when the
// recording is a directory.
func Paths(sourcePath string) (data, meta, lock string) {
	stem := strings.TrimSuffix(sourcePath, filepath.Ext(sourcePath))
	if st, err := os.Stat(sourcePath); err == nil && st.IsDir() {
		stem = filepath.Join(sourcePath, filepath.Base(sourcePath))
	}
	return stem + DataExt, stem + MetadataExt, stem + LockExt
}

func (c *Cache) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Get returns the artifact for the recording at sourcePath. A cached artifact
// is reused unless recompute is set, its config differs from cfg in any
// field, or it was derived from another recording.
func (c *Cache) Get(sourcePath string, cfg Config, recompute bool) (*Artifact, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("error resolving %s: %w", sourcePath, err)
	}
	dataPath, metaPath, lockPath := Paths(sourcePath)
	log := c.logger().With("path", dataPath)

	// The check and the write happen under one lock.
	if c.Persist {
		lock, err := AcquireLock(lockPath)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				log.Warn("Failed to release derived EMG lock", "error", err)
			}
		}()
	}

	if recompute {
		log.Info("Recomputing derived EMG")
	} else {
		art, err := Read(dataPath, metaPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Info("No cached derived EMG")
		case err != nil:
			log.Warn("Ignoring unreadable cached derived EMG", "error", err)
		default:
			if reason := art.Metadata.stale(cfg, abs); reason != "" {
				log.Info("Cached derived EMG is stale", "reason", reason)
			} else {
				log.Info("Reusing cached derived EMG", "samples", len(art.Data), "rate", art.Metadata.SampleRate)
				return art, nil
			}
		}
	}

	art, err := c.derive(abs, cfg)
	if err != nil {
		return nil, err
	}
	if c.Persist {
		if err := Write(dataPath, metaPath, art); err != nil {
			return nil, err
		}
		log.Info("Saved derived EMG", "metadata", metaPath)
	}
	return art, nil
}

func (c *Cache) derive(source string, cfg Config) (*Artifact, error) {
	if c.Load == nil {
		return nil, recording.Errorf(recording.ErrConfig, "no loader to derive EMG with")
	}
	c.logger().Info("Deriving EMG", "source", source, "channels", cfg.Channels, "bandpass", cfg.BandPass, "load_sf", cfg.LoadRate)

	lfp, rate, err := c.Load(cfg.Channels, cfg.Mode, cfg.LoadRate)
	if err != nil {
		return nil, fmt.Errorf("error loading LFP for EMG derivation: %w", err)
	}
	data, outRate, err := Derive(lfp, rate, cfg)
	if err != nil {
		return nil, err
	}

	return &Artifact{
		Data: data,
		Metadata: Metadata{
			Config:     cfg,
			SourcePath: source,
			SampleRate: outRate,
			Samples:    len(data),
			CreatedAt:  time.Now().UTC(),
		},
	}, nil
}

// stale returns why an artifact cannot serve cfg for source, or "".
func (m Metadata) stale(cfg Config, source string) string {
	switch {
	case !m.Config.Equal(cfg):
		return "derivation parameters changed"
	case m.SourcePath != source:
		return fmt.Sprintf("derived from %s", m.SourcePath)
	}
	return ""
}

// Read loads an artifact. The data length must match the metadata.
func Read(dataPath, metaPath string) (*Artifact, error) {
	b, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}
	var md Metadata
	if err := yaml.Unmarshal(b, &md); err != nil {
		return nil, recording.Errorf(recording.ErrFormat, "derived EMG metadata %s: %v", metaPath, err)
	}

	f, err := os.Open(dataPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() != int64(md.Samples)*8 {
		return nil, recording.Errorf(recording.ErrFormat, "derived EMG data %s holds %d bytes, expected %d samples", dataPath, st.Size(), md.Samples)
	}

	data := make([]float64, md.Samples)
	if err := binary.Read(bufio.NewReader(f), binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("error reading derived EMG data: %w", err)
	}
	return &Artifact{Data: data, Metadata: md}, nil
}

// Write stores an artifact. The metadata is removed first and written last,
// so an interrupted write never leaves metadata describing other data.
func Write(dataPath, metaPath string, art *Artifact) error {
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error removing stale metadata: %w", err)
	}
	err := writeAtomic(dataPath, func(w io.Writer) error {
		return binary.Write(w, binary.LittleEndian, art.Data)
	})
	if err != nil {
		return fmt.Errorf("error writing derived EMG data: %w", err)
	}

	b, err := yaml.Marshal(art.Metadata)
	if err != nil {
		return fmt.Errorf("error encoding derived EMG metadata: %w", err)
	}
	err = writeAtomic(metaPath, func(w io.Writer) error {
		_, err := w.Write(b)
		return err
	})
	if err != nil {
		return fmt.Errorf("error writing derived EMG metadata: %w", err)
	}
	return nil
}

// writeAtomic writes to a temporary file in the target directory and renames
// it into place.
func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	w := bufio.NewWriter(tmp)
	if err := write(w); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
