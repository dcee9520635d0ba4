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
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/OpenPSG/sleepscore/emg"
	"github.com/OpenPSG/sleepscore/recording"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() emg.Config {
	return emg.Config{
		Channels:   []string{"LF0;0", "LF1;1"},
		Mode:       "labels",
		BandPass:   [2]float64{100, 300},
		WindowSize: 0.5,
		SampleRate: 10,
		LoadRate:   1000,
	}
}

// burst is a 200Hz tone during the first half and a 2Hz swing afterwards.
func burst(amplitude float64, rate float64, n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		t := float64(i) / rate
		if i < n/2 {
			x[i] = amplitude * math.Sin(2*math.Pi*200*t)
		} else {
			x[i] = 10 * amplitude * math.Sin(2*math.Pi*2*t)
		}
	}
	return x
}

func TestDerive(t *testing.T) {
	cfg := testConfig()
	lfp := [][]float64{burst(100, 1000, 10000), burst(100, 1000, 10000)}

	out, rate, err := emg.Derive(lfp, 1000, cfg)
	require.NoError(t, err)
	assert.Equal(t, 10.0, rate)
	require.Len(t, out, 100)

	active, quiet := out[25], out[75]
	assert.Greater(t, active, 10.0)
	assert.Greater(t, active, 100*quiet, "high band energy should dominate the slow swing")

	single, _, err := emg.Derive(lfp[:1], 1000, cfg)
	require.NoError(t, err)
	assert.InDeltaSlice(t, single, out, 1e-9)

	t.Run("BandStop", func(t *testing.T) {
		cfg := testConfig()
		cfg.BandStop = [2]float64{190, 210}
		stopped, _, err := emg.Derive(lfp, 1000, cfg)
		require.NoError(t, err)
		assert.Less(t, stopped[25], out[25])
	})

	t.Run("Nyquist", func(t *testing.T) {
		_, _, err := emg.Derive(lfp, 500, cfg)
		require.ErrorIs(t, err, recording.ErrConfig)
	})
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, testConfig().Validate())

	for name, mutate := range map[string]func(*emg.Config){
		"InvertedBand":  func(c *emg.Config) { c.BandPass = [2]float64{300, 100} },
		"AboveNyquist":  func(c *emg.Config) { c.BandPass = [2]float64{100, 600} },
		"NoWindow":      func(c *emg.Config) { c.WindowSize = 0 },
		"RateAboveLoad": func(c *emg.Config) { c.SampleRate = 2000 },
		"BadStopBand":   func(c *emg.Config) { c.BandStop = [2]float64{50, 10} },
		"MissingLoadSf": func(c *emg.Config) { c.LoadRate = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), recording.ErrConfig)
		})
	}
}

func TestPaths(t *testing.T) {
	data, meta, lock := emg.Paths("/data/rec_g0_t0.imec0.lf.bin")
	assert.Equal(t, "/data/rec_g0_t0.imec0.lf.derivedEMGdata", data)
	assert.Equal(t, "/data/rec_g0_t0.imec0.lf.derivedEMGmetadata", meta)
	assert.Equal(t, "/data/rec_g0_t0.imec0.lf.derivedEMGlock", lock)

	block := filepath.Join(t.TempDir(), "Block-1")
	require.NoError(t, os.MkdirAll(block, 0o755))
	data, _, _ = emg.Paths(block)
	assert.Equal(t, filepath.Join(block, "Block-1.derivedEMGdata"), data)
}

// countingLoader returns LFP data whose amplitude changes on every call, so
// regenerated artifacts never equal earlier ones.
type countingLoader struct {
	calls int
}

func (l *countingLoader) load(channels []string, mode string, rate float64) ([][]float64, float64, error) {
	l.calls++
	n := int(10 * rate)
	amplitude := 100 * float64(l.calls)
	return [][]float64{burst(amplitude, rate, n), burst(amplitude, rate, n)}, rate, nil
}

func TestCache(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "rec.lf.bin")

	loader := &countingLoader{}
	cache := &emg.Cache{Load: loader.load, Persist: true}

	first, err := cache.Get(source, testConfig(), false)
	require.NoError(t, err)
	require.Equal(t, 1, loader.calls)

	dataPath, metaPath, lockPath := emg.Paths(source)
	require.FileExists(t, dataPath)
	require.FileExists(t, metaPath)
	require.NoFileExists(t, lockPath)

	second, err := cache.Get(source, testConfig(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls, "unchanged config must reuse the cache")
	assert.Equal(t, first.Data, second.Data)
	assert.True(t, second.Metadata.Config.Equal(testConfig()))

	abs, err := filepath.Abs(source)
	require.NoError(t, err)
	assert.Equal(t, abs, second.Metadata.SourcePath)

	t.Run("Recompute", func(t *testing.T) {
		calls := loader.calls
		art, err := cache.Get(source, testConfig(), true)
		require.NoError(t, err)
		assert.Equal(t, calls+1, loader.calls)
		assert.NotEqual(t, first.Data, art.Data)
	})

	t.Run("ConfigChange", func(t *testing.T) {
		for name, mutate := range map[string]func(*emg.Config){
			"Channels":   func(c *emg.Config) { c.Channels = []string{"LF0;0"} },
			"Mode":       func(c *emg.Config) { c.Mode = "indices"; c.Channels = []string{"0", "1"} },
			"BandPass":   func(c *emg.Config) { c.BandPass[1] = 250 },
			"BandStop":   func(c *emg.Config) { c.BandStop = [2]float64{45, 55} },
			"WindowSize": func(c *emg.Config) { c.WindowSize = 1 },
			"SampleRate": func(c *emg.Config) { c.SampleRate = 20 },
			"LoadRate":   func(c *emg.Config) { c.LoadRate = 800 },
		} {
			t.Run(name, func(t *testing.T) {
				cfg := testConfig()
				mutate(&cfg)

				calls := loader.calls
				_, err := cache.Get(source, cfg, false)
				require.NoError(t, err)
				assert.Equal(t, calls+1, loader.calls)

				// The regenerated artifact is now the cached one.
				_, err = cache.Get(source, cfg, false)
				require.NoError(t, err)
				assert.Equal(t, calls+1, loader.calls)
			})
		}
	})

	t.Run("SourceChange", func(t *testing.T) {
		other := filepath.Join(dir, "other.lf.bin")
		_, err := cache.Get(source, testConfig(), true)
		require.NoError(t, err)

		// Move the cache files under another recording's stem.
		otherData, otherMeta, _ := emg.Paths(other)
		require.NoError(t, os.Rename(dataPath, otherData))
		require.NoError(t, os.Rename(metaPath, otherMeta))

		calls := loader.calls
		art, err := cache.Get(other, testConfig(), false)
		require.NoError(t, err)
		assert.Equal(t, calls+1, loader.calls)
		assert.Equal(t, filepath.Join(filepath.Dir(abs), "other.lf.bin"), art.Metadata.SourcePath)
	})

	t.Run("Locked", func(t *testing.T) {
		require.NoError(t, os.WriteFile(lockPath, []byte("someone-else\n"), 0o644))
		t.Cleanup(func() { _ = os.Remove(lockPath) })

		_, err := cache.Get(source, testConfig(), false)
		require.ErrorIs(t, err, emg.ErrLocked)
		assert.Contains(t, err.Error(), "someone-else")
	})

	t.Run("CorruptData", func(t *testing.T) {
		_, err := cache.Get(source, testConfig(), true)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(dataPath, []byte{1, 2, 3}, 0o644))

		calls := loader.calls
		_, err = cache.Get(source, testConfig(), false)
		require.NoError(t, err)
		assert.Equal(t, calls+1, loader.calls)
	})
}

func TestCacheWithoutPersistence(t *testing.T) {
	source := filepath.Join(t.TempDir(), "rec.lf.bin")
	loader := &countingLoader{}
	cache := &emg.Cache{Load: loader.load}

	_, err := cache.Get(source, testConfig(), false)
	require.NoError(t, err)
	_, err = cache.Get(source, testConfig(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, loader.calls)

	dataPath, metaPath, _ := emg.Paths(source)
	assert.NoFileExists(t, dataPath)
	assert.NoFileExists(t, metaPath)
}
