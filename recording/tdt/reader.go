// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package tdt reads Tucker-Davis Technologies blocks. A block directory holds
// a .tsq index of fixed-size event headers and a .tev file with the event
// payloads. Each stream store may contain several channels, each with its own
// sample rate and sample format.
package tdt

import (
	"bufio"
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/OpenPSG/sleepscore/recording"
)

const (
	headerWords = 10 // 32-bit words of a TSQ record counted in its size field

	EventStream = 0x8101
	EventMark   = 0x8801

	MarkStartBlock = 0x0001
	MarkStopBlock  = 0x0002
)

// Sample formats of stream payloads.
const (
	FormatFloat32 = iota
	FormatInt32
	FormatInt16
	FormatInt8
	FormatFloat64
	FormatInt64
)

// Record is one TSQ event header.
type Record struct {
	Size      int32   // Event size in 32-bit words, header included
	Type      int32   // Event type
	Code      [4]byte // Store name
	Channel   uint16  // Channel number, 1-based
	SortCode  uint16  // Sort code (snippets only)
	Timestamp float64 // Seconds since the epoch
	Offset    uint64  // Byte offset of the payload in the TEV file
	Format    int32   // Payload sample format
	Frequency float32 // Sample rate in Hz
}

// Store returns the store name with padding removed.
func (r Record) Store() string {
	return strings.TrimRight(string(r.Code[:]), "\x00 ")
}

func (r Record) mark() uint32 {
	return binary.LittleEndian.Uint32(r.Code[:])
}

func sampleSize(format int32) (int, error) {
	switch format {
	case FormatInt8:
		return 1, nil
	case FormatInt16:
		return 2, nil
	case FormatFloat32, FormatInt32:
		return 4, nil
	case FormatFloat64, FormatInt64:
		return 8, nil
	}
	return 0, recording.Errorf(recording.ErrFormat, "unknown sample format %d", format)
}

func decodeSample(b []byte, format int32) float64 {
	switch format {
	case FormatInt8:
		return float64(int8(b[0]))
	case FormatInt16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case FormatInt32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case FormatFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	case FormatInt64:
		return float64(int64(binary.LittleEndian.Uint64(b)))
	default:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
}

type block struct {
	offset  int64
	samples int
}

type channel struct {
	store   string
	number  int
	rate    float64
	format  int32
	first   float64 // Timestamp of the first block
	lead    int     // Samples between the block start and the first block
	blocks  []block
	samples int
}

func (c *channel) label() string {
	return fmt.Sprintf("%s-%d", c.store, c.number)
}

// Reader reads windows of a TDT block.
type Reader struct {
	tev      *os.File
	md       *recording.Metadata
	channels []*channel // Catalog order
}

var _ recording.Source = (*Reader)(nil)

// BlockFiles locates the .tsq and .tev files of a block. The path may be the
// block directory or one of its two files.
func BlockFiles(path string) (tsq, tev string, err error) {
	st, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", "", recording.Errorf(recording.ErrNotFound, "TDT block %s", path)
	}
	if err != nil {
		return "", "", fmt.Errorf("error opening block: %w", err)
	}

	if !st.IsDir() {
		switch ext := filepath.Ext(path); ext {
		case ".tsq", ".tev":
			stem := strings.TrimSuffix(path, ext)
			return stem + ".tsq", stem + ".tev", nil
		}
		return "", "", recording.Errorf(recording.ErrFormat, "%s is not a TDT block", path)
	}

	matches, err := filepath.Glob(filepath.Join(path, "*.tsq"))
	if err != nil {
		return "", "", fmt.Errorf("error listing block: %w", err)
	}
	if len(matches) != 1 {
		return "", "", recording.Errorf(recording.ErrFormat, "block %s must contain exactly one .tsq file, found %d", path, len(matches))
	}
	tsq = matches[0]
	return tsq, strings.TrimSuffix(tsq, ".tsq") + ".tev", nil
}

// ReadIndex reads every record of a TSQ file.
func ReadIndex(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)

	var records []Record
	for {
		var rec Record
		err := binary.Read(br, binary.LittleEndian, &rec)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, recording.Errorf(recording.ErrFormat, "truncated TSQ record %d", len(records))
		}
		if err != nil {
			return nil, fmt.Errorf("error reading TSQ record: %w", err)
		}
		records = append(records, rec)
	}
}

// Open reads the block index and builds the stream channel catalog. Channel
// sample rates and formats are kept per channel and only used when read.
func Open(path string) (*Reader, error) {
	tsqPath, tevPath, err := BlockFiles(path)
	if err != nil {
		return nil, err
	}

	tsq, err := os.Open(tsqPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, recording.Errorf(recording.ErrNotFound, "TSQ file %s", tsqPath)
	}
	if err != nil {
		return nil, fmt.Errorf("error opening TSQ file: %w", err)
	}
	records, err := ReadIndex(tsq)
	_ = tsq.Close()
	if err != nil {
		return nil, err
	}

	tev, err := os.Open(tevPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, recording.Errorf(recording.ErrNotFound, "TEV file %s", tevPath)
	}
	if err != nil {
		return nil, fmt.Errorf("error opening TEV file: %w", err)
	}

	r, err := newReader(path, records)
	if err != nil {
		_ = tev.Close()
		return nil, err
	}
	r.tev = tev
	return r, nil
}

func newReader(path string, records []Record) (*Reader, error) {
	var (
		byKey             = make(map[string]*channel)
		channels          []*channel
		start, stop       float64
		hasStart, hasStop bool
	)

	for i, rec := range records {
		switch rec.Type {
		case EventMark:
			switch rec.mark() {
			case MarkStartBlock:
				start, hasStart = rec.Timestamp, true
			case MarkStopBlock:
				stop, hasStop = rec.Timestamp, true
			}
		case EventStream:
			size, err := sampleSize(rec.Format)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
			if rec.Size < headerWords || rec.Frequency <= 0 {
				return nil, recording.Errorf(recording.ErrFormat, "record %d: invalid stream header", i)
			}

			key := fmt.Sprintf("%s-%d", rec.Store(), rec.Channel)
			ch, ok := byKey[key]
			if !ok {
				ch = &channel{
					store:  rec.Store(),
					number: int(rec.Channel),
					rate:   float64(rec.Frequency),
					format: rec.Format,
					first:  rec.Timestamp,
				}
				byKey[key] = ch
				channels = append(channels, ch)
			}
			if rec.Format != ch.format {
				return nil, recording.Errorf(recording.ErrFormat, "record %d: store %s changes sample format", i, key)
			}
			n := int(rec.Size-headerWords) * 4 / size
			ch.blocks = append(ch.blocks, block{offset: int64(rec.Offset), samples: n})
			ch.samples += n
		}
	}

	if len(channels) == 0 {
		return nil, recording.Errorf(recording.ErrFormat, "block %s has no stream stores", path)
	}
	sortChannels(channels)

	if !hasStart {
		start = channels[0].first
		for _, ch := range channels {
			start = min(start, ch.first)
		}
	}
	for _, ch := range channels {
		ch.lead = int(math.Round((ch.first - start) * ch.rate))
		if ch.lead < 0 {
			return nil, recording.Errorf(recording.ErrFormat, "store %s starts %gs before the block", ch.label(), start-ch.first)
		}
	}
	if !hasStop {
		stop = start
		for _, ch := range channels {
			stop = max(stop, ch.first+float64(ch.samples)/ch.rate)
		}
	}

	md := &recording.Metadata{
		Path:       path,
		Format:     "TDT",
		StreamType: recording.StreamTDT,
		SampleRate: channels[0].rate,
		Duration:   stop - start,
		Channels:   make([]recording.ChannelDescriptor, len(channels)),
	}
	if start > 0 {
		sec := int64(start)
		md.StartTime = time.Unix(sec, int64((start-float64(sec))*1e9)).UTC()
	}
	for i, ch := range channels {
		if ch.rate != md.SampleRate {
			md.SampleRate = 0
		}
		md.Channels[i] = recording.ChannelDescriptor{
			StorageIndex:  i,
			Label:         ch.label(),
			OriginalIndex: ch.number,
			Kind:          recording.KindProbe,
			Gain:          1,
			SampleRate:    ch.rate,
		}
	}

	return &Reader{md: md, channels: channels}, nil
}

// sortChannels orders channels by store first appearance, then channel number.
func sortChannels(channels []*channel) {
	storeOrder := make(map[string]int)
	for _, ch := range channels {
		if _, ok := storeOrder[ch.store]; !ok {
			storeOrder[ch.store] = len(storeOrder)
		}
	}
	slices.SortStableFunc(channels, func(a, b *channel) int {
		if c := cmp.Compare(storeOrder[a.store], storeOrder[b.store]); c != 0 {
			return c
		}
		return cmp.Compare(a.number, b.number)
	})
}

// Metadata returns the block metadata.
func (r *Reader) Metadata() *recording.Metadata {
	return r.md
}

// ReadWindow reads each channel independently, decimating it from its own
// native rate. All channels must end up with the same number of samples.
func (r *Reader) ReadWindow(channels []int, window recording.Window, requestedRate float64) (*recording.Raw, error) {
	if len(channels) == 0 {
		return nil, recording.Errorf(recording.ErrConfig, "no channels requested")
	}

	raw := &recording.Raw{Samples: make([][]float64, len(channels))}
	for i, idx := range channels {
		if idx < 0 || idx >= len(r.channels) {
			return nil, recording.Errorf(recording.ErrChannel, "storage index %d out of range [0, %d)", idx, len(r.channels))
		}
		ch := r.channels[idx]

		dsf, rate, err := recording.DecimationFactor(ch.rate, requestedRate)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch.label(), err)
		}
		samples, err := r.readChannel(ch, window, dsf)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch.label(), err)
		}

		if i == 0 {
			raw.SampleRate = rate
			raw.DecimationFactor = dsf
		} else if len(samples) != len(raw.Samples[0]) {
			return nil, recording.Errorf(recording.ErrAlignment,
				"channel %s has %d samples at %gHz but channel %s has %d samples at %gHz",
				ch.label(), len(samples), rate, r.channels[channels[0]].label(), len(raw.Samples[0]), raw.SampleRate)
		}
		raw.Samples[i] = samples
	}

	return raw, nil
}

func (r *Reader) readChannel(ch *channel, window recording.Window, dsf int) ([]float64, error) {
	size, err := sampleSize(ch.format)
	if err != nil {
		return nil, err
	}
	// Window times are relative to the block start, so stores that begin
	// later are shifted by their lead. Time before a store began is dropped.
	first, last := recording.SampleRange(ch.rate, window, ch.lead+ch.samples)
	first, last = max(first-ch.lead, 0), max(last-ch.lead, 0)
	out := make([]float64, 0, recording.StridedCount(first, last, dsf))

	var buf []byte
	g0 := 0 // Index of the first sample of the current block
	for _, b := range ch.blocks {
		g1 := g0 + b.samples
		if g1 <= first {
			g0 = g1
			continue
		}
		if g0 >= last {
			break
		}

		// First wanted index inside this block.
		idx := first
		if g0 > first {
			idx = first + ((g0-first+dsf-1)/dsf)*dsf
		}
		end := min(g1, last)
		if idx < end {
			lastIdx := idx + ((end-1-idx)/dsf)*dsf
			n := (lastIdx - idx + 1) * size
			if cap(buf) < n {
				buf = make([]byte, n)
			}
			buf = buf[:n]
			if _, err := r.tev.ReadAt(buf, b.offset+int64((idx-g0)*size)); err != nil {
				return nil, fmt.Errorf("error reading TEV payload: %w", err)
			}
			for j := 0; j <= lastIdx-idx; j += dsf {
				out = append(out, decodeSample(buf[j*size:], ch.format))
			}
		}
		g0 = g1
	}

	return out, nil
}

// Close closes the TEV file.
func (r *Reader) Close() error {
	if r.tev == nil {
		return nil
	}
	return r.tev.Close()
}
