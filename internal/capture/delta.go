// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package capture

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tomtom215/signalwatch/internal/models"
)

// Delta artifact layout (big-endian):
//
//	magic      [8]byte  "SWDELTA1"
//	blockSize  uint32
//	baseLen    uint64
//	newLen     uint64
//	records    { index uint64, block [n]byte }*
//	terminator uint64 = 0xFFFFFFFFFFFFFFFF
//
// Every block is blockSize bytes except the last block of the new image,
// whose length follows from newLen.
const (
	deltaMagic      = "SWDELTA1"
	deltaTerminator = ^uint64(0)

	// DefaultBlockSize matches SQLite's default page size.
	DefaultBlockSize = 4096

	maxBlockSize = 16 << 20
)

var errBadDelta = errors.New("malformed delta artifact")

// DeltaHeader describes a delta artifact.
type DeltaHeader struct {
	BlockSize int
	BaseLen   int64
	NewLen    int64
}

// DeltaStats summarizes an encoded delta.
type DeltaStats struct {
	Blocks  int64 // blocks in the new image
	Changed int64 // blocks written to the delta
}

// EncodeDelta writes the blocks of cur that differ from base. Blocks past the
// end of base are always written.
func EncodeDelta(w io.Writer, base io.ReaderAt, baseLen int64, cur io.ReaderAt, curLen int64, blockSize int) (DeltaStats, error) {
	var stats DeltaStats
	if blockSize <= 0 || blockSize > maxBlockSize {
		return stats, fmt.Errorf("invalid block size %d", blockSize)
	}

	bw := bufio.NewWriterSize(w, 64<<10)
	hdr := make([]byte, 0, len(deltaMagic)+4+8+8)
	hdr = append(hdr, deltaMagic...)
	hdr = binary.BigEndian.AppendUint32(hdr, uint32(blockSize))
	hdr = binary.BigEndian.AppendUint64(hdr, uint64(baseLen))
	hdr = binary.BigEndian.AppendUint64(hdr, uint64(curLen))
	if _, err := bw.Write(hdr); err != nil {
		return stats, err
	}

	bs := int64(blockSize)
	curBuf := make([]byte, blockSize)
	baseBuf := make([]byte, blockSize)
	idx := make([]byte, 8)

	for off := int64(0); off < curLen; off += bs {
		n := min(bs, curLen-off)
		if _, err := cur.ReadAt(curBuf[:n], off); err != nil && !errors.Is(err, io.EOF) {
			return stats, fmt.Errorf("read current image at %d: %w", off, err)
		}
		stats.Blocks++

		if off < baseLen {
			bn := min(bs, baseLen-off)
			if bn == n {
				if _, err := base.ReadAt(baseBuf[:bn], off); err != nil && !errors.Is(err, io.EOF) {
					return stats, fmt.Errorf("read base image at %d: %w", off, err)
				}
				if bytes.Equal(curBuf[:n], baseBuf[:bn]) {
					continue
				}
			}
		}

		binary.BigEndian.PutUint64(idx, uint64(off/bs))
		if _, err := bw.Write(idx); err != nil {
			return stats, err
		}
		if _, err := bw.Write(curBuf[:n]); err != nil {
			return stats, err
		}
		stats.Changed++
	}

	binary.BigEndian.PutUint64(idx, deltaTerminator)
	if _, err := bw.Write(idx); err != nil {
		return stats, err
	}
	return stats, bw.Flush()
}

// ReadDeltaHeader parses and validates the fixed header.
func ReadDeltaHeader(r io.Reader) (DeltaHeader, error) {
	var raw [len(deltaMagic) + 4 + 8 + 8]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return DeltaHeader{}, fmt.Errorf("%w: header: %v", errBadDelta, err)
	}
	if string(raw[:len(deltaMagic)]) != deltaMagic {
		return DeltaHeader{}, fmt.Errorf("%w: bad magic", errBadDelta)
	}
	p := raw[len(deltaMagic):]
	h := DeltaHeader{
		BlockSize: int(binary.BigEndian.Uint32(p[0:4])),
		BaseLen:   int64(binary.BigEndian.Uint64(p[4:12])),
		NewLen:    int64(binary.BigEndian.Uint64(p[12:20])),
	}
	if h.BlockSize <= 0 || h.BlockSize > maxBlockSize || h.BaseLen < 0 || h.NewLen < 0 {
		return DeltaHeader{}, fmt.Errorf("%w: header out of range", errBadDelta)
	}
	return h, nil
}

// ApplyDelta rewrites img in place. img must currently hold exactly the base
// image the delta was encoded against.
func ApplyDelta(img *os.File, r io.Reader) (DeltaHeader, error) {
	br := bufio.NewReaderSize(r, 64<<10)
	h, err := ReadDeltaHeader(br)
	if err != nil {
		return h, err
	}

	info, err := img.Stat()
	if err != nil {
		return h, err
	}
	if info.Size() != h.BaseLen {
		return h, fmt.Errorf("%w: delta expects a %d byte base, image is %d bytes",
			models.ErrCorruption, h.BaseLen, info.Size())
	}
	if err := img.Truncate(h.NewLen); err != nil {
		return h, fmt.Errorf("resize image: %w", err)
	}

	bs := int64(h.BlockSize)
	buf := make([]byte, h.BlockSize)
	var idx [8]byte
	for {
		if _, err := io.ReadFull(br, idx[:]); err != nil {
			return h, fmt.Errorf("%w: truncated record: %v", errBadDelta, err)
		}
		index := binary.BigEndian.Uint64(idx[:])
		if index == deltaTerminator {
			return h, nil
		}
		if index > uint64(h.NewLen)/uint64(bs) {
			return h, fmt.Errorf("%w: block %d outside image", errBadDelta, index)
		}
		off := int64(index) * bs
		n := min(bs, h.NewLen-off)
		if n <= 0 {
			return h, fmt.Errorf("%w: block %d outside image", errBadDelta, index)
		}
		if _, err := io.ReadFull(br, buf[:n]); err != nil {
			return h, fmt.Errorf("%w: truncated block %d: %v", errBadDelta, index, err)
		}
		if _, err := img.WriteAt(buf[:n], off); err != nil {
			return h, fmt.Errorf("write block %d: %w", index, err)
		}
	}
}
