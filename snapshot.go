package memgo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/memgo/internal/conv"
)

// Compression selects the codec used for snapshot block payloads.
type Compression uint8

const (
	// CompressionNone stores block payloads raw.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast, good for hot data).
	CompressionLZ4 Compression = 1
	// CompressionZstd uses zstd block compression (better ratio).
	CompressionZstd Compression = 2
)

var (
	snapshotMagic   = [4]byte{'M', 'G', 'A', '0'}
	snapshotVersion = uint16(1)
)

// snapshot layout:
//
//	header:    magic(4) version(2) compression(1) reserved(1)
//	           blockCount(4) defaultBlockSize(4)
//	per block: capacity(4) used(4) dedicated(1)
//	           frame: uncompressedSize(4) compressedSize(4) payload
//
// A frame with compressedSize == 0 stores the payload raw; the writer falls
// back to raw whenever compression does not help.
const (
	snapshotHeaderLen = 16
	frameHeaderLen    = 8
)

// zstd encoder/decoder pools; Snapshot and RestoreArena may be called from
// many goroutines against different arenas.
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Snapshot writes the arena's blocks to w in a self-describing binary
// format. Refs obtained from AllocOffset remain valid against the arena
// RestoreArena rebuilds, which is the point: snapshot an arena holding
// offset-linked structures, restore it later (or elsewhere) and resolve the
// same Refs.
//
// The destination is the caller's choice — a file, a network connection, an
// object-store uploader.
func (a *Arena) Snapshot(w io.Writer, comp Compression) error {
	if a.closed {
		return ErrClosed
	}

	blockCount, err := conv.IntToUint32(len(a.blocks))
	if err != nil {
		return err
	}
	defSize, err := conv.IntToUint32(a.defaultBlockSize)
	if err != nil {
		return err
	}

	header := make([]byte, 0, snapshotHeaderLen)
	header = append(header, snapshotMagic[:]...)
	var fixed [12]byte
	binary.LittleEndian.PutUint16(fixed[0:2], snapshotVersion)
	fixed[2] = byte(comp)
	// fixed[3] reserved
	binary.LittleEndian.PutUint32(fixed[4:8], blockCount)
	binary.LittleEndian.PutUint32(fixed[8:12], defSize)
	header = append(header, fixed[:]...)

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write snapshot header: %w", err)
	}

	for _, b := range a.blocks {
		if err := writeSnapshotBlock(w, b, comp); err != nil {
			return err
		}
	}
	return nil
}

func writeSnapshotBlock(w io.Writer, b *arenaBlock, comp Compression) error {
	capacity, err := conv.IntToUint32(b.block.Size())
	if err != nil {
		return err
	}
	used, err := conv.IntToUint32(b.used)
	if err != nil {
		return err
	}

	var meta [9]byte
	binary.LittleEndian.PutUint32(meta[0:4], capacity)
	binary.LittleEndian.PutUint32(meta[4:8], used)
	if b.dedicated {
		meta[8] = 1
	}
	if _, err := w.Write(meta[:]); err != nil {
		return fmt.Errorf("failed to write snapshot block meta: %w", err)
	}

	frame, err := compressFrame(b.block.Bytes()[:b.used], comp)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write snapshot block payload: %w", err)
	}
	return nil
}

// compressFrame compresses data and prepends the frame header. Incompressible
// payloads (ratio above 0.9) are stored raw.
func compressFrame(data []byte, comp Compression) ([]byte, error) {
	var compressed []byte
	var err error

	switch comp {
	case CompressionNone:
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	case CompressionZstd:
		compressed = compressZstd(data)
	default:
		return nil, fmt.Errorf("memgo: unknown snapshot compression %d", comp)
	}
	if err != nil {
		return nil, err
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		frame := make([]byte, frameHeaderLen+len(data))
		binary.LittleEndian.PutUint32(frame[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(frame[4:], 0) // 0 = raw
		copy(frame[frameHeaderLen:], data)
		return frame, nil
	}

	frame := make([]byte, frameHeaderLen+len(compressed))
	binary.LittleEndian.PutUint32(frame[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(frame[4:], uint32(len(compressed)))
	copy(frame[frameHeaderLen:], compressed)
	return frame, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // incompressible
	}
	return dst[:n], nil
}

func compressZstd(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	enc := getZstdEncoder()
	defer zstdEncoderPool.Put(enc)
	return enc.EncodeAll(data, nil)
}

// RestoreArena rebuilds an arena from a snapshot written by Snapshot. The
// restored arena acquires fresh blocks from the configured Provider with
// the recorded capacities, so Refs taken before the snapshot resolve to the
// same bytes.
func RestoreArena(r io.Reader, opts ...Option) (*Arena, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if !isPowerOfTwo(cfg.alignment) {
		return nil, &InvalidAlignmentError{Align: cfg.alignment}
	}

	header := make([]byte, snapshotHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read snapshot header: %w", err)
	}
	if [4]byte(header[:4]) != snapshotMagic {
		return nil, errors.New("memgo: unsupported snapshot format: invalid header magic")
	}
	if v := binary.LittleEndian.Uint16(header[4:6]); v != snapshotVersion {
		return nil, fmt.Errorf("memgo: unsupported snapshot version: %d", v)
	}
	comp := Compression(header[6])

	blockCount, err := conv.Uint32ToInt(binary.LittleEndian.Uint32(header[8:12]))
	if err != nil {
		return nil, err
	}
	defSize, err := conv.Uint32ToInt(binary.LittleEndian.Uint32(header[12:16]))
	if err != nil {
		return nil, err
	}
	if blockCount == 0 || defSize <= 0 {
		return nil, errors.New("memgo: corrupt snapshot header")
	}

	a := &Arena{
		defaultBlockSize: defSize,
		alignment:        cfg.alignment,
		provider:         cfg.provider,
		generation:       1,
		logger:           cfg.logger.WithAllocator("arena"),
		metrics:          cfg.metrics,
	}

	for i := 0; i < blockCount; i++ {
		if err := readSnapshotBlock(r, a, comp); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

func readSnapshotBlock(r io.Reader, a *Arena, comp Compression) error {
	var meta [9]byte
	if _, err := io.ReadFull(r, meta[:]); err != nil {
		return fmt.Errorf("failed to read snapshot block meta: %w", err)
	}
	capacity, err := conv.Uint32ToInt(binary.LittleEndian.Uint32(meta[0:4]))
	if err != nil {
		return err
	}
	used, err := conv.Uint32ToInt(binary.LittleEndian.Uint32(meta[4:8]))
	if err != nil {
		return err
	}
	if capacity <= 0 || used > capacity {
		return errors.New("memgo: corrupt snapshot block meta")
	}

	block, err := a.provider.Acquire(context.Background(), capacity)
	if err != nil {
		return err
	}
	a.metrics.RecordGrow(capacity)

	if err := readFrame(r, block.Bytes()[:used], comp); err != nil {
		_ = a.provider.Release(block)
		return err
	}

	a.blocks = append(a.blocks, &arenaBlock{
		block:     block,
		used:      used,
		dedicated: meta[8] == 1,
	})
	a.bytesUsed += used
	return nil
}

// readFrame decompresses one payload frame into dst, whose length must
// equal the recorded uncompressed size.
func readFrame(r io.Reader, dst []byte, comp Compression) error {
	var fh [frameHeaderLen]byte
	if _, err := io.ReadFull(r, fh[:]); err != nil {
		return fmt.Errorf("failed to read snapshot frame header: %w", err)
	}
	uncompressedSize, err := conv.Uint32ToInt(binary.LittleEndian.Uint32(fh[0:4]))
	if err != nil {
		return err
	}
	compressedSize, err := conv.Uint32ToInt(binary.LittleEndian.Uint32(fh[4:8]))
	if err != nil {
		return err
	}
	if uncompressedSize != len(dst) {
		return errors.New("memgo: snapshot frame size mismatch")
	}

	if compressedSize == 0 {
		if _, err := io.ReadFull(r, dst); err != nil {
			return fmt.Errorf("failed to read snapshot payload: %w", err)
		}
		return nil
	}

	compressed := make([]byte, compressedSize)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return fmt.Errorf("failed to read snapshot payload: %w", err)
	}

	switch comp {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(compressed, dst)
		if err != nil {
			return err
		}
		if n != uncompressedSize {
			return errors.New("memgo: snapshot decompressed size mismatch")
		}
		return nil

	case CompressionZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		decoded, err := dec.DecodeAll(compressed, dst[:0])
		if err != nil {
			return err
		}
		if len(decoded) != uncompressedSize {
			return errors.New("memgo: snapshot decompressed size mismatch")
		}
		return nil

	default:
		return errors.New("memgo: compressed frame in uncompressed snapshot")
	}
}
