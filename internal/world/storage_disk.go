package world

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Column log layout: each record is a 13 byte header followed by the payload.
//
//	op      uint8   (0 delete, 1 set)
//	column  uint32
//	size    uint32  payload bytes
//	crc     uint32  IEEE checksum of the payload
const (
	logOpDelete byte = 0
	logOpSet    byte = 1

	logHeaderSize = 13

	columnFormatVersion byte = 2

	// compaction runs on close once dead bytes outweigh live ones and the
	// file has grown past this size.
	compactThreshold = 64 << 10
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// DiskStorageProvider keeps one column log per chunk beneath basePath.
type DiskStorageProvider struct {
	basePath string
	region   ServerRegion
	logger   *log.Logger
}

// NewDiskStorageProvider creates a provider that persists chunk data beneath basePath.
func NewDiskStorageProvider(basePath string, region ServerRegion) *DiskStorageProvider {
	return &DiskStorageProvider{basePath: basePath, region: region, logger: log.Default()}
}

func (p *DiskStorageProvider) NewStorage(key ChunkCoord, _ Bounds, _ Dimensions) (BlockStorage, error) {
	if !p.region.ContainsGlobalChunk(key) {
		return nil, fmt.Errorf("chunk %v outside server region", key)
	}
	if err := os.MkdirAll(p.basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return openColumnLog(p.chunkPath(key), p.logger)
}

func (p *DiskStorageProvider) chunkPath(key ChunkCoord) string {
	return filepath.Join(p.basePath, fmt.Sprintf("chunk_%d_%d.col", key.X, key.Y))
}

// encodeColumnPayload packs a column as runs of identical blocks
// (count, type, material as uvarint-prefixed fields) and compresses the
// result with zstd.
func encodeColumnPayload(blocks []Block) ([]byte, error) {
	raw := []byte{columnFormatVersion}
	for i := 0; i < len(blocks); {
		j := i + 1
		for j < len(blocks) && blocks[j] == blocks[i] {
			j++
		}
		raw = binary.AppendUvarint(raw, uint64(j-i))
		raw = appendString(raw, string(blocks[i].Type))
		raw = appendString(raw, blocks[i].Material)
		i = j
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

func decodeColumnPayload(payload []byte) ([]Block, error) {
	raw, err := zstdDecoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress column: %w", err)
	}
	if len(raw) == 0 || raw[0] != columnFormatVersion {
		return nil, errors.New("unsupported column format")
	}
	raw = raw[1:]

	var blocks []Block
	for len(raw) > 0 {
		count, n := binary.Uvarint(raw)
		if n <= 0 || count == 0 {
			return nil, errors.New("decode column: bad run length")
		}
		raw = raw[n:]
		typ, rest, err := readString(raw)
		if err != nil {
			return nil, err
		}
		material, rest, err := readString(rest)
		if err != nil {
			return nil, err
		}
		raw = rest
		b := Block{Type: BlockType(typ), Material: material}
		for ; count > 0; count-- {
			blocks = append(blocks, b)
		}
	}
	return blocks, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func readString(buf []byte) (string, []byte, error) {
	size, n := binary.Uvarint(buf)
	if n <= 0 || uint64(len(buf)-n) < size {
		return "", nil, errors.New("decode column: truncated string")
	}
	end := n + int(size)
	return string(buf[n:end]), buf[end:], nil
}

type logRecord struct {
	offset int64
	size   uint32
}

// columnLog is an append-only file of column writes. The index maps each
// column to its newest record. Writes are not synced individually; Close
// syncs and compacts.
type columnLog struct {
	path   string
	logger *log.Logger

	mu      sync.RWMutex
	file    *os.File
	size    int64
	live    int64
	records map[int]logRecord
}

func openColumnLog(path string, logger *log.Logger) (*columnLog, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open chunk file: %w", err)
	}
	l := &columnLog{path: path, logger: logger, file: f, records: make(map[int]logRecord)}
	if err := l.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// replay rebuilds the index. A torn or corrupt tail, left by a crash during an
// append, is cut off at the last intact record.
func (l *columnLog) replay() error {
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind chunk file: %w", err)
	}
	r := bufio.NewReader(l.file)
	header := make([]byte, logHeaderSize)
	var (
		offset int64
		reason string
	)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				reason = "truncated header"
				break
			}
			return fmt.Errorf("read chunk header: %w", err)
		}
		op := header[0]
		column := int(binary.LittleEndian.Uint32(header[1:5]))
		size := binary.LittleEndian.Uint32(header[5:9])
		sum := binary.LittleEndian.Uint32(header[9:13])

		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			reason = "truncated payload"
			break
		}
		if crc32.ChecksumIEEE(payload) != sum {
			reason = "checksum mismatch"
			break
		}

		if prev, ok := l.records[column]; ok {
			l.live -= int64(prev.size) + logHeaderSize
			delete(l.records, column)
		}
		if op == logOpSet {
			l.records[column] = logRecord{offset: offset, size: size}
			l.live += int64(size) + logHeaderSize
		}
		offset += logHeaderSize + int64(size)
	}

	if reason != "" {
		l.logger.Printf("column log %s: %s at offset %d, truncating", l.path, reason, offset)
		if err := l.file.Truncate(offset); err != nil {
			return fmt.Errorf("truncate chunk file: %w", err)
		}
	}
	l.size = offset
	return nil
}

func (l *columnLog) LoadColumn(index int) ([]Block, bool, error) {
	l.mu.RLock()
	rec, ok := l.records[index]
	file := l.file
	l.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	payload := make([]byte, rec.size)
	if _, err := file.ReadAt(payload, rec.offset+logHeaderSize); err != nil {
		return nil, false, fmt.Errorf("read column %d: %w", index, err)
	}
	blocks, err := decodeColumnPayload(payload)
	if err != nil {
		return nil, false, fmt.Errorf("column %d: %w", index, err)
	}
	return blocks, true, nil
}

func (l *columnLog) SaveColumn(index int, blocks []Block) error {
	payload, err := encodeColumnPayload(blocks)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(logOpSet, index, payload)
}

func (l *columnLog) Delete(index int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[index]; !ok {
		return nil
	}
	return l.appendLocked(logOpDelete, index, nil)
}

func (l *columnLog) appendLocked(op byte, index int, payload []byte) error {
	if l.file == nil {
		return os.ErrClosed
	}
	rec := make([]byte, logHeaderSize, logHeaderSize+len(payload))
	rec[0] = op
	binary.LittleEndian.PutUint32(rec[1:5], uint32(index))
	binary.LittleEndian.PutUint32(rec[5:9], uint32(len(payload)))
	binary.LittleEndian.PutUint32(rec[9:13], crc32.ChecksumIEEE(payload))
	rec = append(rec, payload...)

	if _, err := l.file.WriteAt(rec, l.size); err != nil {
		return fmt.Errorf("append column %d: %w", index, err)
	}
	if prev, ok := l.records[index]; ok {
		l.live -= int64(prev.size) + logHeaderSize
		delete(l.records, index)
	}
	if op == logOpSet {
		l.records[index] = logRecord{offset: l.size, size: uint32(len(payload))}
		l.live += int64(len(rec))
	}
	l.size += int64(len(rec))
	return nil
}

// ForEach visits live columns in index order.
func (l *columnLog) ForEach(fn func(index int, blocks []Block) bool) error {
	l.mu.RLock()
	indexes := make([]int, 0, len(l.records))
	for idx := range l.records {
		indexes = append(indexes, idx)
	}
	l.mu.RUnlock()

	sort.Ints(indexes)
	for _, idx := range indexes {
		blocks, ok, err := l.LoadColumn(idx)
		if err != nil {
			return err
		}
		if ok && !fn(idx, blocks) {
			break
		}
	}
	return nil
}

func (l *columnLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	if l.size > compactThreshold && l.size-l.live > l.live {
		if err := l.compactLocked(); err != nil {
			l.logger.Printf("column log %s: compaction skipped: %v", l.path, err)
		}
	}
	syncErr := l.file.Sync()
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(syncErr, closeErr)
}

// compactLocked rewrites only the live records into a fresh file and swaps
// it in place of the current one.
func (l *columnLog) compactLocked() error {
	tmpPath := l.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	indexes := make([]int, 0, len(l.records))
	for idx := range l.records {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	records := make(map[int]logRecord, len(indexes))
	var offset int64
	for _, idx := range indexes {
		rec := l.records[idx]
		buf := make([]byte, logHeaderSize+int64(rec.size))
		if _, err := l.file.ReadAt(buf, rec.offset); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
		if _, err := tmp.WriteAt(buf, offset); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
		records[idx] = logRecord{offset: offset, size: rec.size}
		offset += int64(len(buf))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	l.file.Close()
	l.file = tmp
	l.records = records
	l.size = offset
	l.live = offset
	return nil
}
