package world

import "sync"

type memoryStorageProvider struct{}

// NewMemoryStorageProvider returns a provider keeping every column in process memory.
func NewMemoryStorageProvider() StorageProvider {
	return memoryStorageProvider{}
}

func (memoryStorageProvider) NewStorage(_ ChunkCoord, _ Bounds, dim Dimensions) (BlockStorage, error) {
	return &memoryBlockStorage{columns: make([][]Block, dim.Width*dim.Depth)}, nil
}

// memoryBlockStorage keeps one slot per column; a nil slot is an all-air column.
type memoryBlockStorage struct {
	mu      sync.RWMutex
	columns [][]Block
}

func (m *memoryBlockStorage) slot(index int) bool {
	return index >= 0 && index < len(m.columns)
}

func (m *memoryBlockStorage) LoadColumn(index int) ([]Block, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.slot(index) || m.columns[index] == nil {
		return nil, false, nil
	}
	return append([]Block(nil), m.columns[index]...), true, nil
}

func (m *memoryBlockStorage) SaveColumn(index int, blocks []Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.slot(index) {
		return errColumnRange(index)
	}
	m.columns[index] = append(make([]Block, 0, len(blocks)), blocks...)
	return nil
}

func (m *memoryBlockStorage) Delete(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slot(index) {
		m.columns[index] = nil
	}
	return nil
}

// ForEach visits stored columns in index order.
func (m *memoryBlockStorage) ForEach(fn func(index int, blocks []Block) bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for idx, blocks := range m.columns {
		if blocks == nil {
			continue
		}
		if !fn(idx, append([]Block(nil), blocks...)) {
			break
		}
	}
	return nil
}

func (m *memoryBlockStorage) Close() error { return nil }
