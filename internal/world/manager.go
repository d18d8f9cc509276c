package world

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// Generator describes terrain population for freshly allocated chunks.
type Generator interface {
	Generate(ctx context.Context, chunk *Chunk) error
}

// Oracle answers block occupancy queries in global block space.
type Oracle interface {
	IsPassable(c BlockCoord) bool
	IsSolid(c BlockCoord) bool
	IsLiquid(c BlockCoord) bool
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithStorage sets the storage provider used for new chunks.
func WithStorage(provider StorageProvider) ManagerOption {
	return func(m *Manager) {
		if provider != nil {
			m.storage = provider
		}
	}
}

// WithLogger routes manager diagnostics to logger.
func WithLogger(logger *log.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Manager keeps the authoritative chunk state for this server.
type Manager struct {
	region    ServerRegion
	generator Generator
	storage   StorageProvider
	logger    *log.Logger

	mu     sync.RWMutex
	chunks map[ChunkCoord]*Chunk

	// loadMu serialises chunk creation so two callers never open the same
	// backing storage.
	loadMu sync.Mutex
}

func NewManager(region ServerRegion, generator Generator, opts ...ManagerOption) *Manager {
	m := &Manager{
		region:    region,
		generator: generator,
		storage:   NewMemoryStorageProvider(),
		logger:    log.Default(),
		chunks:    make(map[ChunkCoord]*Chunk),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Region() ServerRegion {
	return m.region
}

func (m *Manager) Chunk(ctx context.Context, coord ChunkCoord) (*Chunk, error) {
	if !m.region.ContainsGlobalChunk(coord) {
		return nil, fmt.Errorf("chunk %v outside server region", coord)
	}

	m.mu.RLock()
	ch, ok := m.chunks[coord]
	m.mu.RUnlock()
	if ok {
		return ch, nil
	}

	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	m.mu.RLock()
	ch, ok = m.chunks[coord]
	m.mu.RUnlock()
	if ok {
		return ch, nil
	}

	bounds, err := m.region.ChunkBounds(coord)
	if err != nil {
		return nil, err
	}

	store, err := m.storage.NewStorage(coord, bounds, m.region.ChunkDimension)
	if err != nil {
		return nil, fmt.Errorf("chunk %v storage: %w", coord, err)
	}
	ch = newChunkWithStorage(coord, bounds, m.region.ChunkDimension, store)
	if m.generator != nil && !ch.HasStoredBlocks() {
		if err := m.generator.Generate(ctx, ch); err != nil {
			ch.Close()
			return nil, fmt.Errorf("generate chunk %v: %w", coord, err)
		}
	}

	m.mu.Lock()
	m.chunks[coord] = ch
	m.mu.Unlock()
	return ch, nil
}

func (m *Manager) ChunkForBlock(ctx context.Context, block BlockCoord) (*Chunk, error) {
	chunkCoord, ok := m.region.LocateBlock(block)
	if !ok {
		return nil, fmt.Errorf("block %v outside region bounds", block)
	}
	return m.Chunk(ctx, chunkCoord)
}

// Block returns the block at coord. The second result is false when coord
// lies outside the region.
func (m *Manager) Block(ctx context.Context, coord BlockCoord) (Block, bool, error) {
	if _, ok := m.region.LocateBlock(coord); !ok {
		return Block{}, false, nil
	}
	chunk, err := m.ChunkForBlock(ctx, coord)
	if err != nil {
		return Block{}, false, err
	}
	lx, ly, lz, ok := chunk.GlobalToLocal(coord)
	if !ok {
		return Block{}, false, nil
	}
	block, ok := chunk.LocalBlock(lx, ly, lz)
	return block, ok, nil
}

// SetBlock writes block at coord.
func (m *Manager) SetBlock(ctx context.Context, coord BlockCoord, block Block) error {
	chunk, err := m.ChunkForBlock(ctx, coord)
	if err != nil {
		return err
	}
	lx, ly, lz, ok := chunk.GlobalToLocal(coord)
	if !ok || !chunk.SetLocalBlock(lx, ly, lz, block) {
		return fmt.Errorf("set block %v failed", coord)
	}
	return nil
}

// blockType resolves coord for the oracle queries through the chunk's
// occupancy table. Anything outside the region, or in a chunk that fails to
// load, reads as solid.
func (m *Manager) blockType(coord BlockCoord) BlockType {
	if _, ok := m.region.LocateBlock(coord); !ok {
		return BlockSolid
	}
	chunk, err := m.ChunkForBlock(context.Background(), coord)
	if err != nil {
		m.logger.Printf("world block %v unavailable: %v", coord, err)
		return BlockSolid
	}
	lx, ly, lz, ok := chunk.GlobalToLocal(coord)
	if !ok {
		return BlockSolid
	}
	t, ok := chunk.Cell(lx, ly, lz)
	if !ok {
		return BlockSolid
	}
	return t
}

func (m *Manager) IsPassable(c BlockCoord) bool {
	return m.blockType(c).Passable()
}

func (m *Manager) IsSolid(c BlockCoord) bool {
	return m.blockType(c) == BlockSolid
}

func (m *Manager) IsLiquid(c BlockCoord) bool {
	return m.blockType(c) == BlockLiquid
}

// SurfaceAt returns the first standable cell scanning down from the top of
// column (x, y).
func (m *Manager) SurfaceAt(x, y int) (BlockCoord, bool) {
	top := m.region.ChunkDimension.Height - 2
	for z := top; z > 0; z-- {
		c := BlockCoord{X: x, Y: y, Z: z}
		if m.IsPassable(c) && m.IsPassable(c.Up(1)) && !m.IsPassable(c.Down(1)) {
			return c, true
		}
	}
	return BlockCoord{}, false
}

// Capture copies the blocks inside bounds into a dense grid.
func (m *Manager) Capture(ctx context.Context, bounds Bounds) (*Grid, error) {
	dims := Dimensions{
		Width:  bounds.Max.X - bounds.Min.X + 1,
		Depth:  bounds.Max.Y - bounds.Min.Y + 1,
		Height: bounds.Max.Z - bounds.Min.Z + 1,
	}
	if dims.Width <= 0 || dims.Depth <= 0 || dims.Height <= 0 {
		return nil, errors.New("capture bounds are empty")
	}
	grid := NewGridAt(bounds.Min, dims)
	for x := bounds.Min.X; x <= bounds.Max.X; x++ {
		for y := bounds.Min.Y; y <= bounds.Max.Y; y++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			for z := bounds.Min.Z; z <= bounds.Max.Z; z++ {
				c := BlockCoord{X: x, Y: y, Z: z}
				grid.Set(c, m.blockType(c))
			}
		}
	}
	return grid, nil
}

// Close releases the storage of every loaded chunk.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for coord, ch := range m.chunks {
		if err := ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chunk %v: %w", coord, err))
		}
		delete(m.chunks, coord)
	}
	return errors.Join(errs...)
}
