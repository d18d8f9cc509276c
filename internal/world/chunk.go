package world

import (
	"log"
	"sync"
)

// BlockType enumerates the block categories the navigation layer distinguishes.
type BlockType string

const (
	BlockAir    BlockType = "air"
	BlockSolid  BlockType = "solid"
	BlockLiquid BlockType = "liquid"
)

// Passable reports whether a body may occupy a block of this type.
func (t BlockType) Passable() bool {
	return t == "" || t == BlockAir || t == BlockLiquid
}

func (t BlockType) normalized() BlockType {
	if t == "" {
		return BlockAir
	}
	return t
}

type Block struct {
	Type     BlockType
	Material string
}

func (b Block) isAir() bool { return b.Type.normalized() == BlockAir }

// Chunk holds one region tile. Columns are persisted through a BlockStorage;
// occupancy lookups go through a dense type table built from storage on the
// first query and kept in sync by every write.
type Chunk struct {
	Key    ChunkCoord
	Bounds Bounds
	dim    Dimensions

	mu    sync.RWMutex
	store BlockStorage
	cells []BlockType
}

// NewChunk creates a chunk backed by in-memory storage.
func NewChunk(key ChunkCoord, bounds Bounds, dim Dimensions) *Chunk {
	store, _ := NewMemoryStorageProvider().NewStorage(key, bounds, dim)
	return newChunkWithStorage(key, bounds, dim, store)
}

func newChunkWithStorage(key ChunkCoord, bounds Bounds, dim Dimensions, store BlockStorage) *Chunk {
	return &Chunk{Key: key, Bounds: bounds, dim: dim, store: store}
}

func (c *Chunk) Dimensions() Dimensions { return c.dim }

func (c *Chunk) GlobalToLocal(coord BlockCoord) (int, int, int, bool) {
	if !c.Bounds.Contains(coord) {
		return 0, 0, 0, false
	}
	return coord.X - c.Bounds.Min.X, coord.Y - c.Bounds.Min.Y, coord.Z - c.Bounds.Min.Z, true
}

func (c *Chunk) validLocal(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < c.dim.Width && y < c.dim.Depth && z < c.dim.Height
}

func (c *Chunk) column(x, y int) int { return y*c.dim.Width + x }

func (c *Chunk) cell(col, z int) int { return col*c.dim.Height + z }

// Cell returns the block type at a local position. Reads after the first one
// never touch storage.
func (c *Chunk) Cell(x, y, z int) (BlockType, bool) {
	if !c.validLocal(x, y, z) {
		return "", false
	}
	i := c.cell(c.column(x, y), z)
	c.mu.RLock()
	if c.cells != nil {
		t := c.cells[i]
		c.mu.RUnlock()
		return t, true
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cells == nil && c.store != nil {
		c.hydrateLocked()
	}
	if c.cells == nil {
		return "", false
	}
	return c.cells[i], true
}

func (c *Chunk) hydrateLocked() {
	cells := make([]BlockType, c.dim.Width*c.dim.Depth*c.dim.Height)
	for i := range cells {
		cells[i] = BlockAir
	}
	if err := c.store.ForEach(func(col int, blocks []Block) bool {
		for z, b := range blocks {
			if z < c.dim.Height {
				cells[c.cell(col, z)] = b.Type.normalized()
			}
		}
		return true
	}); err != nil {
		log.Printf("chunk %v build occupancy: %v", c.Key, err)
	}
	c.cells = cells
}

// LocalBlock returns the stored block, material included.
func (c *Chunk) LocalBlock(x, y, z int) (Block, bool) {
	if !c.validLocal(x, y, z) {
		return Block{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.store == nil {
		return Block{}, false
	}
	col := c.column(x, y)
	blocks, ok, err := c.store.LoadColumn(col)
	if err != nil {
		log.Printf("chunk %v load column %d: %v", c.Key, col, err)
		return Block{}, false
	}
	if !ok || z >= len(blocks) || blocks[z].isAir() {
		return Block{Type: BlockAir}, true
	}
	return blocks[z], true
}

func (c *Chunk) SetLocalBlock(x, y, z int, block Block) bool {
	if !c.validLocal(x, y, z) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return false
	}
	col := c.column(x, y)
	blocks, _, err := c.store.LoadColumn(col)
	if err != nil {
		log.Printf("chunk %v load column %d: %v", c.Key, col, err)
		return false
	}
	if z >= len(blocks) {
		if block.isAir() {
			return true
		}
		grown := make([]Block, z+1)
		copy(grown, blocks)
		blocks = grown
	}
	if block.isAir() {
		block = Block{}
	}
	blocks[z] = block
	return c.writeColumnLocked(col, blocks)
}

func (c *Chunk) ClearLocalBlock(x, y, z int) bool {
	return c.SetLocalBlock(x, y, z, Block{})
}

// SetColumnBlocks replaces a whole column, bottom first, in one storage write.
func (c *Chunk) SetColumnBlocks(x, y int, blocks []Block) bool {
	if !c.validLocal(x, y, 0) || len(blocks) > c.dim.Height {
		return false
	}
	dup := make([]Block, len(blocks))
	for i, b := range blocks {
		if !b.isAir() {
			dup[i] = b
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return false
	}
	return c.writeColumnLocked(c.column(x, y), dup)
}

func (c *Chunk) writeColumnLocked(col int, blocks []Block) bool {
	end := len(blocks)
	for end > 0 && blocks[end-1].isAir() {
		end--
	}
	blocks = blocks[:end]

	var err error
	if len(blocks) == 0 {
		err = c.store.Delete(col)
	} else {
		err = c.store.SaveColumn(col, blocks)
	}
	if err != nil {
		log.Printf("chunk %v write column %d: %v", c.Key, col, err)
		return false
	}

	if c.cells != nil {
		for z := 0; z < c.dim.Height; z++ {
			t := BlockAir
			if z < len(blocks) {
				t = blocks[z].Type.normalized()
			}
			c.cells[c.cell(col, z)] = t
		}
	}
	return true
}

// ForEachBlock visits every non-air block in global coordinates until fn
// returns false.
func (c *Chunk) ForEachBlock(fn func(global BlockCoord, block Block) bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.store == nil {
		return
	}
	err := c.store.ForEach(func(col int, blocks []Block) bool {
		x, y := col%c.dim.Width, col/c.dim.Width
		for z, b := range blocks {
			if b.isAir() {
				continue
			}
			global := c.Bounds.Min.Add(BlockCoord{X: x, Y: y, Z: z})
			if !fn(global, b) {
				return false
			}
		}
		return true
	})
	if err != nil {
		log.Printf("chunk %v iterate blocks: %v", c.Key, err)
	}
}

// HasStoredBlocks reports whether storage already holds any non-air block,
// which means the chunk was persisted by an earlier run.
func (c *Chunk) HasStoredBlocks() bool {
	found := false
	c.ForEachBlock(func(BlockCoord, Block) bool {
		found = true
		return false
	})
	return found
}

func (c *Chunk) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	c.cells = nil
	return err
}
