package world

import "fmt"

// BlockStorage persists the columns of one chunk. Columns are addressed by
// y*width+x and hold blocks bottom first with trailing air trimmed.
type BlockStorage interface {
	LoadColumn(index int) ([]Block, bool, error)
	SaveColumn(index int, blocks []Block) error
	Delete(index int) error
	ForEach(fn func(index int, blocks []Block) bool) error
	Close() error
}

// StorageProvider creates block storage instances for chunks.
type StorageProvider interface {
	NewStorage(key ChunkCoord, bounds Bounds, dim Dimensions) (BlockStorage, error)
}

func errColumnRange(index int) error {
	return fmt.Errorf("column index %d out of range", index)
}
