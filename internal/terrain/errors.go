package terrain

import (
	"fmt"

	"voxelnav/internal/world"
)

// ColumnError reports a column the chunk storage refused to persist.
type ColumnError struct {
	Chunk  world.ChunkCoord
	LocalX int
	LocalY int
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("chunk %v: store column (%d,%d) failed", e.Chunk, e.LocalX, e.LocalY)
}
