package world

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
)

func sampleGrid() *Grid {
	grid := NewGridAt(BlockCoord{X: -2, Y: 0, Z: 0}, Dimensions{Width: 5, Depth: 3, Height: 4})
	grid.Fill(BlockCoord{X: -2, Y: 0, Z: 0}, BlockCoord{X: 2, Y: 2, Z: 0}, BlockSolid)
	grid.Set(BlockCoord{X: 0, Y: 1, Z: 1}, BlockLiquid)
	return grid
}

func TestGridOutsideReadsSolid(t *testing.T) {
	grid := sampleGrid()
	if !grid.IsSolid(BlockCoord{X: -3, Y: 0, Z: 1}) {
		t.Fatalf("expected outside cell to be solid")
	}
	if !grid.IsPassable(BlockCoord{X: 0, Y: 1, Z: 1}) || !grid.IsLiquid(BlockCoord{X: 0, Y: 1, Z: 1}) {
		t.Fatalf("expected liquid cell to be passable liquid")
	}
	if grid.Set(BlockCoord{X: 3, Y: 0, Z: 0}, BlockSolid) {
		t.Fatalf("expected Set outside grid to fail")
	}
}

func TestSnapshotRoundTripThroughFile(t *testing.T) {
	grid := sampleGrid()
	path := filepath.Join(t.TempDir(), "nested", "world.snap")
	if err := SaveSnapshotFile(path, grid.Snapshot()); err != nil {
		t.Fatalf("SaveSnapshotFile: %v", err)
	}
	loaded, err := LoadSnapshotFile(path)
	if err != nil {
		t.Fatalf("LoadSnapshotFile: %v", err)
	}
	if loaded.Bounds() != grid.Bounds() {
		t.Fatalf("bounds mismatch: %+v vs %+v", loaded.Bounds(), grid.Bounds())
	}
	b := grid.Bounds()
	for x := b.Min.X; x <= b.Max.X; x++ {
		for y := b.Min.Y; y <= b.Max.Y; y++ {
			for z := b.Min.Z; z <= b.Max.Z; z++ {
				c := BlockCoord{X: x, Y: y, Z: z}
				if loaded.At(c) != grid.At(c) {
					t.Fatalf("cell %v mismatch: %s vs %s", c, loaded.At(c), grid.At(c))
				}
			}
		}
	}
}

func TestGridFromSnapshotRejectsInvalidBlocks(t *testing.T) {
	snap := sampleGrid().Snapshot()
	snap.Blocks = append(snap.Blocks, SnapshotBlock{X: 10, Y: 0, Z: 0, Type: BlockSolid})
	if _, err := GridFromSnapshot(snap); err == nil {
		t.Fatalf("expected out-of-volume block to fail")
	}

	snap = sampleGrid().Snapshot()
	snap.Blocks[0].Type = "lava"
	if _, err := GridFromSnapshot(snap); err == nil {
		t.Fatalf("expected unknown block type to fail")
	}
}

func TestReadSnapshotRejectsPlainJSON(t *testing.T) {
	if _, err := ReadSnapshot(bytes.NewBufferString(`{"version":1}`)); err == nil {
		t.Fatalf("expected uncompressed input to fail")
	}
}

func TestSnapshotGeneratorFillsChunks(t *testing.T) {
	grid := NewGrid(Dimensions{Width: 6, Depth: 2, Height: 3})
	grid.Fill(BlockCoord{X: 0, Y: 0, Z: 0}, BlockCoord{X: 5, Y: 1, Z: 0}, BlockSolid)
	grid.Set(BlockCoord{X: 5, Y: 1, Z: 1}, BlockLiquid)

	region := ServerRegion{ChunksPerAxis: 2, ChunkDimension: Dimensions{Width: 4, Depth: 4, Height: 4}}
	manager := NewManager(region, NewSnapshotGenerator(grid))
	defer manager.Close()

	if !manager.IsSolid(BlockCoord{X: 5, Y: 0, Z: 0}) {
		t.Fatalf("expected snapshot floor in second chunk")
	}
	if !manager.IsLiquid(BlockCoord{X: 5, Y: 1, Z: 1}) {
		t.Fatalf("expected snapshot liquid")
	}
	if !manager.IsPassable(BlockCoord{X: 1, Y: 3, Z: 0}) {
		t.Fatalf("expected cell outside snapshot to stay air")
	}
	if _, err := manager.Chunk(context.Background(), ChunkCoord{X: 1, Y: 1}); err != nil {
		t.Fatalf("expected chunk beyond snapshot to load: %v", err)
	}
}
