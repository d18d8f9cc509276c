package world

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const snapshotVersion = 1

// Snapshot is the portable form of a Grid. Only non-air cells are listed.
type Snapshot struct {
	Version    int             `json:"version"`
	Origin     BlockCoord      `json:"origin"`
	Dimensions Dimensions      `json:"dimensions"`
	Blocks     []SnapshotBlock `json:"blocks"`
}

type SnapshotBlock struct {
	X    int       `json:"x"`
	Y    int       `json:"y"`
	Z    int       `json:"z"`
	Type BlockType `json:"type"`
}

// Snapshot captures the grid contents.
func (g *Grid) Snapshot() Snapshot {
	snap := Snapshot{Version: snapshotVersion, Origin: g.origin, Dimensions: g.dims}
	b := g.Bounds()
	for z := b.Min.Z; z <= b.Max.Z; z++ {
		for y := b.Min.Y; y <= b.Max.Y; y++ {
			for x := b.Min.X; x <= b.Max.X; x++ {
				t := g.At(BlockCoord{X: x, Y: y, Z: z})
				if t == BlockAir {
					continue
				}
				snap.Blocks = append(snap.Blocks, SnapshotBlock{X: x, Y: y, Z: z, Type: t})
			}
		}
	}
	return snap
}

// GridFromSnapshot rebuilds a grid, rejecting blocks outside the declared volume.
func GridFromSnapshot(snap Snapshot) (*Grid, error) {
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	d := snap.Dimensions
	if d.Width <= 0 || d.Depth <= 0 || d.Height <= 0 {
		return nil, fmt.Errorf("invalid snapshot dimensions %+v", d)
	}
	grid := NewGridAt(snap.Origin, d)
	for _, b := range snap.Blocks {
		switch b.Type {
		case BlockAir, BlockSolid, BlockLiquid:
		default:
			return nil, fmt.Errorf("unknown block type %q at (%d,%d,%d)", b.Type, b.X, b.Y, b.Z)
		}
		if !grid.Set(BlockCoord{X: b.X, Y: b.Y, Z: b.Z}, b.Type) {
			return nil, fmt.Errorf("block (%d,%d,%d) outside snapshot volume", b.X, b.Y, b.Z)
		}
	}
	return grid, nil
}

// WriteSnapshot encodes snap as zstd-compressed JSON.
func WriteSnapshot(w io.Writer, snap Snapshot) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("snapshot compressor: %w", err)
	}
	if err := json.NewEncoder(zw).Encode(snap); err != nil {
		zw.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return zw.Close()
}

func ReadSnapshot(r io.Reader) (Snapshot, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot decompressor: %w", err)
	}
	defer zr.Close()
	var snap Snapshot
	if err := json.NewDecoder(zr).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// SaveSnapshotFile writes snap to path atomically.
func SaveSnapshotFile(path string, snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := WriteSnapshot(tmp, snap); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func LoadSnapshotFile(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	snap, err := ReadSnapshot(f)
	if err != nil {
		return nil, err
	}
	return GridFromSnapshot(snap)
}

// SnapshotGenerator populates chunks from a fixed grid. Chunk cells the grid
// does not cover stay air.
type SnapshotGenerator struct {
	grid *Grid
}

func NewSnapshotGenerator(grid *Grid) *SnapshotGenerator {
	return &SnapshotGenerator{grid: grid}
}

func (g *SnapshotGenerator) Generate(ctx context.Context, chunk *Chunk) error {
	gb := g.grid.Bounds()
	dim := chunk.Dimensions()
	for ly := 0; ly < dim.Depth; ly++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for lx := 0; lx < dim.Width; lx++ {
			column := make([]Block, dim.Height)
			filled := false
			for lz := 0; lz < dim.Height; lz++ {
				c := BlockCoord{
					X: chunk.Bounds.Min.X + lx,
					Y: chunk.Bounds.Min.Y + ly,
					Z: chunk.Bounds.Min.Z + lz,
				}
				if !gb.Contains(c) {
					continue
				}
				if t := g.grid.At(c); t != BlockAir {
					column[lz] = Block{Type: t}
					filled = true
				}
			}
			if filled && !chunk.SetColumnBlocks(lx, ly, column) {
				return fmt.Errorf("store column (%d,%d) of chunk %v", lx, ly, chunk.Key)
			}
		}
	}
	return nil
}
