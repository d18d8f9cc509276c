package world

// Grid is a dense, bounded block volume. Cells outside the volume read as
// solid so searches cannot leave it.
type Grid struct {
	origin BlockCoord
	dims   Dimensions
	cells  []BlockType
}

// NewGrid allocates an all-air grid with its minimum corner at the origin.
func NewGrid(dims Dimensions) *Grid {
	return NewGridAt(BlockCoord{}, dims)
}

// NewGridAt allocates an all-air grid with its minimum corner at origin.
func NewGridAt(origin BlockCoord, dims Dimensions) *Grid {
	cells := make([]BlockType, dims.Width*dims.Depth*dims.Height)
	for i := range cells {
		cells[i] = BlockAir
	}
	return &Grid{origin: origin, dims: dims, cells: cells}
}

func (g *Grid) Origin() BlockCoord     { return g.origin }
func (g *Grid) Dimensions() Dimensions { return g.dims }

// Bounds returns the inclusive extent of the grid.
func (g *Grid) Bounds() Bounds {
	return Bounds{
		Min: g.origin,
		Max: BlockCoord{
			X: g.origin.X + g.dims.Width - 1,
			Y: g.origin.Y + g.dims.Depth - 1,
			Z: g.origin.Z + g.dims.Height - 1,
		},
	}
}

func (g *Grid) index(c BlockCoord) (int, bool) {
	x, y, z := c.X-g.origin.X, c.Y-g.origin.Y, c.Z-g.origin.Z
	if x < 0 || y < 0 || z < 0 || x >= g.dims.Width || y >= g.dims.Depth || z >= g.dims.Height {
		return 0, false
	}
	return (z*g.dims.Depth+y)*g.dims.Width + x, true
}

// At returns the block type at c, or BlockSolid outside the grid.
func (g *Grid) At(c BlockCoord) BlockType {
	idx, ok := g.index(c)
	if !ok {
		return BlockSolid
	}
	return g.cells[idx]
}

// Set writes t at c and reports whether c lies inside the grid.
func (g *Grid) Set(c BlockCoord, t BlockType) bool {
	idx, ok := g.index(c)
	if !ok {
		return false
	}
	if t == "" {
		t = BlockAir
	}
	g.cells[idx] = t
	return true
}

// Fill sets every cell in the inclusive box spanned by a and b.
func (g *Grid) Fill(a, b BlockCoord, t BlockType) {
	minX, maxX := order(a.X, b.X)
	minY, maxY := order(a.Y, b.Y)
	minZ, maxZ := order(a.Z, b.Z)
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			for z := minZ; z <= maxZ; z++ {
				g.Set(BlockCoord{X: x, Y: y, Z: z}, t)
			}
		}
	}
}

func order(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}

func (g *Grid) IsPassable(c BlockCoord) bool { return g.At(c).Passable() }
func (g *Grid) IsSolid(c BlockCoord) bool    { return g.At(c) == BlockSolid }
func (g *Grid) IsLiquid(c BlockCoord) bool   { return g.At(c) == BlockLiquid }
