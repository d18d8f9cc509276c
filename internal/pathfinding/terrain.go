package pathfinding

import "voxelnav/internal/world"

type cellFlags uint8

const (
	cellLoaded cellFlags = 1 << iota
	cellPassable
	cellSolid
	cellLiquid
)

// terrainView memoises oracle answers for the lifetime of one search.
type terrainView struct {
	oracle   world.Oracle
	cells    map[world.BlockCoord]cellFlags
	profiler NavigatorProfiler
}

func newTerrainView(oracle world.Oracle, profiler NavigatorProfiler) *terrainView {
	return &terrainView{
		oracle:   oracle,
		cells:    make(map[world.BlockCoord]cellFlags, 1024),
		profiler: profiler,
	}
}

func (t *terrainView) flags(c world.BlockCoord) cellFlags {
	if f, ok := t.cells[c]; ok {
		if t.profiler != nil {
			t.profiler.RecordCacheHit()
		}
		return f
	}
	if t.profiler != nil {
		t.profiler.RecordCacheMiss()
	}
	f := cellLoaded
	if t.oracle.IsPassable(c) {
		f |= cellPassable
	}
	if t.oracle.IsSolid(c) {
		f |= cellSolid
	}
	if t.oracle.IsLiquid(c) {
		f |= cellLiquid
	}
	t.cells[c] = f
	return f
}

func (t *terrainView) passable(c world.BlockCoord) bool { return t.flags(c)&cellPassable != 0 }
func (t *terrainView) solid(c world.BlockCoord) bool    { return t.flags(c)&cellSolid != 0 }
func (t *terrainView) liquid(c world.BlockCoord) bool   { return t.flags(c)&cellLiquid != 0 }

// canOccupy reports whether a two-block-tall body fits with its feet at c.
func (t *terrainView) canOccupy(c world.BlockCoord) bool {
	return t.passable(c) && t.passable(c.Up(1))
}

// standable reports whether a body at c is supported: solid ground below,
// or buoyed by liquid.
func (t *terrainView) standable(c world.BlockCoord) bool {
	if !t.canOccupy(c) {
		return false
	}
	return t.solid(c.Down(1)) || t.liquid(c) || t.liquid(c.Down(1))
}

func (t *terrainView) inLiquid(c world.BlockCoord) bool {
	return t.liquid(c) || t.liquid(c.Up(1))
}

const snapRetries = 8

// snap moves c to a standing position: up out of anything the body does not
// fit in, then down onto the first supporting surface.
func (t *terrainView) snap(c world.BlockCoord) (world.BlockCoord, bool) {
	for i := 0; i < snapRetries && !t.canOccupy(c); i++ {
		c = c.Up(1)
	}
	if !t.canOccupy(c) {
		return c, false
	}
	for i := 0; i < snapRetries && !t.standable(c); i++ {
		if !t.passable(c.Down(1)) {
			break
		}
		c = c.Down(1)
	}
	return c, t.standable(c)
}
