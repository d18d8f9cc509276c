package pathfinding

import "voxelnav/internal/world"

// Simplify drops interior coordinates that continue the previous step's
// direction in all three axes. Endpoints are always kept.
func Simplify(coords []world.BlockCoord) []world.BlockCoord {
	if len(coords) <= 2 {
		out := make([]world.BlockCoord, len(coords))
		copy(out, coords)
		return out
	}
	out := make([]world.BlockCoord, 0, len(coords))
	out = append(out, coords[0])
	for i := 1; i < len(coords)-1; i++ {
		prev := out[len(out)-1]
		if collinear(prev, coords[i], coords[i+1]) {
			continue
		}
		out = append(out, coords[i])
	}
	return append(out, coords[len(coords)-1])
}

func collinear(a, b, c world.BlockCoord) bool {
	u := b.Sub(a)
	v := c.Sub(b)
	cross := world.BlockCoord{
		X: u.Y*v.Z - u.Z*v.Y,
		Y: u.Z*v.X - u.X*v.Z,
		Z: u.X*v.Y - u.Y*v.X,
	}
	dot := u.X*v.X + u.Y*v.Y + u.Z*v.Z
	return cross == (world.BlockCoord{}) && dot > 0
}
