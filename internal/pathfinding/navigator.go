package pathfinding

import (
	"container/heap"
	"context"
	"time"

	"voxelnav/internal/world"
)

const (
	DefaultMaxIterations = 10_000
	DefaultPartialMargin = 1.0

	// ctxCheckInterval is how many expansions run between context checks.
	ctxCheckInterval = 256
)

// Options bounds a single search.
type Options struct {
	// MaxIterations caps node expansions per FindPath call.
	MaxIterations int
	// PartialMargin is how much closer, in heuristic units, the best node
	// must be than the start before it is returned as a partial path.
	PartialMargin float64
}

func DefaultOptions() Options {
	return Options{MaxIterations: DefaultMaxIterations, PartialMargin: DefaultPartialMargin}
}

// VoxelPathfinder performs A* over the block grid exposed by a world.Oracle.
// It keeps no state between calls and is safe for concurrent use when the
// oracle is.
type VoxelPathfinder struct {
	oracle world.Oracle
	opts   Options
}

func NewVoxelPathfinder(oracle world.Oracle, opts Options) *VoxelPathfinder {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.PartialMargin < 0 {
		opts.PartialMargin = 0
	}
	return &VoxelPathfinder{oracle: oracle, opts: opts}
}

func (p *VoxelPathfinder) Options() Options {
	return p.opts
}

type searchNode struct {
	coord world.BlockCoord
	g     float64
	// h is the estimate to the goal cell and ranks partial results; bound
	// is the estimate to the arrival region and orders the frontier.
	h      float64
	bound  float64
	parent int32
	action Action
	step   float64
	closed bool
}

// FindPath searches from start to any standable cell within arrivalRadius
// of goal. It returns nil when no route, and no partial route that gets
// meaningfully closer, exists within the iteration budget.
func (p *VoxelPathfinder) FindPath(ctx context.Context, start, goal world.BlockCoord, arrivalRadius float64) *Path {
	profiler := profilerFromContext(ctx)
	began := time.Now()
	path, iterations := p.search(ctx, profiler, start, goal, arrivalRadius)
	if profiler != nil {
		outcome := OutcomeFailed
		if path != nil {
			outcome = OutcomeFound
			if path.Partial {
				outcome = OutcomePartial
			}
		}
		profiler.RecordSearch(time.Since(began), iterations, outcome)
	}
	return path
}

func (p *VoxelPathfinder) search(ctx context.Context, profiler NavigatorProfiler, start, goal world.BlockCoord, arrivalRadius float64) (*Path, int) {
	if p.oracle == nil {
		return nil, 0
	}
	if arrivalRadius < 0 {
		arrivalRadius = 0
	}
	view := newTerrainView(p.oracle, profiler)

	start, ok := view.snap(start)
	if !ok {
		return nil, 0
	}
	if snapped, ok := view.snap(goal); ok {
		goal = snapped
	}

	estimate := func(c world.BlockCoord) (h, bound float64) {
		if profiler != nil {
			profiler.RecordHeuristicEvaluation()
		}
		h = Heuristic(c, goal)
		if arrivalRadius < 1 {
			return h, h
		}
		return h, HeuristicWithin(c, goal, arrivalRadius)
	}

	arena := make([]searchNode, 0, 256)
	index := make(map[world.BlockCoord]int32, 256)
	open := &frontier{}

	startH, startBound := estimate(start)
	arena = append(arena, searchNode{coord: start, h: startH, bound: startBound, parent: -1, action: ActionStart})
	index[start] = 0
	heap.Push(open, frontierEntry{node: 0, f: startBound, g: 0})
	best := int32(0)

	iterations := 0
	var scratch []neighbor
	for open.Len() > 0 && iterations < p.opts.MaxIterations {
		entry := heap.Pop(open).(frontierEntry)
		current := &arena[entry.node]
		if current.closed || entry.g > current.g {
			continue
		}
		current.closed = true
		iterations++
		if iterations%ctxCheckInterval == 0 && ctx.Err() != nil {
			return nil, iterations
		}
		if profiler != nil {
			profiler.RecordNodeExpanded()
		}

		if distance(current.coord, goal) <= arrivalRadius {
			return buildPath(arena, entry.node, iterations, false), iterations
		}

		coord, g := current.coord, current.g
		scratch = view.neighbors(coord, scratch[:0])
		if profiler != nil {
			profiler.RecordNeighborGeneration(len(scratch))
		}
		for _, n := range scratch {
			tentative := g + n.cost
			if idx, seen := index[n.coord]; seen {
				node := &arena[idx]
				if tentative >= node.g {
					continue
				}
				node.g = tentative
				node.parent = entry.node
				node.action = n.action
				node.step = n.cost
				node.closed = false
				heap.Push(open, frontierEntry{node: idx, f: tentative + node.bound, g: tentative})
				continue
			}
			idx := int32(len(arena))
			h, bound := estimate(n.coord)
			arena = append(arena, searchNode{
				coord:  n.coord,
				g:      tentative,
				h:      h,
				bound:  bound,
				parent: entry.node,
				action: n.action,
				step:   n.cost,
			})
			index[n.coord] = idx
			heap.Push(open, frontierEntry{node: idx, f: tentative + bound, g: tentative})
			if h < arena[best].h || (h == arena[best].h && tentative < arena[best].g) {
				best = idx
			}
		}
	}

	if arena[best].h < arena[0].h-p.opts.PartialMargin {
		return buildPath(arena, best, iterations, true), iterations
	}
	return nil, iterations
}

func buildPath(arena []searchNode, last int32, iterations int, partial bool) *Path {
	var chain []int32
	for idx := last; idx >= 0; idx = arena[idx].parent {
		chain = append(chain, idx)
	}
	coords := make([]world.BlockCoord, len(chain))
	moves := make([]Move, 0, len(chain)-1)
	for i := range chain {
		node := arena[chain[len(chain)-1-i]]
		coords[i] = node.coord
		if i > 0 {
			moves = append(moves, Move{From: coords[i-1], To: node.coord, Action: node.action, Cost: node.step})
		}
	}

	simplified := Simplify(coords)
	waypoints := make([]Waypoint, len(simplified))
	for i, c := range simplified {
		waypoints[i] = WaypointAt(c)
	}
	return &Path{
		Waypoints:  waypoints,
		Moves:      moves,
		Cost:       arena[last].g,
		Iterations: iterations,
		Partial:    partial,
	}
}

type frontierEntry struct {
	node int32
	f    float64
	g    float64
}

// frontier is a min-heap on f. Improved nodes are pushed again; stale
// entries are skipped when popped.
type frontier []frontierEntry

func (q frontier) Len() int { return len(q) }
func (q frontier) Less(i, j int) bool {
	if q[i].f == q[j].f {
		return q[i].g > q[j].g
	}
	return q[i].f < q[j].f
}
func (q frontier) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *frontier) Push(x any) {
	*q = append(*q, x.(frontierEntry))
}

func (q *frontier) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
