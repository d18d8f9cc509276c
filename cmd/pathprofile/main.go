package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"voxelnav/internal/config"
	"voxelnav/internal/pathfinding"
	"voxelnav/internal/terrain"
	"voxelnav/internal/world"
)

// countingGenerator reports how many chunks a profile run had to build.
type countingGenerator struct {
	base  world.Generator
	loads atomic.Int64
}

func (g *countingGenerator) Generate(ctx context.Context, chunk *world.Chunk) error {
	if err := g.base.Generate(ctx, chunk); err != nil {
		return err
	}
	g.loads.Add(1)
	return nil
}

type pathJob struct {
	start world.BlockCoord
	goal  world.BlockCoord
}

type profileOptions struct {
	requests    int
	concurrency int
	timeout     time.Duration
	seed        int64
	radius      float64
}

type report struct {
	requests   int
	found      int64
	partial    int64
	failed     int64
	timeouts   int64
	moves      int64
	routeTime  time.Duration
	wall       time.Duration
	navigation pathfinding.MetricsSnapshot
}

func main() {
	var (
		cfgPath     = flag.String("config", "", "navigation server configuration supplying region and terrain settings")
		requests    = flag.Int("requests", 2000, "number of pathfinding requests to issue")
		concurrency = flag.Int("concurrency", runtime.NumCPU(), "number of concurrent workers")
		timeout     = flag.Duration("timeout", 250*time.Millisecond, "per-request timeout")
		seed        = flag.Int64("seed", 1337, "random seed for start/goal selection")
		radius      = flag.Float64("radius", 0, "arrival radius passed to every search")
		captureOut  = flag.String("capture", "", "write the generated region to this snapshot file")
	)
	flag.Parse()

	if *requests <= 0 || *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "requests and concurrency must be positive")
		os.Exit(1)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := log.New(os.Stderr, "pathprofile ", log.LstdFlags)

	var base world.Generator = terrain.NewNoiseGenerator(cfg.Terrain, logger)
	if path := cfg.Storage.SnapshotPath; path != "" {
		grid, err := world.LoadSnapshotFile(path)
		if err != nil {
			log.Fatalf("load snapshot: %v", err)
		}
		base = world.NewSnapshotGenerator(grid)
	}
	generator := &countingGenerator{base: base}

	region := world.NewServerRegion(cfg)
	manager := world.NewManager(region, generator, world.WithLogger(logger))
	defer manager.Close()

	ctx := context.Background()
	if *captureOut != "" {
		grid, err := manager.Capture(ctx, region.BlockBounds())
		if err != nil {
			log.Fatalf("capture region: %v", err)
		}
		if err := world.SaveSnapshotFile(*captureOut, grid.Snapshot()); err != nil {
			log.Fatalf("save snapshot: %v", err)
		}
		logger.Printf("region written to %s", *captureOut)
	}

	candidates := collectSurface(manager, region.BlockBounds())
	if len(candidates) < 2 {
		log.Fatalf("not enough standable cells to profile (%d)", len(candidates))
	}

	planner := pathfinding.NewVoxelPathfinder(manager, pathfinding.Options{
		MaxIterations: cfg.Pathfinding.MaxIterations,
		PartialMargin: cfg.Pathfinding.PartialMargin,
	})
	r := runProfile(ctx, planner, candidates, profileOptions{
		requests:    *requests,
		concurrency: *concurrency,
		timeout:     *timeout,
		seed:        *seed,
		radius:      *radius,
	})

	dims := region.ChunkDimension
	fmt.Println("== Voxel Pathfinding Profile ==")
	fmt.Printf("Chunks per axis: %d\n", region.ChunksPerAxis)
	fmt.Printf("Chunk dimensions: %dx%dx%d\n", dims.Width, dims.Depth, dims.Height)
	fmt.Printf("Standable surface cells: %d\n", len(candidates))
	fmt.Printf("Requests: %d, Concurrency: %d\n", r.requests, *concurrency)
	r.print()
	fmt.Printf("Chunks generated: %d\n", generator.loads.Load())
}

// collectSurface lists the standable surface cell of every column in bounds.
func collectSurface(manager *world.Manager, bounds world.Bounds) []world.BlockCoord {
	coords := make([]world.BlockCoord, 0, (bounds.Max.X-bounds.Min.X+1)*(bounds.Max.Y-bounds.Min.Y+1))
	for x := bounds.Min.X; x <= bounds.Max.X; x++ {
		for y := bounds.Min.Y; y <= bounds.Max.Y; y++ {
			if c, ok := manager.SurfaceAt(x, y); ok {
				coords = append(coords, c)
			}
		}
	}
	return coords
}

func runProfile(ctx context.Context, planner *pathfinding.VoxelPathfinder, candidates []world.BlockCoord, opts profileOptions) report {
	jobs := make(chan pathJob)
	go func() {
		defer close(jobs)
		rng := rand.New(rand.NewSource(opts.seed))
		for i := 0; i < opts.requests; i++ {
			start := candidates[rng.Intn(len(candidates))]
			goal := candidates[rng.Intn(len(candidates))]
			for start == goal {
				goal = candidates[rng.Intn(len(candidates))]
			}
			jobs <- pathJob{start: start, goal: goal}
		}
	}()

	var (
		metrics   pathfinding.NavigatorMetrics
		wg        sync.WaitGroup
		found     atomic.Int64
		partial   atomic.Int64
		failed    atomic.Int64
		timeouts  atomic.Int64
		moves     atomic.Int64
		routeTime atomic.Int64
	)
	ctx = pathfinding.ContextWithProfiler(ctx, metrics.Profiler())

	worker := func() {
		defer wg.Done()
		for job := range jobs {
			routeCtx, cancel := context.WithTimeout(ctx, opts.timeout)
			began := time.Now()
			path := planner.FindPath(routeCtx, job.start, job.goal, opts.radius)
			routeTime.Add(int64(time.Since(began)))
			timedOut := routeCtx.Err() == context.DeadlineExceeded
			cancel()

			switch {
			case timedOut:
				timeouts.Add(1)
			case path == nil:
				failed.Add(1)
			case path.Partial:
				partial.Add(1)
			default:
				found.Add(1)
				moves.Add(int64(len(path.Moves)))
			}
		}
	}

	workers := opts.concurrency
	if workers <= 0 {
		workers = 1
	}
	began := time.Now()
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go worker()
	}
	wg.Wait()

	return report{
		requests:   opts.requests,
		found:      found.Load(),
		partial:    partial.Load(),
		failed:     failed.Load(),
		timeouts:   timeouts.Load(),
		moves:      moves.Load(),
		routeTime:  time.Duration(routeTime.Load()),
		wall:       time.Since(began),
		navigation: metrics.Snapshot(),
	}
}

func (r report) print() {
	fmt.Printf("Found: %d, Partial: %d, Failed: %d, Timeouts: %d\n", r.found, r.partial, r.failed, r.timeouts)
	if r.found > 0 {
		fmt.Printf("Average complete path length (moves): %.2f\n", float64(r.moves)/float64(r.found))
	}
	if r.requests > 0 {
		fmt.Printf("Average per-route duration: %s\n", r.routeTime/time.Duration(r.requests))
		fmt.Printf("Average nodes expanded: %.2f\n", float64(r.navigation.NodesExpanded)/float64(r.requests))
		fmt.Printf("Average heuristic evaluations: %.2f\n", float64(r.navigation.HeuristicEvaluations)/float64(r.requests))
	}
	fmt.Printf("Wall clock duration: %s\n", r.wall)
	lookups := r.navigation.CacheHits + r.navigation.CacheMisses
	if lookups > 0 {
		fmt.Printf("Cell cache hit ratio: %.2f%% (%d hits, %d misses)\n",
			float64(r.navigation.CacheHits)/float64(lookups)*100, r.navigation.CacheHits, r.navigation.CacheMisses)
	}
}
