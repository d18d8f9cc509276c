package terrain

import (
	"context"
	"log"
	"math"
	"runtime"
	"sync"

	"voxelnav/internal/config"
	"voxelnav/internal/world"
)

// NoiseGenerator creates repeatable heightmap terrain with lakes using
// hashed value noise.
type NoiseGenerator struct {
	cfg    config.TerrainConfig
	seed   int64
	logger *log.Logger
}

func NewNoiseGenerator(cfg config.TerrainConfig, logger *log.Logger) *NoiseGenerator {
	if logger == nil {
		logger = log.Default()
	}
	return &NoiseGenerator{cfg: cfg, seed: cfg.Seed, logger: logger}
}

// SurfaceHeight returns the z of the first air cell above the ground in
// column (x, y), clamped to keep two cells of headroom under maxZ.
func (g *NoiseGenerator) SurfaceHeight(x, y, maxZ int) int {
	noise := g.fractalNoise(float64(x), float64(y))
	h := int(math.Round(float64(g.cfg.BaseHeight) + noise*g.cfg.Amplitude))
	return clampInt(h, 1, maxZ-2)
}

type columnTask struct {
	localX int
	localY int
}

type columnResult struct {
	localX int
	localY int
	column []world.Block
}

func (g *NoiseGenerator) Generate(ctx context.Context, chunk *world.Chunk) error {
	dim := chunk.Dimensions()
	bounds := chunk.Bounds
	totalColumns := dim.Width * dim.Depth
	if totalColumns <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := runtime.GOMAXPROCS(0)
	if workers > totalColumns {
		workers = totalColumns
	}

	tasks := make(chan columnTask, workers)
	results := make(chan columnResult, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				column := g.populateColumn(bounds, dim, task.localX, task.localY)
				select {
				case results <- columnResult{localX: task.localX, localY: task.localY, column: column}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	go func() {
		defer close(tasks)
		for x := 0; x < dim.Width; x++ {
			for y := 0; y < dim.Depth; y++ {
				select {
				case <-ctx.Done():
					return
				case tasks <- columnTask{localX: x, localY: y}:
				}
			}
		}
	}()

	stored := 0
	for result := range results {
		if !chunk.SetColumnBlocks(result.localX, result.localY, result.column) {
			cancel()
			for range results {
			}
			return &ColumnError{Chunk: chunk.Key, LocalX: result.localX, LocalY: result.localY}
		}
		stored++
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	g.logger.Printf("chunk %v generated: %d columns", chunk.Key, stored)
	return nil
}

func (g *NoiseGenerator) populateColumn(bounds world.Bounds, dim world.Dimensions, localX, localY int) []world.Block {
	globalX := bounds.Min.X + localX
	globalY := bounds.Min.Y + localY
	surface := g.SurfaceHeight(globalX, globalY, bounds.Min.Z+dim.Height)

	top := surface
	if g.cfg.WaterLevel > top {
		top = g.cfg.WaterLevel
	}
	top = clampInt(top-bounds.Min.Z, 0, dim.Height)
	column := make([]world.Block, top)
	for localZ := range column {
		z := bounds.Min.Z + localZ
		switch {
		case z < surface:
			column[localZ] = world.Block{Type: world.BlockSolid, Material: g.materialAt(z, surface)}
		case z < g.cfg.WaterLevel:
			column[localZ] = world.Block{Type: world.BlockLiquid, Material: "water"}
		}
	}
	return column
}

func (g *NoiseGenerator) materialAt(z, surface int) string {
	switch {
	case z == surface-1 && surface > g.cfg.WaterLevel:
		return "grass"
	case z >= surface-4:
		return "dirt"
	default:
		return "stone"
	}
}

func (g *NoiseGenerator) fractalNoise(x, y float64) float64 {
	frequency := g.cfg.Frequency
	amplitude := 1.0
	noiseSum := 0.0
	maxAmplitude := 0.0

	for i := 0; i < g.cfg.Octaves; i++ {
		noiseSum += g.valueNoise(x*frequency, y*frequency) * amplitude
		maxAmplitude += amplitude
		amplitude *= g.cfg.Persistence
		frequency *= g.cfg.Lacunarity
	}

	if maxAmplitude == 0 {
		return 0
	}
	return noiseSum / maxAmplitude
}

func (g *NoiseGenerator) valueNoise(x, y float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))

	sx := smooth(x - float64(x0))
	sy := smooth(y - float64(y0))

	ix0 := lerp(random2D(x0, y0, g.seed), random2D(x0+1, y0, g.seed), sx)
	ix1 := lerp(random2D(x0, y0+1, g.seed), random2D(x0+1, y0+1, g.seed), sx)
	return lerp(ix0, ix1, sy)
}

func smooth(t float64) float64 {
	return t * t * (3 - 2*t)
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

// random2D returns a hashed value in [-1, 1).
func random2D(x, y int, seed int64) float64 {
	return float64(hash3(x, y, int(seed))&0xFFFF)/0x8000 - 1.0
}

func hash3(x, y, z int) uint32 {
	h := uint32(x*374761393 + y*668265263 + z*2147483647)
	h = (h ^ (h >> 13)) * 1274126177
	return h ^ (h >> 16)
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
