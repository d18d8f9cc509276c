package pathfinding

import (
	"context"
	"sync/atomic"
	"time"
)

// SearchOutcome classifies how a FindPath call ended.
type SearchOutcome int

const (
	OutcomeFound SearchOutcome = iota
	OutcomePartial
	OutcomeFailed
)

// NavigatorProfiler captures instrumentation hooks for block-level pathfinding.
type NavigatorProfiler interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordHeuristicEvaluation()
	RecordNodeExpanded()
	RecordNeighborGeneration(count int)
	RecordSearch(duration time.Duration, iterations int, outcome SearchOutcome)
}

// NavigatorMetrics accumulates profiling counters for VoxelPathfinder searches.
type NavigatorMetrics struct {
	cacheHits            atomic.Int64
	cacheMisses          atomic.Int64
	heuristicEvaluations atomic.Int64
	nodesExpanded        atomic.Int64
	neighborGenerations  atomic.Int64
	neighborCount        atomic.Int64
	searches             atomic.Int64
	found                atomic.Int64
	partial              atomic.Int64
	failed               atomic.Int64
	iterations           atomic.Int64
	searchTime           atomic.Int64
}

// MetricsSnapshot captures a point-in-time copy of navigator metrics.
type MetricsSnapshot struct {
	CacheHits            int64
	CacheMisses          int64
	HeuristicEvaluations int64
	NodesExpanded        int64
	NeighborGenerations  int64
	NeighborCount        int64
	Searches             int64
	Found                int64
	Partial              int64
	Failed               int64
	Iterations           int64
	SearchTime           time.Duration
}

// Profiler returns a NavigatorProfiler implementation backed by this metric set.
func (m *NavigatorMetrics) Profiler() NavigatorProfiler {
	if m == nil {
		return nil
	}
	return (*metricsProfiler)(m)
}

// Reset zeroes all counters in the metrics set.
func (m *NavigatorMetrics) Reset() {
	if m == nil {
		return
	}
	for _, c := range []*atomic.Int64{
		&m.cacheHits, &m.cacheMisses, &m.heuristicEvaluations, &m.nodesExpanded,
		&m.neighborGenerations, &m.neighborCount, &m.searches, &m.found,
		&m.partial, &m.failed, &m.iterations, &m.searchTime,
	} {
		c.Store(0)
	}
}

// Snapshot captures the current counter values.
func (m *NavigatorMetrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		CacheHits:            m.cacheHits.Load(),
		CacheMisses:          m.cacheMisses.Load(),
		HeuristicEvaluations: m.heuristicEvaluations.Load(),
		NodesExpanded:        m.nodesExpanded.Load(),
		NeighborGenerations:  m.neighborGenerations.Load(),
		NeighborCount:        m.neighborCount.Load(),
		Searches:             m.searches.Load(),
		Found:                m.found.Load(),
		Partial:              m.partial.Load(),
		Failed:               m.failed.Load(),
		Iterations:           m.iterations.Load(),
		SearchTime:           time.Duration(m.searchTime.Load()),
	}
}

// metricsProfiler implements NavigatorProfiler by mutating the backing metrics set.
type metricsProfiler NavigatorMetrics

func (m *metricsProfiler) RecordCacheHit() {
	(*NavigatorMetrics)(m).cacheHits.Add(1)
}

func (m *metricsProfiler) RecordCacheMiss() {
	(*NavigatorMetrics)(m).cacheMisses.Add(1)
}

func (m *metricsProfiler) RecordHeuristicEvaluation() {
	(*NavigatorMetrics)(m).heuristicEvaluations.Add(1)
}

func (m *metricsProfiler) RecordNodeExpanded() {
	(*NavigatorMetrics)(m).nodesExpanded.Add(1)
}

func (m *metricsProfiler) RecordNeighborGeneration(count int) {
	metrics := (*NavigatorMetrics)(m)
	metrics.neighborGenerations.Add(1)
	metrics.neighborCount.Add(int64(count))
}

func (m *metricsProfiler) RecordSearch(duration time.Duration, iterations int, outcome SearchOutcome) {
	metrics := (*NavigatorMetrics)(m)
	metrics.searches.Add(1)
	metrics.iterations.Add(int64(iterations))
	metrics.searchTime.Add(duration.Nanoseconds())
	switch outcome {
	case OutcomeFound:
		metrics.found.Add(1)
	case OutcomePartial:
		metrics.partial.Add(1)
	default:
		metrics.failed.Add(1)
	}
}

type profilerContextKey struct{}

// ContextWithProfiler returns a context that will report the provided profiler during
// pathfinding operations.
func ContextWithProfiler(ctx context.Context, profiler NavigatorProfiler) context.Context {
	if profiler == nil {
		return ctx
	}
	return context.WithValue(ctx, profilerContextKey{}, profiler)
}

func profilerFromContext(ctx context.Context) NavigatorProfiler {
	if ctx == nil {
		return nil
	}
	if profiler, ok := ctx.Value(profilerContextKey{}).(NavigatorProfiler); ok {
		return profiler
	}
	return nil
}
