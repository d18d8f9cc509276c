package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"

	"voxelnav/internal/config"
	"voxelnav/internal/entities"
	"voxelnav/internal/history"
	"voxelnav/internal/navigation"
	"voxelnav/internal/network"
	"voxelnav/internal/observer"
	"voxelnav/internal/pathfinding"
	"voxelnav/internal/terrain"
	"voxelnav/internal/world"
)

var (
	ErrUnknownAgent  = errors.New("unknown agent")
	ErrUnknownEntity = errors.New("unknown entity")
)

type agent struct {
	id   entities.ID
	body *entities.Agent
	ctrl *navigation.Controller
}

type Option func(*Server)

// WithGenerator replaces the configured terrain source.
func WithGenerator(gen world.Generator) Option {
	return func(s *Server) { s.generator = gen }
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type Server struct {
	cfg       *config.Config
	logger    *log.Logger
	generator world.Generator
	world     *world.Manager
	entities  *entities.Manager
	planner   *pathfinding.VoxelPathfinder
	metrics   *pathfinding.NavigatorMetrics
	net       *network.Server
	history   *history.Store
	observer  *observer.Server
	params    navigation.Params
	body      entities.BodyParams
	workers   int

	mu     sync.Mutex
	agents map[entities.ID]*agent
	ticks  atomic.Uint64
}

func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	srv := &Server{
		cfg:      cfg,
		logger:   log.New(log.Writer(), "navserver ", log.LstdFlags|log.Lmicroseconds),
		entities: entities.NewManager(),
		metrics:  &pathfinding.NavigatorMetrics{},
		params:   navigation.ParamsFromConfig(cfg.Navigation, cfg.Server.TickRate.Duration()),
		body:     entities.DefaultBodyParams(),
		workers:  runtime.GOMAXPROCS(0),
		agents:   make(map[entities.ID]*agent),
	}
	for _, opt := range opts {
		opt(srv)
	}

	if srv.generator == nil {
		gen, err := buildGenerator(cfg, srv.logger)
		if err != nil {
			return nil, err
		}
		srv.generator = gen
	}

	region := world.NewServerRegion(cfg)
	worldOpts := []world.ManagerOption{world.WithLogger(srv.logger)}
	if cfg.Storage.DiskPath != "" {
		worldOpts = append(worldOpts, world.WithStorage(world.NewDiskStorageProvider(cfg.Storage.DiskPath, region)))
	}
	srv.world = world.NewManager(region, srv.generator, worldOpts...)
	srv.planner = pathfinding.NewVoxelPathfinder(srv.world, pathfinding.Options{
		MaxIterations: cfg.Pathfinding.MaxIterations,
		PartialMargin: cfg.Pathfinding.PartialMargin,
	})

	if cfg.History.Path != "" {
		store, err := history.OpenSQLite(cfg.History.Path, log.New(srv.logger.Writer(), "history ", srv.logger.Flags()))
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		srv.history = store
	}

	netSrv, err := network.Listen(cfg.Network.ListenUDP, srv.logger, cfg.Network.MaxDatagramSizeBytes)
	if err != nil {
		if srv.history != nil {
			srv.history.Close()
		}
		return nil, err
	}
	srv.net = netSrv

	if cfg.Observer.ListenHTTP != "" {
		srv.observer = observer.NewServer(observerSource{srv}, cfg.Observer.StreamRate.Duration(),
			log.New(srv.logger.Writer(), "observer ", srv.logger.Flags()))
	}

	srv.registerHandlers()
	return srv, nil
}

func buildGenerator(cfg *config.Config, logger *log.Logger) (world.Generator, error) {
	if path := cfg.Storage.SnapshotPath; path != "" {
		grid, err := world.LoadSnapshotFile(path)
		if err != nil {
			return nil, fmt.Errorf("load world snapshot: %w", err)
		}
		logger.Printf("seeding world from snapshot %s (%v)", path, grid.Dimensions())
		return world.NewSnapshotGenerator(grid), nil
	}
	return terrain.NewNoiseGenerator(cfg.Terrain, logger), nil
}

// Addr is the UDP address the control protocol listens on.
func (s *Server) Addr() *net.UDPAddr {
	return s.net.LocalAddr()
}

func (s *Server) World() *world.Manager { return s.world }

func (s *Server) Metrics() pathfinding.MetricsSnapshot { return s.metrics.Snapshot() }

func (s *Server) Run(ctx context.Context) error {
	defer s.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := s.net.Serve(ctx); err != nil && ctx.Err() == nil {
			s.logger.Printf("network server stopped: %v", err)
			cancel()
		}
	}()

	if s.observer != nil {
		go func() {
			if err := s.observer.ListenAndServe(ctx, s.cfg.Observer.ListenHTTP); err != nil && ctx.Err() == nil {
				s.logger.Printf("observer stopped: %v", err)
				cancel()
			}
		}()
	}

	engine := newTickEngine(s, s.cfg.Server.TickRate.Duration(), s.workers, s.logger)
	engine.Start(ctx)
	s.logger.Printf("serving on %s, tick %s", s.Addr(), s.cfg.Server.TickRate.Duration())

	<-ctx.Done()
	engine.Wait()
	if skipped := engine.Skipped(); skipped > 0 {
		s.logger.Printf("tick loop skipped %d of %d steps", skipped, engine.Steps()+skipped)
	}
	s.StopAll()
	return ctx.Err()
}

func (s *Server) close() {
	if err := s.net.Close(); err != nil {
		s.logger.Printf("close network: %v", err)
	}
	if s.history != nil {
		if dropped := s.history.Dropped(); dropped > 0 {
			s.logger.Printf("history dropped %d records", dropped)
		}
		if err := s.history.Close(); err != nil {
			s.logger.Printf("close history: %v", err)
		}
	}
	if err := s.world.Close(); err != nil {
		s.logger.Printf("close world: %v", err)
	}
	m := s.metrics.Snapshot()
	s.logger.Printf("pathfinding: %d searches (%d found, %d partial, %d failed), %d iterations, %s",
		m.Searches, m.Found, m.Partial, m.Failed, m.Iterations, m.SearchTime)
}

// stepAgents advances every agent by one fixed step: controller first, then body.
func (s *Server) stepAgents(ctx context.Context, workers int) {
	delta := s.cfg.Server.TickRate.Duration()
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = pathfinding.ContextWithProfiler(ctx, s.metrics.Profiler())
	list := make([]*agent, 0, len(s.agents))
	for _, a := range s.agents {
		list = append(list, a)
	}

	step := func(subset []*agent) {
		for _, a := range subset {
			a.ctrl.Tick(ctx, a.body.Input())
			a.body.Step(delta)
		}
	}

	count := len(list)
	if workers > count {
		workers = count
	}
	if workers <= 1 {
		step(list)
	} else {
		var wg sync.WaitGroup
		chunkSize := (count + workers - 1) / workers
		for start := 0; start < count; start += chunkSize {
			end := start + chunkSize
			if end > count {
				end = count
			}
			wg.Add(1)
			go func(subset []*agent) {
				defer wg.Done()
				step(subset)
			}(list[start:end])
		}
		wg.Wait()
	}

	for _, id := range s.entities.Sweep() {
		s.logger.Printf("entity %s removed", id)
	}
	s.ticks.Add(1)
}

// Spawn registers an entity. A two-component position is placed on the
// surface of that column.
func (s *Server) Spawn(id entities.ID, kind entities.Kind, position []float64) error {
	if id == "" {
		return fmt.Errorf("entity missing id")
	}
	var pos mgl64.Vec3
	switch len(position) {
	case 2:
		surface, ok := s.world.SurfaceAt(int(math.Floor(position[0])), int(math.Floor(position[1])))
		if !ok {
			return fmt.Errorf("no standable surface at (%.1f, %.1f)", position[0], position[1])
		}
		pos = mgl64.Vec3{position[0], position[1], float64(surface.Z)}
	default:
		v, err := network.Vec(position)
		if err != nil {
			return err
		}
		pos = v
	}
	if kind == "" {
		kind = entities.KindAgent
	}
	if kind != entities.KindAgent && kind != entities.KindMarker {
		return fmt.Errorf("unsupported entity kind %q", kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ent := &entities.Entity{ID: id, Kind: kind, Name: string(id), Position: pos}
	if err := s.entities.Add(ent); err != nil {
		return err
	}
	if kind == entities.KindAgent {
		body := entities.NewAgent(ent, s.world, s.body)
		ctrlLogger := log.New(s.logger.Writer(), fmt.Sprintf("%s[%s] ", s.logger.Prefix(), id), s.logger.Flags())
		s.agents[id] = &agent{
			id:   id,
			body: body,
			ctrl: navigation.NewController(s.planner, body, s.params,
				navigation.WithLogger(ctrlLogger),
				navigation.WithFinishHook(func(sum navigation.Summary) { s.recordSession(id, sum) })),
		}
	}
	s.logger.Printf("spawned %s %s at %.1f,%.1f,%.1f", kind, id, pos.X(), pos.Y(), pos.Z())
	return nil
}

// Despawn removes an entity. Agents stop navigating and sessions following
// the entity end on their next tick.
func (s *Server) Despawn(id entities.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.entities.Entity(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	if a, ok := s.agents[id]; ok {
		a.ctrl.Stop()
		delete(s.agents, id)
	}
	ent.FlagDying()
	return nil
}

// NavigateTo starts agentID walking to a fixed point.
func (s *Server) NavigateTo(agentID entities.ID, point mgl64.Vec3) error {
	return s.navigate(agentID, navigation.FixedTarget{Point: point})
}

// Follow starts agentID walking to a live entity.
func (s *Server) Follow(agentID, entityID entities.ID) error {
	if agentID == entityID {
		return fmt.Errorf("agent %s cannot follow itself", agentID)
	}
	if _, ok := s.entities.Entity(entityID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	return s.navigate(agentID, s.entities.Target(entityID))
}

func (s *Server) navigate(agentID entities.ID, target navigation.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	return a.ctrl.Start(target)
}

func (s *Server) Stop(agentID entities.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	a.ctrl.Stop()
	return nil
}

// StopAll ends every active session.
func (s *Server) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		a.ctrl.Stop()
	}
}

// Reload applies the navigation tuning of cfg to every agent. Sessions in
// progress keep their tuning until they end. Settings that shape the world,
// the listeners or the tick rate need a restart and are ignored.
func (s *Server) Reload(cfg *config.Config) {
	params := navigation.ParamsFromConfig(cfg.Navigation, s.cfg.Server.TickRate.Duration())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = params
	for _, a := range s.agents {
		a.ctrl.SetParams(params)
	}
	s.logger.Printf("navigation tuning reloaded for %d agents", len(s.agents))
}

// AgentStatus reports one agent, or all agents ordered by ID when agentID
// is empty.
func (s *Server) AgentStatus(agentID entities.ID) ([]network.AgentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if agentID != "" {
		a, ok := s.agents[agentID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
		}
		return []network.AgentStatus{a.status()}, nil
	}
	out := make([]network.AgentStatus, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (a *agent) status() network.AgentStatus {
	st := a.ctrl.Status()
	last := a.ctrl.LastSummary()
	out := network.AgentStatus{
		AgentID:     string(a.id),
		Active:      st.Active,
		Mode:        st.Mode.String(),
		Display:     a.ctrl.StatusDisplay(),
		Position:    network.Slice(a.body.Entity().PositionVec()),
		Distance:    st.Distance,
		Waypoint:    st.Waypoint,
		Ticks:       st.Ticks,
		Replans:     st.Replans,
		TimedOut:    st.TimedOut,
		LastOutcome: last.Outcome.String(),
		LastTicks:   last.Ticks,
	}
	if last.Err != nil {
		out.LastError = last.Err.Error()
	}
	for _, wp := range st.Waypoints {
		out.Waypoints = append(out.Waypoints, network.Slice(wp))
	}
	return out
}

// FindPath answers a one-off route query.
func (s *Server) FindPath(ctx context.Context, req network.PathRequest) network.PathResponse {
	start := world.BlockCoord{X: req.FromX, Y: req.FromY, Z: req.FromZ}
	goal := world.BlockCoord{X: req.ToX, Y: req.ToY, Z: req.ToZ}
	ctx = pathfinding.ContextWithProfiler(ctx, s.metrics.Profiler())
	path := s.planner.FindPath(ctx, start, goal, req.ArrivalRadius)

	resp := network.PathResponse{EntityID: req.EntityID}
	if path == nil {
		resp.Error = "no path"
		return resp
	}
	resp.Found = !path.Partial
	resp.Partial = path.Partial
	resp.Cost = path.Cost
	resp.Iterations = path.Iterations
	for _, wp := range path.Waypoints {
		resp.Route = append(resp.Route, network.BlockStep{X: wp.Coord.X, Y: wp.Coord.Y, Z: wp.Coord.Z})
	}
	for _, mv := range path.Moves {
		resp.Moves = append(resp.Moves, mv.Action.String())
	}
	return resp
}

func (s *Server) recordSession(id entities.ID, sum navigation.Summary) {
	rec := history.Record{
		AgentID:  string(id),
		Target:   sum.Target,
		Outcome:  sum.Outcome.String(),
		Ticks:    sum.Ticks,
		Plans:    sum.Plans,
		Replans:  sum.Replans,
		Distance: sum.Distance,
	}
	if sum.Err != nil {
		rec.Error = sum.Err.Error()
	}
	if err := s.history.Record(rec); err != nil {
		s.logger.Printf("record session for %s: %v", id, err)
	}
}

// History returns the most recent sessions of agentID.
func (s *Server) History(ctx context.Context, agentID string, limit int) ([]history.Record, error) {
	if s.history == nil {
		return nil, errors.New("history is disabled")
	}
	return s.history.Recent(ctx, agentID, limit)
}

type observerSource struct{ s *Server }

func (o observerSource) Bootstrap() observer.Bootstrap {
	cfg := o.s.cfg
	return observer.Bootstrap{
		ServerID:       cfg.Server.ID,
		Tick:           o.s.ticks.Load(),
		TickRateMillis: cfg.Server.TickRate.Duration().Milliseconds(),
		ChunkSize:      [3]int{cfg.Chunk.Width, cfg.Chunk.Depth, cfg.Chunk.Height},
		ChunksPerAxis:  cfg.Chunk.ChunksPerAxis,
		Origin:         [2]int{cfg.Server.GlobalChunkOrigin.X, cfg.Server.GlobalChunkOrigin.Y},
	}
}

func (o observerSource) Status() (uint64, []network.AgentStatus) {
	agents, _ := o.s.AgentStatus("")
	return o.s.ticks.Load(), agents
}
