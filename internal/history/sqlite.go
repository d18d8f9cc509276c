// Package history keeps a sqlite log of finished navigation sessions.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	_ "modernc.org/sqlite"
)

// DefaultLimit is used by Recent when no positive limit is given.
const DefaultLimit = 20

var ErrClosed = errors.New("history: store closed")

// Record is one finished session.
type Record struct {
	AgentID    string
	Target     mgl64.Vec3
	Outcome    string
	Error      string
	Ticks      int
	Plans      int
	Replans    int
	Distance   float64
	FinishedAt time.Time
}

type req struct {
	record Record
	// barrier, when set, is closed once every earlier request is written.
	barrier chan struct{}
}

// Store writes records on a single goroutine so callers on the tick loop
// never wait for sqlite.
type Store struct {
	db     *sql.DB
	logger *log.Logger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Int64
}

func OpenSQLite(path string, logger *log.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(log.Writer(), "history ", log.LstdFlags|log.Lmicroseconds)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		logger: logger,
		ch:     make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			target_x REAL NOT NULL,
			target_y REAL NOT NULL,
			target_z REAL NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT NOT NULL,
			ticks INTEGER NOT NULL,
			plans INTEGER NOT NULL,
			replans INTEGER NOT NULL,
			distance REAL NOT NULL,
			finished_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(agent_id, id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Record queues rec for writing. It never blocks; when the writer has fallen
// behind the record is dropped and counted.
func (s *Store) Record(rec Record) error {
	if s == nil {
		return nil
	}
	if s.closed.Load() {
		return ErrClosed
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	select {
	case s.ch <- req{record: rec}:
	default:
		s.dropped.Add(1)
	}
	return nil
}

// Dropped reports how many records were discarded because the queue was full.
func (s *Store) Dropped() int64 {
	return s.dropped.Load()
}

// Flush waits until every record queued before the call has been written.
func (s *Store) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{barrier: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recent returns up to limit sessions for agentID, newest first. Records
// queued before the call are included.
func (s *Store) Recent(ctx context.Context, agentID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT agent_id,target_x,target_y,target_z,outcome,error,ticks,plans,replans,distance,finished_at
		FROM sessions WHERE agent_id=? ORDER BY id DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec      Record
			x, y, z  float64
			finished string
		)
		if err := rows.Scan(&rec.AgentID, &x, &y, &z, &rec.Outcome, &rec.Error, &rec.Ticks, &rec.Plans, &rec.Replans, &rec.Distance, &finished); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.Target = mgl64.Vec3{x, y, z}
		if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("parse finished_at %q: %w", finished, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// OutcomeCounts tallies every recorded session of agentID by outcome.
func (s *Store) OutcomeCounts(ctx context.Context, agentID string) (map[string]int, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM sessions WHERE agent_id=? GROUP BY outcome`, agentID)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

func (s *Store) loop() {
	insert, err := s.db.Prepare(`INSERT INTO sessions(agent_id,target_x,target_y,target_z,outcome,error,ticks,plans,replans,distance,finished_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		s.logger.Printf("prepare insert: %v", err)
	} else {
		defer insert.Close()
	}

	for r := range s.ch {
		if r.barrier != nil {
			close(r.barrier)
			continue
		}
		if insert == nil {
			continue
		}
		rec := r.record
		if _, err := insert.Exec(
			rec.AgentID,
			rec.Target.X(), rec.Target.Y(), rec.Target.Z(),
			rec.Outcome,
			rec.Error,
			rec.Ticks,
			rec.Plans,
			rec.Replans,
			rec.Distance,
			rec.FinishedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			s.logger.Printf("record session for %s: %v", rec.AgentID, err)
		}
	}
}
