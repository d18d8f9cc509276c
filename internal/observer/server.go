// Package observer streams agent status to local debugging tools over a
// websocket.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelnav/internal/network"
)

const ProtocolVersion = 1

// Bootstrap describes the region an observer is looking at.
type Bootstrap struct {
	ProtocolVersion int    `json:"protocolVersion"`
	ServerID        string `json:"serverId"`
	Tick            uint64 `json:"tick"`
	TickRateMillis  int64  `json:"tickRateMs"`
	ChunkSize       [3]int `json:"chunkSize"`
	ChunksPerAxis   int    `json:"chunksPerAxis"`
	Origin          [2]int `json:"originChunk"`
}

// Frame is one status message on the stream.
type Frame struct {
	Type   string                `json:"type"`
	Tick   uint64                `json:"tick"`
	Agents []network.AgentStatus `json:"agents"`
}

// Subscribe narrows the stream to one agent. An empty AgentID restores all.
type Subscribe struct {
	Type            string `json:"type"`
	ProtocolVersion int    `json:"protocolVersion"`
	AgentID         string `json:"agentId"`
}

// Source supplies what the observer publishes. Both methods are called from
// HTTP goroutines.
type Source interface {
	Bootstrap() Bootstrap
	Status() (tick uint64, agents []network.AgentStatus)
}

type Server struct {
	source Source
	rate   time.Duration
	log    *log.Logger

	upgrader websocket.Upgrader
	streams  atomic.Int64
}

func NewServer(source Source, rate time.Duration, logger *log.Logger) *Server {
	if rate <= 0 {
		rate = 250 * time.Millisecond
	}
	if logger == nil {
		logger = log.New(log.Writer(), "observer ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Server{
		source: source,
		rate:   rate,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler serves /bootstrap and /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/ws", s.WSHandler())
	return mux
}

// ListenAndServe serves Handler on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

// Streams reports how many websocket clients are connected.
func (s *Server) Streams() int64 {
	return s.streams.Load()
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := s.source.Bootstrap()
		resp.ProtocolVersion = ProtocolVersion
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.streams.Add(1)
		defer s.streams.Add(-1)

		var filter atomic.Value
		filter.Store("")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			ticker := time.NewTicker(s.rate)
			defer ticker.Stop()
			for {
				if err := s.writeFrame(conn, filter.Load().(string)); err != nil {
					writeErr <- err
					return
				}
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case <-ticker.C:
				}
			}
		}()

		// Reader loop: subscription updates, and noticing the client leave.
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var sub Subscribe
			if err := json.Unmarshal(msg, &sub); err != nil {
				continue
			}
			if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != ProtocolVersion {
				continue
			}
			filter.Store(sub.AgentID)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, agentID string) error {
	tick, agents := s.source.Status()
	frame := Frame{Type: "STATUS", Tick: tick, Agents: make([]network.AgentStatus, 0, len(agents))}
	for _, a := range agents {
		if agentID == "" || a.AgentID == agentID {
			frame.Agents = append(frame.Agents, a)
		}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(frame)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
