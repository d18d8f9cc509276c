package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultMaxDatagram = 64 * 1024
	DefaultMaxInFlight = 64

	pollInterval = 500 * time.Millisecond
)

// Handler serves one request. addr is the sender and the usual reply target.
type Handler func(ctx context.Context, addr *net.UDPAddr, env Envelope)

// Server is the UDP side of the control protocol. Every datagram is one JSON
// envelope; each is handled on its own goroutine, up to maxInFlight at once.
// Datagrams arriving while the server is saturated are dropped.
type Server struct {
	conn    *net.UDPConn
	logger  *log.Logger
	maxSize int
	seq     atomic.Uint64

	mu       sync.RWMutex
	handlers map[MessageType]Handler

	inFlight chan struct{}
	wg       sync.WaitGroup
	dropped  atomic.Int64
}

func Listen(listenAddr string, logger *log.Logger, maxSize int) (*Server, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxDatagram
	}
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "network ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Server{
		conn:     conn,
		logger:   logger,
		maxSize:  maxSize,
		handlers: make(map[MessageType]Handler),
		inFlight: make(chan struct{}, DefaultMaxInFlight),
	}, nil
}

func (s *Server) Close() error {
	return s.conn.Close()
}

func (s *Server) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Register installs the handler for msgType, replacing any previous one.
func (s *Server) Register(msgType MessageType, handler Handler) {
	s.mu.Lock()
	s.handlers[msgType] = handler
	s.mu.Unlock()
}

// Dropped counts requests discarded because every handler slot was busy.
func (s *Server) Dropped() int64 { return s.dropped.Load() }

// Serve reads datagrams until ctx is done. It returns only after every
// handler it started has finished.
func (s *Server) Serve(ctx context.Context) error {
	defer s.wg.Wait()

	buf := make([]byte, s.maxSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		s.dispatch(ctx, addr, append([]byte(nil), buf[:n]...))
	}
}

func (s *Server) dispatch(ctx context.Context, addr *net.UDPAddr, datagram []byte) {
	env, err := Decode(datagram)
	if err != nil {
		s.logger.Printf("decode message from %s: %v", addr, err)
		return
	}
	s.mu.RLock()
	handler := s.handlers[env.Type]
	s.mu.RUnlock()
	if handler == nil {
		s.logger.Printf("no handler for %q from %s", env.Type, addr)
		return
	}

	select {
	case s.inFlight <- struct{}{}:
	default:
		s.dropped.Add(1)
		s.logger.Printf("dropping %s from %s: %d requests in flight", env.Type, addr, cap(s.inFlight))
		return
	}
	s.wg.Add(1)
	go func() {
		defer func() {
			<-s.inFlight
			s.wg.Done()
		}()
		handler(ctx, addr, env)
	}()
}

// Reply sends payload to addr, typically the sender of a request.
func (s *Server) Reply(addr *net.UDPAddr, msg MessageType, payload any) error {
	data, err := encodeEnvelope(&s.seq, msg, payload)
	if err != nil {
		return err
	}
	if len(data) > s.maxSize {
		return fmt.Errorf("%s message is %d bytes, limit %d", msg, len(data), s.maxSize)
	}
	_, err = s.conn.WriteToUDP(data, addr)
	return err
}
