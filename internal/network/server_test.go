package network

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (*Server, context.CancelFunc) {
	t.Helper()
	srv, err := Listen("127.0.0.1:0", log.New(&bytes.Buffer{}, "", 0), 0)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("serve returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("serve did not stop")
		}
		srv.Close()
	})
	return srv, cancel
}

func TestRequestReplyRoundTrip(t *testing.T) {
	srv, _ := startServer(t)
	srv.Register(MessagePathRequest, func(ctx context.Context, addr *net.UDPAddr, env Envelope) {
		var req PathRequest
		if err := DecodePayload(env, &req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		resp := PathResponse{
			EntityID: req.EntityID,
			Found:    true,
			Route:    []BlockStep{{X: req.FromX, Y: req.FromY, Z: req.FromZ}, {X: req.ToX, Y: req.ToY, Z: req.ToZ}},
		}
		if err := srv.Reply(addr, MessagePathResponse, resp); err != nil {
			t.Errorf("reply: %v", err)
		}
	})

	client, err := Dial(srv.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	var resp PathResponse
	req := PathRequest{EntityID: "scout", FromX: 1, FromY: 2, FromZ: 3, ToX: 4, ToY: 5, ToZ: 6}
	require.NoError(t, client.Request(context.Background(), MessagePathRequest, req, MessagePathResponse, &resp))
	require.Equal(t, "scout", resp.EntityID)
	require.True(t, resp.Found)
	require.Equal(t, []BlockStep{{1, 2, 3}, {4, 5, 6}}, resp.Route)
}

func TestRequestTimesOutWithoutHandler(t *testing.T) {
	srv, _ := startServer(t)
	client, err := Dial(srv.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err = client.Request(ctx, MessageStatusQuery, StatusQuery{}, MessageStatusReply, &StatusReply{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServerSkipsMalformedDatagrams(t *testing.T) {
	srv, _ := startServer(t)
	srv.Register(MessageStopRequest, func(ctx context.Context, addr *net.UDPAddr, env Envelope) {
		srv.Reply(addr, MessageAck, Ack{Request: env.Type, OK: true})
	})

	conn, err := net.DialUDP("udp", nil, srv.LocalAddr())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("not json"))
	require.NoError(t, err)

	client, err := Dial(srv.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()
	var ack Ack
	require.NoError(t, client.Request(context.Background(), MessageStopRequest, StopRequest{AgentID: "a"}, MessageAck, &ack))
	require.True(t, ack.OK)
	require.Equal(t, MessageStopRequest, ack.Request)
}

func TestReplyRejectsOversizedMessages(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", log.New(&bytes.Buffer{}, "", 0), 128)
	require.NoError(t, err)
	defer srv.Close()

	route := make([]BlockStep, 64)
	err = srv.Reply(srv.LocalAddr(), MessagePathResponse, PathResponse{Route: route})
	require.ErrorContains(t, err, "limit 128")
}

func TestVecConversion(t *testing.T) {
	v, err := Vec([]float64{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, mgl64.Vec3{1, 2, 3}, v)
	require.Equal(t, []float64{1, 2, 3}, Slice(v))

	_, err = Vec([]float64{1, 2})
	require.Error(t, err)
}

func sendRaw(t *testing.T, srv *Server, msg MessageType, payload any) {
	t.Helper()
	var seq atomic.Uint64
	data, err := encodeEnvelope(&seq, msg, payload)
	require.NoError(t, err)
	conn, err := net.DialUDP("udp", nil, srv.LocalAddr())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func TestServerDropsWhenSaturated(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", log.New(&bytes.Buffer{}, "", 0), 0)
	require.NoError(t, err)
	defer srv.Close()
	srv.inFlight = make(chan struct{}, 1)

	release := make(chan struct{})
	var started atomic.Int32
	srv.Register(MessageStopRequest, func(ctx context.Context, addr *net.UDPAddr, env Envelope) {
		started.Add(1)
		<-release
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	sendRaw(t, srv, MessageStopRequest, StopRequest{AgentID: "a"})
	require.Eventually(t, func() bool { return started.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	sendRaw(t, srv, MessageStopRequest, StopRequest{AgentID: "b"})
	require.Eventually(t, func() bool { return srv.Dropped() == 1 }, 2*time.Second, 10*time.Millisecond)

	close(release)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Equal(t, int32(1), started.Load())
}

func TestServeWaitsForHandlers(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", log.New(&bytes.Buffer{}, "", 0), 0)
	require.NoError(t, err)
	defer srv.Close()

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	srv.Register(MessageStatusQuery, func(ctx context.Context, addr *net.UDPAddr, env Envelope) {
		close(entered)
		<-release
		finished.Store(true)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	sendRaw(t, srv, MessageStatusQuery, StatusQuery{})
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}

	cancel()
	select {
	case <-done:
		t.Fatal("Serve returned while a handler was running")
	case <-time.After(pollInterval + 200*time.Millisecond):
	}

	close(release)
	require.ErrorIs(t, <-done, context.Canceled)
	require.True(t, finished.Load())
}

func TestRegisterReplacesHandler(t *testing.T) {
	srv, _ := startServer(t)
	srv.Register(MessageStopRequest, func(ctx context.Context, addr *net.UDPAddr, env Envelope) {
		srv.Reply(addr, MessageAck, Ack{Request: env.Type, ID: "old", OK: true})
	})
	srv.Register(MessageStopRequest, func(ctx context.Context, addr *net.UDPAddr, env Envelope) {
		srv.Reply(addr, MessageAck, Ack{Request: env.Type, ID: "new", OK: true})
	})

	client, err := Dial(srv.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()
	var ack Ack
	require.NoError(t, client.Request(context.Background(), MessageStopRequest, StopRequest{}, MessageAck, &ack))
	require.Equal(t, "new", ack.ID)
}
