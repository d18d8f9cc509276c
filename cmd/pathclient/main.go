package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"voxelnav/internal/network"
)

const usage = `usage: pathclient [-server addr] [-timeout d] <command> [flags]

commands:
  path      request a one-off route between two blocks
  spawn     register an agent or marker
  navigate  send an agent to a point or after another entity
  stop      cancel an agent's session
  status    print agent status
  history   print finished sessions for an agent
`

func main() {
	server := flag.String("server", "127.0.0.1:19100", "navigation server UDP address")
	timeout := flag.Duration("timeout", 3*time.Second, "request timeout")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	client, err := network.Dial(*server)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "path":
		err = runPath(ctx, client, args)
	case "spawn":
		err = runSpawn(ctx, client, args)
	case "navigate":
		err = runNavigate(ctx, client, args)
	case "stop":
		err = runStop(ctx, client, args)
	case "status":
		err = runStatus(ctx, client, args)
	case "history":
		err = runHistory(ctx, client, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func runPath(ctx context.Context, client *network.Client, args []string) error {
	fs := flag.NewFlagSet("path", flag.ExitOnError)
	fromX := fs.Int("fromx", 0, "start block X")
	fromY := fs.Int("fromy", 0, "start block Y")
	fromZ := fs.Int("fromz", 0, "start block Z")
	toX := fs.Int("tox", 0, "end block X")
	toY := fs.Int("toy", 0, "end block Y")
	toZ := fs.Int("toz", 0, "end block Z")
	radius := fs.Float64("radius", 0, "arrival radius in blocks (0 requires the exact goal)")
	fs.Parse(args)

	req := network.PathRequest{
		EntityID:      "pathclient",
		FromX:         *fromX,
		FromY:         *fromY,
		FromZ:         *fromZ,
		ToX:           *toX,
		ToY:           *toY,
		ToZ:           *toZ,
		ArrivalRadius: *radius,
	}
	var resp network.PathResponse
	if err := client.Request(ctx, network.MessagePathRequest, req, network.MessagePathResponse, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("server: %s", resp.Error)
	}
	if !resp.Found {
		fmt.Printf("No route (%d iterations)\n", resp.Iterations)
		return nil
	}

	kind := "complete"
	if resp.Partial {
		kind = "partial"
	}
	fmt.Printf("Route for %s (%s, cost %.2f, %d iterations):\n", resp.EntityID, kind, resp.Cost, resp.Iterations)
	for i, step := range resp.Route {
		move := ""
		if i > 0 && i-1 < len(resp.Moves) {
			move = " " + resp.Moves[i-1]
		}
		fmt.Printf(" %d: (%d,%d,%d)%s\n", i, step.X, step.Y, step.Z, move)
	}
	return nil
}

func runSpawn(ctx context.Context, client *network.Client, args []string) error {
	fs := flag.NewFlagSet("spawn", flag.ExitOnError)
	id := fs.String("id", "", "entity id")
	kind := fs.String("kind", "agent", "entity kind (agent|marker)")
	pos := fs.String("pos", "", "position as x,y or x,y,z (two components place it on the surface)")
	fs.Parse(args)

	position, err := parseFloats(*pos)
	if err != nil {
		return err
	}
	req := network.SpawnRequest{EntityID: *id, Kind: *kind, Position: position}
	return requestAck(ctx, client, network.MessageSpawnRequest, req)
}

func runNavigate(ctx context.Context, client *network.Client, args []string) error {
	fs := flag.NewFlagSet("navigate", flag.ExitOnError)
	agent := fs.String("agent", "", "agent id")
	to := fs.String("to", "", "target point as x,y,z")
	follow := fs.String("follow", "", "entity id to follow")
	fs.Parse(args)

	req := network.NavigateRequest{AgentID: *agent, FollowEntity: *follow}
	if *to != "" {
		target, err := parseFloats(*to)
		if err != nil {
			return err
		}
		req.Target = target
	}
	return requestAck(ctx, client, network.MessageNavigateRequest, req)
}

func runStop(ctx context.Context, client *network.Client, args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	agent := fs.String("agent", "", "agent id")
	fs.Parse(args)

	return requestAck(ctx, client, network.MessageStopRequest, network.StopRequest{AgentID: *agent})
}

func runStatus(ctx context.Context, client *network.Client, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	agent := fs.String("agent", "", "agent id (empty lists every agent)")
	fs.Parse(args)

	var reply network.StatusReply
	if err := client.Request(ctx, network.MessageStatusQuery, network.StatusQuery{AgentID: *agent}, network.MessageStatusReply, &reply); err != nil {
		return err
	}
	fmt.Printf("%s tick %d\n", reply.ServerID, reply.Tick)
	for _, a := range reply.Agents {
		fmt.Printf(" %s @ %s: %s", a.AgentID, formatFloats(a.Position), a.Display)
		switch {
		case a.LastError != "":
			fmt.Printf(" (last: %s after %d ticks: %s)", a.LastOutcome, a.LastTicks, a.LastError)
		case a.LastOutcome != "" && a.LastOutcome != "none":
			fmt.Printf(" (last: %s after %d ticks)", a.LastOutcome, a.LastTicks)
		}
		fmt.Println()
	}
	return nil
}

func runHistory(ctx context.Context, client *network.Client, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	agent := fs.String("agent", "", "agent id")
	limit := fs.Int("limit", 0, "maximum sessions to list (0 uses the server default)")
	fs.Parse(args)

	var reply network.HistoryReply
	if err := client.Request(ctx, network.MessageHistoryQuery, network.HistoryQuery{AgentID: *agent, Limit: *limit}, network.MessageHistoryReply, &reply); err != nil {
		return err
	}
	if reply.Error != "" {
		return fmt.Errorf("server: %s", reply.Error)
	}
	for _, s := range reply.Sessions {
		fmt.Printf(" %s %-15s target %s ticks %d plans %d replans %d",
			s.FinishedAt.Local().Format(time.DateTime), s.Outcome, formatFloats(s.Target), s.Ticks, s.Plans, s.Replans)
		if s.Error != "" {
			fmt.Printf(" error %q", s.Error)
		}
		fmt.Println()
	}
	return nil
}

func requestAck(ctx context.Context, client *network.Client, msg network.MessageType, payload any) error {
	var ack network.Ack
	if err := client.Request(ctx, msg, payload, network.MessageAck, &ack); err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("server rejected %s for %q: %s", ack.Request, ack.ID, ack.Error)
	}
	fmt.Printf("%s %s ok\n", ack.Request, ack.ID)
	return nil
}

func parseFloats(s string) ([]float64, error) {
	if s == "" {
		return nil, fmt.Errorf("missing coordinates")
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("parse coordinate %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func formatFloats(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(f, 'f', 2, 64)
	}
	return "(" + strings.Join(parts, ",") + ")"
}
