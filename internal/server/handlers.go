package server

import (
	"context"
	"net"

	"voxelnav/internal/entities"
	"voxelnav/internal/network"
)

func (s *Server) registerHandlers() {
	s.net.Register(network.MessagePathRequest, s.onPathRequest)
	s.net.Register(network.MessageSpawnRequest, s.onSpawnRequest)
	s.net.Register(network.MessageNavigateRequest, s.onNavigateRequest)
	s.net.Register(network.MessageStopRequest, s.onStopRequest)
	s.net.Register(network.MessageStatusQuery, s.onStatusQuery)
	s.net.Register(network.MessageHistoryQuery, s.onHistoryQuery)
}

func (s *Server) reply(addr *net.UDPAddr, msg network.MessageType, payload any) {
	if err := s.net.Reply(addr, msg, payload); err != nil {
		s.logger.Printf("%s send to %s: %v", msg, addr, err)
	}
}

func (s *Server) ack(addr *net.UDPAddr, req network.MessageType, id string, err error) {
	resp := network.Ack{Request: req, ID: id, OK: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	s.reply(addr, network.MessageAck, resp)
}

func (s *Server) onPathRequest(ctx context.Context, addr *net.UDPAddr, env network.Envelope) {
	var req network.PathRequest
	if err := network.DecodePayload(env, &req); err != nil {
		s.logger.Printf("path request: %v", err)
		return
	}
	s.reply(addr, network.MessagePathResponse, s.FindPath(ctx, req))
}

func (s *Server) onSpawnRequest(ctx context.Context, addr *net.UDPAddr, env network.Envelope) {
	var req network.SpawnRequest
	if err := network.DecodePayload(env, &req); err != nil {
		s.ack(addr, env.Type, "", err)
		return
	}
	err := s.Spawn(entities.ID(req.EntityID), entities.Kind(req.Kind), req.Position)
	s.ack(addr, env.Type, req.EntityID, err)
}

func (s *Server) onNavigateRequest(ctx context.Context, addr *net.UDPAddr, env network.Envelope) {
	var req network.NavigateRequest
	if err := network.DecodePayload(env, &req); err != nil {
		s.ack(addr, env.Type, "", err)
		return
	}
	var err error
	if req.FollowEntity != "" {
		err = s.Follow(entities.ID(req.AgentID), entities.ID(req.FollowEntity))
	} else {
		point, verr := network.Vec(req.Target)
		if verr != nil {
			err = verr
		} else {
			err = s.NavigateTo(entities.ID(req.AgentID), point)
		}
	}
	s.ack(addr, env.Type, req.AgentID, err)
}

func (s *Server) onStopRequest(ctx context.Context, addr *net.UDPAddr, env network.Envelope) {
	var req network.StopRequest
	if err := network.DecodePayload(env, &req); err != nil {
		s.ack(addr, env.Type, "", err)
		return
	}
	s.ack(addr, env.Type, req.AgentID, s.Stop(entities.ID(req.AgentID)))
}

func (s *Server) onStatusQuery(ctx context.Context, addr *net.UDPAddr, env network.Envelope) {
	var req network.StatusQuery
	if err := network.DecodePayload(env, &req); err != nil {
		s.logger.Printf("status query: %v", err)
		return
	}
	agents, err := s.AgentStatus(entities.ID(req.AgentID))
	if err != nil {
		s.ack(addr, env.Type, req.AgentID, err)
		return
	}
	s.reply(addr, network.MessageStatusReply, network.StatusReply{
		ServerID: s.cfg.Server.ID,
		Tick:     s.ticks.Load(),
		Agents:   agents,
	})
}

func (s *Server) onHistoryQuery(ctx context.Context, addr *net.UDPAddr, env network.Envelope) {
	var req network.HistoryQuery
	if err := network.DecodePayload(env, &req); err != nil {
		s.logger.Printf("history query: %v", err)
		return
	}
	resp := network.HistoryReply{AgentID: req.AgentID}
	records, err := s.History(ctx, req.AgentID, req.Limit)
	if err != nil {
		resp.Error = err.Error()
	}
	for _, rec := range records {
		resp.Sessions = append(resp.Sessions, network.SessionRecord{
			AgentID:    rec.AgentID,
			Target:     network.Slice(rec.Target),
			Outcome:    rec.Outcome,
			Error:      rec.Error,
			Ticks:      rec.Ticks,
			Plans:      rec.Plans,
			Replans:    rec.Replans,
			Distance:   rec.Distance,
			FinishedAt: rec.FinishedAt,
		})
	}
	s.reply(addr, network.MessageHistoryReply, resp)
}
