package network

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

type MessageType string

const (
	MessagePathRequest     MessageType = "pathRequest"
	MessagePathResponse    MessageType = "pathResponse"
	MessageSpawnRequest    MessageType = "spawnRequest"
	MessageNavigateRequest MessageType = "navigateRequest"
	MessageStopRequest     MessageType = "stopRequest"
	MessageAck             MessageType = "ack"
	MessageStatusQuery     MessageType = "statusQuery"
	MessageStatusReply     MessageType = "statusReply"
	MessageHistoryQuery    MessageType = "historyQuery"
	MessageHistoryReply    MessageType = "historyReply"
)

type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       uint64          `json:"seq"`
	Payload   json.RawMessage `json:"payload"`
}

// PathRequest asks for a one-off route without moving any agent.
type PathRequest struct {
	EntityID      string  `json:"entityId"`
	FromX         int     `json:"fromX"`
	FromY         int     `json:"fromY"`
	FromZ         int     `json:"fromZ"`
	ToX           int     `json:"toX"`
	ToY           int     `json:"toY"`
	ToZ           int     `json:"toZ"`
	ArrivalRadius float64 `json:"arrivalRadius,omitempty"`
}

type BlockStep struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

type PathResponse struct {
	EntityID   string      `json:"entityId"`
	Found      bool        `json:"found"`
	Partial    bool        `json:"partial"`
	Cost       float64     `json:"cost"`
	Iterations int         `json:"iterations"`
	Route      []BlockStep `json:"route"`
	Moves      []string    `json:"moves,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// SpawnRequest registers an agent or a marker entity at Position.
type SpawnRequest struct {
	EntityID string    `json:"entityId"`
	Kind     string    `json:"kind"`
	Position []float64 `json:"position"`
}

// NavigateRequest starts a session for AgentID. Exactly one of Target and
// FollowEntity is set.
type NavigateRequest struct {
	AgentID      string    `json:"agentId"`
	Target       []float64 `json:"target,omitempty"`
	FollowEntity string    `json:"followEntity,omitempty"`
}

type StopRequest struct {
	AgentID string `json:"agentId"`
}

// Ack answers requests that have no richer reply.
type Ack struct {
	Request MessageType `json:"request"`
	ID      string      `json:"id"`
	OK      bool        `json:"ok"`
	Error   string      `json:"error,omitempty"`
}

// StatusQuery selects one agent, or every agent when AgentID is empty.
type StatusQuery struct {
	AgentID string `json:"agentId,omitempty"`
}

type StatusReply struct {
	ServerID string        `json:"serverId"`
	Tick     uint64        `json:"tick"`
	Agents   []AgentStatus `json:"agents"`
}

type AgentStatus struct {
	AgentID     string      `json:"agentId"`
	Active      bool        `json:"active"`
	Mode        string      `json:"mode"`
	Display     string      `json:"display"`
	Position    []float64   `json:"position"`
	Distance    float64     `json:"distance"`
	Waypoint    int         `json:"waypoint"`
	Waypoints   [][]float64 `json:"waypoints,omitempty"`
	Ticks       int         `json:"ticks"`
	Replans     int         `json:"replans"`
	TimedOut    bool        `json:"timedOut"`
	LastOutcome string      `json:"lastOutcome"`
	LastError   string      `json:"lastError,omitempty"`
	LastTicks   int         `json:"lastTicks,omitempty"`
}

type HistoryQuery struct {
	AgentID string `json:"agentId"`
	Limit   int    `json:"limit,omitempty"`
}

type HistoryReply struct {
	AgentID  string          `json:"agentId"`
	Sessions []SessionRecord `json:"sessions"`
	Error    string          `json:"error,omitempty"`
}

type SessionRecord struct {
	AgentID    string    `json:"agentId"`
	Target     []float64 `json:"target"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	Ticks      int       `json:"ticks"`
	Plans      int       `json:"plans"`
	Replans    int       `json:"replans"`
	Distance   float64   `json:"distance"`
	FinishedAt time.Time `json:"finishedAt"`
}

// encodeEnvelope wraps payload in an envelope stamped with the next sequence
// number. Payloads that are already raw JSON pass through untouched.
func encodeEnvelope(seq *atomic.Uint64, msg MessageType, payload any) ([]byte, error) {
	var (
		raw json.RawMessage
		err error
	)
	switch p := payload.(type) {
	case nil:
		raw = json.RawMessage("null")
	case json.RawMessage:
		raw = p
	default:
		if raw, err = json.Marshal(p); err != nil {
			return nil, err
		}
	}
	return Encode(Envelope{Type: msg, Timestamp: time.Now().UTC(), Seq: seq.Add(1), Payload: raw})
}

func Encode(msg Envelope) ([]byte, error) {
	return json.Marshal(msg)
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}

// DecodePayload unmarshals the envelope payload into out.
func DecodePayload(env Envelope, out any) error {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return nil
}

// Vec converts a wire position into a vector.
func Vec(v []float64) (mgl64.Vec3, error) {
	if len(v) != 3 {
		return mgl64.Vec3{}, fmt.Errorf("position needs 3 components, got %d", len(v))
	}
	return mgl64.Vec3{v[0], v[1], v[2]}, nil
}

func Slice(v mgl64.Vec3) []float64 {
	return []float64{v.X(), v.Y(), v.Z()}
}
