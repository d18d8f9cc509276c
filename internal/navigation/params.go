package navigation

import (
	"math"
	"time"

	"voxelnav/internal/config"
)

// Params holds controller thresholds. Distances are in blocks, durations in ticks.
type Params struct {
	ArrivalRadius             float64
	DirectRange               float64
	WaypointTolerance         float64
	WaypointVerticalTolerance float64
	TargetMoveThreshold       float64
	StuckTimeoutTicks         int
	SessionTimeoutTicks       int
	ReplanCooldownTicks       int
	MaxReplans                int
	BlockedEscalateTicks      int
	CollisionStrafeTicks      int
	StrafeCommitTicks         int
	SprintLookahead           int
	TurnRateDegrees           float64
}

// ParamsFromConfig converts configured durations into ticks of length tick.
func ParamsFromConfig(cfg config.NavigationConfig, tick time.Duration) Params {
	toTicks := func(d config.Duration) int {
		if tick <= 0 {
			return 1
		}
		n := int(math.Ceil(float64(d.Duration()) / float64(tick)))
		if n < 1 {
			return 1
		}
		return n
	}
	cooldown := 0
	if cfg.ReplanCooldown > 0 {
		cooldown = toTicks(cfg.ReplanCooldown)
	}
	return Params{
		ArrivalRadius:             cfg.ArrivalRadius,
		DirectRange:               cfg.DirectRange,
		WaypointTolerance:         cfg.WaypointTolerance,
		WaypointVerticalTolerance: cfg.WaypointVerticalTolerance,
		TargetMoveThreshold:       cfg.TargetMoveThreshold,
		StuckTimeoutTicks:         toTicks(cfg.StuckTimeout),
		SessionTimeoutTicks:       toTicks(cfg.SessionTimeout),
		ReplanCooldownTicks:       cooldown,
		MaxReplans:                cfg.MaxReplans,
		BlockedEscalateTicks:      cfg.BlockedEscalateTicks,
		CollisionStrafeTicks:      cfg.CollisionStrafeTicks,
		StrafeCommitTicks:         cfg.StrafeCommitTicks,
		SprintLookahead:           cfg.SprintLookahead,
		TurnRateDegrees:           cfg.TurnRateDegrees,
	}
}

// DefaultParams returns the default configuration at the default tick rate.
func DefaultParams() Params {
	cfg := config.Default()
	return ParamsFromConfig(cfg.Navigation, cfg.Server.TickRate.Duration())
}
