// Package sim produces snapshots without a vehicle: scripted driving
// scenario for demos and operator-controlled static state for app testing.
package sim

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/temoto/carrotview/helpers"
	"github.com/temoto/carrotview/tele"
)

const (
	TickPeriod   = 100 * time.Millisecond
	CruiseSpeed  = 25.0 // m/s
	startBattery = 85.0

	// scenario phase ends, in ticks
	phasePark      = 100
	phasePullAway  = 200
	phaseEngage    = 300
	phaseSteady    = 500
	pullAwaySpeed  = 15.0
	highSpeedAlert = 20.0
	standbySpeed   = 5.0
)

const (
	AlertHighSpeedManual = "High speed manual driving"
	AlertStandby         = "Autopilot standby"
	AlertActive          = "Autopilot active"
)

// Scenario is a looping 50 second drive: parked, pulling away,
// autopilot engagement, steady autopilot. Every Snapshot() call advances
// one tick. Safe for concurrent use.
type Scenario struct {
	mu        sync.Mutex
	autopilot bool
	battery   float64
	gear      string
	last      tele.Snapshot
	now       func() time.Time
	rand      *rand.Rand
	speed     float64
	steering  float64
	tick      int
}

// NewScenario with nil r seeds from current time.
func NewScenario(r *rand.Rand) *Scenario {
	if r == nil {
		r = helpers.RandUnix()
	}
	return &Scenario{
		battery: startBattery,
		gear:    tele.GearPark,
		now:     time.Now,
		rand:    r,
	}
}

// Snapshot advances scenario and returns new state. Use as tele.SnapshotFunc.
func (s *Scenario) Snapshot() tele.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.update()
	s.last = s.snapshot()
	return s.last
}

// Last returns previous Snapshot() result without advancing.
func (s *Scenario) Last() tele.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scenario) uniform(min, max float64) float64 {
	return min + s.rand.Float64()*(max-min)
}

func (s *Scenario) update() {
	s.tick++
	switch {
	case s.tick < phasePark:
		s.speed = 0
		s.gear = tele.GearPark
		s.autopilot = false

	case s.tick < phasePullAway:
		s.gear = tele.GearDrive
		s.speed = math.Min(s.speed+0.5, pullAwaySpeed)
		s.steering = clamp(s.steering+s.uniform(-2, 2), 30)

	case s.tick < phaseEngage:
		s.autopilot = true
		s.speed += (CruiseSpeed - s.speed) * 0.05
		s.steering *= 0.95

	case s.tick < phaseSteady:
		s.speed = CruiseSpeed + s.uniform(-1, 1)
		s.steering = clamp(s.steering+s.uniform(-1, 1), 10)

	default:
		s.tick = 0
		s.autopilot = false
	}

	if s.speed > 0 {
		s.battery = math.Max(0, s.battery-0.001)
	}
}

func (s *Scenario) snapshot() tele.Snapshot {
	snap := tele.Snapshot{
		Timestamp: helpers.UnixMilli(s.now()),
		CarState: tele.CarState{
			VEgo:             round(s.speed, 2),
			VCruise:          CruiseSpeed,
			GearShifter:      s.gear,
			SeatbeltLatched:  true,
			SteeringAngleDeg: round(s.steering, 1),
		},
		ControlsState: tele.ControlsState{
			Enabled:     s.autopilot,
			Active:      s.autopilot && s.speed > standbySpeed,
			AlertStatus: tele.AlertNormal,
		},
		LiveTracks: s.tracks(),
		DeviceState: tele.DeviceState{
			BatteryPercent: int(s.battery),
			ThermalStatus:  tele.ThermalGreen,
		},
	}
	if s.battery <= 20 {
		snap.DeviceState.ThermalStatus = tele.ThermalYellow
	}
	switch {
	case !s.autopilot && s.speed > highSpeedAlert:
		snap.ControlsState.AlertText = AlertHighSpeedManual
		snap.ControlsState.AlertStatus = tele.AlertUserPrompt
	case s.autopilot && s.speed < standbySpeed:
		snap.ControlsState.AlertText = AlertStandby
		snap.ControlsState.AlertStatus = tele.AlertUserPrompt
	case s.autopilot:
		snap.ControlsState.AlertText = AlertActive
	}
	return snap
}

// Autopilot sees more objects. First track is always near.
func (s *Scenario) tracks() []tele.Track {
	max := 3
	if s.autopilot {
		max = 8
	}
	n := s.rand.Intn(max + 1)
	ts := make([]tele.Track, n)
	for i := range ts {
		d := s.uniform(20, 100)
		if i == 0 {
			d = s.uniform(15, 40)
		}
		ts[i] = tele.Track{
			TrackID: i + 1,
			DRel:    round(d, 1),
			YRel:    round(s.uniform(-3.5, 3.5), 1),
			VRel:    round(s.uniform(-15, 10), 1),
		}
	}
	tele.SortTracks(ts)
	return ts
}

func clamp(x, limit float64) float64 { return math.Max(-limit, math.Min(limit, x)) }

func round(x float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(x*p) / p
}
