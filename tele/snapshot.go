package tele

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/juju/errors"
)

// Snapshot is one timestamped bundle of vehicle state.
// Treat as immutable after it is returned from SnapshotFunc.
type Snapshot struct {
	Timestamp     int64         `json:"timestamp"` // unix milliseconds
	CarState      CarState      `json:"carState"`
	ControlsState ControlsState `json:"controlsState"`
	LiveTracks    []Track       `json:"liveTracks"`
	DeviceState   DeviceState   `json:"deviceState"`
}

type CarState struct {
	VEgo             float64 `json:"vEgo"`    // m/s
	VCruise          float64 `json:"vCruise"` // m/s
	GearShifter      string  `json:"gearShifter"`
	DoorOpen         bool    `json:"doorOpen"`
	SeatbeltLatched  bool    `json:"seatbeltLatched"`
	SteeringAngleDeg float64 `json:"steeringAngleDeg"`
}

type ControlsState struct {
	Enabled     bool   `json:"enabled"`
	Active      bool   `json:"active"`
	AlertText   string `json:"alertText"`
	AlertStatus string `json:"alertStatus"`
}

// Track is one nearby object relative to ego vehicle.
type Track struct {
	TrackID int     `json:"trackId"`
	DRel    float64 `json:"dRel"`
	YRel    float64 `json:"yRel"`
	VRel    float64 `json:"vRel"`
}

type DeviceState struct {
	BatteryPercent int    `json:"batteryPercent"`
	ThermalStatus  string `json:"thermalStatus"`
}

const (
	GearPark    = "park"
	GearDrive   = "drive"
	GearReverse = "reverse"
	GearNeutral = "neutral"

	AlertNormal     = "normal"
	AlertUserPrompt = "userPrompt"
	AlertCritical   = "critical"

	ThermalGreen  = "green"
	ThermalYellow = "yellow"
	ThermalRed    = "red"
)

func (s *Snapshot) Time() time.Time {
	return time.Unix(0, s.Timestamp*int64(time.Millisecond))
}

// Closest returns track with smallest DRel, ok=false for empty list.
func (s *Snapshot) Closest() (Track, bool) {
	if len(s.LiveTracks) == 0 {
		return Track{}, false
	}
	best := s.LiveTracks[0]
	for _, t := range s.LiveTracks[1:] {
		if t.DRel < best.DRel {
			best = t
		}
	}
	return best, true
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("(t=%d v=%.2f gear=%s enabled=%t active=%t tracks=%d battery=%d)",
		s.Timestamp, s.CarState.VEgo, s.CarState.GearShifter,
		s.ControlsState.Enabled, s.ControlsState.Active,
		len(s.LiveTracks), s.DeviceState.BatteryPercent)
}

// MarshalSnapshot encodes wire payload. Nil track list is sent as [].
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	if s.LiveTracks == nil {
		s.LiveTracks = []Track{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, errors.Annotate(err, "snapshot marshal")
	}
	return b, nil
}

func UnmarshalSnapshot(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return Snapshot{}, errors.Annotate(err, "snapshot unmarshal")
	}
	return s, nil
}

// SortTracks orders tracks closest first, in place.
func SortTracks(ts []Track) {
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].DRel < ts[j].DRel })
}
