package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/carrotview/helpers"
	"github.com/temoto/carrotview/tele"
)

type Mode int

const (
	ModeIdle   Mode = 0 // not connected to car
	ModeReady  Mode = 1 // autopilot available
	ModeCruise Mode = 2 // autopilot engaged
)

const manualCruiseSpeed = 20.0

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeReady:
		return "ready"
	case ModeCruise:
		return "cruise"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts operator console input "0", "1", "2".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "0":
		return ModeIdle, nil
	case "1":
		return ModeReady, nil
	case "2":
		return ModeCruise, nil
	}
	return 0, errors.NotValidf("mode=%q", s)
}

// Manual is static state switched by operator, for testing dashboard
// reaction to autopilot flags. Safe for concurrent use.
type Manual struct {
	mu   sync.Mutex
	mode Mode
	now  func() time.Time
}

func NewManual() *Manual {
	return &Manual{now: time.Now}
}

func (m *Manual) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

func (m *Manual) SetMode(mode Mode) error {
	if mode < ModeIdle || mode > ModeCruise {
		return errors.NotValidf("mode=%d", int(mode))
	}
	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()
	return nil
}

// Snapshot is tele.SnapshotFunc.
func (m *Manual) Snapshot() tele.Snapshot {
	mode := m.Mode()
	snap := tele.Snapshot{
		Timestamp: helpers.UnixMilli(m.now()),
		CarState: tele.CarState{
			GearShifter:     tele.GearPark,
			SeatbeltLatched: true,
		},
		ControlsState: tele.ControlsState{
			Enabled:     mode >= ModeReady,
			Active:      mode == ModeCruise,
			AlertStatus: tele.AlertNormal,
		},
		LiveTracks: []tele.Track{},
		DeviceState: tele.DeviceState{
			BatteryPercent: 100,
			ThermalStatus:  tele.ThermalGreen,
		},
	}
	if mode == ModeCruise {
		snap.CarState.VEgo = manualCruiseSpeed
		snap.CarState.VCruise = manualCruiseSpeed
	}
	return snap
}
