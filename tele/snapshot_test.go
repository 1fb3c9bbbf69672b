package tele_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/carrotview/tele"
)

func TestMarshalSnapshotSchema(t *testing.T) {
	t.Parallel()
	s := tele.Snapshot{
		Timestamp: 1700000000123,
		CarState: tele.CarState{
			VEgo: 12.5, VCruise: 25, GearShifter: tele.GearDrive,
			SeatbeltLatched: true, SteeringAngleDeg: -3.5,
		},
		ControlsState: tele.ControlsState{Enabled: true, Active: true, AlertStatus: tele.AlertNormal},
		DeviceState:   tele.DeviceState{BatteryPercent: 84, ThermalStatus: tele.ThermalGreen},
	}
	b, err := tele.MarshalSnapshot(s)
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Len(t, m, 5)
	for _, key := range []string{"timestamp", "carState", "controlsState", "liveTracks", "deviceState"} {
		assert.Contains(t, m, key)
	}
	assert.Equal(t, "[]", string(m["liveTracks"]))
	assert.Nil(t, s.LiveTracks, "marshal must not modify argument")

	var car map[string]interface{}
	require.NoError(t, json.Unmarshal(m["carState"], &car))
	for _, key := range []string{"vEgo", "vCruise", "gearShifter", "doorOpen", "seatbeltLatched", "steeringAngleDeg"} {
		assert.Contains(t, car, key)
	}

	back, err := tele.UnmarshalSnapshot(b)
	require.NoError(t, err)
	assert.Equal(t, s.CarState, back.CarState)
	assert.Equal(t, s.Timestamp, back.Timestamp)
}

func TestSnapshotClosest(t *testing.T) {
	t.Parallel()
	s := tele.Snapshot{}
	_, ok := s.Closest()
	assert.False(t, ok)

	s.LiveTracks = []tele.Track{{TrackID: 1, DRel: 40}, {TrackID: 2, DRel: 18.5}, {TrackID: 3, DRel: 99}}
	c, ok := s.Closest()
	assert.True(t, ok)
	assert.Equal(t, 2, c.TrackID)

	tele.SortTracks(s.LiveTracks)
	assert.Equal(t, []int{2, 1, 3}, []int{s.LiveTracks[0].TrackID, s.LiveTracks[1].TrackID, s.LiveTracks[2].TrackID})
}

func TestMessageType(t *testing.T) {
	t.Parallel()
	typ, err := tele.MessageType([]byte(`{"type":"auth_success","server_version":"1.0"}`))
	require.NoError(t, err)
	assert.Equal(t, tele.MessageAuthSuccess, typ)
	_, err = tele.MessageType([]byte(`{broken`))
	assert.Error(t, err)
}
