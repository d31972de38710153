package olarm

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedPayload is returned when a device payload declares more zones
// or areas than its parallel arrays actually carry.
var ErrMalformedPayload = errors.New("malformed device payload")

// Normalize flattens a raw device payload into the static (Controller) and
// live (ControllerState) views in a single pass. Zone and area counts come
// from the declared limits, never from array lengths, and numbers are
// 1-based (vendor position + 1).
func Normalize(payload DevicePayload) (Controller, ControllerState, error) {
	nzones := payload.Profile.ZonesLimit
	nareas := payload.Profile.AreasLimit

	if err := checkLen("zonesLabels", len(payload.Profile.ZonesLabels), nzones); err != nil {
		return Controller{}, ControllerState{}, err
	}
	if err := checkLen("zonesTypes", len(payload.Profile.ZonesTypes), nzones); err != nil {
		return Controller{}, ControllerState{}, err
	}
	if err := checkLen("zones", len(payload.State.Zones), nzones); err != nil {
		return Controller{}, ControllerState{}, err
	}
	if err := checkLen("zonesStamp", len(payload.State.ZonesStamp), nzones); err != nil {
		return Controller{}, ControllerState{}, err
	}
	if err := checkLen("areasLabels", len(payload.Profile.AreasLabels), nareas); err != nil {
		return Controller{}, ControllerState{}, err
	}
	if err := checkLen("areas", len(payload.State.Areas), nareas); err != nil {
		return Controller{}, ControllerState{}, err
	}
	if err := checkLen("areasDetail", len(payload.State.AreasDetail), nareas); err != nil {
		return Controller{}, ControllerState{}, err
	}
	if err := checkLen("areasStamp", len(payload.State.AreasStamp), nareas); err != nil {
		return Controller{}, ControllerState{}, err
	}

	ctrl := Controller{
		ID:           payload.DeviceID,
		Label:        payload.DeviceName,
		SerialNumber: payload.DeviceSerial,
		Make:         payload.DeviceAlarmType,
		MakeDetail:   payload.DeviceAlarmTypeDetail,
		Firmware:     payload.DeviceFirmware,
		Zones:        make([]ZoneConfig, 0, nzones),
		Areas:        make([]AreaConfig, 0, nareas),
	}

	state := ControllerState{
		Timezone: payload.DeviceTimezone,
		Firmware: payload.DeviceFirmware,
		Alarm: AlarmState{
			Zones:     make(map[int]ZoneState, nzones),
			Areas:     make(map[int]AreaState, nareas),
			BatteryOK: payload.State.Power.Batt == "1",
			ACOK:      payload.State.Power.AC == "1",
		},
	}

	conn, ok := parseConnStatus(payload.DeviceStatus)
	if !ok {
		log.Warn("unrecognized device status", "device", payload.DeviceID, "status", payload.DeviceStatus)
	}
	state.Status = conn

	for i := 0; i < nzones; i++ {
		n := i + 1
		ctrl.Zones = append(ctrl.Zones, ZoneConfig{
			Number: n,
			Label:  payload.Profile.ZonesLabels[i],
			Type:   ZoneType(payload.Profile.ZonesTypes[i]),
		})

		status, ok := parseZoneStatus(payload.State.Zones[i])
		if !ok {
			log.Warn("unrecognized zone status", "device", payload.DeviceID, "zone", n, "status", payload.State.Zones[i])
		}
		state.Alarm.Zones[n] = ZoneState{
			Status:     status,
			LastChange: stampToTime(payload.State.ZonesStamp[i]),
		}
	}

	for i := 0; i < nareas; i++ {
		n := i + 1
		ctrl.Areas = append(ctrl.Areas, AreaConfig{
			Number: n,
			Label:  payload.Profile.AreasLabels[i],
		})

		status, ok := parseAreaStatus(payload.State.Areas[i])
		if !ok {
			log.Warn("unrecognized area status", "device", payload.DeviceID, "area", n, "status", payload.State.Areas[i])
		}
		state.Alarm.Areas[n] = AreaState{
			Status:       status,
			TriggerZones: triggerZones(payload.State.AreasDetail[i]),
			LastChange:   stampToTime(payload.State.AreasStamp[i]),
		}
	}

	return ctrl, state, nil
}

func checkLen(field string, got, want int) error {
	if got < want {
		return fmt.Errorf("%w: %s has %d entries, limit declares %d", ErrMalformedPayload, field, got, want)
	}
	return nil
}

// triggerZones decodes an areasDetail entry. The cloud is inconsistent here
// and sends zone numbers either as strings or as numbers.
func triggerZones(raw []any) []int {
	zones := make([]int, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			zones = append(zones, int(n))
		case string:
			z, err := strconv.Atoi(n)
			if err != nil {
				log.Warn("unparseable trigger zone", "value", n)
				continue
			}
			zones = append(zones, z)
		}
	}
	return zones
}
