package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/service"
	olarm "github.com/caarlos0/homekit-olarm"
)

// ZoneSensor exposes a single zone as either a motion or a contact sensor,
// plus a switch to bypass it. The switch reads "on" while the zone is armed
// normally and "off" while bypassed.
type ZoneSensor struct {
	*accessory.A
	Motion  *service.MotionSensor
	Contact *service.ContactSensor
	Bypass  *service.Switch

	coord        *olarm.Coordinator
	controllerID string
	zone         int
}

func newZoneSensor(coord *olarm.Coordinator, ctrl olarm.Controller, zone olarm.ZoneConfig, motion bool) *ZoneSensor {
	s := &ZoneSensor{
		coord:        coord,
		controllerID: ctrl.ID,
		zone:         zone.Number,
	}
	s.A = accessory.New(accessory.Info{
		Name:         zone.Label,
		SerialNumber: fmt.Sprintf("%s-zone-%d", ctrl.SerialNumber, zone.Number),
		Manufacturer: manufacturer,
		Model:        zone.Type.String(),
		Firmware:     ctrl.Firmware,
	}, accessory.TypeSensor)

	if motion {
		s.Motion = service.NewMotionSensor()
		s.AddS(s.Motion.S)
	} else {
		s.Contact = service.NewContactSensor()
		s.AddS(s.Contact.S)
	}

	s.Bypass = service.NewSwitch()
	s.Bypass.On.SetValue(true)
	s.Bypass.On.SetValueRequestFunc = s.bypassHandler
	s.AddS(s.Bypass.S)

	return s
}

func (s *ZoneSensor) bypassHandler(
	value interface{},
	_ *http.Request,
) (response interface{}, code int) {
	v := value.(bool)
	state, ok := s.coord.ZoneStatus(s.controllerID, s.zone)
	if !ok {
		return nil, hap.JsonStatusResourceDoesNotExist
	}
	if v != (state.Status == olarm.ZoneStatusBypassed) {
		// already where the user wants it
		return nil, hap.JsonStatusSuccess
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	log.Info("set zone bypass", "controller", s.controllerID, "zone", s.zone, "bypass", !v)
	if err := s.coord.ToggleBypass(ctx, s.controllerID, s.zone); err != nil {
		log.Error("failed to set bypass",
			"controller", s.controllerID,
			"zone", s.zone,
			"err", err,
		)
		return nil, hap.JsonStatusResourceBusy
	}
	return nil, hap.JsonStatusSuccess
}

// Update pulls the zone's latest state from the coordinator.
func (s *ZoneSensor) Update() {
	state, ok := s.coord.ZoneStatus(s.controllerID, s.zone)
	if !ok {
		return
	}

	open := state.Status == olarm.ZoneStatusActive
	bypassed := state.Status == olarm.ZoneStatusBypassed

	labels := []string{s.controllerID, fmt.Sprint(s.zone)}
	openGauge.WithLabelValues(labels...).Set(boolAs[float64](open))
	bypassedGauge.WithLabelValues(labels...).Set(boolAs[float64](bypassed))

	if s.Bypass.On.Value() == bypassed {
		log.Info("bypass", "controller", s.controllerID, "zone", s.zone, "status", bypassed)
		s.Bypass.On.SetValue(!bypassed)
	}

	if s.Motion != nil {
		if s.Motion.MotionDetected.Value() != open {
			s.Motion.MotionDetected.SetValue(open)
			log.Info("motion", "controller", s.controllerID, "zone", s.zone, "open", open)
		}
		return
	}

	current := boolAs[int](open)
	if s.Contact.ContactSensorState.Value() != current {
		_ = s.Contact.ContactSensorState.SetValue(current)
		log.Info("contact", "controller", s.controllerID, "zone", s.zone, "open", open)
	}
}
