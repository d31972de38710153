package main

import (
	"fmt"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	olarm "github.com/caarlos0/homekit-olarm"
)

// PowerSensor reports a controller's mains supply as a contact sensor, with
// the panel battery surfaced through the low battery characteristic. The
// contact reads open while AC is down.
type PowerSensor struct {
	*accessory.A
	Contact    *service.ContactSensor
	LowBattery *characteristic.StatusLowBattery

	coord        *olarm.Coordinator
	controllerID string
}

func newPowerSensor(coord *olarm.Coordinator, ctrl olarm.Controller) *PowerSensor {
	s := &PowerSensor{
		coord:        coord,
		controllerID: ctrl.ID,
	}
	s.A = accessory.New(accessory.Info{
		Name:         fmt.Sprintf("%s Power", ctrl.Label),
		SerialNumber: fmt.Sprintf("%s-power", ctrl.SerialNumber),
		Manufacturer: manufacturer,
		Model:        ctrl.MakeDetail,
		Firmware:     ctrl.Firmware,
	}, accessory.TypeSensor)

	s.Contact = service.NewContactSensor()
	s.LowBattery = characteristic.NewStatusLowBattery()
	s.Contact.AddC(s.LowBattery.C)
	s.AddS(s.Contact.S)

	return s
}

// Update pulls the controller's latest power state from the coordinator.
func (s *PowerSensor) Update() {
	ac, ok := s.coord.ACOK(s.controllerID)
	if !ok {
		return
	}
	batt, _ := s.coord.BatteryOK(s.controllerID)

	current := boolAs[int](!ac)
	if s.Contact.ContactSensorState.Value() != current {
		_ = s.Contact.ContactSensorState.SetValue(current)
		log.Info("mains power", "controller", s.controllerID, "ok", ac)
	}

	lowBatt := boolAs[int](!batt)
	if s.LowBattery.Value() != lowBatt {
		_ = s.LowBattery.SetValue(lowBatt)
		log.Info("battery", "controller", s.controllerID, "ok", batt)
	}
}
