package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	olarm "github.com/caarlos0/homekit-olarm"
)

const commandTimeout = 15 * time.Second

// AreaPanel exposes one alarm area as a HomeKit security system.
type AreaPanel struct {
	*accessory.A
	SecuritySystem *service.SecuritySystem

	coord        *olarm.Coordinator
	controllerID string
	area         int
}

func newAreaPanel(coord *olarm.Coordinator, ctrl olarm.Controller, area olarm.AreaConfig) *AreaPanel {
	a := &AreaPanel{
		coord:        coord,
		controllerID: ctrl.ID,
		area:         area.Number,
	}
	a.A = accessory.New(accessory.Info{
		Name:         fmt.Sprintf("%s %s", ctrl.Label, area.Label),
		SerialNumber: fmt.Sprintf("%s-area-%d", ctrl.SerialNumber, area.Number),
		Manufacturer: manufacturer,
		Model:        ctrl.MakeDetail,
		Firmware:     ctrl.Firmware,
	}, accessory.TypeSecuritySystem)

	a.SecuritySystem = service.NewSecuritySystem()
	a.AddS(a.SecuritySystem.S)

	a.SecuritySystem.SecuritySystemTargetState.SetValueRequestFunc = a.targetStateHandler

	return a
}

func (a *AreaPanel) targetStateHandler(
	v interface{},
	_ *http.Request,
) (response interface{}, code int) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch v.(int) {
	case characteristic.SecuritySystemTargetStateAwayArm:
		err = a.coord.ArmAway(ctx, a.controllerID, a.area)
	case characteristic.SecuritySystemTargetStateStayArm:
		err = a.coord.ArmHome(ctx, a.controllerID, a.area)
	case characteristic.SecuritySystemTargetStateNightArm:
		err = a.coord.ArmNight(ctx, a.controllerID, a.area)
	case characteristic.SecuritySystemTargetStateDisarm:
		err = a.coord.Disarm(ctx, a.controllerID, a.area)
	default:
		return nil, hap.JsonStatusResourceDoesNotExist
	}
	if err != nil {
		log.Error(
			"command failed",
			"controller", a.controllerID,
			"area", a.area,
			"target", v,
			"err", err,
		)
		return nil, hap.JsonStatusResourceBusy
	}
	return nil, hap.JsonStatusSuccess
}

// Update pulls the area's latest state from the coordinator.
func (a *AreaPanel) Update() {
	state, ok := a.coord.AreaStatus(a.controllerID, a.area)
	if !ok {
		return
	}

	current := hapSecurityState(state.Status)
	armStateGauge.WithLabelValues(a.controllerID, fmt.Sprint(a.area)).
		Set(float64(state.Status))
	if current < 0 {
		return
	}

	if a.SecuritySystem.SecuritySystemCurrentState.Value() != current {
		err := a.SecuritySystem.SecuritySystemCurrentState.SetValue(current)
		log.Info("set current state",
			"controller", a.controllerID,
			"area", a.area,
			"status", state.Status,
			"err", err,
		)
	}
}

// hapSecurityState maps an area status to the HomeKit current-state code.
// Countdown has no HomeKit equivalent, so we hold the previous state until
// the panel settles (-1 means leave as is).
func hapSecurityState(status olarm.AreaStatus) int {
	switch status {
	case olarm.AreaStatusNotReady, olarm.AreaStatusDisarmed:
		return characteristic.SecuritySystemCurrentStateDisarmed
	case olarm.AreaStatusArmedAway:
		return characteristic.SecuritySystemCurrentStateAwayArm
	case olarm.AreaStatusArmedHome1, olarm.AreaStatusArmedHome3, olarm.AreaStatusArmedHome4:
		return characteristic.SecuritySystemCurrentStateStayArm
	case olarm.AreaStatusArmedHome2:
		// sleep mode
		return characteristic.SecuritySystemCurrentStateNightArm
	case olarm.AreaStatusAlarm, olarm.AreaStatusFire, olarm.AreaStatusEmergency:
		return characteristic.SecuritySystemCurrentStateAlarmTriggered
	default:
		return -1
	}
}
