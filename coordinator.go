package olarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// DefaultPollInterval is how often the coordinator refreshes the snapshot.
const DefaultPollInterval = 15 * time.Second

var (
	ErrUnknownController = errors.New("unknown controller")
	ErrUnknownArea       = errors.New("unknown area")
	ErrUnknownZone       = errors.New("unknown zone")
)

// API is the slice of the cloud client the coordinator depends on.
type API interface {
	Device(ctx context.Context, id string) (DevicePayload, error)
	SendAction(ctx context.Context, id, code string, num int) error
}

// Coordinator owns the authoritative snapshot of every tracked controller
// and is the only thing that mutates it. Updates come from three places:
// the poll loop, verified webhooks, and optimistic command results. All
// network I/O happens before the lock is taken, so the lock is only ever
// held for in-memory commits.
type Coordinator struct {
	api       API
	overrides Overrides
	secret    string
	tracked   []string
	interval  time.Duration

	mu        sync.Mutex
	configs   map[string]Controller
	states    map[string]ControllerState
	available bool
	observers []func()
}

func NewCoordinator(api API, overrides Overrides, secret string, tracked []string, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Coordinator{
		api:       api,
		overrides: overrides,
		secret:    secret,
		tracked:   slices.Clone(tracked),
		interval:  interval,
		configs:   map[string]Controller{},
		states:    map[string]ControllerState{},
	}
}

// Subscribe registers an observer called after every snapshot mutation and
// after failed polls. Observers must re-read state through the accessors;
// they are invoked outside the snapshot lock.
func (c *Coordinator) Subscribe(fn func()) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	observers := slices.Clone(c.observers)
	c.mu.Unlock()
	for _, fn := range observers {
		fn()
	}
}

// Run polls until the context is cancelled. The first refresh is expected
// to have happened already, at setup time.
func (c *Coordinator) Run(ctx context.Context) {
	tick := time.NewTicker(c.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := c.Refresh(ctx); err != nil {
				log.Error("poll failed", "err", err)
			}
		}
	}
}

// Refresh fetches and normalizes every tracked controller, then commits the
// whole set at once. On any failure the previous snapshot stays untouched
// and the coordinator reports unavailable until the next successful poll.
func (c *Coordinator) Refresh(ctx context.Context) error {
	configs := make(map[string]Controller, len(c.tracked))
	states := make(map[string]ControllerState, len(c.tracked))

	for _, id := range c.tracked {
		payload, err := c.api.Device(ctx, id)
		if err != nil {
			c.fail()
			return err
		}
		ctrl, state, err := Normalize(payload)
		if err != nil {
			c.fail()
			return fmt.Errorf("could not normalize device %s: %w", id, err)
		}
		configs[id] = ctrl
		states[id] = state
	}

	c.mu.Lock()
	c.configs = configs
	c.states = states
	c.available = true
	c.mu.Unlock()

	log.Debug("snapshot refreshed", "controllers", len(states))
	c.notify()
	return nil
}

func (c *Coordinator) fail() {
	c.mu.Lock()
	c.available = false
	c.mu.Unlock()
	c.notify()
}

// Available reports whether the last poll succeeded. Front ends keep
// showing last-known values while unavailable.
func (c *Coordinator) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available
}

// Controllers returns the static view of every tracked controller, in
// stable id order.
func (c *Coordinator) Controllers() []Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctrls := make([]Controller, 0, len(c.configs))
	for _, ctrl := range c.configs {
		ctrls = append(ctrls, ctrl)
	}
	slices.SortFunc(ctrls, func(a, b Controller) int {
		if a.ID > b.ID {
			return 1
		}
		return -1
	})
	return ctrls
}

func (c *Coordinator) Config(id string) (Controller, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctrl, ok := c.configs[id]
	return ctrl, ok
}

func (c *Coordinator) ControllerStatus(id string) (ConnStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.states[id]
	return state.Status, ok
}

func (c *Coordinator) AreaStatus(id string, area int) (AreaState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.states[id].Alarm.Areas[area]
	return state, ok
}

func (c *Coordinator) ZoneStatus(id string, zone int) (ZoneState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.states[id].Alarm.Zones[zone]
	return state, ok
}

func (c *Coordinator) BatteryOK(id string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.states[id]
	return state.Alarm.BatteryOK, ok
}

func (c *Coordinator) ACOK(id string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.states[id]
	return state.Alarm.ACOK, ok
}

// ArmAway arms an area in away mode.
func (c *Coordinator) ArmAway(ctx context.Context, id string, area int) error {
	return c.armCommand(ctx, id, area, CommandArmAway, AreaStatusArmedAway)
}

// ArmHome arms an area in stay mode.
func (c *Coordinator) ArmHome(ctx context.Context, id string, area int) error {
	return c.armCommand(ctx, id, area, CommandArmStay, AreaStatusArmedHome1)
}

// ArmNight arms an area in sleep mode.
func (c *Coordinator) ArmNight(ctx context.Context, id string, area int) error {
	return c.armCommand(ctx, id, area, CommandArmSleep, AreaStatusArmedHome2)
}

// Disarm disarms an area.
func (c *Coordinator) Disarm(ctx context.Context, id string, area int) error {
	return c.armCommand(ctx, id, area, CommandDisarm, AreaStatusDisarmed)
}

func (c *Coordinator) armCommand(ctx context.Context, id string, area int, cmd Command, optimistic AreaStatus) error {
	c.mu.Lock()
	ctrl, ok := c.configs[id]
	_, areaOK := c.states[id].Alarm.Areas[area]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownController, id)
	}
	if !areaOK {
		return fmt.Errorf("%w: %s area %d", ErrUnknownArea, id, area)
	}

	code := c.overrides.Resolve(ctrl.Make, cmd)
	log.Info("sending command", "controller", id, "area", area, "cmd", cmd, "code", code)
	if err := c.api.SendAction(ctx, id, code, area); err != nil {
		log.Error("command failed", "controller", id, "area", area, "cmd", cmd, "err", err)
		return err
	}

	c.mu.Lock()
	if state, ok := c.states[id].Alarm.Areas[area]; ok {
		state.Status = optimistic
		state.LastChange = time.Now()
		if !optimistic.Triggered() {
			state.TriggerZones = nil
		}
		c.states[id].Alarm.Areas[area] = state
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// ToggleBypass flips a zone between bypassed and not. It reads the current
// status to pick the bypass or unbypass action, so it is a toggle, not an
// idempotent set.
func (c *Coordinator) ToggleBypass(ctx context.Context, id string, zone int) error {
	c.mu.Lock()
	ctrl, ok := c.configs[id]
	state, zoneOK := c.states[id].Alarm.Zones[zone]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownController, id)
	}
	if !zoneOK {
		return fmt.Errorf("%w: %s zone %d", ErrUnknownZone, id, zone)
	}

	cmd := CommandBypass
	optimistic := ZoneStatusBypassed
	if state.Status == ZoneStatusBypassed {
		cmd = CommandUnbypass
		optimistic = ZoneStatusClosed
	}

	code := c.overrides.Resolve(ctrl.Make, cmd)
	log.Info("toggling bypass", "controller", id, "zone", zone, "cmd", cmd, "code", code)
	if err := c.api.SendAction(ctx, id, code, zone); err != nil {
		log.Error("bypass toggle failed", "controller", id, "zone", zone, "err", err)
		return err
	}

	c.mu.Lock()
	if state, ok := c.states[id].Alarm.Zones[zone]; ok {
		state.Status = optimistic
		state.LastChange = time.Now()
		c.states[id].Alarm.Zones[zone] = state
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// HandleWebhook verifies and applies a pushed event. It fails closed: on
// any rejection nothing is mutated and no observer runs. The returned error
// is for the caller's logs only; the HTTP endpoint answers 200 regardless.
func (c *Coordinator) HandleWebhook(body []byte, signature string) error {
	env, err := verifyWebhook(body, signature, c.secret)
	if err != nil {
		return err
	}

	switch ev := parseEvent(env).(type) {
	case zoneAlarmEvent:
		c.mu.Lock()
		state, ok := c.states[ev.device]
		if !ok {
			c.mu.Unlock()
			log.Warn("webhook for untracked controller", "controller", ev.device)
			return nil
		}
		// The event does not carry the zone's area, so every area of the
		// controller goes into alarm. The next poll reconciles.
		for n, area := range state.Alarm.Areas {
			area.Status = AreaStatusAlarm
			area.LastChange = ev.at
			area.TriggerZones = append(area.TriggerZones, ev.zone)
			state.Alarm.Areas[n] = area
		}
		c.mu.Unlock()
		log.Info("zone alarm", "controller", ev.device, "zone", ev.zone)
		c.notify()
	case areaChangeEvent:
		c.mu.Lock()
		state, ok := c.states[ev.device]
		if !ok {
			c.mu.Unlock()
			log.Warn("webhook for untracked controller", "controller", ev.device)
			return nil
		}
		area, ok := state.Alarm.Areas[ev.area]
		if !ok {
			c.mu.Unlock()
			log.Warn("webhook for unknown area", "controller", ev.device, "area", ev.area)
			return nil
		}
		area.Status = ev.status
		area.LastChange = ev.at
		state.Alarm.Areas[ev.area] = area
		c.mu.Unlock()
		log.Info("area changed", "controller", ev.device, "area", ev.area, "status", ev.status)
		c.notify()
	default:
		log.Debug("ignoring webhook event", "action", env.EventAction, "state", env.EventState)
	}
	return nil
}
