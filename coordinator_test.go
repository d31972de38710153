package olarm

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sentAction struct {
	id   string
	code string
	num  int
}

type fakeAPI struct {
	payloads  map[string]DevicePayload
	deviceErr error
	actionErr error
	actions   []sentAction

	// when set, Device announces itself on fetching and then blocks until
	// proceed closes, so tests can suspend a poll mid-flight
	fetching chan struct{}
	proceed  chan struct{}
}

func (f *fakeAPI) Device(_ context.Context, id string) (DevicePayload, error) {
	if f.fetching != nil {
		f.fetching <- struct{}{}
		<-f.proceed
	}
	if f.deviceErr != nil {
		return DevicePayload{}, f.deviceErr
	}
	payload, ok := f.payloads[id]
	if !ok {
		return DevicePayload{}, ErrConnection
	}
	return payload, nil
}

func (f *fakeAPI) SendAction(_ context.Context, id, code string, num int) error {
	if f.actionErr != nil {
		return f.actionErr
	}
	f.actions = append(f.actions, sentAction{id, code, num})
	return nil
}

// three areas so broadcast behaviour is observable
func testPayloadThreeAreas() DevicePayload {
	payload := testPayload()
	payload.Profile.AreasLimit = 3
	payload.Profile.AreasLabels = append(payload.Profile.AreasLabels, "Cottage")
	payload.State.Areas = append(payload.State.Areas, "stay")
	payload.State.AreasDetail = append(payload.State.AreasDetail, []any{})
	payload.State.AreasStamp = append(payload.State.AreasStamp, 0)
	return payload
}

func testCoordinator(t *testing.T, api *fakeAPI) *Coordinator {
	t.Helper()
	c := NewCoordinator(api, DefaultOverrides(), testSecret, []string{"dev-1"}, time.Minute)
	require.NoError(t, c.Refresh(context.Background()))
	return c
}

func webhookBody(t *testing.T, action, state string, num int) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"deviceId":    "dev-1",
		"eventAction": action,
		"eventState":  state,
		"eventNum":    num,
		"eventTime":   1700000005000,
		"eventMsg":    "",
	})
	require.NoError(t, err)
	return body, signBody(t, body, testSecret)
}

func TestCoordinatorRefresh(t *testing.T) {
	api := &fakeAPI{payloads: map[string]DevicePayload{"dev-1": testPayloadThreeAreas()}}
	c := testCoordinator(t, api)

	require.True(t, c.Available())

	ctrls := c.Controllers()
	require.Len(t, ctrls, 1)
	require.Equal(t, "dev-1", ctrls[0].ID)
	require.Len(t, ctrls[0].Areas, 3)

	status, ok := c.ControllerStatus("dev-1")
	require.True(t, ok)
	require.Equal(t, ConnStatusOnline, status)

	area, ok := c.AreaStatus("dev-1", 3)
	require.True(t, ok)
	require.Equal(t, AreaStatusArmedHome1, area.Status)

	zone, ok := c.ZoneStatus("dev-1", 2)
	require.True(t, ok)
	require.Equal(t, ZoneStatusActive, zone.Status)

	batt, ok := c.BatteryOK("dev-1")
	require.True(t, ok)
	require.False(t, batt)

	ac, ok := c.ACOK("dev-1")
	require.True(t, ok)
	require.True(t, ac)

	t.Run("unknown controller", func(t *testing.T) {
		_, ok := c.Config("nope")
		require.False(t, ok)
		_, ok = c.AreaStatus("nope", 1)
		require.False(t, ok)
		_, ok = c.ZoneStatus("dev-1", 99)
		require.False(t, ok)
	})
}

func TestCoordinatorPollFailure(t *testing.T) {
	api := &fakeAPI{payloads: map[string]DevicePayload{"dev-1": testPayloadThreeAreas()}}
	c := testCoordinator(t, api)

	var notifies int
	c.Subscribe(func() { notifies++ })

	before, ok := c.AreaStatus("dev-1", 1)
	require.True(t, ok)

	api.deviceErr = ErrConnection
	require.ErrorIs(t, c.Refresh(context.Background()), ErrConnection)
	require.False(t, c.Available())
	require.Equal(t, 1, notifies, "failed poll still signals observers")

	after, ok := c.AreaStatus("dev-1", 1)
	require.True(t, ok)
	require.Equal(t, before, after, "failed poll must not touch the snapshot")

	// next poll replaces the snapshot wholesale
	api.deviceErr = nil
	payload := testPayloadThreeAreas()
	payload.State.Areas[0] = "arm"
	api.payloads["dev-1"] = payload
	require.NoError(t, c.Refresh(context.Background()))
	require.True(t, c.Available())
	require.Equal(t, 2, notifies)

	area, ok := c.AreaStatus("dev-1", 1)
	require.True(t, ok)
	require.Equal(t, AreaStatusArmedAway, area.Status)
}

func TestCoordinatorMalformedPoll(t *testing.T) {
	payload := testPayloadThreeAreas()
	payload.State.Zones = nil
	api := &fakeAPI{payloads: map[string]DevicePayload{"dev-1": payload}}
	c := NewCoordinator(api, DefaultOverrides(), testSecret, []string{"dev-1"}, time.Minute)

	require.ErrorIs(t, c.Refresh(context.Background()), ErrMalformedPayload)
	require.False(t, c.Available())
}

func TestCoordinatorWebhookZoneAlarmBroadcast(t *testing.T) {
	api := &fakeAPI{payloads: map[string]DevicePayload{"dev-1": testPayloadThreeAreas()}}
	c := testCoordinator(t, api)

	var notifies int
	c.Subscribe(func() { notifies++ })

	zonesBefore := map[int]ZoneState{}
	for n := 1; n <= 3; n++ {
		zone, ok := c.ZoneStatus("dev-1", n)
		require.True(t, ok)
		zonesBefore[n] = zone
	}

	body, sig := webhookBody(t, "zone_alarm", "alarm", 5)
	require.NoError(t, c.HandleWebhook(body, sig))
	require.Equal(t, 1, notifies, "one notification per webhook, not per area")

	for n := 1; n <= 3; n++ {
		area, ok := c.AreaStatus("dev-1", n)
		require.True(t, ok)
		require.Equal(t, AreaStatusAlarm, area.Status, "area %d", n)
		require.Contains(t, area.TriggerZones, 5, "area %d", n)
		require.Equal(t, time.UnixMilli(1700000005000), area.LastChange, "area %d", n)
	}

	// zones stay exactly as they were
	for n, before := range zonesBefore {
		zone, ok := c.ZoneStatus("dev-1", n)
		require.True(t, ok)
		require.Equal(t, before, zone)
	}
}

func TestCoordinatorWebhookAreaEvent(t *testing.T) {
	api := &fakeAPI{payloads: map[string]DevicePayload{"dev-1": testPayloadThreeAreas()}}
	c := testCoordinator(t, api)

	area1Before, _ := c.AreaStatus("dev-1", 1)
	area3Before, _ := c.AreaStatus("dev-1", 3)

	body, sig := webhookBody(t, "area", "stayarm1", 2)
	require.NoError(t, c.HandleWebhook(body, sig))

	area, ok := c.AreaStatus("dev-1", 2)
	require.True(t, ok)
	require.Equal(t, AreaStatusArmedHome1, area.Status)
	require.Equal(t, time.UnixMilli(1700000005000), area.LastChange)

	area1After, _ := c.AreaStatus("dev-1", 1)
	area3After, _ := c.AreaStatus("dev-1", 3)
	require.Equal(t, area1Before, area1After)
	require.Equal(t, area3Before, area3After)
}

func TestCoordinatorWebhookRejection(t *testing.T) {
	api := &fakeAPI{payloads: map[string]DevicePayload{"dev-1": testPayloadThreeAreas()}}
	c := testCoordinator(t, api)

	var notifies int
	c.Subscribe(func() { notifies++ })

	body, sig := webhookBody(t, "area", "disarm", 2)

	t.Run("bad signature", func(t *testing.T) {
		// flip one byte of the deviceId value, keeping the JSON valid
		tampered := append([]byte{}, body...)
		tampered[13] ^= 1
		require.ErrorIs(t, c.HandleWebhook(tampered, sig), ErrSignatureMismatch)
	})

	t.Run("unknown area number", func(t *testing.T) {
		body, sig := webhookBody(t, "area", "disarm", 9)
		require.NoError(t, c.HandleWebhook(body, sig))
		_, ok := c.AreaStatus("dev-1", 9)
		require.False(t, ok, "webhook must not introduce new areas")
	})

	t.Run("unrecognized event", func(t *testing.T) {
		body, sig := webhookBody(t, "pgm", "open", 1)
		require.NoError(t, c.HandleWebhook(body, sig))
	})

	require.Zero(t, notifies, "rejected or ignored webhooks must not notify")

	area, ok := c.AreaStatus("dev-1", 2)
	require.True(t, ok)
	require.Equal(t, AreaStatusArmedAway, area.Status, "snapshot untouched")
}

func TestCoordinatorWebhookUntrackedDevice(t *testing.T) {
	api := &fakeAPI{payloads: map[string]DevicePayload{"dev-1": testPayloadThreeAreas()}}
	c := testCoordinator(t, api)

	body, err := json.Marshal(map[string]any{
		"deviceId":    "dev-9",
		"eventAction": "zone_alarm",
		"eventState":  "alarm",
		"eventNum":    1,
		"eventTime":   1,
		"eventMsg":    "",
	})
	require.NoError(t, err)
	require.NoError(t, c.HandleWebhook(body, signBody(t, body, testSecret)))

	area, ok := c.AreaStatus("dev-1", 1)
	require.True(t, ok)
	require.Equal(t, AreaStatusDisarmed, area.Status)
}

func TestCoordinatorArmCommands(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{payloads: map[string]DevicePayload{"dev-1": testPayloadThreeAreas()}}
	c := testCoordinator(t, api)

	var notifies int
	c.Subscribe(func() { notifies++ })

	require.NoError(t, c.ArmAway(ctx, "dev-1", 1))
	require.NoError(t, c.ArmHome(ctx, "dev-1", 1))
	require.NoError(t, c.ArmNight(ctx, "dev-1", 1))
	require.NoError(t, c.Disarm(ctx, "dev-1", 1))

	// ids_x64 arms sleep via its second stay profile
	require.Equal(t, []sentAction{
		{"dev-1", "area-arm", 1},
		{"dev-1", "area-stay", 1},
		{"dev-1", "area-stay-2", 1},
		{"dev-1", "area-disarm", 1},
	}, api.actions)
	require.Equal(t, 4, notifies)

	area, ok := c.AreaStatus("dev-1", 1)
	require.True(t, ok)
	require.Equal(t, AreaStatusDisarmed, area.Status)
	require.False(t, area.LastChange.IsZero())

	t.Run("unknown targets", func(t *testing.T) {
		require.ErrorIs(t, c.ArmAway(ctx, "dev-9", 1), ErrUnknownController)
		require.ErrorIs(t, c.ArmAway(ctx, "dev-1", 9), ErrUnknownArea)
	})

	t.Run("rejected action leaves state alone", func(t *testing.T) {
		api.actionErr = ErrActionRejected
		before, _ := c.AreaStatus("dev-1", 2)
		require.ErrorIs(t, c.ArmAway(ctx, "dev-1", 2), ErrActionRejected)
		after, _ := c.AreaStatus("dev-1", 2)
		require.Equal(t, before, after)
	})
}

func TestCoordinatorToggleBypass(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{payloads: map[string]DevicePayload{"dev-1": testPayloadThreeAreas()}}
	c := testCoordinator(t, api)

	// zone 2 is active: toggling bypasses it
	require.NoError(t, c.ToggleBypass(ctx, "dev-1", 2))
	require.Equal(t, []sentAction{{"dev-1", "zone-bypass", 2}}, api.actions)
	zone, _ := c.ZoneStatus("dev-1", 2)
	require.Equal(t, ZoneStatusBypassed, zone.Status)

	// now bypassed: toggling unbypasses, which on ids_x64 is the same
	// wire action
	require.NoError(t, c.ToggleBypass(ctx, "dev-1", 2))
	require.Equal(t, sentAction{"dev-1", "zone-bypass", 2}, api.actions[1])
	zone, _ = c.ZoneStatus("dev-1", 2)
	require.Equal(t, ZoneStatusClosed, zone.Status)

	t.Run("closed zone gets bypassed too", func(t *testing.T) {
		require.NoError(t, c.ToggleBypass(ctx, "dev-1", 1))
		zone, _ := c.ZoneStatus("dev-1", 1)
		require.Equal(t, ZoneStatusBypassed, zone.Status)
	})

	t.Run("unknown zone", func(t *testing.T) {
		require.ErrorIs(t, c.ToggleBypass(ctx, "dev-1", 42), ErrUnknownZone)
	})

	t.Run("api failure leaves status alone", func(t *testing.T) {
		api.actionErr = ErrConnection
		before, _ := c.ZoneStatus("dev-1", 3)
		require.ErrorIs(t, c.ToggleBypass(ctx, "dev-1", 3), ErrConnection)
		after, _ := c.ZoneStatus("dev-1", 3)
		require.Equal(t, before, after)
	})
}

func TestCoordinatorLastWriteWins(t *testing.T) {
	api := &fakeAPI{payloads: map[string]DevicePayload{"dev-1": testPayloadThreeAreas()}}
	c := testCoordinator(t, api)

	// webhook lands after a poll: webhook wins
	body, sig := webhookBody(t, "area", "stayarm2", 1)
	require.NoError(t, c.HandleWebhook(body, sig))
	area, _ := c.AreaStatus("dev-1", 1)
	require.Equal(t, AreaStatusArmedHome2, area.Status)

	// poll lands after the webhook: poll wins, trigger history included
	require.NoError(t, c.Refresh(context.Background()))
	area, _ = c.AreaStatus("dev-1", 1)
	require.Equal(t, AreaStatusDisarmed, area.Status)
}

func TestCoordinatorLastWriteWinsInterleaved(t *testing.T) {
	api := &fakeAPI{payloads: map[string]DevicePayload{"dev-1": testPayloadThreeAreas()}}
	c := testCoordinator(t, api)

	t.Run("webhook during in-flight poll loses to the poll commit", func(t *testing.T) {
		api.fetching = make(chan struct{})
		api.proceed = make(chan struct{})

		done := make(chan error, 1)
		go func() { done <- c.Refresh(context.Background()) }()
		<-api.fetching // poll is suspended inside the fetch

		body, sig := webhookBody(t, "area", "stayarm2", 1)
		require.NoError(t, c.HandleWebhook(body, sig))
		area, _ := c.AreaStatus("dev-1", 1)
		require.Equal(t, AreaStatusArmedHome2, area.Status)

		close(api.proceed)
		require.NoError(t, <-done)

		// the poll commits last, its snapshot replaces the webhook delta
		area, _ = c.AreaStatus("dev-1", 1)
		require.Equal(t, AreaStatusDisarmed, area.Status)
	})

	t.Run("webhook after the poll commit wins", func(t *testing.T) {
		api.fetching = make(chan struct{})
		api.proceed = make(chan struct{})

		done := make(chan error, 1)
		go func() { done <- c.Refresh(context.Background()) }()
		<-api.fetching
		close(api.proceed)
		require.NoError(t, <-done)

		body, sig := webhookBody(t, "area", "stayarm1", 1)
		require.NoError(t, c.HandleWebhook(body, sig))
		area, _ := c.AreaStatus("dev-1", 1)
		require.Equal(t, AreaStatusArmedHome1, area.Status)
	})
}
