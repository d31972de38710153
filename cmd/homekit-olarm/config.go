package main

import (
	"time"

	olarm "github.com/caarlos0/homekit-olarm"
	"golang.org/x/exp/slices"
)

type Config struct {
	Token         string        `env:"TOKEN,required"`
	BaseURL       string        `env:"BASE_URL"`
	Devices       []string      `env:"DEVICES"`
	PollInterval  time.Duration `env:"POLL_INTERVAL"  envDefault:"15s"`
	Timeout       time.Duration `env:"TIMEOUT"        envDefault:"10s"`
	WebhookSecret string        `env:"WEBHOOK_SECRET"`
	OverridesFile string        `env:"OVERRIDES_FILE"`
	Address       string        `env:"LISTEN"         envDefault:":9010"`

	// Override the sensor kind derived from the vendor zone type.
	MotionZones  []int `env:"MOTION_ZONES"`
	ContactZones []int `env:"CONTACT_ZONES"`

	MQTTBroker   string `env:"MQTT_BROKER"`
	MQTTUsername string `env:"MQTT_USERNAME"`
	MQTTPassword string `env:"MQTT_PASSWORD"`
	MQTTPrefix   string `env:"MQTT_PREFIX"   envDefault:"homekit-olarm"`
}

func (c Config) motionZone(zone olarm.ZoneConfig) bool {
	if slices.Contains(c.ContactZones, zone.Number) {
		return false
	}
	if slices.Contains(c.MotionZones, zone.Number) {
		return true
	}
	return zone.Type.Motion()
}

// trackedDevices picks which account devices to follow: the configured ids,
// or every alarm the account has when none are configured. Order follows
// the account listing so accessory ids stay stable.
func (c Config) trackedDevices(list olarm.DeviceList) []string {
	var ids []string
	for _, device := range list.Data {
		if len(c.Devices) > 0 && !slices.Contains(c.Devices, device.DeviceID) {
			continue
		}
		ids = append(ids, device.DeviceID)
	}
	return ids
}
