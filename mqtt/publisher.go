// Package mqtt mirrors the coordinator snapshot to an MQTT broker so other
// consumers can follow alarm state without speaking HomeKit.
package mqtt

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	olarm "github.com/caarlos0/homekit-olarm"
	logp "github.com/charmbracelet/log"
	paho "github.com/eclipse/paho.mqtt.golang"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "mqtt",
})

const (
	onlinePayload  = "online"
	offlinePayload = "offline"

	publishTimeout = 5 * time.Second
)

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Prefix   string
	QoS      byte
	Retain   bool
}

// Publisher pushes the snapshot to the broker on every coordinator
// notification. All messages are retained so late subscribers see current
// state immediately.
type Publisher struct {
	cfg    Config
	coord  *olarm.Coordinator
	client paho.Client
}

func New(cfg Config, coord *olarm.Coordinator) *Publisher {
	if cfg.Prefix == "" {
		cfg.Prefix = "homekit-olarm"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "homekit-olarm"
	}
	return &Publisher{cfg: cfg, coord: coord}
}

// Connect dials the broker and subscribes to coordinator updates. The
// broker's last-will flips the status topic to offline if we vanish.
func (p *Publisher) Connect() error {
	opts := paho.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(p.cfg.ClientID).
		SetUsername(p.cfg.Username).
		SetPassword(p.cfg.Password).
		SetAutoReconnect(true).
		SetWill(statusTopic(p.cfg.Prefix), offlinePayload, p.cfg.QoS, true).
		SetOnConnectHandler(func(paho.Client) {
			log.Info("connected to broker", "broker", p.cfg.Broker)
			p.publish(statusTopic(p.cfg.Prefix), []byte(onlinePayload))
			p.publishAll()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Error("broker connection lost", "err", err)
		})

	p.client = paho.NewClient(opts)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("could not connect to broker: %w", token.Error())
	}

	p.coord.Subscribe(p.publishAll)
	return nil
}

// Close announces offline and disconnects.
func (p *Publisher) Close() {
	if p.client == nil {
		return
	}
	p.publish(statusTopic(p.cfg.Prefix), []byte(offlinePayload))
	p.client.Disconnect(250)
}

func (p *Publisher) publishAll() {
	if p.client == nil || !p.client.IsConnected() {
		return
	}

	available := p.coord.Available()
	for _, ctrl := range p.coord.Controllers() {
		p.publish(
			availabilityTopic(p.cfg.Prefix, ctrl.ID),
			[]byte(availabilityPayload(available)),
		)

		batt, _ := p.coord.BatteryOK(ctrl.ID)
		ac, _ := p.coord.ACOK(ctrl.ID)
		p.publishJSON(powerTopic(p.cfg.Prefix, ctrl.ID), powerMessage{
			BatteryOK: batt,
			ACOK:      ac,
		})

		for _, area := range ctrl.Areas {
			state, ok := p.coord.AreaStatus(ctrl.ID, area.Number)
			if !ok {
				continue
			}
			p.publishJSON(areaTopic(p.cfg.Prefix, ctrl.ID, area.Number), areaMessage{
				Label:        area.Label,
				Status:       state.Status.String(),
				TriggerZones: state.TriggerZones,
				ChangedAt:    timestamp(state.LastChange),
			})
		}

		for _, zone := range ctrl.Zones {
			state, ok := p.coord.ZoneStatus(ctrl.ID, zone.Number)
			if !ok {
				continue
			}
			p.publishJSON(zoneTopic(p.cfg.Prefix, ctrl.ID, zone.Number), zoneMessage{
				Label:     zone.Label,
				Type:      zone.Type.String(),
				Status:    state.Status.String(),
				ChangedAt: timestamp(state.LastChange),
			})
		}
	}
}

func (p *Publisher) publishJSON(topic string, v any) {
	bts, err := json.Marshal(v)
	if err != nil {
		log.Error("could not encode payload", "topic", topic, "err", err)
		return
	}
	p.publish(topic, bts)
}

func (p *Publisher) publish(topic string, payload []byte) {
	token := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retain, payload)
	if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
		log.Error("could not publish", "topic", topic, "err", token.Error())
	}
}

type areaMessage struct {
	Label        string `json:"label"`
	Status       string `json:"status"`
	TriggerZones []int  `json:"trigger_zones,omitempty"`
	ChangedAt    int64  `json:"changed_at,omitempty"`
}

type zoneMessage struct {
	Label     string `json:"label"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	ChangedAt int64  `json:"changed_at,omitempty"`
}

type powerMessage struct {
	BatteryOK bool `json:"battery_ok"`
	ACOK      bool `json:"ac_ok"`
}

func availabilityPayload(available bool) string {
	if available {
		return onlinePayload
	}
	return offlinePayload
}

func timestamp(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func statusTopic(prefix string) string {
	return prefix + "/status"
}

func availabilityTopic(prefix, id string) string {
	return fmt.Sprintf("%s/%s/availability", prefix, id)
}

func powerTopic(prefix, id string) string {
	return fmt.Sprintf("%s/%s/power", prefix, id)
}

func areaTopic(prefix, id string, area int) string {
	return fmt.Sprintf("%s/%s/area/%d", prefix, id, area)
}

func zoneTopic(prefix, id string, zone int) string {
	return fmt.Sprintf("%s/%s/zone/%d", prefix, id, zone)
}
