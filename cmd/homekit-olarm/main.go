package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/caarlos0/env/v11"
	olarm "github.com/caarlos0/homekit-olarm"
	"github.com/caarlos0/homekit-olarm/mqtt"
	"github.com/cenkalti/backoff/v4"
	logp "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "homekit",
})

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const manufacturer = "Olarm"

func main() {
	log.Info(
		"homekit-olarm",
		"version", version,
		"commit", commit,
		"date", date,
		"info", strings.Join([]string{
			"Homekit bridge for Olarm connected alarm systems",
			"© Carlos Alexandro Becker",
			"https://becker.software",
		}, "\n"),
	)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal(
			"could not parse env",
			"err",
			strings.TrimPrefix(strings.ReplaceAll(err.Error(), "; ", "\n"), "env: ")+"\n",
		)
	}

	overrides, err := olarm.LoadOverrides(cfg.OverridesFile)
	if err != nil {
		log.Fatal("could not load action overrides", "err", err)
	}

	api := olarm.New(cfg.BaseURL, cfg.Token, cfg.Timeout)

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = time.Second * 5
	bo.MaxElapsedTime = time.Minute

	var list olarm.DeviceList
	if err := backoff.RetryNotify(func() error {
		requestCounter.Inc()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()
		var err error
		list, err = api.Devices(ctx)
		if err != nil {
			requestErrorCounter.Inc()
			if errors.Is(err, olarm.ErrAuth) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, bo, func(err error, _ time.Duration) {
		log.Error("could not list devices", "err", err)
	}); err != nil {
		log.Fatal("could not reach the cloud", "err", err)
	}

	tracked := cfg.trackedDevices(list)
	if len(tracked) == 0 {
		log.Fatal("no devices to track", "account", list.UserID)
	}
	log.Info("tracking devices", "user", list.UserID, "devices", tracked)

	coord := olarm.NewCoordinator(
		instrumentedAPI{api},
		overrides,
		cfg.WebhookSecret,
		tracked,
		cfg.PollInterval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coord.Refresh(ctx); err != nil {
		log.Fatal("could not load initial state", "err", err)
	}

	bridge := accessory.NewBridge(accessory.Info{
		Name:         "Olarm Bridge",
		Manufacturer: manufacturer,
		Firmware:     version,
	})

	var panels []*AreaPanel
	var sensors []*ZoneSensor
	var power []*PowerSensor
	for _, ctrl := range coord.Controllers() {
		log.Info(
			"got alarm system information",
			"controller", ctrl.ID,
			"make", ctrl.Make,
			"model", ctrl.MakeDetail,
			"version", ctrl.Firmware,
			"areas", len(ctrl.Areas),
			"zones", len(ctrl.Zones),
		)
		for _, area := range ctrl.Areas {
			panels = append(panels, newAreaPanel(coord, ctrl, area))
		}
		for _, zone := range ctrl.Zones {
			sensors = append(sensors, newZoneSensor(coord, ctrl, zone, cfg.motionZone(zone)))
		}
		power = append(power, newPowerSensor(coord, ctrl))
	}

	updateAll := func() {
		availableGauge.Set(boolAs[float64](coord.Available()))
		for _, a := range panels {
			a.Update()
		}
		for _, s := range sensors {
			s.Update()
		}
		for _, p := range power {
			p.Update()
		}
	}
	coord.Subscribe(updateAll)
	updateAll()

	if cfg.MQTTBroker != "" {
		pub := mqtt.New(mqtt.Config{
			Broker:   cfg.MQTTBroker,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Prefix:   cfg.MQTTPrefix,
			Retain:   true,
		}, coord)
		if err := pub.Connect(); err != nil {
			log.Fatal("could not connect to mqtt broker", "err", err)
		}
		defer pub.Close()
	}

	fs := hap.NewFsStore("./db")

	server, err := hap.NewServer(fs, bridge.A, bridgedAccessories(panels, sensors, power)...)
	if err != nil {
		log.Fatal("fail to create server", "error", err)
	}
	server.Addr = cfg.Address
	server.ServeMux().Handle("/metrics", promhttp.Handler())
	server.ServeMux().Handle("/webhook/olarm", webhookHandler(coord))
	server.ServeMux().Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !coord.Available() {
			http.Error(w, "cloud unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	}))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)

	go func() {
		<-c
		log.Info("stopping server")
		signal.Stop(c)
		cancel()
	}()

	go coord.Run(ctx)

	log.Info("starting server", "addr", server.Addr)
	if err := server.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("failed to close server", "err", err)
	}
}

func bridgedAccessories(
	panels []*AreaPanel,
	sensors []*ZoneSensor,
	power []*PowerSensor,
) []*accessory.A {
	var result []*accessory.A
	var id uint64 = 2
	add := func(a *accessory.A) {
		a.Id = id
		id++
		result = append(result, a)
	}
	for _, p := range panels {
		add(p.A)
	}
	for _, s := range sensors {
		add(s.A)
	}
	for _, p := range power {
		add(p.A)
	}
	return result
}

func boolAs[T int | float64](b bool) T {
	if b {
		return 1
	}
	return 0
}
