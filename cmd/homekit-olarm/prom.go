package main

import (
	"context"

	olarm "github.com/caarlos0/homekit-olarm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var availableGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace:   "homekit_olarm",
	Subsystem:   "cloud",
	Name:        "available",
	Help:        "",
	ConstLabels: map[string]string{},
})

var armStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace:   "homekit_olarm",
	Subsystem:   "alarm",
	Name:        "state",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"controller", "area"})

var openGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace:   "homekit_olarm",
	Subsystem:   "alarm",
	Name:        "open",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"controller", "zone"})

var bypassedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace:   "homekit_olarm",
	Subsystem:   "alarm",
	Name:        "bypassed",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"controller", "zone"})

var requestCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace:   "homekit_olarm",
	Subsystem:   "client",
	Name:        "requests_total",
	Help:        "",
	ConstLabels: map[string]string{},
})

var requestErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace:   "homekit_olarm",
	Subsystem:   "client",
	Name:        "request_errors_total",
	Help:        "",
	ConstLabels: map[string]string{},
})

var webhookCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace:   "homekit_olarm",
	Subsystem:   "webhook",
	Name:        "events_total",
	Help:        "",
	ConstLabels: map[string]string{},
})

var webhookErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace:   "homekit_olarm",
	Subsystem:   "webhook",
	Name:        "event_errors_total",
	Help:        "",
	ConstLabels: map[string]string{},
})

// instrumentedAPI counts every cloud round trip made on the coordinator's
// behalf.
type instrumentedAPI struct {
	api olarm.API
}

func (a instrumentedAPI) Device(ctx context.Context, id string) (olarm.DevicePayload, error) {
	requestCounter.Inc()
	payload, err := a.api.Device(ctx, id)
	if err != nil {
		requestErrorCounter.Inc()
	}
	return payload, err
}

func (a instrumentedAPI) SendAction(ctx context.Context, id, code string, num int) error {
	requestCounter.Inc()
	err := a.api.SendAction(ctx, id, code, num)
	if err != nil {
		requestErrorCounter.Inc()
	}
	return err
}
