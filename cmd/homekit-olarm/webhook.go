package main

import (
	"errors"
	"io"
	"net/http"

	olarm "github.com/caarlos0/homekit-olarm"
)

const maxWebhookBody = 1 << 20

// webhookHandler feeds push events into the coordinator. The response is
// always 200 so the cloud never retries or disables the hook; rejected
// events are only logged and counted.
func webhookHandler(coord *olarm.Coordinator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		webhookCounter.Inc()

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			webhookErrorCounter.Inc()
			log.Error("could not read webhook body", "err", err)
			w.WriteHeader(http.StatusOK)
			return
		}

		err = coord.HandleWebhook(body, r.Header.Get(olarm.SignatureHeader))
		switch {
		case err == nil:
		case errors.Is(err, olarm.ErrSignatureMismatch):
			webhookErrorCounter.Inc()
			log.Warn("webhook signature mismatch", "remote", r.RemoteAddr)
		default:
			webhookErrorCounter.Inc()
			log.Error("could not handle webhook", "err", err)
		}

		w.WriteHeader(http.StatusOK)
	})
}
