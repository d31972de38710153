package olarm

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"strings"
	"time"
)

// SignatureHeader carries the webhook signature as "<algorithm>=<hexdigest>".
const SignatureHeader = "x-olarm-signature"

// ErrSignatureMismatch means the webhook body was not signed with our
// shared secret.
var ErrSignatureMismatch = errors.New("signature mismatch")

// verifyWebhook authenticates a raw webhook body against its signature
// header and returns the parsed envelope. The signature is an HMAC over the
// canonical serialization of the body: compact, keys in the order the
// sender emitted them. Stripping insignificant whitespace from the raw
// bytes reproduces that form exactly, so sorting must not happen here.
func verifyWebhook(body []byte, signature, secret string) (webhookEnvelope, error) {
	var parsed map[string]any
	if len(body) == 0 {
		return webhookEnvelope{}, fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return webhookEnvelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return webhookEnvelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	canonical := buf.Bytes()

	alg, _, ok := strings.Cut(signature, "=")
	if !ok {
		return webhookEnvelope{}, fmt.Errorf("%w: malformed signature header", ErrSignatureMismatch)
	}
	var digest func() hash.Hash
	switch alg {
	case "sha1":
		digest = sha1.New
	case "sha256":
		digest = sha256.New
	default:
		return webhookEnvelope{}, fmt.Errorf("%w: unsupported algorithm %q", ErrSignatureMismatch, alg)
	}

	mac := hmac.New(digest, []byte(secret))
	mac.Write(canonical)
	expected := alg + "=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return webhookEnvelope{}, ErrSignatureMismatch
	}

	var env webhookEnvelope
	if err := json.Unmarshal(canonical, &env); err != nil {
		return webhookEnvelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return env, nil
}

type webhookEnvelope struct {
	DeviceID    string  `json:"deviceId"`
	EventAction string  `json:"eventAction"`
	EventState  string  `json:"eventState"`
	EventNum    int     `json:"eventNum"`
	EventTime   float64 `json:"eventTime"`
	EventMsg    string  `json:"eventMsg"`
}

// zoneAlarmEvent is a zone trigger. The cloud does not say which area the
// zone belongs to, so applying it is a broadcast to every area.
type zoneAlarmEvent struct {
	device string
	zone   int
	at     time.Time
}

// areaChangeEvent is a state change for exactly one area.
type areaChangeEvent struct {
	device string
	area   int
	status AreaStatus
	at     time.Time
}

// parseEvent turns an envelope into a typed event, or nil for event kinds
// and state tokens we do not model. Unknown events are dropped on purpose:
// the vendor adds kinds faster than we care to track them.
func parseEvent(env webhookEnvelope) any {
	switch env.EventAction {
	case "zone_alarm", "alarm":
		if env.EventState != "alarm" {
			return nil
		}
		return zoneAlarmEvent{
			device: env.DeviceID,
			zone:   env.EventNum,
			at:     stampToTime(env.EventTime),
		}
	case "area":
		var status AreaStatus
		switch env.EventState {
		case "disarm":
			status = AreaStatusDisarmed
		case "alarm":
			status = AreaStatusAlarm
		case "stayarm1":
			status = AreaStatusArmedHome1
		case "stayarm2":
			status = AreaStatusArmedHome2
		case "stayarm3":
			status = AreaStatusArmedHome3
		case "stayarm4":
			status = AreaStatusArmedHome4
		default:
			return nil
		}
		return areaChangeEvent{
			device: env.DeviceID,
			area:   env.EventNum,
			status: status,
			at:     stampToTime(env.EventTime),
		}
	default:
		return nil
	}
}
