package olarm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	logp "github.com/charmbracelet/log"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "olarm",
})

// DefaultBaseURL is the production cloud API endpoint.
const DefaultBaseURL = "https://apiv4.olarm.co/api/v4"

const defaultTimeout = 10 * time.Second

var (
	// ErrAuth means the API token was rejected. Not retryable.
	ErrAuth = errors.New("invalid credentials")
	// ErrConnection covers transient failures: network errors, rate
	// limiting, unexpected status codes. The next poll retries naturally.
	ErrConnection = errors.New("could not reach the api")
	// ErrActionRejected means the API accepted the request but the panel
	// refused the action.
	ErrActionRejected = errors.New("action rejected")
)

// Client talks to the Olarm cloud API. Every call is a single bounded
// attempt; retrying is the caller's business.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// DeviceList is the response to a device enumeration.
type DeviceList struct {
	UserID string          `json:"userId"`
	Data   []DevicePayload `json:"data"`
}

// Devices lists every device on the account.
func (c *Client) Devices(ctx context.Context) (DeviceList, error) {
	log.Debug("list devices")
	var list DeviceList
	if err := c.get(ctx, "/devices", &list); err != nil {
		return DeviceList{}, fmt.Errorf("could not list devices: %w", err)
	}
	return list, nil
}

// Device fetches the full payload for a single device.
func (c *Client) Device(ctx context.Context, id string) (DevicePayload, error) {
	log.Debug("get device", "id", id)
	var payload DevicePayload
	if err := c.get(ctx, "/devices/"+id, &payload); err != nil {
		return DevicePayload{}, fmt.Errorf("could not get device %s: %w", id, err)
	}
	return payload, nil
}

type actionRequest struct {
	ActionCmd string `json:"actionCmd"`
	ActionNum int    `json:"actionNum"`
}

type actionResponse struct {
	ActionStatus string `json:"actionStatus"`
	ActionMsg    string `json:"actionMsg"`
}

// SendAction asks the panel to run an action code against a zone or area
// number. A 200 with anything but actionStatus "OK" is a rejection.
func (c *Client) SendAction(ctx context.Context, id, code string, num int) error {
	log.Debug("send action", "id", id, "action", code, "num", num)
	body, err := json.Marshal(actionRequest{ActionCmd: code, ActionNum: num})
	if err != nil {
		return fmt.Errorf("could not encode action: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/devices/"+id+"/actions",
		bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("could not send action: %w", err)
	}

	var result actionResponse
	if err := c.do(req, &result); err != nil {
		return fmt.Errorf("could not send action %s: %w", code, err)
	}
	if result.ActionStatus != "OK" {
		return fmt.Errorf("%w: %s %s", ErrActionRejected, result.ActionStatus, result.ActionMsg)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return ErrAuth
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: rate limited", ErrConnection)
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrConnection, resp.StatusCode)
	}

	bts, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if err := json.Unmarshal(bts, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
