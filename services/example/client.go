package example

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/services"
)

// DemoHost is a virtual device: the client synthesizes readings for it
// instead of making requests, so the integration works out of the box.
const DemoHost = "demo"

// DeviceData is one poll of the device: identity, reachability and sensor
// readings.
type DeviceData struct {
	DeviceID  string             `json:"device_id"`
	Name      string             `json:"name"`
	Model     string             `json:"model"`
	Firmware  string             `json:"firmware"`
	Online    bool               `json:"online"`
	Power     bool               `json:"power"`
	Sensors   map[string]float64 `json:"sensors"`
	Timestamp string             `json:"timestamp"`
}

// Client speaks the device's HTTP API. All requests carry the api key, and
// failures are classified so callers can tell bad credentials from an
// unreachable device.
type Client struct {
	host   string
	apiKey string
	http   *http.Client

	demoPower bool
}

func NewClient(host, apiKey string) *Client {
	return &Client{
		host:   host,
		apiKey: apiKey,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) url(path string) string {
	host := c.host
	if !strings.Contains(host, ":") {
		host += ":80"
	}
	return fmt.Sprintf("http://%s%s", host, path)
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(services.ErrCannotConnect, err.Error())
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.Wrap(services.ErrAuthFailed, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return errors.Errorf("unexpected status: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decoding response")
	}
	return nil
}

// Authenticate verifies the api key against the device.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.host == DemoHost {
		if c.apiKey == "invalid" {
			return errors.Wrap(services.ErrAuthFailed, "invalid api key")
		}
		return nil
	}
	return c.do(ctx, "GET", "/api/auth", nil)
}

// FetchData polls the device for its current data.
func (c *Client) FetchData(ctx context.Context) (*DeviceData, error) {
	if c.host == DemoHost {
		if c.apiKey == "invalid" {
			return nil, errors.Wrap(services.ErrAuthFailed, "invalid api key")
		}
		return c.demoData(), nil
	}
	var data DeviceData
	if err := c.do(ctx, "GET", "/api/data", &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// SetPower switches the device on or off.
func (c *Client) SetPower(ctx context.Context, on bool) error {
	if c.host == DemoHost {
		if c.apiKey == "invalid" {
			return errors.Wrap(services.ErrAuthFailed, "invalid api key")
		}
		c.demoPower = on
		return nil
	}
	path := "/api/power/off"
	if on {
		path = "/api/power/on"
	}
	return c.do(ctx, "POST", path, nil)
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

func (c *Client) demoData() *DeviceData {
	return &DeviceData{
		DeviceID: "example_device_001",
		Name:     fmt.Sprintf("Example Device (%s)", c.host),
		Model:    "Example Model v1.0",
		Firmware: "1.2.3",
		Online:   true,
		Power:    c.demoPower,
		Sensors: map[string]float64{
			"temperature": round1(20 + rand.Float64()*10 - 5),
			"humidity":    round1(50 + rand.Float64()*20 - 10),
			"battery":     float64(80 + rand.Intn(21)),
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
