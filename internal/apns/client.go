package apns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/SwitchGaming/ten-push-gateway/internal/config"
)

// Provider hosts. APNs speaks HTTP/2 only; the standard library negotiates it
// automatically over TLS.
const (
	HostProduction = "https://api.push.apple.com"
	HostSandbox    = "https://api.sandbox.push.apple.com"
)

// HostForEnvironment maps a config environment to the APNs host. Anything
// other than production lands on sandbox.
func HostForEnvironment(env string) string {
	if env == config.EnvProduction {
		return HostProduction
	}
	return HostSandbox
}

// Client is a thin wrapper over the APNs provider HTTP API.
type Client struct {
	baseURL *url.URL
	topic   string
	http    *http.Client
}

// New creates an APNs client for the given host. The topic identifies the app
// bundle and is sent with every push.
func New(rawURL, topic string, timeout time.Duration) (*Client, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" {
		return nil, fmt.Errorf("base url must include scheme")
	}
	return &Client{
		baseURL: parsed,
		topic:   topic,
		http: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Response carries the provider's verdict for one device send.
type Response struct {
	StatusCode int
	Body       string
}

// OK reports whether APNs accepted the push.
func (r *Response) OK() bool {
	return r.StatusCode == http.StatusOK
}

// Send posts one push payload to the per-device endpoint. Expiration zero
// means fire-and-discard: APNs makes a single delivery attempt and never
// retries on our behalf.
func (c *Client) Send(ctx context.Context, deviceToken, bearer string, payload []byte) (*Response, error) {
	u := *c.baseURL
	u.Path = "/3/device/" + deviceToken
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("authorization", "bearer "+bearer)
	req.Header.Set("apns-topic", c.topic)
	req.Header.Set("apns-push-type", "alert")
	req.Header.Set("apns-priority", "10")
	req.Header.Set("apns-expiration", "0")
	req.Header.Set("content-type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}, nil
}

// BuildPayload assembles the alert payload: the fixed aps envelope plus the
// notification type and every custom data key merged at the top level. Data
// cannot shadow the aps key.
func BuildPayload(title, body, notificationType string, data map[string]any) ([]byte, error) {
	payload := map[string]any{
		"aps": map[string]any{
			"alert": map[string]string{
				"title": title,
				"body":  body,
			},
			"sound":           "default",
			"badge":           1,
			"mutable-content": 1,
		},
		"type": notificationType,
	}
	for k, v := range data {
		if k == "aps" {
			continue
		}
		payload[k] = v
	}
	return json.Marshal(payload)
}
