package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPClient talks to speakers over their JSON HTTP control surface.
type HTTPClient struct {
	http *http.Client
}

// NewHTTPClient creates a client with the given per-request timeout.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		http: &http.Client{Timeout: timeout},
	}
}

// CoreStatus fetches the speaker's transport/volume/group snapshot.
func (c *HTTPClient) CoreStatus(ctx context.Context, address string) (CoreStatus, error) {
	var status CoreStatus
	if err := c.getJSON(ctx, address, "/api/v1/status", &status); err != nil {
		return CoreStatus{}, &TransportError{Address: address, Op: "core status", Err: err}
	}
	return status, nil
}

// SecondaryData fetches one optional endpoint.
func (c *HTTPClient) SecondaryData(ctx context.Context, address string, kind SecondaryKind) (SecondaryData, error) {
	var data SecondaryData
	if err := c.getJSON(ctx, address, "/api/v1/"+string(kind), &data); err != nil {
		return nil, &TransportError{Address: address, Op: string(kind), Err: err}
	}
	return data, nil
}

// SendCommand posts a command and treats any non-2xx reply as a failure.
func (c *HTTPClient) SendCommand(ctx context.Context, address string, cmd Command) error {
	if err := c.postJSON(ctx, address, "/api/v1/command", cmd); err != nil {
		return &TransportError{Address: address, Op: "command " + cmd.Action, Err: err}
	}
	return nil
}

func (c *HTTPClient) getJSON(ctx context.Context, address, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(address)+path, nil)
	if err != nil {
		return err
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("request failed: %s", res.Status)
	}

	decoder := json.NewDecoder(res.Body)
	return decoder.Decode(out)
}

func (c *HTTPClient) postJSON(ctx context.Context, address, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL(address)+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("request failed: %s", res.Status)
	}
	return nil
}

func baseURL(address string) string {
	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		return address
	}
	return "http://" + address
}
