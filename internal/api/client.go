package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a thin HTTP client for the hub API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL (e.g. http://host:port).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Nodes fetches the status of every registered speaker.
func (c *Client) Nodes(ctx context.Context) (NodesResponse, error) {
	var resp NodesResponse
	if err := c.getJSON(ctx, "/nodes", &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Join groups candidates under a master.
func (c *Client) Join(ctx context.Context, req JoinRequest) (JoinResponse, error) {
	var resp JoinResponse
	if err := c.postJSON(ctx, "/group/join", req, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Leave detaches a node from its group.
func (c *Client) Leave(ctx context.Context, req LeaveRequest) error {
	return c.postJSON(ctx, "/group/leave", req, nil)
}

// GroupVolume shifts a group toward a level while keeping balance.
func (c *Client) GroupVolume(ctx context.Context, req GroupVolumeRequest) (GroupVolumeResponse, error) {
	var resp GroupVolumeResponse
	if err := c.postJSON(ctx, "/group/volume", req, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Command sends a playback or local command to one node.
func (c *Client) Command(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	var resp CommandResponse
	if err := c.postJSON(ctx, "/command", req, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Events opens the change-event websocket and streams node IDs whose
// snapshot changed until the context ends. The returned channel closes
// when the stream stops.
func (c *Client) Events(ctx context.Context) (<-chan EventMessage, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/events"

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("dial events: %w", err)
	}

	out := make(chan EventMessage)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var msg EventMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
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
		body, _ := io.ReadAll(res.Body)
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("request failed: %s: %s", res.Status, msg)
		}
		return fmt.Errorf("request failed: %s", res.Status)
	}

	if out == nil {
		return nil
	}

	decoder := json.NewDecoder(res.Body)
	return decoder.Decode(out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("request failed: %s: %s", res.Status, msg)
		}
		return fmt.Errorf("request failed: %s", res.Status)
	}

	decoder := json.NewDecoder(res.Body)
	return decoder.Decode(out)
}
