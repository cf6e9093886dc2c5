package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/runnerr0/dwell/internal/pageview"
)

// MessagesPath is the daemon endpoint accepting envelopes.
const MessagesPath = "/v1/messages"

// Transport delivers an envelope and returns the reply.
type Transport interface {
	Send(ctx context.Context, env Envelope) (Response, error)
}

// LocalTransport delivers envelopes to an in-process Router.
type LocalTransport struct {
	Router *Router
}

func (t LocalTransport) Send(ctx context.Context, env Envelope) (Response, error) {
	if t.Router == nil {
		return Response{}, errors.New("local transport: no router")
	}
	return t.Router.Dispatch(ctx, env), nil
}

// HTTPTransport posts envelopes to a running daemon.
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPTransport returns a transport for the daemon at baseURL.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (t *HTTPTransport) Send(ctx context.Context, env Envelope) (Response, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return Response{}, fmt.Errorf("encode envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+MessagesPath, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("daemon returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// Client is the page-context end of the channel for one tab.
type Client struct {
	Transport Transport
	TabID     int
}

func (c *Client) send(ctx context.Context, typ MessageType, payload any) (Response, error) {
	env, err := NewEnvelope(typ, c.TabID, payload)
	if err != nil {
		return Response{}, err
	}
	resp, err := c.Transport.Send(ctx, env)
	if err != nil {
		return Response{}, err
	}
	if !resp.OK {
		return resp, fmt.Errorf("%s rejected: %s", typ, resp.Error)
	}
	return resp, nil
}

// Activated reports a session start.
func (c *Client) Activated(ctx context.Context, msg Activated) error {
	_, err := c.send(ctx, TypeActivated, msg)
	return err
}

// SessionDelta reports a completed interval.
func (c *Client) SessionDelta(ctx context.Context, msg SessionDelta) error {
	_, err := c.send(ctx, TypeSessionDelta, msg)
	return err
}

// TabClosed reports that the tab is gone.
func (c *Client) TabClosed(ctx context.Context, ts int64) error {
	_, err := c.send(ctx, TypeTabClosed, TabClosed{Timestamp: ts})
	return err
}

// RequestSettings fetches the current settings.
func (c *Client) RequestSettings(ctx context.Context) (pageview.UserSettings, error) {
	resp, err := c.send(ctx, TypeSettingsRequest, nil)
	if err != nil {
		return pageview.UserSettings{}, err
	}
	if resp.Settings == nil {
		return pageview.UserSettings{}, errors.New("settings response without settings")
	}
	return *resp.Settings, nil
}
