// Package channel carries session events from page contexts to the
// aggregator over an at-least-once request/response transport.
package channel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/runnerr0/dwell/internal/pageview"
)

// MessageType names the payload carried by an Envelope.
type MessageType string

const (
	TypeActivated       MessageType = "activated"
	TypeSessionDelta    MessageType = "session_delta"
	TypeSettingsRequest MessageType = "settings_request"
	TypeTabClosed       MessageType = "tab_closed"
)

// Activated announces that a new logical session began on a tab.
type Activated struct {
	URL           string `json:"url"`
	NormalizedURL string `json:"normalizedUrl"`
	Hostname      string `json:"hostname"`
	PageTitle     string `json:"pageTitle,omitempty"`
	FaviconURL    string `json:"faviconUrl,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

// SessionDelta reports a completed interval. Final is set when the
// session ended rather than paused.
type SessionDelta struct {
	URL           string           `json:"url"`
	NormalizedURL string           `json:"normalizedUrl"`
	SessionData   pageview.Session `json:"sessionData"`
	Final         bool             `json:"final"`
}

// TabClosed reports that a tab went away.
type TabClosed struct {
	Timestamp int64 `json:"timestamp"`
}

// SettingsResponse answers a settings request.
type SettingsResponse struct {
	Settings pageview.UserSettings `json:"settings"`
}

// Envelope is the unit of delivery. ID identifies a message across
// redeliveries.
type Envelope struct {
	ID      string          `json:"id"`
	Type    MessageType     `json:"type"`
	TabID   int             `json:"tabId"`
	SentAt  int64           `json:"sentAt"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope wraps payload with a fresh ID.
func NewEnvelope(typ MessageType, tabID int, payload any) (Envelope, error) {
	env := Envelope{
		ID:     uuid.NewString(),
		Type:   typ,
		TabID:  tabID,
		SentAt: time.Now().UnixMilli(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		env.Payload = data
	}
	return env, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Response is the reply to one Envelope.
type Response struct {
	OK       bool                   `json:"ok"`
	Error    string                 `json:"error,omitempty"`
	Settings *pageview.UserSettings `json:"settings,omitempty"`
}
