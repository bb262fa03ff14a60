// Package sdk is a Go client for the vitalwatch server: REST access to patients and
// preferences, a reconnecting update channel, and a local patient state that applies the
// batched envelopes the channel delivers.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"vitalwatch/internal/model"
)

// Wire types shared with the server.
type (
	Patient            = model.Patient
	Vitals             = model.Vitals
	BloodPressure      = model.BloodPressure
	VitalsDelta        = model.VitalsDelta
	BloodPressureDelta = model.BloodPressureDelta
	Preference         = model.Preference
	Gender             = model.Gender
)

const defaultBaseURL = "http://localhost:8080"

// ResolveURL picks override, then VITALWATCH_URL, then the local default.
func ResolveURL(override string) string {
	if v := strings.TrimSpace(override); v != "" {
		return strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(os.Getenv("VITALWATCH_URL")); v != "" {
		return strings.TrimRight(v, "/")
	}
	return defaultBaseURL
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	BaseURL string
	HTTP    *http.Client

	Patients    *PatientsService
	Preferences *PreferencesService
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		HTTP:    &http.Client{Timeout: cfg.Timeout},
	}
	c.Patients = &PatientsService{client: c}
	c.Preferences = &PreferencesService{client: c}
	return c
}

// APIError is a non-OK response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: %s: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a NOT_FOUND API error.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "NOT_FOUND"
}

type Pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Pagination *Pagination `json:"pagination"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) (*Pagination, error) {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw envelope
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if !raw.OK {
		apiErr := &APIError{Status: resp.StatusCode}
		if raw.Error != nil {
			apiErr.Code = raw.Error.Code
			apiErr.Message = raw.Error.Message
		}
		return nil, apiErr
	}
	if out != nil {
		if err := json.Unmarshal(raw.Data, out); err != nil {
			return nil, err
		}
	}
	return raw.Pagination, nil
}

type Health struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil, &out)
	return out, err
}

// UIConfig mirrors /api/v1/config/ui.
type UIConfig struct {
	WSURL                string `json:"ws_url"`
	ReconnectIntervalMS  int64  `json:"reconnect_interval_ms"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts"`
	HighlightDurationMS  int64  `json:"highlight_duration_ms"`
	GridColumns          int    `json:"grid_columns"`
	AnimationMS          int    `json:"animation_ms"`
	PageSize             int    `json:"page_size"`
}

func (c *Client) UIConfig(ctx context.Context) (UIConfig, error) {
	var out struct {
		UI UIConfig `json:"ui"`
	}
	_, err := c.do(ctx, http.MethodGet, "/api/v1/config/ui", nil, &out)
	return out.UI, err
}
