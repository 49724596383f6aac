package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// StatusInfo is the payload of a classic WebDriver GET /status call, used
// to poll a freshly launched remote agent for readiness.
type StatusInfo struct {
	Ready   bool   `json:"ready"`
	Message string `json:"message"`
}

// NegotiatedSession is the result of a classic WebDriver POST /session
// call made with the webSocketUrl capability, giving access to the BiDi
// WebSocket URL a bidi.Session dials.
type NegotiatedSession struct {
	SessionID    string         `json:"sessionId"`
	Capabilities map[string]any `json:"capabilities"`
	WebSocketURL string         `json:"-"`
}

type newSessionRequest struct {
	Capabilities capabilitiesRequest `json:"capabilities"`
}

type capabilitiesRequest struct {
	AlwaysMatch map[string]any `json:"alwaysMatch"`
}

type newSessionEnvelope struct {
	Value struct {
		SessionID    string         `json:"sessionId"`
		Capabilities map[string]any `json:"capabilities"`
	} `json:"value"`
}

type statusEnvelope struct {
	Value StatusInfo `json:"value"`
}

// FetchStatus polls the classic WebDriver /status endpoint. Uses
// http.DefaultClient; callers must provide a context with timeout since
// the client has none of its own.
func FetchStatus(ctx context.Context, host string, port int) (*StatusInfo, error) {
	url := fmt.Sprintf("http://%s:%d/status", host, port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env statusEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse status: %w", err)
	}

	return &env.Value, nil
}

// CreateSession negotiates a new classic WebDriver session with
// webSocketUrl requested, so the returned session carries a BiDi
// WebSocket URL. extraCapabilities is merged into alwaysMatch alongside
// webSocketUrl:true; it may be nil.
func CreateSession(ctx context.Context, host string, port int, extraCapabilities map[string]any) (*NegotiatedSession, error) {
	url := fmt.Sprintf("http://%s:%d/session", host, port)

	always := map[string]any{"webSocketUrl": true}
	for k, v := range extraCapabilities {
		always[k] = v
	}

	body, err := json.Marshal(newSessionRequest{Capabilities: capabilitiesRequest{AlwaysMatch: always}})
	if err != nil {
		return nil, fmt.Errorf("marshal new session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("create session: unexpected status %d: %s", resp.StatusCode, respBody)
	}

	var env newSessionEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("parse new session response: %w", err)
	}

	ws, _ := env.Value.Capabilities["webSocketUrl"].(string)
	if ws == "" {
		return nil, fmt.Errorf("create session: remote agent did not return a webSocketUrl capability")
	}

	return &NegotiatedSession{
		SessionID:    env.Value.SessionID,
		Capabilities: env.Value.Capabilities,
		WebSocketURL: ws,
	}, nil
}

// DeleteSession ends a classic WebDriver session, terminating the
// underlying BiDi connection.
func DeleteSession(ctx context.Context, host string, port int, sessionID string) error {
	url := fmt.Sprintf("http://%s:%d/session/%s", host, port, sessionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delete session: unexpected status %d", resp.StatusCode)
	}

	return nil
}
