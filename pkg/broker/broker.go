// Package broker is the client for the voicelink relay. It mints ephemeral
// session credentials and, in delegated synthesis deployments, fetches
// rendered speech and the voice catalog.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/voicelink-dev/voicelink/internal/httpc"
	"github.com/voicelink-dev/voicelink/pkg/tts"
)

// maxErrorDetail bounds how much upstream error text is carried around.
const maxErrorDetail = 200

// ErrMissingSecret is returned when the relay response omits the credential.
var ErrMissingSecret = errors.New("broker: response missing client secret")

// SessionRequest asks the relay to mint a credential.
type SessionRequest struct {
	Modalities   []string `json:"modalities"`
	Instructions string   `json:"instructions,omitempty"`
	Voice        string   `json:"voice,omitempty"`
}

// Credential is a short-lived, single-use session credential. It is owned
// by the peer connection negotiator for one connection attempt and never
// persisted.
type Credential struct {
	Secret string `json:"client_secret"`
	Model  string `json:"model"`
	Voice  string `json:"voice,omitempty"`
}

// StatusError reports a non-success relay response with truncated detail.
type StatusError struct {
	Status int
	Detail string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("broker: HTTP %d: %s", e.Status, e.Detail)
}

// Client talks to the relay over HTTP. Session and catalog requests use the
// shared pooled client; rendered speech uses a client with no overall
// timeout, because the audio body is consumed at playback speed and an
// utterance can outlive any reasonable request deadline.
type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
}

// NewClient creates a relay client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    httpc.Client,
		stream:  &http.Client{Transport: httpc.Client.Transport},
	}
}

// CreateSession exchanges the relay's held API key for an ephemeral
// credential. Any non-success response or missing credential field is an
// error; the caller maps it to its session-fetch failure.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (Credential, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Credential{}, fmt.Errorf("broker: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/session", bytes.NewReader(body))
	if err != nil {
		return Credential{}, fmt.Errorf("broker: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Credential{}, fmt.Errorf("broker: session request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Credential{}, statusError(resp)
	}

	var cred Credential
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return Credential{}, fmt.Errorf("broker: decode credential: %w", err)
	}
	if cred.Secret == "" {
		return Credential{}, ErrMissingSecret
	}
	return cred, nil
}

// Render fetches rendered speech for text from the relay's /tts route.
// The returned stream is the encoded audio payload; the caller owns it.
// Render implements audio.Synthesizer.
func (c *Client) Render(ctx context.Context, text, voice string) (io.ReadCloser, error) {
	payload := map[string]string{"text": text}
	if voice != "" {
		payload["voiceId"] = voice
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("broker: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker: tts request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp.Body, nil
}

// Voices fetches the relay's voice catalog.
func (c *Client) Voices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("broker: create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker: voices request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var payload struct {
		Voices []tts.Voice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("broker: decode voices: %w", err)
	}
	return payload.Voices, nil
}

// statusError builds a StatusError with truncated upstream detail.
func statusError(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorDetail))
	return &StatusError{Status: resp.StatusCode, Detail: string(detail)}
}
