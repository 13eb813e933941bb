package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/voicelink-dev/voicelink/internal/httpc"
	"github.com/voicelink-dev/voicelink/internal/log"
	"github.com/voicelink-dev/voicelink/pkg/hub"
	"github.com/voicelink-dev/voicelink/pkg/tts"
)

// maxUpstreamDetail caps how much of an upstream error body is passed
// through to the client.
const maxUpstreamDetail = 200

type sessionRequest struct {
	Modalities   []string `json:"modalities"`
	Instructions string   `json:"instructions,omitempty"`
	Voice        string   `json:"voice,omitempty"`
}

type sessionResponse struct {
	ClientSecret string `json:"client_secret"`
	Model        string `json:"model"`
	Voice        string `json:"voice,omitempty"`
}

// mintResponse is the shape of the provider's session-mint reply; only the
// secret value matters here.
type mintResponse struct {
	ClientSecret struct {
		Value string `json:"value"`
	} `json:"client_secret"`
	Voice string `json:"voice"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service":         "voicelink-relay",
		"model":           s.cfg.Model,
		"uptime_seconds":  int(time.Since(s.started).Seconds()),
		"caption_viewers": s.captions.ClientCount(),
		"tts_configured":  s.cfg.TTS != nil,
	})
}

// handleSession exchanges the relay's held API key for an ephemeral
// credential. Upstream failures pass through with their status code and a
// truncated detail so the client can surface them.
func (s *Server) handleSession(c *fiber.Ctx) error {
	var req sessionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid session request body")
	}
	if len(req.Modalities) == 0 {
		req.Modalities = s.cfg.DefaultModalities
	}
	if len(req.Modalities) == 0 {
		req.Modalities = []string{"text"}
	}
	voice := req.Voice
	if voice == "" {
		voice = s.cfg.DefaultVoice
	}

	payload := map[string]any{
		"model":      s.cfg.Model,
		"modalities": req.Modalities,
	}
	if req.Instructions != "" {
		payload["instructions"] = req.Instructions
	}
	if voice != "" {
		payload["voice"] = voice
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "encode mint request")
	}

	upReq, err := http.NewRequestWithContext(c.Context(), http.MethodPost, s.cfg.SessionsURL, bytes.NewReader(body))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "build mint request")
	}
	upReq.Header.Set("Content-Type", "application/json")
	upReq.Header.Set("Authorization", "Bearer "+s.cfg.OpenAIKey)

	resp, err := httpc.Client.Do(upReq)
	if err != nil {
		log.Error("session mint unreachable", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "could not reach session endpoint",
		})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamDetail))
		log.Warn("session mint rejected", "status", resp.StatusCode)
		return c.Status(resp.StatusCode).JSON(fiber.Map{
			"error": fmt.Sprintf("session mint failed: %s", detail),
		})
	}

	var mint mintResponse
	if err := json.NewDecoder(resp.Body).Decode(&mint); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "malformed session mint response",
		})
	}
	if mint.ClientSecret.Value == "" {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "session mint response missing client secret",
		})
	}
	if mint.Voice != "" {
		voice = mint.Voice
	}

	return c.JSON(sessionResponse{
		ClientSecret: mint.ClientSecret.Value,
		Model:        s.cfg.Model,
		Voice:        voice,
	})
}

func (s *Server) handleVoices(c *fiber.Ctx) error {
	if s.cfg.TTS == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "tts not configured",
		})
	}
	voices, err := s.voices(c)
	if err != nil {
		log.Error("voice catalog fetch failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "could not fetch voices",
		})
	}
	return c.JSON(fiber.Map{"voices": voices})
}

type ttsRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId,omitempty"`
}

// handleTTS renders speech and streams it out as it arrives; the audio is
// never buffered whole.
func (s *Server) handleTTS(c *fiber.Ctx) error {
	if s.cfg.TTS == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "tts not configured",
		})
	}

	var req ttsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid tts request body")
	}
	if req.Text == "" {
		return fiber.NewError(fiber.StatusBadRequest, "text is required")
	}

	stream, err := s.cfg.TTS.Stream(c.Context(), tts.Request{
		Text:  req.Text,
		Voice: req.VoiceID,
	})
	if err != nil {
		status := fiber.StatusBadGateway
		var apiErr *tts.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 {
			status = apiErr.StatusCode
		}
		log.Error("tts stream failed", "error", err)
		return c.Status(status).JSON(fiber.Map{"error": "synthesis failed"})
	}

	c.Set(fiber.HeaderContentType, stream.Format().Encoding.MIME())
	return c.SendStream(&streamReader{stream: stream})
}

// handlePublishCaption accepts one caption over plain HTTP.
func (s *Server) handlePublishCaption(c *fiber.Ctx) error {
	var caption hub.Caption
	if err := c.BodyParser(&caption); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid caption body")
	}
	if caption.Text == "" {
		return fiber.NewError(fiber.StatusBadRequest, "text is required")
	}
	if caption.Kind == "" {
		caption.Kind = hub.KindSubtitle
	}
	if caption.At.IsZero() {
		caption.At = time.Now().UTC()
	}
	s.captions.Publish(caption)
	return c.SendStatus(fiber.StatusAccepted)
}

// handleCaptionViewer streams captions to a websocket viewer.
func (s *Server) handleCaptionViewer(conn *websocket.Conn) {
	hub.NewClient(s.captions, conn).Run()
}

// handleCaptionPublisher receives captions from a client over a websocket
// and feeds them into the hub. Malformed frames are dropped.
func (s *Server) handleCaptionPublisher(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var caption hub.Caption
		if err := json.Unmarshal(data, &caption); err != nil {
			log.Debug("dropping malformed caption frame")
			continue
		}
		if caption.Text == "" {
			continue
		}
		if caption.Kind == "" {
			caption.Kind = hub.KindSubtitle
		}
		if caption.At.IsZero() {
			caption.At = time.Now().UTC()
		}
		s.captions.Publish(caption)
	}
}

// streamReader adapts a tts.AudioStream to io.Reader for SendStream.
type streamReader struct {
	stream tts.AudioStream
	buf    []byte
}

func (r *streamReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		chunk, err := r.stream.Read()
		if err != nil {
			r.stream.Close()
			return 0, err
		}
		if chunk == nil {
			r.stream.Close()
			return 0, io.EOF
		}
		r.buf = chunk
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
