// Package relay is the server-side companion to the voice client. It holds
// the provider API keys so the client never sees them: it mints short-lived
// realtime session credentials, proxies text-to-speech rendering, serves the
// voice catalog, and fans live captions out to websocket viewers.
package relay

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/voicelink-dev/voicelink/internal/log"
	"github.com/voicelink-dev/voicelink/pkg/hub"
	"github.com/voicelink-dev/voicelink/pkg/tts"
)

const (
	// DefaultSessionsURL is the provider endpoint that mints ephemeral
	// realtime credentials.
	DefaultSessionsURL = "https://api.openai.com/v1/realtime/sessions"

	// voiceCacheTTL bounds how stale the /voices catalog may get.
	voiceCacheTTL = 5 * time.Minute
)

// Config configures the relay.
type Config struct {
	// ListenAddr is the host:port to serve on.
	ListenAddr string

	// OpenAIKey authorizes session minting. Required.
	OpenAIKey string

	// Model is the realtime model baked into minted credentials.
	Model string

	// DefaultVoice is used when a session request names none.
	DefaultVoice string

	// DefaultModalities is used when a session request names none.
	// Empty means text only.
	DefaultModalities []string

	// TTS renders speech for /tts and lists voices for /voices. Optional;
	// without it those routes report unavailable.
	TTS tts.Provider

	// StaticDir serves the viewer page when non-empty.
	StaticDir string

	// SessionsURL overrides DefaultSessionsURL.
	SessionsURL string

	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string
	TLSKeyFile  string
}

// Server is the relay HTTP server.
type Server struct {
	cfg      Config
	app      *fiber.App
	captions *hub.Hub
	started  time.Time

	voiceMu      sync.Mutex
	voiceCatalog []tts.Voice
	voiceFetched time.Time
}

// NewServer builds the relay and its routes.
func NewServer(cfg Config) *Server {
	if cfg.SessionsURL == "" {
		cfg.SessionsURL = DefaultSessionsURL
	}

	s := &Server{
		cfg:      cfg,
		captions: hub.New("captions"),
		started:  time.Now(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "voicelink relay",
		DisableStartupMessage: true,
	})

	app.Use(cors.New())

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	app.Get("/health", s.handleHealth)
	app.Post("/session", s.handleSession)
	app.Get("/voices", s.handleVoices)
	app.Post("/tts", s.handleTTS)
	app.Post("/captions", s.handlePublishCaption)

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/captions", websocket.New(s.handleCaptionViewer))
	app.Get("/ws/captions/publish", websocket.New(s.handleCaptionPublisher))

	s.app = app
	return s
}

// Start runs the caption hub and serves until the listener fails.
func (s *Server) Start() error {
	go s.captions.Run()

	log.Info("relay listening", "addr", s.cfg.ListenAddr, "tls", s.cfg.TLSCertFile != "")
	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		return s.app.ListenTLS(s.cfg.ListenAddr, s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}
	return s.app.Listen(s.cfg.ListenAddr)
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// Captions exposes the hub so in-process callers can publish directly.
func (s *Server) Captions() *hub.Hub {
	return s.captions
}

// voices returns the catalog, refreshing it from the provider when the
// cached copy is older than voiceCacheTTL.
func (s *Server) voices(c *fiber.Ctx) ([]tts.Voice, error) {
	lister, ok := s.cfg.TTS.(tts.VoiceLister)
	if !ok {
		return nil, tts.ErrProviderUnavailable
	}

	s.voiceMu.Lock()
	defer s.voiceMu.Unlock()

	if s.voiceCatalog != nil && time.Since(s.voiceFetched) < voiceCacheTTL {
		return s.voiceCatalog, nil
	}

	voices, err := lister.Voices(c.Context())
	if err != nil {
		// Serve a stale catalog over an error if we have one.
		if s.voiceCatalog != nil {
			log.Warn("voice refresh failed, serving cached catalog", "error", err)
			return s.voiceCatalog, nil
		}
		return nil, err
	}

	s.voiceCatalog = voices
	s.voiceFetched = time.Now()
	return voices, nil
}
