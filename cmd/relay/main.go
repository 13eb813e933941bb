// The relay holds the provider API keys and fronts them for voice clients:
// it mints short-lived realtime session credentials, proxies text-to-speech,
// and rebroadcasts live captions to websocket viewers.
package main

import (
	"flag"
	"os"

	"github.com/voicelink-dev/voicelink/internal/config"
	"github.com/voicelink-dev/voicelink/internal/log"
	"github.com/voicelink-dev/voicelink/pkg/relay"
	"github.com/voicelink-dev/voicelink/pkg/tts"
)

func main() {
	addr := flag.String("addr", config.ListenAddr(), "listen address")
	model := flag.String("model", config.Model(), "realtime model for minted sessions")
	voice := flag.String("voice", config.Voice(), "default voice")
	staticDir := flag.String("static", "", "directory of viewer assets to serve")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	log.Init(level)

	key := config.OpenAIKey()
	if key == "" {
		log.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}

	srv := relay.NewServer(relay.Config{
		ListenAddr:        *addr,
		OpenAIKey:         key,
		Model:             *model,
		DefaultVoice:      *voice,
		DefaultModalities: config.Modalities(),
		TTS:               buildTTS(),
		StaticDir:         *staticDir,
		TLSCertFile:       config.TLSCertFile(),
		TLSKeyFile:        config.TLSKeyFile(),
	})

	if err := srv.Start(); err != nil {
		log.Error("relay stopped", "error", err)
		os.Exit(1)
	}
}

// buildTTS assembles the synthesis chain from the configured providers:
// ElevenLabs first, OpenAI as fallback. With no keys configured the /tts
// and /voices routes report unavailable.
func buildTTS() tts.Provider {
	var providers []tts.Provider

	if key := config.ElevenLabsKey(); key != "" {
		p, err := tts.NewElevenLabs(
			tts.WithAPIKey(key),
			tts.WithDefaultVoice(tts.DefaultPreset),
		)
		if err != nil {
			log.Warn("elevenlabs disabled", "error", err)
		} else {
			providers = append(providers, p)
		}
	}
	if key := config.OpenAIKey(); key != "" {
		p, err := tts.NewOpenAI(tts.WithAPIKey(key))
		if err != nil {
			log.Warn("openai tts disabled", "error", err)
		} else {
			providers = append(providers, p)
		}
	}

	switch len(providers) {
	case 0:
		return nil
	case 1:
		return providers[0]
	default:
		chain, err := tts.NewChain(providers...)
		if err != nil {
			return providers[0]
		}
		return chain
	}
}
