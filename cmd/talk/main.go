// talk is the command-line voice client: it captures microphone audio,
// negotiates a WebRTC session through the relay, and holds a live
// conversation with the realtime model. Replies are either spoken through
// the relay's TTS proxy (delegated mode) or played straight from the
// model's own audio track (native mode).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/voicelink-dev/voicelink/internal/config"
	"github.com/voicelink-dev/voicelink/internal/log"
	"github.com/voicelink-dev/voicelink/pkg/audio"
	"github.com/voicelink-dev/voicelink/pkg/captions"
	"github.com/voicelink-dev/voicelink/pkg/hub"
	"github.com/voicelink-dev/voicelink/pkg/realtime"
	"github.com/voicelink-dev/voicelink/pkg/session"
)

func main() {
	relayURL := flag.String("relay", config.RelayURL(), "relay base URL")
	mode := flag.String("mode", "delegated", "synthesis mode: delegated or native")
	voice := flag.String("voice", config.Voice(), "voice preset or provider voice id")
	instructions := flag.String("instructions", "", "system instructions for the model")
	signaling := flag.String("signaling", "", "override the realtime signaling URL")
	input := flag.String("input", "", "read PCM16 capture from a file instead of the microphone")
	publish := flag.Bool("publish-captions", false, "push captions to the relay for remote viewers")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	log.Init(level)

	synthMode, err := parseMode(*mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var pub *captions.Publisher
	if *publish {
		url := "ws" + strings.TrimPrefix(*relayURL, "http") + "/ws/captions/publish"
		pub, err = captions.Dial(url)
		if err != nil {
			log.Warn("caption publishing disabled", "error", err)
		} else {
			defer pub.Close()
		}
	}

	var playerOut io.Writer
	if synthMode == realtime.SynthesisNative {
		pcm, err := audio.DefaultPCMPlayer()
		if err != nil {
			log.Error("could not start audio player", "error", err)
			os.Exit(1)
		}
		defer pcm.Close()
		playerOut = pcm
	}

	conv := session.New(session.Config{
		Mode:         synthMode,
		Instructions: *instructions,
		Voice:        *voice,
		RelayURL:     *relayURL,
		SignalingURL: *signaling,
		OpenCapture:  capture(*input),
		PlayerOut:    playerOut,
		Events: session.Events{
			OnStatus: func(text string) {
				fmt.Printf("  [%s]\n", text)
				if pub != nil {
					pub.Publish(hub.KindStatus, text)
				}
			},
			OnState: func(s session.State) {
				if pub != nil {
					pub.Publish(hub.KindState, s.String())
				}
			},
			OnTranscript: func(text string) {
				fmt.Printf("> %s\n", text)
			},
		},
		OnSubtitle: func(text string) {
			if pub != nil {
				pub.Publish(hub.KindSubtitle, text)
			}
		},
	})
	defer conv.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Println(session.DefaultTranscript)
	fmt.Println("Enter toggles the mic, 'q' hangs up.")
	run(ctx, conv)
}

// run is the interactive loop: Enter toggles, q quits, Ctrl-C quits.
func run(ctx context.Context, conv *session.Conversation) {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			conv.End()
			return
		case line, ok := <-lines:
			if !ok || line == "q" || line == "quit" {
				conv.End()
				return
			}
			if line == "" {
				if err := conv.ToggleMic(ctx); err != nil {
					log.Debug("connect attempt failed", "error", err)
				}
			}
		}
	}
}

func parseMode(s string) (realtime.SynthesisMode, error) {
	switch s {
	case "delegated":
		return realtime.SynthesisDelegated, nil
	case "native":
		return realtime.SynthesisNative, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (want delegated or native)", s)
	}
}

// capture picks the microphone opener: arecord by default, or a raw PCM
// file for testing without a device.
func capture(path string) audio.Opener {
	if path == "" {
		return audio.DefaultRecorder
	}
	return func(audio.CaptureOptions) (audio.Source, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		return audio.NewReaderSource(f), nil
	}
}
