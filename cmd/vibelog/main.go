package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	capture "github.com/goldenfocus/vibelog-capture"
	"github.com/goldenfocus/vibelog-capture/analyzer"
	"github.com/goldenfocus/vibelog-capture/livecaption"
	"github.com/goldenfocus/vibelog-capture/media"
	"github.com/goldenfocus/vibelog-capture/providers/elevenlabs"
	"github.com/goldenfocus/vibelog-capture/providers/modal"
	"github.com/goldenfocus/vibelog-capture/providers/openai"
	"github.com/goldenfocus/vibelog-capture/ttscache"
	"github.com/goldenfocus/vibelog-capture/uploader"
)

func main() {
	var mode = flag.String("mode", "audio", "Capture mode: audio or video")
	var maxSecs = flag.Int("max", 300, "Maximum recording duration in seconds")
	var output = flag.String("output", "", "Write the finished recording blob to this path (optional)")
	var voice = flag.String("voice", "", "Voice id for narration synthesis (optional)")
	var captions = flag.Bool("captions", false, "Print live captions while recording (needs DEEPGRAM_API_KEY)")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags|log.Lshortfile)

	if err := godotenv.Load(); err != nil {
		logger.Printf("no .env file loaded: %v", err)
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		logger.Println("OPENAI_API_KEY is required")
		return
	}
	ai := openai.New(apiKey, logger)

	cfg := capture.Config{
		MaxDuration: time.Duration(*maxSecs) * time.Second,
		Acquirer:    media.NewAcquirer(media.NewDeviceBackend(logger), logger),
		Transcriber: ai,
		Generator:   ai,
		Cover:       ai,
		Logger:      logger,
	}
	if *mode == "video" {
		cfg.Mode = capture.ModeVideo
	}
	if key := os.Getenv("ELEVENLABS_API_KEY"); key != "" && *voice != "" {
		cfg.Voice = elevenlabs.New(key, logger)
		cfg.VoiceName = *voice
		cfg.TTSCache = ttscache.New(8, 30*time.Minute)
	} else if endpoint := os.Getenv("MODAL_TTS_URL"); endpoint != "" {
		cfg.Voice = modal.New(endpoint, logger)
		cfg.VoiceName = *voice
		cfg.TTSCache = ttscache.New(8, 30*time.Minute)
	}
	if endpoint := os.Getenv("UPLOAD_URL"); endpoint != "" {
		cfg.Uploads = uploader.New(endpoint, logger)
	}

	machine, err := capture.New(cfg)
	if err != nil {
		logger.Printf("capture.New: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := machine.Start(ctx); err != nil {
		logger.Printf("start recording: %v", err)
		return
	}

	var captioner *livecaption.Captioner
	if *captions {
		key := os.Getenv("DEEPGRAM_API_KEY")
		if key == "" {
			logger.Println("captions requested but DEEPGRAM_API_KEY is unset")
		} else {
			captioner = livecaption.New(livecaption.Config{APIKey: key}, logger)
			lines, err := captioner.Start(ctx, machine.Microphone())
			if err != nil {
				logger.Printf("live captions unavailable: %v", err)
				captioner = nil
			} else {
				go func() {
					for line := range lines {
						fmt.Printf("\r\033[K> %s\n", line)
					}
				}()
			}
		}
	}

	fmt.Println("Recording... Press Ctrl+C to stop.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range machine.Events() {
			switch ev.Kind {
			case capture.EventLevels:
				fmt.Printf("\r%s %3ds", waveform(ev.Levels), machine.Elapsed())
			case capture.EventStage:
				fmt.Printf("\r\033[K  %s...\n", stageLabel(ev.Stage))
			case capture.EventState:
				fmt.Printf("\r\033[K[%s]\n", ev.State)
				if ev.State == capture.StateComplete || ev.State == capture.StateError {
					return
				}
			}
		}
	}()

	select {
	case <-sig:
		fmt.Println("\nStopping...")
		machine.Stop()
		<-done
	case <-done:
	}
	if captioner != nil {
		captioner.Stop()
	}

	sess := machine.Session()
	if sess == nil {
		return
	}
	if sess.Err != nil {
		logger.Printf("session failed: %v", sess.Err)
		if sess.Gate != nil {
			fmt.Println(sess.Gate.Message)
		}
		return
	}
	if sess.LimitReached {
		fmt.Printf("Recording stopped at the %d second limit.\n", *maxSecs)
	}
	if sess.Interrupted {
		fmt.Println("Recording stopped because the screen share ended.")
	}

	fmt.Printf("\n--- %s ---\n%s\n", titleOf(sess.Content.Content), sess.Content.Content)
	if sess.Cover != nil {
		fmt.Printf("Cover: %s\n", sess.Cover.URL)
	}
	if sess.UploadURL != "" {
		fmt.Printf("Published: %s\n", sess.UploadURL)
	}
	if sess.Gate != nil {
		fmt.Println(sess.Gate.Message)
	}

	if *output != "" {
		if err := os.WriteFile(*output, sess.Blob, 0o644); err != nil {
			logger.Printf("write %s: %v", *output, err)
			return
		}
		fmt.Printf("Saved %s (%s, %s)\n", *output, sess.MimeType, sess.Duration.Round(time.Second))
	}
}

// waveform renders a level frame as a one-line bar meter.
func waveform(levels analyzer.LevelFrame) string {
	blocks := []rune("▁▂▃▄▅▆▇█")
	var b strings.Builder
	for _, v := range levels {
		idx := int(v * float64(len(blocks)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(blocks) {
			idx = len(blocks) - 1
		}
		b.WriteRune(blocks[idx])
	}
	return b.String()
}

func stageLabel(id capture.StageID) string {
	switch id {
	case capture.StageCapture:
		return "Wrapping up the recording"
	case capture.StageTranscribe:
		return "Transcribing your recording"
	case capture.StageGenerate:
		return "Writing your post"
	case capture.StageRefine:
		return "Refining the wording"
	case capture.StageStructure:
		return "Structuring sections"
	case capture.StageFormat:
		return "Formatting"
	case capture.StagePolish:
		return "Polishing"
	case capture.StageCover:
		return "Illustrating a cover"
	case capture.StageVoice:
		return "Narrating"
	case capture.StageUpload:
		return "Uploading video"
	case capture.StageReady:
		return "Ready"
	default:
		return string(id)
	}
}

func titleOf(content string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
	if line == "" {
		return "Untitled"
	}
	return strings.TrimPrefix(line, "# ")
}
