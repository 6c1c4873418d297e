package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/loqalabs/loqa-vc/internal/audio"
	"github.com/loqalabs/loqa-vc/internal/config"
	"github.com/loqalabs/loqa-vc/internal/conversion"
	"github.com/loqalabs/loqa-vc/internal/runtime"
)

var version = "0.1.0-dev"

const defaultConfigPath = "loqa-vc.yaml"

type oneShot struct {
	text       string
	voice      string
	source     string
	reference  string
	out        string
	f0         bool
	pitchShift int
	steps      int
}

func main() {
	var (
		configPath  string
		envFile     string
		showVersion bool
		shot        oneShot
	)

	flag.StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file")
	flag.StringVar(&envFile, "env", ".env", "Optional dotenv file with LOQA_* overrides")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.StringVar(&shot.text, "text", "", "Convert this text once and exit")
	flag.StringVar(&shot.voice, "voice", "", "Source voice for -text")
	flag.StringVar(&shot.source, "source", "", "Convert this audio file once and exit")
	flag.StringVar(&shot.reference, "reference", "", "Reference audio for one-shot conversion")
	flag.StringVar(&shot.out, "out", "converted.wav", "Output WAV path for one-shot conversion")
	flag.BoolVar(&shot.f0, "f0", false, "Use the pitch-conditioned profile")
	flag.IntVar(&shot.pitchShift, "pitch-shift", 0, "Pitch shift in semitones")
	flag.IntVar(&shot.steps, "steps", 0, "Diffusion steps (0 keeps the configured default)")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	bootstrap := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		bootstrap.Error("failed to load env file", slog.String("path", envFile), slog.String("error", err.Error()))
		os.Exit(1)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		bootstrap.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Telemetry.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if shot.text != "" || shot.source != "" {
		if err := convertOnce(ctx, cfg, logger, shot); err != nil {
			logger.Error("conversion failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	rt := runtime.New(cfg, logger)
	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// loadConfig falls back to defaults when the default config file is absent.
func loadConfig(path string) (config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return config.Load(path)
}

func convertOnce(ctx context.Context, cfg config.Config, logger *slog.Logger, shot oneShot) error {
	pipeline, models, err := runtime.NewPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer models.Close()

	req := pipeline.Defaults()
	req.ID = "cli"
	req.Text = shot.text
	req.SourcePath = shot.source
	req.ReferencePath = shot.reference
	req.F0Condition = shot.f0
	req.PitchShift = shot.pitchShift
	if shot.voice != "" {
		req.Voice = shot.voice
	}
	if shot.steps > 0 {
		req.DiffusionSteps = shot.steps
	}

	res, err := pipeline.Convert(ctx, req, conversion.Handlers{
		Chunk: func(c conversion.Chunk) error {
			logger.Debug("chunk ready", slog.Int("sequence", c.Sequence), slog.Int("samples", c.Samples))
			return nil
		},
	})
	if err != nil {
		return err
	}
	if err := audio.WriteWAV(shot.out, audio.Buffer{Samples: res.Samples, SampleRate: res.SampleRate}); err != nil {
		return err
	}
	logger.Info("conversion written",
		slog.String("path", shot.out),
		slog.Int("chunks", res.Chunks),
		slog.Duration("elapsed", res.Elapsed))
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
