// Command accentcheck analyzes one video URL from the command line.
//
//	accentcheck [flags] <url>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/accent-engine/internal/accent"
	"github.com/snarg/accent-engine/internal/config"
	"github.com/snarg/accent-engine/internal/pipeline"
	"github.com/snarg/accent-engine/internal/present"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("accentcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var overrides config.Overrides
	var jsonOut bool
	fs.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env in working directory)")
	fs.StringVar(&overrides.LogLevel, "log-level", "warn", "Log level")
	fs.StringVar(&overrides.WorkDir, "work-dir", "", "Parent directory for the analysis workspace")
	fs.StringVar(&overrides.STTProvider, "stt-provider", "", "Speech-to-text provider (overrides STT_PROVIDER)")
	fs.StringVar(&overrides.WhisperURL, "whisper-url", "", "Whisper-compatible endpoint (overrides WHISPER_URL)")
	fs.BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: accentcheck [flags] <url>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger().Level(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := pipeline.SinkFunc(func(e pipeline.Event) {
		if e.Stage == pipeline.StageFailed {
			return // reported once below
		}
		fmt.Fprintln(stdout, present.StageMessage(e))
	})
	asm, err := pipeline.FromConfig(cfg, nil, log)
	if err != nil {
		fmt.Fprintf(stderr, "setup: %v\n", err)
		return 1
	}

	req := pipeline.Request{Source: fs.Arg(0), Progress: progress}
	res, err := asm.Run(ctx, req)
	if err != nil {
		fmt.Fprintln(stderr, present.StageMessage(pipeline.Event{Stage: pipeline.StageFailed, Err: err.Error()}))
		return 1
	}

	if jsonOut {
		return printJSON(stdout, stderr, res)
	}
	for _, line := range present.Lines(res) {
		fmt.Fprintln(stdout, line)
	}
	return 0
}

func printJSON(stdout, stderr io.Writer, res accent.Result) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(present.NewView("", res)); err != nil {
		fmt.Fprintf(stderr, "encode: %v\n", err)
		return 1
	}
	return 0
}
