package audio

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/snarg/accent-engine/internal/proc"
)

// CheckSox checks if sox is available in PATH.
func CheckSox() bool {
	return proc.Available("sox")
}

// Preprocess applies speech cleanup with sox:
//   - Resample to 16kHz mono
//   - Voice bandpass filter (300-3000Hz) via sinc
//   - Normalize volume
//
// Returns the path of the cleaned WAV written next to the input. If sox is
// unavailable the input path is returned unchanged.
func Preprocess(ctx context.Context, runner proc.Runner, inputPath string) (string, error) {
	if !CheckSox() {
		return inputPath, nil
	}

	outPath := strings.TrimSuffix(inputPath, "."+Format) + ".sox." + Format
	_, err := runner.Run(ctx, "sox",
		inputPath, outPath,
		"rate", "16000",
		"channels", "1",
		"sinc", "300-3000",
		"norm",
	)
	if err != nil {
		os.Remove(outPath)
		return inputPath, fmt.Errorf("sox preprocess: %w", err)
	}
	return outPath, nil
}
