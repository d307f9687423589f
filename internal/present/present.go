// Package present turns pipeline results and progress events into the text
// and JSON shown to users.
package present

import (
	"fmt"

	"github.com/snarg/accent-engine/internal/accent"
	"github.com/snarg/accent-engine/internal/pipeline"
)

// Label is the user-facing accent line for a result.
func Label(r accent.Result) string {
	switch r.Kind {
	case accent.KindUnintelligible:
		return "Could not understand the audio"
	case accent.KindServiceError:
		return "Error with the Speech Recognition API: " + r.Cause
	case accent.KindAnalysisError:
		return "Error analyzing accent: " + r.Cause
	default:
		if r.Accent == "" {
			return accent.Unknown
		}
		return r.Accent
	}
}

// View is the JSON body returned for a finished analysis.
type View struct {
	ID         string `json:"id,omitempty"`
	Accent     string `json:"accent"`
	Confidence int    `json:"confidence"`
	Excerpt    string `json:"excerpt"`
	Kind       string `json:"kind"`
	Language   string `json:"language,omitempty"`
	Cause      string `json:"cause,omitempty"`
}

// NewView builds the response body for a result.
func NewView(id string, r accent.Result) View {
	return View{
		ID:         id,
		Accent:     Label(r),
		Confidence: r.Confidence,
		Excerpt:    r.Excerpt,
		Kind:       string(r.Kind),
		Language:   r.Language,
		Cause:      r.Cause,
	}
}

// StageMessage is the progress line for a pipeline event.
func StageMessage(e pipeline.Event) string {
	switch e.Stage {
	case pipeline.StageStarted:
		return "Downloading video and extracting audio..."
	case pipeline.StageFetched:
		return fmt.Sprintf("Video downloaded successfully: %s", e.Path)
	case pipeline.StageNormalized:
		return fmt.Sprintf("Audio extracted and converted to WAV: %s", e.Path)
	case pipeline.StageTranscribed:
		if e.Err != "" {
			return "Transcription finished without text"
		}
		return fmt.Sprintf("Audio transcribed (%d characters)", e.Chars)
	case pipeline.StageClassified:
		return "Accent analysis complete"
	case pipeline.StageFailed:
		return "An error occurred: " + e.Err
	default:
		return string(e.Stage)
	}
}

// Lines renders a result the way the interactive form shows it.
func Lines(r accent.Result) []string {
	return []string{
		"Accent: " + Label(r),
		fmt.Sprintf("Confidence in English accent: %d%%", r.Confidence),
		"Summary of audio: " + r.Excerpt,
	}
}
