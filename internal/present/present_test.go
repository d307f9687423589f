package present

import (
	"testing"

	"github.com/snarg/accent-engine/internal/accent"
	"github.com/snarg/accent-engine/internal/pipeline"
	"github.com/stretchr/testify/assert"
)

func TestLabel(t *testing.T) {
	tests := []struct {
		name string
		res  accent.Result
		want string
	}{
		{"accent", accent.Result{Kind: accent.KindOK, Accent: accent.British, Confidence: 90}, "British"},
		{"ok_without_accent", accent.Result{Kind: accent.KindOK}, "Unknown"},
		{"unintelligible", accent.Result{Kind: accent.KindUnintelligible}, "Could not understand the audio"},
		{"service", accent.Result{Kind: accent.KindServiceError, Cause: "whisper request: timeout"}, "Error with the Speech Recognition API: whisper request: timeout"},
		{"analysis", accent.Result{Kind: accent.KindAnalysisError, Cause: "boom"}, "Error analyzing accent: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Label(tt.res))
		})
	}
}

func TestNewView(t *testing.T) {
	v := NewView("id-1", accent.Result{Kind: accent.KindOK, Accent: accent.American, Confidence: 95, Excerpt: "my favorite", Language: "English"})
	assert.Equal(t, View{ID: "id-1", Accent: "American", Confidence: 95, Excerpt: "my favorite", Kind: "ok", Language: "English"}, v)

	v = NewView("id-2", accent.Result{Kind: accent.KindUnintelligible})
	assert.Equal(t, "Could not understand the audio", v.Accent)
	assert.Zero(t, v.Confidence)
	assert.Empty(t, v.Excerpt)
}

func TestStageMessage(t *testing.T) {
	assert.Equal(t, "Downloading video and extracting audio...", StageMessage(pipeline.Event{Stage: pipeline.StageStarted}))
	assert.Equal(t, "Video downloaded successfully: /tmp/a/source.mp4", StageMessage(pipeline.Event{Stage: pipeline.StageFetched, Path: "/tmp/a/source.mp4"}))
	assert.Equal(t, "Audio extracted and converted to WAV: /tmp/a/source.wav", StageMessage(pipeline.Event{Stage: pipeline.StageNormalized, Path: "/tmp/a/source.wav"}))
	assert.Equal(t, "Audio transcribed (12 characters)", StageMessage(pipeline.Event{Stage: pipeline.StageTranscribed, Chars: 12}))
	assert.Equal(t, "Transcription finished without text", StageMessage(pipeline.Event{Stage: pipeline.StageTranscribed, Err: "x"}))
	assert.Equal(t, "An error occurred: error downloading media: 404", StageMessage(pipeline.Event{Stage: pipeline.StageFailed, Err: "error downloading media: 404"}))
}

func TestLines(t *testing.T) {
	got := Lines(accent.Result{Kind: accent.KindOK, Accent: accent.Australian, Confidence: 85, Excerpt: "a bungalow"})
	assert.Equal(t, []string{
		"Accent: Australian",
		"Confidence in English accent: 85%",
		"Summary of audio: a bungalow",
	}, got)
}
