package pipeline

import (
	"time"

	"github.com/snarg/accent-engine/internal/accent"
)

// Stage names a progress point in a run.
type Stage string

const (
	StageStarted     Stage = "started"
	StageFetched     Stage = "fetched"
	StageNormalized  Stage = "normalized"
	StageTranscribed Stage = "transcribed"
	StageClassified  Stage = "classified"
	StageFailed      Stage = "failed"
)

// Event is emitted after each completed stage.
type Event struct {
	AnalysisID string         `json:"analysis_id"`
	Stage      Stage          `json:"stage"`
	Time       time.Time      `json:"time"`
	Source     string         `json:"source,omitempty"`
	Path       string         `json:"path,omitempty"`
	Format     string         `json:"format,omitempty"`
	Chars      int            `json:"chars,omitempty"`
	Err        string         `json:"error,omitempty"`
	Result     *accent.Result `json:"result,omitempty"`
}

// Sink receives progress events. Emit must not block for long.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Sinks fans an event out to several sinks in order.
type Sinks []Sink

func (s Sinks) Emit(e Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Emit(e)
		}
	}
}
