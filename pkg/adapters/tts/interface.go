package tts

import (
	"context"
)

// Synthesizer turns one piece of text into a stream of PCM chunks. Each call
// is an independent streaming request, so fragments of the same reply may be
// synthesized concurrently; ordering across fragments is the caller's job.
type Synthesizer interface {
	// Name returns the adapter name for logging.
	Name() string
	// Synthesize issues one streaming synthesis request. The returned channel
	// is closed when the remote signals completion or the context is
	// cancelled; a mid-stream failure closes it early after an Err chunk.
	Synthesize(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Request describes one synthesis call.
type Request struct {
	Text  string
	Voice string
}

// Chunk is a synthesized PCM segment, or a terminal error.
type Chunk struct {
	PCM        []byte
	SampleRate int
	Channels   int
	Err        error
}

// Config contains vendor-agnostic synthesizer configuration.
type Config struct {
	Voice      string
	SampleRate int
	Channels   int
}
