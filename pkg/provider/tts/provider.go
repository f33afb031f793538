// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service and presents a uniform
// streaming interface: SpeakStream accepts one utterance and returns a channel
// of raw PCM16 little-endian 16 kHz mono audio chunks as they become
// available, enabling playback to begin before synthesis completes.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any streaming TTS backend.
type Provider interface {
	// SpeakStream synthesises text and returns a channel emitting raw PCM16
	// little-endian 16 kHz mono audio chunks as they arrive. The channel is
	// closed when synthesis completes or ctx is cancelled; cancelling the
	// context must tear the upstream stream down promptly. The caller must
	// drain the channel.
	//
	// Returns a non-nil error only when the stream cannot be started.
	SpeakStream(ctx context.Context, text string) (<-chan []byte, error)

	// Warmup sends a trivial synthesis request to keep the remote model
	// resident. Results are discarded.
	Warmup(ctx context.Context) error
}
