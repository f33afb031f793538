// Package llm defines the Provider interface for the streaming language
// model that turns a customer transcript into a structured waiter reply.
//
// Implementations must be safe for concurrent use. Channels returned by
// GenerateStream are closed by the implementation when generation finishes
// or when the supplied context is cancelled; cancelling the context must
// tear the upstream stream down within one stream-read interval.
package llm

import "context"

// DefaultTemperature is the sampling temperature for waiter replies.
const DefaultTemperature = 0.7

// DefaultMaxTokens caps the completion: the reply is a single compact JSON
// object, never prose.
const DefaultMaxTokens = 100

// Chunk is one streamed fragment of the model's reply.
type Chunk struct {
	// Token is the incremental text of this chunk.
	Token string

	// FullText is the complete accumulated reply so far, including Token.
	FullText string

	// Err carries a terminal stream error. When set, Token and FullText are
	// unchanged from the previous chunk and the channel closes next.
	Err error
}

// Turn is one completed customer/waiter exchange kept as short-range
// conversational context.
type Turn struct {
	User      string
	Assistant string
}

// Request carries everything needed for one generation.
type Request struct {
	// Transcript is the customer's utterance for this turn.
	Transcript string

	// MenuContext is the rendered menu for the session's restaurant. The
	// session driver sends it with every request; implementations must not
	// cache it across requests, which would bleed one restaurant's menu into
	// another restaurant's turn.
	MenuContext string

	// History is the tail of recent turns, oldest first. Implementations use
	// at most the last three.
	History []Turn
}

// Provider is the abstraction over any streaming LLM backend.
type Provider interface {
	// GenerateStream sends req to the model and returns a read-only channel
	// emitting Chunk values as tokens arrive. The stream is finite and not
	// restartable. The returned channel is never nil when error is nil.
	GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error)
}
