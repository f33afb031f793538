// Package wire defines the JSON control messages exchanged with the browser
// over the voice channel and the Sender through which the bridge and the
// session driver emit outbound traffic.
//
// Every outbound control message carries a "type" discriminator. Binary
// frames (PCM16 audio) travel outside this package as opaque payloads.
package wire

// Inbound control message types sent by the client.
const (
	InAudioEnd         = "audio_end"
	InInterrupt        = "interrupt"
	InPing             = "ping"
	InPlaybackComplete = "playback_complete"
)

// Inbound is the envelope for client control messages. Unknown types are
// logged and ignored.
type Inbound struct {
	Type string `json:"type"`
}

// Greeting is the spoken welcome emitted on session open.
type Greeting struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewGreeting returns a greeting message for text.
func NewGreeting(text string) Greeting {
	return Greeting{Type: "greeting", Text: text}
}

// Status reports a coarse pipeline phase to the client: "receiving",
// "transcribing", "thinking", or "processing".
type Status struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewStatus returns a status message for phase.
func NewStatus(phase string) Status {
	return Status{Type: "status", Message: phase}
}

// PartialTranscript carries the merged rolling transcript mid-utterance.
type PartialTranscript struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"is_final"`
}

// NewPartialTranscript returns a partial_transcript message.
func NewPartialTranscript(text string, confidence float64) PartialTranscript {
	return PartialTranscript{Type: "partial_transcript", Text: text, Confidence: confidence}
}

// Transcript carries the committed end-of-utterance transcript.
type Transcript struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// NewTranscript returns a final transcript message.
func NewTranscript(text string) Transcript {
	return Transcript{Type: "transcript", Text: text, IsFinal: true}
}

// AIToken is one streamed model token together with the accumulated text.
type AIToken struct {
	Type     string `json:"type"`
	Token    string `json:"token"`
	FullText string `json:"full_text"`
}

// NewAIToken returns an ai_token message.
func NewAIToken(token, fullText string) AIToken {
	return AIToken{Type: "ai_token", Token: token, FullText: fullText}
}

// IntentData is the structured reply payload of ai_complete.
type IntentData struct {
	SpokenResponse string `json:"spoken_response"`
	Intent         string `json:"intent"`
	ProductName    string `json:"product_name"`
	Quantity       int    `json:"quantity"`
}

// AIComplete closes a turn with the parsed structured intent.
type AIComplete struct {
	Type string     `json:"type"`
	Data IntentData `json:"data"`
}

// NewAIComplete returns an ai_complete message.
func NewAIComplete(data IntentData) AIComplete {
	return AIComplete{Type: "ai_complete", Data: data}
}

// Recommendation carries the resolved menu item for a recommend intent.
type Recommendation struct {
	Type    string `json:"type"`
	Product any    `json:"product"`
}

// NewRecommendation returns a recommendation message wrapping product.
func NewRecommendation(product any) Recommendation {
	return Recommendation{Type: "recommendation", Product: product}
}

// TTSStart marks the beginning of a synthesised audio burst.
type TTSStart struct {
	Type string `json:"type"`
}

// NewTTSStart returns a tts_start message.
func NewTTSStart() TTSStart { return TTSStart{Type: "tts_start"} }

// TTSComplete marks the end of a synthesised audio burst.
type TTSComplete struct {
	Type string `json:"type"`
}

// NewTTSComplete returns a tts_complete message.
func NewTTSComplete() TTSComplete { return TTSComplete{Type: "tts_complete"} }

// InterruptAck acknowledges a client interrupt.
type InterruptAck struct {
	Type string `json:"type"`
}

// NewInterruptAck returns an interrupt_ack message.
func NewInterruptAck() InterruptAck { return InterruptAck{Type: "interrupt_ack"} }

// Error reports a terminal turn failure to the client.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError returns an error message.
func NewError(message string) Error {
	return Error{Type: "error", Message: message}
}

// Pong answers a client ping.
type Pong struct {
	Type string `json:"type"`
}

// NewPong returns a pong message.
func NewPong() Pong { return Pong{Type: "pong"} }

// Sender serialises all outbound traffic for one session. Implementations
// guarantee that messages are written to the channel in call order; the
// driver owns the single writer goroutine behind it.
type Sender interface {
	// Control enqueues a JSON control message.
	Control(msg any) error

	// Audio enqueues an opaque binary audio frame.
	Audio(pcm []byte) error
}
