// Package session holds the per-connection voice session state machine:
// incremental audio buffering, partial transcript accumulation, early-trigger
// predicates, and the task registry that makes barge-in a single cancel.
//
// Locking discipline: Session.mu guards buffer, transcript, and timing state
// and is never held across I/O. The separate sttMu serialises speech-to-text
// so a slow call is skipped, not queued.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/ordervox/ordervox/pkg/audio"
	"github.com/ordervox/ordervox/pkg/provider/llm"
	"github.com/ordervox/ordervox/pkg/provider/stt"
)

// State is the lifecycle phase of a voice session.
type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessingSTT
	StateGeneratingLLM
	StateStreamingTTS
	StateInterrupted
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessingSTT:
		return "processing_stt"
	case StateGeneratingLLM:
		return "generating_llm"
	case StateStreamingTTS:
		return "streaming_tts"
	case StateInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

const (
	// maxBufferSize caps the audio buffer; overflow keeps the newest suffix.
	maxBufferSize = 1024 * 1024
	// overflowKeep is the suffix retained after an overflow trim.
	overflowKeep = 500_000

	// minPartialBytes is ~1.2s of PCM16 16kHz mono.
	minPartialBytes = 38400
	// minSTTInterval is the floor between partial transcription passes.
	minSTTInterval = 1200 * time.Millisecond

	// overlapTail is ~500ms kept after a pass so words spanning the cut
	// survive into the next transcription.
	overlapTail = 8000

	// silenceThreshold promotes a partial transcript to a committed turn.
	silenceThreshold = 400 * time.Millisecond
	// minTriggerWords is the word floor for the silence-based trigger.
	minTriggerWords = 3

	// historyLimit bounds the retained conversation turns.
	historyLimit = 10
)

// Option tunes a session's thresholds away from the defaults above.
type Option func(*Session)

// WithMinPartialAudio sets the minimum new-audio duration before a partial
// transcription pass, which is also the floor between passes.
func WithMinPartialAudio(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.minPartialBytes = audio.Bytes(d)
			s.minSTTInterval = d
		}
	}
}

// WithSilenceThreshold sets the quiet period that promotes a partial
// transcript to a committed turn.
func WithSilenceThreshold(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.silenceThreshold = d
		}
	}
}

// Timings are the per-turn latency marks, used for the timing report.
type Timings struct {
	TurnStart  time.Time
	STTStart   time.Time
	LLMStart   time.Time
	TTSStart   time.Time
	FirstAudio time.Time
}

// Session is the state for one connected table. All exported methods are safe
// for concurrent use.
type Session struct {
	ID           string
	TableID      int64
	RestaurantID int64
	QRToken      string

	Tasks *Registry

	minPartialBytes  int
	minSTTInterval   time.Duration
	silenceThreshold time.Duration

	mu                sync.Mutex
	state             State
	buffer            []byte
	sttCovered        int
	lastChunkAt       time.Time
	lastPartialSTTAt  time.Time
	partialTranscript string
	sttSeq            uint64
	committedSeq      uint64
	history           []llm.Turn
	timings           Timings
	createdAt         time.Time

	// sttMu is TryLock-only: a partial pass that finds it held is skipped.
	sttMu sync.Mutex
}

// New creates a session in the idle state.
func New(id string, tableID, restaurantID int64, qrToken string, opts ...Option) *Session {
	now := time.Now()
	s := &Session{
		ID:               id,
		TableID:          tableID,
		RestaurantID:     restaurantID,
		QRToken:          qrToken,
		Tasks:            NewRegistry(),
		state:            StateIdle,
		createdAt:        now,
		lastChunkAt:      now,
		minPartialBytes:  minPartialBytes,
		minSTTInterval:   minSTTInterval,
		silenceThreshold: silenceThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState moves the session to st.
func (s *Session) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// AddAudioChunk appends a PCM chunk to the buffer. On overflow the oldest
// audio is dropped and only the newest suffix kept.
func (s *Session) AddAudioChunk(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, chunk...)
	s.lastChunkAt = time.Now()
	if len(s.buffer) > maxBufferSize {
		s.buffer = append([]byte(nil), s.buffer[len(s.buffer)-overflowKeep:]...)
	}
}

// BufferedAudio returns a copy of the current buffer.
func (s *Session) BufferedAudio() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buffer...)
}

// BufferedBytes returns the current buffer length.
func (s *Session) BufferedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// CanProcessPartialSTT reports whether enough new audio and enough wall time
// have accumulated for another partial transcription pass.
func (s *Session) CanProcessPartialSTT() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer) >= s.minPartialBytes &&
		time.Since(s.lastPartialSTTAt) >= s.minSTTInterval
}

// MarkPartialSTT records a completed partial pass that covered the first
// processedBytes of the buffer. The buffer itself is untouched; the next pass
// sends the whole buffer again so words spanning chunk edges stay intact.
func (s *Session) MarkPartialSTT(processedBytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPartialSTTAt = time.Now()
	if processedBytes > s.sttCovered {
		s.sttCovered = processedBytes
	}
}

// UnprocessedBytes returns how much buffered audio no partial pass has seen.
func (s *Session) UnprocessedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.buffer) - s.sttCovered; n > 0 {
		return n
	}
	return 0
}

// TryBeginSTT attempts to claim the transcription slot. When it returns
// false a pass is already in flight and this one is skipped.
func (s *Session) TryBeginSTT() bool {
	return s.sttMu.TryLock()
}

// EndSTT releases the transcription slot claimed by TryBeginSTT.
func (s *Session) EndSTT() {
	s.sttMu.Unlock()
}

// NextSTTSeq reserves a sequence number for an in-flight transcription pass.
// Results are committed in reservation order; stale ones are dropped.
func (s *Session) NextSTTSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sttSeq++
	return s.sttSeq
}

// CommitPartial merges text into the partial transcript unless a newer pass
// already committed. Returns the merged transcript and whether it was applied.
func (s *Session) CommitPartial(seq uint64, text string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.committedSeq {
		return s.partialTranscript, false
	}
	s.committedSeq = seq
	s.partialTranscript = stt.Merge(s.partialTranscript, text)
	return s.partialTranscript, true
}

// PartialTranscript returns the accumulated partial transcript.
func (s *Session) PartialTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partialTranscript
}

// ShouldTriggerLLM reports whether the partial transcript looks like a
// finished utterance: trailing sentence punctuation, or enough words followed
// by silence.
func (s *Session) ShouldTriggerLLM() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	text := strings.TrimSpace(s.partialTranscript)
	if text == "" {
		return false
	}
	switch text[len(text)-1] {
	case '.', '!', '?':
		return true
	}
	if len(strings.Fields(text)) >= minTriggerWords &&
		time.Since(s.lastChunkAt) >= s.silenceThreshold {
		return true
	}
	return false
}

// ClearProcessedAudio drops transcribed audio. With keepOverlap an ~500ms
// tail survives so words spanning the cut stay transcribable; the STT
// interval clock restarts either way.
func (s *Session) ClearProcessedAudio(keepOverlap bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keepOverlap && len(s.buffer) > overlapTail {
		s.buffer = append([]byte(nil), s.buffer[len(s.buffer)-overlapTail:]...)
	} else if !keepOverlap {
		s.buffer = nil
	}
	s.sttCovered = 0
	s.lastPartialSTTAt = time.Now()
}

// BeginTurn commits the current partial transcript as this turn's input: it
// returns the trimmed transcript, clears it for the next utterance, and
// stamps the turn-start timing mark.
func (s *Session) BeginTurn() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := strings.TrimSpace(s.partialTranscript)
	s.partialTranscript = ""
	s.timings = Timings{TurnStart: time.Now()}
	return t
}

// ResetForNewInput clears buffer and transcript for the next utterance,
// keeping conversation history.
func (s *Session) ResetForNewInput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = nil
	s.sttCovered = 0
	s.partialTranscript = ""
	s.timings = Timings{}
	s.state = StateListening
}

// AppendTurn records a completed exchange, trimming to the history limit.
func (s *Session) AppendTurn(user, assistant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, llm.Turn{User: user, Assistant: assistant})
	if len(s.history) > historyLimit {
		s.history = append([]llm.Turn(nil), s.history[len(s.history)-historyLimit:]...)
	}
}

// History returns a copy of the retained turns, oldest first.
func (s *Session) History() []llm.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Turn(nil), s.history...)
}

// MarkTurnStart begins the per-turn timing report.
func (s *Session) MarkTurnStart() { s.mark(func(t *Timings) { t.TurnStart = time.Now() }) }

// MarkSTTStart records the first transcription pass of the turn.
func (s *Session) MarkSTTStart() { s.mark(func(t *Timings) { t.STTStart = time.Now() }) }

// MarkLLMStart records when generation began.
func (s *Session) MarkLLMStart() { s.mark(func(t *Timings) { t.LLMStart = time.Now() }) }

// MarkTTSStart records when synthesis began.
func (s *Session) MarkTTSStart() { s.mark(func(t *Timings) { t.TTSStart = time.Now() }) }

// MarkFirstAudio records when the first synthesised frame went out.
func (s *Session) MarkFirstAudio() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timings.FirstAudio.IsZero() {
		s.timings.FirstAudio = time.Now()
	}
}

func (s *Session) mark(f func(*Timings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.timings)
}

// TimingsSnapshot returns the current turn's marks.
func (s *Session) TimingsSnapshot() Timings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timings
}
