package session

import (
	"bytes"
	"testing"
	"time"
)

func newTestSession() *Session {
	return New("test-session", 7, 1, "qr-7")
}

func TestAddAudioChunk_Appends(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	s.AddAudioChunk([]byte{1, 2, 3})
	s.AddAudioChunk([]byte{4, 5})

	got := s.BufferedAudio()
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("buffer = %v", got)
	}
}

func TestAddAudioChunk_OverflowKeepsNewestSuffix(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	// Fill just under the cap, then push it over.
	filler := make([]byte, maxBufferSize)
	s.AddAudioChunk(filler)
	marker := bytes.Repeat([]byte{0xAB}, 100)
	s.AddAudioChunk(marker)

	got := s.BufferedAudio()
	if len(got) != overflowKeep {
		t.Fatalf("buffer len = %d, want %d", len(got), overflowKeep)
	}
	if !bytes.Equal(got[len(got)-100:], marker) {
		t.Error("newest audio lost in overflow trim")
	}
}

func TestCanProcessPartialSTT(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	if s.CanProcessPartialSTT() {
		t.Error("empty buffer should not be processable")
	}

	s.AddAudioChunk(make([]byte, minPartialBytes))
	if !s.CanProcessPartialSTT() {
		t.Error("enough audio and no prior pass should be processable")
	}

	// A pass resets the interval clock.
	s.ClearProcessedAudio(false)
	s.AddAudioChunk(make([]byte, minPartialBytes))
	if s.CanProcessPartialSTT() {
		t.Error("pass immediately after the previous one should be throttled")
	}
}

func TestMarkPartialSTT_BufferKeepsGrowing(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	s.AddAudioChunk(make([]byte, minPartialBytes))

	// A partial pass stamps coverage but never shrinks the buffer: the next
	// pass re-sends the whole utterance.
	s.MarkPartialSTT(s.BufferedBytes())
	if got := s.BufferedBytes(); got != minPartialBytes {
		t.Fatalf("buffer shrank to %d after a partial pass, want %d", got, minPartialBytes)
	}
	if got := s.UnprocessedBytes(); got != 0 {
		t.Errorf("unprocessed = %d after full coverage, want 0", got)
	}
	if s.CanProcessPartialSTT() {
		t.Error("pass immediately after the previous one should be throttled")
	}

	s.AddAudioChunk(make([]byte, 20000))
	if got := s.BufferedBytes(); got != minPartialBytes+20000 {
		t.Fatalf("buffer = %d, want %d", got, minPartialBytes+20000)
	}
	if got := s.UnprocessedBytes(); got != 20000 {
		t.Errorf("unprocessed = %d, want 20000", got)
	}
}

func TestClearProcessedAudio_ResetsCoverage(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	s.AddAudioChunk(make([]byte, minPartialBytes))
	s.MarkPartialSTT(s.BufferedBytes())

	s.ClearProcessedAudio(true)
	s.AddAudioChunk(make([]byte, 100))
	if got := s.UnprocessedBytes(); got != overlapTail+100 {
		t.Errorf("unprocessed = %d after turn boundary, want %d", got, overlapTail+100)
	}
}

func TestSessionOptions_OverrideThresholds(t *testing.T) {
	t.Parallel()

	s := New("opt-session", 7, 1, "qr-7",
		WithMinPartialAudio(100*time.Millisecond),
		WithSilenceThreshold(50*time.Millisecond),
	)

	// 100ms of PCM16 16kHz mono is 3200 bytes.
	s.AddAudioChunk(make([]byte, 3200))
	if !s.CanProcessPartialSTT() {
		t.Error("lowered minimum should make a small buffer processable")
	}

	s.CommitPartial(s.NextSTTSeq(), "iki pizza istiyorum")
	s.mu.Lock()
	s.lastChunkAt = time.Now().Add(-70 * time.Millisecond)
	s.mu.Unlock()
	if !s.ShouldTriggerLLM() {
		t.Error("lowered silence threshold should trigger after 70ms of quiet")
	}
}

func TestTryBeginSTT_SkipsWhileInFlight(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	if !s.TryBeginSTT() {
		t.Fatal("first claim should succeed")
	}
	if s.TryBeginSTT() {
		t.Fatal("second claim should be skipped while in flight")
	}
	s.EndSTT()
	if !s.TryBeginSTT() {
		t.Fatal("claim after release should succeed")
	}
	s.EndSTT()
}

func TestCommitPartial_MergesAndDropsStale(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	seq1 := s.NextSTTSeq()
	seq2 := s.NextSTTSeq()

	// Newer pass lands first.
	merged, ok := s.CommitPartial(seq2, "iki pizza istiyorum")
	if !ok || merged != "iki pizza istiyorum" {
		t.Fatalf("commit seq2: merged=%q ok=%v", merged, ok)
	}

	// The older pass must be dropped, not merged.
	merged, ok = s.CommitPartial(seq1, "iki pizza")
	if ok {
		t.Error("stale commit should be dropped")
	}
	if merged != "iki pizza istiyorum" {
		t.Errorf("transcript corrupted by stale commit: %q", merged)
	}
}

func TestCommitPartial_OverlapMerge(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	if _, ok := s.CommitPartial(s.NextSTTSeq(), "merhaba iki pizza"); !ok {
		t.Fatal("first commit dropped")
	}
	merged, ok := s.CommitPartial(s.NextSTTSeq(), "iki pizza lütfen")
	if !ok {
		t.Fatal("second commit dropped")
	}
	if merged != "merhaba iki pizza lütfen" {
		t.Errorf("merged = %q", merged)
	}
}

func TestShouldTriggerLLM_Punctuation(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	s.AddAudioChunk([]byte{0}) // fresh chunk: no silence yet
	s.CommitPartial(s.NextSTTSeq(), "Hesabı alabilir miyim?")
	if !s.ShouldTriggerLLM() {
		t.Error("trailing punctuation should trigger immediately")
	}
}

func TestShouldTriggerLLM_SilenceWithEnoughWords(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	s.CommitPartial(s.NextSTTSeq(), "iki pizza istiyorum")

	s.mu.Lock()
	s.lastChunkAt = time.Now().Add(-silenceThreshold - 50*time.Millisecond)
	s.mu.Unlock()

	if !s.ShouldTriggerLLM() {
		t.Error("three words plus silence should trigger")
	}
}

func TestShouldTriggerLLM_Negative(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	if s.ShouldTriggerLLM() {
		t.Error("empty transcript must not trigger")
	}

	// Two words, no punctuation, even with silence.
	s.CommitPartial(s.NextSTTSeq(), "iki pizza")
	s.mu.Lock()
	s.lastChunkAt = time.Now().Add(-time.Second)
	s.mu.Unlock()
	if s.ShouldTriggerLLM() {
		t.Error("under the word floor must not trigger")
	}

	// Enough words but audio still arriving.
	s.CommitPartial(s.NextSTTSeq(), "iki pizza bir ayran")
	s.AddAudioChunk([]byte{0})
	if s.ShouldTriggerLLM() {
		t.Error("ongoing speech must not trigger")
	}
}

func TestClearProcessedAudio_KeepsOverlapTail(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	buf := make([]byte, overlapTail+1000)
	for i := range buf {
		buf[i] = byte(i)
	}
	s.AddAudioChunk(buf)

	s.ClearProcessedAudio(true)
	got := s.BufferedAudio()
	if len(got) != overlapTail {
		t.Fatalf("kept %d bytes, want %d", len(got), overlapTail)
	}
	if !bytes.Equal(got, buf[len(buf)-overlapTail:]) {
		t.Error("kept tail is not the newest audio")
	}

	s.ClearProcessedAudio(false)
	if s.BufferedBytes() != 0 {
		t.Error("clear without overlap should empty the buffer")
	}
}

func TestBeginTurn_TakesTranscriptAndStampsStart(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	s.CommitPartial(s.NextSTTSeq(), "iki pizza lütfen")

	got := s.BeginTurn()
	if got != "iki pizza lütfen" {
		t.Errorf("transcript = %q", got)
	}
	if s.PartialTranscript() != "" {
		t.Errorf("partial transcript not cleared: %q", s.PartialTranscript())
	}
	if s.TimingsSnapshot().TurnStart.IsZero() {
		t.Error("turn start not stamped")
	}
	if s.BeginTurn() != "" {
		t.Error("second BeginTurn should return empty")
	}
}

func TestResetForNewInput(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	s.AddAudioChunk([]byte{1, 2, 3})
	s.CommitPartial(s.NextSTTSeq(), "merhaba")
	s.AppendTurn("merhaba", "Hoş geldiniz!")
	s.SetState(StateStreamingTTS)

	s.ResetForNewInput()
	if s.BufferedBytes() != 0 {
		t.Error("buffer should be cleared")
	}
	if s.PartialTranscript() != "" {
		t.Error("partial transcript should be cleared")
	}
	if s.State() != StateListening {
		t.Errorf("state = %v, want listening", s.State())
	}
	if len(s.History()) != 1 {
		t.Error("history should survive a reset")
	}
}

func TestAppendTurn_TrimsHistory(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	for i := 0; i < historyLimit+5; i++ {
		s.AppendTurn("u", "a")
	}
	if got := len(s.History()); got != historyLimit {
		t.Errorf("history len = %d, want %d", got, historyLimit)
	}
}
