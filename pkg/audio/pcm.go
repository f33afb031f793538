// Package audio provides PCM helpers shared by the voice pipeline.
//
// All outbound audio in Ordervox is raw PCM, 16-bit signed little-endian,
// 16 kHz, mono. Inbound audio (WebM/Opus from the browser) is treated as
// opaque bytes and never decoded here; the duration math in this package only
// applies to the PCM16 format agreed with the STT and TTS upstreams.
package audio

import (
	"encoding/binary"
	"time"
)

const (
	// SampleRate is the PCM sample rate in Hz used across the pipeline.
	SampleRate = 16000

	// BytesPerSample is the size of one PCM16 mono sample.
	BytesPerSample = 2

	// BytesPerSecond is the PCM16 mono byte rate at SampleRate.
	BytesPerSecond = SampleRate * BytesPerSample
)

// DecodePCM16LE converts raw little-endian PCM16 bytes into int16 samples.
// A trailing odd byte is ignored.
func DecodePCM16LE(data []byte) []int16 {
	n := len(data) / BytesPerSample
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
	}
	return samples
}

// EncodePCM16LE converts int16 samples into raw little-endian PCM16 bytes.
// It is the exact inverse of [DecodePCM16LE] for even-length input.
func EncodePCM16LE(samples []int16) []byte {
	data := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*BytesPerSample:], uint16(s))
	}
	return data
}

// Duration returns the playback duration of n bytes of PCM16 mono audio at
// [SampleRate].
func Duration(n int) time.Duration {
	return time.Duration(n) * time.Second / BytesPerSecond
}

// Bytes returns the number of PCM16 mono bytes covering d of audio at
// [SampleRate].
func Bytes(d time.Duration) int {
	return int(d * BytesPerSecond / time.Second)
}
