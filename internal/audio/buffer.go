package audio

import (
	"encoding/binary"
	"math"
)

// FrameSize is the size of one S16LE stereo frame in bytes.
const FrameSize = 4

// DefaultSampleRate is the capture sample rate in Hz.
const DefaultSampleRate = 48000

// PCMBuffer is a period of interleaved S16LE stereo samples.
type PCMBuffer struct {
	data []byte
}

// NewPCMBuffer returns a zeroed buffer holding frames stereo frames.
func NewPCMBuffer(frames int) *PCMBuffer {
	return &PCMBuffer{data: make([]byte, frames*FrameSize)}
}

// Bytes returns the underlying sample bytes.
func (b *PCMBuffer) Bytes() []byte {
	return b.data
}

// Frames returns the number of stereo frames in the buffer.
func (b *PCMBuffer) Frames() int {
	return len(b.data) / FrameSize
}

// Zero clears the whole buffer.
func (b *PCMBuffer) Zero() {
	clear(b.data)
}

// IsSilent reports whether every sample is zero.
func (b *PCMBuffer) IsSilent() bool {
	for _, v := range b.data {
		if v != 0 {
			return false
		}
	}
	return true
}

// Source fills PCM periods.
type Source interface {
	Read(p []byte)
}

// ToneSource generates a continuous stereo sine tone.
type ToneSource struct {
	freq       float64
	sampleRate int
	amplitude  float64
	phase      float64
}

// NewToneSource returns a sine source at freq Hz with amplitude in (0, 1].
func NewToneSource(freq float64, sampleRate int, amplitude float64) *ToneSource {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &ToneSource{freq: freq, sampleRate: sampleRate, amplitude: amplitude}
}

// Read fills p with whole frames of the tone, keeping phase across calls.
func (t *ToneSource) Read(p []byte) {
	step := 2 * math.Pi * t.freq / float64(t.sampleRate)
	for i := 0; i+FrameSize <= len(p); i += FrameSize {
		v := uint16(int16(math.Sin(t.phase) * t.amplitude * (MaxSampleValue - 1)))
		binary.LittleEndian.PutUint16(p[i:], v)
		binary.LittleEndian.PutUint16(p[i+2:], v)
		t.phase += step
		if t.phase >= 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
}
