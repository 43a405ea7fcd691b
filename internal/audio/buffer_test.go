package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPCMBuffer(t *testing.T) {
	b := NewPCMBuffer(8)
	assert.Equal(t, 8, b.Frames())
	assert.Len(t, b.Bytes(), 8*FrameSize)
	assert.True(t, b.IsSilent())

	b.Bytes()[5] = 1
	assert.False(t, b.IsSilent())

	b.Zero()
	assert.True(t, b.IsSilent())
}

func TestToneSourceIsContinuous(t *testing.T) {
	one := NewToneSource(1000, 48000, 0.5)
	split := NewToneSource(1000, 48000, 0.5)

	whole := make([]byte, 96*FrameSize)
	one.Read(whole)

	first := make([]byte, 48*FrameSize)
	second := make([]byte, 48*FrameSize)
	split.Read(first)
	split.Read(second)

	assert.Equal(t, whole, append(first, second...))
}

func TestLevels(t *testing.T) {
	var data LevelData
	assert.True(t, CalculateLevels(&data).Silent())

	buf := NewPCMBuffer(480)
	NewToneSource(1000, 48000, 0.5).Read(buf.Bytes())
	ProcessSamples(buf.Bytes(), &data)
	levels := CalculateLevels(&data)

	assert.Equal(t, 480, data.SampleCount)
	assert.InDelta(t, -6.0, levels.PeakLeft, 0.5)
	assert.InDelta(t, -9.0, levels.RMSLeft, 0.5)
	assert.Equal(t, levels.PeakLeft, levels.PeakRight)
	assert.False(t, levels.Silent())

	data.Reset()
	assert.Zero(t, data.SampleCount)
}
