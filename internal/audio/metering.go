// Package audio provides the capture gateway that enforces microphone
// privacy on PCM periods, plus level metering for status reporting.
package audio

import (
	"encoding/binary"
	"math"
)

const (
	// MinDB is the minimum dB level (silence).
	MinDB = -60.0
	// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
	MaxSampleValue = 32768.0
)

// LevelData holds raw sample accumulator data for level calculation.
type LevelData struct {
	SumSquaresL float64
	SumSquaresR float64
	PeakL       float64
	PeakR       float64
	SampleCount int
}

// ProcessSamples accumulates level data from S16LE stereo PCM.
func ProcessSamples(buf []byte, data *LevelData) {
	for i := 0; i+FrameSize <= len(buf); i += FrameSize {
		left := float64(int16(binary.LittleEndian.Uint16(buf[i:])))
		right := float64(int16(binary.LittleEndian.Uint16(buf[i+2:])))

		data.SumSquaresL += left * left
		data.SumSquaresR += right * right
		data.PeakL = max(data.PeakL, math.Abs(left))
		data.PeakR = max(data.PeakR, math.Abs(right))
		data.SampleCount++
	}
}

// Levels contains calculated audio levels in dB.
type Levels struct {
	RMSLeft   float64 `json:"rms_left"`
	RMSRight  float64 `json:"rms_right"`
	PeakLeft  float64 `json:"peak_left"`
	PeakRight float64 `json:"peak_right"`
}

// Silent reports whether both channels sit at the metering floor.
func (l Levels) Silent() bool {
	return l.PeakLeft <= MinDB && l.PeakRight <= MinDB
}

// CalculateLevels computes RMS and peak levels from accumulated sample data.
func CalculateLevels(data *LevelData) Levels {
	if data.SampleCount == 0 {
		return Levels{RMSLeft: MinDB, RMSRight: MinDB, PeakLeft: MinDB, PeakRight: MinDB}
	}

	rmsL := math.Sqrt(data.SumSquaresL / float64(data.SampleCount))
	rmsR := math.Sqrt(data.SumSquaresR / float64(data.SampleCount))

	return Levels{
		RMSLeft:   toDB(rmsL),
		RMSRight:  toDB(rmsR),
		PeakLeft:  toDB(data.PeakL),
		PeakRight: toDB(data.PeakR),
	}
}

// toDB converts a linear sample magnitude to dBFS, floored at MinDB.
func toDB(v float64) float64 {
	if v <= 0 {
		return MinDB
	}
	return max(20*math.Log10(v/MaxSampleValue), MinDB)
}

// Reset resets accumulators for the next measurement period.
func (d *LevelData) Reset() {
	*d = LevelData{}
}
