package ltc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestFrameSyncWord(t *testing.T) {
	w := Frame(NewInstant(Rate25), FrameFlags{}, 0)

	// The sync word occupies bits 64..79: 0b1011111111111100 LSB first, so
	// bits 2..13 and 15 of the pattern are set.
	want := []int{66, 67, 68, 69, 70, 71, 72, 73, 74, 75, 76, 77, 79}
	for bit := 64; bit < 80; bit++ {
		expected := false
		for _, b := range want {
			if b == bit {
				expected = true
			}
		}
		assert.Equal(t, expected, w.Bit(bit), "bit %d", bit)
	}
}

func TestFrameTimeFields(t *testing.T) {
	in := NewInstant(Rate25)
	in.SetTime(12, 34, 56, 7)
	w := Frame(in, FrameFlags{}, 0)

	field := func(shift, width int) uint64 {
		var v uint64
		for i := 0; i < width; i++ {
			if w.Bit(shift + i) {
				v |= 1 << i
			}
		}
		return v
	}

	// Frame units carry the next frame number: (7%10 + 1) % 25 = 8.
	assert.Equal(t, uint64(8), field(0, 4), "frame units")
	assert.Equal(t, uint64(0), field(8, 2), "frame tens")
	assert.Equal(t, uint64(6), field(16, 4), "seconds units")
	assert.Equal(t, uint64(5), field(24, 3), "seconds tens")
	assert.Equal(t, uint64(4), field(32, 4), "minutes units")
	assert.Equal(t, uint64(3), field(40, 3), "minutes tens")
	assert.Equal(t, uint64(2), field(48, 4), "hours units")
	assert.Equal(t, uint64(1), field(56, 2), "hours tens")
}

func TestFrameFlagsBits(t *testing.T) {
	w := Frame(NewInstant(Rate30), FrameFlags{DropFrame: true, ColorFraming: true, ExternalClock: true}, 0)
	assert.True(t, w.Bit(10), "drop-frame flag")
	assert.True(t, w.Bit(11), "color-framing flag")
	assert.True(t, w.Bit(58), "external-clock flag")
}

// The parity bit keeps the total number of set bits even; at zero timecode
// and 25 fps it lands on bit 59.
func TestFrameParityAtZero(t *testing.T) {
	w := Frame(NewInstant(Rate25), FrameFlags{}, 0)
	require.Zero(t, w.PopCount()%2, "set bit count must be even")
}

func TestFrameParityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rate := rapid.SampledFrom([]uint16{Rate24, Rate25, Rate30}).Draw(t, "rate")
		in := NewInstant(rate)
		in.SetTime(
			int16(rapid.IntRange(0, 23).Draw(t, "h")),
			int16(rapid.IntRange(0, 59).Draw(t, "m")),
			int16(rapid.IntRange(0, 59).Draw(t, "s")),
			int16(rapid.IntRange(0, int(rate)-1).Draw(t, "f")),
		)
		w := Frame(in, FrameFlags{}, rapid.Uint32().Draw(t, "user"))
		if w.PopCount()%2 != 0 {
			t.Fatalf("odd parity for %+v", in)
		}
	})
}

// Rise and fall times of the rendered waveform at 48 kHz / 25 fps must sit
// inside the 40–65 µs window of EBU tech3097.
func TestRenderRiseTime(t *testing.T) {
	const (
		sampleRate    = 48000
		samplesPerBit = sampleRate / Rate25 / BitsPerFrame // 24
		usPerSample   = 1e6 / float64(sampleRate)
	)
	w := Frame(NewInstant(Rate25), FrameFlags{}, 0)
	buf := make([]float32, BitsPerFrame*samplesPerBit)
	Render(buf, w, samplesPerBit, 1.0)

	// Walk every transition and measure the 10%-to-90% crossing time by
	// linear interpolation between samples.
	crossing := func(from, to, level float64, i int) float64 {
		// Position within [i, i+1] where the waveform passes level.
		return float64(i) + (level-from)/(to-from)
	}

	measured := 0
	for i := samplesPerBit; i < len(buf)-samplesPerBit; i++ {
		prev, next := float64(buf[i]), float64(buf[i+1])
		if prev < -0.8 && next >= -0.8 {
			// Rising edge: find where it passes -0.8 and +0.8.
			start := crossing(prev, next, -0.8, i)
			end := start
			for j := i; j < len(buf)-1; j++ {
				a, b := float64(buf[j]), float64(buf[j+1])
				if a < 0.8 && b >= 0.8 {
					end = crossing(a, b, 0.8, j)
					break
				}
			}
			if end > start {
				rise := (end - start) * usPerSample
				if rise < 40 || rise > 65 {
					t.Fatalf("rise time %.1f µs outside 40–65 µs at sample %d", rise, i)
				}
				measured++
				i += samplesPerBit / 2
			}
		}
	}
	require.Greater(t, measured, 10, "expected to measure many rising edges")
}

func TestRenderBiphasePolarity(t *testing.T) {
	// A zero bit holds one level across the bit; a one bit flips at the
	// midpoint. Use an unsmoothed check on the raw pattern by inspecting
	// mid-bit samples away from transition regions.
	const spb = 24
	w := Frame(NewInstant(Rate25), FrameFlags{}, 0)
	buf := make([]float32, BitsPerFrame*spb)
	Render(buf, w, spb, 1.0)

	for bit := 1; bit < BitsPerFrame-1; bit++ {
		q1 := buf[bit*spb+spb/4]
		q3 := buf[bit*spb+3*spb/4]
		if w.Bit(bit) {
			assert.Less(t, q1*q3, float32(0), "one-bit %d must flip at midpoint", bit)
		} else {
			assert.Greater(t, q1*q3, float32(0), "zero-bit %d must hold its level", bit)
		}
	}
}
