// Package ltc implements SMPTE linear timecode arithmetic and waveform
// generation: normalized hh:mm:ss:ff instants with sub-frame progress, the
// 80-bit LTC frame word, and its biphase-mark audio rendering.
package ltc

// Supported SMPTE frame rates.
const (
	Rate24 = 24
	Rate25 = 25
	Rate30 = 30
)

// progressPerFrame is the sub-frame resolution: FrameProgress counts
// 1/65536ths of a frame.
const progressPerFrame = 65536

// Instant is a timecode position. FrameProgress is the fraction of the
// current frame already elapsed, in units of 1/65536 frame.
type Instant struct {
	H, M, S, F    int16
	FrameProgress uint16
	FrameRate     uint16
}

// NewInstant returns a zeroed instant at the given frame rate.
func NewInstant(frameRate uint16) Instant {
	return Instant{FrameRate: frameRate}
}

// SetTime replaces the hh:mm:ss:ff fields and zeroes the frame progress.
func (t *Instant) SetTime(h, m, s, f int16) {
	t.H, t.M, t.S, t.F = h, m, s, f
	t.FrameProgress = 0
}

// AddProgress advances the instant by p units of 1/65536 frame, carrying
// overflow into frames, seconds, minutes and hours.
func (t *Instant) AddProgress(p uint32) {
	total := uint64(t.FrameProgress) + uint64(p)
	frames := total / progressPerFrame
	t.FrameProgress = uint16(total % progressPerFrame)
	if rate := uint64(t.FrameRate); rate != 0 {
		// Carry whole seconds first so F cannot overflow int16.
		t.S += int16(frames / rate)
		frames %= rate
	}
	t.F += int16(frames)
	t.normalizeUp()
}

// AddUS advances the instant by us microseconds at its frame rate.
func (t *Instant) AddUS(us uint64) {
	// progress units per microsecond = rate * 65536 / 1e6; multiply first
	// to keep sub-frame precision.
	t.AddProgress(uint32(us * uint64(t.FrameRate) * progressPerFrame / 1_000_000))
}

// SubUS rewinds the instant by us microseconds at its frame rate, clamping
// at zero.
func (t *Instant) SubUS(us uint64) {
	p := us * uint64(t.FrameRate) * progressPerFrame / 1_000_000
	total := t.totalProgress()
	if p >= total {
		t.SetTime(0, 0, 0, 0)
		return
	}
	t.setFromProgress(total - p)
}

// setFromProgress rebuilds the hh:mm:ss:ff fields from a single count of
// 1/65536-frame units.
func (t *Instant) setFromProgress(total uint64) {
	rate := uint64(t.FrameRate)
	t.FrameProgress = uint16(total % progressPerFrame)
	frames := total / progressPerFrame
	t.F = int16(frames % rate)
	secs := frames / rate
	t.S = int16(secs % 60)
	mins := secs / 60
	t.M = int16(mins % 60)
	t.H = int16(mins / 60)
}

// totalProgress returns the instant as a single count of 1/65536-frame units.
func (t *Instant) totalProgress() uint64 {
	rate := uint64(t.FrameRate)
	frames := uint64(t.F) + rate*(uint64(t.S)+60*(uint64(t.M)+60*uint64(t.H)))
	return frames*progressPerFrame + uint64(t.FrameProgress)
}

// normalizeUp carries positive overflow F -> S -> M -> H.
func (t *Instant) normalizeUp() {
	rate := int16(t.FrameRate)
	if rate == 0 {
		return
	}
	t.S += t.F / rate
	t.F %= rate
	t.M += t.S / 60
	t.S %= 60
	t.H += t.M / 60
	t.M %= 60
}

// SameFrame reports whether two instants label the same frame, ignoring
// sub-frame progress.
func (t Instant) SameFrame(o Instant) bool {
	return t.H == o.H && t.M == o.M && t.S == o.S && t.F == o.F
}
