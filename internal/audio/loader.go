package audio

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/cuepilot/cuepilot/internal/show"
)

// silenceFallbackLen is the length of the silence buffer published when a
// clip fails to decode.
const silenceFallbackLen = 48000

// PlaybackHandler is the non-realtime loader side of clip playback. It
// pre-scans the show to size each channel's clip slots, and decodes a cue's
// media into the slots when the cue is prepared. Decoding never reaches the
// realtime thread: buffers arrive there only via the slots' atomic
// publication.
type PlaybackHandler struct {
	mediaDir    string
	numChannels int
	store       *ClipStore
	logger      *slog.Logger
}

// NewPlaybackHandler builds a loader over the media directory, which holds
// clips at {channel:03}/{clip:03}.wav.
func NewPlaybackHandler(mediaDir string, numChannels int, logger *slog.Logger) *PlaybackHandler {
	return &PlaybackHandler{
		mediaDir:    mediaDir,
		numChannels: numChannels,
		logger:      logger.With("subsystem", "playback-loader"),
	}
}

// NumChannelClipsInCue counts the PlaybackStart events for a channel in a
// cue. Channels beyond the configured count always report zero.
func (h *PlaybackHandler) NumChannelClipsInCue(cue *show.Cue, channel int) int {
	if channel >= h.numChannels {
		return 0
	}
	n := 0
	for _, ev := range cue.Events() {
		if ev.Kind == show.EventPlaybackStart && int(ev.Channel) == channel {
			n++
		}
	}
	return n
}

// PrepareShow sizes each channel's slot list to the most clips any single
// cue asks of that channel, and builds the store.
func (h *PlaybackHandler) PrepareShow(s *show.Show) *ClipStore {
	slots := make([]int, h.numChannels)
	for ch := 0; ch < h.numChannels; ch++ {
		for i := range s.Cues {
			if n := h.NumChannelClipsInCue(&s.Cues[i], ch); n > slots[ch] {
				slots[ch] = n
			}
		}
	}
	h.store = NewClipStore(slots)
	return h.store
}

// Sources builds one PlaybackDevice per channel over the prepared store.
// PrepareShow must have run first.
func (h *PlaybackHandler) Sources() []*SourceConfig {
	sources := make([]*SourceConfig, 0, h.numChannels)
	for ch := 0; ch < h.numChannels; ch++ {
		dev := NewPlaybackDevice(uint8(ch), h.store.Channel(ch))
		sources = append(sources, NewSourceConfig(fmt.Sprintf("playback_%d", ch), dev))
	}
	return sources
}

// clipIdxsInCue returns, per channel, the distinct clip indices the cue
// references, in order of first appearance.
func (h *PlaybackHandler) clipIdxsInCue(cue *show.Cue) [][]int {
	clips := make([][]int, h.numChannels)
	for _, ev := range cue.Events() {
		if ev.Kind != show.EventPlaybackStart || int(ev.Channel) >= h.numChannels {
			continue
		}
		ch := int(ev.Channel)
		seen := false
		for _, idx := range clips[ch] {
			if idx == int(ev.Clip) {
				seen = true
				break
			}
		}
		if !seen {
			clips[ch] = append(clips[ch], int(ev.Clip))
		}
	}
	return clips
}

// LoadCue decodes the cue's distinct clips per channel and publishes them
// into the slots. A clip that fails to decode publishes a silence buffer
// and logs the error; loading never panics the engine.
func (h *PlaybackHandler) LoadCue(cue *show.Cue) {
	for ch, clips := range h.clipIdxsInCue(cue) {
		sort.Ints(clips)
		slots := h.store.Channel(ch)
		for i, clipIdx := range clips {
			if i >= len(slots) {
				break
			}
			pcm, err := DecodeWAVFile(h.clipPath(ch, clipIdx))
			if err != nil {
				h.logger.Error("decoding playback media",
					"channel", ch,
					"clip", clipIdx,
					"error", err,
				)
				pcm = make([]float32, silenceFallbackLen)
			}
			slots[i].Publish(clipIdx, pcm)
		}
	}
}

// clipPath maps a channel and clip index onto the media layout.
func (h *PlaybackHandler) clipPath(channel, clip int) string {
	return filepath.Join(h.mediaDir, fmt.Sprintf("%03d", channel), fmt.Sprintf("%03d.wav", clip))
}
