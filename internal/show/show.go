// Package show holds the data model for a show: an ordered list of cues,
// each a metrical score of variable-length beats with an ordered table of
// beat-addressed events.
package show

import "github.com/cuepilot/cuepilot/internal/ltc"

// MaxEventsPerCue caps the event table of a single cue.
const MaxEventsPerCue = 64

// Beat is one metrical tick. Count is the 1-based position within the bar
// (1 means downbeat), Bar the bar number, LengthUS the duration in
// microseconds.
type Beat struct {
	Count    uint8
	Bar      uint16
	LengthUS uint32
}

// Cue is the unit a show is composed of: metadata, a per-beat length table
// and an event table ordered by beat location.
type Cue struct {
	Ident string
	Name  string
	Beats []Beat

	// events is kept sorted by Location; use InsertEvent to add.
	events []Event
}

// NewCue builds a cue, inserting the given events in location order.
func NewCue(ident, name string, beats []Beat, events []Event) Cue {
	c := Cue{Ident: ident, Name: name, Beats: beats}
	for _, e := range events {
		c.InsertEvent(e)
	}
	return c
}

// Beat returns the beat at index i, if it exists.
func (c *Cue) Beat(i uint16) (Beat, bool) {
	if int(i) >= len(c.Beats) {
		return Beat{}, false
	}
	return c.Beats[i], true
}

// Len returns the number of beats in the cue.
func (c *Cue) Len() int { return len(c.Beats) }

// Events returns the full event table in location order.
func (c *Cue) Events() []Event { return c.events }

// EventsAt returns the ordered events located at beat index loc. The result
// aliases the cue's table; it must not be mutated. Safe to call from the
// realtime path: no allocation.
func (c *Cue) EventsAt(loc uint16) []Event {
	lo := 0
	for lo < len(c.events) && c.events[lo].Location < loc {
		lo++
	}
	hi := lo
	for hi < len(c.events) && c.events[hi].Location == loc {
		hi++
	}
	return c.events[lo:hi]
}

// InsertEvent adds e to the table, preserving location order. Events past
// the per-cue cap are dropped.
func (c *Cue) InsertEvent(e Event) {
	if len(c.events) >= MaxEventsPerCue {
		return
	}
	i := len(c.events)
	for i > 0 && c.events[i-1].Location > e.Location {
		i--
	}
	c.events = append(c.events, Event{})
	copy(c.events[i+1:], c.events[i:])
	c.events[i] = e
}

// DurationUS sums the beat lengths of the cue.
func (c *Cue) DurationUS() uint64 {
	var total uint64
	for _, b := range c.Beats {
		total += uint64(b.LengthUS)
	}
	return total
}

// Show is an ordered sequence of cues plus metadata.
type Show struct {
	Name string
	Cues []Cue
}

// Cue returns a pointer to the cue at index i, if it exists. Cues are
// immutable once loaded.
func (s *Show) Cue(i int) (*Cue, bool) {
	if i < 0 || i >= len(s.Cues) {
		return nil, false
	}
	return &s.Cues[i], true
}

// Summary is the lightweight form of a show shipped in ShowData
// notifications: names only, no beat or event tables.
type Summary struct {
	Name     string
	CueCount int
	Idents   []string
	Names    []string
}

// Lightweight builds the notification summary of the show.
func (s *Show) Lightweight() Summary {
	sum := Summary{Name: s.Name, CueCount: len(s.Cues)}
	for i := range s.Cues {
		sum.Idents = append(sum.Idents, s.Cues[i].Ident)
		sum.Names = append(sum.Names, s.Cues[i].Name)
	}
	return sum
}

// Example returns the built-in fallback show used when no show file can be
// read at boot: a single looping cue of four-beat bars with a conditional
// jump from bar 4 back to bar 2, a metronome-friendly tempo, and timecode
// from zero.
func Example() *Show {
	const beatUS = 500_000
	beats := make([]Beat, 16)
	for i := range beats {
		beats[i] = Beat{
			Count:    uint8(i%4) + 1,
			Bar:      uint16(i/4) + 1,
			LengthUS: beatUS,
		}
	}
	cue := NewCue("0.1", "Example Loop", beats, []Event{
		{Location: 0, Kind: EventTimecodeSet, Time: ltc.NewInstant(ltc.Rate25)},
		{
			Location:    12,
			Kind:        EventJump,
			Destination: 4,
			Requirement: RequireVLTOn,
			WhenJumped:  VLTNone,
			WhenPassed:  VLTNone,
		},
	})
	return &Show{Name: "Example Show", Cues: []Cue{cue}}
}
