package show

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Binary show file framing: a fixed magic and version header followed by
// big-endian fixed-width integers throughout. Strings are u16 length
// prefixed. The format round-trips byte-for-byte.
var showMagic = [4]byte{'S', 'H', 'O', 'W'}

const codecVersion uint16 = 1

var (
	// ErrBadMagic means the file does not start with the show magic.
	ErrBadMagic = errors.New("not a show file")
	// ErrBadVersion means the file has an unsupported codec version.
	ErrBadVersion = errors.New("unsupported show file version")
)

// Encode writes the show in the binary file format.
func Encode(w io.Writer, s *Show) error {
	if _, err := w.Write(showMagic[:]); err != nil {
		return fmt.Errorf("writing magic: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, codecVersion); err != nil {
		return fmt.Errorf("writing version: %w", err)
	}
	if err := writeString(w, s.Name); err != nil {
		return fmt.Errorf("writing show name: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint16(len(s.Cues))); err != nil {
		return fmt.Errorf("writing cue count: %w", err)
	}
	for i := range s.Cues {
		if err := EncodeCue(w, &s.Cues[i]); err != nil {
			return fmt.Errorf("writing cue %d: %w", i, err)
		}
	}
	return nil
}

// Decode reads a show from the binary file format.
func Decode(r io.Reader) (*Show, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if magic != showMagic {
		return nil, ErrBadMagic
	}
	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	if version != codecVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, version)
	}

	s := &Show{}
	var err error
	if s.Name, err = readString(r); err != nil {
		return nil, fmt.Errorf("reading show name: %w", err)
	}
	var cueCount uint16
	if err := binary.Read(r, binary.BigEndian, &cueCount); err != nil {
		return nil, fmt.Errorf("reading cue count: %w", err)
	}
	for i := 0; i < int(cueCount); i++ {
		cue, err := DecodeCue(r)
		if err != nil {
			return nil, fmt.Errorf("reading cue %d: %w", i, err)
		}
		s.Cues = append(s.Cues, cue)
	}
	return s, nil
}

// EncodeCue writes one cue in the binary framing; CueData notifications
// reuse it to ship the full cue.
func EncodeCue(w io.Writer, c *Cue) error {
	if err := writeString(w, c.Ident); err != nil {
		return err
	}
	if err := writeString(w, c.Name); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint16(len(c.Beats))); err != nil {
		return err
	}
	for _, b := range c.Beats {
		if err := binary.Write(w, binary.BigEndian, beatRecord{b.Count, b.Bar, b.LengthUS}); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.BigEndian, uint8(len(c.events))); err != nil {
		return err
	}
	for _, e := range c.events {
		if err := binary.Write(w, binary.BigEndian, eventRecord(e)); err != nil {
			return err
		}
	}
	return nil
}

// DecodeCue reads one cue in the binary framing.
func DecodeCue(r io.Reader) (Cue, error) {
	var c Cue
	var err error
	if c.Ident, err = readString(r); err != nil {
		return c, err
	}
	if c.Name, err = readString(r); err != nil {
		return c, err
	}
	var beatCount uint16
	if err := binary.Read(r, binary.BigEndian, &beatCount); err != nil {
		return c, err
	}
	for i := 0; i < int(beatCount); i++ {
		var rec beatRecord
		if err := binary.Read(r, binary.BigEndian, &rec); err != nil {
			return c, err
		}
		c.Beats = append(c.Beats, Beat{rec.Count, rec.Bar, rec.LengthUS})
	}
	var eventCount uint8
	if err := binary.Read(r, binary.BigEndian, &eventCount); err != nil {
		return c, err
	}
	if eventCount > MaxEventsPerCue {
		return c, fmt.Errorf("cue has %d events, cap is %d", eventCount, MaxEventsPerCue)
	}
	for i := 0; i < int(eventCount); i++ {
		var rec eventRecord
		if err := binary.Read(r, binary.BigEndian, &rec); err != nil {
			return c, err
		}
		c.InsertEvent(Event(rec))
	}
	return c, nil
}

// beatRecord and eventRecord are the fixed wire layouts; binary.Write
// encodes struct fields in order with no padding bytes emitted.
type beatRecord struct {
	Count    uint8
	Bar      uint16
	LengthUS uint32
}

type eventRecord Event

func writeString(w io.Writer, s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("string too long: %d bytes", len(s))
	}
	if err := binary.Write(w, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
