package coin

import (
	"errors"
	"fmt"

	"github.com/screa/deti-coin-miner/internal/sha1lane"
	"github.com/segmentio/asm/ascii"
)

// Errors
var (
	ErrTagLength           = errors.New("tag must be exactly 12 bytes")
	ErrTagNewline          = errors.New("tag must not contain a newline")
	ErrPayloadTooLong      = fmt.Errorf("payload must be at most %d bytes", MaxPayload)
	ErrPayloadNewline      = errors.New("payload must not contain a newline")
	ErrPayloadNotPrintable = errors.New("payload must be printable ASCII")
)

// Template holds the words of a message that do not depend on the counter.
type Template struct {
	fixed       Message
	counterWord int
}

// ParseTag converts a 12-byte string into a tag.
func ParseTag(s string) ([TagSize]byte, error) {
	var tag [TagSize]byte
	if len(s) != TagSize {
		return tag, fmt.Errorf("%w: got %d", ErrTagLength, len(s))
	}
	for i := 0; i < len(s); i++ {
		if s[i] == Newline {
			return tag, ErrTagNewline
		}
	}
	copy(tag[:], s)
	return tag, nil
}

// NewTemplate lays out tag and payload. The payload is placed right after the
// tag, zero padded to a word boundary, and may be empty.
func NewTemplate(tag [TagSize]byte, payload []byte) (*Template, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: got %d", ErrPayloadTooLong, len(payload))
	}
	for _, b := range payload {
		if b == Newline {
			return nil, ErrPayloadNewline
		}
	}
	if !ascii.ValidPrint(payload) {
		return nil, ErrPayloadNotPrintable
	}

	var raw [sha1lane.MessageWords * 4]byte
	copy(raw[:], tag[:])
	copy(raw[TagSize:], payload)
	raw[newlineOffset] = Newline
	raw[len(raw)-1] = PaddingMarker

	t := &Template{
		counterWord: TagSize/4 + (len(payload)+3)/4,
	}
	for j := range t.fixed {
		t.fixed[j] = uint32(raw[j*4])<<24 | uint32(raw[j*4+1])<<16 | uint32(raw[j*4+2])<<8 | uint32(raw[j*4+3])
	}
	return t, nil
}

// MustTemplate is like NewTemplate but panics on error.
func MustTemplate(tag [TagSize]byte, payload []byte) *Template {
	t, err := NewTemplate(tag, payload)
	if err != nil {
		panic(err)
	}
	return t
}

// CounterWord is the index of the word holding the low counter half. The
// high half and the seed follow it.
func (t *Template) CounterWord() int { return t.counterWord }

// Encode builds the message for one counter value.
func (t *Template) Encode(counter uint64, seed uint32) Message {
	m := t.fixed
	m[t.counterWord] = uint32(counter)
	m[t.counterWord+1] = uint32(counter >> 32)
	m[t.counterWord+2] = seed
	return m
}

// Prime writes the counter independent words into every lane of b. It must
// be called once before Fill is used on a batch.
func (t *Template) Prime(b *sha1lane.Batch) {
	for j := 0; j <= lastWord; j++ {
		b.Broadcast(j, t.fixed[j])
	}
}

// Fill writes counter+i and seed into lane i of a primed batch.
func (t *Template) Fill(b *sha1lane.Batch, counter uint64, seed uint32) {
	lo, hi := b.Row(t.counterWord), b.Row(t.counterWord+1)
	hi = hi[:len(lo)]
	for i := range lo {
		c := counter + uint64(i)
		lo[i] = uint32(c)
		hi[i] = uint32(c >> 32)
	}
	b.Broadcast(t.counterWord+2, seed)
}
