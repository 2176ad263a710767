// Package coin builds candidate messages from a counter and validates the
// byte layout of discovered coins.
package coin

import (
	"bytes"
	"encoding/binary"

	"github.com/screa/deti-coin-miner/internal/sha1lane"
	"github.com/screa/deti-coin-miner/pkg/types"
)

const (
	// TagSize is the length of the fixed tag at the start of every message.
	TagSize = 12
	// MaxPayload is the longest payload text that still leaves room for the
	// counter and seed words.
	MaxPayload = 27

	// Newline terminates the coin text at byte 54.
	Newline = 0x0A
	// PaddingMarker is the SHA-1 padding byte stored at byte 55.
	PaddingMarker = 0x80

	newlineOffset = types.LineSize - 1

	// bytes 0..11 are the tag; the newline rule covers the rest of the text
	variableStart = TagSize
	variableEnd   = newlineOffset

	lastWord = sha1lane.MessageWords - 1
)

// DefaultTag is the tag of a DETI coin.
var DefaultTag = [TagSize]byte{'D', 'E', 'T', 'I', ' ', 'c', 'o', 'i', 'n', ' ', '2', ' '}

// Message is a candidate as 14 big-endian words.
type Message [sha1lane.MessageWords]uint32

// Byte returns byte i of the message in big-endian word order.
func (m *Message) Byte(i int) byte {
	return byte(m[i/4] >> (24 - 8*uint(i%4)))
}

// Bytes returns the message as contiguous bytes.
func (m *Message) Bytes() types.Coin {
	var c types.Coin
	for j, w := range m {
		binary.BigEndian.PutUint32(c[j*4:], w)
	}
	return c
}

// Words returns the message as a plain word array for the digest engine.
func (m *Message) Words() *[sha1lane.MessageWords]uint32 {
	return (*[sha1lane.MessageWords]uint32)(m)
}

// FromBytes converts coin bytes back into message words.
func FromBytes(c types.Coin) Message {
	var m Message
	for j := range m {
		m[j] = binary.BigEndian.Uint32(c[j*4:])
	}
	return m
}

// Valid reports whether c has the coin framing: no newline among bytes
// 12..53, a newline at byte 54 and the padding marker at byte 55.
func Valid(c types.Coin) bool {
	if c[newlineOffset] != Newline || c[types.CoinSize-1] != PaddingMarker {
		return false
	}
	return bytes.IndexByte(c[variableStart:variableEnd], Newline) < 0
}

// Digest returns the SHA-1 digest words of a coin.
func Digest(c types.Coin) [sha1lane.DigestWords]uint32 {
	m := FromBytes(c)
	return sha1lane.Sum(m.Words())
}

// Matches reports whether c is a valid coin for target.
func Matches(c types.Coin, target uint32) bool {
	return Valid(c) && Digest(c)[0] == target
}
