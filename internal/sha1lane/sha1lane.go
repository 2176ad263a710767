// Package sha1lane computes single-block SHA-1 digests of fixed 55-byte
// messages, either one at a time or across many lanes in lock-step.
//
// Messages are handed over as 14 big-endian words (bytes 0..55, the last byte
// being the 0x80 padding marker). Words 14 and 15 of the block are implied: a
// zero high length word and the 440-bit message length.
package sha1lane

import "math/bits"

const (
	// MessageWords is the number of caller supplied words per message.
	MessageWords = 14
	// DigestWords is the number of words in a digest.
	DigestWords = 5

	blockWords = 16
	rounds     = 80

	// 55 message bytes, in bits.
	lengthBits = 55 * 8
)

const (
	init0 = 0x67452301
	init1 = 0xEFCDAB89
	init2 = 0x98BADCFE
	init3 = 0x10325476
	init4 = 0xC3D2E1F0
)

const (
	_K0 = 0x5A827999
	_K1 = 0x6ED9EBA1
	_K2 = 0x8F1BBCDC
	_K3 = 0xCA62C1D6
)

// Sum computes the digest of one message. It is the single-lane reference
// every batched width must agree with.
func Sum(m *[MessageWords]uint32) [DigestWords]uint32 {
	var w [blockWords]uint32
	copy(w[:], m[:])
	w[15] = lengthBits

	a, b, c, d, e := uint32(init0), uint32(init1), uint32(init2), uint32(init3), uint32(init4)

	i := 0
	for ; i < 16; i++ {
		f := b&c | (^b)&d
		t := bits.RotateLeft32(a, 5) + f + e + w[i&0xf] + _K0
		a, b, c, d, e = t, a, bits.RotateLeft32(b, 30), c, d
	}
	for ; i < 20; i++ {
		tmp := w[(i-3)&0xf] ^ w[(i-8)&0xf] ^ w[(i-14)&0xf] ^ w[i&0xf]
		w[i&0xf] = bits.RotateLeft32(tmp, 1)
		f := b&c | (^b)&d
		t := bits.RotateLeft32(a, 5) + f + e + w[i&0xf] + _K0
		a, b, c, d, e = t, a, bits.RotateLeft32(b, 30), c, d
	}
	for ; i < 40; i++ {
		tmp := w[(i-3)&0xf] ^ w[(i-8)&0xf] ^ w[(i-14)&0xf] ^ w[i&0xf]
		w[i&0xf] = bits.RotateLeft32(tmp, 1)
		f := b ^ c ^ d
		t := bits.RotateLeft32(a, 5) + f + e + w[i&0xf] + _K1
		a, b, c, d, e = t, a, bits.RotateLeft32(b, 30), c, d
	}
	for ; i < 60; i++ {
		tmp := w[(i-3)&0xf] ^ w[(i-8)&0xf] ^ w[(i-14)&0xf] ^ w[i&0xf]
		w[i&0xf] = bits.RotateLeft32(tmp, 1)
		f := ((b | c) & d) | (b & c)
		t := bits.RotateLeft32(a, 5) + f + e + w[i&0xf] + _K2
		a, b, c, d, e = t, a, bits.RotateLeft32(b, 30), c, d
	}
	for ; i < 80; i++ {
		tmp := w[(i-3)&0xf] ^ w[(i-8)&0xf] ^ w[(i-14)&0xf] ^ w[i&0xf]
		w[i&0xf] = bits.RotateLeft32(tmp, 1)
		f := b ^ c ^ d
		t := bits.RotateLeft32(a, 5) + f + e + w[i&0xf] + _K3
		a, b, c, d, e = t, a, bits.RotateLeft32(b, 30), c, d
	}

	return [DigestWords]uint32{a + init0, b + init1, c + init2, d + init3, e + init4}
}
