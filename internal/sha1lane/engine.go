package sha1lane

import (
	"fmt"
	"math/bits"
)

// Engine compresses batches of one fixed width. It owns the scratch state of
// the computation, so an Engine must not be shared between goroutines.
type Engine struct {
	lanes int
	w     [blockWords][]uint32
	reg   [5][]uint32
}

// NewEngine returns an engine for batches of the given width.
func NewEngine(lanes int) *Engine {
	checkLanes(lanes)
	e := &Engine{lanes: lanes}
	backing := make([]uint32, (blockWords+len(e.reg))*lanes)
	for j := range e.w {
		e.w[j], backing = backing[:lanes:lanes], backing[lanes:]
	}
	for j := range e.reg {
		e.reg[j], backing = backing[:lanes:lanes], backing[lanes:]
	}
	return e
}

// Lanes returns the width the engine was built for.
func (e *Engine) Lanes() int { return e.lanes }

// Compress writes the digest of every lane of in to out. Each lane is
// computed independently; no operation mixes lanes.
func (e *Engine) Compress(in *Batch, out *Digests) {
	if in.lanes != e.lanes || out.lanes != e.lanes {
		panic(fmt.Sprintf("sha1lane: width mismatch engine=%d batch=%d digests=%d", e.lanes, in.lanes, out.lanes))
	}
	n := e.lanes

	for j := 0; j < MessageWords; j++ {
		copy(e.w[j], in.rows[j])
	}
	clear(e.w[14])
	w15 := e.w[15][:n]
	for l := range w15 {
		w15[l] = lengthBits
	}

	a, b, c, d, x := e.reg[0][:n], e.reg[1][:n], e.reg[2][:n], e.reg[3][:n], e.reg[4][:n]
	for l := 0; l < n; l++ {
		a[l], b[l], c[l], d[l], x[l] = init0, init1, init2, init3, init4
	}

	for i := 0; i < rounds; i++ {
		wi := e.w[i&0xf][:n]
		if i >= 16 {
			w3, w8, w14 := e.w[(i-3)&0xf][:n], e.w[(i-8)&0xf][:n], e.w[(i-14)&0xf][:n]
			for l := range wi {
				wi[l] = bits.RotateLeft32(w3[l]^w8[l]^w14[l]^wi[l], 1)
			}
		}

		switch {
		case i < 20:
			chooseRound(a, b, c, d, x, wi, _K0)
		case i < 40:
			parityRound(a, b, c, d, x, wi, _K1)
		case i < 60:
			majorityRound(a, b, c, d, x, wi, _K2)
		default:
			parityRound(a, b, c, d, x, wi, _K3)
		}

		// The round left T in x and rotl(b, 30) in b; renaming the rows
		// completes the register shift without moving any lane data.
		a, b, c, d, x = x, a, b, c, d
	}

	h0, h1, h2, h3, h4 := out.rows[0][:n], out.rows[1][:n], out.rows[2][:n], out.rows[3][:n], out.rows[4][:n]
	for l := 0; l < n; l++ {
		h0[l] = a[l] + init0
		h1[l] = b[l] + init1
		h2[l] = c[l] + init2
		h3[l] = d[l] + init3
		h4[l] = x[l] + init4
	}
}

func chooseRound(a, b, c, d, x, w []uint32, k uint32) {
	n := len(a)
	b, c, d, x, w = b[:n], c[:n], d[:n], x[:n], w[:n]
	for l := 0; l < n; l++ {
		f := b[l]&c[l] | (^b[l])&d[l]
		x[l] = bits.RotateLeft32(a[l], 5) + f + x[l] + w[l] + k
		b[l] = bits.RotateLeft32(b[l], 30)
	}
}

func parityRound(a, b, c, d, x, w []uint32, k uint32) {
	n := len(a)
	b, c, d, x, w = b[:n], c[:n], d[:n], x[:n], w[:n]
	for l := 0; l < n; l++ {
		f := b[l] ^ c[l] ^ d[l]
		x[l] = bits.RotateLeft32(a[l], 5) + f + x[l] + w[l] + k
		b[l] = bits.RotateLeft32(b[l], 30)
	}
}

func majorityRound(a, b, c, d, x, w []uint32, k uint32) {
	n := len(a)
	b, c, d, x, w = b[:n], c[:n], d[:n], x[:n], w[:n]
	for l := 0; l < n; l++ {
		f := ((b[l] | c[l]) & d[l]) | (b[l] & c[l])
		x[l] = bits.RotateLeft32(a[l], 5) + f + x[l] + w[l] + k
		b[l] = bits.RotateLeft32(b[l], 30)
	}
}
