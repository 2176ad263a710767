package sha1lane

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Messages are complete 56-byte blocks (tag, fields, newline, 0x80); digests
// are SHA-1 over the first 55 bytes.
var vectors = []struct {
	name    string
	message string
	digest  string
}{
	{
		name:    "all zero fields",
		message: "4445544920636f696e2032200000000000000000000000000000000000000000000000000000000000000000000000000000000000000a80",
		digest:  "65c89ef690001043947148861a0f4c61a0a88eb2",
	},
	{
		name:    "counter one with seed",
		message: "4445544920636f696e2032200000000100000000123456780000000000000000000000000000000000000000000000000000000000000a80",
		digest:  "fd584183dbe11065a5a3fe231d7e5e5208b88b70",
	},
	{
		name:    "counter above 32 bits",
		message: "4445544920636f696e203220000000030000000165f000000000000000000000000000000000000000000000000000000000000000000a80",
		digest:  "ff818a39aeda9e4401862467c539fee2908e7330",
	},
	{
		name:    "short payload",
		message: "4445544920636f696e20322068656c6c6f00000000000007000000000000002a000000000000000000000000000000000000000000000a80",
		digest:  "d52a50a5c72cafca783fb3faddd66087c8d95e8d",
	},
	{
		name:    "longest payload",
		message: "4445544920636f696e2032206162636465666768696a6b6c6d6e6f707172737475767778797a3000075bcd15000000000000000100000a80",
		digest:  "70837c21d7f5d284de523695a4948287a493e31f",
	},
}

var widths = []int{1, 3, 4, 8, 16}

func decodeMessage(t testing.TB, s string) [MessageWords]uint32 {
	t.Helper()
	raw, err := hex.DecodeString(s)
	require.NoError(t, err)
	require.Len(t, raw, MessageWords*4)
	var m [MessageWords]uint32
	for j := range m {
		m[j] = binary.BigEndian.Uint32(raw[j*4:])
	}
	return m
}

func decodeDigest(t testing.TB, s string) [DigestWords]uint32 {
	t.Helper()
	raw, err := hex.DecodeString(s)
	require.NoError(t, err)
	var h [DigestWords]uint32
	for j := range h {
		h[j] = binary.BigEndian.Uint32(raw[j*4:])
	}
	return h
}

func oracle(m *[MessageWords]uint32) [DigestWords]uint32 {
	var raw [MessageWords * 4]byte
	for j, v := range m {
		binary.BigEndian.PutUint32(raw[j*4:], v)
	}
	sum := sha1.Sum(raw[:55])
	var h [DigestWords]uint32
	for j := range h {
		h[j] = binary.BigEndian.Uint32(sum[j*4:])
	}
	return h
}

func TestSumVectors(t *testing.T) {
	for _, tt := range vectors {
		t.Run(tt.name, func(t *testing.T) {
			m := decodeMessage(t, tt.message)
			assert.Equal(t, decodeDigest(t, tt.digest), Sum(&m))
		})
	}
}

func TestCompressVectorsAllWidths(t *testing.T) {
	for _, lanes := range widths {
		engine := NewEngine(lanes)
		batch := NewBatch(lanes)
		out := NewDigests(lanes)
		for _, tt := range vectors {
			m := decodeMessage(t, tt.message)
			want := decodeDigest(t, tt.digest)
			for j := range m {
				batch.Broadcast(j, m[j])
			}
			engine.Compress(batch, out)
			for l := 0; l < lanes; l++ {
				assert.Equal(t, want, out.Extract(l), "width %d lane %d %s", lanes, l, tt.name)
			}
		}
	}
}

func TestCompressIndependentLanes(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, lanes := range widths {
		engine := NewEngine(lanes)
		batch := NewBatch(lanes)
		out := NewDigests(lanes)
		for iter := 0; iter < 50; iter++ {
			for j := 0; j < MessageWords; j++ {
				for l := 0; l < lanes; l++ {
					v := rng.Uint32()
					if j == MessageWords-1 {
						// byte 55 is the padding marker the block layout assumes
						v = v&^0xff | 0x80
					}
					batch.Set(j, l, v)
				}
			}
			engine.Compress(batch, out)
			for l := 0; l < lanes; l++ {
				m := batch.Extract(l)
				require.Equal(t, oracle(&m), out.Extract(l), "width %d lane %d", lanes, l)
				require.Equal(t, Sum(&m), out.Extract(l))
			}
		}
	}
}

func TestBatchLayout(t *testing.T) {
	b := NewBatch(4)
	b.Set(3, 2, 0xdeadbeef)
	assert.Equal(t, uint32(0xdeadbeef), b.Word(3, 2))
	assert.Equal(t, uint32(0xdeadbeef), b.Row(3)[2])
	assert.Equal(t, uint32(0), b.Word(3, 1))
	assert.Equal(t, uint32(0), b.Word(4, 2))

	b.Broadcast(0, 7)
	m := b.Extract(1)
	assert.Equal(t, uint32(7), m[0])
	assert.Equal(t, uint32(0), m[3])
}

func TestInvalidWidthPanics(t *testing.T) {
	assert.Panics(t, func() { NewBatch(0) })
	assert.Panics(t, func() { NewEngine(-1) })
	assert.Panics(t, func() { NewEngine(4).Compress(NewBatch(8), NewDigests(4)) })
}

func TestDefaultLanes(t *testing.T) {
	assert.Contains(t, []int{4, 8, 16}, DefaultLanes())
}

func BenchmarkSum(b *testing.B) {
	m := decodeMessage(b, vectors[0].message)
	b.SetBytes(55)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m[3] = uint32(i)
		Sum(&m)
	}
}

func BenchmarkCompress(b *testing.B) {
	for _, lanes := range []int{4, 8, 16} {
		b.Run(fmt.Sprintf("x%d", lanes), func(b *testing.B) {
			engine := NewEngine(lanes)
			batch := NewBatch(lanes)
			out := NewDigests(lanes)
			b.SetBytes(int64(55 * lanes))
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				batch.Set(3, 0, uint32(i))
				engine.Compress(batch, out)
			}
		})
	}
}
