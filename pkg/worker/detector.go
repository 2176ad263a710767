package worker

import (
	"github.com/screa/deti-coin-miner/internal/sha1lane"
	"github.com/screa/deti-coin-miner/pkg/coin"
	"github.com/screa/deti-coin-miner/pkg/types"
)

// Detector picks the coins out of a hashed batch
type Detector struct {
	target   uint32
	rejected uint64
}

// NewDetector returns a detector for the given signature
func NewDetector(target uint32) *Detector {
	return &Detector{target: target}
}

// Target returns the signature digests are compared against
func (d *Detector) Target() uint32 { return d.target }

// Rejected counts matching candidates dropped for a newline in their text
func (d *Detector) Rejected() uint64 { return d.rejected }

// Check appends to dst every valid coin among the first active lanes of b,
// whose digests are in s. All lanes are scanned, so several coins can come
// out of one batch.
func (d *Detector) Check(b *sha1lane.Batch, s *sha1lane.Digests, active int, dst []types.Coin) []types.Coin {
	h0 := s.Row(0)[:active]

	hit := false
	for _, h := range h0 {
		hit = hit || h == d.target
	}
	if !hit {
		return dst
	}

	for lane, h := range h0 {
		if h != d.target {
			continue
		}
		m := coin.Message(b.Extract(lane))
		c := m.Bytes()
		if !coin.Valid(c) {
			d.rejected++
			continue
		}
		dst = append(dst, c)
	}
	return dst
}
