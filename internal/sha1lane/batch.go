package sha1lane

import "fmt"

// Batch holds the messages of one lock-step pass in structure-of-arrays
// layout: row j lane i is word j of message i.
type Batch struct {
	lanes int
	rows  [MessageWords][]uint32
}

// NewBatch allocates a zeroed batch of the given width. It panics when lanes
// is not positive.
func NewBatch(lanes int) *Batch {
	checkLanes(lanes)
	b := &Batch{lanes: lanes}
	backing := make([]uint32, MessageWords*lanes)
	for j := range b.rows {
		b.rows[j] = backing[j*lanes : (j+1)*lanes : (j+1)*lanes]
	}
	return b
}

// Lanes returns the batch width.
func (b *Batch) Lanes() int { return b.lanes }

// Row returns the lanes of message word j. Writes through the slice update
// the batch.
func (b *Batch) Row(j int) []uint32 { return b.rows[j] }

// Set stores v as word j of the message in lane i.
func (b *Batch) Set(j, i int, v uint32) { b.rows[j][i] = v }

// Word returns word j of the message in lane i.
func (b *Batch) Word(j, i int) uint32 { return b.rows[j][i] }

// Broadcast stores v as word j of every lane.
func (b *Batch) Broadcast(j int, v uint32) {
	row := b.rows[j]
	for i := range row {
		row[i] = v
	}
}

// Extract gathers the message of lane i back into contiguous words.
func (b *Batch) Extract(i int) [MessageWords]uint32 {
	var m [MessageWords]uint32
	for j := range b.rows {
		m[j] = b.rows[j][i]
	}
	return m
}

// Digests holds one digest per lane in structure-of-arrays layout.
type Digests struct {
	lanes int
	rows  [DigestWords][]uint32
}

// NewDigests allocates digest storage of the given width.
func NewDigests(lanes int) *Digests {
	checkLanes(lanes)
	d := &Digests{lanes: lanes}
	backing := make([]uint32, DigestWords*lanes)
	for j := range d.rows {
		d.rows[j] = backing[j*lanes : (j+1)*lanes : (j+1)*lanes]
	}
	return d
}

// Lanes returns the digest storage width.
func (d *Digests) Lanes() int { return d.lanes }

// Row returns digest word j of every lane.
func (d *Digests) Row(j int) []uint32 { return d.rows[j] }

// Extract returns the digest of lane i.
func (d *Digests) Extract(i int) [DigestWords]uint32 {
	var h [DigestWords]uint32
	for j := range d.rows {
		h[j] = d.rows[j][i]
	}
	return h
}

func checkLanes(lanes int) {
	if lanes < 1 {
		panic(fmt.Sprintf("sha1lane: invalid lane count %d", lanes))
	}
}
