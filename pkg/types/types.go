package types

import (
	"encoding/hex"
	"strconv"
	"time"
)

// CoinSize is the length of a candidate message in bytes, padding marker included.
const CoinSize = 56

// LineSize is the printable part of a coin: tag through the terminating newline.
const LineSize = CoinSize - 1

// Coin holds the bytes of a validated candidate message
type Coin [CoinSize]byte

// Line returns the coin text including its trailing newline
func (c Coin) Line() []byte {
	return c[:LineSize]
}

// Hex returns the hex encoding of all 56 bytes
func (c Coin) Hex() string {
	return hex.EncodeToString(c[:])
}

func (c Coin) String() string {
	return strconv.Quote(string(c[:LineSize-1]))
}

// Range is a half-open interval [Start, End) of the counter space
type Range struct {
	Start uint64
	End   uint64
}

// Len returns the number of counters in the range
func (r Range) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Empty reports whether the range contains no counters
func (r Range) Empty() bool {
	return r.End <= r.Start
}

// Contains reports whether counter lies inside the range
func (r Range) Contains(counter uint64) bool {
	return counter >= r.Start && counter < r.End
}

// Recorder durably stores discovered coins. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(c Coin) error
	Flush() error
}

// StopReason explains why a search loop returned
type StopReason int

const (
	// Exhausted means every counter of the range was searched.
	Exhausted StopReason = iota
	// Stopped means a stop was observed before the range ran out.
	Stopped
)

func (r StopReason) String() string {
	switch r {
	case Exhausted:
		return "exhausted"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of global search progress
type Stats struct {
	Attempts uint64
	Issued   uint64
	Coins    int
	Rejected int
	Active   int
	Joined   int
	Elapsed  time.Duration
}

// Rate returns hashes per second over the elapsed time
func (s Stats) Rate() float64 {
	if s.Elapsed.Seconds() <= 0 {
		return 0
	}
	return float64(s.Attempts) / s.Elapsed.Seconds()
}
