// Package transport carries the coordinator protocol over websocket
// connections so workers can run in other processes or on other hosts.
package transport

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/screa/deti-coin-miner/pkg/types"
)

// MessageType names an envelope
type MessageType string

// Message types. Workers send join, request_work, attempts, coin and done;
// the coordinator answers with joined, work_granted or shutdown and
// broadcasts stop.
const (
	TypeJoin        MessageType = "join"
	TypeJoined      MessageType = "joined"
	TypeRequestWork MessageType = "request_work"
	TypeWorkGranted MessageType = "work_granted"
	TypeShutdown    MessageType = "shutdown"
	TypeStop        MessageType = "stop"
	TypeAttempts    MessageType = "attempts"
	TypeDone        MessageType = "done"
	TypeCoin        MessageType = "coin"
)

// Errors
var (
	// ErrUnknownMessage is returned for an envelope type the peer does not handle
	ErrUnknownMessage = errors.New("unknown message type")
	// ErrForeignWorker is returned for a worker id that did not join on this connection
	ErrForeignWorker = errors.New("worker id not joined on this connection")
	// ErrBadCoin is returned when a coin envelope does not hold 56 hex encoded bytes
	ErrBadCoin = errors.New("malformed coin")
	// ErrClosed is returned once the connection to the coordinator is gone
	ErrClosed = errors.New("connection closed")
)

// Envelope is the single JSON frame exchanged in both directions
type Envelope struct {
	Type   MessageType `json:"type"`
	Worker int         `json:"worker,omitempty"`
	Start  uint64      `json:"start,omitempty"`
	End    uint64      `json:"end,omitempty"`
	Count  uint64      `json:"count,omitempty"`
	Coin   string      `json:"coin,omitempty"`
}

// Range returns the lease carried by a work_granted envelope
func (e Envelope) Range() types.Range {
	return types.Range{Start: e.Start, End: e.End}
}

// DecodeCoin parses the hex coin of a coin envelope
func (e Envelope) DecodeCoin() (types.Coin, error) {
	var c types.Coin
	b, err := hex.DecodeString(e.Coin)
	if err != nil {
		return c, fmt.Errorf("%w: %v", ErrBadCoin, err)
	}
	if len(b) != types.CoinSize {
		return c, fmt.Errorf("%w: %d bytes", ErrBadCoin, len(b))
	}
	copy(c[:], b)
	return c, nil
}
