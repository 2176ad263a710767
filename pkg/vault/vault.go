// Package vault stores discovered coins in an append-only text file, one
// coin per line.
package vault

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/screa/deti-coin-miner/pkg/coin"
	"github.com/screa/deti-coin-miner/pkg/types"
	"github.com/zeebo/xxh3"
)

// Errors
var (
	ErrClosed      = errors.New("vault closed")
	ErrInvalidCoin = errors.New("coin framing is invalid")
)

// Vault appends coins to a file. Identical coins are stored once, including
// coins already present in the file when it was opened.
type Vault struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	w      *bufio.Writer
	seen   map[xxh3.Uint128]struct{}
	stored int
	closed bool
}

// Open opens or creates the vault file at path
func Open(path string) (*Vault, error) {
	v := &Vault{
		path: path,
		seen: make(map[xxh3.Uint128]struct{}),
	}

	existing, err := os.Open(path)
	switch {
	case err == nil:
		coins, _, err := Read(existing)
		existing.Close()
		if err != nil {
			return nil, fmt.Errorf("load vault %s: %w", path, err)
		}
		for _, c := range coins {
			v.seen[fingerprint(c)] = struct{}{}
		}
		v.stored = len(v.seen)
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("open vault %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open vault %s: %w", path, err)
	}
	v.file = f
	v.w = bufio.NewWriter(f)
	return v, nil
}

// Record buffers c for writing. Duplicates are accepted and ignored.
func (v *Vault) Record(c types.Coin) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	if !coin.Valid(c) {
		return ErrInvalidCoin
	}

	key := fingerprint(c)
	if _, ok := v.seen[key]; ok {
		return nil
	}
	if _, err := v.w.Write(c.Line()); err != nil {
		return fmt.Errorf("write coin: %w", err)
	}
	v.seen[key] = struct{}{}
	v.stored++
	return nil
}

// Flush writes buffered coins and syncs the file
func (v *Vault) Flush() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	return v.flushLocked()
}

// Len returns the number of distinct coins in the vault
func (v *Vault) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stored
}

// Path returns the vault file location
func (v *Vault) Path() string { return v.path }

// Close flushes and closes the file
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	err := v.flushLocked()
	if cerr := v.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func (v *Vault) flushLocked() error {
	if err := v.w.Flush(); err != nil {
		return fmt.Errorf("flush vault: %w", err)
	}
	if err := v.file.Sync(); err != nil {
		return fmt.Errorf("sync vault: %w", err)
	}
	return nil
}

// Read parses vault lines from r. Lines that are not exactly one coin long
// are counted in malformed and skipped.
func Read(r io.Reader) (coins []types.Coin, malformed int, err error) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if len(line) == types.LineSize && line[len(line)-1] == coin.Newline {
				var c types.Coin
				copy(c[:], line)
				c[types.CoinSize-1] = coin.PaddingMarker
				coins = append(coins, c)
			} else {
				malformed++
			}
		}
		if errors.Is(err, io.EOF) {
			return coins, malformed, nil
		}
		if err != nil {
			return coins, malformed, err
		}
	}
}

func fingerprint(c types.Coin) xxh3.Uint128 {
	return xxh3.Hash128(c[:])
}
