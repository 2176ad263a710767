package coordinator

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/screa/deti-coin-miner/pkg/coin"
	"github.com/screa/deti-coin-miner/pkg/types"
	"github.com/screa/deti-coin-miner/pkg/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testCoin(counter uint64) types.Coin {
	m := coin.MustTemplate(coin.DefaultTag, nil).Encode(counter, 0x65F00000)
	return m.Bytes()
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestRangesAreDisjointAndContiguous(t *testing.T) {
	c := New(Options{ChunkSize: 100})
	ids := []int{c.Join(), c.Join(), c.Join()}

	var got []types.Range
	for i := 0; i < 12; i++ {
		r, ok := c.RequestWork(ids[i%len(ids)])
		require.True(t, ok)
		got = append(got, r)
	}
	for i, r := range got {
		assert.Equal(t, types.Range{Start: uint64(i) * 100, End: uint64(i+1) * 100}, r)
	}
	assert.Equal(t, uint64(1200), c.Stats().Issued)
}

func TestConcurrentRequestsNeverOverlap(t *testing.T) {
	c := New(Options{ChunkSize: 10})
	const workers, each = 8, 50

	var mu sync.Mutex
	starts := make(map[uint64]bool)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		id := c.Join()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				r, ok := c.RequestWork(id)
				if !assert.True(t, ok) {
					return
				}
				mu.Lock()
				assert.False(t, starts[r.Start], "range %v granted twice", r)
				starts[r.Start] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, starts, workers*each)
	for s := uint64(0); s < workers*each*10; s += 10 {
		assert.True(t, starts[s], "missing range at %d", s)
	}
}

func TestAttemptReportsReplace(t *testing.T) {
	c := New(Options{})
	a, b := c.Join(), c.Join()

	c.ReportAttempts(a, 100)
	c.ReportAttempts(a, 100)
	c.ReportAttempts(b, 50)
	assert.Equal(t, uint64(150), c.Stats().Attempts)

	c.ReportAttempts(a, 400)
	assert.Equal(t, uint64(450), c.Stats().Attempts)

	c.ReportAttempts(99, 1_000_000)
	assert.Equal(t, uint64(450), c.Stats().Attempts)
}

func TestStopRetiresOnRequest(t *testing.T) {
	c := New(Options{ChunkSize: 5})
	a, b := c.Join(), c.Join()
	_, ok := c.RequestWork(a)
	require.True(t, ok)

	c.RequestStop()
	c.RequestStop()
	assert.True(t, isClosed(c.Stopping()))

	_, ok = c.RequestWork(a)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Stats().Active)
	assert.False(t, isClosed(c.Done()))

	// a retired worker reporting done is not counted twice
	c.ReportDone(a)
	assert.Equal(t, 1, c.Stats().Active)

	c.ReportDone(b)
	c.ReportDone(b)
	assert.Zero(t, c.Stats().Active)
	assert.True(t, isClosed(c.Done()))
	assert.Equal(t, uint64(5), c.Stats().Issued)
}

func TestStopWithoutWorkersFinishes(t *testing.T) {
	c := New(Options{})
	c.RequestStop()
	assert.True(t, isClosed(c.Done()))
}

func TestAbandon(t *testing.T) {
	c := New(Options{})
	a, b := c.Join(), c.Join()
	c.ReportDone(a)
	c.Abandon(a)
	assert.Equal(t, 1, c.Stats().Active)
	c.Abandon(b)
	assert.Zero(t, c.Stats().Active)
	assert.True(t, isClosed(c.Done()))
}

func TestCounterSpaceExhaustion(t *testing.T) {
	c := New(Options{ChunkSize: 100, Start: math.MaxUint64 - 250})
	id := c.Join()

	var last types.Range
	for i := 0; i < 3; i++ {
		r, ok := c.RequestWork(id)
		require.True(t, ok)
		last = r
	}
	assert.Equal(t, types.Range{Start: math.MaxUint64 - 50, End: math.MaxUint64}, last)

	_, ok := c.RequestWork(id)
	assert.False(t, ok)
	assert.True(t, isClosed(c.Stopping()))
	assert.True(t, isClosed(c.Done()))
	assert.Equal(t, uint64(250), c.Stats().Issued)
}

func TestBoundedCounterSpace(t *testing.T) {
	c := New(Options{ChunkSize: 400, End: 1000})
	id := c.Join()

	var got []types.Range
	for {
		r, ok := c.RequestWork(id)
		if !ok {
			break
		}
		got = append(got, r)
	}
	assert.Equal(t, []types.Range{{Start: 0, End: 400}, {Start: 400, End: 800}, {Start: 800, End: 1000}}, got)
	assert.Equal(t, uint64(1000), c.Stats().Issued)
	assert.Zero(t, c.Stats().Active)
}

func TestCoinsAreRecordedOnce(t *testing.T) {
	rec := vault.NewMemory()
	c := New(Options{Recorder: rec})
	id := c.Join()

	c.ReportCoin(id, testCoin(1))
	c.ReportCoin(id, testCoin(1))
	c.ReportCoin(id, testCoin(2))

	assert.Equal(t, []types.Coin{testCoin(1), testCoin(2)}, rec.Coins())
	assert.Equal(t, 2, c.Stats().Coins)
	assert.Equal(t, 2, rec.Flushes())
	assert.Empty(t, c.Pending())
}

func TestReportCoinChecksTarget(t *testing.T) {
	good := testCoin(1)
	target := coin.Digest(good)[0]
	m := coin.MustTemplate(coin.DefaultTag, nil).Encode(1, 0)
	bad := m.Bytes()
	require.False(t, coin.Matches(bad, target))

	rec := vault.NewMemory()
	c := New(Options{Recorder: rec, Accept: MatchTarget(target)})
	id := c.Join()

	assert.False(t, c.ReportCoin(id, bad))
	assert.True(t, c.ReportCoin(id, good))
	assert.True(t, c.ReportCoin(id, good))

	assert.Equal(t, []types.Coin{good}, rec.Coins())
	stats := c.Stats()
	assert.Equal(t, 1, stats.Coins)
	assert.Equal(t, 1, stats.Rejected)
}

func TestDefaultAcceptRejectsBadFraming(t *testing.T) {
	rec := vault.NewMemory()
	c := New(Options{Recorder: rec})
	id := c.Join()

	broken := testCoin(1)
	broken[types.CoinSize-1] = 0
	assert.False(t, c.ReportCoin(id, broken))
	assert.Empty(t, rec.Coins())
	assert.Equal(t, 1, c.Stats().Rejected)
}

// flaky fails every Record until healed
type flaky struct {
	vault.Memory
	mu     sync.Mutex
	broken bool
}

var errDisk = errors.New("disk full")

func (f *flaky) Record(c types.Coin) error {
	f.mu.Lock()
	broken := f.broken
	f.mu.Unlock()
	if broken {
		return errDisk
	}
	return f.Memory.Record(c)
}

func (f *flaky) heal() {
	f.mu.Lock()
	f.broken = false
	f.mu.Unlock()
}

func TestFailedRecordsStayPending(t *testing.T) {
	rec := &flaky{broken: true}
	c := New(Options{Recorder: rec})
	id := c.Join()

	c.ReportCoin(id, testCoin(1))
	c.ReportCoin(id, testCoin(2))
	assert.Len(t, c.Pending(), 2)
	assert.ErrorIs(t, c.Close(), ErrUnrecorded)

	rec.heal()
	c.ReportCoin(id, testCoin(3))
	assert.Empty(t, c.Pending())
	assert.Len(t, rec.Coins(), 3)
	assert.NoError(t, c.Close())
}

func TestRunStopsOnTimeLimit(t *testing.T) {
	c := New(Options{TimeLimit: 30 * time.Millisecond, LogInterval: time.Millisecond})
	id := c.Join()

	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()

	select {
	case <-c.Stopping():
	case <-time.After(5 * time.Second):
		t.Fatal("time limit never stopped the run")
	}
	_, ok := c.RequestWork(id)
	assert.False(t, ok)
	require.NoError(t, <-errc)
}

func TestRunStopsOnCancel(t *testing.T) {
	rec := vault.NewMemory()
	c := New(Options{Recorder: rec})
	id := c.Join()
	c.ReportCoin(id, testCoin(4))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	cancel()

	select {
	case <-c.Stopping():
	case <-time.After(5 * time.Second):
		t.Fatal("cancel never stopped the run")
	}
	c.ReportAttempts(id, 77)
	c.ReportDone(id)
	require.NoError(t, <-errc)

	stats := c.Stats()
	assert.Equal(t, uint64(77), stats.Attempts)
	assert.Equal(t, 1, stats.Coins)
	assert.GreaterOrEqual(t, rec.Flushes(), 2)
}
