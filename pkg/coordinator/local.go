package coordinator

import (
	"context"

	"github.com/screa/deti-coin-miner/pkg/types"
)

// Local lets workers in the same process talk to a Coordinator directly.
// None of its calls block on the network, so they never fail.
type Local struct {
	C *Coordinator
}

// Join registers a worker with the coordinator
func (l Local) Join(context.Context) (int, error) {
	return l.C.Join(), nil
}

// RequestWork leases the next range; false is the shutdown notice
func (l Local) RequestWork(_ context.Context, id int) (types.Range, bool, error) {
	r, ok := l.C.RequestWork(id)
	return r, ok, nil
}

// ReportAttempts stores the worker's cumulative attempt count
func (l Local) ReportAttempts(_ context.Context, id int, cumulative uint64) error {
	l.C.ReportAttempts(id, cumulative)
	return nil
}

// ReportCoin passes a found coin on. Coins the coordinator rejects are
// logged there, so the worker keeps searching.
func (l Local) ReportCoin(_ context.Context, id int, c types.Coin) error {
	l.C.ReportCoin(id, c)
	return nil
}

// ReportDone retires the worker
func (l Local) ReportDone(_ context.Context, id int) error {
	l.C.ReportDone(id)
	return nil
}

// Stopping is closed once the coordinator stops granting work
func (l Local) Stopping() <-chan struct{} {
	return l.C.Stopping()
}
