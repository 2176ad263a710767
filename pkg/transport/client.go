package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/screa/deti-coin-miner/internal/logger"
	"github.com/screa/deti-coin-miner/pkg/types"
)

// Client is a connection to a remote coordinator shared by the workers of
// one process. It satisfies the worker's Leaser interface. Each worker may
// have one request in flight at a time.
type Client struct {
	ws  *websocket.Conn
	log *logger.Logger

	// mu orders join requests with their replies and guards writes
	mu      sync.Mutex
	joins   []chan int
	replies map[int]chan Envelope
	// waiting holds the workers with a request_work in flight
	waiting map[int]bool

	stop     chan struct{}
	stopOnce sync.Once
	closed   chan struct{}
	err      error
	readDone chan struct{}
}

// Dial connects to the coordinator at url (ws:// or wss://)
func Dial(ctx context.Context, url string, log *logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.Nop()
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial coordinator %s: %w", url, err)
	}
	c := &Client{
		ws:       ws,
		log:      log.Named("client"),
		replies:  make(map[int]chan Envelope),
		waiting:  make(map[int]bool),
		stop:     make(chan struct{}),
		closed:   make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Join asks the coordinator for a worker id
func (c *Client) Join(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	c.mu.Lock()
	c.joins = append(c.joins, reply)
	err := c.write(Envelope{Type: TypeJoin})
	c.mu.Unlock()
	if err != nil {
		return 0, err
	}

	select {
	case id := <-reply:
		return id, nil
	case <-c.closed:
		return 0, c.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// RequestWork asks for the next lease of worker id and waits for the reply.
// A false result is the coordinator's shutdown notice. A grant that arrives
// after ctx is done is logged and dropped; the coordinator still counts it
// as issued.
func (c *Client) RequestWork(ctx context.Context, id int) (types.Range, bool, error) {
	c.mu.Lock()
	reply, ok := c.replies[id]
	if !ok {
		c.mu.Unlock()
		return types.Range{}, false, fmt.Errorf("%w: %d", ErrForeignWorker, id)
	}
	c.waiting[id] = true
	err := c.write(Envelope{Type: TypeRequestWork, Worker: id})
	if err != nil {
		delete(c.waiting, id)
	}
	c.mu.Unlock()
	if err != nil {
		return types.Range{}, false, err
	}

	select {
	case env := <-reply:
		if env.Type == TypeShutdown {
			return types.Range{}, false, nil
		}
		return env.Range(), true, nil
	case <-c.closed:
		return types.Range{}, false, c.err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.waiting, id)
		select {
		case env := <-reply:
			c.dropped(env)
		default:
		}
		c.mu.Unlock()
		return types.Range{}, false, ctx.Err()
	}
}

// ReportAttempts sends the cumulative attempt count of worker id
func (c *Client) ReportAttempts(_ context.Context, id int, cumulative uint64) error {
	return c.send(Envelope{Type: TypeAttempts, Worker: id, Count: cumulative})
}

// ReportCoin sends a found coin, hex encoded
func (c *Client) ReportCoin(_ context.Context, id int, coin types.Coin) error {
	return c.send(Envelope{Type: TypeCoin, Worker: id, Coin: coin.Hex()})
}

// ReportDone tells the coordinator worker id has finished
func (c *Client) ReportDone(_ context.Context, id int) error {
	return c.send(Envelope{Type: TypeDone, Worker: id})
}

// Stopping is closed when the coordinator broadcasts a stop or the
// connection is lost
func (c *Client) Stopping() <-chan struct{} { return c.stop }

// Close says goodbye to the coordinator and waits for the reader to exit
func (c *Client) Close() error {
	c.mu.Lock()
	err := c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()
	cerr := c.ws.Close()
	<-c.readDone
	if err != nil {
		select {
		case <-c.closed:
			// the coordinator went away first
			return nil
		default:
		}
		return fmt.Errorf("close coordinator connection: %w", err)
	}
	return cerr
}

func (c *Client) send(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(env)
}

// write needs c.mu held
func (c *Client) write(env Envelope) error {
	select {
	case <-c.closed:
		return c.err
	default:
	}
	if err := c.ws.WriteJSON(env); err != nil {
		return fmt.Errorf("send %s: %w: %v", env.Type, ErrClosed, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.readDone)
	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			c.fail(err)
			return
		}
		switch env.Type {
		case TypeJoined:
			c.mu.Lock()
			if len(c.joins) == 0 {
				c.mu.Unlock()
				c.log.Warnw("unexpected join reply", "worker", env.Worker)
				continue
			}
			reply := c.joins[0]
			c.joins = c.joins[1:]
			c.replies[env.Worker] = make(chan Envelope, 1)
			c.mu.Unlock()
			reply <- env.Worker
		case TypeWorkGranted, TypeShutdown:
			c.deliver(env)
		case TypeStop:
			c.log.Infow("coordinator requested stop")
			c.stopOnce.Do(func() { close(c.stop) })
		default:
			c.log.Warnw("ignoring message", "type", env.Type)
		}
	}
}

func (c *Client) deliver(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reply, ok := c.replies[env.Worker]
	switch {
	case !ok:
		c.log.Warnw("reply for unknown worker", "type", env.Type, "worker", env.Worker)
	case !c.waiting[env.Worker]:
		// the request was given up before its reply came back
		c.dropped(env)
	default:
		delete(c.waiting, env.Worker)
		reply <- env
	}
}

// dropped logs a reply nobody is waiting for. Lost grants are never
// searched, so their range is worth a warning.
func (c *Client) dropped(env Envelope) {
	if env.Type != TypeWorkGranted {
		c.log.Debugw("late reply dropped", "type", env.Type, "worker", env.Worker)
		return
	}
	c.log.Warnw("lease dropped", "worker", env.Worker, "start", env.Start, "end", env.End)
}

func (c *Client) fail(err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.err = ErrClosed
	} else {
		c.err = fmt.Errorf("%w: %v", ErrClosed, err)
	}
	close(c.closed)
	c.stopOnce.Do(func() { close(c.stop) })
}
