package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/regbus/regbus-go/pkg/connection"
	"github.com/regbus/regbus-go/pkg/log"
	"github.com/regbus/regbus-go/pkg/metric"
	"github.com/regbus/regbus-go/pkg/transport"
	"github.com/regbus/regbus-go/pkg/wire"
)

// Priority orders admission to the in-flight limit.
type Priority int

const (
	PriorityInteractive Priority = iota
	PriorityBackground
)

type priorityKey struct{}

// WithPriority marks requests issued under ctx.
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

func priorityFrom(ctx context.Context) Priority {
	p, _ := ctx.Value(priorityKey{}).(Priority)
	return p
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Timeout bounds one attempt. Default 500ms.
	Timeout time.Duration

	// MaxAttempts bounds transmissions per request. Default 3.
	MaxAttempts int

	// Backoff spaces retries: attempt n+1 waits Backoff.Delay(n-1).
	Backoff connection.BackoffConfig

	// MaxInFlight bounds concurrently outstanding requests. Default 32.
	MaxInFlight int

	// MaxWords splits larger transfers into several requests. Default 256,
	// which keeps a frame inside one reliability segment.
	MaxWords uint32

	Logger         *slog.Logger
	ProtocolLogger log.Logger
	ConnectionID   string
	Metrics        *metric.Metrics
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:     500 * time.Millisecond,
		MaxAttempts: 3,
		Backoff: connection.BackoffConfig{
			Initial: 10 * time.Millisecond,
			Max:     200 * time.Millisecond,
			Jitter:  -1,
		},
		MaxInFlight: 32,
		MaxWords:    256,
	}
}

func (c ClientConfig) withDefaults() ClientConfig {
	d := DefaultClientConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Backoff == (connection.BackoffConfig{}) {
		c.Backoff = d.Backoff
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = d.MaxInFlight
	}
	if c.MaxWords == 0 {
		c.MaxWords = d.MaxWords
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.ProtocolLogger = log.OrNoop(c.ProtocolLogger)
	return c
}

type result struct {
	frame *wire.Frame
	err   error
}

type pendingReq struct {
	id    uint32
	op    wire.Opcode
	addr  uint64
	words uint32
	ch    chan result
}

// Client issues register requests over a link.
type Client struct {
	link transport.Link
	cfg  ClientConfig
	dest *uint8

	inflight   *semaphore.Weighted
	background *semaphore.Weighted
	nextID     atomic.Uint32

	registerCh chan pendingReq
	retireCh   chan uint32
	responseCh chan []byte

	closeOnce sync.Once
	closeCh   chan struct{}
	loopDone  chan struct{}
	terminal  error
}

// NewClient starts the client on link. The caller keeps ownership of the
// link and closes it after Close.
func NewClient(link transport.Link, cfg ClientConfig) (*Client, error) {
	cfg = cfg.withDefaults()
	if limit := transport.MessageLimit(link); limit > 0 {
		fit := wordsPerMessage(limit)
		if fit == 0 {
			return nil, fmt.Errorf("%w: link carries at most %d bytes", transport.ErrMessageTooLarge, limit)
		}
		cfg.MaxWords = min(cfg.MaxWords, fit)
	}
	c := &Client{
		link:       link,
		cfg:        cfg,
		inflight:   semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		background: semaphore.NewWeighted(1),
		registerCh: make(chan pendingReq),
		retireCh:   make(chan uint32),
		responseCh: make(chan []byte, 256),
		closeCh:    make(chan struct{}),
		loopDone:   make(chan struct{}),
	}
	// Events on a mux destination carry its id.
	if d, ok := link.(interface{ ID() uint8 }); ok {
		id := d.ID()
		c.dest = &id
	}
	if err := link.Start(c.handleMessage); err != nil {
		return nil, fmt.Errorf("start link: %w", err)
	}
	go c.run()
	return c, nil
}

// wordsPerMessage returns how many data words fit in a response frame of at
// most limit bytes.
func wordsPerMessage(limit int) uint32 {
	room := limit - wire.FrameHeaderSize - wire.StatusSize - wire.ChecksumSize
	if room < wire.WordSize {
		return 0
	}
	return uint32(room / wire.WordSize)
}

// MaxWords returns the per-request word limit in effect.
func (c *Client) MaxWords() uint32 { return c.cfg.MaxWords }

// Close fails pending requests with ErrClientClosed and stops the client.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	<-c.loopDone
	return nil
}

// Done is closed when the client stops, by Close or because its link did.
func (c *Client) Done() <-chan struct{} { return c.loopDone }

// Err returns why the client stopped, or nil while running.
func (c *Client) Err() error {
	select {
	case <-c.loopDone:
		return c.terminal
	default:
		return nil
	}
}

func (c *Client) handleMessage(msg []byte) {
	select {
	case c.responseCh <- msg:
	case <-c.loopDone:
	}
}

// run owns the pending table.
func (c *Client) run() {
	defer close(c.loopDone)
	pending := make(map[uint32]pendingReq)
	stop := func(err error) {
		c.terminal = err
		for id, p := range pending {
			p.ch <- result{err: err}
			delete(pending, id)
		}
	}
	for {
		select {
		case p := <-c.registerCh:
			pending[p.id] = p
		case id := <-c.retireCh:
			delete(pending, id)
		case raw := <-c.responseCh:
			c.match(pending, raw)
		case <-c.link.Done():
			stop(fmt.Errorf("%w: %w", ErrLinkDown, c.link.Err()))
			return
		case <-c.closeCh:
			stop(ErrClientClosed)
			return
		}
	}
}

func (c *Client) match(pending map[uint32]pendingReq, raw []byte) {
	f, err := wire.DecodeFrame(raw)
	if err != nil {
		if errors.Is(err, wire.ErrChecksum) {
			c.cfg.Metrics.ChecksumError()
		}
		c.cfg.Logger.Debug("response dropped", "conn", c.cfg.ConnectionID, "error", err)
		c.logError("response dropped", err)
		return
	}
	c.logFrame(log.DirectionIn, f, 0)

	p, ok := pending[f.ID]
	if !ok || !f.Opcode.IsResponse() || p.op.Response() != f.Opcode ||
		f.Address != p.addr || f.Words != p.words {
		c.cfg.Metrics.StaleResponse()
		return
	}
	delete(pending, f.ID)
	p.ch <- result{frame: f}
}

func (c *Client) register(p pendingReq) error {
	select {
	case c.registerCh <- p:
		return nil
	case <-c.loopDone:
		return c.terminal
	}
}

func (c *Client) retire(id uint32) {
	select {
	case c.retireCh <- id:
	case <-c.loopDone:
	}
}

// Read returns n bytes starting at addr. Both must be word aligned.
func (c *Client) Read(ctx context.Context, addr uint64, n int) ([]byte, error) {
	if err := checkSpan(addr, n); err != nil {
		return nil, err
	}
	out := make([]byte, 0, n)
	for len(out) < n {
		words := min(uint32((n-len(out))/wire.WordSize), c.cfg.MaxWords)
		f, err := c.do(ctx, wire.OpRead, addr+uint64(len(out)), words, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, f.Payload...)
	}
	return out, nil
}

// Write stores data starting at addr. Both must be word aligned.
func (c *Client) Write(ctx context.Context, addr uint64, data []byte) error {
	if err := checkSpan(addr, len(data)); err != nil {
		return err
	}
	for off := 0; off < len(data); {
		words := min(uint32((len(data)-off)/wire.WordSize), c.cfg.MaxWords)
		end := off + int(words)*wire.WordSize
		if _, err := c.do(ctx, wire.OpWrite, addr+uint64(off), words, data[off:end]); err != nil {
			return err
		}
		off = end
	}
	return nil
}

func checkSpan(addr uint64, n int) error {
	if n <= 0 || addr%wire.WordSize != 0 || n%wire.WordSize != 0 {
		return fmt.Errorf("%w: address 0x%x length %d", wire.ErrUnaligned, addr, n)
	}
	return nil
}

func (c *Client) admit(ctx context.Context) (func(), error) {
	bg := priorityFrom(ctx) == PriorityBackground
	if bg {
		if err := c.background.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	if err := c.inflight.Acquire(ctx, 1); err != nil {
		if bg {
			c.background.Release(1)
		}
		return nil, err
	}
	return func() {
		c.inflight.Release(1)
		if bg {
			c.background.Release(1)
		}
	}, nil
}

// retryable marks an attempt failure that another attempt may cure.
type retryable struct {
	cause string
	err   error
}

func (r *retryable) Error() string { return r.err.Error() }
func (r *retryable) Unwrap() error { return r.err }

func (c *Client) do(ctx context.Context, op wire.Opcode, addr uint64, words uint32, data []byte) (*wire.Frame, error) {
	select {
	case <-c.loopDone:
		return nil, c.terminal
	default:
	}
	start := time.Now()
	release, err := c.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	c.cfg.Metrics.AddInFlight(1)
	defer c.cfg.Metrics.AddInFlight(-1)

	opName := "read"
	if op == wire.OpWrite {
		opName = "write"
	}

	var last error = ErrTimeout
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, c.cfg.Backoff.Delay(attempt-2)); err != nil {
				c.cfg.Metrics.ObserveRequest(opName, metric.OutcomeCanceled, time.Since(start))
				return nil, err
			}
		}
		f, err := c.attempt(ctx, op, addr, words, data, attempt)
		if err == nil {
			if f.Status != wire.StatusOK {
				c.cfg.Metrics.ObserveRequest(opName, metric.OutcomeBusError, time.Since(start))
				return nil, &BusError{Op: op, Address: addr, Status: f.Status}
			}
			c.cfg.Metrics.ObserveRequest(opName, metric.OutcomeOK, time.Since(start))
			return f, nil
		}

		var r *retryable
		if !errors.As(err, &r) {
			outcome := metric.OutcomeFailed
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				outcome = metric.OutcomeCanceled
			case errors.Is(err, ErrLinkDown):
				outcome = metric.OutcomeLost
			}
			c.cfg.Metrics.ObserveRequest(opName, outcome, time.Since(start))
			return nil, err
		}
		last = r.err
		if attempt < c.cfg.MaxAttempts {
			c.cfg.Metrics.Retry(r.cause)
			c.cfg.Logger.Debug("retrying request", "op", op, "addr", fmt.Sprintf("0x%x", addr), "attempt", attempt, "error", r.err)
		}
	}

	c.cfg.Metrics.ObserveRequest(opName, metric.OutcomeTimeout, time.Since(start))
	reqErr := &RequestError{Op: op, Address: addr, Attempts: c.cfg.MaxAttempts, Err: last}
	c.cfg.Logger.Warn("request failed", "conn", c.cfg.ConnectionID, "error", reqErr)
	return nil, reqErr
}

func (c *Client) attempt(ctx context.Context, op wire.Opcode, addr uint64, words uint32, data []byte, attempt int) (*wire.Frame, error) {
	id := c.nextID.Add(1)
	req := &wire.Frame{Opcode: op, ID: id, Address: addr, Words: words, Payload: data}
	raw, err := wire.EncodeFrame(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan result, 1)
	if err := c.register(pendingReq{id: id, op: op, addr: addr, words: words, ch: ch}); err != nil {
		return nil, err
	}
	c.logFrame(log.DirectionOut, req, attempt)

	if err := c.link.Send(raw); err != nil {
		c.retire(id)
		select {
		case <-c.link.Done():
			return nil, fmt.Errorf("%w: %w", ErrLinkDown, c.link.Err())
		default:
		}
		if errors.Is(err, transport.ErrMessageTooLarge) {
			return nil, err
		}
		return nil, &retryable{cause: "send", err: err}
	}

	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.frame, r.err
	case <-timer.C:
		c.retire(id)
		return nil, &retryable{cause: "timeout", err: ErrTimeout}
	case <-ctx.Done():
		c.retire(id)
		return nil, ctx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) logFrame(dir log.Direction, f *wire.Frame, attempt int) {
	c.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.cfg.ConnectionID,
		Direction:    dir,
		Layer:        log.LayerRegister,
		Category:     log.CategoryFrame,
		RemoteAddr:   c.link.RemoteAddr(),
		Destination:  c.dest,
		Frame:        log.NewFrameEvent(f, attempt),
	})
}

func (c *Client) logError(msg string, err error) {
	c.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.cfg.ConnectionID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerRegister,
		Category:     log.CategoryError,
		RemoteAddr:   c.link.RemoteAddr(),
		Destination:  c.dest,
		Error: &log.ErrorEventData{
			Layer:   log.LayerRegister,
			Message: msg,
			Context: err.Error(),
		},
	})
}
