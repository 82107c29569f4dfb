package interaction

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/regbus/regbus-go/pkg/memory"
	"github.com/regbus/regbus-go/pkg/metric"
	"github.com/regbus/regbus-go/pkg/model"
	"github.com/regbus/regbus-go/pkg/transport"
	"github.com/regbus/regbus-go/pkg/wire"
)

func fastConfig(m *metric.Metrics) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.Timeout = 30 * time.Millisecond
	cfg.Backoff.Initial = time.Millisecond
	cfg.Backoff.Max = 2 * time.Millisecond
	cfg.Metrics = m
	return cfg
}

// fakePeer records requests and answers through reply, which runs on the
// link's delivery goroutine and must not block.
type fakePeer struct {
	link  *transport.PipeLink
	reply func(p *fakePeer, req *wire.Frame)

	mu   sync.Mutex
	reqs []*wire.Frame
}

func newFakePeer(t *testing.T, link *transport.PipeLink, reply func(p *fakePeer, req *wire.Frame)) *fakePeer {
	t.Helper()
	p := &fakePeer{link: link, reply: reply}
	require.NoError(t, link.Start(func(msg []byte) {
		req, err := wire.DecodeFrame(msg)
		if err != nil {
			return
		}
		p.mu.Lock()
		p.reqs = append(p.reqs, req)
		reply := p.reply
		p.mu.Unlock()
		if reply != nil {
			reply(p, req)
		}
	}))
	return p
}

func (p *fakePeer) requests() []*wire.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*wire.Frame(nil), p.reqs...)
}

func (p *fakePeer) send(f *wire.Frame) {
	raw, err := wire.EncodeFrame(f)
	if err != nil {
		panic(err)
	}
	_ = p.link.Send(raw)
}

// pattern returns the data a fake peer reports for words at addr.
func pattern(addr uint64, words uint32) []byte {
	out := make([]byte, int(words)*wire.WordSize)
	for i := range words {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(addr)+i*4)
	}
	return out
}

func replyPattern(p *fakePeer, req *wire.Frame) {
	p.send(req.Reply(wire.StatusOK, pattern(req.Address, req.Words)))
}

// serverPair connects a client to a Server over a pipe.
func serverPair(t *testing.T, acc model.Accessor, cfg ClientConfig) *Client {
	t.Helper()
	a, b := transport.NewPipe(transport.PipeConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(acc, ServerConfig{MaxWords: 64})
	go func() { _ = srv.Serve(ctx, b) }()

	c, err := NewClient(a, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
		cancel()
		_ = a.Close()
		_ = b.Close()
	})
	return c
}

// countingAccessor counts accesses to a memory.
type countingAccessor struct {
	*memory.Memory
	mu     sync.Mutex
	reads  int
	writes int
}

func (c *countingAccessor) Read(ctx context.Context, addr uint64, n int) ([]byte, error) {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
	return c.Memory.Read(ctx, addr, n)
}

func (c *countingAccessor) Write(ctx context.Context, addr uint64, data []byte) error {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return c.Memory.Write(ctx, addr, data)
}

func (c *countingAccessor) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads, c.writes
}

// sizedLink is a pipe end that rejects messages over limit without
// reporting the limit.
type sizedLink struct {
	*transport.PipeLink
	limit int
}

func (l *sizedLink) Send(msg []byte) error {
	if len(msg) > l.limit {
		return fmt.Errorf("%w: %d > %d", transport.ErrMessageTooLarge, len(msg), l.limit)
	}
	return l.PipeLink.Send(msg)
}

// reportingLink is a sizedLink that also reports its limit.
type reportingLink struct {
	sizedLink
}

func (l *reportingLink) MaxMessageSize() int { return l.limit }
