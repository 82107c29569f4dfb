package reliable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regbus/regbus-go/pkg/wire"
)

func TestRecvBufferReorders(t *testing.T) {
	r := newRecvBuffer(100, 8)

	out, dup := r.accept(102, []byte("c"))
	assert.Empty(t, out)
	assert.False(t, dup)
	assert.Equal(t, uint32(99), r.cumulative())
	assert.Equal(t, uint32(1<<1), r.sackBits(), "102 is cumulative+3, bit 1")
	assert.Equal(t, uint16(7), r.window())

	out, _ = r.accept(101, []byte("b"))
	assert.Empty(t, out)

	out, _ = r.accept(100, []byte("a"))
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, out)
	assert.Equal(t, uint32(102), r.cumulative())
	assert.Zero(t, r.sackBits())
	assert.Equal(t, uint16(8), r.window())
}

func TestRecvBufferDuplicates(t *testing.T) {
	r := newRecvBuffer(10, 4)
	_, _ = r.accept(10, []byte("x"))

	_, dup := r.accept(10, []byte("x"))
	assert.True(t, dup, "already delivered")

	_, dup = r.accept(12, []byte("z"))
	assert.False(t, dup)
	_, dup = r.accept(12, []byte("z"))
	assert.True(t, dup, "already held")

	out, dup := r.accept(20, []byte("far"))
	assert.Empty(t, out)
	assert.False(t, dup)
	assert.NotContains(t, r.held, uint32(20), "beyond the window is dropped")
}

func TestRecvBufferWraps(t *testing.T) {
	r := newRecvBuffer(0xffffffff, 4)
	_, _ = r.accept(0, []byte("b"))
	out, _ := r.accept(0xffffffff, []byte("a"))
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, out)
	assert.Equal(t, uint32(0), r.cumulative())
}

func TestSendWindow(t *testing.T) {
	now := time.Now()
	var w sendWindow
	for seq := uint32(5); seq < 10; seq++ {
		w.push(&outSeg{seq: seq, deadline: now})
	}

	assert.Equal(t, 2, w.ack(6))
	assert.Equal(t, 3, w.len())
	assert.Zero(t, w.ack(4), "old acknowledgments are ignored")

	// cumulative 6, bit 1 covers seq 9.
	w.sack(6, 1<<1)
	due := w.due(now)
	require.Len(t, due, 2)
	assert.Equal(t, uint32(7), due[0].seq)
	assert.Equal(t, uint32(8), due[1].seq)

	assert.Empty(t, w.due(now.Add(-time.Second)))
	assert.Equal(t, 3, w.ack(9))
	assert.Zero(t, w.len())
}

func TestSackRoundTrip(t *testing.T) {
	r := newRecvBuffer(50, 32)
	for _, seq := range []uint32{52, 55, 81} {
		_, _ = r.accept(seq, []byte{1})
	}

	var w sendWindow
	for seq := uint32(50); seq < 82; seq++ {
		w.push(&outSeg{seq: seq})
	}
	w.sack(r.cumulative(), r.sackBits())

	var sacked []uint32
	for _, s := range w.segs {
		if s.sacked {
			sacked = append(sacked, s.seq)
		}
	}
	assert.Equal(t, []uint32{52, 55, 81}, sacked)
}

func TestNegotiate(t *testing.T) {
	local := wire.SynParams{MaxSegmentSize: 1000, Window: 8, MaxRetransmits: 5, RetransmitTimeoutMs: 50, KeepaliveMs: 500, ConnTimeoutMs: 3000}
	remote := wire.SynParams{MaxSegmentSize: 1400, Window: 64, MaxRetransmits: 10, RetransmitTimeoutMs: 20, KeepaliveMs: 0, ConnTimeoutMs: 1000}

	p := negotiate(local, remote)
	assert.Equal(t, uint16(1000), p.MaxSegmentSize)
	assert.Equal(t, uint16(8), p.Window)
	assert.Equal(t, uint8(5), p.MaxRetransmits)
	assert.Equal(t, uint32(20), p.RetransmitTimeoutMs, "initiator timing wins")
	assert.Equal(t, uint32(500), p.KeepaliveMs, "unset falls back to responder")
	assert.Equal(t, uint32(1000), p.ConnTimeoutMs)

	cfg := DefaultConfig().apply(p)
	assert.Equal(t, 20*time.Millisecond, cfg.RetransmitTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Keepalive)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Window: 200}.withDefaults()
	assert.Equal(t, uint16(wire.SackBits), cfg.Window)
	assert.Equal(t, uint16(1400), cfg.MaxSegmentSize)
	assert.Equal(t, 100*time.Millisecond, cfg.RetransmitTimeout)
	assert.NotNil(t, cfg.Logger)
}
