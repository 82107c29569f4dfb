package service

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/regbus/regbus-go/pkg/interaction"
	"github.com/regbus/regbus-go/pkg/log"
	"github.com/regbus/regbus-go/pkg/model"
)

// pollConcurrency bounds concurrent reads within one sweep. Background
// requests are further limited by the client's fairness policy.
const pollConcurrency = 4

type poller struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// pollSet is what one sweep refreshes: registers first, then links.
type pollSet struct {
	regs  []*model.Register
	links []*model.Link
}

// Polling reports whether the poll task is running.
func (r *Root) Polling() bool {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()
	return r.poll != nil
}

// StartPolling starts the periodic refresh of the configured poll paths.
// Poll requests run at background priority.
func (r *Root) StartPolling() error {
	if err := r.running(); err != nil {
		return err
	}
	set, err := r.pollTargets(r.cfg.Settings.Poll.Paths)
	if err != nil {
		return err
	}
	interval := r.cfg.Settings.Poll.Interval
	if interval <= 0 {
		interval = time.Second
	}

	r.pollMu.Lock()
	defer r.pollMu.Unlock()
	if r.poll != nil {
		return ErrPolling
	}
	ctx, cancel := context.WithCancel(interaction.WithPriority(r.ctx, interaction.PriorityBackground))
	p := &poller{cancel: cancel, done: make(chan struct{})}
	r.poll = p
	r.logPoller("IDLE", "POLLING")
	go r.pollLoop(ctx, p, set, interval)
	return nil
}

// StopPolling stops the poll task and waits for the current sweep.
func (r *Root) StopPolling() {
	r.pollMu.Lock()
	p := r.poll
	r.poll = nil
	r.pollMu.Unlock()
	if p == nil {
		return
	}
	p.cancel()
	<-p.done
	r.logPoller("POLLING", "IDLE")
}

func (r *Root) pollLoop(ctx context.Context, p *poller, set pollSet, interval time.Duration) {
	defer close(p.done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		r.sweep(ctx, set)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// sweep refreshes every target once and returns the number of failures.
func (r *Root) sweep(ctx context.Context, set pollSet) int {
	start := time.Now()
	var failures atomic.Int32

	var g errgroup.Group
	g.SetLimit(pollConcurrency)
	for _, reg := range set.regs {
		g.Go(func() error {
			if _, err := reg.Read(ctx); err != nil {
				failures.Add(1)
				r.logger.Debug("poll read failed", "path", reg.Path(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	// Links whose registers were just read are usually clean by now.
	for _, l := range set.links {
		g.Go(func() error {
			if _, err := l.Get(ctx); err != nil {
				failures.Add(1)
				r.logger.Debug("poll get failed", "path", l.Path(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(failures.Load())
	if ctx.Err() == nil {
		r.cfg.Metrics.ObservePoll(time.Since(start), n)
	}
	return n
}

// pollTargets expands paths into readable registers and links. A device
// path selects everything below it; no paths select the whole space.
func (r *Root) pollTargets(paths []string) (pollSet, error) {
	var set pollSet
	seen := make(map[model.Node]bool)
	add := func(n model.Node) {
		if seen[n] {
			return
		}
		seen[n] = true
		switch v := n.(type) {
		case *model.Register:
			if v.Mode().CanRead() {
				set.regs = append(set.regs, v)
			}
		case *model.Link:
			set.links = append(set.links, v)
		}
	}
	under := func(prefix string) {
		_ = r.space.Walk(func(n model.Node) error {
			if prefix == "" || strings.HasPrefix(n.Path(), prefix+"/") {
				add(n)
			}
			return nil
		})
	}

	if len(paths) == 0 {
		under("")
		return set, nil
	}
	for _, p := range paths {
		n, err := r.space.Node(p)
		if err != nil {
			return pollSet{}, err
		}
		if d, ok := n.(*model.Device); ok {
			under(d.Path())
			continue
		}
		add(n)
	}
	return set, nil
}

func (r *Root) logPoller(from, to string) {
	r.logger.Debug("poller state", "from", from, "to", to)
	r.plog.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerRegister,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityPoller,
			OldState: from,
			NewState: to,
		},
	})
}
