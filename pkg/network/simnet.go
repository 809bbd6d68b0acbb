// Package network implements the in-process message fabric used to
// run the replica core deterministically in tests and demos: an
// addressable bus with per-delivery random drop and latency.
package network

import (
	"math/rand"
	"sync"
	"time"

	"github.com/parkds/hotstuff-bft/pkg/consensus"
	"github.com/parkds/hotstuff-bft/pkg/util"
)

// Sink receives delivered messages for one registered endpoint.
type Sink func(consensus.Message)

// Config parameterizes a SimulatedNetwork (spec.md §6).
type Config struct {
	DropRate float64
	MinDelay time.Duration
	MaxDelay time.Duration
}

// SimulatedNetwork is a best-effort, asynchronous bus: send never
// fails, delivery is observed via the destination's sink or not at
// all. It imposes no ordering between messages on the same link.
type SimulatedNetwork struct {
	cfg   Config
	clock util.Clock

	mu        sync.Mutex
	endpoints map[consensus.ID]Sink
	rng       *rand.Rand
	rngMu     sync.Mutex

	wg sync.WaitGroup
}

// New returns a SimulatedNetwork seeded from seed for reproducible
// drop/delay decisions across otherwise-identical runs.
func New(cfg Config, clock util.Clock, seed int64) *SimulatedNetwork {
	return &SimulatedNetwork{
		cfg:       cfg,
		clock:     clock,
		endpoints: make(map[consensus.ID]Sink),
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Register installs sink as the delivery target for id. Re-registration
// replaces any previous sink. The set of registered endpoints is the
// broadcast domain.
func (n *SimulatedNetwork) Register(id consensus.ID, sink Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.endpoints[id] = sink
}

// Unregister removes id from the broadcast domain.
func (n *SimulatedNetwork) Unregister(id consensus.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.endpoints, id)
}

func (n *SimulatedNetwork) roll() (drop bool, delay time.Duration) {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	drop = n.rng.Float64() < n.cfg.DropRate
	span := n.cfg.MaxDelay - n.cfg.MinDelay
	if span <= 0 {
		delay = n.cfg.MinDelay
	} else {
		delay = n.cfg.MinDelay + time.Duration(n.rng.Int63n(int64(span)))
	}
	return drop, delay
}

// Send delivers msg from src to dst: with probability DropRate it is
// discarded, otherwise it is delivered after a uniform-random delay in
// [MinDelay, MaxDelay]. Unknown dst is silently dropped. Send itself
// never blocks the caller past enqueueing the delivery.
func (n *SimulatedNetwork) Send(src, dst consensus.ID, msg consensus.Message) {
	n.mu.Lock()
	sink, ok := n.endpoints[dst]
	n.mu.Unlock()
	if !ok {
		return
	}

	drop, delay := n.roll()
	if drop {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		<-n.clock.After(delay)
		sink(msg)
	}()
}

// Broadcast is equivalent to issuing Send(src, d, msg) concurrently
// for every registered endpoint d, including src itself.
func (n *SimulatedNetwork) Broadcast(src consensus.ID, msg consensus.Message) {
	n.mu.Lock()
	dsts := make([]consensus.ID, 0, len(n.endpoints))
	for id := range n.endpoints {
		dsts = append(dsts, id)
	}
	n.mu.Unlock()

	for _, dst := range dsts {
		n.Send(src, dst, msg)
	}
}

// Wait blocks until all in-flight deliveries scheduled so far have
// been attempted. Intended for deterministic tests only.
func (n *SimulatedNetwork) Wait() {
	n.wg.Wait()
}
