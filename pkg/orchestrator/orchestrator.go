package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/parkds/hotstuff-bft/pkg/consensus"
	"github.com/parkds/hotstuff-bft/pkg/crypto"
	"github.com/parkds/hotstuff-bft/pkg/event"
	"github.com/parkds/hotstuff-bft/pkg/learner"
	"github.com/parkds/hotstuff-bft/pkg/network"
	"github.com/parkds/hotstuff-bft/pkg/util"
)

// Orchestrator constructs a SimulatedNetwork, a set of Replicas and a
// set of Learners under one config, per spec.md §4.5. Start is
// idempotent up to a prior stop: calling it again first stops the
// running simulation, matching spec.md §4.5's "Start is idempotent up
// to a prior stop."
type Orchestrator struct {
	clock util.Clock
	log   *zap.SugaredLogger
	emit  Emitter

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopDone chan struct{}
}

// New returns an idle orchestrator. clock defaults to util.RealClock{}
// when nil; emit defaults to event.Nop when nil.
func New(clock util.Clock, log *zap.SugaredLogger, emit Emitter) *Orchestrator {
	if clock == nil {
		clock = util.RealClock{}
	}
	if emit == nil {
		emit = event.Nop
	}
	return &Orchestrator{clock: clock, log: log, emit: emit}
}

// Start validates cfg, stops any prior run, then constructs and
// launches the network, replicas and learners described by cfg. It
// returns once every component is running; the simulation stops
// itself after cfg.Duration, or earlier via Stop.
func (o *Orchestrator) Start(cfg Config) error {
	o.emitStatus("starting", nil)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	o.Stop()

	for _, w := range cfg.Warnings() {
		o.emitWarn(w)
	}

	ids := make([]consensus.ID, cfg.Replicas)
	pubkeys := make(map[consensus.ID]crypto.PublicKey, cfg.Replicas)
	secrets := make(map[consensus.ID]crypto.PrivateKey, cfg.Replicas)
	for i := 0; i < cfg.Replicas; i++ {
		id := consensus.ID(fmt.Sprintf("R%d", i))
		ids[i] = id
		pub, sec, err := crypto.GenerateKeypair()
		if err != nil {
			return fmt.Errorf("generating keypair for %s: %w", id, err)
		}
		pubkeys[id] = pub
		secrets[id] = sec
	}

	netCfg := network.Config{DropRate: cfg.DropRate, MinDelay: cfg.MinDelay, MaxDelay: cfg.MaxDelay}
	net := network.New(netCfg, o.clock, cfg.Seed)

	ctx, cancel := context.WithCancel(context.Background())
	stopDone := make(chan struct{})

	replicas := make([]*consensus.Replica, cfg.Replicas)
	for i, id := range ids {
		rc := consensus.Config{
			Self:            id,
			AllIDs:          ids,
			Pubkeys:         pubkeys,
			Secret:          secrets[id],
			F:               cfg.F,
			QCThreshold:     cfg.qcThreshold(),
			IsByzantine:     cfg.isByzantine(i),
			IsABC:           cfg.isABC(i),
			ProposeInterval: cfg.ProposeInterval,
			ViewTimeout:     cfg.ViewTimeout,
			VerboseLogging:  cfg.VerboseLogging,
		}
		r := consensus.New(rc, net, o.clock, o.log, o.emit)
		replicas[i] = r
		net.Register(id, r.Deliver)
	}

	learners := make([]*learner.Learner, len(cfg.Learners))
	for i, lc := range cfg.Learners {
		l := learner.New(learner.Config{Name: lc.Name, QFast: lc.QFast, QCommit: lc.QCommit}, o.log, o.emit)
		learners[i] = l
		net.Register(consensus.ID("learner:"+lc.Name), l.Deliver)
	}

	o.mu.Lock()
	o.cancel = cancel
	o.stopDone = stopDone
	o.mu.Unlock()

	o.emitStatus("running", &cfg)

	for _, r := range replicas {
		r.Run(ctx)
	}
	for _, l := range learners {
		l.Run(ctx)
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-o.clock.After(cfg.Duration):
			cancel()
		}
		net.Wait()
		o.emitStatus("finished", nil)
		close(stopDone)
	}()

	return nil
}

// Stop cancels every outstanding task and waits for the termination
// goroutine to finish, per spec.md §4.5: "Stop cancels all outstanding
// work and clears all state except the immutable configuration echo."
// Calling Stop when nothing is running is a no-op.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	done := o.stopDone
	o.cancel = nil
	o.stopDone = nil
	o.mu.Unlock()

	if cancel == nil {
		return
	}
	o.emitStatus("stopped", nil)
	cancel()
	<-done
}

func (o *Orchestrator) emitStatus(state string, cfg *Config) {
	if o.log != nil {
		o.log.Infow("status", "state", state)
	}
	o.emit(NewStatusEvent(state, cfg))
}

func (o *Orchestrator) emitWarn(message string) {
	if o.log != nil {
		o.log.Warnw("config warning", "message", message)
	}
	o.emit(NewWarnEvent(message))
}
