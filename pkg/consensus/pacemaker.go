package consensus

import (
	"sync"
	"time"

	"github.com/parkds/hotstuff-bft/pkg/util"
)

// Pacemaker manages the single outstanding view timer. Scheduling a
// new timer cancels whatever was previously pending; cancellation is
// safe to call on an already-fired timer.
type Pacemaker struct {
	clock   util.Clock
	timeout time.Duration

	mu  sync.Mutex
	gen uint64 // incremented on every (re)schedule; invalidates stale firings
}

// NewPacemaker returns a pacemaker that fires after timeout.
func NewPacemaker(clock util.Clock, timeout time.Duration) *Pacemaker {
	return &Pacemaker{clock: clock, timeout: timeout}
}

// Schedule arms a fresh timer for view. If it fires before being
// superseded by another Schedule call, onFire is invoked with view.
// Any previously pending timer is cancelled (its firing becomes a
// no-op).
func (p *Pacemaker) Schedule(view View, onFire func(View)) {
	p.mu.Lock()
	p.gen++
	myGen := p.gen
	p.mu.Unlock()

	ch := p.clock.After(p.timeout)
	go func() {
		<-ch
		p.mu.Lock()
		current := p.gen
		p.mu.Unlock()
		if current != myGen {
			return // superseded: a later Schedule cancelled us
		}
		onFire(view)
	}()
}

// Stop cancels any pending timer without scheduling a new one.
func (p *Pacemaker) Stop() {
	p.mu.Lock()
	p.gen++
	p.mu.Unlock()
}
