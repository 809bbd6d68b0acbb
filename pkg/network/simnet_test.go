package network

import (
	"sync"
	"testing"
	"time"

	"github.com/parkds/hotstuff-bft/pkg/consensus"
	"github.com/parkds/hotstuff-bft/pkg/util"
)

func TestSendDeliversToRegisteredEndpoint(t *testing.T) {
	net := New(Config{DropRate: 0, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}, util.RealClock{}, 1)

	var mu sync.Mutex
	var received []consensus.Message
	net.Register("R1", func(m consensus.Message) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, m)
	})

	net.Send("R0", "R1", consensus.ProposeMsg("R0", consensus.Block{ID: "b1"}))
	net.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].Block.ID != "b1" {
		t.Fatalf("expected one delivered message with block id b1, got %#v", received)
	}
}

func TestSendToUnknownEndpointIsSilentlyDropped(t *testing.T) {
	net := New(Config{DropRate: 0, MinDelay: time.Millisecond, MaxDelay: time.Millisecond}, util.RealClock{}, 1)
	net.Send("R0", "ghost", consensus.ProposeMsg("R0", consensus.Block{}))
	net.Wait() // must not panic or block
}

func TestDropRateOneDropsEverything(t *testing.T) {
	net := New(Config{DropRate: 1.0, MinDelay: time.Millisecond, MaxDelay: time.Millisecond}, util.RealClock{}, 1)

	var mu sync.Mutex
	count := 0
	net.Register("R1", func(consensus.Message) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	for i := 0; i < 50; i++ {
		net.Send("R0", "R1", consensus.ProposeMsg("R0", consensus.Block{}))
	}
	net.Wait()

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("expected zero deliveries with drop_rate=1.0, got %d", count)
	}
}

func TestBroadcastReachesAllRegisteredIncludingSelf(t *testing.T) {
	net := New(Config{DropRate: 0, MinDelay: time.Millisecond, MaxDelay: time.Millisecond}, util.RealClock{}, 1)

	var mu sync.Mutex
	counts := map[consensus.ID]int{}
	for _, id := range []consensus.ID{"R0", "R1", "R2"} {
		id := id
		net.Register(id, func(consensus.Message) {
			mu.Lock()
			counts[id]++
			mu.Unlock()
		})
	}

	net.Broadcast("R0", consensus.ProposeMsg("R0", consensus.Block{}))
	net.Wait()

	mu.Lock()
	defer mu.Unlock()
	for _, id := range []consensus.ID{"R0", "R1", "R2"} {
		if counts[id] != 1 {
			t.Fatalf("endpoint %s received %d messages, want 1", id, counts[id])
		}
	}
}

func TestReregistrationReplacesSink(t *testing.T) {
	net := New(Config{DropRate: 0, MinDelay: 0, MaxDelay: 0}, util.RealClock{}, 1)

	var mu sync.Mutex
	var firstCalled, secondCalled bool
	net.Register("R1", func(consensus.Message) {
		mu.Lock()
		firstCalled = true
		mu.Unlock()
	})
	net.Register("R1", func(consensus.Message) {
		mu.Lock()
		secondCalled = true
		mu.Unlock()
	})

	net.Send("R0", "R1", consensus.ProposeMsg("R0", consensus.Block{}))
	net.Wait()

	mu.Lock()
	defer mu.Unlock()
	if firstCalled || !secondCalled {
		t.Fatalf("expected only the replacement sink to be invoked")
	}
}
