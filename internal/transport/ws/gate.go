package ws

import "sync"

// joinGate orders mirror frames around hello_ack. While a hello is being
// handled, frames from the mirror are dropped: the snapshot carried by
// hello_ack is read under the gate, after every change those frames
// described was applied. Frames arriving after that wait for the ack.
type joinGate struct {
	mu      sync.Mutex
	holding bool
}

func (g *joinGate) hold() {
	g.mu.Lock()
	g.holding = true
	g.mu.Unlock()
}

// release runs ack (when non-nil) and reopens the gate in one step.
func (g *joinGate) release(ack func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ack != nil {
		ack()
	}
	g.holding = false
}

// relay runs send unless a hello is in progress.
func (g *joinGate) relay(send func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holding {
		return
	}
	send()
}
