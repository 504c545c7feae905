package cc

import (
	"sync"
	"time"
)

// BBR is a third Controller implementation, adapted from the teacher's
// standalone BBR congestion controller into this package's event-driven
// Controller shape (OnAck/OnTimeout/OnDupAck) instead of its original
// packet-sent/packet-acked/pacing-rate API.
//
// It is deliberately not reachable through Mode or New(): the session
// bootstrap control message fixes `cc` to {reno, vegas} (spec §6), so a
// third algorithm has nowhere to be negotiated from without changing the
// wire contract. It is kept, adapted, and exercised by its own tests as a
// second example of the Controller interface and a base for a future mode.
type BBR struct {
	mu sync.Mutex

	btlBw     float64 // bottleneck bandwidth estimate, arbitrary units/sec
	minRTT    time.Duration
	haveRTT   bool
	gain      float64
	lastCwnd  float64
}

// NewBBR creates a BBR controller with the startup pacing gain used while
// probing for available bandwidth.
func NewBBR() *BBR {
	return &BBR{gain: 2.77}
}

// OnAck updates the bandwidth and minRTT estimates and grows cwnd toward
// gain * bandwidth-delay-product, matching the teacher's
// updatePacingAndWindow/calculateBDP shape but expressed per-ACK instead of
// against a background pacer.
func (b *BBR) OnAck(ack uint32, cwnd float64, rtt *time.Duration) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if rtt == nil {
		b.lastCwnd = cwnd + 0.5
		return b.lastCwnd
	}

	if !b.haveRTT || *rtt < b.minRTT {
		b.minRTT = *rtt
		b.haveRTT = true
	}

	if rtt.Seconds() > 0 {
		sample := cwnd / rtt.Seconds()
		if sample > b.btlBw {
			b.btlBw = sample
		}
	}

	bdp := b.btlBw * b.minRTT.Seconds()
	target := bdp * b.gain
	if target < 1 {
		target = 1
	}

	// Move at most one segment per ACK toward the BDP-derived target, to
	// avoid step changes that would violate the cwnd-floor invariant.
	switch {
	case target > cwnd:
		b.lastCwnd = cwnd + 1.0
	case target < cwnd:
		b.lastCwnd = maxFloat(1.0, cwnd-1.0)
	default:
		b.lastCwnd = cwnd
	}
	return b.lastCwnd
}

// OnTimeout halves cwnd; BBR does not key congestion response off packet
// loss directly, but the sender-facing contract requires it to respond to
// an RTO like the other controllers.
func (b *BBR) OnTimeout(cwnd float64) float64 {
	return cwnd / 2.0
}

// OnDupAck decrements cwnd by one segment, floored at 1.
func (b *BBR) OnDupAck(cwnd float64) float64 {
	return maxFloat(1.0, cwnd-1.0)
}

// Bandwidth returns the current bottleneck bandwidth estimate.
func (b *BBR) Bandwidth() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.btlBw
}
