package cc

import (
	"sync"
	"time"
)

// InitialSSThresh is the slow-start threshold a fresh Reno controller
// begins with.
const InitialSSThresh = 16.0

// Reno is a Reno-like congestion controller: additive-increase slow start
// below ssthresh, additive-increase congestion avoidance above it, and
// multiplicative-decrease on loss signals.
type Reno struct {
	mu       sync.Mutex
	ssthresh float64
}

// NewReno creates a Reno controller with the default ssthresh.
func NewReno() *Reno {
	return &Reno{ssthresh: InitialSSThresh}
}

// OnAck grows cwnd by one full segment per ACK during slow start
// (cwnd < ssthresh), or by 1/cwnd during congestion avoidance.
func (r *Reno) OnAck(ack uint32, cwnd float64, rtt *time.Duration) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cwnd < r.ssthresh {
		return cwnd + 1.0
	}
	return cwnd + 1.0/cwnd
}

// OnTimeout halves ssthresh from the pre-event cwnd and collapses cwnd to 1.
func (r *Reno) OnTimeout(cwnd float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ssthresh = cwnd / 2.0
	return 1.0
}

// OnDupAck halves ssthresh and sets cwnd to the new ssthresh (the fast
// recovery entry point). The senders in internal/reliability do not
// retransmit on this event; a lost packet is resent only when the
// retransmission timer expires.
func (r *Reno) OnDupAck(cwnd float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ssthresh = cwnd / 2.0
	return r.ssthresh
}

// SSThresh returns the current slow-start threshold, mostly useful for
// tests asserting S3/S5 of the spec's scenario suite.
func (r *Reno) SSThresh() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ssthresh
}
