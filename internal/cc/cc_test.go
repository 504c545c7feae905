package cc

import (
	"testing"
	"time"
)

func TestRenoSlowStartThenAvoidance(t *testing.T) {
	r := NewReno()
	cwnd := 1.0

	for i := 0; i < 10; i++ {
		cwnd = r.OnAck(uint32(i), cwnd, nil)
	}
	if cwnd != 11.0 {
		t.Errorf("expected pure slow-start growth to reach 11, got %v", cwnd)
	}

	// Push past ssthresh (16) into congestion avoidance.
	for i := 0; i < 10; i++ {
		cwnd = r.OnAck(uint32(i), cwnd, nil)
	}
	if cwnd <= InitialSSThresh {
		t.Errorf("expected cwnd to grow past ssthresh, got %v", cwnd)
	}
}

func TestRenoTimeoutHalvesSSThreshAndResetsCwnd(t *testing.T) {
	r := NewReno()
	cwnd := 20.0

	next := r.OnTimeout(cwnd)
	if next != 1.0 {
		t.Errorf("expected cwnd to collapse to 1 on timeout, got %v", next)
	}
	if r.SSThresh() != 10.0 {
		t.Errorf("expected ssthresh = cwnd/2 = 10, got %v", r.SSThresh())
	}
}

func TestRenoDupAckEntersFastRecovery(t *testing.T) {
	r := NewReno()
	cwnd := 8.0

	next := r.OnDupAck(cwnd)
	if next != 4.0 {
		t.Errorf("expected cwnd = ssthresh = cwnd/2 = 4, got %v", next)
	}
	if r.SSThresh() != 4.0 {
		t.Errorf("expected ssthresh = 4, got %v", r.SSThresh())
	}
}

func TestRenoCwndNeverBelowFloor(t *testing.T) {
	r := NewReno()
	cwnd := 1.0
	for i := 0; i < 5; i++ {
		cwnd = r.OnTimeout(cwnd)
		if cwnd < 1.0 {
			t.Fatalf("cwnd fell below floor: %v", cwnd)
		}
	}
}

func TestVegasNoRTTSampleGrowsHalf(t *testing.T) {
	v := NewVegas()
	next := v.OnAck(1, 4.0, nil)
	if next != 4.5 {
		t.Errorf("expected cwnd + 0.5 when rtt is nil, got %v", next)
	}
}

func TestVegasConvergesWithinBand(t *testing.T) {
	v := NewVegas()
	cwnd := 4.0
	rtt := 50 * time.Millisecond

	// Stable RTT, no loss: every sample equals minRTT, so diff stays at 0,
	// within one of the [alpha, beta] band (cwnd itself keeps growing).
	for i := 0; i < 200; i++ {
		cwnd = v.OnAck(uint32(i), cwnd, &rtt)
	}

	expected := cwnd / v.MinRTT().Seconds()
	actual := cwnd / rtt.Seconds()
	diff := expected - actual

	if diff < -1 || diff > VegasBeta+1 {
		t.Errorf("expected diff to settle near [%v, %v], got %v (cwnd=%v)", VegasAlpha, VegasBeta, diff, cwnd)
	}
}

func TestVegasTimeoutHalvesCwnd(t *testing.T) {
	v := NewVegas()
	if got := v.OnTimeout(10.0); got != 5.0 {
		t.Errorf("expected cwnd/2 = 5, got %v", got)
	}
}

func TestVegasDupAckFloor(t *testing.T) {
	v := NewVegas()
	if got := v.OnDupAck(1.0); got != 1.0 {
		t.Errorf("expected floor of 1, got %v", got)
	}
}

func TestEffectiveWindow(t *testing.T) {
	cases := []struct {
		cwnd   float64
		maxWin int
		want   int
	}{
		{0.5, 64, 1},
		{1.0, 64, 1},
		{4.9, 64, 4},
		{1000, 64, 64},
		{4.0, 4, 4},
	}
	for _, c := range cases {
		if got := EffectiveWindow(c.cwnd, c.maxWin); got != c.want {
			t.Errorf("EffectiveWindow(%v, %v) = %v, want %v", c.cwnd, c.maxWin, got, c.want)
		}
	}
}

func TestBBRImplementsController(t *testing.T) {
	var _ Controller = NewBBR()

	b := NewBBR()
	rtt := 20 * time.Millisecond
	cwnd := 1.0
	for i := 0; i < 20; i++ {
		cwnd = b.OnAck(uint32(i), cwnd, &rtt)
		if cwnd < 1.0 {
			t.Fatalf("BBR cwnd fell below floor: %v", cwnd)
		}
	}
	if b.Bandwidth() <= 0 {
		t.Error("expected a positive bandwidth estimate after ACKs with RTT samples")
	}
}

func TestNewSelectsModeByName(t *testing.T) {
	if _, ok := New(ModeReno).(*Reno); !ok {
		t.Error("New(ModeReno) should return a *Reno")
	}
	if _, ok := New(ModeVegas).(*Vegas); !ok {
		t.Error("New(ModeVegas) should return a *Vegas")
	}
}
