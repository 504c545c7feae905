// Package reliability implements the sender and receiver state machines for
// relftp's two ARQ variants: Cumulative (Go-Back-N) and Selective (SR).
package reliability

import (
	"fmt"
	"time"
)

// nowTimestamp renders the current time as the float64 unix-seconds value
// the wire format's timestamp field carries.
func nowTimestamp() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// rttSince computes the RTT implied by a packet's send timestamp, or false
// if ts is the sentinel "do not sample" value of zero.
func rttSince(ts float64) (time.Duration, bool) {
	if ts <= 0 {
		return 0, false
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Since(time.Unix(sec, nsec)), true
}

// ARQMode names the wire-negotiable reliable-delivery strategies. The
// session bootstrap control message (see internal/session) restricts `arq`
// to these two values.
type ARQMode string

const (
	ARQCumulative ARQMode = "gbn"
	ARQSelective  ARQMode = "sr"
)

const (
	// RTO is the fixed retransmission timeout (§3: "fixed 500 ms").
	RTO = 500 * time.Millisecond

	// FinWaitTimeout bounds each attempt to receive the FIN-ACK; the
	// sender exits once base >= N even if this keeps expiring (§4.3/§5).
	FinWaitTimeout = 2 * time.Second
)

// Metrics summarizes a completed send, per spec §4.3's goodput/utilization
// definitions.
type Metrics struct {
	UniquePayload int
	TotalSent     int
	Elapsed       time.Duration
	GoodputMbps   float64
	Utilization   float64
}

func computeMetrics(uniquePayload, totalSent int, elapsed time.Duration) Metrics {
	secs := elapsed.Seconds()
	if secs < 1e-9 {
		secs = 1e-9
	}
	utilization := 0.0
	if totalSent > 0 {
		utilization = float64(uniquePayload) / float64(totalSent)
	}
	return Metrics{
		UniquePayload: uniquePayload,
		TotalSent:     totalSent,
		Elapsed:       elapsed,
		GoodputMbps:   8 * float64(uniquePayload) / secs / 1e6,
		Utilization:   utilization,
	}
}

// printMetricLine emits the transfer's summary in the original
// implementation's fixed "METRIC,..." shape, in addition to the structured
// zap log line each sender also emits.
func printMetricLine(mode ARQMode, m Metrics) {
	fmt.Printf("METRIC,mode=%s,goodput_mbps=%.3f,utilization=%.4f,seconds=%.3f\n",
		mode, m.GoodputMbps, m.Utilization, m.Elapsed.Seconds())
}

// Chunk slices data into pktSize-byte pieces; the final piece may be
// shorter. An empty input yields zero chunks (an empty-file transfer sends
// only a FIN).
func Chunk(data []byte, pktSize int) [][]byte {
	if pktSize <= 0 {
		pktSize = 1024
	}
	n := (len(data) + pktSize - 1) / pktSize
	chunks := make([][]byte, 0, n)
	for i := 0; i < len(data); i += pktSize {
		end := i + pktSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[i:end])
	}
	return chunks
}
