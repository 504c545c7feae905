package reliability

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/aetherlabs/relftp/internal/cc"
	"github.com/aetherlabs/relftp/internal/metrics"
	"github.com/aetherlabs/relftp/internal/protocol"
	"github.com/aetherlabs/relftp/internal/transport"
	"go.uber.org/zap"
)

// GBNSender drives a Cumulative (Go-Back-N) upload: a windowed progress
// loop that transmits and retransmits whole windows, running alongside an
// ACK-intake loop that advances base on cumulative ACKs (§4.3).
type GBNSender struct {
	conn       transport.PacketConn
	remote     *net.UDPAddr
	ctl        cc.Controller
	maxWin     int
	logger     *zap.Logger
	metrics    *metrics.Metrics
	transferID string

	mu            sync.Mutex
	chunks        [][]byte
	n             uint32
	base          uint32
	next          uint32
	cwnd          float64
	dupAck        int
	timerArmed    bool
	timerDeadline time.Time
}

// NewGBNSender builds a Cumulative sender bound to conn/remote, driven by
// the given congestion controller.
func NewGBNSender(conn transport.PacketConn, remote *net.UDPAddr, ctl cc.Controller, maxWin int, logger *zap.Logger) *GBNSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GBNSender{conn: conn, remote: remote, ctl: ctl, maxWin: maxWin, logger: logger, cwnd: 1.0}
}

// WithMetrics attaches a Prometheus collector set and the transfer's id for
// its per-transfer gauges; both are optional and nil/empty is a no-op.
func (s *GBNSender) WithMetrics(m *metrics.Metrics, transferID string) *GBNSender {
	s.metrics = m
	s.transferID = transferID
	return s
}

// Send slices data into pktSize chunks and drives them to completion,
// returning goodput/utilization metrics once the receiver has FIN-ACKed or
// base has reached N.
func (s *GBNSender) Send(ctx context.Context, data []byte, pktSize int) (Metrics, error) {
	s.chunks = Chunk(data, pktSize)
	s.n = uint32(len(s.chunks))
	uniquePayload := 0
	for _, c := range s.chunks {
		uniquePayload += len(c)
	}

	t0 := time.Now()
	totalSent := 0

	ackCtx, cancelAck := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.ackIntake(ackCtx)
	}()

	for s.getBase() < s.n {
		select {
		case <-ctx.Done():
			cancelAck()
			wg.Wait()
			return Metrics{}, ctx.Err()
		default:
		}

		w := cc.EffectiveWindow(s.getCwnd(), s.maxWin)

		s.mu.Lock()
		base, next := s.base, s.next
		upper := minU32(s.n, base+uint32(w))
		s.mu.Unlock()

		for next < upper {
			pkt := protocol.NewData(next, s.chunks[next], nowTimestamp())
			if err := s.conn.SendTo(pkt, s.remote); err != nil {
				s.logger.Warn("gbn sender: send failed", zap.Uint32("seq", next), zap.Error(err))
			} else {
				totalSent += len(s.chunks[next])
				if s.metrics != nil {
					s.metrics.PacketsSentTotal.WithLabelValues(string(ARQCumulative)).Inc()
				}
			}

			s.mu.Lock()
			if s.base == next {
				s.timerArmed = true
				s.timerDeadline = time.Now().Add(RTO)
			}
			next++
			s.next = next
			s.mu.Unlock()
		}

		s.mu.Lock()
		expired := s.timerArmed && time.Now().After(s.timerDeadline)
		base, next = s.base, s.next
		s.mu.Unlock()

		if expired {
			s.mu.Lock()
			s.cwnd = s.ctl.OnTimeout(s.cwnd)
			s.mu.Unlock()

			s.logger.Debug("gbn sender: retransmission timeout", zap.Uint32("base", base), zap.Uint32("next", next))

			retransUpper := minU32(next, base+uint32(w))
			for seq := base; seq < retransUpper; seq++ {
				pkt := protocol.NewData(seq, s.chunks[seq], nowTimestamp())
				if err := s.conn.SendTo(pkt, s.remote); err != nil {
					s.logger.Warn("gbn sender: retransmit failed", zap.Uint32("seq", seq), zap.Error(err))
					continue
				}
				totalSent += len(s.chunks[seq])
				if s.metrics != nil {
					s.metrics.PacketsSentTotal.WithLabelValues(string(ARQCumulative)).Inc()
					s.metrics.RetransmissionsTotal.WithLabelValues(string(ARQCumulative), "timeout").Inc()
				}
			}

			s.mu.Lock()
			s.timerArmed = true
			s.timerDeadline = time.Now().Add(RTO)
			s.mu.Unlock()
			if s.metrics != nil && s.transferID != "" {
				s.metrics.CongestionWindow.WithLabelValues(s.transferID).Set(s.getCwnd())
			}
		}

		time.Sleep(time.Millisecond)
	}

	cancelAck()
	wg.Wait()

	if err := s.conn.SendTo(protocol.NewFin(s.n, nowTimestamp()), s.remote); err != nil {
		s.logger.Warn("gbn sender: FIN send failed", zap.Error(err))
	}

	for {
		waitCtx, cancel := context.WithTimeout(ctx, FinWaitTimeout)
		pkt, _, err := s.conn.ReceiveFrom(waitCtx)
		cancel()
		if err != nil {
			if s.getBase() >= s.n {
				break
			}
			continue
		}
		if pkt.HasFlag(protocol.FlagACK) && pkt.Ack >= s.n {
			break
		}
		if s.getBase() >= s.n {
			break
		}
	}

	elapsed := time.Since(t0)
	metrics := computeMetrics(uniquePayload, totalSent, elapsed)
	s.logger.Info("gbn sender: transfer complete",
		zap.Duration("elapsed", elapsed),
		zap.Float64("goodput_mbps", metrics.GoodputMbps),
		zap.Float64("utilization", metrics.Utilization))
	printMetricLine(ARQCumulative, metrics)
	return metrics, nil
}

// ackIntake runs the concurrent ACK-processing activity described in §5:
// a blocking receive with a short deadline, advancing base on cumulative
// ACKs and counting duplicates otherwise. It returns once ctx is done or
// base has reached N.
func (s *GBNSender) ackIntake(ctx context.Context) {
	for {
		if s.getBase() >= s.n {
			return
		}

		recvCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		pkt, _, err := s.conn.ReceiveFrom(recvCtx)
		cancel()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}
		if !pkt.HasFlag(protocol.FlagACK) {
			continue
		}

		s.handleAck(pkt)
		if s.getBase() >= s.n {
			return
		}
	}
}

func (s *GBNSender) handleAck(pkt *protocol.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pkt.Ack > s.base {
		s.base = pkt.Ack
		rtt, haveRTT := rttSince(pkt.Timestamp)
		var rttArg *time.Duration
		if haveRTT {
			rttArg = &rtt
		}
		s.cwnd = s.ctl.OnAck(pkt.Ack, s.cwnd, rttArg)
		s.dupAck = 0
		if s.base != s.next {
			s.timerArmed = true
			s.timerDeadline = time.Now().Add(RTO)
		} else {
			s.timerArmed = false
		}
		if s.metrics != nil && s.transferID != "" {
			s.metrics.CongestionWindow.WithLabelValues(s.transferID).Set(s.cwnd)
		}
		return
	}

	s.dupAck++
	if s.metrics != nil {
		s.metrics.DuplicateAcksTotal.WithLabelValues(string(ARQCumulative)).Inc()
	}
	if s.dupAck >= 3 {
		s.cwnd = s.ctl.OnDupAck(s.cwnd)
		s.dupAck = 0
	}
}

func (s *GBNSender) getBase() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

func (s *GBNSender) getCwnd() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwnd
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
