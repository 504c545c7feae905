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

// SRSender drives a Selective-Repeat upload: every in-flight packet is
// tracked individually by send time, and only packets whose deadline has
// actually expired are retransmitted (§4.4).
type SRSender struct {
	conn       transport.PacketConn
	remote     *net.UDPAddr
	ctl        cc.Controller
	maxWin     int
	logger     *zap.Logger
	metrics    *metrics.Metrics
	transferID string

	mu        sync.Mutex
	chunks    [][]byte
	n         uint32
	base      uint32
	next      uint32
	cwnd      float64
	acked     map[uint32]bool
	sendTimes map[uint32]time.Time
}

// NewSRSender builds a Selective-Repeat sender bound to conn/remote.
func NewSRSender(conn transport.PacketConn, remote *net.UDPAddr, ctl cc.Controller, maxWin int, logger *zap.Logger) *SRSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SRSender{
		conn:      conn,
		remote:    remote,
		ctl:       ctl,
		maxWin:    maxWin,
		logger:    logger,
		cwnd:      1.0,
		acked:     make(map[uint32]bool),
		sendTimes: make(map[uint32]time.Time),
	}
}

// WithMetrics attaches a Prometheus collector set and the transfer's id for
// its per-transfer gauges; both are optional and nil/empty is a no-op.
func (s *SRSender) WithMetrics(m *metrics.Metrics, transferID string) *SRSender {
	s.metrics = m
	s.transferID = transferID
	return s
}

// Send slices data into pktSize chunks and drives them to completion.
func (s *SRSender) Send(ctx context.Context, data []byte, pktSize int) (Metrics, error) {
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
		for next < upper {
			pkt := protocol.NewData(next, s.chunks[next], nowTimestamp())
			s.sendTimes[next] = time.Now()
			s.mu.Unlock()
			if err := s.conn.SendTo(pkt, s.remote); err != nil {
				s.logger.Warn("sr sender: send failed", zap.Uint32("seq", next), zap.Error(err))
			} else {
				totalSent += len(s.chunks[next])
				if s.metrics != nil {
					s.metrics.PacketsSentTotal.WithLabelValues(string(ARQSelective)).Inc()
				}
			}
			s.mu.Lock()
			next++
			s.next = next
		}
		s.mu.Unlock()

		now := time.Now()
		var expired []uint32
		s.mu.Lock()
		for seq, sentAt := range s.sendTimes {
			if now.Sub(sentAt) >= RTO {
				expired = append(expired, seq)
			}
		}
		s.mu.Unlock()

		if len(expired) > 0 {
			s.mu.Lock()
			s.cwnd = s.ctl.OnTimeout(s.cwnd)
			s.mu.Unlock()

			for _, seq := range expired {
				pkt := protocol.NewData(seq, s.chunks[seq], nowTimestamp())
				if err := s.conn.SendTo(pkt, s.remote); err != nil {
					s.logger.Warn("sr sender: retransmit failed", zap.Uint32("seq", seq), zap.Error(err))
					continue
				}
				totalSent += len(s.chunks[seq])
				if s.metrics != nil {
					s.metrics.PacketsSentTotal.WithLabelValues(string(ARQSelective)).Inc()
					s.metrics.RetransmissionsTotal.WithLabelValues(string(ARQSelective), "timeout").Inc()
				}
				s.mu.Lock()
				s.sendTimes[seq] = time.Now()
				s.mu.Unlock()
			}
			if s.metrics != nil && s.transferID != "" {
				s.metrics.CongestionWindow.WithLabelValues(s.transferID).Set(s.getCwnd())
			}
		}

		time.Sleep(time.Millisecond)
	}

	cancelAck()
	wg.Wait()

	if err := s.conn.SendTo(protocol.NewFin(s.n, nowTimestamp()), s.remote); err != nil {
		s.logger.Warn("sr sender: FIN send failed", zap.Error(err))
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
	s.logger.Info("sr sender: transfer complete",
		zap.Duration("elapsed", elapsed),
		zap.Float64("goodput_mbps", metrics.GoodputMbps),
		zap.Float64("utilization", metrics.Utilization))
	printMetricLine(ARQSelective, metrics)
	return metrics, nil
}

// ackIntake interprets each ACK's ack field as seq+1 of a specific packet:
// marks (ack-1) acknowledged, invokes on_ack, and advances base past any
// contiguous prefix of acknowledged indices (§4.4).
func (s *SRSender) ackIntake(ctx context.Context) {
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
		if !pkt.HasFlag(protocol.FlagACK) || pkt.Ack == 0 {
			continue
		}

		s.handleAck(pkt)
		if s.getBase() >= s.n {
			return
		}
	}
}

func (s *SRSender) handleAck(pkt *protocol.Packet) {
	seq := pkt.Ack - 1

	s.mu.Lock()
	defer s.mu.Unlock()

	if seq >= s.n || s.acked[seq] {
		return
	}
	s.acked[seq] = true
	delete(s.sendTimes, seq)

	rtt, haveRTT := rttSince(pkt.Timestamp)
	var rttArg *time.Duration
	if haveRTT {
		rttArg = &rtt
	}
	s.cwnd = s.ctl.OnAck(pkt.Ack, s.cwnd, rttArg)
	if s.metrics != nil && s.transferID != "" {
		s.metrics.CongestionWindow.WithLabelValues(s.transferID).Set(s.cwnd)
	}

	for s.base < s.n && s.acked[s.base] {
		s.base++
	}
}

func (s *SRSender) getBase() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

func (s *SRSender) getCwnd() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwnd
}
