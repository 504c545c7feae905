package reliability

import (
	"context"
	"io"
	"net"

	"github.com/aetherlabs/relftp/internal/protocol"
	"github.com/aetherlabs/relftp/internal/transport"
	"go.uber.org/zap"
)

// SRReceiver implements the Selective receiver: every packet is ACKed
// immediately with seq+1, out-of-order arrivals are buffered by sequence
// and drained once the gap closes (§4.6).
type SRReceiver struct {
	conn   transport.PacketConn
	logger *zap.Logger
}

// NewSRReceiver builds a Selective receiver bound to conn.
func NewSRReceiver(conn transport.PacketConn, logger *zap.Logger) *SRReceiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SRReceiver{conn: conn, logger: logger}
}

// Receive buffers and reorders incoming packets, writing contiguous runs
// to dst as they become available, until a FIN arrives.
func (r *SRReceiver) Receive(ctx context.Context, dst io.Writer) (*net.UDPAddr, error) {
	var expect uint32
	pending := make(map[uint32][]byte)

	for {
		pkt, addr, err := r.conn.ReceiveFrom(ctx)
		if err != nil {
			return nil, err
		}

		if err := r.conn.SendTo(protocol.NewAck(pkt.Seq+1, nowTimestamp()), addr); err != nil {
			r.logger.Warn("sr receiver: ACK send failed", zap.Error(err))
		}

		if pkt.Seq < expect {
			r.logger.Debug("sr receiver: duplicate discarded", zap.Uint32("seq", pkt.Seq))
		} else {
			pending[pkt.Seq] = pkt.Payload
			for {
				payload, ok := pending[expect]
				if !ok {
					break
				}
				if _, err := dst.Write(payload); err != nil {
					return nil, err
				}
				delete(pending, expect)
				expect++
			}
		}

		if pkt.HasFlag(protocol.FlagFIN) {
			if err := r.conn.SendTo(protocol.NewAck(expect, nowTimestamp()), addr); err != nil {
				r.logger.Warn("sr receiver: FIN-ACK send failed", zap.Error(err))
			}
			return addr, nil
		}
	}
}
