package reliability

import (
	"context"
	"io"
	"net"

	"github.com/aetherlabs/relftp/internal/protocol"
	"github.com/aetherlabs/relftp/internal/transport"
	"go.uber.org/zap"
)

// GBNReceiver implements the Cumulative receiver: strict in-order delivery
// only, out-of-order packets are acknowledged but never buffered (§4.5, and
// §9's resolution of the source's cumulative-receiver ambiguity in favor of
// the stricter policy).
type GBNReceiver struct {
	conn   transport.PacketConn
	logger *zap.Logger
}

// NewGBNReceiver builds a Cumulative receiver bound to conn.
func NewGBNReceiver(conn transport.PacketConn, logger *zap.Logger) *GBNReceiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GBNReceiver{conn: conn, logger: logger}
}

// Receive writes incoming data packets to dst in strict sequence order
// until a FIN arrives, replying to the sender's address with a cumulative
// ACK after every datagram. It returns the sender's address once FIN has
// been acknowledged.
func (r *GBNReceiver) Receive(ctx context.Context, dst io.Writer) (*net.UDPAddr, error) {
	var expect uint32

	for {
		pkt, addr, err := r.conn.ReceiveFrom(ctx)
		if err != nil {
			return nil, err
		}

		if pkt.Seq == expect {
			if _, err := dst.Write(pkt.Payload); err != nil {
				return nil, err
			}
			expect++
		} else {
			r.logger.Debug("gbn receiver: out-of-order packet discarded",
				zap.Uint32("seq", pkt.Seq), zap.Uint32("expect", expect))
		}

		if err := r.conn.SendTo(protocol.NewAck(expect, nowTimestamp()), addr); err != nil {
			r.logger.Warn("gbn receiver: ACK send failed", zap.Error(err))
		}

		if pkt.HasFlag(protocol.FlagFIN) {
			if err := r.conn.SendTo(protocol.NewAck(expect, nowTimestamp()), addr); err != nil {
				r.logger.Warn("gbn receiver: FIN-ACK send failed", zap.Error(err))
			}
			return addr, nil
		}
	}
}
