// Package protocol implements the wire framing for relftp datagrams: a
// printable, pipe-delimited header followed by a raw payload.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// FlagACK marks a packet as an acknowledgement.
	FlagACK uint8 = 1 << 0

	// FlagFIN marks a packet as the terminal end-of-transfer marker.
	FlagFIN uint8 = 1 << 1
)

// headerFieldCount is the number of '|'-separated fields in a valid header.
const headerFieldCount = 5

// Packet is a single relftp datagram: seq, flags, ack, payload length and a
// send timestamp, followed by exactly PayloadLen bytes of payload.
type Packet struct {
	Seq       uint32
	Flags     uint8
	Ack       uint32
	PayloadLen int
	Timestamp float64 // unix seconds; 0 means "do not sample RTT"
	Payload   []byte
}

// HasFlag reports whether the given flag bit is set.
func (p *Packet) HasFlag(flag uint8) bool {
	return p.Flags&flag != 0
}

// NewData builds a plain data packet carrying payload at the given sequence.
func NewData(seq uint32, payload []byte, ts float64) *Packet {
	return &Packet{Seq: seq, PayloadLen: len(payload), Timestamp: ts, Payload: payload}
}

// NewAck builds an ACK packet advertising the given cumulative or
// per-packet ack value.
func NewAck(ack uint32, ts float64) *Packet {
	return &Packet{Flags: FlagACK, Ack: ack, Timestamp: ts}
}

// NewFin builds the terminal FIN packet, seq set to the packet count N.
func NewFin(n uint32, ts float64) *Packet {
	return &Packet{Seq: n, Flags: FlagFIN, Timestamp: ts}
}

// Encode serializes the packet to its wire form: header line terminated by
// '\n', followed by exactly PayloadLen raw bytes.
func (p *Packet) Encode() []byte {
	header := fmt.Sprintf("%d|%d|%d|%d|%s\n", p.Seq, p.Flags, p.Ack, len(p.Payload), formatTimestamp(p.Timestamp))
	buf := make([]byte, 0, len(header)+len(p.Payload))
	buf = append(buf, header...)
	buf = append(buf, p.Payload...)
	return buf
}

// Decode parses a datagram into a Packet. A datagram whose header cannot be
// split into exactly five '|'-separated fields, or whose declared
// payload_len exceeds the bytes actually received, is malformed; the caller
// is expected to discard it silently per the protocol's loss model.
func Decode(data []byte) (*Packet, error) {
	nl := indexByte(data, '\n')
	if nl < 0 {
		return nil, fmt.Errorf("protocol: no header terminator")
	}

	fields := strings.Split(string(data[:nl]), "|")
	if len(fields) != headerFieldCount {
		return nil, fmt.Errorf("protocol: expected %d header fields, got %d", headerFieldCount, len(fields))
	}

	seq, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("protocol: bad seq: %w", err)
	}
	flags, err := strconv.ParseUint(fields[1], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("protocol: bad flags: %w", err)
	}
	ack, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("protocol: bad ack: %w", err)
	}
	payloadLen, err := strconv.Atoi(fields[3])
	if err != nil || payloadLen < 0 {
		return nil, fmt.Errorf("protocol: bad payload_len: %q", fields[3])
	}
	ts, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return nil, fmt.Errorf("protocol: bad timestamp: %w", err)
	}

	rest := data[nl+1:]
	if payloadLen > len(rest) {
		return nil, fmt.Errorf("protocol: declared payload_len %d exceeds %d bytes received", payloadLen, len(rest))
	}

	payload := make([]byte, payloadLen)
	copy(payload, rest[:payloadLen])

	return &Packet{
		Seq:        uint32(seq),
		Flags:      uint8(flags),
		Ack:        uint32(ack),
		PayloadLen: payloadLen,
		Timestamp:  ts,
		Payload:    payload,
	}, nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// formatTimestamp renders a float64 unix timestamp the way the reference
// implementation's Python float formatting does: enough precision to
// survive a round trip, without a forced exponent.
func formatTimestamp(ts float64) string {
	return strconv.FormatFloat(ts, 'f', -1, 64)
}
