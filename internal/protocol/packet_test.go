package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		seq     uint32
		flags   uint8
		ack     uint32
		ts      float64
		payload []byte
	}{
		{"data packet", 7, 0, 0, 1700000000.123, []byte("abc")},
		{"ack packet", 0, FlagACK, 8, 1700000000.456, nil},
		{"fin packet", 20, FlagFIN, 0, 1700000000.999, nil},
		{"empty payload data", 0, 0, 0, 0, []byte{}},
		{"zero timestamp means no sample", 3, 0, 0, 0, []byte("x")},
		{"both flags", 1, FlagACK | FlagFIN, 2, 1.5, nil},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			original := &Packet{Seq: c.seq, Flags: c.flags, Ack: c.ack, Timestamp: c.ts, Payload: c.payload}
			original.PayloadLen = len(c.payload)

			encoded := original.Encode()
			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if decoded.Seq != original.Seq {
				t.Errorf("Seq mismatch: got %d, want %d", decoded.Seq, original.Seq)
			}
			if decoded.Flags != original.Flags {
				t.Errorf("Flags mismatch: got %d, want %d", decoded.Flags, original.Flags)
			}
			if decoded.Ack != original.Ack {
				t.Errorf("Ack mismatch: got %d, want %d", decoded.Ack, original.Ack)
			}
			if decoded.PayloadLen != len(c.payload) {
				t.Errorf("PayloadLen mismatch: got %d, want %d", decoded.PayloadLen, len(c.payload))
			}
			if !bytes.Equal(decoded.Payload, c.payload) && !(len(decoded.Payload) == 0 && len(c.payload) == 0) {
				t.Errorf("Payload mismatch: got %v, want %v", decoded.Payload, c.payload)
			}
		})
	}
}

func TestExampleWireForm(t *testing.T) {
	// from spec §6: header line `7|0|0|3|1700000000.123\n` + "abc"
	p := NewData(7, []byte("abc"), 1700000000.123)
	got := string(p.Encode())
	want := "7|0|0|3|1700000000.123\nabc"
	if got != want {
		t.Errorf("wire form mismatch: got %q, want %q", got, want)
	}
}

func TestDecodeIgnoresTrailingBytesPastPayloadLen(t *testing.T) {
	raw := []byte("1|0|0|2|0\nabXYZ") // declares 2 bytes, datagram carries 5
	p, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if string(p.Payload) != "ab" {
		t.Errorf("payload should be truncated to payload_len, got %q", p.Payload)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"no newline", []byte("1|0|0|0|0")},
		{"wrong field count", []byte("1|0|0|0\n")},
		{"non-numeric seq", []byte("x|0|0|0|0\n")},
		{"declared len exceeds received", []byte("1|0|0|100|0\nab")},
		{"negative payload len", []byte("1|0|0|-1|0\nab")},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := Decode(c.data); err == nil {
				t.Errorf("expected malformed datagram to be rejected, got no error")
			}
		})
	}
}

func TestHasFlag(t *testing.T) {
	p := &Packet{Flags: FlagACK}
	if !p.HasFlag(FlagACK) {
		t.Error("expected FlagACK to be set")
	}
	if p.HasFlag(FlagFIN) {
		t.Error("did not expect FlagFIN to be set")
	}
}
