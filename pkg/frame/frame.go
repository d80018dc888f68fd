// Package frame implements the application NOR protocol's binary frame
// layout: SOF | CMD | LEN_BE | PAYLOAD | CRC_BE.
package frame

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/scalpelspace/blasher/pkg/checksum"
)

// Reader is the transport capability ReadFrame needs: read exactly n bytes
// or fail once a deadline elapses. *serialport.Port satisfies this
// directly; ReadFrame never sees a concrete transport type.
type Reader interface {
	ReadExact(n int, timeout time.Duration) ([]byte, error)
}

// SOF is the start-of-frame marker byte.
const SOF byte = 0x7E

// Opcode is a closed tagged variant of the application protocol's command
// and response bytes.
type Opcode byte

const (
	OpACK      Opcode = 0x06
	OpNACK     Opcode = 0x07
	OpWriteEn  Opcode = 0x10
	OpWriteDen Opcode = 0x11
	OpWrite    Opcode = 0x12 // defined per nor_flash_comm.py; no call-site specifies a payload, so no builder uses it
	OpReadData Opcode = 0x20
	OpData     Opcode = 0x21
)

// Frame is a parsed application-protocol message.
type Frame struct {
	Cmd     Opcode
	Payload []byte
}

// BadFrameError reports a frame that is too short, missing its SOF marker,
// or otherwise structurally malformed.
type BadFrameError struct {
	Reason string
}

func (e *BadFrameError) Error() string { return fmt.Sprintf("bad frame: %s", e.Reason) }

// CrcMismatchError reports a frame whose trailing CRC does not match the
// CRC computed over the body that precedes it.
type CrcMismatchError struct {
	Want, Got uint16
}

func (e *CrcMismatchError) Error() string {
	return fmt.Sprintf("crc mismatch: got 0x%04X, want 0x%04X", e.Got, e.Want)
}

// Build encodes cmd and payload into a complete frame with a trailing
// big-endian CRC-16/CCITT-FALSE computed over every preceding byte. LEN is
// the payload byte count, not the total frame length. An empty payload is
// legal.
func Build(cmd Opcode, payload []byte) ([]byte, error) {
	if len(payload) > 0xFFFF {
		return nil, fmt.Errorf("frame: payload length %d exceeds 65535", len(payload))
	}

	out := make([]byte, 4, 4+len(payload)+2)
	out[0] = SOF
	out[1] = byte(cmd)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	out = append(out, payload...)

	crc := checksum.CRC16CCITT(out)
	out = append(out, byte(crc>>8), byte(crc))
	return out, nil
}

// ReadFrame synchronizes on SOF (discarding bytes until 0x7E is seen or the
// deadline elapses), then reads the 3-byte header and the LEN+2 trailing
// bytes. The deadline covers the whole call, not each individual read.
func ReadFrame(port Reader, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)

	for {
		b, err := port.ReadExact(1, time.Until(deadline))
		if err != nil {
			return nil, err
		}
		if b[0] == SOF {
			break
		}
	}

	header, err := port.ReadExact(3, time.Until(deadline))
	if err != nil {
		return nil, err
	}

	length := int(binary.BigEndian.Uint16(header[1:3]))

	rest, err := port.ReadExact(length+2, time.Until(deadline))
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, 1+3+length+2)
	frame = append(frame, SOF)
	frame = append(frame, header...)
	frame = append(frame, rest...)
	return frame, nil
}

// Parse validates and decodes a complete frame produced by ReadFrame (or any
// equivalent byte slice), returning its opcode and payload.
func Parse(raw []byte) (Frame, error) {
	if len(raw) < 6 {
		return Frame{}, &BadFrameError{Reason: fmt.Sprintf("length %d shorter than minimum 6", len(raw))}
	}
	if raw[0] != SOF {
		return Frame{}, &BadFrameError{Reason: fmt.Sprintf("first byte 0x%02X is not SOF", raw[0])}
	}

	length := int(binary.BigEndian.Uint16(raw[2:4]))
	want := 4 + length + 2
	if len(raw) != want {
		return Frame{}, &BadFrameError{Reason: fmt.Sprintf("declared length %d needs %d total bytes, got %d", length, want, len(raw))}
	}

	body := raw[:4+length]
	gotCRC := binary.BigEndian.Uint16(raw[4+length:])
	wantCRC := checksum.CRC16CCITT(body)
	if gotCRC != wantCRC {
		return Frame{}, &CrcMismatchError{Want: wantCRC, Got: gotCRC}
	}

	payload := make([]byte, length)
	copy(payload, raw[4:4+length])

	return Frame{Cmd: Opcode(raw[1]), Payload: payload}, nil
}
