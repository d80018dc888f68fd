// Package nor implements the application-level NOR-flash protocol served
// by the running firmware: enabling/disabling non-volatile writes and
// reading arbitrary sectors via the framed transport in pkg/frame.
package nor

import (
	"fmt"
	"time"

	"github.com/scalpelspace/blasher/pkg/frame"
)

// DefaultChunkSize bounds a single READ_DATA request.
const DefaultChunkSize = 256

// defaultTimeout is the per-frame deadline used by every request in this
// package.
const defaultTimeout = time.Second

// Port is the transport capability this package needs.
type Port interface {
	WriteAll(b []byte) error
	ReadExact(n int, timeout time.Duration) ([]byte, error)
	ResetInputBuffer() error
}

// UnexpectedOpcodeError reports a response frame whose opcode was not the
// one the caller required.
type UnexpectedOpcodeError struct {
	Got frame.Opcode
}

func (e *UnexpectedOpcodeError) Error() string {
	return fmt.Sprintf("nor: unexpected opcode in response: 0x%02X", byte(e.Got))
}

// Client drives the application NOR protocol over an already-opened,
// no-parity port.
type Client struct {
	port Port
}

// New builds a Client.
func New(port Port) *Client {
	return &Client{port: port}
}

func (c *Client) roundTrip(cmd frame.Opcode, payload []byte) (frame.Frame, error) {
	if err := c.port.ResetInputBuffer(); err != nil {
		return frame.Frame{}, fmt.Errorf("nor: flush input: %w", err)
	}

	raw, err := frame.Build(cmd, payload)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("nor: build frame: %w", err)
	}
	if err := c.port.WriteAll(raw); err != nil {
		return frame.Frame{}, fmt.Errorf("nor: write frame: %w", err)
	}

	respRaw, err := frame.ReadFrame(c.port, defaultTimeout)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("nor: read response: %w", err)
	}
	resp, err := frame.Parse(respRaw)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("nor: parse response: %w", err)
	}
	return resp, nil
}

// WriteEnable enables non-volatile writes on the target.
func (c *Client) WriteEnable() error {
	resp, err := c.roundTrip(frame.OpWriteEn, nil)
	if err != nil {
		return err
	}
	if resp.Cmd != frame.OpACK {
		return &UnexpectedOpcodeError{Got: resp.Cmd}
	}
	return nil
}

// WriteDisable disables non-volatile writes on the target.
func (c *Client) WriteDisable() error {
	resp, err := c.roundTrip(frame.OpWriteDen, nil)
	if err != nil {
		return err
	}
	if resp.Cmd != frame.OpACK {
		return &UnexpectedOpcodeError{Got: resp.Cmd}
	}
	return nil
}

// ReadSection reads length bytes starting at startAddr, splitting the
// request into chunkSize-sized READ_DATA calls and concatenating the
// returned payloads in order. chunkSize <= 0 uses DefaultChunkSize.
func (c *Client) ReadSection(startAddr uint32, length int, chunkSize int) ([]byte, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	out := make([]byte, 0, length)
	for offset := 0; offset < length; offset += chunkSize {
		n := chunkSize
		if offset+n > length {
			n = length - offset
		}

		addr := startAddr + uint32(offset)
		payload := make([]byte, 5)
		payload[0] = byte(addr >> 16)
		payload[1] = byte(addr >> 8)
		payload[2] = byte(addr)
		payload[3] = byte(n >> 8)
		payload[4] = byte(n)

		resp, err := c.roundTrip(frame.OpReadData, payload)
		if err != nil {
			return nil, err
		}
		if resp.Cmd != frame.OpData {
			return nil, &UnexpectedOpcodeError{Got: resp.Cmd}
		}
		out = append(out, resp.Payload...)
	}
	return out, nil
}
