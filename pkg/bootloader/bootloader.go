// Package bootloader drives the STM32 ROM UART bootloader: NRST pulsing,
// auto-baud sync, extended erase, page-oriented writes, and the
// jump-to-application handoff. The device must already have BOOT0 held high
// externally (the operator's responsibility) so that releasing NRST enters
// the ROM bootloader rather than the application.
package bootloader

import (
	"fmt"
	"time"

	"github.com/scalpelspace/blasher/pkg/checksum"
)

const (
	ack  byte = 0x79
	nack byte = 0x1F

	syncByte byte = 0x7F

	cmdExtendedErase byte = 0x44
	cmdWriteMemory   byte = 0x31
	cmdGo            byte = 0x21

	globalEraseHi byte = 0xFF
	globalEraseLo byte = 0xFF

	// ackTimeout is the default deadline for every single-byte ACK read.
	ackTimeout = time.Second

	// MaxBlockSize is the largest payload WriteBlock will accept.
	MaxBlockSize = 256
)

// Port is the transport capability this package needs: write a command,
// read back exactly n bytes within a deadline, and toggle RTS (wired into
// NRST on the target hardware). *serialport.Port satisfies this directly.
type Port interface {
	WriteAll(b []byte) error
	ReadExact(n int, timeout time.Duration) ([]byte, error)
	SetRTS(asserted bool) error
}

// Sleeper abstracts time.Sleep so tests can run without real delays.
type Sleeper func(time.Duration)

// Client drives the ST ROM bootloader protocol over an already-opened,
// even-parity port.
type Client struct {
	port  Port
	sleep Sleeper
}

// New builds a Client. If sleep is nil, time.Sleep is used.
func New(port Port, sleep Sleeper) *Client {
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Client{port: port, sleep: sleep}
}

// SyncFailedError reports that the device did not ACK the 0x7F sync probe.
type SyncFailedError struct {
	Got    []byte
	NoByte bool
}

func (e *SyncFailedError) Error() string {
	if e.NoByte {
		return "bootloader: sync failed: no response"
	}
	return fmt.Sprintf("bootloader: sync failed: got 0x%02X, want ACK", e.Got[0])
}

// NotAckedError reports that a named protocol step received something
// other than ACK.
type NotAckedError struct {
	Step string
	Got  byte
}

func (e *NotAckedError) Error() string {
	return fmt.Sprintf("bootloader: %s not acked: got 0x%02X", e.Step, e.Got)
}

// BlockTooLargeError reports a WriteBlock call whose payload is empty or
// longer than MaxBlockSize bytes.
type BlockTooLargeError struct {
	Len int
}

func (e *BlockTooLargeError) Error() string {
	return fmt.Sprintf("bootloader: block of %d bytes outside 1..%d", e.Len, MaxBlockSize)
}

func (c *Client) readACK(step string) error {
	b, err := c.port.ReadExact(1, ackTimeout)
	if err != nil {
		return fmt.Errorf("bootloader: %s: %w", step, err)
	}
	if b[0] != ack {
		return &NotAckedError{Step: step, Got: b[0]}
	}
	return nil
}

// PulseNRST drives NRST low (RTS set false) for duration, then releases it
// (RTS set true).
// The caller is responsible for the post-pulse settling delay.
func (c *Client) PulseNRST(duration time.Duration) error {
	if err := c.port.SetRTS(false); err != nil {
		return fmt.Errorf("bootloader: assert NRST: %w", err)
	}
	c.sleep(duration)
	if err := c.port.SetRTS(true); err != nil {
		return fmt.Errorf("bootloader: release NRST: %w", err)
	}
	return nil
}

// EnterBootloader pulses NRST for 20ms, waits 50ms for the device to settle,
// then sends the sync byte and requires an ACK within one second.
func (c *Client) EnterBootloader() error {
	if err := c.PulseNRST(20 * time.Millisecond); err != nil {
		return err
	}
	c.sleep(50 * time.Millisecond)

	if err := c.port.WriteAll([]byte{syncByte}); err != nil {
		return fmt.Errorf("bootloader: send sync byte: %w", err)
	}

	b, err := c.port.ReadExact(1, time.Second)
	if err != nil {
		return &SyncFailedError{NoByte: true}
	}
	if b[0] != ack {
		return &SyncFailedError{Got: b}
	}
	return nil
}

func (c *Client) sendCommand(cmd byte) error {
	return c.port.WriteAll([]byte{cmd, cmd ^ 0xFF})
}

// MassErase issues the extended-erase command with the global-erase
// selector (0xFFFF), erasing the entire flash.
func (c *Client) MassErase() error {
	if err := c.sendCommand(cmdExtendedErase); err != nil {
		return fmt.Errorf("bootloader: send extended erase command: %w", err)
	}
	if err := c.readACK("ExtendedErase"); err != nil {
		return err
	}

	selector := []byte{globalEraseHi, globalEraseLo}
	payload := append(selector, checksum.XORSum(selector))
	if err := c.port.WriteAll(payload); err != nil {
		return fmt.Errorf("bootloader: send global erase selector: %w", err)
	}
	return c.readACK("ExtendedErase")
}

// WriteBlock writes 1..256 bytes of data at addr.
func (c *Client) WriteBlock(addr uint32, data []byte) error {
	if len(data) == 0 || len(data) > MaxBlockSize {
		return &BlockTooLargeError{Len: len(data)}
	}

	if err := c.sendCommand(cmdWriteMemory); err != nil {
		return fmt.Errorf("bootloader: send write memory command: %w", err)
	}
	if err := c.readACK("WriteMemory"); err != nil {
		return err
	}

	addrBytes := be32(addr)
	addrPacket := append(addrBytes, checksum.XORSum(addrBytes))
	if err := c.port.WriteAll(addrPacket); err != nil {
		return fmt.Errorf("bootloader: send address: %w", err)
	}
	if err := c.readACK("Address"); err != nil {
		return err
	}

	body := make([]byte, 0, 1+len(data))
	body = append(body, byte(len(data)-1))
	body = append(body, data...)
	dataPacket := append(body, checksum.XORSum(body))
	if err := c.port.WriteAll(dataPacket); err != nil {
		return fmt.Errorf("bootloader: send data: %w", err)
	}
	return c.readACK("Data")
}

// Go jumps to addr and starts executing the application there.
func (c *Client) Go(addr uint32) error {
	if err := c.sendCommand(cmdGo); err != nil {
		return fmt.Errorf("bootloader: send go command: %w", err)
	}
	if err := c.readACK("Go"); err != nil {
		return err
	}

	addrBytes := be32(addr)
	addrPacket := append(addrBytes, checksum.XORSum(addrBytes))
	if err := c.port.WriteAll(addrPacket); err != nil {
		return fmt.Errorf("bootloader: send go address: %w", err)
	}
	return c.readACK("GoAddress")
}

func be32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
