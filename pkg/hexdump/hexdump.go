// Package hexdump formats captured NOR-flash bytes into a human-readable
// offset/hex/decimal/ASCII dump.
package hexdump

import (
	"fmt"
	"os"
	"strings"
)

// DefaultLineWidth is the number of bytes per dump line when the caller
// doesn't specify one.
const DefaultLineWidth = 16

// SaveHexdump writes data as a hexdump to filename: one line per lineWidth
// bytes, offsets starting at startAddr, UTF-8 text. lineWidth <= 0 uses
// DefaultLineWidth.
func SaveHexdump(data []byte, startAddr uint32, filename string, lineWidth int) error {
	if lineWidth <= 0 {
		lineWidth = DefaultLineWidth
	}

	var sb strings.Builder
	for i := 0; i < len(data); i += lineWidth {
		end := i + lineWidth
		if end > len(data) {
			end = len(data)
		}
		sb.WriteString(formatLine(data[i:end], startAddr+uint32(i), lineWidth))
	}

	if err := os.WriteFile(filename, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("hexdump: write %s: %w", filename, err)
	}
	return nil
}

// Format returns the hexdump text for data without writing it to disk.
func Format(data []byte, startAddr uint32, lineWidth int) string {
	if lineWidth <= 0 {
		lineWidth = DefaultLineWidth
	}
	var sb strings.Builder
	for i := 0; i < len(data); i += lineWidth {
		end := i + lineWidth
		if end > len(data) {
			end = len(data)
		}
		sb.WriteString(formatLine(data[i:end], startAddr+uint32(i), lineWidth))
	}
	return sb.String()
}

func formatLine(chunk []byte, offset uint32, lineWidth int) string {
	hexCol := lineWidth*3 - 1
	decCol := lineWidth * 4

	hexParts := make([]string, len(chunk))
	decParts := make([]string, len(chunk))
	var ascii strings.Builder
	for i, b := range chunk {
		hexParts[i] = fmt.Sprintf("%02X", b)
		decParts[i] = fmt.Sprintf("%3d", b)
		if isPrintable(b) {
			ascii.WriteByte(b)
		} else {
			ascii.WriteByte('.')
		}
	}

	hexStr := strings.Join(hexParts, " ")
	decStr := strings.Join(decParts, " ")

	return fmt.Sprintf("%08X:  %-*s  %-*s  %s\n", offset, hexCol, hexStr, decCol, decStr, ascii.String())
}

// isPrintable matches the spec's definition: b >= 0x20 and printable, with
// tab/newline/carriage-return explicitly excluded even though the stdlib
// would treat some of them as whitespace rather than unprintable.
func isPrintable(b byte) bool {
	return b >= 0x20 && b < 0x7F
}
