// Package report writes a CBOR-encoded summary of a completed flash
// session, the host-side analogue of a build manifest.
package report

import (
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// FlashReport summarizes one FirmwareFlasher run.
type FlashReport struct {
	BaseAddr   uint32          `cbor:"base_addr"`
	ImageBytes int             `cbor:"image_bytes"`
	PageCount  int             `cbor:"page_count"`
	StartedAt  time.Time       `cbor:"started_at"`
	FinishedAt time.Time       `cbor:"finished_at"`
	PageTimes  []time.Duration `cbor:"page_times"`
}

// Save CBOR-encodes r and writes it to path.
func Save(r FlashReport, path string) error {
	data, err := cbor.Marshal(r)
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}

// Load reads and decodes a FlashReport previously written by Save.
func Load(path string) (FlashReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FlashReport{}, fmt.Errorf("report: read %s: %w", path, err)
	}
	var r FlashReport
	if err := cbor.Unmarshal(data, &r); err != nil {
		return FlashReport{}, fmt.Errorf("report: unmarshal: %w", err)
	}
	return r, nil
}
