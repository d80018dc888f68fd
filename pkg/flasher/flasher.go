// Package flasher orchestrates a complete firmware programming sequence:
// read image, sync with the ROM bootloader, mass erase, write in bounded
// pages, and jump to the application.
package flasher

import (
	"fmt"
	"os"
	"time"

	"github.com/scalpelspace/blasher/pkg/bootloader"
	"github.com/scalpelspace/blasher/pkg/report"
	"github.com/scalpelspace/blasher/pkg/statusbus"
)

// DefaultBaseAddr is the STM32's default flash base address.
const DefaultBaseAddr uint32 = 0x08000000

const pageSize = 256

// Option configures an optional side effect of FlashImage.
type Option func(*config)

type config struct {
	bus        *statusbus.Bus
	reportPath string
}

// WithStatusBus publishes per-page progress and terminal errors to bus. A
// nil bus (the default) disables publishing entirely; FlashImage never
// requires Redis to be reachable.
func WithStatusBus(bus *statusbus.Bus) Option {
	return func(c *config) { c.bus = bus }
}

// WithReportPath writes a CBOR-encoded FlashReport to path after a
// successful flash. An empty path (the default) disables report writing.
func WithReportPath(path string) Option {
	return func(c *config) { c.reportPath = path }
}

// FlashImage reads imagePath, enters the ROM bootloader, mass-erases flash,
// writes the image in 256-byte pages starting at baseAddr, then jumps to
// baseAddr. Any failure aborts the sequence with the original error; the
// device is left in whatever state the failing step produced.
func FlashImage(client *bootloader.Client, imagePath string, baseAddr uint32, opts ...Option) error {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("flasher: read image %s: %w", imagePath, err)
	}

	rpt := report.FlashReport{
		BaseAddr:   baseAddr,
		ImageBytes: len(image),
		StartedAt:  time.Now(),
	}

	publish(cfg.bus, "starting", fmt.Sprintf("image=%d bytes base=0x%08X", len(image), baseAddr))

	if err := client.PulseNRST(50 * time.Millisecond); err != nil {
		publishErr(cfg.bus, "pulse-nrst", err)
		return fmt.Errorf("flasher: %w", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := client.EnterBootloader(); err != nil {
		publishErr(cfg.bus, "enter-bootloader", err)
		return fmt.Errorf("flasher: %w", err)
	}
	publish(cfg.bus, "synced", "")

	if err := client.MassErase(); err != nil {
		publishErr(cfg.bus, "mass-erase", err)
		return fmt.Errorf("flasher: %w", err)
	}
	publish(cfg.bus, "erased", "")

	pageCount := (len(image) + pageSize - 1) / pageSize
	for offset := 0; offset < len(image); offset += pageSize {
		end := offset + pageSize
		if end > len(image) {
			end = len(image)
		}

		pageStart := time.Now()
		if err := client.WriteBlock(baseAddr+uint32(offset), image[offset:end]); err != nil {
			publishErr(cfg.bus, fmt.Sprintf("write-page-%d", offset/pageSize), err)
			return fmt.Errorf("flasher: write page at offset %d: %w", offset, err)
		}
		rpt.PageTimes = append(rpt.PageTimes, time.Since(pageStart))
		rpt.PageCount++

		publish(cfg.bus, "page-written", fmt.Sprintf("%d/%d", rpt.PageCount, pageCount))
	}

	if err := client.Go(baseAddr); err != nil {
		publishErr(cfg.bus, "go", err)
		return fmt.Errorf("flasher: %w", err)
	}

	rpt.FinishedAt = time.Now()
	publish(cfg.bus, "done", fmt.Sprintf("pages=%d", rpt.PageCount))

	if cfg.reportPath != "" {
		if err := report.Save(rpt, cfg.reportPath); err != nil {
			return fmt.Errorf("flasher: write report: %w", err)
		}
	}

	return nil
}

func publish(bus *statusbus.Bus, event, detail string) {
	if bus == nil {
		return
	}
	bus.Publish(event, detail)
}

func publishErr(bus *statusbus.Bus, step string, err error) {
	if bus == nil {
		return
	}
	bus.Publish("error", fmt.Sprintf("%s: %v", step, err))
}
