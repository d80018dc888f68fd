package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scalpelspace/blasher/pkg/bootloader"
	"github.com/scalpelspace/blasher/pkg/discovery"
	"github.com/scalpelspace/blasher/pkg/flasher"
	"github.com/scalpelspace/blasher/pkg/hexdump"
	"github.com/scalpelspace/blasher/pkg/nor"
	"github.com/scalpelspace/blasher/pkg/serialport"
	"github.com/scalpelspace/blasher/pkg/statusbus"
)

// Configuration flags
var (
	action       = flag.String("action", "flash", "Action to perform: discover, flash, write-enable, write-disable, dump")
	serialDevice = flag.String("serial", "", "Serial device path (first discovered CP2102N port if empty)")
	bootBaud     = flag.Int("boot-baud", 115200, "ROM bootloader baud rate")
	appBaud      = flag.Int("app-baud", 115200, "Application NOR-protocol baud rate")
	firmwarePath = flag.String("firmware", "", "Firmware image path (flash action)")
	baseAddr     = flag.Uint("base-addr", uint(flasher.DefaultBaseAddr), "Flash base address (flash action)")
	dumpAddr     = flag.Uint("dump-addr", 0, "Start address for dump action")
	dumpLen      = flag.Int("dump-len", 256, "Byte length for dump action")
	dumpOut      = flag.String("dump-out", "dump.txt", "Output file for dump action")
	reportPath   = flag.String("report", "", "Write a CBOR FlashReport to this path (flash action)")
	redisAddr    = flag.String("redis-addr", "", "Redis server address for status publishing (empty disables)")
	redisPass    = flag.String("redis-pass", "", "Redis password")
	redisDB      = flag.Int("redis-db", 0, "Redis database number")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting blasher, action=%s", *action)

	if *action == "discover" {
		runDiscover()
		return
	}

	device := *serialDevice
	if device == "" {
		found, err := discovery.FindCP2102NPorts()
		if err != nil {
			log.Fatalf("Failed to enumerate serial ports: %v", err)
		}
		if len(found) == 0 {
			log.Fatalf("No CP2102N serial ports found; pass -serial explicitly")
		}
		device = found[0]
		log.Printf("Auto-discovered serial port: %s", device)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("Interrupted, exiting")
		os.Exit(1)
	}()

	switch *action {
	case "flash":
		runFlash(device)
	case "write-enable":
		runWriteEnable(device)
	case "write-disable":
		runWriteDisable(device)
	case "dump":
		runDump(device)
	default:
		log.Fatalf("Unknown action: %s", *action)
	}
}

func runDiscover() {
	ports, err := discovery.FindCP2102NPorts()
	if err != nil {
		log.Fatalf("Failed to enumerate serial ports: %v", err)
	}
	if len(ports) == 0 {
		log.Printf("No CP2102N serial ports found")
		return
	}
	for _, p := range ports {
		log.Printf("Found CP2102N port: %s", p)
	}
}

func runFlash(device string) {
	if *firmwarePath == "" {
		log.Fatalf("Flash action requires -firmware")
	}

	port, err := serialport.Open(serialport.Config{
		Name:         device,
		Baud:         *bootBaud,
		Parity:       serialport.ParityEven,
		ByteTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to open serial port %s: %v", device, err)
	}
	defer port.Close()
	log.Printf("Opened serial port %s at %d baud (even parity)", device, *bootBaud)

	var bus *statusbus.Bus
	if *redisAddr != "" {
		bus, err = statusbus.New(*redisAddr, *redisPass, *redisDB)
		if err != nil {
			log.Printf("Warning: failed to connect status bus to %s: %v; continuing without it", *redisAddr, err)
			bus = nil
		} else {
			defer bus.Close()
			log.Printf("Publishing status to Redis at %s", *redisAddr)
		}
	}

	client := bootloader.New(port, nil)

	var opts []flasher.Option
	if bus != nil {
		opts = append(opts, flasher.WithStatusBus(bus))
	}
	if *reportPath != "" {
		opts = append(opts, flasher.WithReportPath(*reportPath))
	}

	log.Printf("Flashing %s at base address 0x%08X", *firmwarePath, uint32(*baseAddr))
	if err := flasher.FlashImage(client, *firmwarePath, uint32(*baseAddr), opts...); err != nil {
		log.Fatalf("Flash failed: %v", err)
	}
	log.Printf("Flash completed successfully")
}

func runWriteEnable(device string) {
	port, c := openNorClient(device)
	defer port.Close()

	if err := c.WriteEnable(); err != nil {
		log.Fatalf("Write-enable failed: %v", err)
	}
	log.Printf("Write-enable acknowledged")
}

func runWriteDisable(device string) {
	port, c := openNorClient(device)
	defer port.Close()

	if err := c.WriteDisable(); err != nil {
		log.Fatalf("Write-disable failed: %v", err)
	}
	log.Printf("Write-disable acknowledged")
}

func runDump(device string) {
	port, c := openNorClient(device)
	defer port.Close()

	log.Printf("Reading %d bytes from 0x%08X", *dumpLen, uint32(*dumpAddr))
	data, err := c.ReadSection(uint32(*dumpAddr), *dumpLen, nor.DefaultChunkSize)
	if err != nil {
		log.Fatalf("Read failed: %v", err)
	}

	if err := hexdump.SaveHexdump(data, uint32(*dumpAddr), *dumpOut, hexdump.DefaultLineWidth); err != nil {
		log.Fatalf("Failed to write hexdump to %s: %v", *dumpOut, err)
	}
	log.Printf("Wrote hexdump to %s", *dumpOut)
}

func openNorClient(device string) (*serialport.Port, *nor.Client) {
	port, err := serialport.Open(serialport.Config{
		Name:         device,
		Baud:         *appBaud,
		Parity:       serialport.ParityNone,
		ByteTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to open serial port %s: %v", device, err)
	}
	log.Printf("Opened serial port %s at %d baud (no parity)", device, *appBaud)
	return port, nor.New(port)
}
