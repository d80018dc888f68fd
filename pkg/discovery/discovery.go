// Package discovery enumerates serial ports and filters them down to CP2102N
// USB-UART bridges (VID 0x10C4 / PID 0xEA60).
package discovery

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// TargetVID and TargetPID identify the Silicon Labs CP2102N bridge.
const (
	TargetVID = "10C4"
	TargetPID = "EA60"
)

// PortInfo is one enumerated serial port.
type PortInfo struct {
	Name string
	VID  string
	PID  string
	HWID string // lowercased "vid:pid" composite, with Product appended if present
}

// lister is the enumerator capability this package needs; narrowing it to a
// function type lets tests substitute a fixed port list instead of querying
// the OS.
type lister func() ([]*enumerator.PortDetails, error)

// FindCP2102NPorts enumerates all serial ports visible to the OS and returns
// the device names of those that are CP2102N bridges, either by exact
// VID/PID match or by a case-insensitive "10c4:ea60" substring in the
// synthesized hardware-id string. Port order follows OS enumeration order.
func FindCP2102NPorts() ([]string, error) {
	return findCP2102NPorts(enumerator.GetDetailedPortsList)
}

func findCP2102NPorts(list lister) ([]string, error) {
	ports, err := list()
	if err != nil {
		return nil, fmt.Errorf("discovery: list ports: %w", err)
	}

	var out []string
	for _, p := range ports {
		info := toPortInfo(p)
		if matches(info) {
			out = append(out, info.Name)
		}
	}
	return out, nil
}

func toPortInfo(p *enumerator.PortDetails) PortInfo {
	hwid := strings.ToLower(fmt.Sprintf("%s:%s %s", p.VID, p.PID, p.Product))
	return PortInfo{
		Name: p.Name,
		VID:  strings.ToUpper(p.VID),
		PID:  strings.ToUpper(p.PID),
		HWID: hwid,
	}
}

func matches(info PortInfo) bool {
	if info.VID == TargetVID && info.PID == TargetPID {
		return true
	}
	return strings.Contains(info.HWID, "10c4:ea60")
}
