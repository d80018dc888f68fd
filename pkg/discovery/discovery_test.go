package discovery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

func fakeList(ports []*enumerator.PortDetails) lister {
	return func() ([]*enumerator.PortDetails, error) {
		return ports, nil
	}
}

func TestFindCP2102NPortsExactVIDPID(t *testing.T) {
	ports := []*enumerator.PortDetails{
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "10C4", PID: "EA60"},
		{Name: "/dev/ttyUSB1", IsUSB: true, VID: "0403", PID: "6001"},
	}

	got, err := findCP2102NPorts(fakeList(ports))
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/ttyUSB0"}, got)
}

func TestFindCP2102NPortsLowercaseVIDPID(t *testing.T) {
	ports := []*enumerator.PortDetails{
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "10c4", PID: "ea60"},
	}

	got, err := findCP2102NPorts(fakeList(ports))
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/ttyUSB0"}, got)
}

func TestFindCP2102NPortsHWIDSubstringFallback(t *testing.T) {
	// VID/PID fields don't match exactly, but the OS-reported product
	// string carries the composite id.
	ports := []*enumerator.PortDetails{
		{Name: "COM5", IsUSB: true, Product: "CP2102N USB to UART Bridge Controller (10C4:EA60)"},
	}

	got, err := findCP2102NPorts(fakeList(ports))
	require.NoError(t, err)
	assert.Equal(t, []string{"COM5"}, got)
}

func TestFindCP2102NPortsNoMatches(t *testing.T) {
	ports := []*enumerator.PortDetails{
		{Name: "/dev/ttyS0", IsUSB: false},
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043"},
	}

	got, err := findCP2102NPorts(fakeList(ports))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFindCP2102NPortsPropagatesListError(t *testing.T) {
	boom := errors.New("enumeration failed")
	_, err := findCP2102NPorts(func() ([]*enumerator.PortDetails, error) {
		return nil, boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestFindCP2102NPortsPreservesOrder(t *testing.T) {
	ports := []*enumerator.PortDetails{
		{Name: "/dev/ttyUSB2", IsUSB: true, VID: "10C4", PID: "EA60"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "10C4", PID: "EA60"},
		{Name: "/dev/ttyUSB1", IsUSB: true, VID: "0000", PID: "0000"},
	}

	got, err := findCP2102NPorts(fakeList(ports))
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/ttyUSB2", "/dev/ttyUSB0"}, got)
}
