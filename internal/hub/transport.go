package hub

import (
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Transport is the byte pipe to the device. go.bug.st/serial.Port satisfies it
// directly; tests substitute fakes. A Read returning (0, nil) means the read
// timeout elapsed without data, matching serial.Port semantics.
type Transport interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// openSerialPort opens a real serial port for the hub's fixed line settings.
func openSerialPort(name string, baudRate int) (Transport, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	return serial.Open(name, mode)
}

// listCandidatePorts enumerates serial ports that could carry the hub.
func listCandidatePorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}

	candidates := make([]string, 0, len(ports))
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}

	return candidates, nil
}

// isCandidatePort filters for USB serial adapters; the hub never shows up on
// onboard UARTs.
func isCandidatePort(name string) bool {
	for _, pattern := range []string{"ttyUSB", "ttyACM", "cu.usbserial", "cu.usbmodem", "COM"} {
		if strings.Contains(name, pattern) {
			return true
		}
	}
	return false
}
