package hub

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/popy1987/smart-usbhub-server/internal/protocol"
	"go.uber.org/zap"
)

type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "DISCONNECTED"
	case LinkConnecting:
		return "CONNECTING"
	case LinkConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Device describes the connected hub. Immutable for the connection's lifetime;
// invalidated when the link drops.
type Device struct {
	Port     string `json:"port"`
	Model    string `json:"model"`
	Firmware string `json:"firmware"`
	Channels int    `json:"channels"`
}

type ConnectionConfig struct {
	BaudRate        int
	ExchangeTimeout time.Duration
	RetryBudget     int
	ProbeTimeout    time.Duration
}

// Connection owns the transport handle and performs one blocking
// send-then-receive exchange per call. It is not safe for concurrent
// exchanges on its own; the Dispatcher serializes callers.
type Connection struct {
	cfg    ConnectionConfig
	logger *zap.Logger

	// injectable for tests and discovery stubs
	openPort  func(name string, baudRate int) (Transport, error)
	listPorts func() ([]string, error)

	mu        sync.Mutex
	transport Transport
	state     LinkState
	device    *Device
}

// errAttemptTimeout marks a single timed-out exchange attempt.
var errAttemptTimeout = errors.New("attempt timed out")

func NewConnection(cfg ConnectionConfig, logger *zap.Logger) *Connection {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.ExchangeTimeout == 0 {
		cfg.ExchangeTimeout = 500 * time.Millisecond
	}
	if cfg.RetryBudget == 0 {
		cfg.RetryBudget = 3
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = time.Second
	}

	return &Connection{
		cfg:       cfg,
		logger:    logger,
		openPort:  openSerialPort,
		listPorts: listCandidatePorts,
		state:     LinkDisconnected,
	}
}

// Connect opens the preferred port, or probes every candidate port until one
// answers the info handshake. Fails fast when already connected.
func (c *Connection) Connect(preferredPort string) (*Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == LinkConnected {
		return nil, ErrAlreadyConnected
	}

	c.state = LinkConnecting

	ports := []string{preferredPort}
	if preferredPort == "" {
		var err error
		ports, err = c.listPorts()
		if err != nil {
			c.state = LinkDisconnected
			return nil, fmt.Errorf("port enumeration failed: %w", err)
		}
	}

	for _, port := range ports {
		device, transport, err := c.probe(port)
		if err != nil {
			c.logger.Debug("Probe failed", zap.String("port", port), zap.Error(err))
			continue
		}

		c.transport = transport
		c.device = device
		c.state = LinkConnected

		c.logger.Info("Connected to usb hub",
			zap.String("port", device.Port),
			zap.String("model", device.Model),
			zap.String("firmware", device.Firmware))

		return device, nil
	}

	c.state = LinkDisconnected
	return nil, ErrNoDeviceFound
}

// probe opens a port and validates it with a single info exchange.
func (c *Connection) probe(port string) (*Device, Transport, error) {
	transport, err := c.openPort(port, c.cfg.BaudRate)
	if err != nil {
		return nil, nil, fmt.Errorf("open failed: %w", err)
	}

	response, err := exchangeOnce(transport, protocol.GetInfoRequest(), c.cfg.ProbeTimeout)
	if err != nil {
		transport.Close()
		return nil, nil, fmt.Errorf("handshake failed: %w", err)
	}

	model, fwMajor, fwMinor, err := response.ParseInfoResponse()
	if err != nil {
		transport.Close()
		return nil, nil, fmt.Errorf("handshake failed: %w", err)
	}

	device := &Device{
		Port:     port,
		Model:    fmt.Sprintf("SmartUSBHub-%02X", model),
		Firmware: fmt.Sprintf("%d.%d", fwMajor, fwMinor),
		Channels: protocol.NumChannels,
	}

	return device, transport, nil
}

// Exchange writes the frame and reads until a complete response decodes or the
// per-attempt timeout elapses, retrying up to the configured budget. Corrupt
// frames count as failed attempts. When every attempt times out the link is
// dropped so the next call triggers re-discovery.
func (c *Connection) Exchange(request *protocol.Frame) (*protocol.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != LinkConnected {
		return nil, ErrNotConnected
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryBudget; attempt++ {
		response, err := exchangeOnce(c.transport, request, c.cfg.ExchangeTimeout)
		if err == nil {
			c.logger.Debug("Exchange completed",
				zap.Uint8("op", request.Op),
				zap.Uint8("mask", request.Mask),
				zap.Int("attempt", attempt))
			return response, nil
		}

		if errors.Is(err, errAttemptTimeout) || errors.Is(err, protocol.ErrFrameCorrupt) {
			c.logger.Warn("Exchange attempt failed",
				zap.Uint8("op", request.Op),
				zap.Int("attempt", attempt),
				zap.Int("budget", c.cfg.RetryBudget),
				zap.Error(err))
			lastErr = err
			continue
		}

		// Hard transport failure, device is gone
		c.dropLink()
		c.logger.Error("Transport failed, dropping link", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrDeviceLost, err)
	}

	// Budget exhausted; drop the link so the next call re-discovers
	c.dropLink()
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrTimeout, c.cfg.RetryBudget, lastErr)
}

// exchangeOnce performs a single write-then-read-until-frame attempt.
func exchangeOnce(transport Transport, request *protocol.Frame, timeout time.Duration) (*protocol.Frame, error) {
	if _, err := transport.Write(request.Encode()); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}

	deadline := time.Now().Add(timeout)
	buffer := make([]byte, 0, 64)
	chunk := make([]byte, 64)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errAttemptTimeout
		}

		if err := transport.SetReadTimeout(remaining); err != nil {
			return nil, fmt.Errorf("set read timeout failed: %w", err)
		}

		n, err := transport.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("read failed: %w", err)
		}
		if n == 0 {
			// serial read timeout
			return nil, errAttemptTimeout
		}

		buffer = append(buffer, chunk[:n]...)

		response, err := protocol.DecodeFrame(buffer)
		if err == nil {
			return response, nil
		}
		if errors.Is(err, protocol.ErrFrameIncomplete) {
			continue
		}
		return nil, err
	}
}

// Disconnect releases the transport. Idempotent.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == LinkDisconnected {
		return
	}

	c.dropLink()
	c.logger.Info("Disconnected from usb hub")
}

// dropLink invalidates the device and closes the transport. Caller holds mu.
func (c *Connection) dropLink() {
	if c.transport != nil {
		c.transport.Close()
		c.transport = nil
	}
	c.device = nil
	c.state = LinkDisconnected
}

// State returns the current link state.
func (c *Connection) State() LinkState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Device returns the connected device, or false while the link is down.
func (c *Connection) Device() (*Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != LinkConnected || c.device == nil {
		return nil, false
	}
	return c.device, true
}
