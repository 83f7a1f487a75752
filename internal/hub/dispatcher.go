package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/popy1987/smart-usbhub-server/internal/protocol"
	"go.uber.org/zap"
)

// ChannelState is a point-in-time view of one channel.
type ChannelState struct {
	Channel  int  `json:"channel"`
	Power    bool `json:"power"`
	Dataline bool `json:"dataline"`
}

// StateListener receives notifications after successful writes and on link
// transitions. Callbacks run on the caller's goroutine and must not block.
type StateListener interface {
	ChannelStateChanged(kind string, channels []int, state bool)
	LinkStateChanged(state LinkState, device *Device)
}

// Dispatcher is the only entry point callers use. It validates input, funnels
// all concurrent callers through a single-slot gate so at most one command is
// in flight on the transport, and reconnects after a lost link.
type Dispatcher struct {
	conn          *Connection
	preferredPort string
	logger        *zap.Logger

	// single-slot gate around connect + exchange
	gate chan struct{}

	listenerMu sync.RWMutex
	listener   StateListener
}

func NewDispatcher(conn *Connection, preferredPort string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		conn:          conn,
		preferredPort: preferredPort,
		logger:        logger,
		gate:          make(chan struct{}, 1),
	}
}

// SetListener registers the state-change listener.
func (d *Dispatcher) SetListener(listener StateListener) {
	d.listenerMu.Lock()
	d.listener = listener
	d.listenerMu.Unlock()
}

// acquire blocks until the caller holds exclusive access to the connection, or
// the caller's context is cancelled. Once an exchange has started it always
// runs to completion; cancellation only applies while waiting.
func (d *Dispatcher) acquire(ctx context.Context) error {
	select {
	case d.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) release() {
	<-d.gate
}

// DeviceInfo returns the connected device's identity, connecting first if the
// link is down.
func (d *Dispatcher) DeviceInfo(ctx context.Context) (*Device, error) {
	const op = "get_device_info"

	if err := d.acquire(ctx); err != nil {
		return nil, err
	}
	defer d.release()

	if err := d.ensureConnected(); err != nil {
		return nil, &OpError{Op: op, Err: err}
	}

	device, ok := d.conn.Device()
	if !ok {
		return nil, &OpError{Op: op, Err: ErrNotConnected}
	}

	return device, nil
}

// PowerStatus reads the power state of a single channel, fresh from hardware.
func (d *Dispatcher) PowerStatus(ctx context.Context, channel int) (bool, error) {
	if err := validateChannel(channel); err != nil {
		return false, err
	}

	mask, err := d.statusExchange(ctx, "get_power", protocol.GetPowerRequest(protocol.ChannelBit(channel)))
	if err != nil {
		return false, err
	}

	return mask&protocol.ChannelBit(channel) != 0, nil
}

// SetPower switches power for every channel in the set with one exchange.
func (d *Dispatcher) SetPower(ctx context.Context, channels []int, state bool) error {
	if err := validateChannels(channels); err != nil {
		return err
	}

	request := protocol.SetPowerRequest(protocol.MaskForChannels(channels), stateByte(state))
	if _, err := d.statusExchange(ctx, "set_power", request); err != nil {
		return err
	}

	d.notifyChannels("power", channels, state)
	return nil
}

// DatalineStatus reads the data-line state of a single channel.
func (d *Dispatcher) DatalineStatus(ctx context.Context, channel int) (bool, error) {
	if err := validateChannel(channel); err != nil {
		return false, err
	}

	mask, err := d.statusExchange(ctx, "get_dataline", protocol.GetDatalineRequest(protocol.ChannelBit(channel)))
	if err != nil {
		return false, err
	}

	return mask&protocol.ChannelBit(channel) != 0, nil
}

// SetDataline switches the data lines for every channel in the set with one
// exchange.
func (d *Dispatcher) SetDataline(ctx context.Context, channels []int, state bool) error {
	if err := validateChannels(channels); err != nil {
		return err
	}

	request := protocol.SetDatalineRequest(protocol.MaskForChannels(channels), stateByte(state))
	if _, err := d.statusExchange(ctx, "set_dataline", request); err != nil {
		return err
	}

	d.notifyChannels("dataline", channels, state)
	return nil
}

// Snapshot reads power and data-line state for all channels (two exchanges).
func (d *Dispatcher) Snapshot(ctx context.Context) ([]ChannelState, error) {
	allMask := protocol.MaskForChannels([]int{1, 2, 3, 4})

	powerMask, err := d.statusExchange(ctx, "get_power", protocol.GetPowerRequest(allMask))
	if err != nil {
		return nil, err
	}

	datalineMask, err := d.statusExchange(ctx, "get_dataline", protocol.GetDatalineRequest(allMask))
	if err != nil {
		return nil, err
	}

	states := make([]ChannelState, 0, protocol.NumChannels)
	for ch := 1; ch <= protocol.NumChannels; ch++ {
		bit := protocol.ChannelBit(ch)
		states = append(states, ChannelState{
			Channel:  ch,
			Power:    powerMask&bit != 0,
			Dataline: datalineMask&bit != 0,
		})
	}

	return states, nil
}

// LinkState reports the connection's current state.
func (d *Dispatcher) LinkState() LinkState {
	return d.conn.State()
}

// statusExchange runs one command under the gate and parses the state bitset
// out of the response.
func (d *Dispatcher) statusExchange(ctx context.Context, op string, request *protocol.Frame) (uint8, error) {
	if err := d.acquire(ctx); err != nil {
		return 0, err
	}
	defer d.release()

	if err := d.ensureConnected(); err != nil {
		return 0, &OpError{Op: op, Err: err}
	}

	response, err := d.conn.Exchange(request)
	if err != nil {
		if errors.Is(err, ErrDeviceLost) || errors.Is(err, ErrTimeout) {
			d.notifyLink(LinkDisconnected, nil)
		}
		return 0, &OpError{Op: op, Err: err}
	}

	mask, err := response.ParseStatusResponse()
	if err != nil {
		return 0, &OpError{Op: op, Err: err}
	}

	return mask, nil
}

// ensureConnected re-discovers the device when the link is down. Runs under
// the gate so a reconnect cannot race an in-progress exchange.
func (d *Dispatcher) ensureConnected() error {
	if d.conn.State() == LinkConnected {
		return nil
	}

	d.logger.Info("Link down, attempting reconnect",
		zap.String("preferred_port", d.preferredPort))

	device, err := d.conn.Connect(d.preferredPort)
	if err != nil {
		return err
	}

	d.notifyLink(LinkConnected, device)
	return nil
}

func (d *Dispatcher) notifyChannels(kind string, channels []int, state bool) {
	d.listenerMu.RLock()
	listener := d.listener
	d.listenerMu.RUnlock()

	if listener != nil {
		listener.ChannelStateChanged(kind, channels, state)
	}
}

func (d *Dispatcher) notifyLink(state LinkState, device *Device) {
	d.listenerMu.RLock()
	listener := d.listener
	d.listenerMu.RUnlock()

	if listener != nil {
		listener.LinkStateChanged(state, device)
	}
}

func validateChannel(channel int) error {
	if channel < 1 || channel > protocol.NumChannels {
		return &ValidationError{
			Field:  "channel",
			Reason: fmt.Sprintf("%d out of range 1..%d", channel, protocol.NumChannels),
		}
	}
	return nil
}

func validateChannels(channels []int) error {
	if len(channels) == 0 {
		return &ValidationError{Field: "channels", Reason: "empty channel set"}
	}
	for _, ch := range channels {
		if err := validateChannel(ch); err != nil {
			return err
		}
	}
	return nil
}

func stateByte(state bool) uint8 {
	if state {
		return 1
	}
	return 0
}
