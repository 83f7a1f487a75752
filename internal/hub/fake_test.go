package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/popy1987/smart-usbhub-server/internal/protocol"
)

// fakeHub simulates the device on the far end of the transport: it parses
// request frames written to it, keeps power/data-line bitsets, and queues
// response frames for reading. Read returns (0, nil) when no response is
// pending, matching the serial timeout contract.
type fakeHub struct {
	mu sync.Mutex

	power    uint8
	dataline uint8
	model    uint8
	fwMajor  uint8
	fwMinor  uint8

	writeBuf []byte
	readBuf  []byte

	exchanges    int // completed request frames
	timeoutsLeft int // swallow this many requests without answering
	corruptLeft  int // answer this many requests with a mangled frame
	writeErr     error
	readErr      error

	responseDelay time.Duration

	inFlight bool // a request was written and its response not fully read
	overlap  bool // a second request arrived while one was in flight
	closed   bool
}

func newFakeHub() *fakeHub {
	return &fakeHub{model: 0x21, fwMajor: 1, fwMinor: 2}
}

func (f *fakeHub) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return 0, f.writeErr
	}

	if f.inFlight {
		f.overlap = true
	}

	f.writeBuf = append(f.writeBuf, p...)
	request, err := protocol.DecodeFrame(f.writeBuf)
	if err != nil {
		if errors.Is(err, protocol.ErrFrameIncomplete) {
			return len(p), nil
		}
		// garbage request, drop it
		f.writeBuf = nil
		return len(p), nil
	}

	f.writeBuf = nil
	f.exchanges++

	if f.timeoutsLeft > 0 {
		f.timeoutsLeft--
		return len(p), nil
	}

	f.inFlight = true
	response := f.handle(request).Encode()
	if f.corruptLeft > 0 {
		f.corruptLeft--
		response[len(response)-2] ^= 0xFF // break the checksum
	}
	f.readBuf = append(f.readBuf, response...)

	return len(p), nil
}

// handle applies a request to the fake's state and builds the response.
// Caller holds mu.
func (f *fakeHub) handle(request *protocol.Frame) *protocol.Frame {
	switch request.Op {
	case protocol.OpGetInfo:
		return &protocol.Frame{Op: request.Op, Payload: []byte{f.model, f.fwMajor, f.fwMinor}}
	case protocol.OpSetPower:
		if len(request.Payload) > 0 && request.Payload[0] != 0 {
			f.power |= request.Mask
		} else {
			f.power &^= request.Mask
		}
		return &protocol.Frame{Op: request.Op, Mask: request.Mask, Payload: []byte{f.power}}
	case protocol.OpGetPower:
		return &protocol.Frame{Op: request.Op, Mask: request.Mask, Payload: []byte{f.power}}
	case protocol.OpSetDataline:
		if len(request.Payload) > 0 && request.Payload[0] != 0 {
			f.dataline |= request.Mask
		} else {
			f.dataline &^= request.Mask
		}
		return &protocol.Frame{Op: request.Op, Mask: request.Mask, Payload: []byte{f.dataline}}
	case protocol.OpGetDataline:
		return &protocol.Frame{Op: request.Op, Mask: request.Mask, Payload: []byte{f.dataline}}
	default:
		return &protocol.Frame{Op: request.Op, Mask: request.Mask, Payload: []byte{0}}
	}
}

func (f *fakeHub) Read(p []byte) (int, error) {
	if f.responseDelay > 0 {
		time.Sleep(f.responseDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.readBuf) == 0 {
		return 0, nil // read timeout
	}

	n := copy(p, f.readBuf)
	f.readBuf = f.readBuf[n:]
	if len(f.readBuf) == 0 {
		f.inFlight = false
	}

	return n, nil
}

func (f *fakeHub) SetReadTimeout(time.Duration) error {
	return nil
}

func (f *fakeHub) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.inFlight = false
	return nil
}

func (f *fakeHub) exchangeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchanges
}

func (f *fakeHub) sawOverlap() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlap
}

func (f *fakeHub) setWriteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

func (f *fakeHub) setTimeouts(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeoutsLeft = n
}
