package system

import (
	"context"
	"sync"
	"time"

	"github.com/popy1987/smart-usbhub-server/internal/api/websocket"
	"github.com/popy1987/smart-usbhub-server/internal/hub"
	"go.uber.org/zap"
)

// Poller periodically snapshots all channel states through the dispatcher and
// broadcasts them to WebSocket clients. Snapshots go through the same
// exclusive gate as every other command, so polling never overlaps client
// requests on the transport.
type Poller struct {
	dispatcher *hub.Dispatcher
	wsHub      *websocket.Hub
	interval   time.Duration
	logger     *zap.Logger
	stopChan   chan struct{}
	wg         sync.WaitGroup
	running    bool
	mu         sync.Mutex
}

func NewPoller(dispatcher *hub.Dispatcher, wsHub *websocket.Hub, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		dispatcher: dispatcher,
		wsHub:      wsHub,
		interval:   interval,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.wg.Add(1)

	go p.pollLoop()

	p.logger.Info("Status poller started", zap.Duration("interval", p.interval))
}

func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.logger.Info("Status poller stopped")
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

func (p *Poller) pollOnce() {
	// Nobody listening, keep the serial link quiet
	if p.wsHub.GetClientCount() == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	states, err := p.dispatcher.Snapshot(ctx)
	if err != nil {
		p.logger.Warn("Status poll failed", zap.Error(err))
		return
	}

	p.wsHub.Broadcast(websocket.NewSnapshotMessage(states))
}
