package system

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/popy1987/smart-usbhub-server/internal/api/rest"
	"github.com/popy1987/smart-usbhub-server/internal/api/websocket"
	"github.com/popy1987/smart-usbhub-server/internal/config"
	"github.com/popy1987/smart-usbhub-server/internal/hub"
	"go.uber.org/zap"
)

// LifecycleManager wires the connection, dispatcher, poller, WebSocket hub and
// REST server together and owns startup/shutdown ordering.
type LifecycleManager struct {
	config     *config.Config
	logger     *zap.Logger
	connection *hub.Connection
	dispatcher *hub.Dispatcher
	wsHub      *websocket.Hub
	poller     *Poller

	restServer *rest.Server

	stateMu      sync.RWMutex
	currentState SystemState

	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) *LifecycleManager {
	connection := hub.NewConnection(hub.ConnectionConfig{
		BaudRate:        cfg.Hub.BaudRate,
		ExchangeTimeout: cfg.Hub.ExchangeTimeout,
		RetryBudget:     cfg.Hub.RetryBudget,
		ProbeTimeout:    cfg.Hub.ProbeTimeout,
	}, logger)

	dispatcher := hub.NewDispatcher(connection, cfg.Hub.Port, logger)
	wsHub := websocket.NewHub(logger)

	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		connection:   connection,
		dispatcher:   dispatcher,
		wsHub:        wsHub,
		poller:       NewPoller(dispatcher, wsHub, cfg.Hub.PollInterval, logger),
		currentState: StateInitializing,
	}

	// Write and link events flow out to WebSocket clients
	dispatcher.SetListener(lm)

	return lm
}

// Start brings the whole service up. A missing device is not fatal: the
// service runs and re-discovers the hub on the first request.
func (lm *LifecycleManager) Start() error {
	lm.setState(StateInitializing)

	go lm.wsHub.Run()

	device, err := lm.connection.Connect(lm.config.Hub.Port)
	switch {
	case err == nil:
		lm.logger.Info("Hub connected on startup",
			zap.String("port", device.Port),
			zap.String("model", device.Model))
	case errors.Is(err, hub.ErrNoDeviceFound):
		lm.logger.Warn("No hub found on startup, will retry on first request")
	default:
		lm.logger.Warn("Hub connect failed on startup, will retry on first request",
			zap.Error(err))
	}

	lm.poller.Start()

	lm.restServer = rest.NewServer(lm.config, lm.dispatcher, lm.logger, lm.wsHub)
	if err := lm.restServer.Start(); err != nil {
		lm.setState(StateError)
		return err
	}

	lm.setState(StateRunning)
	lm.logger.Info("Service started",
		zap.String("address", lm.config.Server.Addr()),
		zap.String("link", lm.connection.State().String()))

	return nil
}

// Shutdown gracefully stops the service.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down service")
		lm.setState(StateStopping)

		lm.poller.Stop()

		if lm.restServer != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				shutdownErr = err
			}
		}

		lm.connection.Disconnect()

		lm.setState(StateStopped)
	})

	return shutdownErr
}

// ChannelStateChanged implements hub.StateListener.
func (lm *LifecycleManager) ChannelStateChanged(kind string, channels []int, state bool) {
	lm.wsHub.Broadcast(websocket.NewChannelStateMessage(kind, channels, state))
}

// LinkStateChanged implements hub.StateListener.
func (lm *LifecycleManager) LinkStateChanged(state hub.LinkState, device *hub.Device) {
	lm.wsHub.Broadcast(websocket.NewLinkStateMessage(state.String(), device))
}

// Dispatcher returns the command dispatcher.
func (lm *LifecycleManager) Dispatcher() *hub.Dispatcher {
	return lm.dispatcher
}

// State returns the current system state.
func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	lm.currentState = state
}
