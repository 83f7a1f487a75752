package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/popy1987/smart-usbhub-server/internal/api/websocket"
	"github.com/popy1987/smart-usbhub-server/internal/config"
	"github.com/popy1987/smart-usbhub-server/internal/hub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeController records dispatcher calls and plays back canned state.
type fakeController struct {
	power    map[int]bool
	dataline map[int]bool
	device   *hub.Device
	err      error

	setPowerCalls    [][]int
	setDatalineCalls [][]int
	lastState        bool
	reads            int
}

func newFakeController() *fakeController {
	return &fakeController{
		power:    map[int]bool{},
		dataline: map[int]bool{},
		device: &hub.Device{
			Port:     "/dev/ttyUSB0",
			Model:    "SmartUSBHub-21",
			Firmware: "1.2",
			Channels: 4,
		},
	}
}

func (f *fakeController) DeviceInfo(context.Context) (*hub.Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.device, nil
}

func (f *fakeController) PowerStatus(_ context.Context, channel int) (bool, error) {
	f.reads++
	if f.err != nil {
		return false, f.err
	}
	return f.power[channel], nil
}

func (f *fakeController) SetPower(_ context.Context, channels []int, state bool) error {
	if f.err != nil {
		return f.err
	}
	f.setPowerCalls = append(f.setPowerCalls, channels)
	f.lastState = state
	for _, ch := range channels {
		f.power[ch] = state
	}
	return nil
}

func (f *fakeController) DatalineStatus(_ context.Context, channel int) (bool, error) {
	f.reads++
	if f.err != nil {
		return false, f.err
	}
	return f.dataline[channel], nil
}

func (f *fakeController) SetDataline(_ context.Context, channels []int, state bool) error {
	if f.err != nil {
		return f.err
	}
	f.setDatalineCalls = append(f.setDatalineCalls, channels)
	f.lastState = state
	for _, ch := range channels {
		f.dataline[ch] = state
	}
	return nil
}

func (f *fakeController) LinkState() hub.LinkState {
	return hub.LinkConnected
}

func serverFor(t *testing.T, controller *fakeController) *Server {
	t.Helper()

	logger := zaptest.NewLogger(t)
	cfg := &config.Config{Server: config.ServerConfig{Host: "localhost", HTTPPort: 8089}}

	return NewServer(cfg, controller, logger, websocket.NewHub(logger))
}

func doRequest(s *Server, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthCheck(t *testing.T) {
	s := serverFor(t, newFakeController())

	w := doRequest(s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "CONNECTED", body["link"])
}

func TestGetDeviceInfo(t *testing.T) {
	s := serverFor(t, newFakeController())

	w := doRequest(s, http.MethodGet, "/device/info")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])

	device := body["device"].(map[string]any)
	assert.Equal(t, "SmartUSBHub-21", device["model"])
	assert.Equal(t, float64(4), device["channels"])
}

func TestGetPower(t *testing.T) {
	controller := newFakeController()
	controller.power[2] = true
	s := serverFor(t, controller)

	w := doRequest(s, http.MethodGet, "/channel/power/2")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, float64(2), body["channel"])
	assert.Equal(t, float64(1), body["state"])

	w = doRequest(s, http.MethodGet, "/channel/power/1")
	body = decodeBody(t, w)
	assert.Equal(t, float64(0), body["state"])
}

func TestGetPowerBadChannel(t *testing.T) {
	controller := newFakeController()
	s := serverFor(t, controller)

	for _, target := range []string{"/channel/power/0", "/channel/power/5", "/channel/power/abc"} {
		w := doRequest(s, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}

	// bad input never reached the dispatcher
	assert.Zero(t, controller.reads)
}

func TestSetPower(t *testing.T) {
	controller := newFakeController()
	s := serverFor(t, controller)

	w := doRequest(s, http.MethodPost, "/channel/power?channels=1,2&state=1")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["state"])

	require.Len(t, controller.setPowerCalls, 1)
	assert.Equal(t, []int{1, 2}, controller.setPowerCalls[0])
	assert.True(t, controller.lastState)
}

func TestSetPowerBadQuery(t *testing.T) {
	controller := newFakeController()
	s := serverFor(t, controller)

	targets := []string{
		"/channel/power",                      // missing channels
		"/channel/power?channels=&state=1",    // empty list
		"/channel/power?channels=1,5&state=1", // channel out of range
		"/channel/power?channels=a,b&state=1", // unparsable
		"/channel/power?channels=1,2&state=2", // bad state
		"/channel/power?channels=1,2",         // missing state
	}

	for _, target := range targets {
		w := doRequest(s, http.MethodPost, target)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}

	assert.Empty(t, controller.setPowerCalls)
}

func TestSetDataline(t *testing.T) {
	controller := newFakeController()
	s := serverFor(t, controller)

	w := doRequest(s, http.MethodPost, "/channel/dataline?channels=3&state=0")
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, controller.setDatalineCalls, 1)
	assert.Equal(t, []int{3}, controller.setDatalineCalls[0])
	assert.False(t, controller.lastState)
}

func TestGetDataline(t *testing.T) {
	controller := newFakeController()
	controller.dataline[4] = true
	s := serverFor(t, controller)

	w := doRequest(s, http.MethodGet, "/channel/dataline/4")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["state"])
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"no device", hub.ErrNoDeviceFound, http.StatusServiceUnavailable, "no_device"},
		{"not connected", hub.ErrNotConnected, http.StatusServiceUnavailable, "no_device"},
		{"device lost", hub.ErrDeviceLost, http.StatusServiceUnavailable, "device_lost"},
		{"timeout", hub.ErrTimeout, http.StatusGatewayTimeout, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			controller := newFakeController()
			controller.err = &hub.OpError{Op: "get_power", Err: tt.err}
			s := serverFor(t, controller)

			w := doRequest(s, http.MethodGet, "/channel/power/1")
			require.Equal(t, tt.want, w.Code)

			body := decodeBody(t, w)
			errBody := body["error"].(map[string]any)
			assert.Equal(t, tt.code, errBody["code"])
		})
	}
}
