package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/popy1987/smart-usbhub-server/internal/hub"
	"github.com/popy1987/smart-usbhub-server/internal/protocol"
	"github.com/popy1987/smart-usbhub-server/internal/types"
	"go.uber.org/zap"
)

// GET /device/info
func (s *Server) getDeviceInfo(c *gin.Context) {
	device, err := s.controller.DeviceInfo(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"device":  device,
	})
}

// GET /channel/power/:channel
func (s *Server) getPower(c *gin.Context) {
	channel, err := parseChannelParam(c.Param("channel"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeValidation, err.Error(), nil))
		return
	}

	state, err := s.controller.PowerStatus(c.Request.Context(), channel)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"channel": channel,
		"state":   stateInt(state),
	})
}

// POST /channel/power?channels=1,2&state=1
func (s *Server) setPower(c *gin.Context) {
	channels, state, err := parseWriteQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeValidation, err.Error(), nil))
		return
	}

	if err := s.controller.SetPower(c.Request.Context(), channels, state); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"channels": channels,
		"state":    stateInt(state),
	})
}

// GET /channel/dataline/:channel
func (s *Server) getDataline(c *gin.Context) {
	channel, err := parseChannelParam(c.Param("channel"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeValidation, err.Error(), nil))
		return
	}

	state, err := s.controller.DatalineStatus(c.Request.Context(), channel)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"channel": channel,
		"state":   stateInt(state),
	})
}

// POST /channel/dataline?channels=1,2&state=0
func (s *Server) setDataline(c *gin.Context) {
	channels, state, err := parseWriteQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeValidation, err.Error(), nil))
		return
	}

	if err := s.controller.SetDataline(c.Request.Context(), channels, state); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"channels": channels,
		"state":    stateInt(state),
	})
}

// writeError maps core errors onto HTTP status codes and a consistent payload.
func (s *Server) writeError(c *gin.Context, err error) {
	var vErr *hub.ValidationError

	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeValidation, vErr.Error(), nil))
	case errors.Is(err, hub.ErrNoDeviceFound), errors.Is(err, hub.ErrNotConnected):
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeNoDevice, err.Error(), nil))
	case errors.Is(err, hub.ErrDeviceLost):
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeDeviceLost, err.Error(), nil))
	case errors.Is(err, hub.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, types.NewErrorResponse(types.CodeTimeout, err.Error(), nil))
	default:
		s.logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeInternal, err.Error(), nil))
	}
}

// parseChannelParam validates a single path channel.
func parseChannelParam(raw string) (int, error) {
	channel, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid channel number: %q", raw)
	}
	if channel < 1 || channel > protocol.NumChannels {
		return 0, fmt.Errorf("channel must be between 1 and %d", protocol.NumChannels)
	}
	return channel, nil
}

// parseWriteQuery validates the channels CSV and state query parameters; bad
// input never reaches the dispatcher.
func parseWriteQuery(c *gin.Context) ([]int, bool, error) {
	rawChannels := c.Query("channels")
	if rawChannels == "" {
		return nil, false, fmt.Errorf("missing channels parameter")
	}

	parts := strings.Split(rawChannels, ",")
	channels := make([]int, 0, len(parts))
	for _, part := range parts {
		channel, err := parseChannelParam(strings.TrimSpace(part))
		if err != nil {
			return nil, false, err
		}
		channels = append(channels, channel)
	}

	switch c.Query("state") {
	case "0":
		return channels, false, nil
	case "1":
		return channels, true, nil
	default:
		return nil, false, fmt.Errorf("state must be 0 or 1")
	}
}

func stateInt(state bool) int {
	if state {
		return 1
	}
	return 0
}
