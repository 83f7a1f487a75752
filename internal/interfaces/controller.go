package interfaces

import (
	"context"

	"github.com/popy1987/smart-usbhub-server/internal/hub"
)

// Controller is the operation surface the request router uses. The router must
// never reach the device connection directly; the dispatcher implements this.
type Controller interface {
	DeviceInfo(ctx context.Context) (*hub.Device, error)
	PowerStatus(ctx context.Context, channel int) (bool, error)
	SetPower(ctx context.Context, channels []int, state bool) error
	DatalineStatus(ctx context.Context, channel int) (bool, error)
	SetDataline(ctx context.Context, channels []int, state bool) error
	LinkState() hub.LinkState
}
