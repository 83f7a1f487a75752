package types

// API error codes surfaced to clients.
const (
	CodeValidation = "validation_error"
	CodeNoDevice   = "no_device"
	CodeDeviceLost = "device_lost"
	CodeTimeout    = "timeout"
	CodeNotFound   = "not_found"
	CodeInternal   = "internal_error"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
