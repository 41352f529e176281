package http

const (
	ErrInvalidJsonPayload = "invalid JSON payload"
	ErrInternalServer     = "internal server error"
)
