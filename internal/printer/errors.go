package printer

import "errors"

var (
	// No advertising device matched the name prefix
	ErrDiscovery              = errors.New("printer not found")
	ErrConnectTimeout         = errors.New("printer connection timed out")
	ErrConnect                = errors.New("couldn't connect to printer")
	ErrCharacteristicNotFound = errors.New("characteristic not found")
	ErrWriteTimeout           = errors.New("write timed out")
	ErrWriteFailure           = errors.New("write failed")
	// The raster for a job couldn't be produced
	ErrRender      = errors.New("couldn't render job")
	ErrFrameBounds = errors.New("frame out of bounds")

	ErrLinkFaulted      = errors.New("printer link is faulted")
	ErrReconnectPending = errors.New("printer reconnect in progress")
	ErrQueueFull        = errors.New("print queue is full")
	ErrQueueClosed      = errors.New("print queue is closed")
)
