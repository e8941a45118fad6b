package realtime

import "errors"

var (
	ErrConnectionClosed  = errors.New("connection closed")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrSlowConsumer      = errors.New("connection send buffer full")
)
