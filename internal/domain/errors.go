package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrNoToken           = errors.New("no valid session token")
	ErrNoOrderID         = errors.New("broker returned no order id")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotConnected      = errors.New("feed not connected")
	ErrWSDisconnect      = errors.New("websocket disconnected")
)
