package worker

import "errors"

var (
	ErrHalted        = errors.New("modem halted after SIM failure")
	ErrStopped       = errors.New("modem worker stopped")
	ErrBusy          = errors.New("modem busy")
	ErrInvalidConfig = errors.New("invalid modem configuration")
	ErrNotFound      = errors.New("modem not found")
	ErrExists        = errors.New("modem already managed")
	ErrDuplicate     = errors.New("SIM already managed on another port")
)
